package provider

import (
	"context"

	"github.com/rigado/fastpair"
)

const workerDepth = 64

type task struct {
	desc    string
	fn      func(ctx context.Context) error
	onError func(err error)
}

// worker runs side effects strictly in the order they were queued so that
// a handshake response always reaches the seeker before bonding starts.
type worker struct {
	tasks  chan task
	logger fastpair.Logger
}

func newWorker(logger fastpair.Logger) *worker {
	return &worker{
		tasks:  make(chan task, workerDepth),
		logger: logger,
	}
}

func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.tasks:
			if err := t.fn(ctx); err != nil {
				w.logger.Errorf("%v: %v", t.desc, err)
				if t.onError != nil {
					t.onError(err)
				}
			}
		}
	}
}

func (w *worker) enqueue(ctx context.Context, t task) error {
	select {
	case w.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
