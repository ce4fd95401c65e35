package provider

import (
	"sync"
	"time"
)

// scanModeScheduler reverts discoverability after a delay. Scheduling
// again or cancelling invalidates the pending revert, including one whose
// timer already fired but has not been handled yet.
type scanModeScheduler struct {
	lock       sync.Mutex
	delay      time.Duration
	timer      *time.Timer
	generation uint64
	fire       func(generation uint64)
}

func newScanModeScheduler(delay time.Duration, fire func(generation uint64)) *scanModeScheduler {
	return &scanModeScheduler{delay: delay, fire: fire}
}

func (s *scanModeScheduler) schedule() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.stop()
	g := s.generation
	s.timer = time.AfterFunc(s.delay, func() { s.fire(g) })
}

func (s *scanModeScheduler) cancel() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stop()
}

// current reports whether g is the revert that is still wanted.
func (s *scanModeScheduler) current(g uint64) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.timer != nil && g == s.generation
}

func (s *scanModeScheduler) stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
}
