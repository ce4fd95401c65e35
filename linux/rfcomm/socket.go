//go:build linux
// +build linux

package rfcomm

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"golang.org/x/sys/unix"
)

const (
	pollTimeout    = 500
	unixPollErrors = int16(unix.POLLHUP | unix.POLLNVAL | unix.POLLERR)
	unixPollDataIn = int16(unix.POLLIN)
)

// Handler serves one accepted connection. The connection is closed when it
// returns.
type Handler func(ctx context.Context, conn io.ReadWriteCloser, peer fastpair.Addr) error

// Listener is an RFCOMM server socket.
type Listener struct {
	fd      int
	channel uint8
	logger  fastpair.Logger

	done chan struct{}
	cmu  sync.Mutex
}

// Listen binds an RFCOMM server socket on the adapter with address local;
// the zero address binds any adapter.
func Listen(local fastpair.Addr, channel uint8) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, errors.Wrap(err, "can't create rfcomm socket")
	}

	sa := &unix.SockaddrRFCOMM{Addr: bdaddr(local), Channel: channel}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "can't bind rfcomm channel %d", channel)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't listen on rfcomm socket")
	}

	return &Listener{
		fd:      fd,
		channel: channel,
		done:    make(chan struct{}),
		logger:  fastpair.Component("rfcomm").ChildLogger(map[string]interface{}{"channel": channel}),
	}, nil
}

// Accept waits for the next connection. It returns io.EOF once the listener
// is closed.
func (l *Listener) Accept() (*Conn, fastpair.Addr, error) {
	for {
		if !isOpen(l.done) {
			return nil, fastpair.Addr{}, io.EOF
		}

		pfds := []unix.PollFd{{Fd: int32(l.fd), Events: unixPollDataIn}}
		if _, err := unix.Poll(pfds, pollTimeout); err != nil && err != unix.EINTR {
			return nil, fastpair.Addr{}, errors.Wrap(err, "can't poll rfcomm socket")
		}
		evts := pfds[0].Revents

		switch {
		case evts&unixPollErrors != 0:
			return nil, fastpair.Addr{}, io.EOF
		case evts&unixPollDataIn == 0:
			continue
		}

		nfd, sa, err := unix.Accept(l.fd)
		if err != nil {
			return nil, fastpair.Addr{}, errors.Wrap(err, "can't accept rfcomm connection")
		}

		var peer fastpair.Addr
		if rsa, ok := sa.(*unix.SockaddrRFCOMM); ok {
			peer = addrFromBdaddr(rsa.Addr)
		}
		return &Conn{fd: nfd, done: make(chan struct{})}, peer, nil
	}
}

// Serve accepts connections until ctx ends, running h for each one on its
// own goroutine.
func (l *Listener) Serve(ctx context.Context, h Handler) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, peer, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		l.logger.Infof("connection from %v", peer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			if err := h(ctx, conn, peer); err != nil && ctx.Err() == nil {
				l.logger.Warnf("connection from %v: %v", peer, err)
			}
			l.logger.Infof("%v disconnected", peer)
		}()
	}
}

func (l *Listener) Close() error {
	l.cmu.Lock()
	defer l.cmu.Unlock()

	if !isOpen(l.done) {
		return nil
	}
	close(l.done)
	return errors.Wrap(unix.Close(l.fd), "can't close rfcomm socket")
}

// Conn is an accepted RFCOMM connection.
type Conn struct {
	fd   int
	rmu  sync.Mutex
	wmu  sync.Mutex
	done chan struct{}
	cmu  sync.Mutex
}

// Read polls so that Close can interrupt it; a poll timeout returns (0, nil).
func (c *Conn) Read(p []byte) (int, error) {
	if !isOpen(c.done) {
		return 0, io.EOF
	}

	c.rmu.Lock()
	defer c.rmu.Unlock()

	pfds := []unix.PollFd{{Fd: int32(c.fd), Events: unixPollDataIn}}
	unix.Poll(pfds, pollTimeout)
	evts := pfds[0].Revents

	var n int
	var err error
	switch {
	case evts&unixPollErrors != 0:
		return 0, io.EOF
	case evts&unixPollDataIn != 0:
		n, err = unix.Read(c.fd, p)
	default:
		return 0, nil
	}

	if !isOpen(c.done) {
		return 0, io.EOF
	}
	if err == nil && n == 0 {
		return 0, io.EOF
	}
	return n, errors.Wrap(err, "can't read rfcomm socket")
}

func (c *Conn) Write(p []byte) (int, error) {
	if !isOpen(c.done) {
		return 0, io.EOF
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	n, err := unix.Write(c.fd, p)
	return n, errors.Wrap(err, "can't write rfcomm socket")
}

func (c *Conn) Close() error {
	c.cmu.Lock()
	defer c.cmu.Unlock()

	if !isOpen(c.done) {
		return nil
	}
	close(c.done)

	c.rmu.Lock()
	err := unix.Close(c.fd)
	c.rmu.Unlock()
	return errors.Wrap(err, "can't close rfcomm socket")
}

func isOpen(done chan struct{}) bool {
	select {
	case <-done:
		return false
	default:
		return true
	}
}
