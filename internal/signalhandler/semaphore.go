package signalhandler

import "time"

// Semaphore is a binary rendezvous primitive. Post never blocks, so it may
// be called from a signal handler.
type Semaphore struct {
	ch chan struct{}
}

func NewSemaphore() *Semaphore {
	return &Semaphore{ch: make(chan struct{}, 1)}
}

func (s *Semaphore) Post() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Post is called.
func (s *Semaphore) Wait() {
	<-s.ch
}

// WaitTimeout blocks until Post is called or d elapses. It reports whether
// the semaphore was posted.
func (s *Semaphore) WaitTimeout(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ch:
		return true
	case <-t.C:
		return false
	}
}

// drain discards a pending post left over by a handler that completed after
// its requester gave up.
func (s *Semaphore) drain() {
	select {
	case <-s.ch:
	default:
	}
}
