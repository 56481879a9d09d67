// Package worker provides the cooperative-shutdown goroutine helper used
// throughout this module: every long-lived goroutine is started with Go
// and watches HaltCh for the signal to return.
package worker

import "sync"

// Worker is an embeddable helper that gives a struct a HaltCh/Halt/Go/Wait
// goroutine lifecycle without each owner re-implementing the same
// sync.Once/WaitGroup bookkeeping.
type Worker struct {
	sync.WaitGroup

	haltOnce   sync.Once
	haltedCh   chan struct{}
	initWorker sync.Once
}

func (w *Worker) init() {
	w.initWorker.Do(func() {
		w.haltedCh = make(chan struct{})
	})
}

// HaltCh returns the channel that is closed when Halt is called.
func (w *Worker) HaltCh() <-chan struct{} {
	w.init()
	return w.haltedCh
}

// Go starts fn in a goroutine tracked by the embedded WaitGroup, so that
// Wait (or Halt followed by Wait) can block until fn returns.
func (w *Worker) Go(fn func()) {
	w.init()
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt closes HaltCh exactly once. It does not block until goroutines
// started with Go have returned; call Wait for that.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltedCh)
	})
}

// IsHalted reports whether Halt has been called.
func (w *Worker) IsHalted() bool {
	w.init()
	select {
	case <-w.haltedCh:
		return true
	default:
		return false
	}
}
