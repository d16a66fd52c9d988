// Package worker provides the cooperative-halt goroutine helper embedded by
// the components in this module that run goroutines (the flow controller
// and the timer queue; endpoints reach it through their TimerQueue).
// Generalized from the teacher's own
// core/worker package, whose Worker/Go/HaltCh/Halt/Wait contract is used
// throughout its client2, stream, and server/cborplugin packages.
package worker

import "sync"

// Worker embeds a WaitGroup and a single close-once halt channel so that
// an object can fan out any number of goroutines and later ask them all to
// stop and wait for them to actually exit, without the caller needing to
// plumb its own context/wg pair through every layer.
type Worker struct {
	wg sync.WaitGroup

	initOnce sync.Once
	haltOnce sync.Once
	haltCh   chan interface{}
}

func (w *Worker) initChannel() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan interface{})
	})
}

// Go starts fn in a new goroutine tracked by the Worker's WaitGroup.
func (w *Worker) Go(fn func()) {
	w.initChannel()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// HaltCh returns the channel that is closed when Halt is called. Goroutines
// started via Go should select on this to know when to return.
func (w *Worker) HaltCh() chan interface{} {
	w.initChannel()
	return w.haltCh
}

// Halt requests that all goroutines started via Go terminate. It does not
// block; call Wait afterwards to block until they have actually exited.
// Halt is idempotent.
func (w *Worker) Halt() {
	w.initChannel()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
}

// Wait blocks until every goroutine started via Go has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}
