package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoHaltWait(t *testing.T) {
	var w Worker
	var ran int32
	w.Go(func() {
		<-w.HaltCh()
		atomic.AddInt32(&ran, 1)
	})
	w.Halt()
	w.Wait()
	require.EqualValues(t, 1, atomic.LoadInt32(&ran))
}

func TestHaltIdempotent(t *testing.T) {
	var w Worker
	require.NotPanics(t, func() {
		w.Halt()
		w.Halt()
	})
}

func TestMultipleGoroutines(t *testing.T) {
	var w Worker
	var count int32
	for i := 0; i < 8; i++ {
		w.Go(func() {
			select {
			case <-w.HaltCh():
				atomic.AddInt32(&count, 1)
			case <-time.After(5 * time.Second):
			}
		})
	}
	w.Halt()
	w.Wait()
	require.EqualValues(t, 8, atomic.LoadInt32(&count))
}
