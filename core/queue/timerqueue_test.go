package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerQueueFiresInOrder(t *testing.T) {
	var mu sync.Mutex
	var fired []int

	q := NewTimerQueue(func(v interface{}) {
		mu.Lock()
		fired = append(fired, v.(int))
		mu.Unlock()
	})
	q.Start()
	defer func() {
		q.Halt()
		q.Wait()
	}()

	now := uint64(time.Now().UnixNano())
	q.Push(now+int64ToUint64(30*time.Millisecond), 2)
	q.Push(now+int64ToUint64(10*time.Millisecond), 1)
	q.Push(now+int64ToUint64(50*time.Millisecond), 3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, fired)
}

func TestTimerQueuePopCancels(t *testing.T) {
	fireCh := make(chan int, 1)
	q := NewTimerQueue(func(v interface{}) {
		fireCh <- v.(int)
	})
	q.Start()
	defer func() {
		q.Halt()
		q.Wait()
	}()

	now := uint64(time.Now().UnixNano())
	q.Push(now+int64ToUint64(5*time.Millisecond), 1)
	q.Push(now+int64ToUint64(200*time.Millisecond), 2)

	// Let the first entry fire and drain it.
	<-fireCh

	// Cancel the second entry before it fires.
	q.Pop()

	select {
	case v := <-fireCh:
		t.Fatalf("unexpected fire after Pop: %v", v)
	case <-time.After(250 * time.Millisecond):
	}
}

func int64ToUint64(d time.Duration) uint64 {
	return uint64(d)
}
