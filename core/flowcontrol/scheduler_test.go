package flowcontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticemw/rtpscore/guid"
)

func testGUID(b byte) guid.GUID {
	var g guid.GUID
	g[0] = b
	return g
}

func noopItem(w guid.GUID, priority int32, bytes int) *Item {
	return &Item{
		WriterGUID: w,
		Priority:   priority,
		Bytes:      bytes,
		Deliver:    func(time.Time) DeliveryResult { return Delivered },
	}
}

func TestFIFOOrder(t *testing.T) {
	s := NewScheduler(FIFO, nil)
	a, b, c := noopItem(testGUID(1), 0, 0), noopItem(testGUID(2), 0, 0), noopItem(testGUID(3), 0, 0)
	s.Push(a)
	s.Push(b)
	s.Push(c)

	for _, want := range []*Item{a, b, c} {
		got, ok := s.Pop()
		require.True(t, ok)
		require.Same(t, want, got)
	}
	_, ok := s.Pop()
	require.False(t, ok)
}

func TestRemoveUnlinksMidQueue(t *testing.T) {
	s := NewScheduler(FIFO, nil)
	a, b, c := noopItem(testGUID(1), 0, 0), noopItem(testGUID(2), 0, 0), noopItem(testGUID(3), 0, 0)
	s.Push(a)
	s.Push(b)
	s.Push(c)

	require.True(t, s.Remove(b))
	require.False(t, b.Enqueued())
	require.False(t, s.Remove(b), "double remove is a no-op")

	got, ok := s.Pop()
	require.True(t, ok)
	require.Same(t, a, got)
	got, ok = s.Pop()
	require.True(t, ok)
	require.Same(t, c, got)
}

func TestRoundRobinAlternatesWriters(t *testing.T) {
	s := NewScheduler(RoundRobin, nil)
	w1, w2 := testGUID(1), testGUID(2)
	a1 := noopItem(w1, 0, 0)
	a2 := noopItem(w1, 0, 0)
	b1 := noopItem(w2, 0, 0)
	s.Push(a1)
	s.Push(a2)
	s.Push(b1)

	got, _ := s.Pop()
	require.Equal(t, w1, got.WriterGUID)
	got, _ = s.Pop()
	require.Equal(t, w2, got.WriterGUID, "should not serve w1 twice in a row while w2 has pending work")
}

func TestHighPriorityPopsHighestFirst(t *testing.T) {
	s := NewScheduler(HighPriority, nil)
	low := noopItem(testGUID(1), 1, 0)
	high := noopItem(testGUID(2), 9, 0)
	mid := noopItem(testGUID(3), 5, 0)
	s.Push(low)
	s.Push(high)
	s.Push(mid)

	got, _ := s.Pop()
	require.Same(t, high, got)
	got, _ = s.Pop()
	require.Same(t, mid, got)
	got, _ = s.Pop()
	require.Same(t, low, got)
}

func TestPriorityWithReservationHonorsReservedBudget(t *testing.T) {
	w1, w2 := testGUID(1), testGUID(2)
	s := NewScheduler(PriorityWithReservation, []Reservation{{WriterGUID: w1, MinBytesPerPeriod: 100}})

	lowPriorityReserved := noopItem(w1, 1, 50)
	highPriorityUnreserved := noopItem(w2, 9, 50)
	s.Push(highPriorityUnreserved)
	s.Push(lowPriorityReserved)

	got, _ := s.Pop()
	require.Same(t, lowPriorityReserved, got, "reserved writer served despite lower priority")

	got, _ = s.Pop()
	require.Same(t, highPriorityUnreserved, got)
}
