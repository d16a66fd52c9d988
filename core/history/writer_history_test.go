package history

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticemw/rtpscore/core/cache"
	"github.com/latticemw/rtpscore/core/instance"
	"github.com/latticemw/rtpscore/core/qos"
)

func TestWriterHistoryAssignsIncreasingSN(t *testing.T) {
	wh := NewWriterHistory(qos.HistoryQoS{Kind: qos.KeepAll, MaxSamples: 100}, nil)
	w := testWriter(1)

	c1, evicted := wh.Add(w, cache.Alive, instance.Handle{}, []byte("a"))
	require.Nil(t, evicted)
	require.EqualValues(t, 1, c1.SequenceNumber)

	c2, evicted := wh.Add(w, cache.Alive, instance.Handle{}, []byte("b"))
	require.Nil(t, evicted)
	require.EqualValues(t, 2, c2.SequenceNumber)

	require.EqualValues(t, 2, wh.MaxSequenceNumber())
	require.EqualValues(t, 1, wh.MinSequenceNumber())
}

func TestWriterHistoryKeepLastEvicts(t *testing.T) {
	wh := NewWriterHistory(qos.HistoryQoS{Kind: qos.KeepLast, Depth: 1, MaxSamples: 100}, nil)
	w := testWriter(1)

	c1, evicted := wh.Add(w, cache.Alive, instance.Handle{}, nil)
	require.Nil(t, evicted)

	c2, evicted := wh.Add(w, cache.Alive, instance.Handle{}, nil)
	require.Equal(t, c1, evicted)
	require.NotNil(t, c2)

	require.Nil(t, wh.Find(c1.SequenceNumber))
	require.Equal(t, c2, wh.Find(c2.SequenceNumber))
}

func TestWriterHistoryKeepLastPerInstance(t *testing.T) {
	wh := NewWriterHistory(qos.HistoryQoS{Kind: qos.KeepLast, Depth: 1, MaxSamples: 100}, nil)
	w := testWriter(1)
	var ih1, ih2 instance.Handle
	ih1[0] = 1
	ih2[0] = 2

	c1, evicted := wh.Add(w, cache.Alive, ih1, nil)
	require.Nil(t, evicted)
	c2, evicted := wh.Add(w, cache.Alive, ih2, nil)
	require.Nil(t, evicted, "distinct instances do not compete for depth")
	require.NotNil(t, c1)
	require.NotNil(t, c2)
}

func TestWriterHistoryIterateOrder(t *testing.T) {
	wh := NewWriterHistory(qos.HistoryQoS{Kind: qos.KeepAll, MaxSamples: 100}, nil)
	w := testWriter(1)
	wh.Add(w, cache.Alive, instance.Handle{}, nil)
	wh.Add(w, cache.Alive, instance.Handle{}, nil)
	wh.Add(w, cache.Alive, instance.Handle{}, nil)

	var seen []uint64
	wh.Iterate(func(c *cache.Cache) bool {
		seen = append(seen, uint64(c.SequenceNumber))
		return true
	})
	require.Equal(t, []uint64{1, 2, 3}, seen)
}

func TestWriterHistoryRemove(t *testing.T) {
	wh := NewWriterHistory(qos.HistoryQoS{Kind: qos.KeepAll, MaxSamples: 100}, nil)
	w := testWriter(1)
	c1, _ := wh.Add(w, cache.Alive, instance.Handle{}, nil)

	wh.Remove(c1.SequenceNumber)
	require.Nil(t, wh.Find(c1.SequenceNumber))
	require.Equal(t, 0, wh.Stats().TotalSamples)
}
