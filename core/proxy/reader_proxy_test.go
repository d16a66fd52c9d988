package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/core/seqnum"
)

func TestOnAckNackAdvancesAckedThroughAndRequests(t *testing.T) {
	p := NewReaderProxy(testGUID(2), false, qos.Automatic, time.Second)

	bitmap := seqnum.NewSet(5)
	bitmap.Add(5)
	bitmap.Add(7)

	ok := p.OnAckNack(5, bitmap, 1)
	require.True(t, ok)
	require.EqualValues(t, 4, p.AckedThrough())
	require.Equal(t, []seqnum.SequenceNumber{5, 7}, p.RequestedChanges())
}

func TestOnAckNackDropsStaleCount(t *testing.T) {
	p := NewReaderProxy(testGUID(2), false, qos.Automatic, time.Second)
	p.OnAckNack(5, seqnum.NewSet(5), 3)

	ok := p.OnAckNack(10, seqnum.NewSet(10), 2)
	require.False(t, ok)
	require.EqualValues(t, 4, p.AckedThrough())
}

func TestOnAckNackClearsRequestedBelowBase(t *testing.T) {
	p := NewReaderProxy(testGUID(2), false, qos.Automatic, time.Second)
	b1 := seqnum.NewSet(3)
	b1.Add(3)
	b1.Add(4)
	p.OnAckNack(3, b1, 1)
	require.Equal(t, []seqnum.SequenceNumber{3, 4}, p.RequestedChanges())

	// Reader now reports it has everything through 4: the earlier NACKs
	// for 3 and 4 should clear.
	p.OnAckNack(5, seqnum.NewSet(5), 2)
	require.Empty(t, p.RequestedChanges())
	require.EqualValues(t, 4, p.AckedThrough())
}

func TestOnNackFragQueuesFragments(t *testing.T) {
	p := NewReaderProxy(testGUID(2), false, qos.Automatic, time.Second)
	ok := p.OnNackFrag(10, []uint32{2, 3}, 1)
	require.True(t, ok)

	frags, found := p.RequestedFragments(10)
	require.True(t, found)
	require.Equal(t, []uint32{2, 3}, frags)
	require.Contains(t, p.RequestedChanges(), seqnum.SequenceNumber(10))

	p.ClearRequested(10)
	_, found = p.RequestedFragments(10)
	require.False(t, found)
}

func TestChangeIsAcked(t *testing.T) {
	p := NewReaderProxy(testGUID(2), false, qos.Automatic, time.Second)
	p.OnAckNack(5, seqnum.NewSet(5), 1)
	require.True(t, p.ChangeIsAcked(4))
	require.False(t, p.ChangeIsAcked(5))
}
