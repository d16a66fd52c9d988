package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/core/seqnum"
	"github.com/latticemw/rtpscore/guid"
)

func testGUID(b byte) guid.GUID {
	var g guid.GUID
	g[0] = b
	return g
}

func TestWriterProxyStart(t *testing.T) {
	p := NewWriterProxy(testGUID(1), qos.Automatic, time.Second)
	p.Start(5)
	require.EqualValues(t, 5, p.AvailableMax())
	require.EqualValues(t, 5, p.HighestKnown())
}

func TestProcessHeartbeatAdvancesAndSchedules(t *testing.T) {
	p := NewWriterProxy(testGUID(1), qos.Automatic, time.Second)
	p.Start(0)

	// The proxy is already alive after Start, so this heartbeat is not a
	// not-alive to alive transition.
	asserted, lost, schedule := p.ProcessHeartbeat(1, 1, 5, false)
	require.False(t, asserted)
	require.Equal(t, 0, lost)
	require.True(t, schedule)

	missing := p.MissingChanges()
	require.Equal(t, []seqnum.SequenceNumber{1, 2, 3, 4, 5}, missing)
}

func TestProcessHeartbeatDropsStale(t *testing.T) {
	p := NewWriterProxy(testGUID(1), qos.Automatic, time.Second)
	p.Start(0)
	p.ProcessHeartbeat(2, 1, 5, false)

	_, _, schedule := p.ProcessHeartbeat(1, 1, 10, false)
	require.False(t, schedule)
	require.EqualValues(t, 5, p.HighestKnown())
}

func TestProcessHeartbeatLostCount(t *testing.T) {
	p := NewWriterProxy(testGUID(1), qos.Automatic, time.Second)
	p.Start(0)
	p.ProcessHeartbeat(1, 1, 5, false)

	_, lost, _ := p.ProcessHeartbeat(2, 3, 5, true)
	require.Equal(t, 2, lost) // SN 1, 2 declared lost
}

func TestReceivedChangeSetAdvancesAvailableMax(t *testing.T) {
	p := NewWriterProxy(testGUID(1), qos.Automatic, time.Second)
	p.Start(0)
	p.ProcessHeartbeat(1, 1, 3, true)

	p.ReceivedChangeSet(1)
	require.EqualValues(t, 1, p.AvailableMax())
	p.ReceivedChangeSet(3)
	require.EqualValues(t, 1, p.AvailableMax(), "gap at 2 still blocks")
	p.ReceivedChangeSet(2)
	require.EqualValues(t, 3, p.AvailableMax())
}

func TestNextCacheChangeToBeNotified(t *testing.T) {
	p := NewWriterProxy(testGUID(1), qos.Automatic, time.Second)
	p.Start(0)
	p.ProcessHeartbeat(1, 1, 3, true)
	p.ReceivedChangeSet(1)
	p.ReceivedChangeSet(2)

	sn, ok := p.NextCacheChangeToBeNotified()
	require.True(t, ok)
	require.EqualValues(t, 1, sn)

	p.AdvanceNotified(1)
	sn, ok = p.NextCacheChangeToBeNotified()
	require.True(t, ok)
	require.EqualValues(t, 2, sn)

	p.AdvanceNotified(2)
	_, ok = p.NextCacheChangeToBeNotified()
	require.False(t, ok)
}

func TestUnknownMissingChangesUpTo(t *testing.T) {
	p := NewWriterProxy(testGUID(1), qos.Automatic, time.Second)
	p.Start(0)
	require.Equal(t, 4, p.UnknownMissingChangesUpTo(5))
}

func TestCheckLivelinessExpires(t *testing.T) {
	p := NewWriterProxy(testGUID(1), qos.Automatic, time.Millisecond)
	p.Start(0)
	time.Sleep(5 * time.Millisecond)
	require.True(t, p.CheckLiveliness(time.Now()))
	require.False(t, p.Alive())

	asserted := p.Touch()
	require.True(t, asserted)
	require.True(t, p.Alive())
}
