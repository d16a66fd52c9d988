package writer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticemw/rtpscore/core/cache"
	"github.com/latticemw/rtpscore/core/flowcontrol"
	"github.com/latticemw/rtpscore/core/instance"
	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/core/seqnum"
	"github.com/latticemw/rtpscore/core/wire"
	"github.com/latticemw/rtpscore/guid"
)

func testGUID(b byte) guid.GUID {
	var g guid.GUID
	g[0] = b
	return g
}

type recordingSender struct {
	mu         sync.Mutex
	data       []wire.Data
	heartbeats []wire.Heartbeat
	gaps       []wire.Gap
}

func (s *recordingSender) SendData(_ guid.GUID, msg wire.Data) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, msg)
}

func (s *recordingSender) SendHeartbeat(_ guid.GUID, msg wire.Heartbeat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats = append(s.heartbeats, msg)
}

func (s *recordingSender) SendGap(_ guid.GUID, msg wire.Gap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gaps = append(s.gaps, msg)
}

func (s *recordingSender) dataCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func newTestWriter(sender Sender) *StatefulWriter {
	q := qos.Default()
	q.Reliability.Kind = qos.Reliable
	q.Reliability.HeartbeatPeriod = 0 // tests drive heartbeat explicitly
	q.History.Kind = qos.KeepLast
	q.History.Depth = 2
	return New(testGUID(0xBB), qos.NoKey, q, nil, nil, sender, nil, nil)
}

func TestNewChangeAssignsIncreasingSN(t *testing.T) {
	w := newTestWriter(nil)
	defer w.Stop()
	c1, gap1 := w.NewChange(cache.Alive, instance.Handle{}, []byte("a"))
	c2, gap2 := w.NewChange(cache.Alive, instance.Handle{}, []byte("b"))
	require.Nil(t, gap1)
	require.Nil(t, gap2)
	require.EqualValues(t, 1, c1.SequenceNumber)
	require.EqualValues(t, 2, c2.SequenceNumber)
}

func TestAddChangeDeliversToMatchedReaders(t *testing.T) {
	s := &recordingSender{}
	w := newTestWriter(s)
	defer w.Stop()
	reader := testGUID(1)
	w.MatchedReaderAdd(reader, false, qos.Automatic, time.Minute)

	c, gap := w.NewChange(cache.Alive, instance.Handle{}, []byte("hello"))
	w.AddChange(c, gap)

	require.Equal(t, 1, s.dataCount())
	require.Equal(t, []byte("hello"), s.data[0].Payload)
}

func TestKeepLastEvictionSendsGap(t *testing.T) {
	s := &recordingSender{}
	w := newTestWriter(s)
	defer w.Stop()
	reader := testGUID(1)
	w.MatchedReaderAdd(reader, false, qos.Automatic, time.Minute)

	var ih instance.Handle
	ih[0] = 7
	for i := 0; i < 3; i++ {
		c, gap := w.NewChange(cache.Alive, ih, []byte("x"))
		w.AddChange(c, gap)
	}

	require.Len(t, s.gaps, 1, "third change in a depth-2 instance must evict and GAP the first")
	require.EqualValues(t, 1, s.gaps[0].GapStart)
}

func TestOnAckNackQueuesRetransmission(t *testing.T) {
	s := &recordingSender{}
	w := newTestWriter(s)
	defer w.Stop()
	reader := testGUID(1)
	w.MatchedReaderAdd(reader, false, qos.Automatic, time.Minute)

	c, gap := w.NewChange(cache.Alive, instance.Handle{}, []byte("x"))
	w.AddChange(c, gap)
	require.Equal(t, 1, s.dataCount())

	set := seqnum.NewSet(1)
	set.Add(1)
	w.OnAckNack(reader, 1, set, 1)

	require.Equal(t, 2, s.dataCount(), "a NACKed sample must be resent")
}

func TestRemoveChangeBlocksOnUnackedReliableReader(t *testing.T) {
	w := newTestWriter(nil)
	defer w.Stop()
	reader := testGUID(1)
	w.MatchedReaderAdd(reader, false, qos.Automatic, time.Minute)

	c, gap := w.NewChange(cache.Alive, instance.Handle{}, []byte("x"))
	w.AddChange(c, gap)

	require.False(t, w.RemoveChange(c.SequenceNumber))

	set := seqnum.NewSet(2)
	w.OnAckNack(reader, 2, set, 1)
	require.True(t, w.RemoveChange(c.SequenceNumber))
}

func TestRemoveChangeUnlinksPendingFlowControlItem(t *testing.T) {
	s := &recordingSender{}
	flow := flowcontrol.NewController(flowcontrol.FIFO, flowcontrol.LimitedAsync, nil, 0, time.Second, nil)
	q := qos.Default()
	q.Reliability.Kind = qos.Reliable
	q.Reliability.HeartbeatPeriod = 0
	q.History.Kind = qos.KeepAll
	w := New(testGUID(0xDD), qos.NoKey, q, nil, flow, s, nil, nil)
	defer w.Stop()
	reader := testGUID(1)
	w.MatchedReaderAdd(reader, false, qos.Automatic, time.Minute)

	c, gap := w.NewChange(cache.Alive, instance.Handle{}, []byte("x"))
	w.AddChange(c, gap)
	require.Equal(t, 0, s.dataCount(), "LimitedAsync queues rather than delivering synchronously")

	set := seqnum.NewSet(2)
	w.OnAckNack(reader, 2, set, 1)
	require.True(t, w.RemoveChange(c.SequenceNumber), "no readers are owed a resend, so the change is acked")

	flow.Start()
	defer flow.Stop()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, s.dataCount(), "a removed change must not be delivered from the flow-controller queue")
}

func TestCheckLivelinessFiresOnceReaderLeaseExpires(t *testing.T) {
	var lost []guid.GUID
	var mu sync.Mutex
	listener := &funcListener{onLost: func(r guid.GUID) {
		mu.Lock()
		defer mu.Unlock()
		lost = append(lost, r)
	}}
	q := qos.Default()
	w := New(testGUID(0xCC), qos.NoKey, q, nil, nil, nil, listener, nil)
	defer w.Stop()

	reader := testGUID(1)
	w.MatchedReaderAdd(reader, false, qos.Automatic, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	w.CheckLiveliness(time.Now())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []guid.GUID{reader}, lost)
}

type funcListener struct {
	onLost func(guid.GUID)
}

func (f *funcListener) OnPublicationMatched(guid.GUID, bool)    {}
func (f *funcListener) OnOfferedIncompatibleQoS(qos.QoSMask)    {}
func (f *funcListener) OnLivelinessLost(r guid.GUID)            { f.onLost(r) }
