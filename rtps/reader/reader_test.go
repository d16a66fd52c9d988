package reader

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticemw/rtpscore/core/cache"
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

type recordingListener struct {
	mu        sync.Mutex
	available []seqnum.SequenceNumber
	rejected  []cache.RejectionReason
	lost      []int
	liveness  []bool
	matched   []bool
}

func (l *recordingListener) OnDataAvailable(_ guid.GUID, first, last seqnum.SequenceNumber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sn := first; sn <= last; sn++ {
		l.available = append(l.available, sn)
	}
}

func (l *recordingListener) OnSampleRejected(_ guid.GUID, _ seqnum.SequenceNumber, reason cache.RejectionReason) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejected = append(l.rejected, reason)
}

func (l *recordingListener) OnSampleLost(_ guid.GUID, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lost = append(l.lost, count)
}

func (l *recordingListener) OnRequestedIncompatibleQoS(qos.QoSMask) {}

func (l *recordingListener) OnLivelinessChanged(_ guid.GUID, alive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.liveness = append(l.liveness, alive)
}

func (l *recordingListener) OnSubscriptionMatched(_ guid.GUID, matched bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.matched = append(l.matched, matched)
}

func (l *recordingListener) snapshot() []seqnum.SequenceNumber {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]seqnum.SequenceNumber, len(l.available))
	copy(out, l.available)
	return out
}

type recordingSender struct {
	mu       sync.Mutex
	ackNacks []wire.AckNack
}

func (s *recordingSender) SendAckNack(_ guid.GUID, msg wire.AckNack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackNacks = append(s.ackNacks, msg)
}

func (s *recordingSender) SendNackFrag(guid.GUID, wire.NackFrag) {}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ackNacks)
}

func newTestReader(listener Listener, sender Sender) *StatefulReader {
	q := qos.Default()
	q.Reliability.Kind = qos.Reliable
	q.History.Kind = qos.KeepAll
	return New(testGUID(0xAA), qos.NoKey, q, nil, sender, listener, nil)
}

func newTestBestEffortReader(listener Listener, sender Sender) *StatefulReader {
	q := qos.Default()
	q.Reliability.Kind = qos.BestEffort
	q.History.Kind = qos.KeepAll
	return New(testGUID(0xAB), qos.NoKey, q, nil, sender, listener, nil)
}

func TestProcessDataInOrderNotifiesImmediately(t *testing.T) {
	l := &recordingListener{}
	r := newTestReader(l, nil)
	defer r.Stop()
	writer := testGUID(1)
	r.MatchedWriterAdd(writer, qos.Automatic, time.Minute)

	r.ProcessData(writer, cache.New(writer, 1, cache.Alive, instance.Handle{}, []byte("a")))
	r.ProcessData(writer, cache.New(writer, 2, cache.Alive, instance.Handle{}, []byte("b")))

	require.Equal(t, []seqnum.SequenceNumber{1, 2}, l.snapshot())
}

func TestProcessDataOutOfOrderHoldsUntilGapFilled(t *testing.T) {
	l := &recordingListener{}
	r := newTestReader(l, nil)
	defer r.Stop()
	writer := testGUID(1)
	r.MatchedWriterAdd(writer, qos.Automatic, time.Minute)

	r.ProcessData(writer, cache.New(writer, 2, cache.Alive, instance.Handle{}, []byte("b")))
	require.Empty(t, l.snapshot(), "sn 2 arrived before sn 1, must not notify yet")

	r.ProcessData(writer, cache.New(writer, 1, cache.Alive, instance.Handle{}, []byte("a")))
	require.Equal(t, []seqnum.SequenceNumber{1, 2}, l.snapshot())
}

func TestProcessGapMarksIrrelevantAndUnblocksNotify(t *testing.T) {
	l := &recordingListener{}
	r := newTestReader(l, nil)
	defer r.Stop()
	writer := testGUID(1)
	r.MatchedWriterAdd(writer, qos.Automatic, time.Minute)

	r.ProcessData(writer, cache.New(writer, 2, cache.Alive, instance.Handle{}, []byte("b")))
	require.Empty(t, l.snapshot())

	set := seqnum.NewSet(2)
	r.ProcessGap(writer, 1, set)
	require.Equal(t, []seqnum.SequenceNumber{2}, l.snapshot())
}

func TestMatchedWriterRemoveDiscardsCaches(t *testing.T) {
	l := &recordingListener{}
	r := newTestReader(l, nil)
	defer r.Stop()
	writer := testGUID(1)
	r.MatchedWriterAdd(writer, qos.Automatic, time.Minute)
	r.ProcessData(writer, cache.New(writer, 1, cache.Alive, instance.Handle{}, []byte("a")))

	r.MatchedWriterRemove(writer)
	require.Equal(t, []bool{true, false}, l.matched)

	found := false
	r.history.Iterate(func(c *cache.Cache) bool {
		found = true
		return true
	})
	require.False(t, found, "caches from an unmatched writer must be discarded (I8)")
}

func TestProcessHeartbeatSchedulesAckNack(t *testing.T) {
	l := &recordingListener{}
	s := &recordingSender{}
	r := newTestReader(l, s)
	defer r.Stop()
	writer := testGUID(1)
	r.MatchedWriterAdd(writer, qos.Automatic, time.Minute)

	r.ProcessHeartbeat(writer, 1, 1, 5, false)

	require.Eventually(t, func() bool {
		return s.count() >= 1
	}, time.Second, time.Millisecond)
}

func TestProcessDataFragAssemblesBeforeAdmission(t *testing.T) {
	l := &recordingListener{}
	r := newTestReader(l, nil)
	defer r.Stop()
	writer := testGUID(1)
	r.MatchedWriterAdd(writer, qos.Automatic, time.Minute)

	payload := []byte("hello world!!!!!")
	r.ProcessDataFrag(writer, 1, cache.Alive, instance.Handle{}, uint32(len(payload)), 1, 1, 8, payload[0:8])
	require.Empty(t, l.snapshot(), "incomplete fragment set must not notify")

	r.ProcessDataFrag(writer, 1, cache.Alive, instance.Handle{}, uint32(len(payload)), 2, 1, 8, payload[8:16])
	require.Equal(t, []seqnum.SequenceNumber{1}, l.snapshot())
}

func TestProcessHeartbeatReportsLostSamples(t *testing.T) {
	l := &recordingListener{}
	s := &recordingSender{}
	r := newTestReader(l, s)
	defer r.Stop()
	writer := testGUID(1)
	r.MatchedWriterAdd(writer, qos.Automatic, time.Minute)

	r.ProcessHeartbeat(writer, 1, 1, 5, false)
	r.ProcessHeartbeat(writer, 2, 3, 5, true)

	require.Equal(t, []int{2}, l.lost, "SN 1, 2 declared gone by the writer's new FirstSN")
}

func TestProcessDataBestEffortReportsLostOnGap(t *testing.T) {
	l := &recordingListener{}
	r := newTestBestEffortReader(l, nil)
	defer r.Stop()
	writer := testGUID(1)
	r.MatchedWriterAdd(writer, qos.Automatic, time.Minute)

	r.ProcessData(writer, cache.New(writer, 1, cache.Alive, instance.Handle{}, []byte("a")))
	require.Empty(t, l.lost)

	r.ProcessData(writer, cache.New(writer, 4, cache.Alive, instance.Handle{}, []byte("d")))
	require.Equal(t, []int{2}, l.lost, "best-effort SN 2,3 will never be retransmitted")
}

func TestCheckLivelinessFiresOnExpiry(t *testing.T) {
	l := &recordingListener{}
	r := newTestReader(l, nil)
	defer r.Stop()
	writer := testGUID(1)
	r.MatchedWriterAdd(writer, qos.Automatic, time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	r.CheckLiveliness(time.Now())

	require.Equal(t, []bool{false}, l.liveness)
}
