// Package reader implements the StatefulReader endpoint (component C4
// reader half, spec.md §4.3): per-matched-writer proxy dispatch, fragment
// reassembly, ACKNACK/NACKFRAG scheduling, and ordered user notification.
package reader

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/latticemw/rtpscore/core/cache"
	"github.com/latticemw/rtpscore/core/history"
	"github.com/latticemw/rtpscore/core/instance"
	"github.com/latticemw/rtpscore/core/proxy"
	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/core/queue"
	"github.com/latticemw/rtpscore/core/seqnum"
	"github.com/latticemw/rtpscore/core/wire"
	"github.com/latticemw/rtpscore/guid"
)

// Sender is the transport contract a StatefulReader needs: sending the two
// submessages it can originate. Only the contract is specified (spec.md §1
// treats transport as an external collaborator).
type Sender interface {
	SendAckNack(writer guid.GUID, msg wire.AckNack)
	SendNackFrag(writer guid.GUID, msg wire.NackFrag)
}

// Listener receives the user-visible callbacks a StatefulReader drives
// (spec.md §4.3, §7).
type Listener interface {
	OnDataAvailable(writer guid.GUID, first, last seqnum.SequenceNumber)
	OnSampleRejected(writer guid.GUID, sn seqnum.SequenceNumber, reason cache.RejectionReason)
	OnSampleLost(writer guid.GUID, count int)
	OnRequestedIncompatibleQoS(mask qos.QoSMask)
	OnLivelinessChanged(writer guid.GUID, alive bool)
	OnSubscriptionMatched(writer guid.GUID, matched bool)
}

// nopListener discards every callback; used when the caller supplies none.
type nopListener struct{}

func (nopListener) OnDataAvailable(guid.GUID, seqnum.SequenceNumber, seqnum.SequenceNumber) {}
func (nopListener) OnSampleRejected(guid.GUID, seqnum.SequenceNumber, cache.RejectionReason) {}
func (nopListener) OnSampleLost(guid.GUID, int)                                              {}
func (nopListener) OnRequestedIncompatibleQoS(qos.QoSMask)                                   {}
func (nopListener) OnLivelinessChanged(guid.GUID, bool)                                      {}
func (nopListener) OnSubscriptionMatched(guid.GUID, bool)                                    {}

// StatefulReader is the reliable/best-effort reader endpoint. It holds one
// WriterProxy per matched writer and drives ACKNACK/NACKFRAG scheduling
// through a shared TimerQueue (teacher: client2/arq.go's single queue
// serving many outstanding retransmit timers).
type StatefulReader struct {
	mu sync.Mutex

	GUID      guid.GUID
	TopicKind qos.TopicKind
	QoS       qos.EndpointQoS

	history *history.ReaderHistory
	proxies map[guid.GUID]*proxy.WriterProxy

	// lastNotified is the "last-notified registry" spec.md §4.3 requires:
	// persisted before the user callback runs, so a crash never re-delivers
	// an already-visible sample, and consulted to baseline a late-matched
	// writer's proxy.
	lastNotified map[guid.GUID]seqnum.SequenceNumber

	sender   Sender
	listener Listener
	timers   *queue.TimerQueue
	log      *log.Logger

	ackNackCount uint32
}

// timerToken is pushed into the shared TimerQueue to identify which
// proxy's heartbeat-response timer fired and at what generation (for
// coalescing: a newer heartbeat supersedes an older pending response).
type timerToken struct {
	writer guid.GUID
	gen    uint64
}

// New constructs a StatefulReader. sender and listener may be nil; a nil
// listener discards every callback.
func New(g guid.GUID, topicKind qos.TopicKind, q qos.EndpointQoS, durable history.DurableStore, sender Sender, listener Listener, logger *log.Logger) *StatefulReader {
	if listener == nil {
		listener = nopListener{}
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &StatefulReader{
		GUID:         g,
		TopicKind:    topicKind,
		QoS:          q,
		history:      history.NewReaderHistory(topicKind, q.History, durable),
		proxies:      make(map[guid.GUID]*proxy.WriterProxy),
		lastNotified: make(map[guid.GUID]seqnum.SequenceNumber),
		sender:       sender,
		listener:     listener,
		log:          logger.WithPrefix("reader:" + g.String()),
	}
	r.timers = queue.NewTimerQueue(r.onTimerFired)
	r.timers.Start()
	return r
}

// Stop drains the reader's timer queue; idempotent.
func (r *StatefulReader) Stop() {
	r.timers.Halt()
	r.timers.Wait()
}

// MatchedWriterAdd pairs a newly matched writer, baselining its proxy from
// the last-notified registry so a re-match after a transient unmatch does
// not re-deliver already-visible samples.
func (r *StatefulReader) MatchedWriterAdd(writer guid.GUID, kind qos.LivelinessKind, lease time.Duration) {
	r.mu.Lock()
	baseline := r.lastNotified[writer]
	p := proxy.NewWriterProxy(writer, kind, lease)
	p.Start(baseline)
	r.proxies[writer] = p
	r.mu.Unlock()

	r.listener.OnSubscriptionMatched(writer, true)
}

// MatchedWriterRemove unpairs writer and discards its caches (invariant I8).
func (r *StatefulReader) MatchedWriterRemove(writer guid.GUID) {
	r.mu.Lock()
	p, ok := r.proxies[writer]
	delete(r.proxies, writer)
	r.mu.Unlock()
	if !ok {
		return
	}
	p.Stop()

	var toRemove []*cache.Cache
	r.history.Iterate(func(c *cache.Cache) bool {
		if c.WriterGUID == writer {
			toRemove = append(toRemove, c)
		}
		return true
	})
	for _, c := range toRemove {
		r.history.Remove(c)
	}
	r.listener.OnSubscriptionMatched(writer, false)
}

// NotifyIncompatibleQoS forwards a QoS-incompatibility verdict from the
// matcher (core/qos.ValidMatching) to this reader's listener (spec.md
// §4.5's "requested_incompatible_qos" callback).
func (r *StatefulReader) NotifyIncompatibleQoS(mask qos.QoSMask) {
	r.listener.OnRequestedIncompatibleQoS(mask)
}

func (r *StatefulReader) proxyFor(writer guid.GUID) (*proxy.WriterProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[writer]
	return p, ok
}

// ProcessData implements spec.md §4.3's process_data: accept-or-reject via
// the history admission algorithm, then advance notifications.
func (r *StatefulReader) ProcessData(writer guid.GUID, c *cache.Cache) {
	p, ok := r.proxyFor(writer)
	if !ok {
		return
	}
	if p.ChangeWasReceived(c.SequenceNumber) {
		return
	}

	unknown := p.UnknownMissingChangesUpTo(c.SequenceNumber)
	admitted, reason, _ := r.history.Insert(c, unknown)
	if !admitted {
		r.listener.OnSampleRejected(writer, c.SequenceNumber, reason)
		if reason == cache.RejectedByInstancesLimit {
			p.IrrelevantChangeSet(c.SequenceNumber)
		}
		return
	}
	if r.QoS.Reliability.Kind == qos.BestEffort {
		if lost := p.MarkBestEffortLoss(c.SequenceNumber); lost > 0 {
			r.listener.OnSampleLost(writer, lost)
		}
	}
	p.ReceivedChangeSet(c.SequenceNumber)
	r.notify(writer, p)
}

// ProcessDataFrag implements spec.md §4.3's process_data_frag: assembles
// fragments in the proxy's per-SN table, then runs the ordinary admission
// pipeline once complete.
func (r *StatefulReader) ProcessDataFrag(writer guid.GUID, sn seqnum.SequenceNumber, kind cache.Kind, ih instance.Handle, sampleSize, fragStart, fragCount, fragSize uint32, payload []byte) {
	p, ok := r.proxyFor(writer)
	if !ok {
		return
	}
	if p.ChangeWasReceived(sn) {
		return // invariant I6: frag after assembly is silently dropped
	}

	c, ok := p.FragmentCache(sn)
	if !ok {
		c = cache.New(writer, sn, kind, ih, make([]byte, sampleSize))
		c.Fragments = cache.NewFragmentMap(sampleSize, fragSize)
		p.SetFragmentCache(sn, c)
	}
	copy(c.Payload[(fragStart-1)*fragSize:], payload)
	c.Fragments.MarkReceived(fragStart, fragCount)

	if !c.Fragments.Complete() {
		return
	}
	p.ClearFragmentCache(sn)
	c.Fragments = nil
	r.ProcessData(writer, c)
}

// ProcessHeartbeat implements spec.md §4.3's process_heartbeat.
func (r *StatefulReader) ProcessHeartbeat(writer guid.GUID, count uint32, firstSN, lastSN seqnum.SequenceNumber, final bool) {
	p, ok := r.proxyFor(writer)
	if !ok {
		return
	}
	wasAlive, lostCount, schedule := p.ProcessHeartbeat(count, firstSN, lastSN, final)
	if wasAlive {
		r.listener.OnLivelinessChanged(writer, true)
	}
	if lostCount > 0 {
		r.listener.OnSampleLost(writer, lostCount)
	}
	r.notify(writer, p)

	if schedule {
		gen := p.BeginHeartbeatTimer()
		delay := r.QoS.Reliability.HeartbeatResponseDelay
		r.timers.Push(uint64(time.Now().Add(delay).UnixNano()), timerToken{writer: writer, gen: gen})
	}
}

// ProcessGap implements spec.md §4.3's process_gap.
func (r *StatefulReader) ProcessGap(writer guid.GUID, gapStart seqnum.SequenceNumber, gapSet *seqnum.Set) {
	p, ok := r.proxyFor(writer)
	if !ok {
		return
	}
	for sn := gapStart; sn < gapSet.Base; sn++ {
		p.IrrelevantChangeSet(sn)
	}
	gapSet.Each(func(sn seqnum.SequenceNumber) {
		p.IrrelevantChangeSet(sn)
	})
	r.notify(writer, p)
}

// notify implements spec.md §4.3's notification drive: persist the new
// frontier before invoking the listener, so a crash mid-callback never
// re-delivers an already-visible sample.
func (r *StatefulReader) notify(writer guid.GUID, p *proxy.WriterProxy) {
	max := p.AvailableMax()
	first, ok := p.NextCacheChangeToBeNotified()
	if !ok || max < first {
		return
	}

	r.mu.Lock()
	if max <= r.lastNotified[writer] {
		r.mu.Unlock()
		return
	}
	r.lastNotified[writer] = max
	r.mu.Unlock()

	p.AdvanceNotified(max)
	r.listener.OnDataAvailable(writer, first, max)
}

// Take iterates every not-yet-read cache from writer, invoking fn and
// marking each one read.
func (r *StatefulReader) Take(writer guid.GUID, fn func(c *cache.Cache)) {
	var toRemove []*cache.Cache
	r.history.Iterate(func(c *cache.Cache) bool {
		if c.WriterGUID != writer || c.IsRead {
			return true
		}
		fn(c)
		c.IsRead = true
		toRemove = append(toRemove, c)
		return true
	})
	if r.QoS.History.Kind == qos.KeepAll {
		return
	}
	for _, c := range toRemove {
		r.history.Remove(c)
	}
}

// onTimerFired is the TimerQueue callback: composes and sends one ACKNACK
// (plus any NACKFRAGs for partially-assembled changes) for the proxy named
// by tok, unless a newer heartbeat has superseded this generation.
func (r *StatefulReader) onTimerFired(v interface{}) {
	tok, ok := v.(timerToken)
	if !ok {
		return
	}
	p, ok := r.proxyFor(tok.writer)
	if !ok || !p.HeartbeatTimerCurrent(tok.gen) || p.IsStopped() {
		return
	}

	missing := p.MissingChanges()
	for _, sn := range missing {
		if c, ok := p.FragmentCache(sn); ok && c.Fragments != nil {
			r.ackNackCount++
			if r.sender != nil {
				r.sender.SendNackFrag(tok.writer, wire.NackFrag{
					WriterID:        tok.writer.EntityID(),
					ReaderID:        r.GUID.EntityID(),
					SequenceNumber:  sn,
					FragmentNumbers: c.Fragments.Missing(),
					Count:           r.ackNackCount,
				})
			}
		}
	}

	base := p.AvailableMax() + 1
	set := seqnum.FromSorted(base, missing)
	r.ackNackCount++
	if r.sender != nil {
		r.sender.SendAckNack(tok.writer, wire.AckNack{
			ReaderID: r.GUID.EntityID(),
			WriterID: tok.writer.EntityID(),
			Base:     set.Base,
			Bitmap:   set.Bitmap,
			Count:    r.ackNackCount,
			Final:    set.Empty(),
		})
	}
}

// CheckLiveliness sweeps every matched writer proxy against its lease,
// invoked periodically by the owning participant.
func (r *StatefulReader) CheckLiveliness(now time.Time) {
	r.mu.Lock()
	proxies := make([]*proxy.WriterProxy, 0, len(r.proxies))
	writers := make([]guid.GUID, 0, len(r.proxies))
	for w, p := range r.proxies {
		proxies = append(proxies, p)
		writers = append(writers, w)
	}
	r.mu.Unlock()

	for i, p := range proxies {
		if p.CheckLiveliness(now) {
			r.listener.OnLivelinessChanged(writers[i], false)
		}
	}
}
