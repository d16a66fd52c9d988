// Package writer implements the StatefulWriter endpoint (component C4
// writer half, spec.md §4.4): history production, per-matched-reader
// acknowledgement tracking, heartbeat cadence, and GAP generation on
// eviction, routed through core/flowcontrol for delivery pacing.
package writer

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/latticemw/rtpscore/core/cache"
	"github.com/latticemw/rtpscore/core/flowcontrol"
	"github.com/latticemw/rtpscore/core/history"
	"github.com/latticemw/rtpscore/core/instance"
	"github.com/latticemw/rtpscore/core/proxy"
	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/core/queue"
	"github.com/latticemw/rtpscore/core/seqnum"
	"github.com/latticemw/rtpscore/core/wire"
	"github.com/latticemw/rtpscore/guid"
)

// Sender is the transport contract a StatefulWriter needs: one method per
// submessage it can originate. Only the contract is specified (spec.md §1
// treats transport as an external collaborator).
type Sender interface {
	SendData(reader guid.GUID, msg wire.Data)
	SendHeartbeat(reader guid.GUID, msg wire.Heartbeat)
	SendGap(reader guid.GUID, msg wire.Gap)
}

// Listener receives the user-visible callbacks a StatefulWriter drives
// (spec.md §4.4, §7).
type Listener interface {
	OnPublicationMatched(reader guid.GUID, matched bool)
	OnOfferedIncompatibleQoS(mask qos.QoSMask)
	OnLivelinessLost(reader guid.GUID)
}

type nopListener struct{}

func (nopListener) OnPublicationMatched(guid.GUID, bool) {}
func (nopListener) OnOfferedIncompatibleQoS(qos.QoSMask)  {}
func (nopListener) OnLivelinessLost(guid.GUID)            {}

// heartbeatToken identifies the writer-wide periodic heartbeat timer.
type heartbeatToken struct{}

// Gap records that new_change's KEEP_LAST eviction dropped an older change
// from the history, so it can no longer be resent; AddChange GAPs every
// matched reader past it immediately.
type Gap struct {
	SequenceNumber seqnum.SequenceNumber
}

// StatefulWriter is the reliable/best-effort writer endpoint: one
// WriterHistory plus one ReaderProxy per matched reader, delivering through
// a shared flowcontrol.Controller (spec.md §4.6).
type StatefulWriter struct {
	mu sync.Mutex

	GUID      guid.GUID
	TopicKind qos.TopicKind
	QoS       qos.EndpointQoS

	history *history.WriterHistory
	readers map[guid.GUID]*proxy.ReaderProxy

	// pending tracks every flowcontrol.Item currently submitted to flow but
	// not yet delivered, keyed by the SN it carries, so RemoveChange can
	// unlink a change from the flow-controller queue instead of letting a
	// stale delivery race past it (spec.md §4.4 / invariant I7).
	pending map[seqnum.SequenceNumber][]*flowcontrol.Item

	sender   Sender
	listener Listener
	flow     *flowcontrol.Controller
	timers   *queue.TimerQueue
	log      *log.Logger

	heartbeatCount uint32
	stopped        bool
}

// New constructs a StatefulWriter. sender and listener may be nil; a nil
// listener discards every callback.
func New(g guid.GUID, topicKind qos.TopicKind, q qos.EndpointQoS, durable history.DurableStore, flow *flowcontrol.Controller, sender Sender, listener Listener, logger *log.Logger) *StatefulWriter {
	if listener == nil {
		listener = nopListener{}
	}
	if logger == nil {
		logger = log.Default()
	}
	w := &StatefulWriter{
		GUID:      g,
		TopicKind: topicKind,
		QoS:       q,
		history:   history.NewWriterHistory(q.History, durable),
		readers:   make(map[guid.GUID]*proxy.ReaderProxy),
		sender:    sender,
		listener:  listener,
		flow:      flow,
		log:       logger.WithPrefix("writer:" + g.String()),
	}
	w.timers = queue.NewTimerQueue(w.onTimerFired)
	w.timers.Start()
	if q.Reliability.Kind == qos.Reliable && q.Reliability.HeartbeatPeriod > 0 {
		w.scheduleHeartbeat()
	}
	return w
}

// Stop halts the writer's timer queue and waits for it to exit; the flow
// controller is left running for its owner to stop. Idempotent.
func (w *StatefulWriter) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.timers.Halt()
	w.timers.Wait()
}

// MatchedReaderAdd pairs a newly matched reader.
func (w *StatefulWriter) MatchedReaderAdd(reader guid.GUID, expectsInlineQos bool, kind qos.LivelinessKind, lease time.Duration) {
	w.mu.Lock()
	w.readers[reader] = proxy.NewReaderProxy(reader, expectsInlineQos, kind, lease)
	w.mu.Unlock()
	w.listener.OnPublicationMatched(reader, true)
}

// MatchedReaderRemove unpairs reader.
func (w *StatefulWriter) MatchedReaderRemove(reader guid.GUID) {
	w.mu.Lock()
	p, ok := w.readers[reader]
	delete(w.readers, reader)
	w.mu.Unlock()
	if !ok {
		return
	}
	p.Stop()
	w.listener.OnPublicationMatched(reader, false)
}

// NotifyIncompatibleQoS forwards a QoS-incompatibility verdict from the
// matcher (core/qos.ValidMatching) to this writer's listener (spec.md
// §4.5's "offered_incompatible_qos" callback).
func (w *StatefulWriter) NotifyIncompatibleQoS(mask qos.QoSMask) {
	w.listener.OnOfferedIncompatibleQoS(mask)
}

// NewChange implements spec.md §4.4's new_change: produces a cache with the
// next sequence number for the instance but does not yet queue it for
// delivery (the caller chains this into AddChange).
func (w *StatefulWriter) NewChange(kind cache.Kind, ih instance.Handle, payload []byte) (*cache.Cache, *Gap) {
	c, evicted := w.history.Add(w.GUID, kind, ih, payload)
	var gap *Gap
	if evicted != nil {
		gap = &Gap{SequenceNumber: evicted.SequenceNumber}
	}
	return c, gap
}

// AddChange implements spec.md §4.4's add_change: routes delivery of c to
// every matched reader through the flow controller, and if new_change
// evicted an older change under KEEP_LAST, GAPs every matched reader past
// it immediately (spec.md §4.4's eviction-triggers-GAP rule).
func (w *StatefulWriter) AddChange(c *cache.Cache, evictedGap *Gap) {
	w.mu.Lock()
	readers := make([]guid.GUID, 0, len(w.readers))
	for r := range w.readers {
		readers = append(readers, r)
	}
	w.mu.Unlock()

	if evictedGap != nil {
		set := seqnum.NewSet(evictedGap.SequenceNumber + 1)
		for _, r := range readers {
			w.sendGap(r, evictedGap.SequenceNumber, set)
		}
	}

	for _, r := range readers {
		reader := r
		item := &flowcontrol.Item{
			WriterGUID: w.GUID,
			Bytes:      len(c.Payload),
			Priority:   c.OwnershipStrength,
		}
		item.Deliver = func(deadline time.Time) flowcontrol.DeliveryResult {
			res := w.deliverTo(reader, c, deadline)
			if res == flowcontrol.Delivered {
				w.untrackPending(c.SequenceNumber, item)
			}
			return res
		}
		if w.flow != nil {
			w.trackPending(c.SequenceNumber, item)
			w.flow.Submit(item, time.Now().Add(w.QoS.Reliability.MaxBlockingTime))
		} else {
			item.Deliver(time.Now())
		}
	}
}

// trackPending records it as queued for sn so RemoveChange can unlink it
// from the flow controller if the change is removed before delivery.
func (w *StatefulWriter) trackPending(sn seqnum.SequenceNumber, item *flowcontrol.Item) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		w.pending = make(map[seqnum.SequenceNumber][]*flowcontrol.Item)
	}
	w.pending[sn] = append(w.pending[sn], item)
}

// untrackPending drops item from sn's pending set, e.g. once it has
// delivered and no longer needs unlinking.
func (w *StatefulWriter) untrackPending(sn seqnum.SequenceNumber, item *flowcontrol.Item) {
	w.mu.Lock()
	defer w.mu.Unlock()
	items := w.pending[sn]
	for i, it := range items {
		if it == item {
			w.pending[sn] = append(items[:i], items[i+1:]...)
			break
		}
	}
	if len(w.pending[sn]) == 0 {
		delete(w.pending, sn)
	}
}

func (w *StatefulWriter) deliverTo(reader guid.GUID, c *cache.Cache, deadline time.Time) flowcontrol.DeliveryResult {
	if w.sender == nil {
		return flowcontrol.Delivered
	}
	flags := wire.DataFlags(0)
	if c.Kind != cache.Alive {
		flags |= wire.FlagKeyOnly
	}
	w.sender.SendData(reader, wire.Data{
		WriterID:       w.GUID.EntityID(),
		ReaderID:       reader.EntityID(),
		SequenceNumber: c.SequenceNumber,
		Flags:          flags,
		Payload:        c.Payload,
	})
	return flowcontrol.Delivered
}

// RemoveChange implements spec.md §4.4's remove_change: drops a held
// change once every matched reader has acknowledged it (or there are none).
// A best-effort writer's readers never NACK, so ChangeIsAcked advances from
// their first subsequent ACKNACK just the same.
func (w *StatefulWriter) RemoveChange(sn seqnum.SequenceNumber) bool {
	w.mu.Lock()
	for _, p := range w.readers {
		if !p.ChangeIsAcked(sn) {
			w.mu.Unlock()
			return false
		}
	}
	items := w.pending[sn]
	delete(w.pending, sn)
	w.mu.Unlock()

	if w.flow != nil {
		for _, it := range items {
			w.flow.Remove(it)
		}
	}
	w.history.Remove(sn)
	return true
}

// OnAckNack implements spec.md §4.4's on_acknack: delegates to the named
// ReaderProxy and, if it requested retransmission, enqueues resends through
// the flow controller.
func (w *StatefulWriter) OnAckNack(reader guid.GUID, ackBase seqnum.SequenceNumber, bitmap *seqnum.Set, count uint32) {
	w.mu.Lock()
	p, ok := w.readers[reader]
	w.mu.Unlock()
	if !ok {
		return
	}
	if !p.OnAckNack(ackBase, bitmap, count) {
		return
	}

	for _, sn := range p.RequestedChanges() {
		c := w.history.Find(sn)
		if c == nil {
			// No longer held: GAP it instead of resending.
			set := seqnum.NewSet(sn + 1)
			w.sendGap(reader, sn, set)
			p.ClearRequested(sn)
			continue
		}
		sn := c.SequenceNumber
		item := &flowcontrol.Item{
			WriterGUID: w.GUID,
			Bytes:      len(c.Payload),
		}
		item.Deliver = func(deadline time.Time) flowcontrol.DeliveryResult {
			res := w.deliverTo(reader, c, deadline)
			if res == flowcontrol.Delivered {
				p.ClearRequested(sn)
				w.untrackPending(sn, item)
			}
			return res
		}
		if w.flow != nil {
			w.trackPending(sn, item)
			w.flow.Submit(item, time.Now().Add(w.QoS.Reliability.MaxBlockingTime))
		} else {
			item.Deliver(time.Now())
		}
	}
}

// OnNackFrag implements spec.md §4.4's on_nackfrag.
func (w *StatefulWriter) OnNackFrag(reader guid.GUID, sn seqnum.SequenceNumber, missing []uint32, count uint32) {
	w.mu.Lock()
	p, ok := w.readers[reader]
	w.mu.Unlock()
	if !ok {
		return
	}
	p.OnNackFrag(sn, missing, count)
}

func (w *StatefulWriter) sendGap(reader guid.GUID, gapStart seqnum.SequenceNumber, gapSet *seqnum.Set) {
	if w.sender == nil {
		return
	}
	w.sender.SendGap(reader, wire.Gap{
		WriterID:      w.GUID.EntityID(),
		ReaderID:      reader.EntityID(),
		GapStart:      gapStart,
		GapListBase:   gapSet.Base,
		GapListBitmap: gapSet.Bitmap,
	})
}

func (w *StatefulWriter) scheduleHeartbeat() {
	delay := time.Now().Add(w.QoS.Reliability.HeartbeatPeriod)
	w.timers.Push(uint64(delay.UnixNano()), heartbeatToken{})
}

// onTimerFired is the shared TimerQueue callback for the writer's single
// recurring heartbeat timer.
func (w *StatefulWriter) onTimerFired(v interface{}) {
	if _, ok := v.(heartbeatToken); !ok {
		return
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.heartbeatCount++
	count := w.heartbeatCount
	readers := make([]guid.GUID, 0, len(w.readers))
	for r := range w.readers {
		readers = append(readers, r)
	}
	w.mu.Unlock()

	first, last := w.history.MinSequenceNumber(), w.history.MaxSequenceNumber()
	for _, r := range readers {
		if w.sender != nil {
			w.sender.SendHeartbeat(r, wire.Heartbeat{
				WriterID: w.GUID.EntityID(),
				ReaderID: r.EntityID(),
				FirstSN:  first,
				LastSN:   last,
				Count:    count,
			})
		}
	}
	w.scheduleHeartbeat()
}

// CheckLiveliness sweeps every matched reader proxy against its lease,
// invoked periodically by the owning participant.
func (w *StatefulWriter) CheckLiveliness(now time.Time) {
	w.mu.Lock()
	readers := make([]guid.GUID, 0, len(w.readers))
	for r, p := range w.readers {
		if p.CheckLiveliness(now) {
			readers = append(readers, r)
		}
	}
	w.mu.Unlock()
	for _, r := range readers {
		w.listener.OnLivelinessLost(r)
	}
}
