package proxy

import (
	"sort"
	"sync"
	"time"

	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/core/seqnum"
	"github.com/latticemw/rtpscore/guid"
)

// ReaderProxy is the writer-side view of one matched reader (spec.md §3):
// the mirror of WriterProxy, tracking acknowledgement and NACK state
// instead of reception state.
type ReaderProxy struct {
	mu sync.Mutex

	ReaderGUID       guid.GUID
	ExpectsInlineQos bool
	LivelinessKind   qos.LivelinessKind
	LeaseDuration    time.Duration

	// ackedThrough is the highest SN such that every SN <= it is
	// acknowledged by this reader.
	ackedThrough seqnum.SequenceNumber

	// requested holds SNs this reader has NACKed and not yet been resent.
	requested map[seqnum.SequenceNumber]struct{}

	// requestedFragments holds, per partially-NACKed SN, the 1-based
	// fragment numbers still outstanding.
	requestedFragments map[seqnum.SequenceNumber][]uint32

	lastAckNackCount  uint32
	haveAckNack       bool
	lastNackFragCount uint32
	haveNackFrag      bool

	lastContact time.Time
	alive       bool

	stopped bool
}

// NewReaderProxy constructs a proxy for reader with the given liveliness
// and inline-QoS contract.
func NewReaderProxy(reader guid.GUID, expectsInlineQos bool, kind qos.LivelinessKind, lease time.Duration) *ReaderProxy {
	return &ReaderProxy{
		ReaderGUID:         reader,
		ExpectsInlineQos:   expectsInlineQos,
		LivelinessKind:     kind,
		LeaseDuration:      lease,
		requested:          make(map[seqnum.SequenceNumber]struct{}),
		requestedFragments: make(map[seqnum.SequenceNumber][]uint32),
		alive:              true,
		lastContact:        time.Now(),
	}
}

func (p *ReaderProxy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

func (p *ReaderProxy) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// OnAckNack implements spec.md §4.4's on_acknack: dedups by count, marks
// [0, ackBase) acknowledged, and moves the bitmap's bits into requested.
// Returns false if the message was a stale duplicate.
func (p *ReaderProxy) OnAckNack(ackBase seqnum.SequenceNumber, bitmap *seqnum.Set, count uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haveAckNack && count <= p.lastAckNackCount {
		return false
	}
	p.haveAckNack = true
	p.lastAckNackCount = count

	if ackBase > 0 && ackBase-1 > p.ackedThrough {
		p.ackedThrough = ackBase - 1
	}
	for sn := range p.requested {
		if sn < ackBase {
			delete(p.requested, sn)
		}
	}
	if bitmap != nil {
		bitmap.Each(func(sn seqnum.SequenceNumber) {
			p.requested[sn] = struct{}{}
		})
	}
	p.touchLocked()
	return true
}

// OnNackFrag implements spec.md §4.4's on_nackfrag: queues the named
// fragments of sn for retransmission.
func (p *ReaderProxy) OnNackFrag(sn seqnum.SequenceNumber, missingFragments []uint32, count uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haveNackFrag && count <= p.lastNackFragCount {
		return false
	}
	p.haveNackFrag = true
	p.lastNackFragCount = count

	p.requestedFragments[sn] = append([]uint32(nil), missingFragments...)
	p.requested[sn] = struct{}{}
	p.touchLocked()
	return true
}

// RequestedChanges returns a sorted snapshot of the SNs this reader has
// NACKed.
func (p *ReaderProxy) RequestedChanges() []seqnum.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]seqnum.SequenceNumber, 0, len(p.requested))
	for sn := range p.requested {
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RequestedFragments returns the outstanding fragment numbers NACKed for
// sn, if any.
func (p *ReaderProxy) RequestedFragments(sn seqnum.SequenceNumber) ([]uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.requestedFragments[sn]
	return f, ok
}

// ClearRequested drops sn from both the requested set and its fragment
// entry, once it has been resent.
func (p *ReaderProxy) ClearRequested(sn seqnum.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.requested, sn)
	delete(p.requestedFragments, sn)
}

// AckedThrough reports the highest SN acknowledged contiguously from zero.
func (p *ReaderProxy) AckedThrough() seqnum.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ackedThrough
}

// ChangeIsAcked reports whether sn is covered by the reader's cumulative
// ack frontier.
func (p *ReaderProxy) ChangeIsAcked(sn seqnum.SequenceNumber) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sn <= p.ackedThrough
}

func (p *ReaderProxy) touchLocked() {
	p.lastContact = time.Now()
	p.alive = true
}

// Touch resets the liveliness clock from an incoming assertion.
func (p *ReaderProxy) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.touchLocked()
}

// CheckLiveliness mirrors WriterProxy.CheckLiveliness for the writer's own
// view of a manual-liveliness reader, where applicable.
func (p *ReaderProxy) CheckLiveliness(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive {
		return false
	}
	if p.LeaseDuration > 0 && now.Sub(p.lastContact) > p.LeaseDuration {
		p.alive = false
		return true
	}
	return false
}
