// Package proxy implements the per-matched-endpoint bookkeeping living
// inside the opposite endpoint (component C3, spec.md §3, §4.2, §4.4):
// WriterProxy tracks a remote writer from inside a reader; ReaderProxy
// tracks a remote reader from inside a writer.
//
// Both types are plain synchronized data structures with no goroutines of
// their own - the owning reader/writer endpoint drives their timers
// through a shared core/queue.TimerQueue, the same split used by the
// teacher's ARQ (one flat retransmit queue serving many per-peer message
// maps) rather than one goroutine per proxy.
package proxy

import (
	"sort"
	"sync"
	"time"

	"github.com/latticemw/rtpscore/core/cache"
	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/core/seqnum"
	"github.com/latticemw/rtpscore/guid"
)

// WriterProxy is the reader-side view of one matched writer (spec.md §3).
type WriterProxy struct {
	mu sync.Mutex

	WriterGUID      guid.GUID
	PersistenceGUID guid.GUID

	LivelinessKind  qos.LivelinessKind
	LeaseDuration   time.Duration

	received   map[seqnum.SequenceNumber]struct{}
	missing    map[seqnum.SequenceNumber]struct{}
	irrelevant map[seqnum.SequenceNumber]struct{}

	highestKnown seqnum.SequenceNumber
	availableMax seqnum.SequenceNumber
	nextToNotify seqnum.SequenceNumber

	lastHeartbeatCount uint32
	haveHeartbeat      bool

	fragments map[seqnum.SequenceNumber]*cache.Cache

	lastContact time.Time
	alive       bool

	stopped bool
	// heartbeatTimerGen coalesces the heartbeat-response timer: the owner
	// schedules (gen, deadline) into the TimerQueue and only acts on the
	// fire if gen still matches, so a newer heartbeat silently supersedes
	// an older pending response.
	heartbeatTimerGen uint64
}

// NewWriterProxy constructs a proxy for writer with the given liveliness
// contract.
func NewWriterProxy(writer guid.GUID, kind qos.LivelinessKind, lease time.Duration) *WriterProxy {
	return &WriterProxy{
		WriterGUID:     writer,
		LivelinessKind: kind,
		LeaseDuration:  lease,
		received:       make(map[seqnum.SequenceNumber]struct{}),
		missing:        make(map[seqnum.SequenceNumber]struct{}),
		irrelevant:     make(map[seqnum.SequenceNumber]struct{}),
		fragments:      make(map[seqnum.SequenceNumber]*cache.Cache),
		alive:          true,
	}
}

// Start installs the proxy as active from a late-joiner baseline.
func (p *WriterProxy) Start(initialSN seqnum.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.availableMax = initialSN
	p.highestKnown = initialSN
	p.nextToNotify = initialSN
	p.lastContact = time.Now()
	p.alive = true
}

// Stop marks the proxy stopped; the owner is responsible for draining any
// in-flight timer callback before calling this (spec.md §5 "stop()... blocks
// until an in-flight timer callback returns").
func (p *WriterProxy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

func (p *WriterProxy) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// BeginHeartbeatTimer bumps the coalescing generation and returns it; the
// owner schedules this generation into its TimerQueue and, on fire, calls
// HeartbeatTimerCurrent to check whether it is still the live one.
func (p *WriterProxy) BeginHeartbeatTimer() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heartbeatTimerGen++
	return p.heartbeatTimerGen
}

func (p *WriterProxy) HeartbeatTimerCurrent(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heartbeatTimerGen == gen
}

// ProcessHeartbeat implements spec.md §4.2's process_heartbeat. It returns
// whether the writer's liveliness transitioned to alive, the number of
// samples newly known lost, and whether the caller should schedule an
// ACKNACK after the heartbeat-response delay.
func (p *WriterProxy) ProcessHeartbeat(count uint32, firstSN, lastSN seqnum.SequenceNumber, final bool) (assertedLiveliness bool, lostCount int, scheduleAckNack bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haveHeartbeat && count <= p.lastHeartbeatCount {
		return false, 0, false
	}
	p.haveHeartbeat = true
	p.lastHeartbeatCount = count

	if lastSN > p.highestKnown {
		p.highestKnown = lastSN
	}
	p.extendMissingLocked()

	for sn := range p.missing {
		if sn < firstSN {
			delete(p.missing, sn)
			p.irrelevant[sn] = struct{}{}
			lostCount++
		}
	}
	p.advanceAvailableMaxLocked()

	assertedLiveliness = p.touchLocked()

	if !final && len(p.missing) > 0 {
		scheduleAckNack = true
	}
	return assertedLiveliness, lostCount, scheduleAckNack
}

// extendMissingLocked populates missing for every SN in
// (availableMax, highestKnown] not already accounted for.
func (p *WriterProxy) extendMissingLocked() {
	for sn := p.availableMax + 1; sn <= p.highestKnown; sn++ {
		if _, ok := p.received[sn]; ok {
			continue
		}
		if _, ok := p.irrelevant[sn]; ok {
			continue
		}
		p.missing[sn] = struct{}{}
	}
}

func (p *WriterProxy) advanceAvailableMaxLocked() {
	for {
		next := p.availableMax + 1
		_, inReceived := p.received[next]
		_, inIrrelevant := p.irrelevant[next]
		if !inReceived && !inIrrelevant {
			return
		}
		p.availableMax = next
		delete(p.missing, next)
	}
}

// ReceivedChangeSet records that sn was delivered to this reader.
func (p *WriterProxy) ReceivedChangeSet(sn seqnum.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sn > p.highestKnown {
		p.highestKnown = sn
	}
	p.received[sn] = struct{}{}
	delete(p.missing, sn)
	p.advanceAvailableMaxLocked()
	p.touchLocked()
}

// IrrelevantChangeSet marks sn as explicitly irrelevant (GAP or filtered).
func (p *WriterProxy) IrrelevantChangeSet(sn seqnum.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sn > p.highestKnown {
		p.highestKnown = sn
	}
	p.irrelevant[sn] = struct{}{}
	delete(p.missing, sn)
	delete(p.fragments, sn)
	p.advanceAvailableMaxLocked()
}

// MarkBestEffortLoss marks every SN strictly between the proxy's current
// highest known SN and sn as lost (irrelevant, never retransmitted) and
// returns how many were marked. Best-effort writers never heartbeat, so a
// reader matched to one has no ACKNACK-driven retransmission cycle to fill
// a gap with - arrival of a later SN is the only signal that an earlier,
// still-unseen one is gone for good (spec.md §4.2's best-effort path,
// §8.3's lost-sample statistics).
func (p *WriterProxy) MarkBestEffortLoss(sn seqnum.SequenceNumber) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	lost := 0
	for x := p.highestKnown + 1; x < sn; x++ {
		if _, ok := p.received[x]; ok {
			continue
		}
		if _, ok := p.irrelevant[x]; ok {
			continue
		}
		p.irrelevant[x] = struct{}{}
		delete(p.missing, x)
		lost++
	}
	if sn > p.highestKnown {
		p.highestKnown = sn
	}
	p.advanceAvailableMaxLocked()
	return lost
}

// MissingChanges returns a sorted snapshot of missing, truncated to what
// fits in one ACKNACK bitmap (seqnum.MaxBitmapLength entries).
func (p *WriterProxy) MissingChanges() []seqnum.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]seqnum.SequenceNumber, 0, len(p.missing))
	for sn := range p.missing {
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) > seqnum.MaxBitmapLength {
		out = out[:seqnum.MaxBitmapLength]
	}
	return out
}

// ChangeWasReceived tests membership in received ∪ irrelevant.
func (p *WriterProxy) ChangeWasReceived(sn seqnum.SequenceNumber) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.received[sn]; ok {
		return true
	}
	_, ok := p.irrelevant[sn]
	return ok
}

// NextCacheChangeToBeNotified returns the smallest received SN strictly
// greater than the last notified SN, and whether one exists.
func (p *WriterProxy) NextCacheChangeToBeNotified() (seqnum.SequenceNumber, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sn := p.nextToNotify + 1; sn <= p.highestKnown; sn++ {
		if _, ok := p.received[sn]; ok {
			return sn, true
		}
		if _, ok := p.irrelevant[sn]; !ok {
			// Neither received nor irrelevant: a genuine gap blocks
			// further per-writer-ordered notification.
			return 0, false
		}
	}
	return 0, false
}

// AdvanceNotified persists the last SN actually delivered to the user.
func (p *WriterProxy) AdvanceNotified(sn seqnum.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sn > p.nextToNotify {
		p.nextToNotify = sn
	}
}

// AvailableMax and HighestKnown report the proxy's current frontier, used
// by the reader endpoint's notify() pipeline (spec.md §4.3).
func (p *WriterProxy) AvailableMax() seqnum.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableMax
}

func (p *WriterProxy) HighestKnown() seqnum.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highestKnown
}

// UnknownMissingChangesUpTo counts SNs below sn that are in none of
// received, irrelevant, or missing - samples the reader does not yet know
// exist. The history admission check reserves room for them.
func (p *WriterProxy) UnknownMissingChangesUpTo(sn seqnum.SequenceNumber) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for x := seqnum.SequenceNumber(1); x < sn; x++ {
		if _, ok := p.received[x]; ok {
			continue
		}
		if _, ok := p.irrelevant[x]; ok {
			continue
		}
		if _, ok := p.missing[x]; ok {
			continue
		}
		count++
	}
	return count
}

// FragmentCache and SetFragmentCache back process_data_frag's assembly
// table (spec.md §4.3).
func (p *WriterProxy) FragmentCache(sn seqnum.SequenceNumber) (*cache.Cache, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.fragments[sn]
	return c, ok
}

func (p *WriterProxy) SetFragmentCache(sn seqnum.SequenceNumber, c *cache.Cache) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fragments[sn] = c
}

func (p *WriterProxy) ClearFragmentCache(sn seqnum.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fragments, sn)
}

// touchLocked resets the liveliness clock, returning true if the writer
// transitioned from not-alive back to alive.
func (p *WriterProxy) touchLocked() bool {
	p.lastContact = time.Now()
	if !p.alive {
		p.alive = true
		return true
	}
	return false
}

// Touch resets the liveliness clock from an incoming DATA or explicit
// assertion, returning whether the writer transitioned back to alive.
func (p *WriterProxy) Touch() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.touchLocked()
}

// CheckLiveliness evaluates the lease against now; if it has expired it
// marks the proxy not-alive and returns true (the owner should then fire
// on_liveliness_changed(NOT_ALIVE)).
func (p *WriterProxy) CheckLiveliness(now time.Time) bool {
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

func (p *WriterProxy) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}
