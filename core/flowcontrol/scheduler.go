package flowcontrol

import (
	"time"

	"github.com/latticemw/rtpscore/guid"
)

// Discipline selects how Scheduler.Pop chooses among enqueued items
// (spec.md §4.6).
type Discipline uint8

const (
	FIFO Discipline = iota
	RoundRobin
	HighPriority
	PriorityWithReservation
)

// Reservation is a writer's guaranteed minimum share of bandwidth under
// PriorityWithReservation, replenished once per period.
type Reservation struct {
	WriterGUID guid.GUID
	MinBytesPerPeriod int
}

// Scheduler orders the shared enqueue list per one of the four disciplines.
// Enqueue/Remove are O(1) regardless of discipline (they operate on the
// shared list); only Pop's selection strategy differs.
type Scheduler struct {
	discipline Discipline
	items      list

	// RoundRobin: last writer served, so the next Pop starts after it.
	rrLast guid.GUID
	rrSeen bool

	// PriorityWithReservation: remaining reserved-byte budget per writer
	// this period; replenished by ResetPeriod.
	reservations map[guid.GUID]int
	budget       map[guid.GUID]int
}

// NewScheduler builds a Scheduler for the given discipline. reservations is
// only consulted under PriorityWithReservation.
func NewScheduler(d Discipline, reservations []Reservation) *Scheduler {
	s := &Scheduler{discipline: d}
	if d == PriorityWithReservation {
		s.reservations = make(map[guid.GUID]int, len(reservations))
		s.budget = make(map[guid.GUID]int, len(reservations))
		for _, r := range reservations {
			s.reservations[r.WriterGUID] = r.MinBytesPerPeriod
			s.budget[r.WriterGUID] = r.MinBytesPerPeriod
		}
	}
	return s
}

// ResetPeriod replenishes every writer's reserved-byte budget; the
// controller calls this once per LimitedAsync/reservation period tick.
func (s *Scheduler) ResetPeriod() {
	for w, r := range s.reservations {
		s.budget[w] = r
	}
}

// Push enqueues it. A no-op if it is already enqueued (I7).
func (s *Scheduler) Push(it *Item) {
	s.items.pushBack(it)
}

// Remove unlinks it if it is currently enqueued, returning whether it was.
func (s *Scheduler) Remove(it *Item) bool {
	return s.items.remove(it)
}

// Len reports the number of items currently enqueued.
func (s *Scheduler) Len() int {
	return s.items.Len()
}

// Pop selects and removes the next item per the configured discipline, or
// returns ok=false if nothing is enqueued.
func (s *Scheduler) Pop() (it *Item, ok bool) {
	s.items.mu.Lock()
	defer s.items.mu.Unlock()

	switch s.discipline {
	case FIFO:
		it = s.items.popFrontLocked()
	case RoundRobin:
		it = s.popRoundRobinLocked()
	case HighPriority:
		it = s.popHighestPriorityLocked(nil)
	case PriorityWithReservation:
		it = s.popReservedLocked()
	}
	return it, it != nil
}

// popRoundRobinLocked serves the first item from a different writer than
// the one last served, falling back to the head if only one writer has
// pending work.
func (s *Scheduler) popRoundRobinLocked() *Item {
	if s.items.head == nil {
		return nil
	}
	cur := s.items.head
	for {
		if !s.rrSeen || cur.WriterGUID != s.rrLast {
			s.items.removeLocked(cur)
			s.rrLast = cur.WriterGUID
			s.rrSeen = true
			return cur
		}
		if cur == s.items.tail {
			break
		}
		cur = cur.next
	}
	it := s.items.popFrontLocked()
	if it != nil {
		s.rrLast = it.WriterGUID
		s.rrSeen = true
	}
	return it
}

// popHighestPriorityLocked scans for the highest-Priority item, optionally
// restricted to writers satisfying filter.
func (s *Scheduler) popHighestPriorityLocked(filter func(guid.GUID) bool) *Item {
	if s.items.head == nil {
		return nil
	}
	var best *Item
	cur := s.items.head
	for {
		if filter == nil || filter(cur.WriterGUID) {
			if best == nil || cur.Priority > best.Priority {
				best = cur
			}
		}
		if cur == s.items.tail {
			break
		}
		cur = cur.next
	}
	if best == nil {
		return nil
	}
	s.items.removeLocked(best)
	return best
}

// popReservedLocked first tries to serve a writer still within its
// reserved-bandwidth budget this period (highest priority among those),
// falling back to plain highest-priority across all writers once every
// reservation is exhausted.
func (s *Scheduler) popReservedLocked() *Item {
	reserved := func(w guid.GUID) bool {
		b, ok := s.budget[w]
		return ok && b > 0
	}
	if it := s.popHighestPriorityLocked(reserved); it != nil {
		s.budget[it.WriterGUID] -= it.Bytes
		if s.budget[it.WriterGUID] < 0 {
			s.budget[it.WriterGUID] = 0
		}
		return it
	}
	return s.popHighestPriorityLocked(nil)
}

// PublishingMode selects how a write attempts delivery (spec.md §4.6).
type PublishingMode uint8

const (
	PureSync PublishingMode = iota
	Sync
	LimitedAsync
)

// bandwidthLimiter enforces LimitedAsync's max_bytes_per_period cap.
type bandwidthLimiter struct {
	maxBytesPerPeriod int
	period            time.Duration
	usedThisPeriod    int
	periodStart       time.Time
}

func newBandwidthLimiter(maxBytes int, period time.Duration, now time.Time) *bandwidthLimiter {
	return &bandwidthLimiter{maxBytesPerPeriod: maxBytes, period: period, periodStart: now}
}

// allow reports whether n more bytes fit in the current period, rolling
// over to a fresh period if the current one has elapsed.
func (b *bandwidthLimiter) allow(n int, now time.Time) bool {
	if b.maxBytesPerPeriod <= 0 {
		return true
	}
	if now.Sub(b.periodStart) >= b.period {
		b.periodStart = now
		b.usedThisPeriod = 0
	}
	if b.usedThisPeriod+n > b.maxBytesPerPeriod {
		return false
	}
	b.usedThisPeriod += n
	return true
}
