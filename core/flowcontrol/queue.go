// Package flowcontrol implements the writer-side async delivery pipeline
// (component C6, spec.md §4.6): four scheduling disciplines, three
// publishing modes, and the lock-guarded doubly-linked enqueue list spec.md
// §9's design notes call for ("Coroutine-like async write path" strategy).
//
// The controller itself follows the teacher's worker.Worker/TimerQueue
// split (client2/arq.go): one goroutine drains a discipline-selected queue,
// woken by an unbounded eapache/channels.v1 InfiniteChannel carrying
// lightweight wake tokens rather than the items themselves, so removal of
// an enqueued item (invariant I7) stays an O(1) list unlink instead of a
// channel drain-and-requeue.
package flowcontrol

import (
	"sync"
	"time"

	"github.com/latticemw/rtpscore/guid"
)

// DeliveryResult is the outcome of one delivery attempt (spec.md §4.6).
type DeliveryResult uint8

const (
	Delivered DeliveryResult = iota
	NotDelivered
	ExceededLimit
)

// Item is one cache pending delivery to one writer's matched readers.
// prev/next are non-nil together iff the item is currently enqueued
// (invariant I7); a Scheduler mutates them only while holding the queue's
// lock.
type Item struct {
	WriterGUID guid.GUID
	Priority   int32
	Bytes      int
	// Deliver performs the actual send via the writer's deliver_sample_nts
	// equivalent, honoring the deadline.
	Deliver func(deadline time.Time) DeliveryResult

	prev, next *Item
}

// Enqueued reports whether the item is currently linked into a queue.
func (it *Item) Enqueued() bool {
	return it.prev != nil || it.next != nil
}

// list is the shared doubly-linked backbone every discipline pops from;
// it is what makes mid-queue removal (I7) an O(1) operation regardless of
// which discipline is selected.
type list struct {
	mu         sync.Mutex
	head, tail *Item
	len        int
}

func (l *list) pushBack(it *Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pushBackLocked(it)
}

func (l *list) pushBackLocked(it *Item) {
	if it.Enqueued() {
		return
	}
	if l.tail == nil {
		l.head, l.tail = it, it
		// A single-element list still needs non-nil prev/next to record
		// "enqueued"; point both at itself and unwrap on removal.
		it.prev, it.next = it, it
		return
	}
	it.prev = l.tail
	it.next = l.head
	l.tail.next = it
	l.head.prev = it
	l.tail = it
	l.len++
}

func (l *list) remove(it *Item) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeLocked(it)
}

func (l *list) removeLocked(it *Item) bool {
	if !it.Enqueued() {
		return false
	}
	if it == l.head && it == l.tail {
		l.head, l.tail = nil, nil
	} else {
		it.prev.next = it.next
		it.next.prev = it.prev
		if it == l.head {
			l.head = it.next
		}
		if it == l.tail {
			l.tail = it.prev
		}
		l.len--
	}
	it.prev, it.next = nil, nil
	return true
}

func (l *list) popFrontLocked() *Item {
	if l.head == nil {
		return nil
	}
	it := l.head
	l.removeLocked(it)
	return it
}

func (l *list) snapshot() []*Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Item, 0, l.len+1)
	if l.head == nil {
		return out
	}
	cur := l.head
	for {
		out = append(out, cur)
		if cur == l.tail {
			break
		}
		cur = cur.next
	}
	return out
}

func (l *list) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.head == nil {
		return 0
	}
	return l.len + 1
}
