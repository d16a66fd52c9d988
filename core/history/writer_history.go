package history

import (
	"sync"

	"github.com/latticemw/rtpscore/core/cache"
	"github.com/latticemw/rtpscore/core/instance"
	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/core/seqnum"
	"github.com/latticemw/rtpscore/guid"
)

// WriterHistory is the ordered collection of caches a StatefulWriter has
// produced and not yet dropped, held in a slice in SN order. The linkage the
// flow controller walks to enqueue sends is not kept here: it lives on each
// flowcontrol.Item.
//
// Unlike ReaderHistory there is no admission rejection on the writer side:
// a new_change always appends. KEEP_LAST eviction instead produces a GAP
// obligation, reported back to the caller so the StatefulWriter can notify
// every matched ReaderProxy.
type WriterHistory struct {
	mu sync.Mutex

	qos     qos.HistoryQoS
	durable DurableStore

	order []*cache.Cache // global SN order

	lastSN seqnum.SequenceNumber
}

// NewWriterHistory builds a WriterHistory bounded by the given HistoryQoS.
func NewWriterHistory(h qos.HistoryQoS, durable DurableStore) *WriterHistory {
	return &WriterHistory{qos: h, durable: durable}
}

// NextSequenceNumber returns the sequence number the next new_change will
// receive, without consuming it.
func (w *WriterHistory) NextSequenceNumber() seqnum.SequenceNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSN + 1
}

// Add appends a newly produced change, assigning it the next sequence
// number, and evicts the oldest ALIVE same-instance change under KEEP_LAST
// once the instance is at depth. The evicted change, if any, must be
// reported to readers via GAP (its slot is no longer resendable).
func (w *WriterHistory) Add(writer guid.GUID, kind cache.Kind, ih instance.Handle, payload []byte) (c *cache.Cache, evicted *cache.Cache) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastSN++
	c = cache.New(writer, w.lastSN, kind, ih, payload)

	if w.qos.Kind == qos.KeepLast && kind == cache.Alive {
		alive := 0
		victim := -1
		for i, s := range w.order {
			if s.Kind == cache.Alive && s.InstanceHandle == c.InstanceHandle {
				alive++
				if victim == -1 || s.SequenceNumber < w.order[victim].SequenceNumber {
					victim = i
				}
			}
		}
		if alive >= w.qos.Depth && victim != -1 {
			evicted = w.order[victim]
			w.order = append(w.order[:victim], w.order[victim+1:]...)
		}
	}

	w.order = append(w.order, c)
	w.persist(c)
	return c, evicted
}

func (w *WriterHistory) persist(c *cache.Cache) {
	if w.durable == nil {
		return
	}
	b, err := c.Marshal()
	if err != nil {
		return
	}
	_ = w.durable.Put(durableKey(c.WriterGUID, c.SequenceNumber), b)
}

// MinSequenceNumber and MaxSequenceNumber bound the changes still held,
// used to answer a reader's HEARTBEAT-driven GAP/ACKNACK bookkeeping.
func (w *WriterHistory) MinSequenceNumber() seqnum.SequenceNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		return seqnum.Unknown
	}
	return w.order[0].SequenceNumber
}

func (w *WriterHistory) MaxSequenceNumber() seqnum.SequenceNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSN
}

// Find returns the change with sequence number sn, if it is still held.
func (w *WriterHistory) Find(sn seqnum.SequenceNumber) *cache.Cache {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.order {
		if c.SequenceNumber == sn {
			return c
		}
	}
	return nil
}

// Iterate visits every held change in SN order, stopping early if fn
// returns false.
func (w *WriterHistory) Iterate(fn func(c *cache.Cache) bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.order {
		if !fn(c) {
			return
		}
	}
}

// Remove drops a change once every matched reliable reader has acked it and
// no best-effort reader can plausibly still need it.
func (w *WriterHistory) Remove(sn seqnum.SequenceNumber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, c := range w.order {
		if c.SequenceNumber == sn {
			w.order = append(w.order[:i], w.order[i+1:]...)
			return
		}
	}
}

func (w *WriterHistory) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{TotalSamples: len(w.order)}
}
