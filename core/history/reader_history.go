package history

import (
	"sync"

	"github.com/latticemw/rtpscore/core/cache"
	"github.com/latticemw/rtpscore/core/instance"
	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/core/seqnum"
	"github.com/latticemw/rtpscore/guid"
)

// instanceEntry tracks the caches held for one instance handle, merged
// across every writer that has written it (relevant to exclusive-ownership
// topics where more than one writer may target the same instance).
type instanceEntry struct {
	handle   instance.Handle
	samples  []*cache.Cache // ordered by arrival; per-writer SN order preserved
}

func (e *instanceEntry) aliveCount() int {
	n := 0
	for _, c := range e.samples {
		if c.Kind == cache.Alive {
			n++
		}
	}
	return n
}

// ReaderHistory is the QoS-bounded collection a StatefulReader inserts
// admitted caches into (spec.md §3, §4.1). It is safe for concurrent use.
type ReaderHistory struct {
	mu sync.Mutex

	qos       qos.HistoryQoS
	topicKind qos.TopicKind
	durable   DurableStore

	// Keyless: a single flat ordered list, arrival order, possibly mixing
	// several writers.
	keyless []*cache.Cache

	// Keyed: one entry per live instance handle.
	instances      map[instance.Handle]*instanceEntry
	instanceOrder  []instance.Handle // creation order, scanned for eviction of empty instances

	total int // total sample count, keyless+keyed, used against MaxSamples
}

// NewReaderHistory builds a ReaderHistory bounded by the given HistoryQoS.
// durable may be nil; when non-nil every admitted cache is additionally
// persisted under a key made of the writer GUID bytes followed by the
// sequence number as 8 big-endian bytes.
func NewReaderHistory(topicKind qos.TopicKind, h qos.HistoryQoS, durable DurableStore) *ReaderHistory {
	return &ReaderHistory{
		qos:       h,
		topicKind: topicKind,
		durable:   durable,
		instances: make(map[instance.Handle]*instanceEntry),
	}
}

// Insert attempts to admit c into the history, following spec.md §4.1's
// admission algorithm. unknownMissing is the WriterProxy's count of changes
// not yet received up to c's sequence number (consulted only by the KEEP_ALL
// capacity check, globally for keyless topics and per instance for keyed
// ones). It returns whether c was admitted, the
// rejection reason when it was not, and any cache evicted to make room.
func (h *ReaderHistory) Insert(c *cache.Cache, unknownMissing int) (admitted bool, reason cache.RejectionReason, evicted *cache.Cache) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topicKind == qos.NoKey {
		admitted, evicted = h.admitKeyless(&h.keyless, c, unknownMissing)
		if !admitted {
			return false, cache.RejectedBySamplesLimit, nil
		}
		h.total++
		if evicted != nil {
			h.total--
		}
		h.persist(c)
		return true, cache.NotRejected, evicted
	}

	entry, ok := h.instances[c.InstanceHandle]
	if !ok {
		if len(h.instances) >= h.qos.MaxInstances {
			if !h.evictEmptyInstance() {
				return false, cache.RejectedByInstancesLimit, nil
			}
		}
		entry = &instanceEntry{handle: c.InstanceHandle}
		h.instances[c.InstanceHandle] = entry
		h.instanceOrder = append(h.instanceOrder, c.InstanceHandle)
	}

	admitted, evicted = h.admitKeyless(&entry.samples, c, unknownMissing)
	if !admitted {
		return false, cache.RejectedBySamplesPerInstanceLimit, nil
	}

	if h.total+1 > h.qos.MaxSamples && evicted == nil {
		// Global cap still violated even after any local substitution.
		h.removeFromSamples(&entry.samples, c)
		if len(entry.samples) == 0 {
			h.dropInstance(c.InstanceHandle)
		}
		return false, cache.RejectedBySamplesLimit, nil
	}

	h.total++
	if evicted != nil {
		h.total--
	}
	h.persist(c)
	return true, cache.NotRejected, evicted
}

// admitKeyless applies the KEEP_LAST/KEEP_ALL admission rule from spec.md
// §4.1 against a single ordered list: used directly for non-keyed topics
// and, per instance, for keyed ones.
func (h *ReaderHistory) admitKeyless(list *[]*cache.Cache, c *cache.Cache, unknownMissing int) (bool, *cache.Cache) {
	limit := h.qos.MaxSamples
	if h.qos.MaxSamplesPerInstance > 0 && h.topicKind == qos.WithKey && h.qos.Kind == qos.KeepAll {
		limit = h.qos.MaxSamplesPerInstance
	}

	if h.qos.Kind == qos.KeepAll {
		if len(*list)+unknownMissing >= limit {
			return false, nil
		}
		*list = append(*list, c)
		return true, nil
	}

	// KEEP_LAST: DISPOSED/UNREGISTERED markers are not subject to depth
	// (invariant I5); only ALIVE samples count toward it.
	if c.Kind != cache.Alive {
		*list = append(*list, c)
		return true, nil
	}

	depth := h.qos.Depth
	alive := 0
	for _, s := range *list {
		if s.Kind == cache.Alive {
			alive++
		}
	}
	if alive < depth {
		*list = append(*list, c)
		return true, nil
	}

	// Substitute the oldest ALIVE cache from the same writer with SN
	// strictly less than the incoming one.
	victim := -1
	var victimSN seqnum.SequenceNumber
	for i, s := range *list {
		if s.Kind != cache.Alive || s.WriterGUID != c.WriterGUID || s.SequenceNumber >= c.SequenceNumber {
			continue
		}
		if victim == -1 || s.SequenceNumber < victimSN {
			victim = i
			victimSN = s.SequenceNumber
		}
	}
	if victim == -1 {
		return false, nil
	}
	evicted := (*list)[victim]
	*list = append((*list)[:victim], (*list)[victim+1:]...)
	*list = append(*list, c)
	return true, evicted
}

func (h *ReaderHistory) removeFromSamples(list *[]*cache.Cache, c *cache.Cache) {
	for i, s := range *list {
		if s == c {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// evictEmptyInstance drops the first instance with no remaining samples,
// reclaiming its slot per spec.md §4.1's instance-limit handling.
func (h *ReaderHistory) evictEmptyInstance() bool {
	for i, handle := range h.instanceOrder {
		if entry, ok := h.instances[handle]; ok && len(entry.samples) == 0 {
			delete(h.instances, handle)
			h.instanceOrder = append(h.instanceOrder[:i], h.instanceOrder[i+1:]...)
			return true
		}
	}
	return false
}

func (h *ReaderHistory) dropInstance(handle instance.Handle) {
	delete(h.instances, handle)
	for i, hh := range h.instanceOrder {
		if hh == handle {
			h.instanceOrder = append(h.instanceOrder[:i], h.instanceOrder[i+1:]...)
			return
		}
	}
}

func (h *ReaderHistory) persist(c *cache.Cache) {
	if h.durable == nil {
		return
	}
	b, err := c.Marshal()
	if err != nil {
		return
	}
	_ = h.durable.Put(durableKey(c.WriterGUID, c.SequenceNumber), b)
}

func durableKey(w guid.GUID, sn seqnum.SequenceNumber) []byte {
	key := make([]byte, guid.Length+8)
	copy(key, w[:])
	for i := 0; i < 8; i++ {
		key[guid.Length+i] = byte(sn >> (56 - 8*i))
	}
	return key
}

// Find returns the cache from writer w with sequence number sn, if present.
func (h *ReaderHistory) Find(w guid.GUID, sn seqnum.SequenceNumber) *cache.Cache {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topicKind == qos.NoKey {
		return findIn(h.keyless, w, sn)
	}
	for _, entry := range h.instances {
		if c := findIn(entry.samples, w, sn); c != nil {
			return c
		}
	}
	return nil
}

func findIn(list []*cache.Cache, w guid.GUID, sn seqnum.SequenceNumber) *cache.Cache {
	for _, c := range list {
		if c.WriterGUID == w && c.SequenceNumber == sn {
			return c
		}
	}
	return nil
}

// Remove deletes c from the history (used once a sample has been taken or
// read and is no longer needed to satisfy KEEP_ALL retention).
func (h *ReaderHistory) Remove(c *cache.Cache) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topicKind == qos.NoKey {
		before := len(h.keyless)
		h.removeFromSamples(&h.keyless, c)
		if len(h.keyless) < before {
			h.total--
		}
		return
	}
	entry, ok := h.instances[c.InstanceHandle]
	if !ok {
		return
	}
	before := len(entry.samples)
	h.removeFromSamples(&entry.samples, c)
	if len(entry.samples) < before {
		h.total--
	}
}

// Iterate visits every held cache, read or not, stopping early if fn returns
// false: keyless topics in arrival order, keyed topics instance by instance
// in instance-creation order and in arrival order within each instance.
func (h *ReaderHistory) Iterate(fn func(c *cache.Cache) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topicKind == qos.NoKey {
		for _, c := range h.keyless {
			if !fn(c) {
				return
			}
		}
		return
	}
	for _, handle := range h.instanceOrder {
		entry := h.instances[handle]
		for _, c := range entry.samples {
			if !fn(c) {
				return
			}
		}
	}
}

// Stats reports point-in-time occupancy for metrics export.
type Stats struct {
	TotalSamples   int
	InstanceCount  int
}

func (h *ReaderHistory) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{TotalSamples: h.total, InstanceCount: len(h.instances)}
}
