// Package cache implements the single sample-buffer record (component C1,
// spec.md §4.1): identity (writer-id, sequence-number), payload, kind,
// fragment map, and flags. A Cache is immutable after reception except for
// its flags (spec.md §3).
//
// Cache values cross process/transport boundaries CBOR-encoded via
// github.com/fxamacker/cbor/v2, the teacher's own encoding of choice for
// every structured record that leaves a process (server/cborplugin's
// Request/Response, core/pki's MixDescriptor).
package cache

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/latticemw/rtpscore/core/instance"
	"github.com/latticemw/rtpscore/core/seqnum"
	"github.com/latticemw/rtpscore/guid"
)

// Kind is the change kind carried by a Cache.
type Kind uint8

const (
	Alive Kind = iota
	NotAliveDisposed
	NotAliveUnregistered
	NotAliveDisposedUnregistered
)

func (k Kind) String() string {
	switch k {
	case Alive:
		return "ALIVE"
	case NotAliveDisposed:
		return "NOT_ALIVE_DISPOSED"
	case NotAliveUnregistered:
		return "NOT_ALIVE_UNREGISTERED"
	case NotAliveDisposedUnregistered:
		return "NOT_ALIVE_DISPOSED_UNREGISTERED"
	default:
		return "UNKNOWN"
	}
}

// FragmentMap tracks reassembly progress for a change delivered as
// DATA_FRAG submessages.
type FragmentMap struct {
	FragmentSize   uint32
	SampleSize     uint32
	TotalFragments uint32
	// Received is a bitmap, one bit per 1-based fragment number.
	Received []bool
}

// NewFragmentMap allocates a FragmentMap sized for sampleSize split into
// fragmentSize chunks.
func NewFragmentMap(sampleSize, fragmentSize uint32) *FragmentMap {
	total := sampleSize / fragmentSize
	if sampleSize%fragmentSize != 0 {
		total++
	}
	return &FragmentMap{
		FragmentSize:   fragmentSize,
		SampleSize:     sampleSize,
		TotalFragments: total,
		Received:       make([]bool, total),
	}
}

// MarkReceived records that 1-based fragment numbers [start, start+count)
// have arrived.
func (f *FragmentMap) MarkReceived(start, count uint32) {
	for i := uint32(0); i < count; i++ {
		idx := start - 1 + i
		if idx < uint32(len(f.Received)) {
			f.Received[idx] = true
		}
	}
}

// Complete reports whether every fragment has been received.
func (f *FragmentMap) Complete() bool {
	for _, v := range f.Received {
		if !v {
			return false
		}
	}
	return true
}

// Missing returns the 1-based fragment numbers still outstanding.
func (f *FragmentMap) Missing() []uint32 {
	var m []uint32
	for i, v := range f.Received {
		if !v {
			m = append(m, uint32(i+1))
		}
	}
	return m
}

// Cache is one sample-buffer record: identity, payload, kind, fragment
// state, and mutable flags (spec.md §3).
type Cache struct {
	WriterGUID        guid.GUID
	SequenceNumber    seqnum.SequenceNumber
	SourceTimestamp   time.Time
	ReceptionTime     time.Time
	Kind              Kind
	InstanceHandle    instance.Handle
	Payload           []byte
	EncapsulationKind uint16
	InlineQos         map[string]interface{} `cbor:",omitempty"`
	Fragments         *FragmentMap            `cbor:",omitempty"`
	OwnershipStrength int32

	// IsRead is set once the application has taken/read the sample.
	IsRead bool
	// IsRelevant is false for a sample explicitly filtered or GAPed away;
	// irrelevant caches still occupy a slot in WriterProxy bookkeeping but
	// are never delivered to the application.
	IsRelevant bool
}

// New constructs a fully-received (non-fragmented) Cache.
func New(writer guid.GUID, sn seqnum.SequenceNumber, kind Kind, ih instance.Handle, payload []byte) *Cache {
	return &Cache{
		WriterGUID:      writer,
		SequenceNumber:  sn,
		Kind:            kind,
		InstanceHandle:  ih,
		Payload:         payload,
		ReceptionTime:   time.Now(),
		SourceTimestamp: time.Now(),
		IsRelevant:      true,
	}
}

// Marshal CBOR-encodes the cache for durable storage or wire transfer.
func (c *Cache) Marshal() ([]byte, error) {
	return cbor.Marshal(c)
}

// Unmarshal decodes a CBOR-encoded Cache.
func Unmarshal(b []byte) (*Cache, error) {
	c := new(Cache)
	if err := cbor.Unmarshal(b, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RejectionReason enumerates the history-admission outcomes surfaced to the
// user listener (spec.md §4.1).
type RejectionReason uint8

const (
	NotRejected RejectionReason = iota
	RejectedByInstancesLimit
	RejectedBySamplesLimit
	RejectedBySamplesPerInstanceLimit
)

func (r RejectionReason) String() string {
	switch r {
	case NotRejected:
		return "NOT_REJECTED"
	case RejectedByInstancesLimit:
		return "REJECTED_BY_INSTANCES_LIMIT"
	case RejectedBySamplesLimit:
		return "REJECTED_BY_SAMPLES_LIMIT"
	case RejectedBySamplesPerInstanceLimit:
		return "REJECTED_BY_SAMPLES_PER_INSTANCE_LIMIT"
	default:
		return "UNKNOWN"
	}
}
