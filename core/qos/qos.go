// Package qos defines the Quality-of-Service policy types shared by readers,
// writers, and the EndpointMatcher (spec.md §4.5).
package qos

import "time"

// ReliabilityKind selects best-effort or reliable delivery.
type ReliabilityKind uint8

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

// DurabilityKind orders the late-joiner durability levels; larger values
// are "more durable" per spec.md §4.5's VOLATILE < TRANSIENT_LOCAL <
// TRANSIENT < PERSISTENT ordering.
type DurabilityKind uint8

const (
	Volatile DurabilityKind = iota
	TransientLocal
	Transient
	Persistent
)

// HistoryKind selects KEEP_LAST or KEEP_ALL (spec.md §3).
type HistoryKind uint8

const (
	KeepLast HistoryKind = iota
	KeepAll
)

// OwnershipKind selects shared or exclusive ownership per instance.
type OwnershipKind uint8

const (
	SharedOwnership OwnershipKind = iota
	ExclusiveOwnership
)

// LivelinessKind orders liveliness assertion mechanisms; larger values
// assert less automatically, per spec.md §4.5's AUTOMATIC <
// MANUAL_BY_PARTICIPANT < MANUAL_BY_TOPIC ordering.
type LivelinessKind uint8

const (
	Automatic LivelinessKind = iota
	ManualByParticipant
	ManualByTopic
)

// TopicKind distinguishes keyed ("with key") from keyless topics.
type TopicKind uint8

const (
	NoKey TopicKind = iota
	WithKey
)

// DataRepresentation enumerates CDR encoding variants a DataRepresentation
// QoS policy may list, in preference order.
type DataRepresentation uint16

const (
	XCDR DataRepresentation = iota
	XCDR2
	XML
)

// HistoryQoS bounds how many samples are kept, overall and per instance
// (spec.md §3, §4.1).
type HistoryQoS struct {
	Kind                  HistoryKind
	Depth                 int // KEEP_LAST per-instance cap
	MaxSamples            int
	MaxInstances          int
	MaxSamplesPerInstance int // KEEP_ALL per-instance cap
}

// ReliabilityQoS configures delivery guarantee and (for reliable endpoints)
// retransmission pacing.
type ReliabilityQoS struct {
	Kind                    ReliabilityKind
	MaxBlockingTime         time.Duration
	HeartbeatPeriod         time.Duration
	HeartbeatResponseDelay  time.Duration
	NackResponseDelay       time.Duration
	DisablePositiveAcks     bool
}

// DeadlineQoS bounds the maximum period between samples of an instance.
type DeadlineQoS struct {
	Period time.Duration
}

// LivelinessQoS configures how and how often an endpoint must assert it is
// still alive.
type LivelinessQoS struct {
	Kind          LivelinessKind
	LeaseDuration time.Duration
}

// OwnershipQoS selects shared vs. exclusive instance ownership.
type OwnershipQoS struct {
	Kind OwnershipKind
}

// OwnershipStrengthQoS is the writer's strength when OwnershipQoS is
// exclusive.
type OwnershipStrengthQoS struct {
	Value int32
}

// DataRepresentationQoS lists acceptable encodings in preference order.
type DataRepresentationQoS struct {
	Representations []DataRepresentation
}

// EndpointQoS bundles every policy relevant to matching and to the
// reader/writer state machines.
type EndpointQoS struct {
	Reliability         ReliabilityQoS
	Durability           DurabilityQoS
	History              HistoryQoS
	Deadline             DeadlineQoS
	Liveliness           LivelinessQoS
	Ownership            OwnershipQoS
	OwnershipStrength    OwnershipStrengthQoS
	DataRepresentation   DataRepresentationQoS
	Partitions           []string
}

// DurabilityQoS selects the durability level.
type DurabilityQoS struct {
	Kind DurabilityKind
}

// Default returns a best-effort, volatile, KEEP_LAST depth-1 profile - the
// minimal valid configuration.
func Default() EndpointQoS {
	return EndpointQoS{
		Reliability: ReliabilityQoS{
			Kind:                   BestEffort,
			MaxBlockingTime:        100 * time.Millisecond,
			HeartbeatPeriod:        time.Second,
			HeartbeatResponseDelay: 10 * time.Millisecond,
			NackResponseDelay:      10 * time.Millisecond,
		},
		Durability: DurabilityQoS{Kind: Volatile},
		History: HistoryQoS{
			Kind:                  KeepLast,
			Depth:                 1,
			MaxSamples:            1024,
			MaxInstances:          256,
			MaxSamplesPerInstance: 64,
		},
		Liveliness: LivelinessQoS{
			Kind:          Automatic,
			LeaseDuration: 10 * time.Second,
		},
	}
}

// Validate enforces the construction-time checks spec.md §7 kind-6 requires
// (empty/inconsistent configuration is a construction failure, not a
// runtime one).
func (q EndpointQoS) Validate() error {
	if q.History.Kind == KeepLast && q.History.Depth <= 0 {
		return ErrInvalidHistoryDepth
	}
	if q.History.MaxSamples <= 0 {
		return ErrInvalidMaxSamples
	}
	return nil
}
