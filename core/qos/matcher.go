// EndpointMatcher (component C5, spec.md §4.5): a pure QoS-compatibility
// predicate plus topic/type/partition matching, with no goroutines of its
// own - match evaluation stays synchronous and side-effect free so callers
// can run it under whichever lock they already hold.
package qos

import (
	"path"
	"strings"
)

// ReasonMask bits describe why two endpoint descriptors did or didn't
// match, independent of which QoS policies were incompatible.
type ReasonMask uint32

const (
	DifferentTopic ReasonMask = 1 << iota
	InconsistentTopic
	DifferentTypeInfo
	IncompatibleQoS
	Partitions
)

// QoSMask bits identify which policies were incompatible, surfaced to
// on_requested_incompatible_qos / on_offered_incompatible_qos listeners.
type QoSMask uint32

const (
	QoSReliability QoSMask = 1 << iota
	QoSDurability
	QoSOwnership
	QoSDeadline
	QoSLiveliness
	QoSDisablePositiveAcks
	QoSDataRepresentation
)

// EndpointDescriptor is the matcher-facing view of a local or remote
// reader/writer: topic/type identity, topic kind, QoS, and partitions.
type EndpointDescriptor struct {
	TopicName      string
	TypeName       string
	TypeIdentifier []byte // present iff full type info was propagated
	TopicKind      TopicKind
	QoS            EndpointQoS
}

// ValidMatching implements spec.md §4.5's valid_matching(writer, reader).
func ValidMatching(writer, reader EndpointDescriptor) (matched bool, reason ReasonMask, incompatible QoSMask) {
	if writer.TopicName != reader.TopicName {
		reason |= DifferentTopic
		return false, reason, 0
	}
	if writer.TopicKind != reader.TopicKind {
		reason |= InconsistentTopic
		return false, reason, 0
	}
	if !typeCompatible(writer, reader) {
		reason |= DifferentTypeInfo
		return false, reason, 0
	}

	incompatible = qosIncompatibilities(writer.QoS, reader.QoS)
	if incompatible != 0 {
		reason |= IncompatibleQoS
		return false, reason, incompatible
	}

	if !partitionsMatch(writer.QoS.Partitions, reader.QoS.Partitions) {
		reason |= Partitions
		return false, reason, 0
	}

	return true, 0, 0
}

func typeCompatible(writer, reader EndpointDescriptor) bool {
	if len(writer.TypeIdentifier) > 0 && len(reader.TypeIdentifier) > 0 {
		return string(writer.TypeIdentifier) == string(reader.TypeIdentifier)
	}
	return writer.TypeName == reader.TypeName
}

func qosIncompatibilities(w, r EndpointQoS) QoSMask {
	var mask QoSMask

	// Reliability: writer BEST_EFFORT & reader BEST_EFFORT, or writer
	// RELIABLE (any reader).
	if w.Reliability.Kind == BestEffort && r.Reliability.Kind == Reliable {
		mask |= QoSReliability
	}

	// Durability: writer kind must be >= reader kind.
	if w.Durability.Kind < r.Durability.Kind {
		mask |= QoSDurability
	}

	// Ownership: kinds must be equal.
	if w.Ownership.Kind != r.Ownership.Kind {
		mask |= QoSOwnership
	}

	// Deadline: writer period <= reader period (zero period means
	// "no deadline", treated as the maximum possible period).
	if r.Deadline.Period > 0 {
		if w.Deadline.Period == 0 || w.Deadline.Period > r.Deadline.Period {
			mask |= QoSDeadline
		}
	}

	// Liveliness: writer kind >= reader kind, writer lease <= reader lease.
	if w.Liveliness.Kind < r.Liveliness.Kind {
		mask |= QoSLiveliness
	} else if r.Liveliness.LeaseDuration > 0 && w.Liveliness.LeaseDuration > r.Liveliness.LeaseDuration {
		mask |= QoSLiveliness
	}

	// DisablePositiveAcks: if reader has it enabled, writer must too.
	if r.Reliability.DisablePositiveAcks && !w.Reliability.DisablePositiveAcks {
		mask |= QoSDisablePositiveAcks
	}

	// DataRepresentation: writer's first choice must appear in reader's
	// list (XCDR default when reader list is empty).
	if len(r.DataRepresentation.Representations) > 0 {
		writerChoice := XCDR
		if len(w.DataRepresentation.Representations) > 0 {
			writerChoice = w.DataRepresentation.Representations[0]
		}
		found := false
		for _, rep := range r.DataRepresentation.Representations {
			if rep == writerChoice {
				found = true
				break
			}
		}
		if !found {
			mask |= QoSDataRepresentation
		}
	}

	return mask
}

// partitionsMatch implements spec.md §4.5's partition check: compatible if
// both are empty, or one side contains the empty string while the other
// has any entry, or any pair glob-matches (supporting * and ?).
func partitionsMatch(writerParts, readerParts []string) bool {
	if len(writerParts) == 0 && len(readerParts) == 0 {
		return true
	}
	if containsEmpty(writerParts) && len(readerParts) > 0 {
		return true
	}
	if containsEmpty(readerParts) && len(writerParts) > 0 {
		return true
	}
	for _, w := range writerParts {
		for _, r := range readerParts {
			if globMatch(w, r) || globMatch(r, w) {
				return true
			}
		}
	}
	return false
}

func containsEmpty(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return true
		}
	}
	return false
}

func globMatch(pattern, name string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == name
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
