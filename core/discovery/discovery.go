// Package discovery defines the contracts this module consumes from the
// participant discovery protocol (PDP), which is out of scope (spec.md §1,
// §6): participant descriptors and lifecycle callbacks, modeled the way
// the teacher's core/pki package models MixDescriptor - a plain struct
// with a validation method and an Addresses-style locator map, rather than
// a generated protobuf type.
package discovery

import (
	"errors"
	"time"

	"github.com/latticemw/rtpscore/guid"
)

// TypePropagationPolicy controls how much type information a participant
// advertises about its endpoints (spec.md §6).
type TypePropagationPolicy uint8

const (
	TypePropagationEnabled TypePropagationPolicy = iota
	TypePropagationMinimalBandwidth
	TypePropagationRegistrationOnly
)

// LostReason explains why a participant is no longer considered present.
type LostReason uint8

const (
	LostRemoved LostReason = iota
	LostDropped
)

func (r LostReason) String() string {
	if r == LostDropped {
		return "DROPPED"
	}
	return "REMOVED"
}

// ParticipantDescriptor is the discovered-peer record this module reads
// from PDP, modeled on the teacher's MixDescriptor: identity, a locator
// map in place of Addresses, and a Validate method run before use.
type ParticipantDescriptor struct {
	Prefix                guid.Prefix
	MetatrafficLocators   []string
	DefaultLocators       []string
	Vendor                string
	LeaseDuration         time.Duration
	TypePropagationPolicy TypePropagationPolicy
}

var (
	ErrNoDefaultLocators = errors.New("discovery: participant descriptor has no default locators")
	ErrNoLease           = errors.New("discovery: participant descriptor has non-positive lease duration")
)

// Validate mirrors core/pki's IsDescriptorWellFormed: a discovered
// descriptor with no usable locators or a non-positive lease is rejected
// before it is installed anywhere.
func (d ParticipantDescriptor) Validate() error {
	if len(d.DefaultLocators) == 0 {
		return ErrNoDefaultLocators
	}
	if d.LeaseDuration <= 0 {
		return ErrNoLease
	}
	return nil
}

// EndpointRef identifies one local reader or writer for ForEachUser* calls.
type EndpointRef struct {
	GUID      guid.GUID
	TopicName string
}

// ParticipantRegistry is the consumed-from-PDP contract (spec.md §6):
// lookups and iteration over the participant's own endpoints, plus the
// discovery lifecycle callbacks PDP drives. The concrete PDP implementation
// is out of scope; only this interface is specified.
type ParticipantRegistry interface {
	LookupParticipant(prefix guid.Prefix) (ParticipantDescriptor, bool)
	ForEachUserReader(fn func(EndpointRef))
	ForEachUserWriter(fn func(EndpointRef))

	OnParticipantDiscovered(descriptor ParticipantDescriptor)
	OnParticipantLost(prefix guid.Prefix, reason LostReason)
}
