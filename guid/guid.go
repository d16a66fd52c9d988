// Package guid implements the RTPS GUID: a 16-byte identity made of a
// 12-byte participant prefix and a 4-byte entity id (spec.md §3). It is the
// primary key for every endpoint and participant in the module, and - in
// the teacher's idiom of using fixed-size byte arrays rather than slices for
// anything used as a map key (client2/arq.go's
// [sConstants.SURBIDLength]byte SURB IDs, [32]byte destination hashes) -
// GUID is a plain comparable array type, not a struct wrapping a slice.
package guid

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
)

const (
	// PrefixLength is the size in bytes of the participant prefix.
	PrefixLength = 12
	// EntityIDLength is the size in bytes of the entity id.
	EntityIDLength = 4
	// Length is the total size in bytes of a GUID.
	Length = PrefixLength + EntityIDLength
)

// Prefix identifies a participant.
type Prefix [PrefixLength]byte

// EntityID identifies an endpoint within a participant.
type EntityID [EntityIDLength]byte

// Well-known reserved entity ids (RTPS spec, builtin discovery endpoints).
var (
	EntityIDUnknown                      = EntityID{0x00, 0x00, 0x00, 0x00}
	EntityIDParticipant                  = EntityID{0x00, 0x00, 0x01, 0xc1}
	EntityIDSEDPBuiltinTopicWriter       = EntityID{0x00, 0x00, 0x02, 0xc2}
	EntityIDSEDPBuiltinTopicReader       = EntityID{0x00, 0x00, 0x02, 0xc7}
	EntityIDSEDPBuiltinPublicationWriter = EntityID{0x00, 0x00, 0x03, 0xc2}
	EntityIDSEDPBuiltinPublicationReader = EntityID{0x00, 0x00, 0x03, 0xc7}
	EntityIDSPDPBuiltinWriter            = EntityID{0x00, 0x01, 0x00, 0xc2}
	EntityIDSPDPBuiltinReader            = EntityID{0x00, 0x01, 0x00, 0xc7}
)

// GUID is the 16-byte global identifier of a participant or endpoint.
type GUID [Length]byte

// ErrInvalidLength is returned by FromBytes when the input is not exactly
// Length bytes.
var ErrInvalidLength = errors.New("guid: invalid length")

// New composes a GUID from a participant prefix and an entity id.
func New(prefix Prefix, entity EntityID) GUID {
	var g GUID
	copy(g[:PrefixLength], prefix[:])
	copy(g[PrefixLength:], entity[:])
	return g
}

// FromBytes parses a GUID from a 16-byte slice.
func FromBytes(b []byte) (GUID, error) {
	var g GUID
	if len(b) != Length {
		return g, ErrInvalidLength
	}
	copy(g[:], b)
	return g, nil
}

// Prefix returns the participant-prefix component.
func (g GUID) Prefix() Prefix {
	var p Prefix
	copy(p[:], g[:PrefixLength])
	return p
}

// EntityID returns the entity-id component.
func (g GUID) EntityID() EntityID {
	var e EntityID
	copy(e[:], g[PrefixLength:])
	return e
}

// IsUnknown reports whether g is the all-zero GUID.
func (g GUID) IsUnknown() bool {
	return g == GUID{}
}

// String renders the GUID as prefix:entity hex, e.g. for log lines.
func (g GUID) String() string {
	return hex.EncodeToString(g[:PrefixLength]) + ":" + hex.EncodeToString(g[PrefixLength:])
}

// Uint32 returns the entity id as a big-endian uint32, as used by some
// well-known entity-id comparisons.
func (e EntityID) Uint32() uint32 {
	return binary.BigEndian.Uint32(e[:])
}
