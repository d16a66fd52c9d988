// Package instance implements the RTPS instance handle: a 16-byte hash of a
// sample's key fields (spec.md §3). For keyless topics every sample shares
// one implicit instance handle.
package instance

import "github.com/latticemw/rtpscore/guid"

// Length is the size in bytes of an instance handle.
const Length = 16

// Handle identifies the equivalence class of samples sharing a key.
type Handle [Length]byte

// Keyless is the single implicit instance handle shared by every sample of
// a keyless topic.
var Keyless Handle

// KeyExtractor computes the instance handle for a sample's serialized
// payload. Supplied externally by the CDR/type-support layer (spec.md §1
// lists "extract-key" as a capability the type system supplies) - this
// package only defines the contract its callers depend on.
type KeyExtractor interface {
	ExtractKey(payload []byte) (Handle, error)
}

// FromWriterGUID derives the instance handle used when the writer's own
// GUID is the instance identity (spec.md §3: "equals the GUID layout when
// the writer itself is the instance").
func FromWriterGUID(g guid.GUID) Handle {
	var h Handle
	copy(h[:], g[:])
	return h
}

// IsKeyless reports whether h is the shared keyless-topic handle.
func (h Handle) IsKeyless() bool {
	return h == Keyless
}
