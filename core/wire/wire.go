// Package wire implements the submessage and parameter-list encodings
// exchanged between participants (spec.md §6). Every submessage type is
// registered into a shared CBOR tag set and encoded/decoded through it -
// the same pattern the teacher's server/cborplugin package uses for its
// Request/Response envelope, adapted here to RTPS's half-dozen submessage
// kinds instead of one plugin RPC pair.
package wire

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/latticemw/rtpscore/core/seqnum"
	"github.com/latticemw/rtpscore/guid"
)

// Submessage tag numbers, arbitrary but stable across a deployment.
const (
	tagData = 0xD000 + iota
	tagDataFrag
	tagHeartbeat
	tagAckNack
	tagGap
	tagNackFrag
)

// DataFlags bits carried on a DATA submessage.
type DataFlags uint8

const (
	FlagInlineQos DataFlags = 1 << iota
	FlagKeyOnly
	FlagNoPayload
)

// Data carries one full sample (spec.md §6).
type Data struct {
	WriterID       guid.EntityID
	ReaderID       guid.EntityID
	SequenceNumber seqnum.SequenceNumber
	Flags          DataFlags
	InlineQos      ParameterList `cbor:",omitempty"`
	Payload        []byte        `cbor:",omitempty"`
}

// DataFrag carries a contiguous fragment range of a sample.
type DataFrag struct {
	WriterID            guid.EntityID
	ReaderID            guid.EntityID
	SequenceNumber      seqnum.SequenceNumber
	Flags               DataFlags
	FragmentStartingNum uint32 // 1-based
	FragmentsInSubmessage uint32
	FragmentSize        uint32
	SampleSize          uint32
	InlineQos           ParameterList `cbor:",omitempty"`
	PayloadFragment     []byte
}

// HeartbeatFlags bits carried on a HEARTBEAT submessage.
type HeartbeatFlags uint8

const (
	FlagFinal HeartbeatFlags = 1 << iota
	FlagLiveliness
)

// Heartbeat announces the writer's held SN range.
type Heartbeat struct {
	WriterID guid.EntityID
	ReaderID guid.EntityID
	FirstSN  seqnum.SequenceNumber
	LastSN   seqnum.SequenceNumber
	Count    uint32
	Flags    HeartbeatFlags
}

func (h Heartbeat) Final() bool       { return h.Flags&FlagFinal != 0 }
func (h Heartbeat) Liveliness() bool  { return h.Flags&FlagLiveliness != 0 }

// AckNack reports a reader's received/missing frontier.
type AckNack struct {
	ReaderID guid.EntityID
	WriterID guid.EntityID
	Base     seqnum.SequenceNumber
	Bitmap   []uint32
	Count    uint32
	Final    bool
}

// Set reconstructs the seqnum.Set the bitmap encodes.
func (a AckNack) Set() *seqnum.Set {
	return &seqnum.Set{Base: a.Base, Bitmap: a.Bitmap}
}

// Gap declares a range plus an explicit set as irrelevant.
type Gap struct {
	WriterID guid.EntityID
	ReaderID guid.EntityID
	GapStart seqnum.SequenceNumber
	GapListBase seqnum.SequenceNumber
	GapListBitmap []uint32
}

func (g Gap) GapSet() *seqnum.Set {
	return &seqnum.Set{Base: g.GapListBase, Bitmap: g.GapListBitmap}
}

// NackFrag requests specific fragments of one SN.
type NackFrag struct {
	ReaderID         guid.EntityID
	WriterID         guid.EntityID
	SequenceNumber   seqnum.SequenceNumber
	FragmentNumbers  []uint32
	Count            uint32
}

var tagSet = buildTagSet()

func buildTagSet() cbor.TagSet {
	ts := cbor.NewTagSet()
	must := func(typ interface{}, tag uint64) {
		if err := ts.Add(cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}, reflect.TypeOf(typ), tag); err != nil {
			panic(err)
		}
	}
	must(Data{}, tagData)
	must(DataFrag{}, tagDataFrag)
	must(Heartbeat{}, tagHeartbeat)
	must(AckNack{}, tagAckNack)
	must(Gap{}, tagGap)
	must(NackFrag{}, tagNackFrag)
	return ts
}

var (
	encMode, _ = cbor.CTAP2EncOptions().EncModeWithTags(tagSet)
	decMode, _ = cbor.DecOptions{}.DecModeWithTags(tagSet)
)

// Marshal encodes any registered submessage type with its tag.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// UnmarshalSubmessage decodes b into whichever registered submessage type
// its tag identifies, returning it as one of *Data, *DataFrag, *Heartbeat,
// *AckNack, *Gap, *NackFrag.
func UnmarshalSubmessage(b []byte) (interface{}, error) {
	var raw cbor.RawTag
	if err := decMode.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	var out interface{}
	switch raw.Number {
	case tagData:
		out = new(Data)
	case tagDataFrag:
		out = new(DataFrag)
	case tagHeartbeat:
		out = new(Heartbeat)
	case tagAckNack:
		out = new(AckNack)
	case tagGap:
		out = new(Gap)
	case tagNackFrag:
		out = new(NackFrag)
	default:
		return nil, ErrUnknownSubmessage
	}
	if err := decMode.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}
