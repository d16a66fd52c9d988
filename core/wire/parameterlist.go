package wire

import "github.com/fxamacker/cbor/v2"

// PID identifies one parameter in a discovery ParameterList (spec.md §6).
type PID uint16

const (
	PIDTopicName PID = iota + 1
	PIDTypeName
	PIDTypeInformation
	PIDReliability
	PIDDurability
	PIDContentFilterProperty
)

// Parameter is one PID/value pair; Value is the CBOR encoding of whatever
// Go type that PID carries.
type Parameter struct {
	ID    PID
	Value []byte
}

// ParameterList is the PID-encoded key/value sequence carrying discovery
// metadata (spec.md §6).
type ParameterList []Parameter

// Get returns the raw CBOR value for id, if present.
func (pl ParameterList) Get(id PID) ([]byte, bool) {
	for _, p := range pl {
		if p.ID == id {
			return p.Value, true
		}
	}
	return nil, false
}

// Set replaces or appends id's value.
func (pl *ParameterList) Set(id PID, v interface{}) error {
	b, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	for i, p := range *pl {
		if p.ID == id {
			(*pl)[i].Value = b
			return nil
		}
	}
	*pl = append(*pl, Parameter{ID: id, Value: b})
	return nil
}

// GetString decodes id's value as a string.
func (pl ParameterList) GetString(id PID) (string, bool) {
	raw, ok := pl.Get(id)
	if !ok {
		return "", false
	}
	var s string
	if err := cbor.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// maxContentFilterFieldLength is the per-field cap spec.md §6 enforces on
// content-filter-property strings.
const maxContentFilterFieldLength = 255

// ContentFilterProperty carries a reader-side content filter's identity
// and expression.
type ContentFilterProperty struct {
	ContentFilteredTopicName string
	RelatedTopicName         string
	FilterClassName          string
	FilterExpression         string
}

func (c ContentFilterProperty) valid() bool {
	for _, s := range []string{c.ContentFilteredTopicName, c.RelatedTopicName, c.FilterClassName, c.FilterExpression} {
		if len(s) == 0 || len(s) > maxContentFilterFieldLength {
			return false
		}
	}
	return true
}

// SetContentFilterProperty installs c into pl, or silently drops the
// parameter entirely if any field is empty or exceeds 255 characters
// (spec.md §6: "the whole parameter dropped silently").
func (pl *ParameterList) SetContentFilterProperty(c ContentFilterProperty) {
	if !c.valid() {
		return
	}
	_ = pl.Set(PIDContentFilterProperty, c)
}

// ContentFilterProperty decodes the content-filter-property parameter, if
// present and valid.
func (pl ParameterList) ContentFilterProperty() (ContentFilterProperty, bool) {
	raw, ok := pl.Get(PIDContentFilterProperty)
	if !ok {
		return ContentFilterProperty{}, false
	}
	var c ContentFilterProperty
	if err := cbor.Unmarshal(raw, &c); err != nil {
		return ContentFilterProperty{}, false
	}
	if !c.valid() {
		return ContentFilterProperty{}, false
	}
	return c, true
}
