package ingest

import (
	"bytes"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/nrcsync/internal/errors"
)

// Payload is the opaque structured data an NRCS attaches to a rundown,
// segment or part. Only customization code interprets it.
//
// The zero Payload means "no payload" and is distinct from an empty object.
type Payload struct {
	data *structpb.Struct
}

// NewPayload builds a payload from a JSON-like map.
func NewPayload(m map[string]any) (Payload, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return Payload{}, errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	return Payload{data: s}, nil
}

// MustPayload is NewPayload for literals known to be valid.
func MustPayload(m map[string]any) Payload {
	p, err := NewPayload(m)
	if err != nil {
		panic(err)
	}
	return p
}

// PayloadFromStruct wraps an existing struct without copying it.
func PayloadFromStruct(s *structpb.Struct) Payload {
	return Payload{data: s}
}

// IsZero reports whether no payload is set.
func (p Payload) IsZero() bool {
	return p.data == nil
}

// Struct returns the underlying protobuf struct (nil when unset).
func (p Payload) Struct() *structpb.Struct {
	return p.data
}

// AsMap converts the payload to plain Go values.
func (p Payload) AsMap() map[string]any {
	if p.data == nil {
		return nil
	}
	return p.data.AsMap()
}

// Equal reports deep equality. Two unset payloads are equal; an unset
// payload never equals a set one, even an empty one.
func (p Payload) Equal(o Payload) bool {
	if p.data == nil || o.data == nil {
		return p.data == nil && o.data == nil
	}
	return proto.Equal(p.data, o.data)
}

// Clone returns a deep copy.
func (p Payload) Clone() Payload {
	if p.data == nil {
		return Payload{}
	}
	return Payload{data: proto.Clone(p.data).(*structpb.Struct)}
}

// Get returns the value of a top level property.
func (p Payload) Get(key string) (any, bool) {
	if p.data == nil {
		return nil, false
	}
	v, ok := p.data.Fields[key]
	if !ok {
		return nil, false
	}
	return v.AsInterface(), true
}

// Set writes a top level property in place. It fails on an unset payload,
// since there is no object to write into.
func (p Payload) Set(key string, value any) error {
	if p.data == nil {
		return errors.Wrapf(errors.ErrPayloadUnset, "set property %q", key)
	}
	v, err := structpb.NewValue(value)
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "property %q: %v", key, err)
	}
	if p.data.Fields == nil {
		p.data.Fields = make(map[string]*structpb.Value)
	}
	p.data.Fields[key] = v
	return nil
}

// Fingerprint returns a deterministic binary encoding used for hashing.
// Map keys are sorted, so equal payloads always produce equal bytes.
func (p Payload) Fingerprint() []byte {
	if p.data == nil {
		return nil
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(p.data)
	if err != nil {
		return nil
	}
	return b
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.data == nil {
		return []byte("null"), nil
	}
	return protojson.Marshal(p.data)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		p.data = nil
		return nil
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return errors.Wrap(errors.ErrInvalidRequest, "payload: "+err.Error())
	}
	p.data = s
	return nil
}
