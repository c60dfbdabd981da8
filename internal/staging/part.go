package staging

import (
	"github.com/xtxerr/nrcsync/internal/ingest"
)

// Part is the mutable wrapper of one ingest part.
type Part struct {
	externalID string
	name       string
	payload    ingest.Payload
	dirty      bool
}

func newPart(p *ingest.Part, dirty bool) *Part {
	return &Part{
		externalID: p.ExternalID,
		name:       p.Name,
		payload:    p.Payload.Clone(),
		dirty:      dirty,
	}
}

// ExternalID returns the NRCS id of the part.
func (p *Part) ExternalID() string { return p.externalID }

// Name returns the part name.
func (p *Part) Name() string { return p.name }

// Payload returns a copy of the part payload.
func (p *Part) Payload() ingest.Payload { return p.payload.Clone() }

// SetName renames the part.
func (p *Part) SetName(name string) {
	if p.name != name {
		p.name = name
		p.dirty = true
	}
}

// ReplacePayload swaps the payload, marking the part dirty only when the
// new payload differs.
func (p *Part) ReplacePayload(payload ingest.Payload) {
	if !p.payload.Equal(payload) {
		p.payload = payload.Clone()
		p.dirty = true
	}
}

// SetPayloadProperty writes one top level payload property.
func (p *Part) SetPayloadProperty(key string, value any) error {
	changed, err := setProperty(&p.payload, key, value)
	if err != nil {
		return err
	}
	if changed {
		p.dirty = true
	}
	return nil
}

func (p *Part) toIngest(rank float64) *ingest.Part {
	return &ingest.Part{
		ExternalID: p.externalID,
		Name:       p.name,
		Rank:       rank,
		Payload:    p.payload.Clone(),
	}
}

// setProperty writes key on a cloned payload and reports whether the
// result differs. The clone keeps the old payload intact on error.
func setProperty(payload *ingest.Payload, key string, value any) (bool, error) {
	next := payload.Clone()
	if err := next.Set(key, value); err != nil {
		return false, err
	}
	if payload.Equal(next) {
		return false, nil
	}
	*payload = next
	return true, nil
}
