package staging

import (
	"github.com/xtxerr/nrcsync/internal/ingest"
)

// Segment is the mutable wrapper of one ingest segment.
type Segment struct {
	externalID string
	name       string
	payload    ingest.Payload
	parts      []*Part
	dirty      bool

	// State as last loaded or serialized. originalID is empty for a
	// segment created during this operation.
	originalID        string
	originalPosition  int
	originalPartIndex map[string]int
}

func newSegment(s *ingest.Segment, dirty bool) *Segment {
	seg := &Segment{
		externalID:       s.ExternalID,
		name:             s.Name,
		payload:          s.Payload.Clone(),
		parts:            make([]*Part, 0, len(s.Parts)),
		dirty:            dirty,
		originalPosition: -1,
	}
	for _, p := range s.Parts {
		seg.parts = append(seg.parts, newPart(p, dirty))
	}
	return seg
}

// markClean records the current state as the baseline.
func (s *Segment) markClean(position int) {
	s.dirty = false
	s.originalID = s.externalID
	s.originalPosition = position
	s.originalPartIndex = make(map[string]int, len(s.parts))
	for i, p := range s.parts {
		p.dirty = false
		s.originalPartIndex[p.externalID] = i
	}
}

// ExternalID returns the current NRCS id of the segment.
func (s *Segment) ExternalID() string { return s.externalID }

// OriginalExternalID returns the id the segment was loaded under, empty
// for a segment created during this operation.
func (s *Segment) OriginalExternalID() string { return s.originalID }

// Name returns the segment name.
func (s *Segment) Name() string { return s.name }

// Payload returns a copy of the segment payload.
func (s *Segment) Payload() ingest.Payload { return s.payload.Clone() }

// SetName renames the segment.
func (s *Segment) SetName(name string) {
	if s.name != name {
		s.name = name
		s.dirty = true
	}
}

// ReplacePayload swaps the payload, marking the segment dirty only when
// the new payload differs.
func (s *Segment) ReplacePayload(payload ingest.Payload) {
	if !s.payload.Equal(payload) {
		s.payload = payload.Clone()
		s.dirty = true
	}
}

// SetPayloadProperty writes one top level payload property.
func (s *Segment) SetPayloadProperty(key string, value any) error {
	changed, err := setProperty(&s.payload, key, value)
	if err != nil {
		return err
	}
	if changed {
		s.dirty = true
	}
	return nil
}

// ForceRegenerate marks the segment for regeneration without any change.
func (s *Segment) ForceRegenerate() {
	s.dirty = true
}

// Parts returns the parts in order.
func (s *Segment) Parts() []*Part {
	out := make([]*Part, len(s.parts))
	copy(out, s.parts)
	return out
}

// PartIDs returns the part ids in order.
func (s *Segment) PartIDs() []string {
	return ids(s.parts)
}

// Part returns the part with the given id, or nil.
func (s *Segment) Part(id string) *Part {
	if i := indexOf(s.parts, id); i >= 0 {
		return s.parts[i]
	}
	return nil
}

// ReplacePart inserts or replaces a part. With an empty beforeID an
// existing part is replaced in place and a new one appended; otherwise the
// part is placed directly before beforeID.
func (s *Segment) ReplacePart(p *ingest.Part, beforeID string) (*Part, error) {
	wrapped := newPart(p, true)
	parts, err := replaceItem("part", s.parts, wrapped, beforeID)
	if err != nil {
		return nil, err
	}
	s.parts = parts
	return wrapped, nil
}

// RemovePart drops a part and reports whether it existed.
func (s *Segment) RemovePart(id string) bool {
	i := indexOf(s.parts, id)
	if i < 0 {
		return false
	}
	s.parts = removeAt(s.parts, i)
	return true
}

// RemoveAllParts drops every part.
func (s *Segment) RemoveAllParts() {
	s.parts = nil
}

// MovePartBefore moves a part directly before beforeID, or to the end
// when beforeID is empty.
func (s *Segment) MovePartBefore(id, beforeID string) error {
	parts, err := moveBefore("part", s.parts, id, beforeID)
	if err != nil {
		return err
	}
	s.parts = parts
	return nil
}

// MovePartAfter moves a part directly after afterID, or to the start when
// afterID is empty.
func (s *Segment) MovePartAfter(id, afterID string) error {
	parts, err := moveAfter("part", s.parts, id, afterID)
	if err != nil {
		return err
	}
	s.parts = parts
	return nil
}

// hasChanges reports whether the segment needs regeneration. Only a rank
// move or a rename do not count.
func (s *Segment) hasChanges() bool {
	if s.dirty || s.originalID == "" || len(s.parts) != len(s.originalPartIndex) {
		return true
	}
	for i, p := range s.parts {
		if p.dirty {
			return true
		}
		if orig, ok := s.originalPartIndex[p.externalID]; !ok || orig != i {
			return true
		}
	}
	return false
}
