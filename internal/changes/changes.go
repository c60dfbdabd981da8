// Package changes is the vocabulary describing how an ingest tree moved
// from one delivery to the next.
//
// A NrcsIngestChangeDetails describes a transition, not a state. Segment and
// part changes are tagged values: an id is either inserted, deleted or
// modified in one diff, never two of those at once.
package changes

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xtxerr/nrcsync/internal/errors"
)

// =============================================================================
// Rundown level
// =============================================================================

// RundownChange is the rundown level part of a diff.
type RundownChange int

const (
	// RundownNone leaves rundown name and payload alone.
	RundownNone RundownChange = iota
	// RundownRegenerate rebuilds the whole rundown from the new tree.
	RundownRegenerate
	// RundownPayload replaces name and payload only.
	RundownPayload
)

func (c RundownChange) String() string {
	switch c {
	case RundownNone:
		return "none"
	case RundownRegenerate:
		return "regenerate"
	case RundownPayload:
		return "payload"
	default:
		return fmt.Sprintf("RundownChange(%d)", int(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c RundownChange) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *RundownChange) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "none":
		*c = RundownNone
	case "regenerate":
		*c = RundownRegenerate
	case "payload":
		*c = RundownPayload
	default:
		return errors.NewValidation("rundown change", string(b))
	}
	return nil
}

// =============================================================================
// Part level
// =============================================================================

// PartChange is what happened to a single part.
type PartChange int

const (
	PartInserted PartChange = iota + 1
	PartUpdated
	PartDeleted
)

func (c PartChange) String() string {
	switch c {
	case PartInserted:
		return "inserted"
	case PartUpdated:
		return "updated"
	case PartDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("PartChange(%d)", int(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c PartChange) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *PartChange) UnmarshalText(b []byte) error {
	switch string(b) {
	case "inserted":
		*c = PartInserted
	case "updated":
		*c = PartUpdated
	case "deleted":
		*c = PartDeleted
	default:
		return errors.NewValidation("part change", string(b))
	}
	return nil
}

// =============================================================================
// Segment level
// =============================================================================

// SegmentChangeKind tags a SegmentChange.
type SegmentChangeKind int

const (
	SegmentInserted SegmentChangeKind = iota + 1
	SegmentDeleted
	SegmentModified
)

func (k SegmentChangeKind) String() string {
	switch k {
	case SegmentInserted:
		return "inserted"
	case SegmentDeleted:
		return "deleted"
	case SegmentModified:
		return "modified"
	default:
		return fmt.Sprintf("SegmentChangeKind(%d)", int(k))
	}
}

// SegmentChange is what happened to a single segment. Only the Modified
// kind uses the remaining fields.
type SegmentChange struct {
	Kind             SegmentChangeKind
	PayloadChanged   bool
	PartChanges      map[string]PartChange
	PartOrderChanged bool
	// OldExternalID marks a rename: the segment was known under this id.
	OldExternalID string
}

// Inserted returns the change for a created segment.
func Inserted() SegmentChange {
	return SegmentChange{Kind: SegmentInserted}
}

// Deleted returns the change for a removed segment.
func Deleted() SegmentChange {
	return SegmentChange{Kind: SegmentDeleted}
}

// Modified returns an empty modify change to be filled in.
func Modified() SegmentChange {
	return SegmentChange{Kind: SegmentModified}
}

// Renamed returns a modify change that moves a segment from oldID.
func Renamed(oldID string) SegmentChange {
	return SegmentChange{Kind: SegmentModified, OldExternalID: oldID}
}

// WithPayload marks the segment payload or name as changed.
func (c SegmentChange) WithPayload() SegmentChange {
	c.PayloadChanged = true
	return c
}

// WithPart records a part change on a modify change.
func (c SegmentChange) WithPart(partID string, pc PartChange) SegmentChange {
	if c.PartChanges == nil {
		c.PartChanges = make(map[string]PartChange)
	}
	c.PartChanges[partID] = pc
	return c
}

// WithPartOrder marks the parts of the segment as reordered.
func (c SegmentChange) WithPartOrder() SegmentChange {
	c.PartOrderChanged = true
	return c
}

// IsNoop reports whether a modify change carries nothing to apply.
func (c SegmentChange) IsNoop() bool {
	return c.Kind == SegmentModified &&
		!c.PayloadChanged &&
		!c.PartOrderChanged &&
		c.OldExternalID == "" &&
		len(c.PartChanges) == 0
}

type segmentChangeJSON struct {
	PayloadChanged   bool                  `json:"payloadChanged,omitempty"`
	PartChanges      map[string]PartChange `json:"partChanges,omitempty"`
	PartOrderChanged bool                  `json:"partOrderChanged,omitempty"`
	OldExternalID    string                `json:"oldExternalId,omitempty"`
}

// MarshalJSON encodes inserted and deleted changes as bare strings and
// modify changes as objects.
func (c SegmentChange) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case SegmentInserted, SegmentDeleted:
		return json.Marshal(c.Kind.String())
	case SegmentModified:
		return json.Marshal(segmentChangeJSON{
			PayloadChanged:   c.PayloadChanged,
			PartChanges:      c.PartChanges,
			PartOrderChanged: c.PartOrderChanged,
			OldExternalID:    c.OldExternalID,
		})
	default:
		return nil, errors.NewValidation("segment change kind", c.Kind.String())
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *SegmentChange) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch s {
		case "inserted":
			*c = Inserted()
		case "deleted":
			*c = Deleted()
		default:
			return errors.NewValidation("segment change", s)
		}
		return nil
	}

	var obj segmentChangeJSON
	if err := json.Unmarshal(b, &obj); err != nil {
		return errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	*c = SegmentChange{
		Kind:             SegmentModified,
		PayloadChanged:   obj.PayloadChanged,
		PartChanges:      obj.PartChanges,
		PartOrderChanged: obj.PartOrderChanged,
		OldExternalID:    obj.OldExternalID,
	}
	return nil
}

// =============================================================================
// Change details
// =============================================================================

// NrcsIngestChangeDetails describes the NRCS side transition of one rundown.
type NrcsIngestChangeDetails struct {
	RundownChanges      RundownChange            `json:"rundownChanges,omitempty"`
	SegmentChanges      map[string]SegmentChange `json:"segmentChanges,omitempty"`
	SegmentOrderChanged bool                     `json:"segmentOrderChanged,omitempty"`
}

// NewDetails returns an empty diff.
func NewDetails() *NrcsIngestChangeDetails {
	return &NrcsIngestChangeDetails{SegmentChanges: make(map[string]SegmentChange)}
}

// Regenerate returns a diff that rebuilds the whole rundown.
func Regenerate() *NrcsIngestChangeDetails {
	d := NewDetails()
	d.RundownChanges = RundownRegenerate
	return d
}

// SetSegment records a change for one segment, replacing any earlier one.
func (d *NrcsIngestChangeDetails) SetSegment(id string, c SegmentChange) {
	if d.SegmentChanges == nil {
		d.SegmentChanges = make(map[string]SegmentChange)
	}
	d.SegmentChanges[id] = c
}

// IsEmpty reports whether the diff describes no change at all.
func (d *NrcsIngestChangeDetails) IsEmpty() bool {
	if d == nil {
		return true
	}
	if d.RundownChanges != RundownNone || d.SegmentOrderChanged {
		return false
	}
	for _, c := range d.SegmentChanges {
		if !c.IsNoop() {
			return false
		}
	}
	return true
}

// SegmentIDs returns the changed segment ids in sorted order.
func (d *NrcsIngestChangeDetails) SegmentIDs() []string {
	ids := make([]string, 0, len(d.SegmentChanges))
	for id := range d.SegmentChanges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Renames returns the old id to new id map of renamed segments.
func (d *NrcsIngestChangeDetails) Renames() map[string]string {
	out := make(map[string]string)
	for id, c := range d.SegmentChanges {
		if c.Kind == SegmentModified && c.OldExternalID != "" {
			out[c.OldExternalID] = id
		}
	}
	return out
}

// Validate checks the structural invariants of the diff.
func (d *NrcsIngestChangeDetails) Validate() error {
	v := errors.NewValidationErrors()

	renamedFrom := make(map[string]string)
	for _, id := range d.SegmentIDs() {
		c := d.SegmentChanges[id]
		switch c.Kind {
		case SegmentInserted, SegmentDeleted:
			if c.PayloadChanged || c.PartOrderChanged || len(c.PartChanges) > 0 || c.OldExternalID != "" {
				v.Add(fmt.Errorf("segment %q: %s change carries modify fields: %w", id, c.Kind, errors.ErrInvalidChange))
			}
		case SegmentModified:
			if c.OldExternalID == id {
				v.Add(fmt.Errorf("segment %q: renamed to itself: %w", id, errors.ErrInvalidChange))
			}
			if c.OldExternalID != "" {
				if other, dup := renamedFrom[c.OldExternalID]; dup {
					v.Add(fmt.Errorf("segment %q: %q already renamed to %q: %w", id, c.OldExternalID, other, errors.ErrInvalidChange))
				}
				renamedFrom[c.OldExternalID] = id
			}
			for partID, pc := range c.PartChanges {
				if pc < PartInserted || pc > PartDeleted {
					v.Add(fmt.Errorf("segment %q part %q: unknown change %d: %w", id, partID, int(pc), errors.ErrInvalidChange))
				}
			}
		default:
			v.Add(fmt.Errorf("segment %q: unknown change kind %d: %w", id, int(c.Kind), errors.ErrInvalidChange))
		}
	}

	return v.Err()
}
