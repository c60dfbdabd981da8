package operations

import (
	"github.com/xtxerr/nrcsync/internal/changes"
	"github.com/xtxerr/nrcsync/internal/diff"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/validation"
)

const (
	KindUpdateRundown         = "updateRundown"
	KindUpdateRundownMetadata = "updateRundownMetadata"
	KindRegenerateRundown     = "regenerateRundown"
	KindRemoveRundown         = "removeRundown"
	KindUpdateSegment         = "updateSegment"
	KindRegenerateSegment     = "regenerateSegment"
	KindRemoveSegment         = "removeSegment"
	KindUpdateSegmentRanks    = "updateSegmentRanks"
	KindUpdatePart            = "updatePart"
	KindRemovePart            = "removePart"
)

// =============================================================================
// Rundown level
// =============================================================================

// UpdateRundown delivers a complete tree. The change description is derived
// by diffing, so redelivering the same tree changes nothing.
type UpdateRundown struct {
	Header
	Rundown        *ingest.Rundown `json:"rundown"`
	IsCreateAction bool            `json:"isCreateAction,omitempty"`
}

func (r *UpdateRundown) Kind() string { return KindUpdateRundown }

func (r *UpdateRundown) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	if r.Rundown == nil {
		v.AddMissing("rundown")
	} else {
		validation.CheckRundown(v, "rundown", r.Rundown)
		if r.Rundown.ExternalID != "" && r.Rundown.ExternalID != r.RundownExternalID {
			v.AddField("rundown.externalId", "does not match rundownExternalId")
		}
	}
	return v.Err()
}

func (r *UpdateRundown) Apply(prev *ingest.Rundown) (*Update, error) {
	if prev == nil && !r.IsCreateAction {
		return nil, errors.NewNotFound("rundown", r.RundownExternalID)
	}
	next := r.Rundown.Clone()
	next.ExternalID = r.RundownExternalID
	next.FillRanks(prev)
	next.SortTree()
	return &Update{Rundown: next}, nil
}

// UpdateRundownMetadata replaces name, type and payload and keeps the
// segments.
type UpdateRundownMetadata struct {
	Header
	Name    string         `json:"name"`
	Type    string         `json:"type,omitempty"`
	Payload ingest.Payload `json:"payload"`
}

func (r *UpdateRundownMetadata) Kind() string { return KindUpdateRundownMetadata }

func (r *UpdateRundownMetadata) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	return v.Err()
}

func (r *UpdateRundownMetadata) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	next := prev.Clone()
	next.Name = r.Name
	next.Payload = r.Payload.Clone()
	if r.Type != "" {
		next.Type = r.Type
	}

	d := changes.NewDetails()
	switch {
	case next.Type != prev.Type:
		d.RundownChanges = changes.RundownRegenerate
	case next.Name != prev.Name || !next.Payload.Equal(prev.Payload):
		d.RundownChanges = changes.RundownPayload
	}
	return &Update{Rundown: next, Changes: d}, nil
}

// RegenerateRundown rebuilds the whole rundown from the cached tree.
type RegenerateRundown struct {
	Header
}

func (r *RegenerateRundown) Kind() string { return KindRegenerateRundown }

func (r *RegenerateRundown) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	return v.Err()
}

func (r *RegenerateRundown) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	return &Update{Rundown: prev, Changes: changes.Regenerate()}, nil
}

// RemoveRundown deletes the rundown. Without Force an on-air rundown is
// orphaned rather than removed.
type RemoveRundown struct {
	Header
	Force bool `json:"force,omitempty"`
}

func (r *RemoveRundown) Kind() string { return KindRemoveRundown }

func (r *RemoveRundown) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	return v.Err()
}

func (r *RemoveRundown) Apply(*ingest.Rundown) (*Update, error) {
	if r.Force {
		return &Update{Action: ActionForceDelete}, nil
	}
	return &Update{Action: ActionDelete}, nil
}

// =============================================================================
// Segment level
// =============================================================================

// UpdateSegment replaces one segment, or inserts it by rank when
// IsCreateAction is set and it does not exist yet. Without a rank an
// existing segment stays where it is and a new one goes last.
type UpdateSegment struct {
	Header
	Segment        *ingest.Segment `json:"segment"`
	IsCreateAction bool            `json:"isCreateAction,omitempty"`
}

func (r *UpdateSegment) Kind() string { return KindUpdateSegment }

func (r *UpdateSegment) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	if r.Segment == nil {
		v.AddMissing("segment")
	} else {
		validation.CheckSegment(v, "segment", r.Segment)
	}
	return v.Err()
}

func (r *UpdateSegment) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	old, _ := prev.FindSegment(r.Segment.ExternalID)
	if old == nil && !r.IsCreateAction {
		return nil, errors.NewNotFound("segment", r.Segment.ExternalID)
	}

	seg := r.Segment.Clone()
	if seg.Unranked {
		seg.Rank, seg.Unranked = prev.RankAfterSegments(), false
		if old != nil {
			seg.Rank = old.Rank
		}
	}
	seg.FillPartRanks(prev)
	ingest.SortParts(seg.Parts)

	next := prev.Clone()
	if _, i := next.FindSegment(seg.ExternalID); i >= 0 && old.Rank == seg.Rank {
		next.Segments[i] = seg
	} else {
		next.RemoveSegment(seg.ExternalID)
		next.InsertSegmentByRank(seg)
	}

	d := changes.NewDetails()
	if old == nil {
		d.SetSegment(seg.ExternalID, changes.Inserted())
	} else if c := diff.SegmentChange(old, seg, false); !c.IsNoop() {
		d.SetSegment(seg.ExternalID, c)
	}
	d.SegmentOrderChanged = diff.OrderChanged(prev.SegmentIDs(), next.SegmentIDs())
	return &Update{Rundown: next, Changes: d}, nil
}

// RegenerateSegment rebuilds one segment from the cached tree.
type RegenerateSegment struct {
	Header
	SegmentExternalID string `json:"segmentExternalId"`
}

func (r *RegenerateSegment) Kind() string { return KindRegenerateSegment }

func (r *RegenerateSegment) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	validation.CheckID(v, "segmentExternalId", r.SegmentExternalID)
	return v.Err()
}

func (r *RegenerateSegment) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	if _, err := requireSegment(prev, r.SegmentExternalID); err != nil {
		return nil, err
	}
	d := changes.NewDetails()
	d.SetSegment(r.SegmentExternalID, changes.Inserted())
	return &Update{Rundown: prev, Changes: d}, nil
}

// RemoveSegment deletes one segment.
type RemoveSegment struct {
	Header
	SegmentExternalID string `json:"segmentExternalId"`
}

func (r *RemoveSegment) Kind() string { return KindRemoveSegment }

func (r *RemoveSegment) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	validation.CheckID(v, "segmentExternalId", r.SegmentExternalID)
	return v.Err()
}

func (r *RemoveSegment) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	if _, err := requireSegment(prev, r.SegmentExternalID); err != nil {
		return nil, err
	}
	prev.RemoveSegment(r.SegmentExternalID)

	d := changes.NewDetails()
	d.SetSegment(r.SegmentExternalID, changes.Deleted())
	return &Update{Rundown: prev, Changes: d}, nil
}

// UpdateSegmentRanks moves segments by assigning new ranks. Unknown ids
// are ignored, the NRCS may race with its own deletes.
type UpdateSegmentRanks struct {
	Header
	Ranks map[string]float64 `json:"ranks"`
}

func (r *UpdateSegmentRanks) Kind() string { return KindUpdateSegmentRanks }

func (r *UpdateSegmentRanks) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	if len(r.Ranks) == 0 {
		v.AddMissing("ranks")
	}
	return v.Err()
}

func (r *UpdateSegmentRanks) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	before := prev.SegmentIDs()
	for _, s := range prev.Segments {
		if rank, ok := r.Ranks[s.ExternalID]; ok {
			s.Rank = rank
		}
	}
	ingest.SortSegments(prev.Segments)

	d := changes.NewDetails()
	d.SegmentOrderChanged = diff.OrderChanged(before, prev.SegmentIDs())
	return &Update{Rundown: prev, Changes: d}, nil
}

// =============================================================================
// Part level
// =============================================================================

// UpdatePart replaces or inserts one part of an existing segment. Without a
// rank an existing part stays where it is and a new one goes last.
type UpdatePart struct {
	Header
	SegmentExternalID string       `json:"segmentExternalId"`
	Part              *ingest.Part `json:"part"`
}

func (r *UpdatePart) Kind() string { return KindUpdatePart }

func (r *UpdatePart) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	validation.CheckID(v, "segmentExternalId", r.SegmentExternalID)
	if r.Part == nil {
		v.AddMissing("part")
	} else {
		validation.CheckPart(v, "part", r.Part)
	}
	return v.Err()
}

func (r *UpdatePart) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	seg, err := requireSegment(prev, r.SegmentExternalID)
	if err != nil {
		return nil, err
	}

	old := seg.Clone()
	part := r.Part.Clone()
	if part.Unranked {
		part.Rank, part.Unranked = seg.RankAfterParts(), false
		if existing, _ := seg.FindPart(part.ExternalID); existing != nil {
			part.Rank = existing.Rank
		}
	}
	if existing, i := seg.FindPart(part.ExternalID); existing != nil && existing.Rank == part.Rank {
		seg.Parts[i] = part
	} else {
		seg.RemovePart(part.ExternalID)
		seg.InsertPartByRank(part)
	}

	d := changes.NewDetails()
	if c := diff.SegmentChange(old, seg, false); !c.IsNoop() {
		d.SetSegment(seg.ExternalID, c)
	}
	return &Update{Rundown: prev, Changes: d}, nil
}

// RemovePart deletes one part.
type RemovePart struct {
	Header
	SegmentExternalID string `json:"segmentExternalId"`
	PartExternalID    string `json:"partExternalId"`
}

func (r *RemovePart) Kind() string { return KindRemovePart }

func (r *RemovePart) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	validation.CheckID(v, "segmentExternalId", r.SegmentExternalID)
	validation.CheckID(v, "partExternalId", r.PartExternalID)
	return v.Err()
}

func (r *RemovePart) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	seg, err := requireSegment(prev, r.SegmentExternalID)
	if err != nil {
		return nil, err
	}
	if !seg.RemovePart(r.PartExternalID) {
		return nil, errors.NewNotFound("part", r.PartExternalID)
	}

	d := changes.NewDetails()
	d.SetSegment(seg.ExternalID, changes.Modified().WithPart(r.PartExternalID, changes.PartDeleted))
	return &Update{Rundown: prev, Changes: d}, nil
}
