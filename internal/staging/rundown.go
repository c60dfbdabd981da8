// Package staging is the mutable, change tracking ingest tree a
// reconciliation is applied to.
//
// A Rundown is built from the Sofie cache at the start of an operation,
// mutated by the customization hook or the default algorithm, and turned
// into cache rows plus a change summary by IntoIngestRundown. It is owned
// by a single operation and never shared.
package staging

import (
	"fmt"
	"sort"
	"time"

	"github.com/xtxerr/nrcsync/internal/cache"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
)

// RowGenerator derives cache rows. cache.Generator implements it.
type RowGenerator interface {
	RundownRowID() string
	SegmentRowID(segmentID string) string
	PartRowID(partID string) string
	RundownRow(r *ingest.Rundown, sourceRevision uint64, modified int64) (cache.Row, error)
	SegmentRow(s *ingest.Segment, position int, modified int64) (cache.Row, error)
	PartRow(segmentID string, p *ingest.Part, position int, modified int64) (cache.Row, error)
}

// Rundown is the mutable wrapper of an ingest rundown.
type Rundown struct {
	externalID  string
	name        string
	rundownType string
	payload     ingest.Payload
	segments    []*Segment

	metadataChanged bool
	fullRegenerate  bool
	cleared         int
	originalIDs     map[string]struct{}

	now func() time.Time
}

// New wraps a cached tree. A clean rundown starts with no changes; an
// unclean one (nothing cached yet) starts fully dirty.
func New(tree *ingest.Rundown, clean bool) *Rundown {
	r := &Rundown{
		externalID:  tree.ExternalID,
		name:        tree.Name,
		rundownType: tree.Type,
		payload:     tree.Payload.Clone(),
		segments:    make([]*Segment, 0, len(tree.Segments)),
		originalIDs: make(map[string]struct{}),
		now:         time.Now,
	}
	for _, s := range tree.Segments {
		r.segments = append(r.segments, newSegment(s, !clean))
	}

	if clean {
		for i, s := range r.segments {
			s.markClean(i)
			r.originalIDs[s.externalID] = struct{}{}
		}
	} else {
		r.fullRegenerate = true
	}
	return r
}

// SetClock replaces the timestamp source, for tests.
func (r *Rundown) SetClock(now func() time.Time) {
	r.now = now
}

// ExternalID returns the rundown id.
func (r *Rundown) ExternalID() string { return r.externalID }

// Name returns the rundown name.
func (r *Rundown) Name() string { return r.name }

// Type returns the rundown source type.
func (r *Rundown) Type() string { return r.rundownType }

// Payload returns a copy of the rundown payload.
func (r *Rundown) Payload() ingest.Payload { return r.payload.Clone() }

// SetName renames the rundown.
func (r *Rundown) SetName(name string) {
	if r.name != name {
		r.name = name
		r.metadataChanged = true
	}
}

// SetType changes the source type of the rundown.
func (r *Rundown) SetType(t string) {
	if r.rundownType != t {
		r.rundownType = t
		r.metadataChanged = true
	}
}

// ReplacePayload swaps the payload, marking the rundown changed only when
// the new payload differs.
func (r *Rundown) ReplacePayload(payload ingest.Payload) {
	if !r.payload.Equal(payload) {
		r.payload = payload.Clone()
		r.metadataChanged = true
	}
}

// SetPayloadProperty writes one top level payload property.
func (r *Rundown) SetPayloadProperty(key string, value any) error {
	changed, err := setProperty(&r.payload, key, value)
	if err != nil {
		return err
	}
	if changed {
		r.metadataChanged = true
	}
	return nil
}

// ForceFullRegenerate marks the whole rundown for regeneration even when
// no field changed.
func (r *Rundown) ForceFullRegenerate() {
	r.fullRegenerate = true
}

// Segments returns the segments in order.
func (r *Rundown) Segments() []*Segment {
	out := make([]*Segment, len(r.segments))
	copy(out, r.segments)
	return out
}

// SegmentIDs returns the segment ids in order.
func (r *Rundown) SegmentIDs() []string {
	return ids(r.segments)
}

// Segment returns the segment with the given id, or nil.
func (r *Rundown) Segment(id string) *Segment {
	if i := indexOf(r.segments, id); i >= 0 {
		return r.segments[i]
	}
	return nil
}

// FindPart searches every segment for a part.
func (r *Rundown) FindPart(partID string) (*Segment, *Part) {
	for _, s := range r.segments {
		if p := s.Part(partID); p != nil {
			return s, p
		}
	}
	return nil, nil
}

// ReplaceSegment inserts or replaces a segment. With an empty beforeID an
// existing segment is replaced in place and a new one appended; otherwise
// the segment is placed directly before beforeID. A replaced segment
// keeps its identity baseline, so it is regenerated rather than removed
// and recreated.
func (r *Rundown) ReplaceSegment(s *ingest.Segment, beforeID string) (*Segment, error) {
	wrapped := newSegment(s, true)
	if old := r.Segment(s.ExternalID); old != nil {
		wrapped.originalID = old.originalID
		wrapped.originalPosition = old.originalPosition
		wrapped.originalPartIndex = old.originalPartIndex
	}

	segments, err := replaceItem("segment", r.segments, wrapped, beforeID)
	if err != nil {
		return nil, err
	}
	r.segments = segments
	return wrapped, nil
}

// RemoveSegment drops a segment and reports whether it existed.
func (r *Rundown) RemoveSegment(id string) bool {
	i := indexOf(r.segments, id)
	if i < 0 {
		return false
	}
	r.segments = removeAt(r.segments, i)
	return true
}

// RemoveAllSegments drops every segment.
func (r *Rundown) RemoveAllSegments() {
	r.segments = nil
	r.cleared++
}

// MoveSegmentBefore moves a segment directly before beforeID, or to the
// end when beforeID is empty.
func (r *Rundown) MoveSegmentBefore(id, beforeID string) error {
	segments, err := moveBefore("segment", r.segments, id, beforeID)
	if err != nil {
		return err
	}
	r.segments = segments
	return nil
}

// MoveSegmentAfter moves a segment directly after afterID, or to the
// start when afterID is empty.
func (r *Rundown) MoveSegmentAfter(id, afterID string) error {
	segments, err := moveAfter("segment", r.segments, id, afterID)
	if err != nil {
		return err
	}
	r.segments = segments
	return nil
}

// ChangeSegmentExternalID renames a segment. The production model keeps
// the segment and its playout state, only the id moves.
func (r *Rundown) ChangeSegmentExternalID(oldID, newID string) (*Segment, error) {
	seg := r.Segment(oldID)
	if seg == nil {
		return nil, errors.NewNotFound("segment", oldID)
	}
	if oldID == newID {
		return seg, nil
	}
	if r.Segment(newID) != nil {
		return nil, errors.NewAlreadyExists("segment", newID)
	}
	seg.externalID = newID
	return seg, nil
}

// =============================================================================
// Serialization
// =============================================================================

// Changes summarises what the production model has to do.
type Changes struct {
	// SegmentsToRemove lists ids, as last serialized, that are gone.
	SegmentsToRemove []string
	// SegmentsUpdatedRanks holds segments whose position moved and
	// nothing else.
	SegmentsUpdatedRanks map[string]float64
	// SegmentsToRegenerate holds complete segments to rebuild.
	SegmentsToRegenerate []*ingest.Segment
	// RegenerateRundown is set when rundown name or payload changed or a
	// full regeneration was forced.
	RegenerateRundown bool
	// SegmentExternalIDChanges maps old id to new id.
	SegmentExternalIDChanges map[string]string
	// SegmentsCleared counts RemoveAllSegments calls. It is informational,
	// the removals themselves are in SegmentsToRemove.
	SegmentsCleared int
}

// IsEmpty reports whether nothing needs to be committed.
func (c *Changes) IsEmpty() bool {
	return len(c.SegmentsToRemove) == 0 &&
		len(c.SegmentsUpdatedRanks) == 0 &&
		len(c.SegmentsToRegenerate) == 0 &&
		!c.RegenerateRundown &&
		len(c.SegmentExternalIDChanges) == 0
}

// RegeneratedIDs returns the ids of SegmentsToRegenerate.
func (c *Changes) RegeneratedIDs() []string {
	out := make([]string, len(c.SegmentsToRegenerate))
	for i, s := range c.SegmentsToRegenerate {
		out[i] = s.ExternalID
	}
	return out
}

// Result is the output of IntoIngestRundown.
type Result struct {
	// Rundown is the complete current tree with positional ranks.
	Rundown *ingest.Rundown
	// ChangedRows are the rows that must be written.
	ChangedRows []cache.Row
	// AllRowIDs are the ids of every row of the current tree; any other
	// row of the rundown is stale.
	AllRowIDs []string
	Changes   Changes
}

// IntoIngestRundown serializes the tree. Only dirty rows are returned.
// Change tracking resets afterwards, so a second call without mutations
// in between yields empty changes.
func (r *Rundown) IntoIngestRundown(gen RowGenerator) (*Result, error) {
	now := r.now().UnixMilli()
	res := &Result{
		Rundown: &ingest.Rundown{
			ExternalID: r.externalID,
			Name:       r.name,
			Type:       r.rundownType,
			Payload:    r.payload.Clone(),
			Modified:   now,
		},
		Changes: Changes{
			SegmentsUpdatedRanks:     make(map[string]float64),
			SegmentExternalIDChanges: make(map[string]string),
			RegenerateRundown:        r.metadataChanged || r.fullRegenerate,
			SegmentsCleared:          r.cleared,
		},
	}

	res.AllRowIDs = append(res.AllRowIDs, gen.RundownRowID())
	if res.Changes.RegenerateRundown {
		row, err := gen.RundownRow(res.Rundown, 0, now)
		if err != nil {
			return nil, err
		}
		res.ChangedRows = append(res.ChangedRows, row)
	}

	seenSegments := make(map[string]struct{}, len(r.segments))
	seenParts := make(map[string]string)
	stillReferenced := make(map[string]struct{}, len(r.segments))

	for i, seg := range r.segments {
		if _, dup := seenSegments[seg.externalID]; dup {
			return nil, errors.NewDuplicate("segment", seg.externalID)
		}
		seenSegments[seg.externalID] = struct{}{}
		if seg.originalID != "" {
			stillReferenced[seg.originalID] = struct{}{}
		}

		rank := float64(i)
		renamed := seg.originalID != "" && seg.originalID != seg.externalID
		regenerate := r.fullRegenerate || seg.hasChanges()
		moved := seg.originalPosition != i

		out := &ingest.Segment{
			ExternalID: seg.externalID,
			Name:       seg.name,
			Rank:       rank,
			Payload:    seg.payload.Clone(),
			Modified:   now,
		}

		res.AllRowIDs = append(res.AllRowIDs, gen.SegmentRowID(seg.externalID))
		if regenerate || renamed || moved {
			row, err := gen.SegmentRow(out, i, now)
			if err != nil {
				return nil, err
			}
			res.ChangedRows = append(res.ChangedRows, row)
		}

		for j, p := range seg.parts {
			if other, dup := seenParts[p.externalID]; dup {
				return nil, fmt.Errorf("in segments %q and %q: %w", other, seg.externalID, errors.NewDuplicate("part", p.externalID))
			}
			seenParts[p.externalID] = seg.externalID

			part := p.toIngest(float64(j))
			part.Modified = now
			out.Parts = append(out.Parts, part)

			res.AllRowIDs = append(res.AllRowIDs, gen.PartRowID(p.externalID))
			orig, known := seg.originalPartIndex[p.externalID]
			if r.fullRegenerate || p.dirty || renamed || !known || orig != j || seg.originalID == "" {
				row, err := gen.PartRow(seg.externalID, part, j, now)
				if err != nil {
					return nil, err
				}
				res.ChangedRows = append(res.ChangedRows, row)
			}
		}

		res.Rundown.Segments = append(res.Rundown.Segments, out)

		switch {
		case regenerate:
			res.Changes.SegmentsToRegenerate = append(res.Changes.SegmentsToRegenerate, out)
		case moved:
			res.Changes.SegmentsUpdatedRanks[seg.externalID] = rank
		}
		if renamed {
			res.Changes.SegmentExternalIDChanges[seg.originalID] = seg.externalID
		}
	}

	for id := range r.originalIDs {
		_, referenced := stillReferenced[id]
		_, present := seenSegments[id]
		if !referenced && !present {
			res.Changes.SegmentsToRemove = append(res.Changes.SegmentsToRemove, id)
		}
	}
	sort.Strings(res.Changes.SegmentsToRemove)

	r.metadataChanged = false
	r.fullRegenerate = false
	r.cleared = 0
	r.originalIDs = make(map[string]struct{}, len(r.segments))
	for i, seg := range r.segments {
		seg.markClean(i)
		r.originalIDs[seg.externalID] = struct{}{}
	}

	return res, nil
}
