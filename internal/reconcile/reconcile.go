// Package reconcile applies a structured NRCS diff onto a staging rundown.
// It is the fallback used when no customization hook is installed, and a
// building block hooks can call themselves.
package reconcile

import (
	"sort"

	"github.com/xtxerr/nrcsync/internal/changes"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/staging"
)

// Apply runs the default reconciliation of details onto rd, using nrcs as
// the source of entity content.
//
//   - Regenerate: replace name and payload, clear all segments once, force
//     a full regenerate and rebuild every segment in NRCS order.
//   - Payload: replace name and payload, then apply segment changes.
//   - none: apply segment changes.
//
// Segment changes run in a fixed order: renames, batched inserts, deletes,
// modify changes, then the order repair pass.
func Apply(rd *staging.Rundown, nrcs *ingest.Rundown, details *changes.NrcsIngestChangeDetails) error {
	if details == nil {
		return nil
	}

	switch details.RundownChanges {
	case changes.RundownRegenerate:
		rd.ReplacePayload(nrcs.Payload)
		rd.SetName(nrcs.Name)
		rd.SetType(nrcs.Type)
		rd.RemoveAllSegments()
		rd.ForceFullRegenerate()
		for _, s := range nrcs.Segments {
			if _, err := rd.ReplaceSegment(s, ""); err != nil {
				return err
			}
		}
		return nil
	case changes.RundownPayload:
		rd.ReplacePayload(nrcs.Payload)
		rd.SetName(nrcs.Name)
	case changes.RundownNone:
	default:
		return errors.NewValidation("rundown change", details.RundownChanges.String())
	}

	if err := applySegmentChanges(rd, nrcs, details.SegmentChanges); err != nil {
		return err
	}
	if details.SegmentOrderChanged {
		if err := applySegmentOrder(rd, nrcs); err != nil {
			return err
		}
	}
	return nil
}

func applySegmentChanges(rd *staging.Rundown, nrcs *ingest.Rundown, segmentChanges map[string]changes.SegmentChange) error {
	if len(segmentChanges) == 0 {
		return nil
	}

	nrcsOrder := nrcs.SegmentIDs()
	nrcsIndex := indexMap(nrcsOrder)

	var renamed, inserted, deleted, modified []string
	for _, id := range sortedKeys(segmentChanges) {
		c := segmentChanges[id]
		switch c.Kind {
		case changes.SegmentInserted:
			inserted = append(inserted, id)
		case changes.SegmentDeleted:
			deleted = append(deleted, id)
		case changes.SegmentModified:
			if c.OldExternalID != "" {
				renamed = append(renamed, id)
			}
			modified = append(modified, id)
		default:
			return errors.NewValidation("segment change", c.Kind.String())
		}
	}

	for _, id := range renamed {
		oldID := segmentChanges[id].OldExternalID
		if _, err := rd.ChangeSegmentExternalID(oldID, id); err != nil {
			return errors.Wrapf(err, "rename segment %q to %q", oldID, id)
		}
	}

	// Descending NRCS order: each insert anchors on a successor that is
	// either already present or was inserted just before.
	sort.SliceStable(inserted, func(i, j int) bool {
		return indexOr(nrcsIndex, inserted[i]) > indexOr(nrcsIndex, inserted[j])
	})
	for _, id := range inserted {
		seg, _ := nrcs.FindSegment(id)
		if seg == nil {
			return errors.Wrap(errors.NewNotFound("segment", id), "insert: not in nrcs tree")
		}
		before := nextPresent(nrcsOrder, nrcsIndex[id], func(id string) bool { return rd.Segment(id) != nil })
		if _, err := rd.ReplaceSegment(seg, before); err != nil {
			return errors.Wrapf(err, "insert segment %q", id)
		}
	}

	for _, id := range deleted {
		rd.RemoveSegment(id)
	}

	for _, id := range modified {
		c := segmentChanges[id]
		if c.IsNoop() {
			continue
		}
		if err := applyModified(rd, nrcs, id, c); err != nil {
			return errors.Wrapf(err, "segment %q", id)
		}
	}
	return nil
}

func applyModified(rd *staging.Rundown, nrcs *ingest.Rundown, id string, c changes.SegmentChange) error {
	seg := rd.Segment(id)
	if seg == nil {
		return errors.NewNotFound("segment", id)
	}
	nrcsSeg, _ := nrcs.FindSegment(id)
	if nrcsSeg == nil {
		return errors.Wrap(errors.NewNotFound("segment", id), "not in nrcs tree")
	}

	if c.PayloadChanged {
		seg.ReplacePayload(nrcsSeg.Payload)
		seg.SetName(nrcsSeg.Name)
	}

	if err := applyPartChanges(seg, nrcsSeg, c.PartChanges); err != nil {
		return err
	}
	if c.PartOrderChanged {
		return applyPartOrder(seg, nrcsSeg)
	}
	return nil
}

func applyPartChanges(seg *staging.Segment, nrcsSeg *ingest.Segment, partChanges map[string]changes.PartChange) error {
	if len(partChanges) == 0 {
		return nil
	}

	nrcsOrder := nrcsSeg.PartIDs()
	nrcsIndex := indexMap(nrcsOrder)

	var inserted, updated, deleted []string
	for _, id := range sortedKeys(partChanges) {
		switch partChanges[id] {
		case changes.PartInserted:
			inserted = append(inserted, id)
		case changes.PartUpdated:
			updated = append(updated, id)
		case changes.PartDeleted:
			deleted = append(deleted, id)
		default:
			return errors.NewValidation("part change", partChanges[id].String())
		}
	}

	sort.SliceStable(inserted, func(i, j int) bool {
		return indexOr(nrcsIndex, inserted[i]) > indexOr(nrcsIndex, inserted[j])
	})
	for _, id := range inserted {
		part, _ := nrcsSeg.FindPart(id)
		if part == nil {
			return errors.Wrap(errors.NewNotFound("part", id), "insert: not in nrcs tree")
		}
		before := nextPresent(nrcsOrder, nrcsIndex[id], func(id string) bool { return seg.Part(id) != nil })
		if _, err := seg.ReplacePart(part, before); err != nil {
			return errors.Wrapf(err, "insert part %q", id)
		}
	}

	for _, id := range deleted {
		seg.RemovePart(id)
	}

	for _, id := range updated {
		part, _ := nrcsSeg.FindPart(id)
		if part == nil {
			return errors.Wrap(errors.NewNotFound("part", id), "update: not in nrcs tree")
		}
		if seg.Part(id) == nil {
			return errors.NewNotFound("part", id)
		}
		if _, err := seg.ReplacePart(part, ""); err != nil {
			return errors.Wrapf(err, "update part %q", id)
		}
	}
	return nil
}

// applySegmentOrder repairs segment order in two passes. First every
// segment the NRCS tree knows is moved before its NRCS successor, walking
// back to front. Then segments the NRCS tree does not know are pinned
// directly after whatever they followed before, so they keep their place
// instead of drifting.
func applySegmentOrder(rd *staging.Rundown, nrcs *ingest.Rundown) error {
	nrcsOrder := nrcs.SegmentIDs()
	inNrcs := indexMap(nrcsOrder)

	type pin struct{ id, after string }
	var pins []pin
	prev := ""
	for _, id := range rd.SegmentIDs() {
		if _, ok := inNrcs[id]; !ok {
			pins = append(pins, pin{id: id, after: prev})
		}
		prev = id
	}

	present := func(id string) bool { return rd.Segment(id) != nil }
	for i := len(nrcsOrder) - 1; i >= 0; i-- {
		id := nrcsOrder[i]
		if !present(id) {
			continue
		}
		before := nextPresent(nrcsOrder, i, present)
		if err := rd.MoveSegmentBefore(id, before); err != nil {
			return errors.Wrapf(err, "reorder segment %q", id)
		}
	}

	for _, p := range pins {
		after := p.after
		if after != "" && !present(after) {
			after = ""
		}
		if err := rd.MoveSegmentAfter(p.id, after); err != nil {
			return errors.Wrapf(err, "pin segment %q", p.id)
		}
	}
	return nil
}

// applyPartOrder is applySegmentOrder one level down.
func applyPartOrder(seg *staging.Segment, nrcsSeg *ingest.Segment) error {
	nrcsOrder := nrcsSeg.PartIDs()
	inNrcs := indexMap(nrcsOrder)

	type pin struct{ id, after string }
	var pins []pin
	prev := ""
	for _, id := range seg.PartIDs() {
		if _, ok := inNrcs[id]; !ok {
			pins = append(pins, pin{id: id, after: prev})
		}
		prev = id
	}

	present := func(id string) bool { return seg.Part(id) != nil }
	for i := len(nrcsOrder) - 1; i >= 0; i-- {
		id := nrcsOrder[i]
		if !present(id) {
			continue
		}
		if err := seg.MovePartBefore(id, nextPresent(nrcsOrder, i, present)); err != nil {
			return errors.Wrapf(err, "reorder part %q", id)
		}
	}

	for _, p := range pins {
		after := p.after
		if after != "" && !present(after) {
			after = ""
		}
		if err := seg.MovePartAfter(p.id, after); err != nil {
			return errors.Wrapf(err, "pin part %q", p.id)
		}
	}
	return nil
}

// nextPresent returns the first id after position i in order that
// satisfies present, or "" when there is none.
func nextPresent(order []string, i int, present func(string) bool) string {
	for j := i + 1; j < len(order); j++ {
		if present(order[j]) {
			return order[j]
		}
	}
	return ""
}

func indexMap(order []string) map[string]int {
	m := make(map[string]int, len(order))
	for i, id := range order {
		m[id] = i
	}
	return m
}

func indexOr(m map[string]int, id string) int {
	if i, ok := m[id]; ok {
		return i
	}
	return -1
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
