package diff

import (
	"github.com/xtxerr/nrcsync/internal/changes"
	"github.com/xtxerr/nrcsync/internal/ingest"
)

// SegmentAccessor reads segments for Compare. Content equality covers the
// name, the payload and the full part list, ignoring the segment rank.
var SegmentAccessor = Accessor[*ingest.Segment]{
	ID:       func(s *ingest.Segment) string { return s.ExternalID },
	Name:     func(s *ingest.Segment) string { return s.Name },
	Rank:     func(s *ingest.Segment) float64 { return s.Rank },
	Modified: func(s *ingest.Segment) int64 { return s.Modified },
	Equal:    segmentsEqual,
	Children: func(s *ingest.Segment) []string { return s.PartIDs() },
}

// PartAccessor reads parts for Compare.
var PartAccessor = Accessor[*ingest.Part]{
	ID:       func(p *ingest.Part) string { return p.ExternalID },
	Name:     func(p *ingest.Part) string { return p.Name },
	Rank:     func(p *ingest.Part) float64 { return p.Rank },
	Modified: func(p *ingest.Part) int64 { return p.Modified },
	Equal:    partsEqual,
}

func partsEqual(a, b *ingest.Part) bool {
	return a.Name == b.Name && a.Payload.Equal(b.Payload)
}

func segmentsEqual(a, b *ingest.Segment) bool {
	if !segmentHeaderEqual(a, b) || len(a.Parts) != len(b.Parts) {
		return false
	}
	for i := range a.Parts {
		if a.Parts[i].ExternalID != b.Parts[i].ExternalID || !partsEqual(a.Parts[i], b.Parts[i]) {
			return false
		}
	}
	return true
}

func segmentHeaderEqual(a, b *ingest.Segment) bool {
	return a.Name == b.Name && a.Payload.Equal(b.Payload)
}

// TreeOptions tune Rundowns.
type TreeOptions struct {
	// Kind names segments in log lines.
	Kind string
	// UseModified treats differing timestamps as changes.
	UseModified bool
}

// Rundowns computes the NRCS side change description between two trees.
//
// A missing previous tree or a change of rundown type regenerates the whole
// rundown. A changed rundown name or payload is a payload change. Segments
// are compared with rename detection; renamed segments become modify
// changes whose part changes are relative to the old segment.
func Rundowns(prev, next *ingest.Rundown, opts TreeOptions) *changes.NrcsIngestChangeDetails {
	if prev == nil || next == nil || prev.Type != next.Type {
		return changes.Regenerate()
	}

	d := changes.NewDetails()
	if prev.Name != next.Name || !prev.Payload.Equal(next.Payload) {
		d.RundownChanges = changes.RundownPayload
	}

	kind := opts.Kind
	if kind == "" {
		kind = "segment"
	}
	res := Compare(prev.Segments, next.Segments, SegmentAccessor, Options{
		Kind:          kind,
		UseModified:   opts.UseModified,
		DetectRenames: true,
	})

	for _, s := range res.Added {
		d.SetSegment(s.ExternalID, changes.Inserted())
	}
	for _, s := range res.Removed {
		d.SetSegment(s.ExternalID, changes.Deleted())
	}

	onlyRank := make(map[string]struct{}, len(res.OnlyRankChanged))
	for _, s := range res.OnlyRankChanged {
		onlyRank[s.ExternalID] = struct{}{}
	}
	prevByID := make(map[string]*ingest.Segment, len(prev.Segments))
	for _, s := range prev.Segments {
		prevByID[s.ExternalID] = s
	}

	for _, s := range res.Changed {
		if _, ok := onlyRank[s.ExternalID]; ok {
			continue
		}
		c := SegmentChange(prevByID[s.ExternalID], s, opts.UseModified)
		if !c.IsNoop() {
			d.SetSegment(s.ExternalID, c)
		}
	}
	for _, pair := range res.Renamed {
		c := SegmentChange(pair.Old, pair.New, opts.UseModified)
		c.OldExternalID = pair.Old.ExternalID
		d.SetSegment(pair.New.ExternalID, c)
	}

	d.SegmentOrderChanged = OrderChanged(prev.SegmentIDs(), next.SegmentIDs())
	return d
}

// SegmentChange builds the modify change turning prev into next.
func SegmentChange(prev, next *ingest.Segment, useModified bool) changes.SegmentChange {
	c := changes.Modified()
	if !segmentHeaderEqual(prev, next) {
		c = c.WithPayload()
	}

	res := Compare(prev.Parts, next.Parts, PartAccessor, Options{
		Kind:        "part",
		UseModified: useModified,
	})
	for _, p := range res.Added {
		c = c.WithPart(p.ExternalID, changes.PartInserted)
	}
	for _, p := range res.Removed {
		c = c.WithPart(p.ExternalID, changes.PartDeleted)
	}
	onlyRank := make(map[string]struct{}, len(res.OnlyRankChanged))
	for _, p := range res.OnlyRankChanged {
		onlyRank[p.ExternalID] = struct{}{}
	}
	for _, p := range res.Changed {
		if _, ok := onlyRank[p.ExternalID]; !ok {
			c = c.WithPart(p.ExternalID, changes.PartUpdated)
		}
	}

	if OrderChanged(prev.PartIDs(), next.PartIDs()) {
		c = c.WithPartOrder()
	}
	return c
}
