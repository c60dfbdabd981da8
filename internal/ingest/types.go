// Package ingest defines the rundown tree as an NRCS delivers it.
//
// A Rundown owns ordered Segments, a Segment owns ordered Parts. Every level
// has a stable ExternalID assigned by the NRCS, a display Name, a Rank used
// for ordering and an opaque Payload.
//
// The same types serve as the locally cached variant: cached trees carry a
// Modified timestamp (epoch milliseconds) on every entity, trees fresh from
// the NRCS leave it zero.
package ingest

import (
	"sort"
)

// SourceMOS marks rundowns delivered as a flat MOS story list.
const SourceMOS = "mos"

// Rundown is the root of an ingest tree.
type Rundown struct {
	ExternalID string     `json:"externalId"`
	Name       string     `json:"name"`
	Type       string     `json:"type,omitempty"`
	Payload    Payload    `json:"payload"`
	Modified   int64      `json:"modified,omitempty"`
	Segments   []*Segment `json:"segments,omitempty"`
}

// Segment is a group of parts, usually one story or one block of stories.
type Segment struct {
	ExternalID string  `json:"externalId"`
	Name       string  `json:"name"`
	Rank       float64 `json:"rank"`
	Payload    Payload `json:"payload"`
	Modified   int64   `json:"modified,omitempty"`
	Parts      []*Part `json:"parts,omitempty"`

	// Unranked is set when the delivery carried no rank. FillRanks
	// clears it.
	Unranked bool `json:"-"`
}

// Part is the smallest ingest entity.
type Part struct {
	ExternalID string  `json:"externalId"`
	Name       string  `json:"name"`
	Rank       float64 `json:"rank"`
	Payload    Payload `json:"payload"`
	Modified   int64   `json:"modified,omitempty"`

	// Unranked is set when the delivery carried no rank.
	Unranked bool `json:"-"`
}

// Clone deep-copies the tree. A nil rundown clones to nil.
func (r *Rundown) Clone() *Rundown {
	if r == nil {
		return nil
	}
	out := *r
	out.Payload = r.Payload.Clone()
	out.Segments = make([]*Segment, len(r.Segments))
	for i, s := range r.Segments {
		out.Segments[i] = s.Clone()
	}
	return &out
}

// Clone deep-copies the segment and its parts.
func (s *Segment) Clone() *Segment {
	if s == nil {
		return nil
	}
	out := *s
	out.Payload = s.Payload.Clone()
	out.Parts = make([]*Part, len(s.Parts))
	for i, p := range s.Parts {
		out.Parts[i] = p.Clone()
	}
	return &out
}

// Clone deep-copies the part.
func (p *Part) Clone() *Part {
	if p == nil {
		return nil
	}
	out := *p
	out.Payload = p.Payload.Clone()
	return &out
}

// IsMOS reports whether the rundown came in as a flat MOS story list.
func (r *Rundown) IsMOS() bool {
	return r != nil && r.Type == SourceMOS
}

// FindSegment returns the segment with the given external id.
func (r *Rundown) FindSegment(externalID string) (*Segment, int) {
	for i, s := range r.Segments {
		if s.ExternalID == externalID {
			return s, i
		}
	}
	return nil, -1
}

// FindPart returns the part with the given external id.
func (s *Segment) FindPart(externalID string) (*Part, int) {
	for i, p := range s.Parts {
		if p.ExternalID == externalID {
			return p, i
		}
	}
	return nil, -1
}

// FindPart searches every segment of the rundown for a part.
func (r *Rundown) FindPart(externalID string) (*Segment, *Part) {
	for _, s := range r.Segments {
		if p, _ := s.FindPart(externalID); p != nil {
			return s, p
		}
	}
	return nil, nil
}

// SegmentIDs returns segment external ids in tree order.
func (r *Rundown) SegmentIDs() []string {
	ids := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		ids[i] = s.ExternalID
	}
	return ids
}

// PartIDs returns part external ids in tree order.
func (s *Segment) PartIDs() []string {
	ids := make([]string, len(s.Parts))
	for i, p := range s.Parts {
		ids[i] = p.ExternalID
	}
	return ids
}

// SortSegments orders segments by rank. The sort is stable, so siblings
// that share a rank keep their delivered order.
func SortSegments(segments []*Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Rank < segments[j].Rank
	})
}

// SortParts orders parts by rank, stable like SortSegments.
func SortParts(parts []*Part) {
	sort.SliceStable(parts, func(i, j int) bool {
		return parts[i].Rank < parts[j].Rank
	})
}

// SortTree sorts every level of the rundown by rank.
func (r *Rundown) SortTree() {
	SortSegments(r.Segments)
	for _, s := range r.Segments {
		SortParts(s.Parts)
	}
}

// InsertSegmentByRank places seg among the existing segments by rank,
// after any sibling with an equal rank.
func (r *Rundown) InsertSegmentByRank(seg *Segment) {
	i := sort.Search(len(r.Segments), func(i int) bool {
		return r.Segments[i].Rank > seg.Rank
	})
	r.Segments = append(r.Segments, nil)
	copy(r.Segments[i+1:], r.Segments[i:])
	r.Segments[i] = seg
}

// InsertPartByRank places part among the existing parts by rank.
func (s *Segment) InsertPartByRank(part *Part) {
	i := sort.Search(len(s.Parts), func(i int) bool {
		return s.Parts[i].Rank > part.Rank
	})
	s.Parts = append(s.Parts, nil)
	copy(s.Parts[i+1:], s.Parts[i:])
	s.Parts[i] = part
}

// RemoveSegment drops a segment by external id and reports whether it existed.
func (r *Rundown) RemoveSegment(externalID string) bool {
	_, i := r.FindSegment(externalID)
	if i < 0 {
		return false
	}
	r.Segments = append(r.Segments[:i], r.Segments[i+1:]...)
	return true
}

// RemovePart drops a part by external id and reports whether it existed.
func (s *Segment) RemovePart(externalID string) bool {
	_, i := s.FindPart(externalID)
	if i < 0 {
		return false
	}
	s.Parts = append(s.Parts[:i], s.Parts[i+1:]...)
	return true
}

// StripModified clears every Modified timestamp in the tree.
func (r *Rundown) StripModified() {
	r.Modified = 0
	for _, s := range r.Segments {
		s.Modified = 0
		for _, p := range s.Parts {
			p.Modified = 0
		}
	}
}
