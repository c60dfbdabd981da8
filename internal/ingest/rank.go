package ingest

import (
	"encoding/json"
)

// =============================================================================
// Optional ranks
// =============================================================================

// UnmarshalJSON records whether the rank was present. A missing or null rank
// sets Unranked instead of meaning rank 0.
func (s *Segment) UnmarshalJSON(b []byte) error {
	type plain Segment
	aux := struct {
		*plain
		Rank *float64 `json:"rank"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	s.Rank, s.Unranked = rankOrZero(aux.Rank)
	return nil
}

// UnmarshalJSON records whether the rank was present, like Segment.
func (p *Part) UnmarshalJSON(b []byte) error {
	type plain Part
	aux := struct {
		*plain
		Rank *float64 `json:"rank"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.Rank, p.Unranked = rankOrZero(aux.Rank)
	return nil
}

func rankOrZero(r *float64) (float64, bool) {
	if r == nil {
		return 0, true
	}
	return *r, false
}

// FillRanks gives every unranked segment and part a rank so that sorting by
// rank keeps the delivered order. Each run of unranked siblings is placed
// between its ranked neighbours. An entity that exists in prev keeps its
// previous rank when that rank still fits between them, so redelivering a
// tree without ranks changes nothing.
func (r *Rundown) FillRanks(prev *Rundown) {
	fillRanks(len(r.Segments), func(i int) (string, *float64, *bool) {
		s := r.Segments[i]
		return s.ExternalID, &s.Rank, &s.Unranked
	}, func(id string) (float64, bool) {
		if prev == nil {
			return 0, false
		}
		s, _ := prev.FindSegment(id)
		if s == nil {
			return 0, false
		}
		return s.Rank, true
	})
	for _, s := range r.Segments {
		s.FillPartRanks(prev)
	}
}

// FillPartRanks is FillRanks for the parts of one segment. Previous ranks
// are looked up anywhere in prev, parts may move between segments.
func (s *Segment) FillPartRanks(prev *Rundown) {
	fillRanks(len(s.Parts), func(i int) (string, *float64, *bool) {
		p := s.Parts[i]
		return p.ExternalID, &p.Rank, &p.Unranked
	}, func(id string) (float64, bool) {
		if prev == nil {
			return 0, false
		}
		_, p := prev.FindPart(id)
		if p == nil {
			return 0, false
		}
		return p.Rank, true
	})
}

// RankAfterSegments returns a rank past the last segment.
func (r *Rundown) RankAfterSegments() float64 {
	if n := len(r.Segments); n > 0 {
		return r.Segments[n-1].Rank + 1
	}
	return 0
}

// RankAfterParts returns a rank past the last part.
func (s *Segment) RankAfterParts() float64 {
	if n := len(s.Parts); n > 0 {
		return s.Parts[n-1].Rank + 1
	}
	return 0
}

func fillRanks(n int, slot func(i int) (string, *float64, *bool), prevRank func(string) (float64, bool)) {
	for i := 0; i < n; {
		if _, _, unranked := slot(i); !*unranked {
			i++
			continue
		}
		j := i
		for j < n {
			if _, _, unranked := slot(j); !*unranked {
				break
			}
			j++
		}

		var lo, hi float64
		hasLo, hasHi := i > 0, j < n
		if hasLo {
			_, r, _ := slot(i - 1)
			lo = *r
		}
		if hasHi {
			_, r, _ := slot(j)
			hi = *r
		}
		// Neighbours out of order leave no room in between.
		if hasLo && hasHi && hi <= lo {
			hasHi = false
		}
		switch {
		case !hasLo && hasHi:
			lo = hi - float64(j-i+1)
		case !hasLo:
			lo = -1
		}

		last := lo
		for k := i; k < j; k++ {
			id, rank, unranked := slot(k)
			next := last + 1
			if hasHi {
				next = last + (hi-last)/float64(j-k+1)
			}
			if p, ok := prevRank(id); ok && p > last && (!hasHi || p < hi) {
				next = p
			}
			*rank, *unranked = next, false
			last = next
		}
		i = j
	}
}
