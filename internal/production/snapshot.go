package production

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
)

// Rundown is a read-only view of a production rundown.
type Rundown struct {
	ID         string
	ExternalID string
	Name       string
	Type       string
	Payload    ingest.Payload
	OnAir      bool
	Orphaned   string
	Segments   []*Segment
}

// Segment is a read-only view of a production segment.
type Segment struct {
	ID         string
	ExternalID string
	Name       string
	Rank       float64
	Payload    ingest.Payload
	OnAir      bool
	Orphaned   string
	Parts      []*Part
}

// Part is a read-only view of a production part.
type Part struct {
	ID         string
	ExternalID string
	Name       string
	Rank       float64
	Payload    ingest.Payload
}

// SegmentIDs returns external ids of non-orphaned segments in rank order.
func (r *Rundown) SegmentIDs() []string {
	ids := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		if s.Orphaned == "" {
			ids = append(ids, s.ExternalID)
		}
	}
	return ids
}

// FindSegment returns the segment with externalID, orphans included.
func (r *Rundown) FindSegment(externalID string) *Segment {
	for _, s := range r.Segments {
		if s.ExternalID == externalID {
			return s
		}
	}
	return nil
}

// Snapshot reads the complete production rundown. Concurrent reads of the
// same rundown share one query.
func (s *Store) Snapshot(ctx context.Context, rundownID string) (*Rundown, error) {
	v, err, _ := s.snapshots.Do(rundownID, func() (interface{}, error) {
		return s.snapshot(ctx, rundownID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Rundown), nil
}

func (s *Store) snapshot(ctx context.Context, rundownID string) (*Rundown, error) {
	db := s.db.DB()

	r := &Rundown{ExternalID: rundownID}
	var payload string
	err := db.QueryRowContext(ctx, `
		SELECT id, name, type, payload, on_air, orphaned
		FROM production_rundowns WHERE external_id = ?
	`, rundownID).Scan(&r.ID, &r.Name, &r.Type, &payload, &r.OnAir, &r.Orphaned)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("rundown", rundownID)
	} else if err != nil {
		return nil, fmt.Errorf("snapshot rundown: %w: %w", errors.ErrDatabase, err)
	}
	if r.Payload, err = decodePayload(payload); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, external_id, name, rank, payload, on_air, orphaned
		FROM production_segments WHERE rundown_id = ?
		ORDER BY rank, external_id
	`, r.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot segments: %w: %w", errors.ErrDatabase, err)
	}
	defer rows.Close()

	byID := make(map[string]*Segment)
	for rows.Next() {
		seg := &Segment{}
		if err := rows.Scan(&seg.ID, &seg.ExternalID, &seg.Name, &seg.Rank, &payload, &seg.OnAir, &seg.Orphaned); err != nil {
			return nil, fmt.Errorf("scan segment: %w: %w", errors.ErrDatabase, err)
		}
		if seg.Payload, err = decodePayload(payload); err != nil {
			return nil, err
		}
		r.Segments = append(r.Segments, seg)
		byID[seg.ID] = seg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot segments: %w: %w", errors.ErrDatabase, err)
	}

	partRows, err := db.QueryContext(ctx, `
		SELECT id, segment_id, external_id, name, rank, payload
		FROM production_parts WHERE rundown_id = ?
		ORDER BY rank, external_id
	`, r.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot parts: %w: %w", errors.ErrDatabase, err)
	}
	defer partRows.Close()

	for partRows.Next() {
		var segmentID string
		p := &Part{}
		if err := partRows.Scan(&p.ID, &segmentID, &p.ExternalID, &p.Name, &p.Rank, &payload); err != nil {
			return nil, fmt.Errorf("scan part: %w: %w", errors.ErrDatabase, err)
		}
		if p.Payload, err = decodePayload(payload); err != nil {
			return nil, err
		}
		if seg, ok := byID[segmentID]; ok {
			seg.Parts = append(seg.Parts, p)
		}
	}
	return r, partRows.Err()
}
