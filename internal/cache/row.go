// Package cache persists ingest trees as rows, one per rundown, segment
// and part, and stages every change in memory until SaveToDatabase.
//
// Two caches share the row format: the NRCS cache holds trees exactly as
// delivered, the Sofie cache holds the reconciled tree the production
// model was built from.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/xtxerr/nrcsync/internal/diff"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
)

// Collection names one of the row tables.
type Collection string

const (
	CollectionNrcs  Collection = "nrcs_ingest_cache"
	CollectionSofie Collection = "sofie_ingest_cache"
)

// RowType tags the level a row belongs to.
type RowType string

const (
	RowRundown RowType = "RUNDOWN"
	RowSegment RowType = "SEGMENT"
	RowPart    RowType = "PART"
)

// Row is the unit of persistence. Rows are only ever inserted, replaced
// or deleted as a whole.
type Row struct {
	ID        string
	Type      RowType
	RundownID string
	SegmentID string
	PartID    string
	// Modified is epoch milliseconds.
	Modified int64
	// Hash covers Data and the parent references.
	Hash uint64
	// Data is the JSON encoded entity without children.
	Data json.RawMessage
}

// RowStore reads and writes rows of one collection.
type RowStore interface {
	LoadRows(ctx context.Context, c Collection, rundownID string) ([]Row, error)
	// WriteRows upserts and deletes in one transaction.
	WriteRows(ctx context.Context, c Collection, upserts []Row, deletes []string) error
}

// =============================================================================
// Row data
// =============================================================================

type rundownData struct {
	ExternalID     string         `json:"externalId"`
	Name           string         `json:"name"`
	Type           string         `json:"type,omitempty"`
	Payload        ingest.Payload `json:"payload"`
	SourceRevision uint64         `json:"sourceRevision,omitempty"`
}

// Position is the index among siblings. Delivered ranks may tie or be
// missing, so order is restored from Position, not from Rank.
type segmentData struct {
	ExternalID string         `json:"externalId"`
	Name       string         `json:"name"`
	Rank       float64        `json:"rank"`
	Position   int            `json:"position"`
	Payload    ingest.Payload `json:"payload"`
}

type partData struct {
	ExternalID string         `json:"externalId"`
	Name       string         `json:"name"`
	Rank       float64        `json:"rank"`
	Position   int            `json:"position"`
	Payload    ingest.Payload `json:"payload"`
}

// =============================================================================
// Generator
// =============================================================================

var rowNamespace = uuid.MustParse("0b9d3c52-8f41-4e27-a6d3-71c2e5f9b084")

// Generator derives rows and row ids for one rundown. Ids are name-based
// UUIDs: segment rows are keyed by rundown and segment, part rows by
// rundown and part only, so a part moving between segments keeps its row.
type Generator struct {
	RundownID string
}

// NewGenerator returns a Generator for rundownID.
func NewGenerator(rundownID string) Generator {
	return Generator{RundownID: rundownID}
}

func (g Generator) rowID(kind RowType, id string) string {
	return uuid.NewSHA1(rowNamespace, []byte(g.RundownID+"\x00"+string(kind)+"\x00"+id)).String()
}

// RundownRowID returns the id of the rundown row.
func (g Generator) RundownRowID() string {
	return g.rowID(RowRundown, "")
}

// SegmentRowID returns the id of a segment row.
func (g Generator) SegmentRowID(segmentID string) string {
	return g.rowID(RowSegment, segmentID)
}

// PartRowID returns the id of a part row.
func (g Generator) PartRowID(partID string) string {
	return g.rowID(RowPart, partID)
}

// RundownRow builds the rundown row. sourceRevision is only used by the
// Sofie cache.
func (g Generator) RundownRow(r *ingest.Rundown, sourceRevision uint64, modified int64) (Row, error) {
	data, err := json.Marshal(rundownData{
		ExternalID:     r.ExternalID,
		Name:           r.Name,
		Type:           r.Type,
		Payload:        r.Payload,
		SourceRevision: sourceRevision,
	})
	if err != nil {
		return Row{}, fmt.Errorf("encode rundown %q: %w", r.ExternalID, err)
	}
	return Row{
		ID:        g.RundownRowID(),
		Type:      RowRundown,
		RundownID: g.RundownID,
		Modified:  modified,
		Hash:      diff.NewHashBuilder().Uint64(diff.HashRundown(r)).Uint64(sourceRevision).Build(),
		Data:      data,
	}, nil
}

// SegmentRow builds a segment row for the segment at position.
func (g Generator) SegmentRow(s *ingest.Segment, position int, modified int64) (Row, error) {
	data, err := json.Marshal(segmentData{
		ExternalID: s.ExternalID,
		Name:       s.Name,
		Rank:       s.Rank,
		Position:   position,
		Payload:    s.Payload,
	})
	if err != nil {
		return Row{}, fmt.Errorf("encode segment %q: %w", s.ExternalID, err)
	}
	return Row{
		ID:        g.SegmentRowID(s.ExternalID),
		Type:      RowSegment,
		RundownID: g.RundownID,
		SegmentID: s.ExternalID,
		Modified:  modified,
		Hash:      diff.NewHashBuilder().Int(position).Uint64(diff.HashSegment(s)).Build(),
		Data:      data,
	}, nil
}

// PartRow builds a row for the part at position under segmentID.
func (g Generator) PartRow(segmentID string, p *ingest.Part, position int, modified int64) (Row, error) {
	data, err := json.Marshal(partData{
		ExternalID: p.ExternalID,
		Name:       p.Name,
		Rank:       p.Rank,
		Position:   position,
		Payload:    p.Payload,
	})
	if err != nil {
		return Row{}, fmt.Errorf("encode part %q: %w", p.ExternalID, err)
	}
	return Row{
		ID:        g.PartRowID(p.ExternalID),
		Type:      RowPart,
		RundownID: g.RundownID,
		SegmentID: segmentID,
		PartID:    p.ExternalID,
		Modified:  modified,
		Hash:      diff.NewHashBuilder().String(segmentID).Int(position).Uint64(diff.HashPart(p)).Build(),
		Data:      data,
	}, nil
}

// TreeRows builds the rows of a whole tree, all stamped with modified.
func (g Generator) TreeRows(r *ingest.Rundown, sourceRevision uint64, modified int64) ([]Row, error) {
	rows := make([]Row, 0, 1+len(r.Segments))

	row, err := g.RundownRow(r, sourceRevision, modified)
	if err != nil {
		return nil, err
	}
	rows = append(rows, row)

	for i, s := range r.Segments {
		row, err := g.SegmentRow(s, i, modified)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		for j, p := range s.Parts {
			row, err := g.PartRow(s.ExternalID, p, j, modified)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// =============================================================================
// Reassembly
// =============================================================================

// Assemble re-nests rows into a tree. It returns nil when there is no
// rundown row. Children are ordered by their stored position; children
// whose parent row is missing are dropped.
func Assemble(rows []Row) (*ingest.Rundown, uint64, error) {
	var rd *ingest.Rundown
	var sourceRevision uint64
	segments := make(map[string]*ingest.Segment)
	var segmentOrder []positioned[*ingest.Segment]
	partsBySegment := make(map[string][]positioned[*ingest.Part])
	var partRows []Row

	for _, row := range rows {
		switch row.Type {
		case RowRundown:
			var d rundownData
			if err := json.Unmarshal(row.Data, &d); err != nil {
				return nil, 0, errors.Wrapf(errors.ErrDatabase, "decode rundown row %s: %v", row.ID, err)
			}
			rd = &ingest.Rundown{
				ExternalID: d.ExternalID,
				Name:       d.Name,
				Type:       d.Type,
				Payload:    d.Payload,
				Modified:   row.Modified,
			}
			sourceRevision = d.SourceRevision
		case RowSegment:
			var d segmentData
			if err := json.Unmarshal(row.Data, &d); err != nil {
				return nil, 0, errors.Wrapf(errors.ErrDatabase, "decode segment row %s: %v", row.ID, err)
			}
			s := &ingest.Segment{
				ExternalID: d.ExternalID,
				Name:       d.Name,
				Rank:       d.Rank,
				Payload:    d.Payload,
				Modified:   row.Modified,
			}
			segments[row.SegmentID] = s
			segmentOrder = append(segmentOrder, positioned[*ingest.Segment]{d.Position, s})
		case RowPart:
			partRows = append(partRows, row)
		default:
			return nil, 0, errors.Wrapf(errors.ErrDatabase, "row %s: unknown type %q", row.ID, row.Type)
		}
	}

	if rd == nil {
		return nil, 0, nil
	}

	for _, row := range partRows {
		if _, ok := segments[row.SegmentID]; !ok {
			continue
		}
		var d partData
		if err := json.Unmarshal(row.Data, &d); err != nil {
			return nil, 0, errors.Wrapf(errors.ErrDatabase, "decode part row %s: %v", row.ID, err)
		}
		partsBySegment[row.SegmentID] = append(partsBySegment[row.SegmentID], positioned[*ingest.Part]{d.Position, &ingest.Part{
			ExternalID: d.ExternalID,
			Name:       d.Name,
			Rank:       d.Rank,
			Payload:    d.Payload,
			Modified:   row.Modified,
		}})
	}

	rd.Segments = sortPositioned(segmentOrder)
	for id, parts := range partsBySegment {
		segments[id].Parts = sortPositioned(parts)
	}
	return rd, sourceRevision, nil
}

type positioned[T any] struct {
	position int
	value    T
}

// sortPositioned orders by position, breaking ties by external id so the
// result never depends on row order.
func sortPositioned[T interface{ *ingest.Segment | *ingest.Part }](items []positioned[T]) []T {
	sort.Slice(items, func(i, j int) bool {
		if items[i].position != items[j].position {
			return items[i].position < items[j].position
		}
		return externalID(items[i].value) < externalID(items[j].value)
	})
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = it.value
	}
	return out
}

func externalID(v any) string {
	switch e := v.(type) {
	case *ingest.Segment:
		return e.ExternalID
	case *ingest.Part:
		return e.ExternalID
	default:
		return ""
	}
}
