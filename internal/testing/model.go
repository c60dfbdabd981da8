package testing

import (
	"context"
	"sort"
	"sync"

	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/production"
)

// =============================================================================
// Memory Production Model
// =============================================================================

// MemoryModel is a production.Model that keeps segments in memory and
// records every directive it was asked to commit.
type MemoryModel struct {
	mu       sync.Mutex
	rundowns map[string]*memoryRundown
	commits  []*production.Directive
	err      error
}

type memoryRundown struct {
	name     string
	segments map[string]*ingest.Segment
	// identity survives renames, like the internal id of the real model.
	identity map[string]int
	nextID   int
}

// NewMemoryModel returns an empty model.
func NewMemoryModel() *MemoryModel {
	return &MemoryModel{rundowns: make(map[string]*memoryRundown)}
}

// Commit applies d, or nothing when a failure is injected.
func (m *MemoryModel) Commit(ctx context.Context, d *production.Directive) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	if d.IsEmpty() {
		return nil
	}
	m.commits = append(m.commits, d)

	if d.RemoveRundown {
		delete(m.rundowns, d.RundownExternalID)
		return nil
	}

	rd := m.rundowns[d.RundownExternalID]
	if rd == nil {
		rd = &memoryRundown{segments: make(map[string]*ingest.Segment), identity: make(map[string]int)}
		m.rundowns[d.RundownExternalID] = rd
	}
	if d.Rundown != nil && (d.RegenerateRundown || rd.name == "") {
		rd.name = d.Rundown.Name
	}

	for _, id := range d.RemovedSegmentIDs {
		delete(rd.segments, id)
		delete(rd.identity, id)
	}

	segs := make(map[string]*ingest.Segment, len(d.RenamedSegments))
	ids := make(map[string]int, len(d.RenamedSegments))
	for oldID, newID := range d.RenamedSegments {
		if s, ok := rd.segments[oldID]; ok {
			segs[newID], ids[newID] = s, rd.identity[oldID]
			delete(rd.segments, oldID)
			delete(rd.identity, oldID)
		}
	}
	for newID, s := range segs {
		c := s.Clone()
		c.ExternalID = newID
		rd.segments[newID] = c
		rd.identity[newID] = ids[newID]
	}

	for id, rank := range d.UpdatedRanks {
		if s, ok := rd.segments[id]; ok {
			s.Rank = rank
		}
	}
	for _, s := range d.ChangedSegments {
		rd.segments[s.ExternalID] = s.Clone()
		if _, ok := rd.identity[s.ExternalID]; !ok {
			rd.nextID++
			rd.identity[s.ExternalID] = rd.nextID
		}
	}
	return nil
}

// FailCommits makes every following Commit return err. Pass nil to
// recover.
func (m *MemoryModel) FailCommits(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Commits returns the directives committed so far, empty ones excluded.
func (m *MemoryModel) Commits() []*production.Directive {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*production.Directive(nil), m.commits...)
}

// Exists reports whether the rundown is in the model.
func (m *MemoryModel) Exists(rundownID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rundowns[rundownID]
	return ok
}

// SegmentIDs returns the segment ids of a rundown in rank order.
func (m *MemoryModel) SegmentIDs(rundownID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rd := m.rundowns[rundownID]
	if rd == nil {
		return nil
	}
	segs := make([]*ingest.Segment, 0, len(rd.segments))
	for _, s := range rd.segments {
		segs = append(segs, s)
	}
	sort.Slice(segs, func(i, j int) bool {
		if segs[i].Rank != segs[j].Rank {
			return segs[i].Rank < segs[j].Rank
		}
		return segs[i].ExternalID < segs[j].ExternalID
	})
	ids := make([]string, len(segs))
	for i, s := range segs {
		ids[i] = s.ExternalID
	}
	return ids
}

// Segment returns a copy of one segment, or nil.
func (m *MemoryModel) Segment(rundownID, segmentID string) *ingest.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rd := m.rundowns[rundownID]; rd != nil {
		return rd.segments[segmentID].Clone()
	}
	return nil
}

// Identity returns the stable internal number of a segment, zero when it
// does not exist.
func (m *MemoryModel) Identity(rundownID, segmentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rd := m.rundowns[rundownID]; rd != nil {
		return rd.identity[segmentID]
	}
	return 0
}

var _ production.Model = (*MemoryModel)(nil)
