package testing

import (
	"context"
	"sort"
	"sync"

	"github.com/xtxerr/nrcsync/internal/cache"
)

// =============================================================================
// Memory Row Store
// =============================================================================

// MemoryRowStore is a cache.RowStore backed by maps. Writes are applied
// atomically per call, like the DuckDB store.
type MemoryRowStore struct {
	mu     sync.Mutex
	tables map[cache.Collection]map[string]cache.Row
	writes int
	err    error
	failed map[cache.Collection]error
}

// NewMemoryRowStore returns an empty store.
func NewMemoryRowStore() *MemoryRowStore {
	return &MemoryRowStore{
		tables: make(map[cache.Collection]map[string]cache.Row),
		failed: make(map[cache.Collection]error),
	}
}

// LoadRows returns the rows of a rundown sorted by id.
func (s *MemoryRowStore) LoadRows(ctx context.Context, c cache.Collection, rundownID string) ([]cache.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []cache.Row
	for _, r := range s.tables[c] {
		if r.RundownID == rundownID {
			out = append(out, cloneRow(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WriteRows applies upserts and deletes, or nothing when a failure is
// injected.
func (s *MemoryRowStore) WriteRows(ctx context.Context, c cache.Collection, upserts []cache.Row, deletes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if err := s.failed[c]; err != nil {
		return err
	}
	s.writes++

	table := s.tables[c]
	if table == nil {
		table = make(map[string]cache.Row)
		s.tables[c] = table
	}
	for _, r := range upserts {
		table[r.ID] = cloneRow(r)
	}
	for _, id := range deletes {
		delete(table, id)
	}
	return nil
}

// FailWrites makes every following WriteRows return err. Pass nil to
// recover.
func (s *MemoryRowStore) FailWrites(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// FailCollection makes writes to one collection fail with err.
func (s *MemoryRowStore) FailCollection(c cache.Collection, err error) {
	s.mu.Lock()
	s.failed[c] = err
	s.mu.Unlock()
}

// Writes returns how many WriteRows calls succeeded.
func (s *MemoryRowStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Count returns the number of rows of a rundown in one collection.
func (s *MemoryRowStore) Count(c cache.Collection, rundownID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.tables[c] {
		if r.RundownID == rundownID {
			n++
		}
	}
	return n
}

func cloneRow(r cache.Row) cache.Row {
	r.Data = append([]byte(nil), r.Data...)
	return r
}
