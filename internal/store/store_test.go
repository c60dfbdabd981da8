package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/nrcsync/internal/cache"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := Config{
		DSN:          ":memory:",
		MaxOpenConns: 1,
		QueryTimeout: 30 * time.Second,
	}
	store, err := New(cfg)
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { store.Close() })
	return store
}

func testRow(id, rundownID string, hash uint64) cache.Row {
	return cache.Row{
		ID:        id,
		Type:      cache.RowSegment,
		RundownID: rundownID,
		SegmentID: id,
		Modified:  1000,
		Hash:      hash,
		Data:      []byte(`{"externalId":"` + id + `"}`),
	}
}

func cacheTree() *ingest.Rundown {
	return &ingest.Rundown{
		ExternalID: "rd0",
		Name:       "Show",
		Segments: []*ingest.Segment{
			{ExternalID: "seg0", Name: "S0", Parts: []*ingest.Part{{ExternalID: "p0", Name: "P0"}}},
			{ExternalID: "seg1", Name: "S1", Rank: 1},
		},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}

func TestWriteAndLoadRows(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	rows := []cache.Row{
		testRow("b", "rd0", 7),
		testRow("a", "rd0", math.MaxUint64),
		testRow("c", "rd1", 1),
	}
	require.NoError(t, s.WriteRows(ctx, cache.CollectionNrcs, rows, nil))

	got, err := s.LoadRows(ctx, cache.CollectionNrcs, "rd0")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, uint64(math.MaxUint64), got[0].Hash, "high bit survives BIGINT storage")
	assert.Equal(t, cache.RowSegment, got[0].Type)
	assert.JSONEq(t, `{"externalId":"a"}`, string(got[0].Data))
	assert.Equal(t, int64(1000), got[1].Modified)
}

func TestWriteRowsReplacesAndDeletes(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.WriteRows(ctx, cache.CollectionNrcs,
		[]cache.Row{testRow("a", "rd0", 1), testRow("b", "rd0", 2)}, nil))

	updated := testRow("a", "rd0", 3)
	updated.Modified = 2000
	require.NoError(t, s.WriteRows(ctx, cache.CollectionNrcs, []cache.Row{updated}, []string{"b", "missing"}))

	got, err := s.LoadRows(ctx, cache.CollectionNrcs, "rd0")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].Hash)
	assert.Equal(t, int64(2000), got[0].Modified)
}

func TestCollectionsAreSeparateTables(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.WriteRows(ctx, cache.CollectionNrcs, []cache.Row{testRow("a", "rd0", 1)}, nil))

	got, err := s.LoadRows(ctx, cache.CollectionSofie, "rd0")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUnknownCollection(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.LoadRows(context.Background(), "samples; DROP TABLE x", "rd0")
	assert.True(t, errors.IsValidation(err))

	err = s.WriteRows(context.Background(), "bogus", []cache.Row{testRow("a", "rd0", 1)}, nil)
	assert.True(t, errors.IsValidation(err))
}

func TestWriteRowsCancelledContext(t *testing.T) {
	s := setupTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WriteRows(ctx, cache.CollectionNrcs, []cache.Row{testRow("a", "rd0", 1)}, nil)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := s.LoadRows(context.Background(), cache.CollectionNrcs, "rd0")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteRowsLargeDelete(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	var rows []cache.Row
	var ids []string
	for i := 0; i < maxDeleteArgs+20; i++ {
		id := fmt.Sprintf("r%04d", i)
		rows = append(rows, testRow(id, "rd0", uint64(i)))
		ids = append(ids, id)
	}
	require.NoError(t, s.WriteRows(ctx, cache.CollectionSofie, rows, nil))
	require.NoError(t, s.WriteRows(ctx, cache.CollectionSofie, nil, ids))

	got, err := s.LoadRows(ctx, cache.CollectionSofie, "rd0")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListRundowns(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	late := testRow("c", "rd1", 1)
	late.Modified = 5000
	require.NoError(t, s.WriteRows(ctx, cache.CollectionNrcs,
		[]cache.Row{testRow("a", "rd0", 1), testRow("b", "rd0", 2), late}, nil))

	list, err := s.ListRundowns(ctx, cache.CollectionNrcs)
	require.NoError(t, err)
	assert.Equal(t, []RundownInfo{
		{RundownID: "rd0", Rows: 2, Modified: 1000},
		{RundownID: "rd1", Rows: 1, Modified: 5000},
	}, list)
}

func TestCacheRoundTripThroughStore(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	c, err := cache.LoadNrcs(ctx, s, "rd0")
	require.NoError(t, err)
	require.NoError(t, c.Update(cacheTree()))
	require.NoError(t, c.SaveToDatabase(ctx))

	c, err = cache.LoadNrcs(ctx, s, "rd0")
	require.NoError(t, err)
	rd, err := c.Fetch()
	require.NoError(t, err)
	require.NotNil(t, rd)
	assert.Equal(t, []string{"seg0", "seg1"}, rd.SegmentIDs())
}

func TestFileDatabasePersists(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.duckdb")
	ctx := context.Background()

	s, err := New(Config{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, s.WriteRows(ctx, cache.CollectionNrcs, []cache.Row{testRow("a", "rd0", 1)}, nil))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	assert.ErrorIs(t, s.Health(ctx), errors.ErrClosed)

	s, err = New(Config{DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadRows(ctx, cache.CollectionNrcs, "rd0")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
