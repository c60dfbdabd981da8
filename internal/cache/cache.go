package cache

import (
	"context"
	"sort"
	"time"

	"github.com/xtxerr/nrcsync/internal/diff"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/logging"
)

var log = logging.Component("cache")

// =============================================================================
// Staged collection
// =============================================================================

// collection is the row set of one rundown in one table, plus the changes
// staged against it. Nothing reaches the store before save.
type collection struct {
	name      Collection
	rundownID string
	store     RowStore
	gen       Generator

	rows    map[string]Row
	upserts map[string]Row
	deletes map[string]struct{}
}

func loadCollection(ctx context.Context, store RowStore, name Collection, rundownID string) (*collection, error) {
	rows, err := store.LoadRows(ctx, name, rundownID)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s rows for %q", name, rundownID)
	}

	c := &collection{
		name:      name,
		rundownID: rundownID,
		store:     store,
		gen:       NewGenerator(rundownID),
		rows:      make(map[string]Row, len(rows)),
		upserts:   make(map[string]Row),
		deletes:   make(map[string]struct{}),
	}
	for _, r := range rows {
		c.rows[r.ID] = r
	}
	return c, nil
}

// current returns the rows as they would be after save.
func (c *collection) current() []Row {
	out := make([]Row, 0, len(c.rows))
	for _, r := range c.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *collection) replace(r Row) {
	c.rows[r.ID] = r
	c.upserts[r.ID] = r
	delete(c.deletes, r.ID)
}

func (c *collection) remove(id string) {
	if _, ok := c.rows[id]; !ok {
		return
	}
	delete(c.rows, id)
	delete(c.upserts, id)
	c.deletes[id] = struct{}{}
}

func (c *collection) removeAllExcept(keep map[string]struct{}) {
	for id := range c.rows {
		if _, ok := keep[id]; !ok {
			c.remove(id)
		}
	}
}

func (c *collection) removeAll() {
	for id := range c.rows {
		c.remove(id)
	}
}

// Pending returns the number of staged upserts and deletes.
func (c *collection) Pending() (upserts, deletes int) {
	return len(c.upserts), len(c.deletes)
}

// save flushes staged changes as one bulk write and clears them.
func (c *collection) save(ctx context.Context) error {
	if len(c.upserts) == 0 && len(c.deletes) == 0 {
		return nil
	}

	upserts := make([]Row, 0, len(c.upserts))
	for _, r := range c.upserts {
		upserts = append(upserts, r)
	}
	sort.Slice(upserts, func(i, j int) bool { return upserts[i].ID < upserts[j].ID })

	deletes := make([]string, 0, len(c.deletes))
	for id := range c.deletes {
		deletes = append(deletes, id)
	}
	sort.Strings(deletes)

	start := time.Now()
	if err := c.store.WriteRows(ctx, c.name, upserts, deletes); err != nil {
		return errors.Wrapf(err, "save %s for %q", c.name, c.rundownID)
	}

	log.Debug("cache saved",
		"collection", c.name,
		"rundown", c.rundownID,
		"upserts", len(upserts),
		"deletes", len(deletes),
		"duration", time.Since(start))

	c.upserts = make(map[string]Row)
	c.deletes = make(map[string]struct{})
	return nil
}

// =============================================================================
// NRCS cache
// =============================================================================

// NrcsCache holds the tree exactly as the NRCS last delivered it.
type NrcsCache struct {
	*collection
	now func() time.Time
}

// LoadNrcs reads the cached rows of a rundown.
func LoadNrcs(ctx context.Context, store RowStore, rundownID string) (*NrcsCache, error) {
	c, err := loadCollection(ctx, store, CollectionNrcs, rundownID)
	if err != nil {
		return nil, err
	}
	return &NrcsCache{collection: c, now: time.Now}, nil
}

// SetClock replaces the timestamp source, for tests.
func (c *NrcsCache) SetClock(now func() time.Time) {
	c.now = now
}

// Fetch returns the cached tree with Modified timestamps, or nil.
func (c *NrcsCache) Fetch() (*ingest.Rundown, error) {
	rd, _, err := Assemble(c.current())
	return rd, err
}

// Update stages the rows of tree. Rows whose content hash is unchanged
// keep their previous Modified timestamp and are not rewritten; rows not
// present in tree are staged for deletion.
func (c *NrcsCache) Update(tree *ingest.Rundown) error {
	if tree.ExternalID != c.rundownID {
		return errors.NewValidation("rundown", "tree "+tree.ExternalID+" does not belong to cache "+c.rundownID)
	}

	now := c.now().UnixMilli()
	rows, err := c.gen.TreeRows(tree, 0, now)
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		keep[r.ID] = struct{}{}
		if old, ok := c.rows[r.ID]; ok && old.Hash == r.Hash && old.Type == r.Type {
			continue
		}
		c.replace(r)
	}
	c.removeAllExcept(keep)
	return nil
}

// Delete stages removal of every row of the rundown.
func (c *NrcsCache) Delete() {
	c.removeAll()
}

// SaveToDatabase flushes staged changes.
func (c *NrcsCache) SaveToDatabase(ctx context.Context) error {
	return c.save(ctx)
}

// Revision is the content revision of the tree as it would be after save.
func (c *NrcsCache) Revision() (uint64, error) {
	rd, err := c.Fetch()
	if err != nil {
		return 0, err
	}
	return diff.TreeRevision(rd), nil
}

// =============================================================================
// Sofie cache
// =============================================================================

// SofieCache holds the reconciled tree the production model was built
// from. Its rows are produced by the staging model.
type SofieCache struct {
	*collection
}

// LoadSofie reads the cached rows of a rundown.
func LoadSofie(ctx context.Context, store RowStore, rundownID string) (*SofieCache, error) {
	c, err := loadCollection(ctx, store, CollectionSofie, rundownID)
	if err != nil {
		return nil, err
	}
	return &SofieCache{collection: c}, nil
}

// FetchLocal returns the cached tree with Modified timestamps, or nil.
func (c *SofieCache) FetchLocal() (*ingest.Rundown, error) {
	rd, _, err := Assemble(c.current())
	return rd, err
}

// SourceRevision is the NRCS tree revision the cached tree was derived
// from, zero when unknown.
func (c *SofieCache) SourceRevision() (uint64, error) {
	_, rev, err := Assemble(c.current())
	return rev, err
}

// Generator returns the row generator of this rundown.
func (c *SofieCache) Generator() Generator {
	return c.gen
}

// ReplaceRows stages rows as full replacements.
func (c *SofieCache) ReplaceRows(rows []Row) {
	for _, r := range rows {
		c.replace(r)
	}
}

// RemoveAllOther stages deletion of every row not listed in keepIDs.
func (c *SofieCache) RemoveAllOther(keepIDs []string) {
	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}
	c.removeAllExcept(keep)
}

// SetSourceRevision records which NRCS revision the tree now reflects.
// The rundown row is only rewritten when the revision moves.
func (c *SofieCache) SetSourceRevision(rev uint64, modified int64) error {
	id := c.gen.RundownRowID()
	old, ok := c.rows[id]
	if !ok {
		return errors.NewNotFound("rundown", c.rundownID)
	}

	rd, current, err := Assemble([]Row{old})
	if err != nil {
		return err
	}
	if current == rev {
		return nil
	}

	row, err := c.gen.RundownRow(rd, rev, modified)
	if err != nil {
		return err
	}
	c.replace(row)
	return nil
}

// Delete stages removal of every row of the rundown.
func (c *SofieCache) Delete() {
	c.removeAll()
}

// SaveToDatabase flushes staged changes.
func (c *SofieCache) SaveToDatabase(ctx context.Context) error {
	return c.save(ctx)
}
