package production

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/logging"
	"github.com/xtxerr/nrcsync/internal/store"
)

var log = logging.Component("production")

// OrphanDeleted marks an entity the NRCS removed while it was on air.
const OrphanDeleted = "deleted"

var migrations = []store.Migration{
	{
		Name: "production_rundowns",
		SQL: `CREATE TABLE IF NOT EXISTS production_rundowns (
			id          VARCHAR PRIMARY KEY,
			external_id VARCHAR NOT NULL,
			name        VARCHAR NOT NULL,
			type        VARCHAR NOT NULL DEFAULT '',
			payload     VARCHAR NOT NULL DEFAULT 'null',
			on_air      BOOLEAN NOT NULL DEFAULT false,
			orphaned    VARCHAR NOT NULL DEFAULT ''
		)`,
	},
	{
		Name: "production_segments",
		SQL: `CREATE TABLE IF NOT EXISTS production_segments (
			id          VARCHAR PRIMARY KEY,
			rundown_id  VARCHAR NOT NULL,
			external_id VARCHAR NOT NULL,
			name        VARCHAR NOT NULL,
			rank        DOUBLE  NOT NULL,
			payload     VARCHAR NOT NULL DEFAULT 'null',
			on_air      BOOLEAN NOT NULL DEFAULT false,
			orphaned    VARCHAR NOT NULL DEFAULT ''
		)`,
	},
	{
		Name: "production_parts",
		SQL: `CREATE TABLE IF NOT EXISTS production_parts (
			id          VARCHAR PRIMARY KEY,
			rundown_id  VARCHAR NOT NULL,
			segment_id  VARCHAR NOT NULL,
			external_id VARCHAR NOT NULL,
			name        VARCHAR NOT NULL,
			rank        DOUBLE  NOT NULL,
			payload     VARCHAR NOT NULL DEFAULT 'null'
		)`,
	},
}

// Store is the DuckDB backed production model.
//
// Store is safe for concurrent use. Commits for one rundown are
// serialised by the caller.
type Store struct {
	db *store.Store

	// snapshots collapses concurrent reads of the same rundown.
	snapshots singleflight.Group
}

// NewStore creates the production tables in db.
func NewStore(ctx context.Context, db *store.Store) (*Store, error) {
	if err := store.Apply(ctx, db.DB(), migrations); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Commit applies d in one transaction.
func (s *Store) Commit(ctx context.Context, d *Directive) error {
	if d == nil || d.IsEmpty() {
		return nil
	}
	if d.RundownExternalID == "" {
		return errors.NewMissingField("rundownExternalId")
	}

	err := s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
		if d.RemoveRundown {
			return removeRundown(ctx, tx, d.RundownExternalID, d.Force)
		}
		return applyDirective(ctx, tx, d)
	})
	if err != nil {
		return errors.Wrapf(err, "commit rundown %q", d.RundownExternalID)
	}

	sum := d.Summary()
	log.Debug("committed",
		"rundown", d.RundownExternalID,
		"remove", d.RemoveRundown,
		"regenerate_rundown", d.RegenerateRundown,
		"changed", sum.Changed,
		"removed", sum.Removed,
		"renamed", sum.Renamed,
		"moved", sum.Moved)
	return nil
}

func applyDirective(ctx context.Context, tx *sql.Tx, d *Directive) error {
	rundownID, err := upsertRundown(ctx, tx, d)
	if err != nil {
		return err
	}

	// Resolve every rename source first so swaps and chains cannot collide.
	renameIDs := make(map[string]string, len(d.RenamedSegments))
	for _, oldID := range sortedRenames(d.RenamedSegments) {
		id, err := segmentID(ctx, tx, rundownID, oldID)
		if err != nil {
			return err
		}
		if id == "" {
			log.Warn("renamed segment not in production model",
				"rundown", d.RundownExternalID, "from", oldID, "to", d.RenamedSegments[oldID])
			continue
		}
		renameIDs[id] = d.RenamedSegments[oldID]
	}

	// Removals name ids as they were before this commit, so they run
	// before any rename can reuse one of them.
	for _, extID := range d.RemovedSegmentIDs {
		if err := removeSegment(ctx, tx, rundownID, extID); err != nil {
			return err
		}
	}

	for id, newID := range renameIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE production_segments SET external_id = ? WHERE id = ?`, newID, id); err != nil {
			return fmt.Errorf("rename segment: %w: %w", errors.ErrDatabase, err)
		}
	}

	for extID, rank := range d.UpdatedRanks {
		if _, err := tx.ExecContext(ctx, `
			UPDATE production_segments SET rank = ?
			WHERE rundown_id = ? AND external_id = ? AND orphaned = ''
		`, rank, rundownID, extID); err != nil {
			return fmt.Errorf("rank segment %s: %w: %w", extID, errors.ErrDatabase, err)
		}
	}

	for _, seg := range d.ChangedSegments {
		if err := regenerateSegment(ctx, tx, rundownID, seg); err != nil {
			return err
		}
	}
	return nil
}

func upsertRundown(ctx context.Context, tx *sql.Tx, d *Directive) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM production_rundowns WHERE external_id = ?`, d.RundownExternalID).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		id = uuid.NewString()
		name, typ, payload, err := rundownFields(d)
		if err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO production_rundowns (id, external_id, name, type, payload)
			VALUES (?, ?, ?, ?, ?)
		`, id, d.RundownExternalID, name, typ, payload); err != nil {
			return "", fmt.Errorf("insert rundown: %w: %w", errors.ErrDatabase, err)
		}
		return id, nil
	case err != nil:
		return "", fmt.Errorf("find rundown: %w: %w", errors.ErrDatabase, err)
	}

	if d.RegenerateRundown {
		name, typ, payload, err := rundownFields(d)
		if err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE production_rundowns SET name = ?, type = ?, payload = ?, orphaned = ''
			WHERE id = ?
		`, name, typ, payload, id); err != nil {
			return "", fmt.Errorf("update rundown: %w: %w", errors.ErrDatabase, err)
		}
	}
	return id, nil
}

func rundownFields(d *Directive) (name, typ, payload string, err error) {
	if d.Rundown == nil {
		return "", "", "", errors.NewValidation("directive", "rundown tree missing")
	}
	payload, err = encodePayload(d.Rundown.Payload)
	return d.Rundown.Name, d.Rundown.Type, payload, err
}

func segmentID(ctx context.Context, tx *sql.Tx, rundownID, externalID string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM production_segments
		WHERE rundown_id = ? AND external_id = ? AND orphaned = ''
	`, rundownID, externalID).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		return "", nil
	case err != nil:
		return "", fmt.Errorf("find segment %s: %w: %w", externalID, errors.ErrDatabase, err)
	}
	return id, nil
}

// removeSegment hard-deletes a segment unless it is on air, in which case
// it stays in place marked as orphaned.
func removeSegment(ctx context.Context, tx *sql.Tx, rundownID, externalID string) error {
	var (
		id    string
		onAir bool
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, on_air FROM production_segments
		WHERE rundown_id = ? AND external_id = ? AND orphaned = ''
	`, rundownID, externalID).Scan(&id, &onAir)
	switch {
	case err == sql.ErrNoRows:
		return nil
	case err != nil:
		return fmt.Errorf("find segment %s: %w: %w", externalID, errors.ErrDatabase, err)
	}

	if onAir {
		log.Info("orphaning on-air segment", "segment", externalID)
		_, err = tx.ExecContext(ctx, `UPDATE production_segments SET orphaned = ? WHERE id = ?`, OrphanDeleted, id)
	} else {
		if _, err = tx.ExecContext(ctx, `DELETE FROM production_parts WHERE segment_id = ?`, id); err == nil {
			_, err = tx.ExecContext(ctx, `DELETE FROM production_segments WHERE id = ?`, id)
		}
	}
	if err != nil {
		return fmt.Errorf("remove segment %s: %w: %w", externalID, errors.ErrDatabase, err)
	}
	return nil
}

// regenerateSegment rewrites a segment and all of its parts. The segment
// keeps its internal id, parts are recreated.
func regenerateSegment(ctx context.Context, tx *sql.Tx, rundownID string, seg *ingest.Segment) error {
	payload, err := encodePayload(seg.Payload)
	if err != nil {
		return err
	}
	id, err := segmentID(ctx, tx, rundownID, seg.ExternalID)
	if err != nil {
		return err
	}

	if id == "" {
		id = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO production_segments (id, rundown_id, external_id, name, rank, payload)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, rundownID, seg.ExternalID, seg.Name, seg.Rank, payload)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE production_segments SET name = ?, rank = ?, payload = ? WHERE id = ?
		`, seg.Name, seg.Rank, payload, id)
	}
	if err != nil {
		return fmt.Errorf("write segment %s: %w: %w", seg.ExternalID, errors.ErrDatabase, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM production_parts WHERE segment_id = ?`, id); err != nil {
		return fmt.Errorf("clear parts of %s: %w: %w", seg.ExternalID, errors.ErrDatabase, err)
	}
	for _, p := range seg.Parts {
		payload, err := encodePayload(p.Payload)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO production_parts (id, rundown_id, segment_id, external_id, name, rank, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), rundownID, id, p.ExternalID, p.Name, p.Rank, payload); err != nil {
			return fmt.Errorf("write part %s: %w: %w", p.ExternalID, errors.ErrDatabase, err)
		}
	}
	return nil
}

func removeRundown(ctx context.Context, tx *sql.Tx, externalID string, force bool) error {
	var (
		id    string
		onAir bool
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, on_air FROM production_rundowns WHERE external_id = ?`, externalID).Scan(&id, &onAir)
	switch {
	case err == sql.ErrNoRows:
		return nil
	case err != nil:
		return fmt.Errorf("find rundown: %w: %w", errors.ErrDatabase, err)
	}

	if onAir && !force {
		log.Info("orphaning on-air rundown", "rundown", externalID)
		if _, err := tx.ExecContext(ctx,
			`UPDATE production_rundowns SET orphaned = ? WHERE id = ?`, OrphanDeleted, id); err != nil {
			return fmt.Errorf("orphan rundown: %w: %w", errors.ErrDatabase, err)
		}
		return nil
	}

	for _, q := range []string{
		`DELETE FROM production_parts WHERE rundown_id = ?`,
		`DELETE FROM production_segments WHERE rundown_id = ?`,
		`DELETE FROM production_rundowns WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("remove rundown: %w: %w", errors.ErrDatabase, err)
		}
	}
	return nil
}

// MarkOnAir flags a rundown, or one of its segments when segmentID is
// set, as on air. It stands in for the playout state machine.
func (s *Store) MarkOnAir(ctx context.Context, rundownID, segmentID string, onAir bool) error {
	return s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM production_rundowns WHERE external_id = ?`, rundownID).Scan(&id)
		if err == sql.ErrNoRows {
			return errors.NewNotFound("rundown", rundownID)
		} else if err != nil {
			return fmt.Errorf("find rundown: %w: %w", errors.ErrDatabase, err)
		}

		if segmentID == "" {
			_, err = tx.ExecContext(ctx, `UPDATE production_rundowns SET on_air = ? WHERE id = ?`, onAir, id)
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE production_segments SET on_air = ?
			WHERE rundown_id = ? AND external_id = ? AND orphaned = ''
		`, onAir, id, segmentID)
		if err != nil {
			return fmt.Errorf("mark segment: %w: %w", errors.ErrDatabase, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewNotFound("segment", segmentID)
		}
		return nil
	})
}

func encodePayload(p ingest.Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(s string) (ingest.Payload, error) {
	var p ingest.Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return p, fmt.Errorf("decode payload: %w: %w", errors.ErrDatabase, err)
	}
	return p, nil
}

var _ Model = (*Store)(nil)
