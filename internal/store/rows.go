package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xtxerr/nrcsync/internal/cache"
	"github.com/xtxerr/nrcsync/internal/errors"
)

// ctxCheckInterval: the context is checked every N rows while writing.
const ctxCheckInterval = 50

// maxDeleteArgs caps the IN list of one delete statement.
const maxDeleteArgs = 500

// table maps a collection to its table. Only known collections are
// accepted because the name is spliced into SQL.
func table(c cache.Collection) (string, error) {
	switch c {
	case cache.CollectionNrcs, cache.CollectionSofie:
		return string(c), nil
	default:
		return "", errors.NewValidation("collection", fmt.Sprintf("unknown collection %q", c))
	}
}

// LoadRows returns every row of one rundown, ordered by id.
func (s *Store) LoadRows(ctx context.Context, c cache.Collection, rundownID string) ([]cache.Row, error) {
	name, err := table(c)
	if err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, errors.ErrClosed
	}

	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, rundown_id, segment_id, part_id, modified, hash, data
		FROM `+name+`
		WHERE rundown_id = ?
		ORDER BY id
	`, rundownID)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w: %w", name, rundownID, errors.ErrDatabase, err)
	}
	defer rows.Close()

	var out []cache.Row
	for rows.Next() {
		var (
			r    cache.Row
			typ  string
			hash int64
			data string
		)
		if err := rows.Scan(&r.ID, &typ, &r.RundownID, &r.SegmentID, &r.PartID, &r.Modified, &hash, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w: %w", name, errors.ErrDatabase, err)
		}
		r.Type = cache.RowType(typ)
		r.Hash = uint64(hash)
		r.Data = []byte(data)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s/%s: %w: %w", name, rundownID, errors.ErrDatabase, err)
	}
	return out, nil
}

// WriteRows upserts and deletes rows in one transaction. Either every
// change lands or none does.
func (s *Store) WriteRows(ctx context.Context, c cache.Collection, upserts []cache.Row, deletes []string) error {
	name, err := table(c)
	if err != nil {
		return err
	}
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	return s.TransactionContext(ctx, func(tx *sql.Tx) error {
		if len(upserts) > 0 {
			stmt, err := tx.PrepareContext(ctx, `
				INSERT OR REPLACE INTO `+name+` (id, type, rundown_id, segment_id, part_id, modified, hash, data)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`)
			if err != nil {
				return fmt.Errorf("prepare: %w: %w", errors.ErrDatabase, err)
			}
			defer stmt.Close()

			for i, r := range upserts {
				if i > 0 && i%ctxCheckInterval == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				_, err := stmt.ExecContext(ctx,
					r.ID, string(r.Type), r.RundownID, r.SegmentID, r.PartID,
					r.Modified, int64(r.Hash), string(r.Data))
				if err != nil {
					return fmt.Errorf("upsert %s: %w: %w", r.ID, errors.ErrDatabase, err)
				}
			}
		}

		for start := 0; start < len(deletes); start += maxDeleteArgs {
			end := min(start+maxDeleteArgs, len(deletes))
			chunk := deletes[start:end]

			args := make([]any, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}
			query := `DELETE FROM ` + name + ` WHERE id IN (` + placeholders(len(chunk)) + `)`
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("delete: %w: %w", errors.ErrDatabase, err)
			}
		}
		return nil
	})
}

// RundownInfo summarizes one cached rundown.
type RundownInfo struct {
	RundownID string
	Rows      int
	Modified  int64
}

// ListRundowns returns one entry per rundown in the collection.
func (s *Store) ListRundowns(ctx context.Context, c cache.Collection) ([]RundownInfo, error) {
	name, err := table(c)
	if err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, errors.ErrClosed
	}

	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT rundown_id, COUNT(*), MAX(modified)
		FROM `+name+`
		GROUP BY rundown_id
		ORDER BY rundown_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w: %w", name, errors.ErrDatabase, err)
	}
	defer rows.Close()

	var out []RundownInfo
	for rows.Next() {
		var info RundownInfo
		if err := rows.Scan(&info.RundownID, &info.Rows, &info.Modified); err != nil {
			return nil, fmt.Errorf("scan %s: %w: %w", name, errors.ErrDatabase, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var _ cache.RowStore = (*Store)(nil)
