package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/navsql/internal/querysql"
)

// Entry is one compiled query.
type Entry struct {
	Fingerprint string

	// Tree is the rewritten expression tree in expr.Format text.
	Tree string

	SQL       string
	Params    []any
	Secondary []querysql.Secondary
	CreatedAt time.Time
}

// Put stores e. Uses INSERT OR IGNORE for idempotency - a fingerprint that
// is already stored keeps its first entry.
//
// CreatedAt is set from the store clock when zero.
func (s *Store) Put(ctx context.Context, e Entry) error {
	if e.Fingerprint == "" {
		return fmt.Errorf("put compiled query: empty fingerprint")
	}

	params, err := marshalParams(e.Params)
	if err != nil {
		return fmt.Errorf("put compiled query: %w", err)
	}
	secs, err := marshalSecondary(e.Secondary)
	if err != nil {
		return fmt.Errorf("put compiled query: %w", err)
	}

	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO compiled_queries
		(fingerprint, tree, sql, params, secondary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		e.Fingerprint,
		e.Tree,
		e.SQL,
		params,
		secs,
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put compiled query: %w", err)
	}

	return nil
}

// Delete removes the entry for fingerprint. Deleting a missing entry is
// not an error.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM compiled_queries WHERE fingerprint = ?", fingerprint); err != nil {
		return fmt.Errorf("delete compiled query: %w", err)
	}
	return nil
}

// Purge removes every entry and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM compiled_queries")
	if err != nil {
		return 0, fmt.Errorf("purge compiled queries: %w", err)
	}
	return res.RowsAffected()
}
