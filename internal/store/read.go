package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const selectEntry = `
	SELECT fingerprint, tree, sql, params, secondary, created_at
	FROM compiled_queries
`

// Get returns the entry stored for fingerprint. found is false when there
// is none.
func (s *Store) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+"WHERE fingerprint = ?", fingerprint)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get compiled query: %w", err)
	}
	return e, true, nil
}

// List returns every entry in insertion order.
//
// Returns an empty slice (not nil) when the store is empty.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	entries := []Entry{}
	err := s.Replay(ctx, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// scanner is the common interface of *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                     Entry
		params, secs, created string
	)
	if err := row.Scan(&e.Fingerprint, &e.Tree, &e.SQL, &params, &secs, &created); err != nil {
		return Entry{}, err
	}

	var err error
	if e.Params, err = unmarshalParams(params); err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", e.Fingerprint, err)
	}
	if e.Secondary, err = unmarshalSecondary(secs); err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", e.Fingerprint, err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Entry{}, fmt.Errorf("entry %s: parse created_at: %w", e.Fingerprint, err)
	}
	return e, nil
}
