package store

import (
	"context"
	"fmt"
)

// Replay calls fn for every stored entry in insertion order. It stops at
// the first error fn returns and returns that error. fn must not call back
// into the store: the single connection is held until Replay returns.
//
// The translator replays the store on startup to warm its in-memory cache.
func (s *Store) Replay(ctx context.Context, fn func(Entry) error) error {
	// rowid is insertion order; created_at is informational only
	rows, err := s.db.QueryContext(ctx, selectEntry+"ORDER BY rowid ASC")
	if err != nil {
		return fmt.Errorf("replay compiled queries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("replay compiled queries: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("replay compiled queries: %w", err)
	}
	return nil
}
