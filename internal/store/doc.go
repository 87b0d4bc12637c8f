// Package store provides SQLite-backed persistence for compiled queries.
//
// The store is the second-level cache behind the translator's in-memory
// cache. Each row maps the structural fingerprint of an input expression
// tree to its rewritten tree text, the rendered SQL, the bound parameters
// and the secondary statements of nested results.
//
// # Critical Patterns
//
// Idempotent writes:
//   - fingerprint is the PRIMARY KEY and Put uses INSERT OR IGNORE
//   - The first translation stored for a fingerprint wins
//
// Deterministic reads:
//   - Replay and List order by rowid (insertion order), NEVER by created_at
//   - Ties cannot occur; rowid is unique
//
// Parameters are stored as tagged JSON so that int64, float64, string,
// bool, time.Time and nil values survive a round trip unchanged.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
