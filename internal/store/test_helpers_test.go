package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/navsql/internal/querysql"
	"github.com/roach88/navsql/internal/testutil"
)

var testEpoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(testutil.NewDeterministicClock(testEpoch, time.Second).Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry creates an entry with one parameter of every kind and a
// nested secondary.
func createTestEntry(fingerprint string) Entry {
	return Entry{
		Fingerprint: fingerprint,
		Tree:        `Orders.Where(o => (o.OrderID > 10249))`,
		SQL:         "SELECT t0.OrderID FROM Orders AS t0 WHERE (t0.OrderID > ?1) AND (t0.Freight < ?2)",
		Params:      []any{int64(10249), 1.5, "Berlin", true, testEpoch, nil},
		Secondary: []querysql.Secondary{{
			Field:       "Details",
			SQL:         "SELECT t0.Quantity FROM OrderDetails AS t0 WHERE (t0.OrderID = :k0) AND (t0.Quantity > ?1)",
			Params:      []any{int64(5)},
			Correlation: []querysql.Correlation{{Param: "k0", Column: "Details_k0"}},
			Nested: []querysql.Secondary{{
				Field:       "Product",
				SQL:         "SELECT t0.ProductName FROM Products AS t0 WHERE (t0.ProductID = :k1)",
				Correlation: []querysql.Correlation{{Param: "k1", Column: "Product_k1"}},
			}},
		}},
	}
}
