package translate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navsql/internal/expr"
	"github.com/roach88/navsql/internal/querysql"
	"github.com/roach88/navsql/internal/querytext"
	"github.com/roach88/navsql/internal/schema"
	"github.com/roach88/navsql/internal/store"
	"github.com/roach88/navsql/internal/testutil"
)

const berlinOrders = `Orders.Where(o => o.Customer.City == "Berlin")`

func parse(t *testing.T, m *schema.Model, src string) expr.Expr {
	t.Helper()
	e, err := querytext.Parse(src, m)
	require.NoError(t, err)
	return e
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestTranslate_CachesByFingerprint(t *testing.T) {
	m := testutil.Northwind(t)
	tr := New(m.Descriptors, WithLogger(quiet()), WithIDGenerator(testutil.NewSequenceIDs("tr")))

	first, err := tr.Translate(t.Context(), parse(t, m, berlinOrders))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "tr-1", first.ID)
	assert.Contains(t, first.SQL, "INNER JOIN Customers")
	assert.Equal(t, []any{"Berlin"}, first.Params)
	assert.True(t, first.Converged)
	assert.NotNil(t, first.Expr)

	// A separately parsed tree with renamed lambda parameters hits the cache
	second, err := tr.Translate(t.Context(), parse(t, m, `Orders.Where(x => x.Customer.City == "Berlin")`))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "tr-2", second.ID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.SQL, second.SQL)

	stats := tr.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Compiles)
}

func TestTranslate_DifferentConstantsDoNotShare(t *testing.T) {
	m := testutil.Northwind(t)
	tr := New(m.Descriptors, WithLogger(quiet()))

	a, err := tr.Translate(t.Context(), parse(t, m, berlinOrders))
	require.NoError(t, err)
	b, err := tr.Translate(t.Context(), parse(t, m, `Orders.Where(o => o.Customer.City == "Madrid")`))
	require.NoError(t, err)

	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
	assert.False(t, b.Cached)
	assert.Equal(t, []any{"Madrid"}, b.Params)
}

func TestTranslate_UUIDv7IDs(t *testing.T) {
	m := testutil.Northwind(t)
	tr := New(m.Descriptors, WithLogger(quiet()))

	out, err := tr.Translate(t.Context(), parse(t, m, berlinOrders))
	require.NoError(t, err)
	assert.Len(t, out.ID, 36)
	assert.Equal(t, byte('7'), out.ID[14], "version nibble")
}

func TestTranslate_Concurrent(t *testing.T) {
	m := testutil.Northwind(t)
	tr := New(m.Descriptors, WithLogger(quiet()))
	e := parse(t, m, `Customers.Select(c => new { c.CustomerID, Orders = c.Orders })`)

	const workers = 32
	results := make([]*Translation, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tr.Translate(context.Background(), e)
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].SQL, results[i].SQL)
		assert.Equal(t, results[0].Secondary, results[i].Secondary)
		ids[results[i].ID] = true
	}
	assert.Len(t, ids, workers, "every call gets its own ID")

	stats := tr.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.GreaterOrEqual(t, stats.Compiles, int64(1))
}

func TestTranslate_EvictsOldest(t *testing.T) {
	m := testutil.Northwind(t)
	tr := New(m.Descriptors, WithLogger(quiet()), WithCacheSize(2))

	queries := []string{
		`Orders.Where(o => o.OrderID > 1)`,
		`Orders.Where(o => o.OrderID > 2)`,
		`Orders.Where(o => o.OrderID > 3)`,
	}
	for _, q := range queries {
		_, err := tr.Translate(t.Context(), parse(t, m, q))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, tr.Stats().Entries)

	// The first query was evicted, the last one is still cached
	out, err := tr.Translate(t.Context(), parse(t, m, queries[0]))
	require.NoError(t, err)
	assert.False(t, out.Cached)
	out, err = tr.Translate(t.Context(), parse(t, m, queries[2]))
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Equal(t, int64(4), tr.Stats().Compiles)
}

func TestTranslate_WithoutCache(t *testing.T) {
	m := testutil.Northwind(t)
	tr := New(m.Descriptors, WithLogger(quiet()), WithoutCache())

	for i := 0; i < 2; i++ {
		out, err := tr.Translate(t.Context(), parse(t, m, berlinOrders))
		require.NoError(t, err)
		assert.False(t, out.Cached)
	}
	assert.Equal(t, int64(2), tr.Stats().Compiles)
	assert.Equal(t, 0, tr.Stats().Entries)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTranslate_Store(t *testing.T) {
	m := testutil.Northwind(t)
	s := openStore(t)
	ctx := t.Context()
	src := `Customers.Select(c => new { c.CustomerID, Orders = c.Orders })`

	writer := New(m.Descriptors, WithLogger(quiet()), WithStore(s))
	want, err := writer.Translate(ctx, parse(t, m, src))
	require.NoError(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A fresh translator finds the query in the store
	reader := New(m.Descriptors, WithLogger(quiet()), WithStore(s))
	got, err := reader.Translate(ctx, parse(t, m, src))
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.Nil(t, got.Expr)
	assert.Equal(t, want.Tree, got.Tree)
	assert.Equal(t, want.SQL, got.SQL)
	assert.Equal(t, want.Secondary, got.Secondary)
	assert.Equal(t, int64(0), reader.Stats().Compiles)
}

func TestTranslate_Warm(t *testing.T) {
	m := testutil.Northwind(t)
	s := openStore(t)
	ctx := t.Context()

	writer := New(m.Descriptors, WithLogger(quiet()), WithStore(s))
	for _, q := range []string{berlinOrders, `Orders.Count()`} {
		_, err := writer.Translate(ctx, parse(t, m, q))
		require.NoError(t, err)
	}

	warmed := New(m.Descriptors, WithLogger(quiet()), WithStore(s))
	n, err := warmed.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, warmed.Stats().Entries)

	out, err := warmed.Translate(ctx, parse(t, m, `Orders.Count()`))
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Equal(t, "SELECT COUNT(*) FROM Orders AS t0", out.SQL)

	n, err = New(m.Descriptors, WithLogger(quiet())).Warm(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTranslate_UnresolvedNavigation(t *testing.T) {
	m := testutil.Northwind(t)
	e := parse(t, m, berlinOrders)

	// No descriptors: the Customer navigation cannot be resolved
	lenient := New(nil, WithLogger(quiet()))
	_, err := lenient.Translate(t.Context(), e)
	require.Error(t, err)
	assert.True(t, querysql.IsTranslationError(err))
	assert.False(t, errors.Is(err, ErrUnresolvedNavigation))

	strict := New(nil, WithLogger(quiet()), WithStrictNavigation(true))
	_, err = strict.Translate(t.Context(), e)
	require.ErrorIs(t, err, ErrUnresolvedNavigation)

	var uerr *UnresolvedError
	require.ErrorAs(t, err, &uerr)
	require.NotEmpty(t, uerr.Unresolved)
	assert.Equal(t, "Order", uerr.Unresolved[0].Entity)
	assert.Equal(t, "Customer", uerr.Unresolved[0].Member)
	assert.Contains(t, err.Error(), "Order.Customer")

	// Failures are not cached
	assert.Equal(t, 0, strict.Stats().Entries)
}

func TestTranslate_Errors(t *testing.T) {
	m := testutil.Northwind(t)
	tr := New(m.Descriptors, WithLogger(quiet()))

	_, err := tr.Translate(t.Context(), nil)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = tr.Translate(ctx, parse(t, m, berlinOrders))
	require.ErrorIs(t, err, context.Canceled)
}

func TestTranslate_Logging(t *testing.T) {
	m := testutil.Northwind(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tr := New(m.Descriptors, WithLogger(logger), WithIDGenerator(testutil.NewSequenceIDs("tr")))

	_, err := tr.Translate(t.Context(), parse(t, m, berlinOrders))
	require.NoError(t, err)
	_, err = tr.Translate(t.Context(), parse(t, m, berlinOrders))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `msg="rewrite pass"`)
	assert.Contains(t, out, "stage=normalize")
	assert.Contains(t, out, `msg="query translated" translation_id=tr-1`)
	assert.Contains(t, out, "cached=false")
	assert.Contains(t, out, `msg="translation cache hit" translation_id=tr-2`)
}

func TestCache_EvictsOldestInsertedDespiteHits(t *testing.T) {
	c := newCache(2)
	c.put(&Translation{Fingerprint: "a"})
	c.put(&Translation{Fingerprint: "b"})

	_, ok := c.get("a")
	require.True(t, ok)

	c.put(&Translation{Fingerprint: "c"})

	_, ok = c.get("a")
	assert.False(t, ok, "a hit does not protect the oldest entry")
	_, ok = c.get("b")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.len())
	assert.Equal(t, int64(3), c.hits.Load())
	assert.Equal(t, int64(1), c.misses.Load())
}
