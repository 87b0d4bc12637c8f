// Package translate turns query expression trees into SQL: it runs the
// rewrite pipeline, renders the result and caches compiled queries by the
// structural fingerprint of the input tree.
//
// Lookups go to an in-memory cache first and, when configured, to a SQLite
// store second. Concurrent misses on the same fingerprint share one
// compilation through singleflight. A compilation may still run twice when
// a miss races with the end of another compilation; both produce the same
// result and the first one cached wins.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/navsql/internal/descriptor"
	"github.com/roach88/navsql/internal/expr"
	"github.com/roach88/navsql/internal/querysql"
	"github.com/roach88/navsql/internal/rewrite"
	"github.com/roach88/navsql/internal/store"
)

// IDGenerator produces translation IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 translation IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Translation is the outcome of translating one tree. Cached translations
// are shared: callers must not modify Params or Secondary.
type Translation struct {
	// ID identifies this Translate call. It differs between cache hits
	// for the same tree.
	ID          string
	Fingerprint string

	// Expr is the rewritten tree. It is nil when the translation was
	// loaded from the store; Tree holds its text in every case.
	Expr expr.Expr
	Tree string

	SQL       string
	Params    []any
	Secondary []querysql.Secondary

	// Passes and Converged report the rewrite loop. Both are zero for
	// translations loaded from the store.
	Passes    int
	Converged bool

	// Cached is true when the translation came from a cache or the store.
	Cached bool
}

// Stats reports cache activity.
type Stats struct {
	Entries  int
	Hits     int64
	Misses   int64
	Compiles int64
}

// Translator translates expression trees. It is safe for concurrent use.
type Translator struct {
	set       *descriptor.Set
	maxPasses int
	strict    bool
	cacheOff  bool

	logger   *slog.Logger
	ids      IDGenerator
	store    *store.Store
	compiler *querysql.Compiler

	cache    *cache
	group    singleflight.Group
	compiles atomic.Int64
}

// Option configures a Translator.
type Option func(*Translator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) { t.logger = l }
}

// WithMaxPasses bounds the rewrite loop. Values below 1 use
// rewrite.DefaultMaxPasses.
func WithMaxPasses(n int) Option {
	return func(t *Translator) { t.maxPasses = n }
}

// WithStrictNavigation makes Translate fail with ErrUnresolvedNavigation
// when the rewritten tree still holds member accesses no descriptor
// describes. By default such trees go to the renderer, which rejects them
// with a querysql.TranslationError.
func WithStrictNavigation(strict bool) Option {
	return func(t *Translator) { t.strict = strict }
}

// WithCacheSize bounds the in-memory cache. 0 means unbounded.
func WithCacheSize(n int) Option {
	return func(t *Translator) { t.cache = newCache(n) }
}

// WithoutCache disables the in-memory cache and the store.
func WithoutCache() Option {
	return func(t *Translator) { t.cacheOff = true }
}

// WithStore adds s as the persistent second-level cache.
func WithStore(s *store.Store) Option {
	return func(t *Translator) { t.store = s }
}

// WithIDGenerator sets the translation ID source. Defaults to UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Translator) { t.ids = g }
}

// New creates a Translator that resolves navigations with set.
func New(set *descriptor.Set, opts ...Option) *Translator {
	t := &Translator{
		set:      set,
		logger:   slog.Default(),
		ids:      UUIDv7Generator{},
		compiler: querysql.NewCompiler(),
		cache:    newCache(0),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.cacheOff {
		t.store = nil
	}
	return t
}

// Stats returns cache counters.
func (t *Translator) Stats() Stats {
	return Stats{
		Entries:  t.cache.len(),
		Hits:     t.cache.hits.Load(),
		Misses:   t.cache.misses.Load(),
		Compiles: t.compiles.Load(),
	}
}

// Translate rewrites and compiles e.
func (t *Translator) Translate(ctx context.Context, e expr.Expr) (*Translation, error) {
	if e == nil {
		return nil, fmt.Errorf("translate: nil expression")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fp := expr.Fingerprint(e)
	if !t.cacheOff {
		if tr, ok := t.cache.get(fp); ok {
			out := t.issue(tr, true)
			t.logger.Debug("translation cache hit",
				"translation_id", out.ID,
				"fingerprint", fp,
			)
			return out, nil
		}
	}

	v, err, _ := t.group.Do(fp, func() (any, error) {
		return t.load(ctx, fp, e)
	})
	if err != nil {
		return nil, err
	}
	tr := v.(*Translation)
	out := t.issue(tr, tr.Cached)
	t.logger.Info("query translated",
		"translation_id", out.ID,
		"fingerprint", fp,
		"passes", out.Passes,
		"cached", out.Cached,
	)
	return out, nil
}

// issue returns a copy of tr under a fresh translation ID.
func (t *Translator) issue(tr *Translation, cached bool) *Translation {
	out := *tr
	out.ID = t.ids.Generate()
	out.Cached = cached
	return &out
}

// load resolves a cache miss from the store or by compiling.
func (t *Translator) load(ctx context.Context, fp string, e expr.Expr) (*Translation, error) {
	if t.store != nil {
		entry, found, err := t.store.Get(ctx, fp)
		if err != nil {
			// The store is a cache; a failing read falls back to compiling.
			t.logger.Warn("compiled query store read failed",
				"fingerprint", fp,
				"error", err,
			)
		} else if found {
			tr := fromEntry(entry)
			t.cache.put(tr)
			t.logger.Debug("translation loaded from store", "fingerprint", fp)
			return tr, nil
		}
	}

	tr, err := t.compile(fp, e)
	if err != nil {
		return nil, err
	}
	t.compiles.Add(1)

	if !t.cacheOff {
		t.cache.put(tr)
	}
	if t.store != nil {
		err := t.store.Put(ctx, store.Entry{
			Fingerprint: fp,
			Tree:        tr.Tree,
			SQL:         tr.SQL,
			Params:      tr.Params,
			Secondary:   tr.Secondary,
		})
		if err != nil {
			t.logger.Warn("compiled query store write failed",
				"fingerprint", fp,
				"error", err,
			)
		}
	}
	return tr, nil
}

func (t *Translator) compile(fp string, e expr.Expr) (*Translation, error) {
	p := &rewrite.Pipeline{Set: t.set, MaxPasses: t.maxPasses}
	if t.logger.Enabled(context.Background(), slog.LevelDebug) {
		p.Trace = func(stage string, pass int, out expr.Expr) {
			if stage != rewrite.StageMergeAfter && stage != rewrite.StageNormalize {
				return
			}
			t.logger.Debug("rewrite pass",
				"fingerprint", fp,
				"stage", stage,
				"pass", pass,
				"tree", expr.Format(out),
			)
		}
	}
	res := p.Run(e)
	if !res.Converged {
		t.logger.Warn("rewrite did not converge",
			"fingerprint", fp,
			"passes", res.Passes,
		)
	}

	if t.strict {
		if diags := rewrite.Diagnose(res.Expr, t.set); len(diags) > 0 {
			return nil, &UnresolvedError{Fingerprint: fp, Unresolved: diags}
		}
	}

	sql, params, secs, err := t.compiler.Compile(res.Expr)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}

	tr := &Translation{
		Fingerprint: fp,
		Expr:        res.Expr,
		Tree:        expr.Format(res.Expr),
		SQL:         sql,
		Params:      params,
		Secondary:   secs,
		Passes:      res.Passes,
		Converged:   res.Converged,
	}
	return tr, nil
}

// Warm loads every stored translation into the in-memory cache and returns
// how many were loaded.
func (t *Translator) Warm(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	n := 0
	err := t.store.Replay(ctx, func(e store.Entry) error {
		t.cache.put(fromEntry(e))
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("warm translation cache: %w", err)
	}
	t.logger.Info("translation cache warmed", "entries", n)
	return n, nil
}

func fromEntry(e store.Entry) *Translation {
	return &Translation{
		Fingerprint: e.Fingerprint,
		Tree:        e.Tree,
		SQL:         e.SQL,
		Params:      e.Params,
		Secondary:   e.Secondary,
		Cached:      true,
	}
}
