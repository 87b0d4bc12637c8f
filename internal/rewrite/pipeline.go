package rewrite

import (
	"github.com/roach88/navsql/internal/descriptor"
	"github.com/roach88/navsql/internal/expr"
)

// DefaultMaxPasses bounds the fixpoint loop when Pipeline.MaxPasses is
// unset.
const DefaultMaxPasses = 8

// Stage names reported to Pipeline.Trace.
const (
	StageNormalize   = "normalize"
	StageKeyEquality = "keyeq"
	StageMerge       = "merge"
	StageNavigations = "navigations"
	StageMergeAfter  = "merge-after"
)

// Pipeline runs every pass in order until the tree stops changing.
type Pipeline struct {
	Set       *descriptor.Set
	MaxPasses int

	// Trace, when set, observes the tree after each stage. Pass 0 is the
	// normalization step.
	Trace func(stage string, pass int, e expr.Expr)
}

// Result is the outcome of Pipeline.Run.
type Result struct {
	Expr expr.Expr

	// Passes is the number of loop iterations run, including the final
	// one that changed nothing.
	Passes int

	// Converged is false when MaxPasses was reached with the tree still
	// changing.
	Converged bool
}

// Run rewrites e. It never fails: constructs it cannot resolve are left in
// place for the SQL stage to reject.
func (p *Pipeline) Run(e expr.Expr) Result {
	limit := p.MaxPasses
	if limit <= 0 {
		limit = DefaultMaxPasses
	}

	e = Normalize(e)
	p.trace(StageNormalize, 0, e)

	// Allocated once so aliases stay unique across iterations.
	alias := NewAliasAllocator(e)

	res := Result{Expr: e}
	for pass := 1; pass <= limit; pass++ {
		in := res.Expr

		out := RewriteKeyEquality(in, p.Set)
		p.trace(StageKeyEquality, pass, out)
		out = MergeSelectors(out)
		p.trace(StageMerge, pass, out)
		groupings := AnalyzeGroupings(out)
		out = RewriteNavigations(out, p.Set, groupings, alias)
		p.trace(StageNavigations, pass, out)
		out = MergeSelectors(out)
		p.trace(StageMergeAfter, pass, out)

		res.Expr, res.Passes = out, pass
		if expr.Equal(in, out) {
			res.Converged = true
			break
		}
	}
	return res
}

func (p *Pipeline) trace(stage string, pass int, e expr.Expr) {
	if p.Trace != nil {
		p.Trace(stage, pass, e)
	}
}

// Normalize applies operator splitting and selector pushdown until neither
// changes the tree.
func Normalize(e expr.Expr) expr.Expr {
	for {
		out := PushDownSelectors(SplitOperators(e))
		if out == e {
			return out
		}
		e = out
	}
}

// Rewrite runs the default pipeline over e.
func Rewrite(e expr.Expr, set *descriptor.Set) expr.Expr {
	p := &Pipeline{Set: set}
	return p.Run(e).Expr
}
