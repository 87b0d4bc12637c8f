package rewrite

import (
	"fmt"

	"github.com/roach88/navsql/internal/descriptor"
	"github.com/roach88/navsql/internal/expr"
)

// Unresolved is a member access on an entity that is neither a scalar
// column nor a described navigation. The navigation pass leaves such
// accesses in place.
type Unresolved struct {
	Entity string
	Member string
	Expr   expr.Expr
}

func (u Unresolved) String() string {
	return fmt.Sprintf("%s.%s has no navigation descriptor (in %s)", u.Entity, u.Member, expr.Format(u.Expr))
}

// Diagnose lists the unresolved member accesses in e, once per distinct
// access, in walk order.
func Diagnose(e expr.Expr, set *descriptor.Set) []Unresolved {
	var out []Unresolved
	seen := make(map[string]bool)
	expr.Walk(e, func(n expr.Expr) bool {
		m, ok := n.(*expr.Member)
		if !ok {
			return true
		}
		t := m.X.Type()
		if !t.IsEntity() || m.T.IsScalar() || set.IsNavigation(m.X, m.Name) {
			return true
		}
		text := expr.Format(m)
		if seen[text] {
			return true
		}
		seen[text] = true
		out = append(out, Unresolved{Entity: t.Name, Member: m.Name, Expr: m})
		return true
	})
	return out
}
