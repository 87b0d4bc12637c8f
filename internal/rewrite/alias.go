package rewrite

import (
	"strconv"
	"strings"

	"github.com/roach88/navsql/internal/expr"
)

// AliasAllocator hands out join aliases t0, t1, ... for one translation.
//
// Not safe for concurrent use. Each translation owns its allocator.
type AliasAllocator struct {
	next int
	used map[string]bool
}

// NewAliasAllocator returns an allocator that never reissues an alias
// already present on a Join node in e.
func NewAliasAllocator(e expr.Expr) *AliasAllocator {
	a := &AliasAllocator{used: make(map[string]bool)}
	expr.Walk(e, func(n expr.Expr) bool {
		j, ok := n.(*expr.Join)
		if !ok || j.Alias == "" {
			return true
		}
		a.used[j.Alias] = true
		if i, ok := aliasIndex(j.Alias); ok && i >= a.next {
			a.next = i + 1
		}
		return true
	})
	return a
}

func aliasIndex(alias string) (int, bool) {
	if !strings.HasPrefix(alias, "t") {
		return 0, false
	}
	i, err := strconv.Atoi(alias[1:])
	return i, err == nil && i >= 0
}

// Next returns an unused alias.
func (a *AliasAllocator) Next() string {
	for {
		alias := "t" + strconv.Itoa(a.next)
		a.next++
		if !a.used[alias] {
			a.used[alias] = true
			return alias
		}
	}
}
