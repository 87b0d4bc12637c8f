// Package descriptor holds the metadata the rewrite passes consult: one
// primary key per entity type and the navigation descriptors that say how
// two entity types are related.
//
// A Set is built once, validated eagerly, and read-only afterwards. It is
// safe to share between concurrent translations. Lookups never fail: a
// missing descriptor is reported as "not found" so every consuming pass can
// be best-effort.
package descriptor

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/navsql/internal/expr"
)

// PrimaryKey describes the identity of an entity type.
type PrimaryKey struct {
	Entity *expr.Type

	// Key selects the key from an entity row: e => e.ID for a simple key,
	// e => new { e.A, e.B } for a composite one.
	Key *expr.Lambda
}

// Parts applies the key selector to x and returns one expression per key
// member.
func (k *PrimaryKey) Parts(x expr.Expr) []expr.Expr {
	return KeyParts(k.Key, x)
}

// Arity returns the number of key members.
func (k *PrimaryKey) Arity() int {
	return len(keyShape(k.Key))
}

// Navigation describes one navigation member.
type Navigation struct {
	Declaring *expr.Type
	Member    string
	Target    *expr.Type

	// OuterKey selects the key from a Declaring row, InnerKey from a Target
	// row. Both must produce the same key shape.
	OuterKey *expr.Lambda
	InnerKey *expr.Lambda

	// Many marks a collection navigation.
	Many bool

	// Source is the related sequence the navigation resolves against. It
	// defaults to the root sequence of Target.
	Source expr.Expr
}

// OuterParts applies the outer key selector to a declaring row.
func (n *Navigation) OuterParts(x expr.Expr) []expr.Expr {
	return KeyParts(n.OuterKey, x)
}

// InnerParts applies the inner key selector to a target row.
func (n *Navigation) InnerParts(x expr.Expr) []expr.Expr {
	return KeyParts(n.InnerKey, x)
}

// Optional reports whether the relationship may be absent for a declaring
// row, which is the case when any outer key member is nullable.
func (n *Navigation) Optional() bool {
	for _, t := range keyShape(n.OuterKey) {
		if t.Nullable {
			return true
		}
	}
	return false
}

func (n *Navigation) String() string {
	card := "one"
	if n.Many {
		card = "many"
	}
	return fmt.Sprintf("%s.%s -> %s (%s)", n.Declaring.Name, n.Member, n.Target.Name, card)
}

// KeyParts applies a key selector to x and splits a composite key into its
// members.
func KeyParts(key *expr.Lambda, x expr.Expr) []expr.Expr {
	body := expr.Apply(key, x)
	if n, ok := body.(*expr.New); ok {
		return n.Args
	}
	return []expr.Expr{body}
}

// keyShape returns the member types of a key selector.
func keyShape(key *expr.Lambda) []*expr.Type {
	if n, ok := key.Body.(*expr.New); ok {
		out := make([]*expr.Type, len(n.Args))
		for i, a := range n.Args {
			out[i] = a.Type()
		}
		return out
	}
	return []*expr.Type{key.Body.Type()}
}

type navKey struct {
	entity string
	member string
}

// Set is an immutable, indexed collection of descriptors.
type Set struct {
	keys     map[string]*PrimaryKey
	navs     map[navKey][]*Navigation
	byEntity map[string][]*Navigation
}

// New validates the descriptors and indexes them. Every problem found is
// reported; the returned error joins ValidationErrors.
func New(keys []*PrimaryKey, navs []*Navigation) (*Set, error) {
	s := &Set{
		keys:     make(map[string]*PrimaryKey, len(keys)),
		navs:     make(map[navKey][]*Navigation, len(navs)),
		byEntity: make(map[string][]*Navigation),
	}

	var errs []error
	for _, k := range keys {
		if verrs := validateKey(k); len(verrs) > 0 {
			errs = append(errs, verrs...)
			continue
		}
		if _, dup := s.keys[k.Entity.Name]; dup {
			errs = append(errs, ValidationError{
				Code:    ErrDuplicateKey,
				Entity:  k.Entity.Name,
				Message: "entity already has a primary key",
			})
			continue
		}
		s.keys[k.Entity.Name] = k
	}

	for _, n := range navs {
		if verrs := validateNavigation(n); len(verrs) > 0 {
			errs = append(errs, verrs...)
			continue
		}
		if n.Source == nil {
			cp := *n
			cp.Source = expr.SourceOf(n.Target)
			n = &cp
		}
		nk := navKey{n.Declaring.Name, n.Member}
		s.navs[nk] = append(s.navs[nk], n)
		s.byEntity[n.Declaring.Name] = append(s.byEntity[n.Declaring.Name], n)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// MustNew is like New but panics on error.
// Use only in tests or with descriptors known to be valid.
func MustNew(keys []*PrimaryKey, navs []*Navigation) *Set {
	s, err := New(keys, navs)
	if err != nil {
		panic(err)
	}
	return s
}

// PrimaryKey returns the key descriptor of an entity type.
func (s *Set) PrimaryKey(t *expr.Type) (*PrimaryKey, bool) {
	if s == nil || !t.IsEntity() {
		return nil, false
	}
	k, ok := s.keys[t.Name]
	return k, ok
}

// Navigations returns the descriptors for member on entity type t. The
// result is empty when the member is not a navigation.
func (s *Set) Navigations(t *expr.Type, member string) []*Navigation {
	if s == nil || !t.IsEntity() {
		return nil
	}
	return s.navs[navKey{t.Name, member}]
}

// Navigation returns the first descriptor for member on t.
func (s *Set) Navigation(t *expr.Type, member string) (*Navigation, bool) {
	navs := s.Navigations(t, member)
	if len(navs) == 0 {
		return nil, false
	}
	return navs[0], true
}

// IsNavigation reports whether x.member is a described navigation access.
func (s *Set) IsNavigation(x expr.Expr, member string) bool {
	return len(s.Navigations(x.Type(), member)) > 0
}

// NavigationsOf returns every navigation declared on t, in registration
// order.
func (s *Set) NavigationsOf(t *expr.Type) []*Navigation {
	if s == nil || !t.IsEntity() {
		return nil
	}
	return s.byEntity[t.Name]
}

// Entities returns the names of every entity with a primary key, sorted.
func (s *Set) Entities() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.keys))
	for name := range s.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
