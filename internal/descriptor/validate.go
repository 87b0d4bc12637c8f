package descriptor

import (
	"fmt"

	"github.com/roach88/navsql/internal/expr"
)

// Validation error codes (E200-E299)
const (
	// PrimaryKey errors (E201-E204)
	ErrMissingEntity  = "E201" // descriptor has no entity type
	ErrBadKeySelector = "E202" // selector is not a one-parameter lambda over the entity
	ErrNonScalarKey   = "E203" // key member is not a scalar
	ErrDuplicateKey   = "E204" // second primary key for the same entity

	// Navigation errors (E210-E219)
	ErrMissingMember   = "E210" // navigation has no member name
	ErrMissingTarget   = "E211" // navigation has no target entity
	ErrKeyArity        = "E212" // outer and inner keys differ in member count
	ErrKeyTypeMismatch = "E213" // outer and inner key members are not comparable
	ErrBadSource       = "E214" // source template is not a sequence of the target
)

// ValidationError reports an inconsistent descriptor.
type ValidationError struct {
	Code    string `json:"code"`
	Entity  string `json:"entity"`
	Member  string `json:"member,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Entity, e.Member, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Entity, e.Message)
}

func validateKey(k *PrimaryKey) []error {
	if k == nil || k.Entity == nil || !k.Entity.IsEntity() {
		return []error{ValidationError{Code: ErrMissingEntity, Message: "primary key needs an entity type"}}
	}
	name := k.Entity.Name
	if msg := checkSelector(k.Key, k.Entity); msg != "" {
		return []error{ValidationError{Code: ErrBadKeySelector, Entity: name, Message: "key " + msg}}
	}
	var errs []error
	for i, t := range keyShape(k.Key) {
		if !t.IsScalar() {
			errs = append(errs, ValidationError{
				Code:    ErrNonScalarKey,
				Entity:  name,
				Message: fmt.Sprintf("key member %d has non-scalar type %s", i, t),
			})
		}
	}
	return errs
}

func validateNavigation(n *Navigation) []error {
	if n == nil || n.Declaring == nil || !n.Declaring.IsEntity() {
		return []error{ValidationError{Code: ErrMissingEntity, Message: "navigation needs a declaring entity type"}}
	}
	entity := n.Declaring.Name
	if n.Member == "" {
		return []error{ValidationError{Code: ErrMissingMember, Entity: entity, Message: "navigation needs a member name"}}
	}
	verr := func(code, format string, args ...any) error {
		return ValidationError{Code: code, Entity: entity, Member: n.Member, Message: fmt.Sprintf(format, args...)}
	}
	if n.Target == nil || !n.Target.IsEntity() {
		return []error{verr(ErrMissingTarget, "navigation needs a target entity type")}
	}

	var errs []error
	if msg := checkSelector(n.OuterKey, n.Declaring); msg != "" {
		errs = append(errs, verr(ErrBadKeySelector, "outer key %s", msg))
	}
	if msg := checkSelector(n.InnerKey, n.Target); msg != "" {
		errs = append(errs, verr(ErrBadKeySelector, "inner key %s", msg))
	}
	if len(errs) > 0 {
		return errs
	}

	outer, inner := keyShape(n.OuterKey), keyShape(n.InnerKey)
	if len(outer) != len(inner) {
		return []error{verr(ErrKeyArity, "outer key has %d members, inner key has %d", len(outer), len(inner))}
	}
	for i := range outer {
		if !outer[i].IsScalar() || !inner[i].IsScalar() {
			errs = append(errs, verr(ErrNonScalarKey, "key member %d is not a scalar", i))
			continue
		}
		if !expr.Comparable(outer[i], inner[i]) {
			errs = append(errs, verr(ErrKeyTypeMismatch, "key member %d: %s is not comparable with %s", i, outer[i], inner[i]))
		}
	}

	if n.Source != nil {
		if st := n.Source.Type(); !st.IsSequence() || !st.Elem.Equal(n.Target) {
			errs = append(errs, verr(ErrBadSource, "source has type %s, want seq<%s>", st, n.Target))
		}
	}
	return errs
}

// checkSelector returns a description of what is wrong with a key selector,
// or "" when it is well-formed.
func checkSelector(l *expr.Lambda, over *expr.Type) string {
	switch {
	case l == nil:
		return "selector is missing"
	case len(l.Params) != 1:
		return fmt.Sprintf("selector takes %d parameters, want 1", len(l.Params))
	case !l.Params[0].T.Equal(over):
		return fmt.Sprintf("selector parameter has type %s, want %s", l.Params[0].T, over)
	}
	return ""
}
