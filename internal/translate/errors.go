package translate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/navsql/internal/rewrite"
)

// ErrUnresolvedNavigation is returned in strict mode when the rewritten
// tree still accesses entity members that no descriptor describes.
var ErrUnresolvedNavigation = errors.New("unresolved navigation")

// UnresolvedError lists the unresolved accesses found in strict mode.
type UnresolvedError struct {
	Fingerprint string
	Unresolved  []rewrite.Unresolved
}

func (e *UnresolvedError) Error() string {
	parts := make([]string, len(e.Unresolved))
	for i, u := range e.Unresolved {
		parts[i] = u.String()
	}
	return fmt.Sprintf("%s: %s", ErrUnresolvedNavigation, strings.Join(parts, "; "))
}

func (e *UnresolvedError) Unwrap() error {
	return ErrUnresolvedNavigation
}
