package querysql

import (
	"errors"
	"fmt"

	"github.com/roach88/navsql/internal/expr"
)

// TranslationError reports a node the SQL renderer has no translation for.
// It is the one place a query is rejected; the rewrite passes never fail.
type TranslationError struct {
	Node   expr.Expr
	Reason string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("cannot translate %s: %s", expr.Format(e.Node), e.Reason)
}

// IsTranslationError reports whether err wraps a TranslationError.
func IsTranslationError(err error) bool {
	var te *TranslationError
	return errors.As(err, &te)
}

func untranslatable(n expr.Expr, format string, args ...any) error {
	return &TranslationError{Node: n, Reason: fmt.Sprintf(format, args...)}
}
