package harness

import "github.com/roach88/navsql/internal/querysql"

// AssertionResult is the outcome of one assertion.
type AssertionResult struct {
	Type string `json:"type"`
	Pass bool   `json:"pass"`

	// Message explains a failure. Empty when Pass is true.
	Message string `json:"message,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if translation behaved as expected and every assertion held.
	Pass bool `json:"pass"`

	// Tree is the rewritten expression tree in query text form.
	Tree string `json:"tree,omitempty"`

	SQL       string               `json:"sql,omitempty"`
	Params    []any                `json:"params,omitempty"`
	Secondary []querysql.Secondary `json:"secondary,omitempty"`

	// Passes is the number of rewrite passes until convergence.
	Passes int `json:"passes,omitempty"`

	// Error is the translation error, if any.
	Error string `json:"error,omitempty"`

	// Assertions holds one outcome per scenario assertion, in order.
	Assertions []AssertionResult `json:"assertions"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Assertions: []AssertionResult{},
		Errors:     []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record stores the outcome of one assertion. err is nil when it held.
func (r *Result) record(typ string, err error) {
	out := AssertionResult{Type: typ, Pass: err == nil}
	if err != nil {
		out.Message = err.Error()
		r.AddError(err.Error())
	}
	r.Assertions = append(r.Assertions, out)
}
