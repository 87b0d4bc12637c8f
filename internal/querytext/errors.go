package querytext

import "fmt"

// SyntaxError reports malformed query text. Pos is a byte offset.
type SyntaxError struct {
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Message)
}

// TypeError reports well-formed text that does not type-check against the
// model.
type TypeError struct {
	Pos     int
	Message string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error at offset %d: %s", e.Pos, e.Message)
}
