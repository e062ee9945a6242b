package twowaysql

import (
	"errors"
	"fmt"
	"strings"
)

// Parse-time errors. They reject a template before anything is executed.
var (
	// ErrMalformedDirective is returned when a directive comment is unterminated or its content is not understood.
	ErrMalformedDirective = errors.New("malformed directive")
	// ErrUnmatchedBlock is returned when an IF, FOR or BEGIN block has no END.
	ErrUnmatchedBlock = errors.New("unmatched block")
	// ErrUnexpectedEnd is returned when an END appears without an opening block.
	ErrUnexpectedEnd = errors.New("unexpected END")
)

// Render-time errors. They abort one render call; the parsed template stays usable.
var (
	// ErrUnknownVariable is returned when a name or property cannot be found.
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrExpressionType is returned when operands cannot be compared or coerced.
	ErrExpressionType = errors.New("expression type mismatch")
	// ErrMissingArgument is returned when a bind references a top-level argument that was not supplied.
	ErrMissingArgument = errors.New("missing argument")
	// ErrUnsafeEmbeddedValue is returned when an embedded value looks like SQL injection.
	ErrUnsafeEmbeddedValue = errors.New("unsafe embedded value")
)

// Bind conversion errors
var (
	ErrUnknownBindType     = errors.New("unknown bind type")
	ErrUnsupportedBindType = errors.New("value cannot be bound as requested type")
)

// ParseError describes where a template failed to parse.
type ParseError struct {
	Template  string
	Offset    int
	Line      int
	Column    int
	Directive string
	Err       error
}

func (e *ParseError) Error() string {
	var b strings.Builder

	if e.Template != "" {
		b.WriteString(e.Template)
		b.WriteString(": ")
	}

	fmt.Fprintf(&b, "%v at line %d, column %d (offset %d)", e.Err, e.Line, e.Column, e.Offset)

	if e.Directive != "" {
		fmt.Fprintf(&b, ": %s", e.Directive)
	}

	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RenderError carries the template and the variable path or expression that failed.
type RenderError struct {
	Template string
	Path     string
	Expr     string
	Err      error
}

func (e *RenderError) Error() string {
	var b strings.Builder

	if e.Template != "" {
		b.WriteString(e.Template)
		b.WriteString(": ")
	}

	msg := e.Err.Error()
	b.WriteString(msg)

	if e.Path != "" && !strings.Contains(msg, e.Path) {
		fmt.Fprintf(&b, " (path %s)", e.Path)
	}

	if e.Expr != "" {
		fmt.Fprintf(&b, " in expression %q", e.Expr)
	}

	return b.String()
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// PathError is produced by path resolution and names the full offending path.
// Render lifts it into a RenderError.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Path)
}

func (e *PathError) Unwrap() error {
	return e.Err
}
