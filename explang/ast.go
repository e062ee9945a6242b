package explang

import (
	"strconv"
	"strings"
)

// Position represents the start offset of a node within the original expression.
// Offset is the rune index (0-based), Line/Column are 1-based for error reporting.
type Position struct {
	Offset int
	Line   int
	Column int
	Length int
}

// StepKind indicates what kind of path step is described.
type StepKind int

const (
	StepIdentifier StepKind = iota
	StepMember
	StepIndex
)

// Step represents a flattened access step such as identifier, member access, or index.
type Step struct {
	Kind       StepKind
	Identifier string
	Property   string
	Index      int
	Pos        Position
}

// Expr is a node of a parsed condition.
type Expr interface {
	Position() Position
	String() string
}

// Literal holds string, int64, decimal.Decimal, bool or nil.
type Literal struct {
	Pos   Position
	Raw   string
	Value any
}

// IsNull reports whether the literal is the null keyword.
func (l *Literal) IsNull() bool { return l.Value == nil }

// Path is a variable reference such as pmb.member.name or items[0].
type Path struct {
	Pos   Position
	Steps []Step
}

// Unary is the ! operator.
type Unary struct {
	Pos     Position
	Op      string
	Operand Expr
}

// Binary covers comparison and logical operators.
type Binary struct {
	Pos   Position
	Op    string
	Left  Expr
	Right Expr
}

// Call is one of the built-in predicates (isNull, isEmpty, size, ...).
type Call struct {
	Pos  Position
	Func string
	Args []Expr
}

func (l *Literal) Position() Position { return l.Pos }
func (p *Path) Position() Position    { return p.Pos }
func (u *Unary) Position() Position   { return u.Pos }
func (b *Binary) Position() Position  { return b.Pos }
func (c *Call) Position() Position    { return c.Pos }

func (l *Literal) String() string { return l.Raw }

func (p *Path) String() string {
	return StepsString(p.Steps)
}

func (u *Unary) String() string { return u.Op + u.Operand.String() }

func (b *Binary) String() string {
	return "(" + b.Left.String() + " " + b.Op + " " + b.Right.String() + ")"
}

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = arg.String()
	}

	return c.Func + "(" + strings.Join(args, ", ") + ")"
}

// StepsString renders steps back into dotted form, with indexes as .N.
func StepsString(steps []Step) string {
	var b strings.Builder

	for i, step := range steps {
		switch step.Kind {
		case StepIdentifier:
			b.WriteString(step.Identifier)
		case StepMember:
			b.WriteByte('.')
			b.WriteString(step.Property)
		case StepIndex:
			if i > 0 {
				b.WriteByte('.')
			}

			b.WriteString(strconv.Itoa(step.Index))
		}
	}

	return b.String()
}
