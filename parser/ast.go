package parser

import (
	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/explang"
	"github.com/shibukawa/twowaysql/tokenizer"
)

// Template is a parsed template. It is never modified after Parse returns and
// can be rendered concurrently.
type Template struct {
	Name   string
	Source string
	Root   *Sequence
}

// Node is an element of the command tree.
type Node interface {
	Pos() tokenizer.Position
	node()
}

// Sequence is an ordered list of nodes.
type Sequence struct {
	Position tokenizer.Position
	Nodes    []Node
}

// Text is literal SQL.
type Text struct {
	Position tokenizer.Position
	Value    string
}

// Bind is a /*path*/ placeholder.
type Bind struct {
	Position  tokenizer.Position
	Raw       string
	Path      string
	Steps     []explang.Step
	Hint      twowaysql.BindType
	HasHint   bool
	TestValue string
	// Expand is set when the test value is a parenthesized list, so a
	// collection value becomes one placeholder per element.
	Expand bool
}

// Embedded is a /*$path*/ marker substituted as raw text.
type Embedded struct {
	Position  tokenizer.Position
	Raw       string
	Path      string
	Steps     []explang.Step
	TestValue string
}

// If is an IF block with an optional ELSE branch.
type If struct {
	Position tokenizer.Position
	Raw      string
	Cond     *explang.Condition
	Then     *Sequence
	Else     *Sequence // nil without ELSE
}

// For repeats Body once per element of the collection at Path.
type For struct {
	Position tokenizer.Position
	Raw      string
	Var      string
	Path     string
	Steps    []explang.Step
	Body     *Sequence
}

// Begin is an optional clause dropped when its body contributes nothing.
type Begin struct {
	Position tokenizer.Position
	Body     *Sequence
}

// Next emits Text before every loop iteration but the first.
type Next struct {
	Position tokenizer.Position
	Text     string
}

func (n *Sequence) Pos() tokenizer.Position { return n.Position }
func (n *Text) Pos() tokenizer.Position     { return n.Position }
func (n *Bind) Pos() tokenizer.Position     { return n.Position }
func (n *Embedded) Pos() tokenizer.Position { return n.Position }
func (n *If) Pos() tokenizer.Position       { return n.Position }
func (n *For) Pos() tokenizer.Position      { return n.Position }
func (n *Begin) Pos() tokenizer.Position    { return n.Position }
func (n *Next) Pos() tokenizer.Position     { return n.Position }

func (*Sequence) node() {}
func (*Text) node()     {}
func (*Bind) node()     {}
func (*Embedded) node() {}
func (*If) node()       {}
func (*For) node()      {}
func (*Begin) node()    {}
func (*Next) node()     {}

// Walk visits n and its descendants depth-first. Children are skipped when
// fn returns false.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}

	switch v := n.(type) {
	case *Sequence:
		for _, child := range v.Nodes {
			Walk(child, fn)
		}
	case *If:
		Walk(v.Then, fn)

		if v.Else != nil {
			Walk(v.Else, fn)
		}
	case *For:
		Walk(v.Body, fn)
	case *Begin:
		Walk(v.Body, fn)
	}
}
