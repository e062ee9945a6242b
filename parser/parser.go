package parser

import (
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/explang"
	"github.com/shibukawa/twowaysql/tokenizer"
)

// maxNesting bounds how deeply IF, FOR and BEGIN blocks may nest.
const maxNesting = 128

type options struct {
	language string
}

// Option configures Parse.
type Option func(*options)

// WithExpressionLanguage selects the language IF conditions are checked
// against: explang.LanguageNative (default) or explang.LanguageCEL.
func WithExpressionLanguage(language string) Option {
	return func(o *options) {
		o.language = language
	}
}

// frame is an open IF, FOR or BEGIN block. The root frame has no opener.
type frame struct {
	opener  tokenizer.Token
	node    Node
	seq     *Sequence
	hasElse bool
}

// Parse builds the command tree of a template. name labels errors only.
func Parse(name, sql string, opts ...Option) (*Template, error) {
	o := options{language: explang.LanguageNative}
	for _, opt := range opts {
		opt(&o)
	}

	p := &parser{name: name, options: o}

	root := &Sequence{Position: tokenizer.Position{Line: 1, Column: 1}}
	p.stack = []*frame{{seq: root}}

	next, stop := iter.Pull2(iter.Seq2[tokenizer.Token, error](tokenizer.Scan(name, sql)))
	defer stop()

	for {
		token, err, ok := next()
		if !ok {
			break
		}

		if err != nil {
			return nil, err
		}

		done, err := p.consume(token)
		if err != nil {
			return nil, err
		}

		if done {
			break
		}
	}

	return &Template{Name: name, Source: sql, Root: root}, nil
}

type parser struct {
	name    string
	options options
	stack   []*frame
}

func (p *parser) top() *frame {
	return p.stack[len(p.stack)-1]
}

func (p *parser) appendNode(n Node) {
	top := p.top()
	top.seq.Nodes = append(top.seq.Nodes, n)
}

func (p *parser) push(opener tokenizer.Token, n Node, body *Sequence) error {
	if len(p.stack) > maxNesting {
		return p.errorAt(opener, fmt.Errorf("%w: blocks nested deeper than %d", twowaysql.ErrMalformedDirective, maxNesting))
	}

	p.appendNode(n)
	p.stack = append(p.stack, &frame{opener: opener, node: n, seq: body})

	return nil
}

func (p *parser) consume(token tokenizer.Token) (bool, error) {
	switch token.Type {
	case tokenizer.TEXT:
		p.appendNode(&Text{Position: token.Position, Value: token.Value})
	case tokenizer.BIND:
		n, err := p.bind(token)
		if err != nil {
			return false, err
		}

		p.appendNode(n)
	case tokenizer.EMBEDDED:
		steps, err := p.steps(token, token.Path)
		if err != nil {
			return false, err
		}

		p.appendNode(&Embedded{
			Position:  token.Position,
			Raw:       token.Value,
			Path:      token.Path,
			Steps:     steps,
			TestValue: token.TestValue,
		})
	case tokenizer.IF:
		cond, err := p.condition(token)
		if err != nil {
			return false, err
		}

		n := &If{Position: token.Position, Raw: token.Value, Cond: cond, Then: &Sequence{Position: token.Position}}

		return false, p.push(token, n, n.Then)
	case tokenizer.ELSE:
		top := p.top()

		ifNode, ok := top.node.(*If)
		if !ok {
			return false, p.errorAt(token, fmt.Errorf("%w: ELSE without IF", twowaysql.ErrMalformedDirective))
		}

		if top.hasElse {
			return false, p.errorAt(token, fmt.Errorf("%w: duplicate ELSE in IF at line %d", twowaysql.ErrMalformedDirective, top.opener.Position.Line))
		}

		ifNode.Else = &Sequence{Position: token.Position}
		top.seq = ifNode.Else
		top.hasElse = true
	case tokenizer.FOR:
		steps, err := p.steps(token, token.Path)
		if err != nil {
			return false, err
		}

		n := &For{
			Position: token.Position,
			Raw:      token.Value,
			Var:      token.LoopVar,
			Path:     token.Path,
			Steps:    steps,
			Body:     &Sequence{Position: token.Position},
		}

		return false, p.push(token, n, n.Body)
	case tokenizer.NEXT:
		if !p.inLoop() {
			return false, p.errorAt(token, fmt.Errorf("%w: NEXT outside FOR", twowaysql.ErrMalformedDirective))
		}

		p.appendNode(&Next{Position: token.Position, Text: token.Text})
	case tokenizer.BEGIN:
		n := &Begin{Position: token.Position, Body: &Sequence{Position: token.Position}}

		return false, p.push(token, n, n.Body)
	case tokenizer.END:
		if len(p.stack) == 1 {
			return false, p.errorAt(token, twowaysql.ErrUnexpectedEnd)
		}

		p.stack = p.stack[:len(p.stack)-1]
	case tokenizer.EOF:
		if len(p.stack) > 1 {
			opener := p.top().opener
			return false, p.errorAt(opener, fmt.Errorf("%w: %s without END", twowaysql.ErrUnmatchedBlock, opener.Type))
		}

		return true, nil
	}

	return false, nil
}

func (p *parser) inLoop() bool {
	for _, f := range p.stack {
		if _, ok := f.node.(*For); ok {
			return true
		}
	}

	return false
}

func (p *parser) bind(token tokenizer.Token) (*Bind, error) {
	steps, err := p.steps(token, token.Path)
	if err != nil {
		return nil, err
	}

	n := &Bind{
		Position:  token.Position,
		Raw:       token.Value,
		Path:      token.Path,
		Steps:     steps,
		TestValue: token.TestValue,
		Expand:    strings.HasPrefix(token.TestValue, "("),
	}

	if token.TypeHint != "" {
		hint, err := twowaysql.ParseBindType(token.TypeHint)
		if err != nil {
			return nil, p.errorAt(token, fmt.Errorf("%w: %w", twowaysql.ErrMalformedDirective, err))
		}

		n.Hint = hint
		n.HasHint = true
	}

	return n, nil
}

func (p *parser) steps(token tokenizer.Token, path string) ([]explang.Step, error) {
	steps, err := explang.ParsePath(path)
	if err != nil {
		return nil, p.errorAt(token, fmt.Errorf("%w: %w", twowaysql.ErrMalformedDirective, err))
	}

	return steps, nil
}

func (p *parser) condition(token tokenizer.Token) (*explang.Condition, error) {
	line, column := token.Position.Line, token.Position.Column
	if i := strings.Index(token.Value, token.Expr); i >= 0 {
		column += i
	}

	cond, err := explang.Compile(token.Expr, p.options.language, line, column)
	if err != nil {
		return nil, p.errorAt(token, fmt.Errorf("%w: %w", twowaysql.ErrMalformedDirective, err))
	}

	return cond, nil
}

func (p *parser) errorAt(token tokenizer.Token, err error) error {
	directive := token.Value
	if len(directive) > 60 {
		directive = directive[:60] + "..."
	}

	return &twowaysql.ParseError{
		Template:  p.name,
		Offset:    token.Position.Offset,
		Line:      token.Position.Line,
		Column:    token.Position.Column,
		Directive: directive,
		Err:       err,
	}
}

// Variables lists the argument paths a template reads, sorted. Paths rooted
// at a FOR loop variable are omitted.
func Variables(tmpl *Template) []string {
	seen := map[string]struct{}{}
	collect(tmpl.Root, map[string]bool{}, seen)

	result := make([]string, 0, len(seen))
	for path := range seen {
		result = append(result, path)
	}

	sort.Strings(result)

	return result
}

func collect(n Node, loopVars map[string]bool, seen map[string]struct{}) {
	add := func(steps []explang.Step) {
		if len(steps) > 0 && !loopVars[steps[0].Identifier] {
			seen[explang.StepsString(steps)] = struct{}{}
		}
	}

	switch v := n.(type) {
	case *Sequence:
		for _, child := range v.Nodes {
			collect(child, loopVars, seen)
		}
	case *Bind:
		add(v.Steps)
	case *Embedded:
		add(v.Steps)
	case *If:
		if v.Cond.Expr != nil {
			exprPaths(v.Cond.Expr, add)
		}

		collect(v.Then, loopVars, seen)

		if v.Else != nil {
			collect(v.Else, loopVars, seen)
		}
	case *For:
		add(v.Steps)

		inner := make(map[string]bool, len(loopVars)+1)
		for name := range loopVars {
			inner[name] = true
		}

		inner[v.Var] = true
		collect(v.Body, inner, seen)
	case *Begin:
		collect(v.Body, loopVars, seen)
	}
}

func exprPaths(expr explang.Expr, add func([]explang.Step)) {
	switch e := expr.(type) {
	case *explang.Path:
		add(e.Steps)
	case *explang.Unary:
		exprPaths(e.Operand, add)
	case *explang.Binary:
		exprPaths(e.Left, add)
		exprPaths(e.Right, add)
	case *explang.Call:
		for _, arg := range e.Args {
			exprPaths(arg, add)
		}
	}
}
