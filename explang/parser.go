package explang

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrInvalidExpression indicates that an expression string could not be parsed.
var ErrInvalidExpression = errors.New("explang: invalid expression")

// maxDepth bounds parenthesis and operator nesting.
const maxDepth = 64

// builtins maps function names to their arity.
var builtins = map[string]int{
	"isNull":     1,
	"isNotNull":  1,
	"isEmpty":    1,
	"isNotEmpty": 1,
	"size":       1,
}

// Parse parses a condition expression.
func Parse(expr string) (Expr, error) {
	return ParseAt(expr, 1, 1)
}

// ParseAt parses a condition expression. startLine/startColumn allow callers
// to provide the 1-based location of the first rune of expr within a larger
// template, so Position metadata remains accurate.
func ParseAt(expr string, startLine, startColumn int) (Expr, error) {
	p := newParser(expr, startLine, startColumn)

	p.skipWhitespace()

	if p.eof() {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}

	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	p.skipWhitespace()

	if !p.eof() {
		return nil, fmt.Errorf("%w: unexpected character '%c' at position %d", ErrInvalidExpression, p.peek(), p.pos+1)
	}

	return node, nil
}

// ParsePath parses a dotted variable path such as pmb.items.0.name.
func ParsePath(path string) ([]Step, error) {
	p := newParser(path, 1, 1)

	steps, err := p.parsePathSteps()
	if err != nil {
		return nil, err
	}

	if !p.eof() {
		return nil, fmt.Errorf("%w: unexpected character '%c' at position %d", ErrInvalidExpression, p.peek(), p.pos+1)
	}

	return steps, nil
}

type parser struct {
	src        []rune
	pos        int
	depth      int
	baseLine   int
	baseColumn int
}

func newParser(expr string, startLine, startColumn int) *parser {
	if startLine < 1 {
		startLine = 1
	}

	if startColumn < 1 {
		startColumn = 1
	}

	return &parser{src: []rune(expr), baseLine: startLine, baseColumn: startColumn}
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return fmt.Errorf("%w: expression nested too deeply at position %d", ErrInvalidExpression, p.pos+1)
	}

	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()

		start := p.pos
		if !p.matchString("||") {
			return left, nil
		}

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = &Binary{Pos: p.makePosition(start, p.pos), Op: "||", Left: left, Right: right}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()

		start := p.pos
		if !p.matchString("&&") {
			return left, nil
		}

		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		left = &Binary{Pos: p.makePosition(start, p.pos), Op: "&&", Left: left, Right: right}
	}
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	p.skipWhitespace()

	start := p.pos

	op := p.readComparator()
	if op == "" {
		return left, nil
	}

	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	return &Binary{Pos: p.makePosition(start, start+len(op)), Op: op, Left: left, Right: right}, nil
}

func (p *parser) readComparator() string {
	for _, op := range []string{"==", "!=", "<>", "<=", ">=", "<", ">"} {
		if p.matchString(op) {
			if op == "<>" {
				return "!="
			}

			return op
		}
	}

	return ""
}

func (p *parser) parseUnary() (Expr, error) {
	p.skipWhitespace()

	if p.peek() == '!' && p.peekAt(1) != '=' {
		start := p.pos
		p.pos++

		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()

		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return &Unary{Pos: p.makePosition(start, start+1), Op: "!", Operand: operand}, nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	p.skipWhitespace()

	start := p.pos

	switch r := p.peek(); {
	case r == 0:
		return nil, fmt.Errorf("%w: unexpected end of expression at position %d", ErrInvalidExpression, p.pos+1)
	case r == '(':
		p.pos++

		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()

		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		p.skipWhitespace()

		if !p.match(')') {
			return nil, fmt.Errorf("%w: expected ')' at position %d", ErrInvalidExpression, p.pos+1)
		}

		return inner, nil
	case r == '\'' || r == '"':
		return p.parseString()
	case unicode.IsDigit(r) || (r == '-' && unicode.IsDigit(p.peekAt(1))):
		return p.parseNumber()
	case isIdentStart(r):
		ident, _, end, _ := p.readIdentifier()

		switch ident {
		case "true":
			return &Literal{Pos: p.makePosition(start, end), Raw: ident, Value: true}, nil
		case "false":
			return &Literal{Pos: p.makePosition(start, end), Raw: ident, Value: false}, nil
		case "null":
			return &Literal{Pos: p.makePosition(start, end), Raw: ident, Value: nil}, nil
		}

		p.skipWhitespace()

		if p.peek() == '(' {
			return p.parseCall(ident, start)
		}

		p.pos = start

		steps, err := p.parsePathSteps()
		if err != nil {
			return nil, err
		}

		return &Path{Pos: p.makePosition(start, p.pos), Steps: steps}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected character '%c' at position %d", ErrInvalidExpression, r, p.pos+1)
	}
}

func (p *parser) parseCall(name string, start int) (Expr, error) {
	arity, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown function '%s' at position %d", ErrInvalidExpression, name, start+1)
	}

	p.pos++ // (

	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	var args []Expr

	p.skipWhitespace()

	if !p.match(')') {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}

			args = append(args, arg)

			p.skipWhitespace()

			if p.match(')') {
				break
			}

			if !p.match(',') {
				return nil, fmt.Errorf("%w: expected ',' or ')' at position %d", ErrInvalidExpression, p.pos+1)
			}
		}
	}

	if len(args) != arity {
		return nil, fmt.Errorf("%w: %s expects %d argument(s), got %d", ErrInvalidExpression, name, arity, len(args))
	}

	return &Call{Pos: p.makePosition(start, p.pos), Func: name, Args: args}, nil
}

func (p *parser) parseString() (Expr, error) {
	start := p.pos
	quote := p.peek()
	p.pos++

	var b strings.Builder

	for {
		r := p.peek()

		switch {
		case p.eof():
			return nil, fmt.Errorf("%w: unterminated string starting at position %d", ErrInvalidExpression, start+1)
		case r == '\\' && p.peekAt(1) != 0:
			b.WriteRune(p.peekAt(1))
			p.pos += 2
		case r == quote && p.peekAt(1) == quote:
			b.WriteRune(quote)
			p.pos += 2
		case r == quote:
			p.pos++
			return &Literal{Pos: p.makePosition(start, p.pos), Raw: string(p.src[start:p.pos]), Value: b.String()}, nil
		default:
			b.WriteRune(r)
			p.pos++
		}
	}
}

func (p *parser) parseNumber() (Expr, error) {
	start := p.pos

	if p.peek() == '-' {
		p.pos++
	}

	for unicode.IsDigit(p.peek()) {
		p.pos++
	}

	isDecimal := false
	if p.peek() == '.' && unicode.IsDigit(p.peekAt(1)) {
		isDecimal = true

		p.pos++
		for unicode.IsDigit(p.peek()) {
			p.pos++
		}
	}

	raw := string(p.src[start:p.pos])
	pos := p.makePosition(start, p.pos)

	if !isDecimal {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			return &Literal{Pos: pos, Raw: raw, Value: n}, nil
		}
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid number '%s' at position %d", ErrInvalidExpression, raw, start+1)
	}

	return &Literal{Pos: pos, Raw: raw, Value: d}, nil
}

// parsePathSteps reads identifier ('.' identifier | '.' index | '[' index ']')*.
func (p *parser) parsePathSteps() ([]Step, error) {
	ident, start, end, ok := p.readIdentifier()
	if !ok {
		if p.eof() {
			return nil, fmt.Errorf("%w: expected identifier at position %d", ErrInvalidExpression, p.pos+1)
		}

		return nil, fmt.Errorf("%w: unexpected character '%c' at position %d", ErrInvalidExpression, p.peek(), p.pos+1)
	}

	steps := []Step{{Kind: StepIdentifier, Identifier: ident, Pos: p.makePosition(start, end)}}

	for {
		switch p.peek() {
		case '.':
			dotStart := p.pos
			p.pos++

			if idx, _, end, ok := p.readNumber(); ok {
				steps = append(steps, Step{Kind: StepIndex, Index: idx, Pos: p.makePosition(dotStart, end)})
				continue
			}

			prop, _, end, ok := p.readIdentifier()
			if !ok {
				return nil, fmt.Errorf("%w: expected identifier after '.' at position %d", ErrInvalidExpression, p.pos+1)
			}

			steps = append(steps, Step{Kind: StepMember, Property: prop, Pos: p.makePosition(dotStart, end)})
		case '[':
			bracketStart := p.pos
			p.pos++
			p.skipWhitespace()

			idx, _, _, ok := p.readNumber()
			if !ok {
				return nil, fmt.Errorf("%w: expected integer index after '[' at position %d", ErrInvalidExpression, p.pos+1)
			}

			p.skipWhitespace()

			if !p.match(']') {
				return nil, fmt.Errorf("%w: expected ']' to close index at position %d", ErrInvalidExpression, p.pos+1)
			}

			steps = append(steps, Step{Kind: StepIndex, Index: idx, Pos: p.makePosition(bracketStart, p.pos)})
		default:
			return steps, nil
		}
	}
}

func (p *parser) skipWhitespace() {
	for unicode.IsSpace(p.peek()) {
		p.pos++
	}
}

func (p *parser) match(r rune) bool {
	if p.peek() != r {
		return false
	}

	p.pos++

	return true
}

func (p *parser) matchString(s string) bool {
	rs := []rune(s)
	for i, r := range rs {
		if p.peekAt(i) != r {
			return false
		}
	}

	p.pos += len(rs)

	return true
}

func (p *parser) readIdentifier() (string, int, int, bool) {
	if !isIdentStart(p.peek()) {
		return "", 0, 0, false
	}

	start := p.pos

	p.pos++
	for isIdentPart(p.peek()) {
		p.pos++
	}

	return string(p.src[start:p.pos]), start, p.pos, true
}

func (p *parser) readNumber() (int, int, int, bool) {
	if !unicode.IsDigit(p.peek()) {
		return 0, 0, 0, false
	}

	start := p.pos
	for unicode.IsDigit(p.peek()) {
		p.pos++
	}

	var val int
	for _, r := range p.src[start:p.pos] {
		val = val*10 + int(r-'0')
	}

	return val, start, p.pos, true
}

func (p *parser) peek() rune {
	return p.peekAt(0)
}

func (p *parser) peekAt(n int) rune {
	if p.pos+n >= len(p.src) {
		return 0
	}

	return p.src[p.pos+n]
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) makePosition(start, end int) Position {
	pos := p.positionAt(start)
	pos.Length = end - start

	return pos
}

func (p *parser) positionAt(offset int) Position {
	if offset < 0 {
		offset = 0
	}

	if offset > len(p.src) {
		offset = len(p.src)
	}

	line := p.baseLine

	col := p.baseColumn
	for i := range offset {
		r := p.src[i]
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}

	return Position{Offset: offset, Line: line, Column: col}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
