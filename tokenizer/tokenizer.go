package tokenizer

import (
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/shibukawa/twowaysql"
)

// TokenIterator uses Go 1.24 iterator pattern
type TokenIterator iter.Seq2[Token, error]

// Scan returns an iterator over the tokens of a template. The iterator can be
// ranged over any number of times and yields the same sequence each time.
// Scanning stops at the first error; name only labels errors.
func Scan(name, input string) TokenIterator {
	return func(yield func(Token, error) bool) {
		s := &scanner{
			name:   name,
			input:  input,
			line:   1,
			column: 1,
		}

		for {
			token, err := s.next()
			if err != nil {
				yield(Token{}, err)
				return
			}

			if !yield(token, nil) || token.Type == EOF {
				return
			}
		}
	}
}

// All collects every token up to and including EOF.
func All(name, input string) ([]Token, error) {
	tokens := make([]Token, 0, 16)

	for token, err := range Scan(name, input) {
		if err != nil {
			return nil, err
		}

		tokens = append(tokens, token)
	}

	return tokens, nil
}

type scanner struct {
	name   string
	input  string
	pos    int
	line   int
	column int
}

func (s *scanner) position() Position {
	return Position{Line: s.line, Column: s.column, Offset: s.pos}
}

// at returns the byte n positions ahead, or 0 past the end
func (s *scanner) at(n int) byte {
	if s.pos+n >= len(s.input) {
		return 0
	}

	return s.input[s.pos+n]
}

// advance consumes one rune
func (s *scanner) advance() {
	r, size := utf8.DecodeRuneInString(s.input[s.pos:])
	s.pos += size

	if r == '\n' {
		s.line++
		s.column = 1
	} else {
		s.column++
	}
}

func (s *scanner) advanceTo(offset int) {
	for s.pos < offset && s.pos < len(s.input) {
		s.advance()
	}
}

func (s *scanner) next() (Token, error) {
	start := s.position()

	if s.pos >= len(s.input) {
		return Token{Type: EOF, Position: start}, nil
	}

	for s.pos < len(s.input) {
		c := s.input[s.pos]

		switch {
		case c == '\'' || c == '"':
			s.skipQuoted(c)
		case c == '$':
			s.skipDollarQuoted()
		case c == '-' && s.at(1) == '-':
			end := strings.IndexByte(s.input[s.pos:], '\n')
			if end < 0 {
				end = len(s.input)
			} else {
				end += s.pos
			}

			if strings.TrimSpace(s.input[s.pos+2:end]) == "ELSE" {
				if s.pos > start.Offset {
					return s.text(start), nil
				}

				raw := s.input[s.pos:end]
				s.advanceTo(end)

				return Token{Type: ELSE, Value: raw, Position: start}, nil
			}

			s.advanceTo(end)
		case c == '/' && s.at(1) == '*':
			if isDirectiveStart(s.at(2)) {
				if s.pos > start.Offset {
					return s.text(start), nil
				}

				return s.readDirective()
			}

			err := s.skipBlockComment()
			if err != nil {
				return Token{}, err
			}
		default:
			s.advance()
		}
	}

	return s.text(start), nil
}

func (s *scanner) text(start Position) Token {
	return Token{
		Type:     TEXT,
		Value:    s.input[start.Offset:s.pos],
		Position: start,
	}
}

// isDirectiveStart decides from the character after "/*" whether a block
// comment is a directive. Hints (/*+), MySQL conditionals (/*!), doc
// comments (/**) and comments starting with whitespace stay plain SQL.
func isDirectiveStart(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '+', '!', '*':
		return false
	}

	return true
}

// skipQuoted skips a quoted string. Only a doubled quote escapes; a backslash
// is an ordinary character as in standard SQL.
func (s *scanner) skipQuoted(quote byte) {
	s.advance()

	for s.pos < len(s.input) {
		c := s.input[s.pos]

		switch {
		case c == quote && s.at(1) == quote:
			s.advance()
			s.advance()
		case c == quote:
			s.advance()
			return
		default:
			s.advance()
		}
	}
}

// skipDollarQuoted skips PostgreSQL $tag$...$tag$ strings. A lone $ such as
// in a $1 placeholder is consumed as a single character.
func (s *scanner) skipDollarQuoted() {
	j := s.pos + 1
	for j < len(s.input) && isIdentByte(s.input[j]) {
		if j == s.pos+1 && isDigit(s.input[j]) {
			break
		}
		j++
	}

	if j >= len(s.input) || s.input[j] != '$' {
		s.advance()
		return
	}

	tag := s.input[s.pos : j+1]

	closing := strings.Index(s.input[j+1:], tag)
	if closing < 0 {
		s.advanceTo(len(s.input))
		return
	}

	s.advanceTo(j + 1 + closing + len(tag))
}

func (s *scanner) skipBlockComment() error {
	start := s.position()

	end := strings.Index(s.input[s.pos+2:], "*/")
	if end < 0 {
		return s.malformed(start, s.input[s.pos:], "unterminated comment")
	}

	s.advanceTo(s.pos + 2 + end + 2)

	return nil
}

func (s *scanner) readDirective() (Token, error) {
	start := s.position()

	end := strings.Index(s.input[s.pos+2:], "*/")
	if end < 0 {
		return Token{}, s.malformed(start, s.input[s.pos:], "unterminated directive")
	}

	body := s.input[s.pos+2 : s.pos+2+end]
	raw := s.input[s.pos : s.pos+2+end+2]
	s.advanceTo(s.pos + len(raw))

	token := Token{Value: raw, Position: start}

	err := s.classify(body, &token)
	if err != nil {
		return Token{}, err
	}

	if token.Type == BIND || token.Type == EMBEDDED {
		token.TestValue = s.readTestValue()
	}

	return token, nil
}

func (s *scanner) classify(body string, token *Token) error {
	keyword, rest := splitKeyword(body)

	switch keyword {
	case "IF":
		expr := strings.TrimSpace(rest)
		if expr == "" {
			return s.malformed(token.Position, token.Value, "IF requires a condition")
		}

		token.Type = IF
		token.Expr = expr
	case "ELSE", "END", "BEGIN":
		if strings.TrimSpace(rest) != "" {
			return s.malformed(token.Position, token.Value, "%s takes no arguments", keyword)
		}

		switch keyword {
		case "ELSE":
			token.Type = ELSE
		case "END":
			token.Type = END
		default:
			token.Type = BEGIN
		}
	case "FOR":
		fields := strings.Fields(rest)

		switch {
		case len(fields) == 1:
			token.LoopVar = "current"
			token.Path = fields[0]
		case len(fields) == 3 && fields[1] == "IN" && isIdentifier(fields[0]):
			token.LoopVar = fields[0]
			token.Path = fields[2]
		default:
			return s.malformed(token.Position, token.Value, "FOR expects 'FOR path' or 'FOR name IN path'")
		}

		if !isPath(token.Path) {
			return s.malformed(token.Position, token.Value, "invalid collection path %q", token.Path)
		}

		token.Type = FOR
	case "NEXT":
		text, ok := unquote(strings.TrimSpace(rest))
		if !ok {
			return s.malformed(token.Position, token.Value, "NEXT expects a quoted connector such as 'OR '")
		}

		token.Type = NEXT
		token.Text = text
	default:
		return s.classifyVariable(strings.TrimSpace(body), token)
	}

	return nil
}

func (s *scanner) classifyVariable(body string, token *Token) error {
	if path, ok := strings.CutPrefix(body, "$"); ok {
		if !isPath(path) {
			return s.malformed(token.Position, token.Value, "invalid embedded variable path %q", path)
		}

		token.Type = EMBEDDED
		token.Path = path

		return nil
	}

	path, hint, hasHint := strings.Cut(body, ":")
	path = strings.TrimSpace(path)

	if !isPath(path) {
		return s.malformed(token.Position, token.Value, "invalid bind variable path %q", path)
	}

	if hasHint {
		bindType, err := twowaysql.ParseBindType(hint)
		if err != nil {
			return s.malformed(token.Position, token.Value, "unknown type hint %q", strings.TrimSpace(hint))
		}

		token.TypeHint = bindType.String()
	}

	token.Type = BIND
	token.Path = path

	return nil
}

// readTestValue consumes the sample literal written right after a bind or
// embedded marker so the template stays runnable as plain SQL.
func (s *scanner) readTestValue() string {
	if s.pos >= len(s.input) {
		return ""
	}

	start := s.pos
	c := s.input[s.pos]

	switch {
	case c == '\'' || c == '"':
		s.skipQuoted(c)
	case c == '(':
		end := matchParen(s.input, s.pos)
		if end < 0 {
			return ""
		}

		s.advanceTo(end + 1)
	default:
		for s.pos < len(s.input) && !isTestValueStop(s.input[s.pos]) {
			if s.input[s.pos] == '/' && s.at(1) == '*' {
				break
			}

			if s.input[s.pos] == '-' && s.at(1) == '-' {
				break
			}

			s.advance()
		}
	}

	return s.input[start:s.pos]
}

func isTestValueStop(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', ',', ')', ';':
		return true
	}

	return false
}

// matchParen returns the offset of the parenthesis closing the one at open,
// skipping quoted strings, or -1.
func matchParen(input string, open int) int {
	depth := 0

	for i := open; i < len(input); i++ {
		switch c := input[i]; c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		case '\'', '"':
			for i++; i < len(input); i++ {
				if input[i] == c {
					if i+1 < len(input) && input[i+1] == c {
						i++
						continue
					}

					break
				}
			}
		}
	}

	return -1
}

// splitKeyword returns an upper-case directive keyword at the start of body
// when it stands alone as a word.
func splitKeyword(body string) (keyword, rest string) {
	i := 0
	for i < len(body) && body[i] >= 'A' && body[i] <= 'Z' {
		i++
	}

	if i == 0 {
		return "", body
	}

	if i < len(body) && (isIdentByte(body[i]) || body[i] == '.' || body[i] == ':') {
		return "", body
	}

	switch body[:i] {
	case "IF", "ELSE", "END", "FOR", "NEXT", "BEGIN":
		return body[:i], body[i:]
	}

	return "", body
}

func unquote(s string) (string, bool) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", false
	}

	inner := s[1 : len(s)-1]
	if strings.Count(strings.ReplaceAll(inner, "''", ""), "'") > 0 {
		return "", false
	}

	return strings.ReplaceAll(inner, "''", "'"), true
}

// isPath accepts dot-separated identifiers; segments after the first may be
// numeric list indexes.
func isPath(path string) bool {
	segments := strings.Split(path, ".")
	if !isIdentifier(segments[0]) {
		return false
	}

	for _, segment := range segments[1:] {
		if segment == "" {
			return false
		}

		for i := 0; i < len(segment); i++ {
			if !isIdentByte(segment[i]) {
				return false
			}
		}
	}

	return true
}

func isIdentifier(s string) bool {
	if s == "" || isDigit(s[0]) {
		return false
	}

	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}

	return true
}

func isIdentByte(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (s *scanner) malformed(pos Position, directive string, format string, args ...any) error {
	if len(directive) > 60 {
		directive = directive[:60] + "..."
	}

	return &twowaysql.ParseError{
		Template:  s.name,
		Offset:    pos.Offset,
		Line:      pos.Line,
		Column:    pos.Column,
		Directive: directive,
		Err:       fmt.Errorf("%w: "+format, append([]any{twowaysql.ErrMalformedDirective}, args...)...),
	}
}
