package tokenizer

// TokenType represents the type of a token
type TokenType int

const (
	EOF      TokenType = iota
	TEXT               // literal SQL, including ordinary comments
	BIND               // /*path*/ or /*path:TYPE*/
	EMBEDDED           // /*$path*/
	IF                 // /*IF expr*/
	ELSE               // /*ELSE*/ or -- ELSE
	END                // /*END*/
	FOR                // /*FOR path*/ or /*FOR name IN path*/
	NEXT               // /*NEXT 'text'*/
	BEGIN              // /*BEGIN*/
)

var tokenTypeNames = [...]string{
	EOF:      "EOF",
	TEXT:     "TEXT",
	BIND:     "BIND",
	EMBEDDED: "EMBEDDED",
	IF:       "IF",
	ELSE:     "ELSE",
	END:      "END",
	FOR:      "FOR",
	NEXT:     "NEXT",
	BEGIN:    "BEGIN",
}

// String returns the string representation of TokenType
func (t TokenType) String() string {
	if int(t) < len(tokenTypeNames) {
		return tokenTypeNames[t]
	}

	return "UNKNOWN"
}

// IsDirective reports whether the token came from a directive marker.
func (t TokenType) IsDirective() bool {
	return t != EOF && t != TEXT
}

// Position represents a position in the source code
type Position struct {
	Line   int
	Column int
	Offset int
}

// Token represents a token
type Token struct {
	Type     TokenType
	Value    string // raw source text of the token
	Position Position

	// Directive payload
	Path      string // BIND, EMBEDDED, FOR source
	TypeHint  string // BIND
	TestValue string // sample literal following BIND or EMBEDDED, removed from output
	Expr      string // IF condition
	LoopVar   string // FOR
	Text      string // NEXT connector text, unquoted
}

// String returns the string representation of Token
func (t Token) String() string {
	return t.Type.String() + ": " + t.Value
}
