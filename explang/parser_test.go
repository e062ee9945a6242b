package explang

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Step
		wantErr bool
	}{
		{
			name:  "single identifier",
			input: "user",
			want: []Step{
				{Kind: StepIdentifier, Identifier: "user", Pos: defaultPos(0, 4)},
			},
		},
		{
			name:  "member and bracket index",
			input: "users[0].profile",
			want: []Step{
				{Kind: StepIdentifier, Identifier: "users", Pos: defaultPos(0, 5)},
				{Kind: StepIndex, Index: 0, Pos: defaultPos(5, 3)},
				{Kind: StepMember, Property: "profile", Pos: defaultPos(8, 8)},
			},
		},
		{
			name:  "dotted index",
			input: "pmb.items.10",
			want: []Step{
				{Kind: StepIdentifier, Identifier: "pmb", Pos: defaultPos(0, 3)},
				{Kind: StepMember, Property: "items", Pos: defaultPos(3, 6)},
				{Kind: StepIndex, Index: 10, Pos: defaultPos(9, 3)},
			},
		},
		{
			name:    "invalid start",
			input:   "1foo",
			wantErr: true,
		},
		{
			name:    "missing close bracket",
			input:   "users[0",
			wantErr: true,
		},
		{
			name:    "trailing dot",
			input:   "user.",
			wantErr: true,
		},
		{
			name:    "trailing garbage",
			input:   "user name",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePath(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidExpression)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Structure(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a == 1", "(a == 1)"},
		{"a && b || c", "((a && b) || c)"},
		{"a || b && c", "(a || (b && c))"},
		{"(a || b) && c", "((a || b) && c)"},
		{"!a", "!a"},
		{"!(a == b)", "!(a == b)"},
		{"pmb.x <> 'y'", "(pmb.x != 'y')"},
		{"isNull(pmb.a) && size(pmb.list) > 0", "(isNull(pmb.a) && (size(pmb.list) > 0))"},
		{"a.b.0 >= -1.5", "(a.b.0 >= -1.5)"},
		{`"x" == a`, `("x" == a)`},
		{"pmb.name != null", "(pmb.name != null)"},
		{"  a  ", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			expr, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.String())
		})
	}
}

func TestParse_Literals(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{"1", int64(1)},
		{"-42", int64(-42)},
		{"1.50", decimal.RequireFromString("1.50")},
		{"99999999999999999999", decimal.RequireFromString("99999999999999999999")},
		{"'it''s'", "it's"},
		{`"say \"hi\""`, `say "hi"`},
		{"true", true},
		{"false", false},
		{"null", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			expr, err := Parse(tt.input)
			require.NoError(t, err)

			lit, ok := expr.(*Literal)
			require.True(t, ok)

			if d, isDecimal := tt.want.(decimal.Decimal); isDecimal {
				assert.True(t, d.Equal(lit.Value.(decimal.Decimal)))
				return
			}

			assert.Equal(t, tt.want, lit.Value)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
	}{
		{"empty", "   ", "empty expression"},
		{"missing operand", "a ==", "unexpected end of expression"},
		{"unknown function", "foo(a)", "unknown function 'foo'"},
		{"wrong arity", "isNull(a, b)", "isNull expects 1 argument(s), got 2"},
		{"unterminated string", "a == 'x", "unterminated string"},
		{"unclosed paren", "(a", "expected ')'"},
		{"chained comparison", "a == b == c", "unexpected character '='"},
		{"juxtaposed names", "a b", "unexpected character 'b'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidExpression)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParse_NestingLimit(t *testing.T) {
	input := strings.Repeat("(", maxDepth+1) + "a" + strings.Repeat(")", maxDepth+1)

	_, err := Parse(input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested too deeply")

	input = strings.Repeat("(", 10) + "a" + strings.Repeat(")", 10)
	_, err = Parse(input)
	assert.NoError(t, err)
}

func TestParseAt_Position(t *testing.T) {
	expr, err := ParseAt("a == 1", 3, 5)
	require.NoError(t, err)

	binary, ok := expr.(*Binary)
	require.True(t, ok)
	assert.Equal(t, Position{Offset: 2, Line: 3, Column: 7, Length: 2}, binary.Pos)

	path, ok := binary.Left.(*Path)
	require.True(t, ok)
	assert.Equal(t, Position{Offset: 0, Line: 3, Column: 5, Length: 1}, path.Pos)
}

func defaultPos(offset, length int) Position {
	return Position{Offset: offset, Line: 1, Column: offset + 1, Length: length}
}
