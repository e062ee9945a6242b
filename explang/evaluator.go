package explang

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Expression languages accepted by Compile.
const (
	LanguageNative = "native"
	LanguageCEL    = "cel"
)

// Condition is an IF expression checked at parse time. Expr is set only for
// the native language.
type Condition struct {
	Source   string
	Language string
	Expr     Expr
}

func (c *Condition) String() string {
	return c.Source
}

// Evaluator decides IF conditions during rendering.
type Evaluator interface {
	Evaluate(cond *Condition, scope *Scope) (bool, error)
}

// Compile checks the syntax of source. line and column locate the expression
// inside the template for error messages.
func Compile(source, language string, line, column int) (*Condition, error) {
	switch language {
	case "", LanguageNative:
		expr, err := ParseAt(source, line, column)
		if err != nil {
			return nil, err
		}

		return &Condition{Source: source, Language: LanguageNative, Expr: expr}, nil
	case LanguageCEL:
		if err := checkCELSyntax(source); err != nil {
			return nil, err
		}

		return &Condition{Source: source, Language: LanguageCEL}, nil
	}

	return nil, fmt.Errorf("%w: unknown expression language '%s'", ErrInvalidExpression, language)
}

var syntaxEnv *cel.Env

func init() {
	env, err := cel.NewEnv()
	if err != nil {
		panic(err)
	}

	syntaxEnv = env
}

func checkCELSyntax(source string) error {
	_, issues := syntaxEnv.Parse(source)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("%w: %w", ErrInvalidExpression, issues.Err())
	}

	return nil
}

// NativeEvaluator runs the built-in expression language.
type NativeEvaluator struct{}

func (NativeEvaluator) Evaluate(cond *Condition, scope *Scope) (bool, error) {
	expr := cond.Expr
	if expr == nil {
		parsed, err := Parse(cond.Source)
		if err != nil {
			return false, err
		}

		expr = parsed
	}

	return Evaluate(expr, scope)
}
