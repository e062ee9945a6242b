package explang

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"github.com/shibukawa/twowaysql"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"
)

// CELEvaluator evaluates conditions written in CEL. Every visible scope name
// is declared as a dyn variable. Programs are cached per expression and
// variable set.
type CELEvaluator struct {
	programs sync.Map // string -> cel.Program
}

func NewCELEvaluator() *CELEvaluator {
	return &CELEvaluator{}
}

func (e *CELEvaluator) Evaluate(cond *Condition, scope *Scope) (bool, error) {
	vars := scope.Flatten()

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}

	sort.Strings(names)

	program, err := e.program(cond.Source, names)
	if err != nil {
		return false, err
	}

	activation := make(map[string]any, len(vars))
	for name, value := range vars {
		activation[name] = celNative(ToNative(value))
	}

	result, _, err := program.Eval(activation)
	if err != nil {
		return false, celError(err)
	}

	return Truthy(fromCEL(result)), nil
}

func (e *CELEvaluator) program(source string, names []string) (cel.Program, error) {
	key := source + "\x00" + strings.Join(names, ",")
	if cached, ok := e.programs.Load(key); ok {
		return cached.(cel.Program), nil
	}

	options := make([]cel.EnvOption, 0, len(names))
	for _, name := range names {
		options = append(options, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, celError(issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	actual, _ := e.programs.LoadOrStore(key, program)

	return actual.(cel.Program), nil
}

func celError(err error) error {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "undeclared reference"),
		strings.Contains(msg, "no such key"),
		strings.Contains(msg, "no such attribute"):
		return fmt.Errorf("%w: %s", twowaysql.ErrUnknownVariable, msg)
	case strings.Contains(msg, "no such overload"),
		strings.Contains(msg, "no matching overload"):
		return fmt.Errorf("%w: %s", twowaysql.ErrExpressionType, msg)
	}

	return fmt.Errorf("CEL evaluation error: %w", err)
}

// fromCEL unwraps a CEL value into plain Go, mapping CEL null to nil.
func fromCEL(value ref.Val) any {
	if value == nil {
		return nil
	}

	native := value.Value()
	if _, ok := native.(structpb.NullValue); ok {
		return nil
	}

	return native
}

// celNative replaces values the CEL type adapter cannot represent.
func celNative(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = celNative(item)
		}

		return v
	case []any:
		for i, item := range v {
			v[i] = celNative(item)
		}

		return v
	case decimal.Decimal:
		return v.InexactFloat64()
	case time.Time:
		return v
	case driver.Valuer:
		inner, err := v.Value()
		if err != nil {
			return nil
		}

		return celNative(inner)
	case fmt.Stringer:
		return v.String()
	}

	return value
}
