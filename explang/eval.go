package explang

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shibukawa/twowaysql"
)

// Evaluate evaluates expr against scope and coerces the result with Truthy.
func Evaluate(expr Expr, scope *Scope) (bool, error) {
	value, err := Eval(expr, scope)
	if err != nil {
		return false, err
	}

	return Truthy(value), nil
}

// Eval evaluates expr and returns its raw value.
func Eval(expr Expr, scope *Scope) (any, error) {
	switch n := expr.(type) {
	case *Literal:
		return n.Value, nil
	case *Path:
		value, err := Resolve(scope, n.Steps)
		if err != nil || isNil(value) {
			return nil, err
		}

		return Indirect(value), nil
	case *Unary:
		operand, err := Eval(n.Operand, scope)
		if err != nil {
			return nil, err
		}

		return !Truthy(operand), nil
	case *Binary:
		return evalBinary(n, scope)
	case *Call:
		return evalCall(n, scope)
	}

	return nil, fmt.Errorf("%w: unsupported node %T", ErrInvalidExpression, expr)
}

func evalBinary(n *Binary, scope *Scope) (any, error) {
	left, err := Eval(n.Left, scope)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "&&":
		if !Truthy(left) {
			return false, nil
		}

		right, err := Eval(n.Right, scope)
		if err != nil {
			return nil, err
		}

		return Truthy(right), nil
	case "||":
		if Truthy(left) {
			return true, nil
		}

		right, err := Eval(n.Right, scope)
		if err != nil {
			return nil, err
		}

		return Truthy(right), nil
	}

	right, err := Eval(n.Right, scope)
	if err != nil {
		return nil, err
	}

	if left == nil || right == nil {
		return compareNull(n, left, right), nil
	}

	switch n.Op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	}

	cmp, err := order(left, right)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}

	return nil, fmt.Errorf("%w: unknown operator '%s'", ErrInvalidExpression, n.Op)
}

// compareNull handles comparisons where at least one side is null. Only an
// explicit null literal makes == or != meaningful; everything else is false.
func compareNull(n *Binary, left, right any) bool {
	if !isNullLiteral(n.Left) && !isNullLiteral(n.Right) {
		return false
	}

	switch n.Op {
	case "==":
		return left == nil && right == nil
	case "!=":
		return left != nil || right != nil
	}

	return false
}

func isNullLiteral(expr Expr) bool {
	lit, ok := expr.(*Literal)
	return ok && lit.IsNull()
}

func equal(left, right any) bool {
	if isNumber(left) || isNumber(right) {
		l, lok := toDecimal(left)
		r, rok := toDecimal(right)

		return lok && rok && l.Equal(r)
	}

	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case time.Time:
		r, ok := right.(time.Time)
		return ok && l.Equal(r)
	}

	return reflect.DeepEqual(left, right)
}

func order(left, right any) (int, error) {
	if l, ok := left.(string); ok {
		if r, ok := right.(string); ok {
			return strings.Compare(l, r), nil
		}
	}

	if l, ok := left.(time.Time); ok {
		if r, ok := right.(time.Time); ok {
			return l.Compare(r), nil
		}
	}

	l, lok := toDecimal(left)
	r, rok := toDecimal(right)

	if !lok || !rok {
		return 0, fmt.Errorf("%w: cannot order %T and %T", twowaysql.ErrExpressionType, left, right)
	}

	return l.Cmp(r), nil
}

func evalCall(n *Call, scope *Scope) (any, error) {
	arg, err := Eval(n.Args[0], scope)
	if err != nil {
		return nil, err
	}

	switch n.Func {
	case "isNull":
		return arg == nil, nil
	case "isNotNull":
		return arg != nil, nil
	case "isEmpty":
		return isEmpty(arg), nil
	case "isNotEmpty":
		return !isEmpty(arg), nil
	case "size":
		return size(arg)
	}

	return nil, fmt.Errorf("%w: unknown function '%s'", ErrInvalidExpression, n.Func)
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	}

	return false
}

func size(value any) (any, error) {
	if value == nil {
		return int64(0), nil
	}

	if s, ok := value.(string); ok {
		return int64(utf8.RuneCountInString(s)), nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return int64(rv.Len()), nil
	}

	return nil, fmt.Errorf("%w: size() of %T", twowaysql.ErrExpressionType, value)
}
