package render

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/explang"
	"github.com/shibukawa/twowaysql/parser"
)

// Result is the output of a successful render.
type Result struct {
	// Template is the name of the rendered template.
	Template string           `json:"template,omitempty" yaml:"template,omitempty"`
	SQL      string           `json:"sql" yaml:"sql"`
	Binds    []twowaysql.Bind `json:"binds" yaml:"binds"`
}

// Args returns the bind values in placeholder order.
func (r *Result) Args() []any {
	args := make([]any, len(r.Binds))
	for i, bind := range r.Binds {
		args[i] = bind.Value
	}

	return args
}

// Render walks tmpl with args and returns the final SQL and binds. Any
// failure aborts the whole render with a *twowaysql.RenderError.
func Render(tmpl *parser.Template, args map[string]any, opts ...Option) (*Result, error) {
	r := &renderer{tmpl: tmpl, opts: newOptions(opts)}
	ctx := newContext(r.opts)

	err := r.sequence(ctx, explang.NewScope(args), nil, tmpl.Root)
	if err != nil {
		return nil, err
	}

	return &Result{Template: tmpl.Name, SQL: ctx.SQL(), Binds: ctx.Binds()}, nil
}

type renderer struct {
	tmpl *parser.Template
	opts *Options
}

// loop tracks the innermost FOR iteration for NEXT.
type loop struct {
	index int
}

func (r *renderer) sequence(ctx *Context, scope *explang.Scope, lp *loop, seq *parser.Sequence) error {
	for _, n := range seq.Nodes {
		if err := r.node(ctx, scope, lp, n); err != nil {
			return err
		}
	}

	return nil
}

func (r *renderer) node(ctx *Context, scope *explang.Scope, lp *loop, n parser.Node) error {
	switch v := n.(type) {
	case *parser.Text:
		ctx.write(v.Value)
	case *parser.Bind:
		return r.bind(ctx, scope, v)
	case *parser.Embedded:
		return r.embedded(ctx, scope, v)
	case *parser.If:
		return r.ifBlock(ctx, scope, lp, v)
	case *parser.For:
		return r.forBlock(ctx, scope, v)
	case *parser.Begin:
		child := ctx.child()
		if err := r.sequence(child, scope, lp, v.Body); err != nil {
			return err
		}

		if child.meaningful() {
			ctx.splice(child)
		} else {
			ctx.drop()
		}
	case *parser.Next:
		if lp != nil && lp.index > 0 {
			ctx.write(v.Text)
		}
	case *parser.Sequence:
		return r.sequence(ctx, scope, lp, v)
	}

	return nil
}

// resolve looks up a bind, embedded or FOR path. An absent top-level name is
// a missing argument rather than an unknown variable.
func (r *renderer) resolve(scope *explang.Scope, path string, steps []explang.Step) (any, error) {
	if !scope.Has(steps[0].Identifier) {
		return nil, r.fail(path, "", fmt.Errorf("%w: %s", twowaysql.ErrMissingArgument, steps[0].Identifier))
	}

	value, err := explang.Resolve(scope, steps)
	if err != nil {
		return nil, r.fail(path, "", err)
	}

	return explang.Indirect(value), nil
}

func (r *renderer) bind(ctx *Context, scope *explang.Scope, n *parser.Bind) error {
	value, err := r.resolve(scope, n.Path, n.Steps)
	if err != nil {
		return err
	}

	if n.Expand {
		if items, ok := expandable(value); ok {
			return r.inList(ctx, n, items)
		}
	}

	ctx.addBind(r.newBind(n, n.Path, value))

	return nil
}

func (r *renderer) inList(ctx *Context, n *parser.Bind, items []any) error {
	if len(items) == 0 {
		ctx.write("(NULL)")
		ctx.directives = true
		ctx.nullBinds++

		return nil
	}

	ctx.write("(")

	for i, item := range items {
		if i > 0 {
			ctx.write(", ")
		}

		ctx.addBind(r.newBind(n, n.Path+"."+strconv.Itoa(i), explang.Indirect(item)))
	}

	ctx.write(")")

	return nil
}

func (r *renderer) newBind(n *parser.Bind, path string, value any) twowaysql.Bind {
	bindType := twowaysql.InferBindType(value)
	if n.HasHint {
		bindType = n.Hint
	}

	return twowaysql.Bind{Value: value, Type: bindType, Path: path}
}

// numeric reports whether value prints as a plain number or boolean, which
// cannot carry SQL syntax.
func numeric(value any) bool {
	switch reflect.ValueOf(value).Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}

	return false
}

// expandable returns the elements of a slice or array other than []byte.
func expandable(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}

	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}

	return items, true
}

func (r *renderer) embedded(ctx *Context, scope *explang.Scope, n *parser.Embedded) error {
	value, err := r.resolve(scope, n.Path, n.Steps)
	if err != nil {
		return err
	}

	ctx.directives = true

	if value == nil {
		ctx.write(r.opts.NullText)
		return nil
	}

	text, ok := value.(string)
	if !ok {
		text = fmt.Sprint(value)
	}

	if r.opts.Guard != nil && !numeric(value) {
		if err := r.opts.Guard.Check(text); err != nil {
			return r.fail(n.Path, "", err)
		}
	}

	ctx.write(text)
	ctx.embedded++

	return nil
}

func (r *renderer) ifBlock(ctx *Context, scope *explang.Scope, lp *loop, n *parser.If) error {
	ok, err := r.opts.evaluator(n.Cond).Evaluate(n.Cond, scope)
	if err != nil {
		var pathErr *twowaysql.PathError
		if errors.As(err, &pathErr) {
			return r.fail(pathErr.Path, n.Cond.Source, err)
		}

		return r.fail("", n.Cond.Source, err)
	}

	branch := n.Then
	if !ok {
		branch = n.Else
	}

	ctx.directives = true

	if branch == nil {
		return nil
	}

	start := len(ctx.buf)

	if err := r.sequence(ctx, scope, lp, branch); err != nil {
		return err
	}

	if strings.TrimSpace(string(ctx.buf[start:])) != "" {
		ctx.stripFragment(start)
		ctx.blockOutput = true
	}

	return nil
}

func (r *renderer) forBlock(ctx *Context, scope *explang.Scope, n *parser.For) error {
	value, err := r.resolve(scope, n.Path, n.Steps)
	if err != nil {
		return err
	}

	items, err := collection(value)
	if err != nil {
		return r.fail(n.Path, "", err)
	}

	ctx.directives = true
	start := len(ctx.buf)

	for i, item := range items {
		if err := r.sequence(ctx, scope.Push(n.Var, item), &loop{index: i}, n.Body); err != nil {
			return err
		}
	}

	if strings.TrimSpace(string(ctx.buf[start:])) != "" {
		ctx.blockOutput = true
	}

	return nil
}

// collection lists FOR items: slices and arrays in order, maps by sorted key.
func collection(value any) ([]any, error) {
	if value == nil {
		return nil, nil
	}

	rv := reflect.ValueOf(value)

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}

		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}

		return items, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: FOR over a map needs string keys, got %s", twowaysql.ErrExpressionType, rv.Type())
		}

		keys := make([]string, 0, rv.Len())
		byKey := make(map[string]any, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			keys = append(keys, key)
			byKey[key] = iter.Value().Interface()
		}

		sort.Strings(keys)

		items := make([]any, len(keys))
		for i, key := range keys {
			items[i] = byKey[key]
		}

		return items, nil
	}

	return nil, fmt.Errorf("%w: FOR needs a collection, got %T", twowaysql.ErrExpressionType, value)
}

func (r *renderer) fail(path, expr string, err error) error {
	return &twowaysql.RenderError{Template: r.tmpl.Name, Path: path, Expr: expr, Err: err}
}
