package render

import (
	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/explang"
)

// Options controls a render call.
type Options struct {
	Dialect    twowaysql.Dialect
	NullPolicy string
	NullText   string
	// Evaluator overrides the evaluator picked from each condition's language.
	Evaluator explang.Evaluator
	// Guard screens embedded string values. nil disables screening.
	Guard Guard
}

// Option configures a render call.
type Option func(*Options)

func WithDialect(dialect twowaysql.Dialect) Option {
	return func(o *Options) {
		o.Dialect = dialect
	}
}

// WithNullPolicy decides whether a null bind makes a BEGIN block meaningful:
// twowaysql.NullPolicySkip (default) or twowaysql.NullPolicyBind.
func WithNullPolicy(policy string) Option {
	return func(o *Options) {
		o.NullPolicy = policy
	}
}

// WithNullText sets the text emitted for a null embedded value.
func WithNullText(text string) Option {
	return func(o *Options) {
		o.NullText = text
	}
}

func WithEvaluator(evaluator explang.Evaluator) Option {
	return func(o *Options) {
		o.Evaluator = evaluator
	}
}

func WithGuard(guard Guard) Option {
	return func(o *Options) {
		o.Guard = guard
	}
}

// FromConfig converts the render section of a configuration into options.
func FromConfig(cfg *twowaysql.Config, dialect twowaysql.Dialect) []Option {
	opts := []Option{
		WithDialect(dialect),
		WithNullPolicy(cfg.Render.NullPolicy),
		WithNullText(cfg.Render.NullText),
	}

	if cfg.Render.GuardEmbedded() {
		opts = append(opts, WithGuard(InjectionGuard{}))
	}

	return opts
}

func newOptions(opts []Option) *Options {
	o := &Options{
		Dialect:    twowaysql.DialectGeneric,
		NullPolicy: twowaysql.NullPolicySkip,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

var celEvaluator = explang.NewCELEvaluator()

func (o *Options) evaluator(cond *explang.Condition) explang.Evaluator {
	if o.Evaluator != nil {
		return o.Evaluator
	}

	if cond.Language == explang.LanguageCEL {
		return celEvaluator
	}

	return explang.NativeEvaluator{}
}
