package query

import (
	"fmt"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/parser"
	"github.com/shibukawa/twowaysql/render"
	"go.uber.org/zap"
)

// Engine parses templates once and renders them many times. Parsed trees are
// cached by template name and a hash of the text, so changed text under the
// same name is parsed again. Safe for concurrent use.
type Engine struct {
	trees   sync.Map // cacheKey -> *parser.Template
	catalog sync.Map // name -> string

	logger     *zap.Logger
	parseOpts  []parser.Option
	renderOpts []render.Option
}

type cacheKey struct {
	name string
	hash uint64
}

type EngineOption func(*Engine)

func WithZapLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithParseOptions(opts ...parser.Option) EngineOption {
	return func(e *Engine) {
		e.parseOpts = append(e.parseOpts, opts...)
	}
}

// WithRenderOptions sets defaults applied before the options of each call.
func WithRenderOptions(opts ...render.Option) EngineOption {
	return func(e *Engine) {
		e.renderOpts = append(e.renderOpts, opts...)
	}
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewEngineFromConfig builds an engine following the render section of cfg.
func NewEngineFromConfig(cfg *twowaysql.Config, dialect twowaysql.Dialect, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	return NewEngine(
		WithZapLogger(logger),
		WithParseOptions(parser.WithExpressionLanguage(cfg.Render.ExpressionLanguage)),
		WithRenderOptions(render.FromConfig(cfg, dialect)...),
	)
}

// DefaultEngine backs the package-level Parse and Render functions.
var DefaultEngine = NewEngine()

// Parse returns the cached tree for sql or parses it.
func (e *Engine) Parse(name, sql string) (*parser.Template, error) {
	key := cacheKey{name: name, hash: xxhash.Sum64String(sql)}

	if cached, ok := e.trees.Load(key); ok {
		return cached.(*parser.Template), nil
	}

	e.logger.Debug("parse cache miss", zap.String("template", name))

	tmpl, err := parser.Parse(name, sql, e.parseOpts...)
	if err != nil {
		e.logger.Debug("parse failed", zap.String("template", name), zap.Error(err))
		return nil, err
	}

	// a concurrent miss parses the same text; either tree will do
	actual, _ := e.trees.LoadOrStore(key, tmpl)

	return actual.(*parser.Template), nil
}

// Register parses sql and adds it to the catalog under name, replacing any
// earlier text.
func (e *Engine) Register(name, sql string) error {
	if _, err := e.Parse(name, sql); err != nil {
		return err
	}

	e.catalog.Store(name, sql)

	return nil
}

// LoadDir registers every template found under dir and returns how many
// were loaded. A parse error stops loading and names the file.
func (e *Engine) LoadDir(dir string, extensions ...string) (int, error) {
	sources, err := NewLoader(extensions...).LoadDir(dir)
	if err != nil {
		return 0, err
	}

	for _, src := range sources {
		if err := e.Register(src.Name, src.SQL); err != nil {
			return 0, fmt.Errorf("%s: %w", src.Path, err)
		}
	}

	e.logger.Debug("templates loaded", zap.String("dir", dir), zap.Int("count", len(sources)))

	return len(sources), nil
}

// Template returns the parsed tree of a registered template.
func (e *Engine) Template(name string) (*parser.Template, error) {
	sql, ok := e.catalog.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	return e.Parse(name, sql.(string))
}

// Names lists registered templates in order.
func (e *Engine) Names() []string {
	var names []string

	e.catalog.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})

	slices.Sort(names)

	return names
}

// Render renders a registered template.
func (e *Engine) Render(name string, args map[string]any, opts ...render.Option) (*render.Result, error) {
	tmpl, err := e.Template(name)
	if err != nil {
		return nil, err
	}

	return e.render(tmpl, args, opts)
}

// RenderSQL renders template text that need not be registered. name only
// identifies it in the cache and in errors.
func (e *Engine) RenderSQL(name, sql string, args map[string]any, opts ...render.Option) (*render.Result, error) {
	tmpl, err := e.Parse(name, sql)
	if err != nil {
		return nil, err
	}

	return e.render(tmpl, args, opts)
}

func (e *Engine) render(tmpl *parser.Template, args map[string]any, opts []render.Option) (*render.Result, error) {
	all := make([]render.Option, 0, len(e.renderOpts)+len(opts))
	all = append(all, e.renderOpts...)
	all = append(all, opts...)

	res, err := render.Render(tmpl, args, all...)
	if err != nil {
		e.logger.Debug("render failed", zap.String("template", tmpl.Name), zap.Error(err))
		return nil, err
	}

	return res, nil
}

// Parse parses sql through DefaultEngine.
func Parse(name, sql string) (*parser.Template, error) {
	return DefaultEngine.Parse(name, sql)
}

// Render renders template text through DefaultEngine under the name InlineName
// gives it.
func Render(sql string, args map[string]any, opts ...render.Option) (*render.Result, error) {
	return DefaultEngine.RenderSQL(InlineName(sql), sql, args, opts...)
}

// InlineName is the name Render gives to template text.
func InlineName(sql string) string {
	return fmt.Sprintf("sql-%016x", xxhash.Sum64String(sql))
}
