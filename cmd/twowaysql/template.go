package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/query"
	"github.com/shibukawa/twowaysql/render"
)

// resolveTemplate registers the template ref points at and returns its
// catalog name. ref is a file path, optionally followed by #name for .md and
// .xml files, or a name in the configured template directory.
func resolveTemplate(engine *query.Engine, cfg *twowaysql.Config, ref string) (string, error) {
	path, fragment, _ := strings.Cut(ref, "#")

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		sources, err := query.NewLoader().LoadFile(path, base)
		if err != nil {
			return "", err
		}

		src, err := pickSource(sources, base, fragment)
		if err != nil {
			return "", fmt.Errorf("%s: %w", path, err)
		}

		if err := engine.Register(src.Name, src.SQL); err != nil {
			return "", err
		}

		return src.Name, nil
	}

	if _, err := engine.LoadDir(cfg.Templates.Dir, cfg.Templates.Extensions...); err != nil {
		return "", err
	}

	if _, err := engine.Template(ref); err != nil {
		return "", err
	}

	return ref, nil
}

func pickSource(sources []query.Source, base, fragment string) (query.Source, error) {
	if fragment == "" {
		switch len(sources) {
		case 0:
			return query.Source{}, fmt.Errorf("%w: no templates found", query.ErrTemplateNotFound)
		case 1:
			return sources[0], nil
		}

		names := make([]string, len(sources))
		for i, src := range sources {
			names[i] = src.Name
		}

		return query.Source{}, fmt.Errorf("%w: %s", ErrAmbiguousTemplate, strings.Join(names, ", "))
	}

	for _, src := range sources {
		if src.Name == base+"#"+fragment {
			return src, nil
		}
	}

	return query.Source{}, fmt.Errorf("%w: %s#%s", query.ErrTemplateNotFound, base, fragment)
}

// loadArguments reads the params file and applies key=value overrides.
func loadArguments(paramsFile string, assignments []string) (map[string]any, error) {
	args := map[string]any{}

	if paramsFile != "" {
		loaded, err := query.LoadParams(paramsFile)
		if err != nil {
			return nil, err
		}

		args = loaded
	}

	for _, assignment := range assignments {
		if err := query.SetParam(args, assignment); err != nil {
			return nil, err
		}
	}

	return args, nil
}

// renderTemplate resolves, validates and renders ref.
func renderTemplate(ctx *Context, cfg *twowaysql.Config, dialect twowaysql.Dialect, ref string, args map[string]any) (*render.Result, error) {
	engine := query.NewEngineFromConfig(cfg, dialect, ctx.Logger)

	name, err := resolveTemplate(engine, cfg, ref)
	if err != nil {
		return nil, err
	}

	tmpl, err := engine.Template(name)
	if err != nil {
		return nil, err
	}

	if err := query.ValidateArguments(tmpl, args); err != nil {
		return nil, err
	}

	return engine.Render(name, args)
}

// output returns the writer for -o, stdout when path is empty.
func output(ctx *Context, path string) (io.Writer, func(), error) {
	if path == "" {
		return ctx.Stdout, func() {}, nil
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrOutputFileCreation, err)
	}

	return file, func() { file.Close() }, nil
}
