package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/parser"
	"github.com/shibukawa/twowaysql/query"
	"go.uber.org/zap"
)

// CheckCmd represents the check command
type CheckCmd struct {
	Paths []string `arg:"" optional:"" help:"Template files or directories (defaults to templates.dir)" type:"path"`
}

func (cmd *CheckCmd) Run(ctx *Context) error {
	cfg, err := ctx.LoadConfig()
	if err != nil {
		return err
	}

	paths := cmd.Paths
	if len(paths) == 0 {
		paths = []string{cfg.Templates.Dir}
	}

	loader := query.NewLoader(cfg.Templates.Extensions...)

	var sources []query.Source

	for _, path := range paths {
		found, err := collectSources(loader, path)
		if err != nil {
			return err
		}

		sources = append(sources, found...)
	}

	failed := 0
	red := color.New(color.FgRed)

	for _, src := range sources {
		_, err := parser.Parse(src.Name, src.SQL, parser.WithExpressionLanguage(cfg.Render.ExpressionLanguage))
		if err == nil {
			ctx.Logger.Debug("template ok", zap.String("template", src.Name))
			continue
		}

		failed++

		red.Fprintln(ctx.Stderr, describeParseError(src, err))
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d templates have errors", ErrCheckFailed, failed, len(sources))
	}

	if !ctx.Quiet {
		color.New(color.FgGreen).Fprintf(ctx.Stdout, "%d templates OK\n", len(sources))
	}

	return nil
}

func collectSources(loader *query.Loader, path string) ([]query.Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return loader.LoadDir(path)
	}

	return loader.LoadFile(path, path)
}

// describeParseError formats err as file:line:column relative to the file
// the template came from.
func describeParseError(src query.Source, err error) string {
	var perr *twowaysql.ParseError
	if !errors.As(err, &perr) {
		return fmt.Sprintf("%s: %v", src.Path, err)
	}

	line, column := perr.Line, perr.Column
	if src.Line > 1 {
		line += src.Line - 1
	}

	msg := perr.Err.Error()

	if perr.Directive != "" {
		msg += ": " + perr.Directive
	}

	return fmt.Sprintf("%s:%d:%d: %s (%s)", src.Path, line, column, msg, src.Name)
}
