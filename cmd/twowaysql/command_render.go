package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/query"
	"github.com/shibukawa/twowaysql/render"
)

// RenderCmd represents the render command
type RenderCmd struct {
	Template   string   `arg:"" help:"Template file (.sql, .md#name, .xml#id) or catalog name"`
	ParamsFile string   `short:"p" name:"params" help:"Arguments file (JSON/YAML)" type:"path"`
	Param      []string `name:"param" help:"Individual argument (key=value, value read as YAML)"`
	Dialect    string   `help:"Placeholder dialect (generic, postgres, mysql, sqlite, sqlserver)"`
	Format     string   `help:"Output format" enum:"text,json,yaml" default:"text"`
	Inline     bool     `help:"Inline bind values as literals, for reading only"`
	OutputFile string   `short:"o" name:"output" help:"Output file (defaults to stdout)" type:"path"`
}

func (cmd *RenderCmd) Run(ctx *Context) error {
	cfg, err := ctx.LoadConfig()
	if err != nil {
		return err
	}

	dialect, err := resolveDialect(cmd.Dialect, cfg.Dialect)
	if err != nil {
		return err
	}

	args, err := loadArguments(cmd.ParamsFile, cmd.Param)
	if err != nil {
		return err
	}

	res, err := renderTemplate(ctx, cfg, dialect, cmd.Template, args)
	if err != nil {
		return err
	}

	w, done, err := output(ctx, cmd.OutputFile)
	if err != nil {
		return err
	}
	defer done()

	if cmd.Inline {
		_, err := fmt.Fprintln(w, query.Interpolate(res, dialect))
		return err
	}

	return writeRendered(w, cmd.Format, res)
}

func resolveDialect(flag, configured string) (twowaysql.Dialect, error) {
	if flag != "" {
		return twowaysql.ParseDialect(flag)
	}

	return twowaysql.ParseDialect(configured)
}

func writeRendered(w io.Writer, format string, res *render.Result) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		return encoder.Encode(res)
	case "yaml":
		data, err := yaml.Marshal(res)
		if err != nil {
			return fmt.Errorf("failed to marshal result to YAML: %w", err)
		}

		_, err = w.Write(data)

		return err
	}

	if _, err := fmt.Fprintln(w, res.SQL); err != nil {
		return err
	}

	if len(res.Binds) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	color.New(color.FgBlue).Fprintln(w, "-- binds")

	for i, bind := range res.Binds {
		fmt.Fprintf(w, "-- %d: %s = %s (%s)\n", i+1, bind.Path, query.Literal(bind.Value), bind.Type)
	}

	return nil
}
