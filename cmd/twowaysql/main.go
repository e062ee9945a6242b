package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/shibukawa/twowaysql"
	"go.uber.org/zap"
)

// Context represents the global context for commands
type Context struct {
	Config  string
	Verbose bool
	Quiet   bool

	Stdout io.Writer
	Stderr io.Writer
	// Logger is built from the configuration on first LoadConfig unless set.
	Logger *zap.Logger

	cfg *twowaysql.Config
}

// LoadConfig reads the configuration file once per run.
func (c *Context) LoadConfig() (*twowaysql.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}

	cfg, err := twowaysql.LoadConfig(c.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if c.Logger == nil {
		c.Logger = newLogger(c.Stderr, cfg.Logging.Level, c.Verbose)
	}

	c.cfg = cfg

	return cfg, nil
}

// CLI represents the command-line interface
var CLI struct {
	Config  string     `help:"Configuration file path" default:"twowaysql.yaml" type:"path"`
	Verbose bool       `help:"Enable verbose output" short:"v"`
	Quiet   bool       `help:"Suppress output" short:"q"`
	Render  RenderCmd  `cmd:"" help:"Render a template to SQL and binds"`
	Check   CheckCmd   `cmd:"" help:"Parse templates and report syntax errors"`
	Query   QueryCmd   `cmd:"" help:"Render a template and execute it"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

var version = "dev"

// VersionCmd represents the version command
type VersionCmd struct{}

func (cmd *VersionCmd) Run(ctx *Context) error {
	fmt.Fprintf(ctx.Stdout, "twowaysql %s\n", version)
	return nil
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("twowaysql"),
		kong.Description("Two-way SQL templates: render, check and run SQL that stays executable as written."),
		kong.UsageOnError(),
	)

	appCtx := &Context{
		Config:  CLI.Config,
		Verbose: CLI.Verbose,
		Quiet:   CLI.Quiet,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	err := kctx.Run(appCtx)

	if appCtx.Logger != nil {
		_ = appCtx.Logger.Sync()
	}

	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
