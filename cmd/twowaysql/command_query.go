package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/query"
	"github.com/shibukawa/twowaysql/render"
	"go.uber.org/zap"
)

// QueryCmd represents the query command
type QueryCmd struct {
	Template              string   `arg:"" help:"Template file (.sql, .md#name, .xml#id) or catalog name"`
	ParamsFile            string   `short:"p" name:"params" help:"Arguments file (JSON/YAML)" type:"path"`
	Param                 []string `name:"param" help:"Individual argument (key=value, value read as YAML)"`
	DBConnection          string   `name:"db" help:"Database connection string"`
	Environment           string   `name:"env" help:"Environment name from config"`
	Format                string   `help:"Output format (table, json, csv, yaml, markdown)"`
	OutputFile            string   `short:"o" name:"output" help:"Output file (defaults to stdout)" type:"path"`
	Timeout               int      `help:"Query timeout in seconds"`
	MaxRows               int      `name:"max-rows" help:"Maximum rows to read"`
	Explain               bool     `help:"Show query execution plan"`
	ExplainAnalyze        bool     `name:"explain-analyze" help:"Show execution plan with actual statistics"`
	ExecuteDangerousQuery bool     `name:"execute-dangerous-query" help:"Execute DELETE/UPDATE queries without WHERE clause (dangerous!)"`
	DryRun                bool     `name:"dry-run" help:"Show generated SQL without executing"`
}

func (q *QueryCmd) Run(ctx *Context) error {
	cfg, err := ctx.LoadConfig()
	if err != nil {
		return err
	}

	format, err := query.ParseOutputFormat(firstNonEmpty(q.Format, cfg.Query.Format))
	if err != nil {
		return err
	}

	driver, dsn, dialect, err := q.databaseConnection(cfg)
	if err != nil && !q.DryRun {
		return err
	}

	if q.DryRun && dialect == "" {
		dialect = cfg.DialectFor(firstNonEmpty(q.Environment, cfg.Query.DefaultEnvironment))
	}

	args, err := loadArguments(q.ParamsFile, q.Param)
	if err != nil {
		return err
	}

	res, err := renderTemplate(ctx, cfg, dialect, q.Template, args)
	if err != nil {
		return err
	}

	if q.DryRun {
		return q.dryRun(ctx, res, dialect)
	}

	timeout := time.Duration(firstPositive(q.Timeout, cfg.Query.Timeout)) * time.Second

	db, err := query.OpenDatabase(context.Background(), driver, dsn, timeout)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx.Logger.Debug("connected", zap.String("driver", driver), zap.String("dsn", query.SanitizeConnectionString(dsn)))

	opts := []query.ExecutorOption{
		query.WithDialect(dialect),
		query.WithTimeout(timeout),
		query.WithMaxRows(firstPositive(q.MaxRows, cfg.Query.MaxRows)),
		query.AllowDangerous(q.ExecuteDangerousQuery || cfg.Query.ExecuteDangerousQuery),
	}

	if cfg.Query.StatementCacheSize > 0 {
		cache, err := query.NewStatementCache(cfg.Query.StatementCacheSize)
		if err != nil {
			return err
		}
		defer cache.Close()

		opts = append(opts, query.WithStatementCache(cache))
	}

	executor := query.NewExecutor(db, opts...)

	var plan string

	sink := query.ZapLogger(ctx.Logger)
	runCtx := query.WithLogger(context.Background(), func(c context.Context, entry query.QueryLogEntry) {
		plan = entry.ExplainPlan
		sink(c, entry)
	}, query.LoggerOpt{RedactArgs: cfg.Logging.RedactArgs, ExplainMode: q.explainMode()})

	w, done, err := output(ctx, q.OutputFile)
	if err != nil {
		return err
	}
	defer done()

	formatter := query.NewFormatter(format)

	if !query.ReturnsRows(res.SQL) {
		affected, err := executor.Exec(runCtx, res)
		if err != nil {
			return q.explainFailure(ctx, err)
		}

		return formatter.WriteAffected(w, affected)
	}

	result, err := executor.Fetch(runCtx, res)
	if err != nil {
		return q.explainFailure(ctx, err)
	}

	if err := formatter.Write(w, result); err != nil {
		return err
	}

	if plan != "" {
		color.New(color.FgBlue).Fprintln(w, "\nExecution plan:")
		fmt.Fprintln(w, plan)
	}

	return nil
}

func (q *QueryCmd) explainMode() query.ExplainMode {
	switch {
	case q.ExplainAnalyze:
		return query.ExplainModeAnalyze
	case q.Explain:
		return query.ExplainModePlan
	default:
		return query.ExplainModeNone
	}
}

func (q *QueryCmd) explainFailure(ctx *Context, err error) error {
	if errors.Is(err, query.ErrDangerousQuery) && !ctx.Quiet {
		red := color.New(color.FgRed)
		red.Fprintln(ctx.Stderr, "This query contains DELETE or UPDATE without a WHERE clause, which could affect all rows in the table.")
		red.Fprintln(ctx.Stderr, "To execute this query anyway, use the --execute-dangerous-query flag.")
	}

	return err
}

// databaseConnection picks the driver, DSN and dialect from --db, --env or
// the configured default environment.
func (q *QueryCmd) databaseConnection(cfg *twowaysql.Config) (driver, dsn string, dialect twowaysql.Dialect, err error) {
	if q.DBConnection != "" {
		driver = determineDriver(q.DBConnection)
		dialect, _ = twowaysql.ParseDialect(driver)

		dsn = strings.TrimPrefix(strings.TrimPrefix(q.DBConnection, "sqlite://"), "mysql://")

		return driver, dsn, dialect, nil
	}

	env := firstNonEmpty(q.Environment, cfg.Query.DefaultEnvironment)

	db, ok := cfg.Databases[env]
	if !ok {
		if q.Environment != "" {
			return "", "", "", fmt.Errorf("%w: %s", ErrEnvironmentNotFound, env)
		}

		return "", "", "", ErrNoDatabase
	}

	return db.Driver, db.Connection, cfg.DialectFor(env), nil
}

// determineDriver determines the database driver from connection string
func determineDriver(connectionString string) string {
	switch {
	case strings.HasPrefix(connectionString, "postgres://"), strings.HasPrefix(connectionString, "postgresql://"):
		return "pgx"
	case strings.HasPrefix(connectionString, "mysql://"), strings.Contains(connectionString, "@tcp("):
		return "mysql"
	case strings.HasPrefix(connectionString, "sqlite://"), strings.HasPrefix(connectionString, "file:"),
		strings.HasSuffix(connectionString, ".db"), connectionString == ":memory:":
		return "sqlite3"
	}

	return "pgx"
}

func (q *QueryCmd) dryRun(ctx *Context, res *render.Result, dialect twowaysql.Dialect) error {
	if ctx.Quiet {
		return nil
	}

	w, done, err := output(ctx, q.OutputFile)
	if err != nil {
		return err
	}
	defer done()

	blue := color.New(color.FgBlue)

	blue.Fprintf(w, "Template: %s (%s)\n\n", res.Template, dialect)
	blue.Fprintln(w, "Generated SQL:")
	fmt.Fprintln(w, res.SQL)

	if len(res.Binds) > 0 {
		fmt.Fprintln(w)
		blue.Fprintln(w, "Parameters:")

		for i, bind := range res.Binds {
			fmt.Fprintf(w, "  %s: %s (%s)\n", dialect.Placeholder(i+1), query.Literal(bind.Value), bind.Type)
		}
	}

	if query.IsDangerousQuery(res.SQL) {
		red := color.New(color.FgRed)
		red.Fprintln(w, "\nWARNING: This query appears to be dangerous (DELETE/UPDATE without WHERE clause)")
		red.Fprintln(w, "   Use --execute-dangerous-query flag to execute it anyway")
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}

	return 0
}
