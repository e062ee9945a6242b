package query

import (
	"context"
	"database/sql"
	"regexp"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// RedactedText replaces bind values and credentials in logs.
	RedactedText = "[REDACTED]"

	defaultStackDepth = 16
)

// ExplainMode defines whether and how EXPLAIN runs for logged SELECTs.
type ExplainMode int

const (
	ExplainModeNone ExplainMode = iota
	ExplainModePlan
	ExplainModeAnalyze
)

// LoggerOpt configures optional logger behaviour passed to WithLogger.
type LoggerOpt struct {
	IncludeStack bool
	StackDepth   int
	// RedactArgs replaces every bind value with RedactedText.
	RedactArgs bool
	// MaxSQLLength truncates logged SQL. Zero keeps it whole.
	MaxSQLLength int

	ExplainMode               ExplainMode
	ExplainSlowQueryThreshold time.Duration
}

// LoggerFunc receives QueryLogEntry events.
type LoggerFunc func(context.Context, QueryLogEntry)

// QueryType categorizes queries for logging.
type QueryType string

const (
	QueryTypeSelect QueryType = "select"
	QueryTypeExec   QueryType = "exec"
)

// QueryLogEntry represents a single query execution.
type QueryLogEntry struct {
	Template     string
	SQL          string
	Args         []any
	Dialect      string
	QueryType    QueryType
	StartAt      time.Time
	EndAt        time.Time
	Duration     time.Duration
	RowsAffected int64
	StackTrace   []runtime.Frame
	ExplainPlan  string
	Error        string
}

type loggerKey struct{}

type loggerConfig struct {
	sink LoggerFunc
	opt  LoggerOpt
}

// WithLogger returns a context whose executions are reported to logger.
func WithLogger(ctx context.Context, logger LoggerFunc, opts ...LoggerOpt) context.Context {
	var opt LoggerOpt
	if len(opts) > 0 {
		opt = opts[0]
	}

	if opt.IncludeStack && opt.StackDepth <= 0 {
		opt.StackDepth = defaultStackDepth
	}

	if opt.ExplainSlowQueryThreshold < 0 {
		opt.ExplainSlowQueryThreshold = 0
	}

	return context.WithValue(ctx, loggerKey{}, &loggerConfig{sink: logger, opt: opt})
}

func loggerFrom(ctx context.Context) *loggerConfig {
	if ctx == nil {
		return nil
	}

	cfg, _ := ctx.Value(loggerKey{}).(*loggerConfig)
	if cfg == nil || cfg.sink == nil {
		return nil
	}

	return cfg
}

// QueryLogger collects one execution's details. A nil *QueryLogger is valid
// and ignores every call, so callers need no logging checks.
type QueryLogger struct {
	cfg          *loggerConfig
	startAt      time.Time
	template     string
	sql          string
	args         []any
	rowsAffected int64
	err          error
}

// NewQueryLogger starts timing an execution when ctx carries a logger.
func NewQueryLogger(ctx context.Context, template string) *QueryLogger {
	cfg := loggerFrom(ctx)
	if cfg == nil {
		return nil
	}

	return &QueryLogger{cfg: cfg, template: template, startAt: time.Now()}
}

// SetQuery captures the SQL text and arguments to be logged.
func (l *QueryLogger) SetQuery(sql string, args []any) {
	if l == nil {
		return
	}

	l.sql = sql
	if len(args) == 0 {
		l.args = nil
		return
	}

	l.args = make([]any, len(args))
	copy(l.args, args)
}

func (l *QueryLogger) SetRowsAffected(n int64) {
	if l == nil {
		return
	}

	l.rowsAffected = n
}

// SetErr records the last error to be logged.
func (l *QueryLogger) SetErr(err error) {
	if l == nil {
		return
	}

	l.err = err
}

// Write finalizes the entry and hands it to the sink. db runs EXPLAIN when
// the options ask for it and may be nil.
func (l *QueryLogger) Write(ctx context.Context, dialect string, queryType QueryType, db Queryer) {
	if l == nil {
		return
	}

	opt := l.cfg.opt

	entry := QueryLogEntry{
		Template:     l.template,
		SQL:          truncateSQL(l.sql, opt.MaxSQLLength),
		Dialect:      dialect,
		QueryType:    queryType,
		StartAt:      l.startAt,
		EndAt:        time.Now(),
		RowsAffected: l.rowsAffected,
	}
	entry.Duration = entry.EndAt.Sub(entry.StartAt)

	if len(l.args) > 0 {
		entry.Args = make([]any, len(l.args))
		for i, arg := range l.args {
			if opt.RedactArgs {
				entry.Args[i] = RedactedText
			} else {
				entry.Args[i] = arg
			}
		}
	}

	if l.err != nil {
		entry.Error = SanitizeError(l.err)
	}

	if opt.IncludeStack {
		entry.StackTrace = captureStackTrace(opt.StackDepth)
	}

	if l.err == nil && queryType == QueryTypeSelect && db != nil && IsReadOnlyQuery(l.sql) && l.shouldExplain(entry.Duration) {
		entry.ExplainPlan = runExplain(ctx, db, opt.ExplainMode, l.sql, l.args)
	}

	l.cfg.sink(ctx, entry)
}

func (l *QueryLogger) shouldExplain(duration time.Duration) bool {
	if l.cfg.opt.ExplainMode == ExplainModeNone {
		return false
	}

	threshold := l.cfg.opt.ExplainSlowQueryThreshold

	return threshold <= 0 || duration >= threshold
}

// Queryer is the part of DB that EXPLAIN needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func runExplain(ctx context.Context, db Queryer, mode ExplainMode, query string, args []any) string {
	prefix := "EXPLAIN "
	if mode == ExplainModeAnalyze {
		prefix = "EXPLAIN ANALYZE "
	}

	rows, err := db.QueryContext(ctx, prefix+query, args...)
	if err != nil {
		return ""
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return ""
	}

	raw := make([]sql.RawBytes, len(columns))

	dests := make([]any, len(columns))
	for i := range raw {
		dests[i] = &raw[i]
	}

	var lines []string

	for rows.Next() {
		if err := rows.Scan(dests...); err != nil {
			return ""
		}

		var b strings.Builder

		for i, col := range raw {
			if i > 0 {
				b.WriteByte('\t')
			}

			if col == nil {
				b.WriteString("NULL")
				continue
			}

			b.Write(col)
		}

		lines = append(lines, b.String())
	}

	if rows.Err() != nil {
		return ""
	}

	return strings.Join(lines, "\n")
}

func captureStackTrace(depth int) []runtime.Frame {
	pcs := make([]uintptr, depth)
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var result []runtime.Frame

	for {
		frame, more := frames.Next()
		result = append(result, frame)

		if !more {
			break
		}
	}

	return result
}

func truncateSQL(sql string, limit int) string {
	if limit <= 0 || len(sql) <= limit {
		return sql
	}

	return sql[:limit] + "..."
}

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)
	// user:pass@host
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)
)

// SanitizeConnectionString removes credentials from a DSN before it is logged
// or shown in an error.
func SanitizeConnectionString(dsn string) string {
	sanitized := passwordPattern.ReplaceAllString(dsn, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
}

// SanitizeError renders err with any embedded credentials removed.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	return SanitizeConnectionString(err.Error())
}

// ZapLogger adapts a zap logger to LoggerFunc. Successful executions log at
// Debug, failures at Warn.
func ZapLogger(logger *zap.Logger) LoggerFunc {
	return func(_ context.Context, entry QueryLogEntry) {
		fields := []zap.Field{
			zap.String("sql", entry.SQL),
			zap.Any("args", entry.Args),
			zap.String("query_type", string(entry.QueryType)),
			zap.Duration("duration", entry.Duration),
		}

		if entry.Template != "" {
			fields = append(fields, zap.String("template", entry.Template))
		}

		if entry.Dialect != "" {
			fields = append(fields, zap.String("dialect", entry.Dialect))
		}

		if entry.QueryType == QueryTypeExec {
			fields = append(fields, zap.Int64("rows_affected", entry.RowsAffected))
		}

		if entry.ExplainPlan != "" {
			fields = append(fields, zap.String("explain", entry.ExplainPlan))
		}

		if entry.Error != "" {
			logger.Warn("query failed", append(fields, zap.String("error", entry.Error))...)
			return
		}

		logger.Debug("query executed", fields...)
	}
}
