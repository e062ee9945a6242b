package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/render"
)

// DB is the execution surface. *sql.DB, *sql.Tx and *sql.Conn satisfy it.
type DB interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// QueryResult holds the rows read by Fetch.
type QueryResult struct {
	SQL      string        `json:"sql"`
	Args     []any         `json:"args"`
	Duration time.Duration `json:"duration"`

	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Count   int      `json:"count"`
	// Truncated is set when more rows than the executor's limit were available.
	Truncated bool `json:"truncated,omitempty"`
}

// Executor runs rendered statements against a DB.
type Executor struct {
	db             DB
	binder         *Binder
	stmts          *StatementCache
	dialect        twowaysql.Dialect
	timeout        time.Duration
	maxRows        int
	allowDangerous bool
}

type ExecutorOption func(*Executor)

// WithTimeout bounds Exec and Fetch. Query leaves the deadline to ctx because
// its rows outlive the call.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = timeout
	}
}

// WithStatementCache prepares statements through cache. Only use it with a
// *sql.DB; statements prepared on a transaction die with it.
func WithStatementCache(cache *StatementCache) ExecutorOption {
	return func(e *Executor) {
		e.stmts = cache
	}
}

func WithBinder(binder *Binder) ExecutorOption {
	return func(e *Executor) {
		e.binder = binder
	}
}

// WithDialect is reported in query logs.
func WithDialect(dialect twowaysql.Dialect) ExecutorOption {
	return func(e *Executor) {
		e.dialect = dialect
	}
}

// WithMaxRows limits the rows Fetch reads. Zero reads everything.
func WithMaxRows(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxRows = n
	}
}

// AllowDangerous lets DELETE and UPDATE run without a WHERE clause.
func AllowDangerous(allow bool) ExecutorOption {
	return func(e *Executor) {
		e.allowDangerous = allow
	}
}

func NewExecutor(db DB, opts ...ExecutorOption) *Executor {
	e := &Executor{db: db, binder: NewBinder(), dialect: twowaysql.DialectGeneric}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

var (
	leadingComments = regexp.MustCompile(`^(?:\s+|--[^\n]*\n?|/\*(?s:.*?)\*/)*`)
	whereKeyword    = regexp.MustCompile(`(?i)\bWHERE\b`)
	mutationPrefix  = regexp.MustCompile(`(?i)^(DELETE|UPDATE)\b`)
)

// IsDangerousQuery reports DELETE and UPDATE statements without a WHERE clause.
func IsDangerousQuery(sql string) bool {
	body := leadingComments.ReplaceAllString(sql, "")
	if !mutationPrefix.MatchString(body) {
		return false
	}

	return !whereKeyword.MatchString(body)
}

var (
	rowsPrefix     = regexp.MustCompile(`(?i)^(SELECT|WITH|VALUES|SHOW|EXPLAIN|DESCRIBE|PRAGMA|TABLE)\b`)
	returningWords = regexp.MustCompile(`(?i)\b(RETURNING|OUTPUT)\b`)
)

// ReturnsRows guesses whether a statement produces a result set, so callers
// can pick between Fetch and Exec.
func ReturnsRows(sql string) bool {
	body := leadingComments.ReplaceAllString(sql, "")

	return rowsPrefix.MatchString(body) || returningWords.MatchString(body)
}

var (
	readPrefix = regexp.MustCompile(`(?i)^(SELECT|WITH|VALUES|TABLE)\b`)
	writeWords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|UPSERT|REPLACE|INTO|RETURNING|OUTPUT|CREATE|DROP|ALTER|TRUNCATE|CALL|EXEC|EXECUTE)\b`)
)

// IsReadOnlyQuery reports whether sql is a plain query that is safe to run a
// second time, as EXPLAIN ANALYZE does. Anything unsure counts as a write.
func IsReadOnlyQuery(sql string) bool {
	body := leadingComments.ReplaceAllString(sql, "")

	return readPrefix.MatchString(body) && !writeWords.MatchString(body)
}

func queryTypeOf(sql string) QueryType {
	if IsReadOnlyQuery(sql) {
		return QueryTypeSelect
	}

	return QueryTypeExec
}

func (e *Executor) prepare(res *render.Result) ([]any, error) {
	if IsDangerousQuery(res.SQL) && !e.allowDangerous {
		return nil, fmt.Errorf("%w: DELETE/UPDATE without WHERE clause in %s", ErrDangerousQuery, res.Template)
	}

	args, err := e.binder.Args(res.Binds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryExecution, err)
	}

	return args, nil
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}

	return ctx, func() {}
}

// Exec runs a statement and returns the number of affected rows.
func (e *Executor) Exec(ctx context.Context, res *render.Result) (int64, error) {
	args, err := e.prepare(res)
	if err != nil {
		return 0, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	logger := NewQueryLogger(ctx, res.Template)
	logger.SetQuery(res.SQL, args)

	defer func() {
		logger.Write(ctx, string(e.dialect), QueryTypeExec, nil)
	}()

	var result sql.Result

	if e.stmts != nil {
		var (
			stmt    *sql.Stmt
			release func()
		)

		stmt, release, err = e.stmts.GetOrPrepare(ctx, e.db, res.SQL)
		if err == nil {
			result, err = stmt.ExecContext(ctx, args...)
			release()
		}
	} else {
		result, err = e.db.ExecContext(ctx, res.SQL, args...)
	}

	if err != nil {
		logger.SetErr(err)
		return 0, fmt.Errorf("%w: %w", ErrQueryExecution, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		logger.SetErr(err)
		return 0, fmt.Errorf("%w: %w", ErrQueryExecution, err)
	}

	logger.SetRowsAffected(affected)

	return affected, nil
}

// Query runs a statement and returns its rows. The caller closes them.
func (e *Executor) Query(ctx context.Context, res *render.Result) (*sql.Rows, error) {
	args, err := e.prepare(res)
	if err != nil {
		return nil, err
	}

	logger := NewQueryLogger(ctx, res.Template)
	logger.SetQuery(res.SQL, args)

	rows, err := e.query(ctx, res.SQL, args)
	logger.SetErr(err)
	// no EXPLAIN here: the caller still reads rows on the same connection
	logger.Write(ctx, string(e.dialect), queryTypeOf(res.SQL), nil)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryExecution, err)
	}

	return rows, nil
}

func (e *Executor) query(ctx context.Context, query string, args []any) (*sql.Rows, error) {
	if e.stmts == nil {
		return e.db.QueryContext(ctx, query, args...)
	}

	stmt, release, err := e.stmts.GetOrPrepare(ctx, e.db, query)
	if err != nil {
		return nil, err
	}
	// open rows keep the statement alive after it is closed
	defer release()

	return stmt.QueryContext(ctx, args...)
}

// Fetch runs a statement and reads its rows into memory.
func (e *Executor) Fetch(ctx context.Context, res *render.Result) (*QueryResult, error) {
	args, err := e.prepare(res)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	logger := NewQueryLogger(ctx, res.Template)
	logger.SetQuery(res.SQL, args)

	result, err := e.fetch(ctx, res.SQL, args)
	logger.SetErr(err)

	if result != nil && !IsReadOnlyQuery(res.SQL) {
		logger.SetRowsAffected(int64(result.Count))
	}

	logger.Write(ctx, string(e.dialect), queryTypeOf(res.SQL), e.db)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryExecution, err)
	}

	return result, nil
}

func (e *Executor) fetch(ctx context.Context, query string, args []any) (*QueryResult, error) {
	start := time.Now()

	rows, err := e.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get column names: %w", err)
	}

	result := &QueryResult{SQL: query, Args: args, Columns: columns}

	values := make([]any, len(columns))

	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if e.maxRows > 0 && len(result.Rows) >= e.maxRows {
			result.Truncated = true
			break
		}

		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make([]any, len(columns))
		for i, v := range values {
			row[i] = convertSQLValue(v)
		}

		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	result.Count = len(result.Rows)
	result.Duration = time.Since(start)

	return result, nil
}

// convertSQLValue turns driver bytes into text, and text holding a JSON
// object or array into the decoded value. Drivers differ in whether TEXT
// columns arrive as []byte or string.
func convertSQLValue(v any) any {
	var str string

	switch value := v.(type) {
	case []byte:
		str = string(value)
	case string:
		str = value
	default:
		return v
	}

	trimmed := strings.TrimSpace(str)

	if len(trimmed) >= 2 && ((trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}') || (trimmed[0] == '[' && trimmed[len(trimmed)-1] == ']')) {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
	}

	return str
}

// OpenDatabase opens a connection pool and pings it.
func OpenDatabase(ctx context.Context, driver, dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseConnection, SanitizeError(err))
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s", ErrDatabaseConnection, SanitizeError(err))
	}

	return db, nil
}
