package query

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/render"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	insertStaff = "INSERT INTO staff (name, dept, salary, hired) VALUES\n" +
		"/*FOR s IN staff*//*NEXT ', '*/(/*s.name*/'x', /*s.dept*/1, /*s.salary:DECIMAL*/1.0, /*s.hired:DATE*/'2000-01-01')/*END*/"

	searchStaff = "SELECT COUNT(*) FROM staff\n" +
		"/*BEGIN*/WHERE /*IF dept != null*/dept IN /*dept*/(1)/*END*/" +
		"/*IF since != null*/ AND hired >= /*since:DATE*/'2000-01-01'/*END*/" +
		"/*IF min != null*/ AND salary >= /*min:DECIMAL*/0/*END*/\n/*END*/"
)

var staffRows = []map[string]any{
	{"name": "Alice", "dept": 10, "salary": decimal.RequireFromString("5100.50"), "hired": "2020-04-01"},
	{"name": "Bob", "dept": 20, "salary": decimal.RequireFromString("4200.00"), "hired": "2022-10-01"},
	{"name": "Carol", "dept": 10, "salary": decimal.RequireFromString("6100.25"), "hired": time.Date(2023, 1, 16, 9, 0, 0, 0, time.UTC)},
}

func exerciseDatabase(t *testing.T, db *sql.DB, dialect twowaysql.Dialect) {
	t.Helper()

	ctx := context.Background()
	engine := NewEngine(WithRenderOptions(render.WithDialect(dialect)))
	assert.NoError(t, engine.Register("staff/insert", insertStaff))
	assert.NoError(t, engine.Register("staff/search", searchStaff))

	cache, err := NewStatementCache(8)
	assert.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	exec := NewExecutor(db, WithDialect(dialect), WithStatementCache(cache), WithTimeout(30*time.Second))

	res, err := engine.Render("staff/insert", map[string]any{"staff": staffRows})
	assert.NoError(t, err)

	affected, err := exec.Exec(ctx, res)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	count := func(args map[string]any) int {
		res, err := engine.Render("staff/search", args)
		assert.NoError(t, err)

		rows, err := exec.Query(ctx, res)
		assert.NoError(t, err)

		defer rows.Close()

		var n int

		assert.True(t, rows.Next())
		assert.NoError(t, rows.Scan(&n))

		return n
	}

	assert.Equal(t, 3, count(map[string]any{"dept": nil, "since": nil, "min": nil}))
	assert.Equal(t, 2, count(map[string]any{"dept": []int{10}, "since": nil, "min": nil}))
	assert.Equal(t, 2, count(map[string]any{"dept": nil, "since": "2021-01-01", "min": nil}))
	assert.Equal(t, 1, count(map[string]any{"dept": []int{10, 30}, "since": nil, "min": "6000"}))

	res, err = engine.RenderSQL("staff/delete", "DELETE FROM staff /*BEGIN*/WHERE /*IF name != null*/name = /*name*/'x'/*END*//*END*/",
		map[string]any{"name": nil})
	assert.NoError(t, err)

	_, err = exec.Exec(ctx, res)
	assert.IsError(t, err, ErrDangerousQuery)
}

func TestPostgreSQLIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := t.Context()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		postgres.BasicWaitStrategies(),
	)
	assert.NoError(t, err)

	defer func() {
		assert.NoError(t, container.Terminate(context.Background()))
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	assert.NoError(t, err)

	db, err := OpenDatabase(ctx, "pgx", connStr, 10*time.Second)
	assert.NoError(t, err)

	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE staff (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		dept INTEGER NOT NULL,
		salary NUMERIC(10, 2) NOT NULL,
		hired DATE NOT NULL,
		token UUID
	)`)
	assert.NoError(t, err)

	exerciseDatabase(t, db, twowaysql.DialectPostgres)

	t.Run("uuid", func(t *testing.T) {
		token := uuid.New()

		res, err := NewEngine().RenderSQL("staff/token", "UPDATE staff SET token = /*token:UUID*/'00000000-0000-0000-0000-000000000000' WHERE name = /*name*/'x'",
			map[string]any{"token": token, "name": "Bob"}, render.WithDialect(twowaysql.DialectPostgres))
		assert.NoError(t, err)

		affected, err := NewExecutor(db).Exec(ctx, res)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), affected)

		var name string
		assert.NoError(t, db.QueryRowContext(ctx, "SELECT name FROM staff WHERE token = $1", token.String()).Scan(&name))
		assert.Equal(t, "Bob", name)
	})
}

func TestMySQLIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := t.Context()

	container, err := mysql.Run(ctx,
		"mysql:8.4",
		mysql.WithDatabase("testdb"),
		mysql.WithUsername("testuser"),
		mysql.WithPassword("testpass"),
	)
	assert.NoError(t, err)

	defer func() {
		assert.NoError(t, container.Terminate(context.Background()))
	}()

	connStr, err := container.ConnectionString(ctx, "parseTime=true")
	assert.NoError(t, err)

	db, err := OpenDatabase(ctx, "mysql", connStr, 30*time.Second)
	assert.NoError(t, err)

	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE staff (
		id INT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		dept INT NOT NULL,
		salary DECIMAL(10, 2) NOT NULL,
		hired DATE NOT NULL
	)`)
	assert.NoError(t, err)

	exerciseDatabase(t, db, twowaysql.DialectMySQL)
}
