package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shibukawa/twowaysql/query"
	"go.uber.org/zap"
)

// helper to write a file
func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()

	p := filepath.Join(dir, filepath.FromSlash(name))
	assert.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	assert.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return p
}

type testContext struct {
	*Context
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestContext(t *testing.T, dir, config string) testContext {
	t.Helper()

	path := filepath.Join(dir, "twowaysql.yaml")
	if config != "" {
		writeTemp(t, dir, "twowaysql.yaml", config)
	}

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	return testContext{
		Context: &Context{Config: path, Stdout: stdout, Stderr: stderr, Logger: zap.NewNop()},
		stdout:  stdout,
		stderr:  stderr,
	}
}

const employeeTemplate = "SELECT * FROM employee WHERE dept = /*dept*/10 /*BEGIN*/AND name = /*name*/'x'/*END*/"

func TestRenderCmd(t *testing.T) {
	dir := t.TempDir()
	tmpl := writeTemp(t, dir, "employee.sql", employeeTemplate)

	t.Run("text", func(t *testing.T) {
		ctx := newTestContext(t, dir, "")
		cmd := &RenderCmd{Template: tmpl, Param: []string{"dept=10", "name=null"}, Dialect: "postgres", Format: "text"}

		assert.NoError(t, cmd.Run(ctx.Context))
		assert.Equal(t, "SELECT * FROM employee WHERE dept = $1\n\n-- binds\n-- 1: dept = 10 (INTEGER)\n", ctx.stdout.String())
	})

	t.Run("json", func(t *testing.T) {
		ctx := newTestContext(t, dir, "")
		cmd := &RenderCmd{Template: tmpl, Param: []string{"dept=10", "name=Alice"}, Format: "json"}

		assert.NoError(t, cmd.Run(ctx.Context))

		var out struct {
			Template string `json:"template"`
			SQL      string `json:"sql"`
			Binds    []struct {
				Value any    `json:"value"`
				Type  string `json:"type"`
				Path  string `json:"path"`
			} `json:"binds"`
		}
		assert.NoError(t, json.Unmarshal(ctx.stdout.Bytes(), &out))
		assert.Equal(t, "employee", out.Template)
		assert.Equal(t, "SELECT * FROM employee WHERE dept = ? AND name = ?", out.SQL)
		assert.Equal(t, 2, len(out.Binds))
		assert.Equal(t, "VARCHAR", out.Binds[1].Type)
		assert.Equal(t, "name", out.Binds[1].Path)
	})

	t.Run("inline", func(t *testing.T) {
		ctx := newTestContext(t, dir, "")
		cmd := &RenderCmd{Template: tmpl, Param: []string{"dept=10", "name=O'Brien"}, Dialect: "mysql", Inline: true}

		assert.NoError(t, cmd.Run(ctx.Context))
		assert.Equal(t, "SELECT * FROM employee WHERE dept = 10 AND name = 'O''Brien'\n", ctx.stdout.String())
	})

	t.Run("params file", func(t *testing.T) {
		ctx := newTestContext(t, dir, "")
		params := writeTemp(t, dir, "params.yaml", "dept: 20\nname: null\n")
		cmd := &RenderCmd{Template: tmpl, ParamsFile: params, Param: []string{"dept=30"}, Inline: true}

		assert.NoError(t, cmd.Run(ctx.Context))
		assert.Equal(t, "SELECT * FROM employee WHERE dept = 30\n", ctx.stdout.String())
	})

	t.Run("missing argument", func(t *testing.T) {
		ctx := newTestContext(t, dir, "")
		cmd := &RenderCmd{Template: tmpl, Param: []string{"dept=10"}}

		err := cmd.Run(ctx.Context)
		assert.IsError(t, err, query.ErrMissingRequiredParam)
		assert.Contains(t, err.Error(), "name")
	})

	t.Run("output file", func(t *testing.T) {
		ctx := newTestContext(t, dir, "")
		out := filepath.Join(dir, "out.sql")
		cmd := &RenderCmd{Template: tmpl, Param: []string{"dept=1", "name=null"}, Inline: true, OutputFile: out}

		assert.NoError(t, cmd.Run(ctx.Context))

		content, err := os.ReadFile(out)
		assert.NoError(t, err)
		assert.Equal(t, "SELECT * FROM employee WHERE dept = 1\n", string(content))
		assert.Equal(t, "", ctx.stdout.String())
	})
}

func TestRenderCmd_Catalog(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "sql/employee/find.sql", employeeTemplate)
	guide := writeTemp(t, dir, "sql/guide.md", "# Guide\n\n## Count\n\n```sql\nSELECT COUNT(*) FROM employee\n```\n\n## All\n\n```sql\nSELECT * FROM employee\n```\n")

	config := "dialect: sqlite\ntemplates:\n  dir: " + filepath.ToSlash(filepath.Join(dir, "sql")) + "\n"

	t.Run("by name", func(t *testing.T) {
		ctx := newTestContext(t, dir, config)
		cmd := &RenderCmd{Template: "employee/find", Param: []string{"dept=1", "name=null"}, Inline: true}

		assert.NoError(t, cmd.Run(ctx.Context))
		assert.Equal(t, "SELECT * FROM employee WHERE dept = 1\n", ctx.stdout.String())
	})

	t.Run("markdown fragment", func(t *testing.T) {
		ctx := newTestContext(t, dir, config)
		cmd := &RenderCmd{Template: guide + "#count", Format: "text"}

		assert.NoError(t, cmd.Run(ctx.Context))
		assert.Equal(t, "SELECT COUNT(*) FROM employee\n", ctx.stdout.String())
	})

	t.Run("ambiguous file", func(t *testing.T) {
		ctx := newTestContext(t, dir, config)
		cmd := &RenderCmd{Template: guide, Format: "text"}

		assert.IsError(t, cmd.Run(ctx.Context), ErrAmbiguousTemplate)
	})

	t.Run("unknown name", func(t *testing.T) {
		ctx := newTestContext(t, dir, config)
		cmd := &RenderCmd{Template: "employee/nope", Format: "text"}

		assert.IsError(t, cmd.Run(ctx.Context), query.ErrTemplateNotFound)
	})
}

func TestCheckCmd(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "ok.sql", employeeTemplate)
	writeTemp(t, dir, "more.md", "## Fine\n\n```sql\nSELECT 1\n```\n")

	ctx := newTestContext(t, dir, "")
	assert.NoError(t, (&CheckCmd{Paths: []string{dir}}).Run(ctx.Context))
	assert.Equal(t, "2 templates OK\n", ctx.stdout.String())

	writeTemp(t, dir, "broken.md", "# Broken\n\ntext\n\n```sql\nSELECT *\nFROM t /*IF x*/WHERE a = 1\n```\n")

	ctx = newTestContext(t, dir, "")
	err := (&CheckCmd{Paths: []string{dir}}).Run(ctx.Context)
	assert.IsError(t, err, ErrCheckFailed)
	assert.Contains(t, err.Error(), "1 of 3 templates")
	assert.Contains(t, ctx.stderr.String(), "broken.md:7:")
	assert.Contains(t, ctx.stderr.String(), "unmatched block")
	assert.Contains(t, ctx.stderr.String(), "(broken#broken)")
}

func setupSQLite(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "app.db")

	db, err := sql.Open("sqlite3", path)
	assert.NoError(t, err)

	defer db.Close()

	_, err = db.Exec(`CREATE TABLE employee (id INTEGER PRIMARY KEY, name TEXT NOT NULL, dept INTEGER);
		INSERT INTO employee (id, name, dept) VALUES (1, 'Alice', 10), (2, 'Bob', 20), (3, 'Carol', 10);`)
	assert.NoError(t, err)

	return path
}

func TestQueryCmd(t *testing.T) {
	dir := t.TempDir()
	dbPath := setupSQLite(t, dir)
	config := "databases:\n  development:\n    driver: sqlite3\n    connection: " + filepath.ToSlash(dbPath) + "\n"

	selectTmpl := writeTemp(t, dir, "select.sql", "SELECT id, name FROM employee /*BEGIN*/WHERE /*IF dept != null*/dept = /*dept*/10/*END*//*END*/ ORDER BY id")
	updateTmpl := writeTemp(t, dir, "update.sql", "UPDATE employee SET dept = /*to*/0 /*BEGIN*/WHERE /*IF id != null*/id = /*id*/1/*END*//*END*/")

	t.Run("select csv", func(t *testing.T) {
		ctx := newTestContext(t, dir, config)
		cmd := &QueryCmd{Template: selectTmpl, Param: []string{"dept=10"}, Format: "csv"}

		assert.NoError(t, cmd.Run(ctx.Context))
		assert.Equal(t, "id,name\n1,Alice\n3,Carol\n", ctx.stdout.String())
	})

	t.Run("max rows", func(t *testing.T) {
		ctx := newTestContext(t, dir, config)
		cmd := &QueryCmd{Template: selectTmpl, Param: []string{"dept=null"}, Format: "json", MaxRows: 2}

		assert.NoError(t, cmd.Run(ctx.Context))

		var out map[string]any
		assert.NoError(t, json.Unmarshal(ctx.stdout.Bytes(), &out))
		assert.Equal[any](t, float64(2), out["count"])
		assert.Equal(t, true, out["truncated"])
	})

	t.Run("update", func(t *testing.T) {
		ctx := newTestContext(t, dir, config)
		cmd := &QueryCmd{Template: updateTmpl, Param: []string{"to=30", "id=2"}, Format: "table"}

		assert.NoError(t, cmd.Run(ctx.Context))
		assert.Equal(t, "1 rows affected\n", ctx.stdout.String())
	})

	t.Run("dangerous update refused", func(t *testing.T) {
		ctx := newTestContext(t, dir, config)
		cmd := &QueryCmd{Template: updateTmpl, Param: []string{"to=30", "id=null"}}

		assert.IsError(t, cmd.Run(ctx.Context), query.ErrDangerousQuery)
		assert.Contains(t, ctx.stderr.String(), "--execute-dangerous-query")
	})

	t.Run("dry run", func(t *testing.T) {
		ctx := newTestContext(t, dir, config)
		cmd := &QueryCmd{Template: updateTmpl, Param: []string{"to=30", "id=null"}, DryRun: true}

		assert.NoError(t, cmd.Run(ctx.Context))
		assert.Contains(t, ctx.stdout.String(), "Generated SQL:\nUPDATE employee SET dept = ?\n")
		assert.Contains(t, ctx.stdout.String(), "  ?: 30 (INTEGER)")
		assert.Contains(t, ctx.stdout.String(), "WARNING")
	})

	t.Run("direct connection", func(t *testing.T) {
		ctx := newTestContext(t, dir, "")
		cmd := &QueryCmd{Template: selectTmpl, Param: []string{"dept=10"}, DBConnection: "sqlite://" + dbPath, Format: "csv"}

		assert.NoError(t, cmd.Run(ctx.Context))
		assert.Equal(t, "id,name\n1,Alice\n3,Carol\n", ctx.stdout.String())
	})

	t.Run("unknown environment", func(t *testing.T) {
		ctx := newTestContext(t, dir, config)
		cmd := &QueryCmd{Template: selectTmpl, Environment: "production"}

		assert.IsError(t, cmd.Run(ctx.Context), ErrEnvironmentNotFound)
	})

	t.Run("invalid format", func(t *testing.T) {
		ctx := newTestContext(t, dir, config)
		cmd := &QueryCmd{Template: selectTmpl, Format: "xml"}

		assert.IsError(t, cmd.Run(ctx.Context), query.ErrInvalidOutputFormat)
	})
}

func TestDetermineDriver(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost/db":   "pgx",
		"postgresql://localhost/db":     "pgx",
		"mysql://u:p@tcp(localhost)/db": "mysql",
		"u:p@tcp(localhost:3306)/db":    "mysql",
		"sqlite://data.db":              "sqlite3",
		"file:test.db?cache=shared":     "sqlite3",
		":memory:":                      "sqlite3",
		"host=localhost dbname=app":     "pgx",
	}

	for dsn, want := range tests {
		t.Run(dsn, func(t *testing.T) {
			assert.Equal(t, want, determineDriver(dsn))
		})
	}
}

func TestVersionCmd(t *testing.T) {
	ctx := newTestContext(t, t.TempDir(), "")
	assert.NoError(t, (&VersionCmd{}).Run(ctx.Context))
	assert.Equal(t, "twowaysql dev\n", ctx.stdout.String())
}
