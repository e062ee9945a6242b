package query

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/goccy/go-yaml"
)

func sampleResult() *QueryResult {
	return &QueryResult{
		Columns:  []string{"id", "name"},
		Rows:     [][]any{{int64(1), "John Doe"}, {int64(2), "Jane Smith"}},
		Count:    2,
		Duration: 100 * time.Millisecond,
	}
}

func TestParseOutputFormat(t *testing.T) {
	format, err := ParseOutputFormat(" JSON ")
	assert.NoError(t, err)
	assert.Equal(t, FormatJSON, format)

	_, err = ParseOutputFormat("xml")
	assert.IsError(t, err, ErrInvalidOutputFormat)
}

func TestFormatter_JSON(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, NewFormatter(FormatJSON).Write(&buf, sampleResult()))

	var output map[string]any
	assert.NoError(t, json.Unmarshal(buf.Bytes(), &output))

	assert.Equal[any](t, float64(2), output["count"])
	assert.Equal(t, "100ms", output["duration"])
	assert.Equal(t, false, output["truncated"])
	assert.Equal[any](t, []any{
		map[string]any{"id": float64(1), "name": "John Doe"},
		map[string]any{"id": float64(2), "name": "Jane Smith"},
	}, output["data"])
}

func TestFormatter_YAML(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, NewFormatter(FormatYAML).Write(&buf, sampleResult()))

	var output struct {
		Data  []map[string]any `yaml:"data"`
		Count int              `yaml:"count"`
	}
	assert.NoError(t, yaml.Unmarshal(buf.Bytes(), &output))
	assert.Equal(t, 2, output.Count)
	assert.Equal(t, "Jane Smith", output.Data[1]["name"])
}

func TestFormatter_CSV(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, NewFormatter(FormatCSV).Write(&buf, sampleResult()))
	assert.Equal(t, "id,name\n1,John Doe\n2,Jane Smith\n", buf.String())
}

func TestFormatter_Table(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, NewFormatter(FormatTable).Write(&buf, sampleResult()))
	assert.Equal(t, "id   name\n---  ----\n1    John Doe\n2    Jane Smith\n(2 rows, 100ms)\n", buf.String())

	buf.Reset()
	assert.NoError(t, NewFormatter(FormatTable).Write(&buf, &QueryResult{Columns: []string{"id"}}))
	assert.Equal(t, "No results\n", buf.String())
}

func TestFormatter_Markdown(t *testing.T) {
	result := sampleResult()
	result.Rows = append(result.Rows, []any{int64(3), "a|b"}, []any{int64(4), nil})
	result.Count = 4
	result.Truncated = true

	var buf bytes.Buffer
	assert.NoError(t, NewFormatter(FormatMarkdown).Write(&buf, result))
	assert.Equal(t, "| id | name |\n| --- | --- |\n"+
		"| 1 | John Doe |\n| 2 | Jane Smith |\n| 3 | a\\|b |\n| 4 | NULL |\n"+
		"\n<!-- 4 rows, truncated, Time: 100ms -->\n", buf.String())
}

func TestFormatter_WriteAffected(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, NewFormatter(FormatTable).WriteAffected(&buf, 3))
	assert.Equal(t, "3 rows affected\n", buf.String())

	buf.Reset()
	assert.NoError(t, NewFormatter(FormatJSON).WriteAffected(&buf, 3))
	assert.Equal(t, "{\"rows_affected\":3}\n", buf.String())
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "NULL", formatValue(nil))
	assert.Equal(t, "abc", formatValue([]byte("abc")))
	assert.Equal(t, `{"a":1}`, formatValue(map[string]any{"a": 1}))
	assert.Equal(t, "1.5", formatValue(1.5))
}
