package query

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-yaml"
)

// OutputFormat represents the supported output formats
type OutputFormat string

const (
	FormatTable    OutputFormat = "table"
	FormatJSON     OutputFormat = "json"
	FormatCSV      OutputFormat = "csv"
	FormatYAML     OutputFormat = "yaml"
	FormatMarkdown OutputFormat = "markdown"
)

// ParseOutputFormat validates a format name.
func ParseOutputFormat(name string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(name)))
	switch f {
	case FormatTable, FormatJSON, FormatCSV, FormatYAML, FormatMarkdown:
		return f, nil
	}

	return "", fmt.Errorf("%w: %s", ErrInvalidOutputFormat, name)
}

// Formatter writes query results.
type Formatter struct {
	Format OutputFormat
}

func NewFormatter(format OutputFormat) *Formatter {
	return &Formatter{Format: format}
}

func (f *Formatter) Write(w io.Writer, result *QueryResult) error {
	switch f.Format {
	case FormatTable:
		return writeTable(w, result)
	case FormatMarkdown:
		return writeMarkdown(w, result)
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		return encoder.Encode(document(result))
	case FormatYAML:
		data, err := yaml.Marshal(document(result))
		if err != nil {
			return fmt.Errorf("failed to marshal results to YAML: %w", err)
		}

		_, err = w.Write(data)

		return err
	case FormatCSV:
		return writeCSV(w, result)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidOutputFormat, f.Format)
	}
}

// WriteAffected reports the outcome of a statement without rows.
func (f *Formatter) WriteAffected(w io.Writer, affected int64) error {
	switch f.Format {
	case FormatJSON:
		return json.NewEncoder(w).Encode(map[string]any{"rows_affected": affected})
	case FormatYAML:
		data, err := yaml.Marshal(map[string]any{"rows_affected": affected})
		if err != nil {
			return err
		}

		_, err = w.Write(data)

		return err
	default:
		_, err := fmt.Fprintf(w, "%d rows affected\n", affected)
		return err
	}
}

func document(result *QueryResult) map[string]any {
	return map[string]any{
		"data":      rowsToMaps(result.Columns, result.Rows),
		"count":     result.Count,
		"duration":  result.Duration.String(),
		"truncated": result.Truncated,
	}
}

func writeTable(w io.Writer, result *QueryResult) error {
	if len(result.Rows) == 0 {
		_, err := fmt.Fprintln(w, "No results")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(result.Columns, "\t"))

	rules := make([]string, len(result.Columns))
	for i, col := range result.Columns {
		rules[i] = strings.Repeat("-", max(len(col), 3))
	}

	fmt.Fprintln(tw, strings.Join(rules, "\t"))

	for _, row := range result.Rows {
		fmt.Fprintln(tw, strings.Join(formatRow(row), "\t"))
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "(%d rows%s, %v)\n", result.Count, truncatedNote(result), result.Duration)

	return err
}

func writeMarkdown(w io.Writer, result *QueryResult) error {
	if len(result.Columns) == 0 {
		_, err := fmt.Fprintln(w, "No results")
		return err
	}

	var b strings.Builder

	b.WriteString("| " + strings.Join(result.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(result.Columns)) + "\n")

	for _, row := range result.Rows {
		cells := formatRow(row)
		for i, cell := range cells {
			cells[i] = strings.ReplaceAll(cell, "|", `\|`)
		}

		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	fmt.Fprintf(&b, "\n<!-- %d rows%s, Time: %v -->\n", result.Count, truncatedNote(result), result.Duration)

	_, err := io.WriteString(w, b.String())

	return err
}

func writeCSV(w io.Writer, result *QueryResult) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(result.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range result.Rows {
		if err := writer.Write(formatRow(row)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()

	return writer.Error()
}

func truncatedNote(result *QueryResult) string {
	if result.Truncated {
		return ", truncated"
	}

	return ""
}

func rowsToMaps(columns []string, rows [][]any) []map[string]any {
	result := make([]map[string]any, 0, len(rows))

	for _, row := range rows {
		m := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}

		result = append(result, m)
	}

	return result
}

func formatRow(row []any) []string {
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = formatValue(v)
	}

	return cells
}

func formatValue(val any) string {
	switch v := val.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case []byte:
		return string(v)
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}
