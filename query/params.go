package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shibukawa/twowaysql/parser"
	"gopkg.in/yaml.v3"
)

// ValidateArguments checks that every top-level name tmpl refers to is present
// in args. Loop variables do not count.
func ValidateArguments(tmpl *parser.Template, args map[string]any) error {
	var missing []string

	for _, path := range parser.Variables(tmpl) {
		root, _, _ := strings.Cut(path, ".")
		if _, ok := args[root]; ok || slices.Contains(missing, root) {
			continue
		}

		missing = append(missing, root)
	}

	if len(missing) == 0 {
		return nil
	}

	slices.Sort(missing)

	return fmt.Errorf("%w: %s", ErrMissingRequiredParam, strings.Join(missing, ", "))
}

// LoadParams reads an argument file. .json files are decoded as JSON, anything
// else as YAML.
func LoadParams(path string) (map[string]any, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	params := map[string]any{}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		decoder := json.NewDecoder(bytes.NewReader(content))
		decoder.UseNumber()

		if err := decoder.Decode(&params); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidParams, path, err)
		}

		return normalizeJSON(params).(map[string]any), nil
	}

	if err := yaml.Unmarshal(content, &params); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidParams, path, err)
	}

	return params, nil
}

// normalizeJSON turns json.Number into int64 where possible so integers bind
// as integers.
func normalizeJSON(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeJSON(item)
		}

		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeJSON(item)
		}

		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}

		if f, err := v.Float64(); err == nil {
			return f
		}

		return v.String()
	}

	return value
}

// SetParam applies one key=value assignment. Dotted keys create nested maps
// and the value is read as YAML, so 10 is a number, null is nil and '10' is
// text. An empty value is the empty string.
func SetParam(params map[string]any, assignment string) error {
	key, raw, ok := strings.Cut(assignment, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: expected key=value, got %q", ErrInvalidParams, assignment)
	}

	var value any = raw

	if raw != "" {
		var decoded any
		if err := yaml.Unmarshal([]byte(raw), &decoded); err == nil {
			value = decoded
		}
	}

	parts := strings.Split(strings.TrimSpace(key), ".")
	current := params

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}

		current = next
	}

	current[parts[len(parts)-1]] = value

	return nil
}
