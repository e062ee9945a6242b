package testhelper

import (
	"strings"
	"testing"
	"unicode"
)

// TrimIndent lets tests write multi-line SQL inside indented raw strings.
// The first line is dropped, the indentation of the second line is removed
// from every line and a trailing whitespace-only line is dropped.
func TrimIndent(t *testing.T, src string) string {
	t.Helper()

	lines := strings.Split(src, "\n")
	if len(lines) < 2 {
		return src
	}

	lines = lines[1:]
	if last := lines[len(lines)-1]; strings.TrimSpace(last) == "" {
		lines[len(lines)-1] = ""
	}

	indent := lines[0][:len(lines[0])-len(strings.TrimLeftFunc(lines[0], unicode.IsSpace))]

	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, indent)
	}

	return strings.Join(lines, "\n")
}
