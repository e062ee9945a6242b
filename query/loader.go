package query

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Source is one template found by the Loader.
type Source struct {
	Name string
	Path string
	// Line is where the template text starts in Path, 0 when unknown.
	Line int
	SQL  string
}

// Loader reads template catalogs from .sql, .md and .xml files.
type Loader struct {
	Extensions []string
}

func NewLoader(extensions ...string) *Loader {
	if len(extensions) == 0 {
		extensions = []string{".sql", ".md", ".xml"}
	}

	return &Loader{Extensions: extensions}
}

// LoadDir walks dir and returns every template sorted by name. Names are
// relative to dir, use forward slashes and drop the file extension.
func (l *Loader) LoadDir(dir string) ([]Source, error) {
	var sources []Source

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !slices.Contains(l.Extensions, strings.ToLower(filepath.Ext(path))) {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		found, err := l.LoadFile(path, templateName(rel))
		if err != nil {
			return err
		}

		sources = append(sources, found...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(sources, func(a, b Source) int {
		return strings.Compare(a.Name, b.Name)
	})

	for i := 1; i < len(sources); i++ {
		if sources[i].Name == sources[i-1].Name {
			return nil, fmt.Errorf("%w: %s in %s and %s", ErrDuplicateTemplate, sources[i].Name, sources[i-1].Path, sources[i].Path)
		}
	}

	return sources, nil
}

func templateName(rel string) string {
	return filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel)))
}

// LoadFile reads one file. name prefixes the names of the templates it holds.
func (l *Loader) LoadFile(path, name string) ([]Source, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".sql":
		return []Source{{Name: name, Path: path, Line: 1, SQL: string(content)}}, nil
	case ".md":
		return loadMarkdown(path, name, content), nil
	case ".xml":
		return loadXML(path, name, content)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileFormat, ext)
	}
}

// loadMarkdown takes every ```sql fenced block. A block is named after the
// closest heading above it.
func loadMarkdown(path, name string, content []byte) []Source {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(content))

	var (
		sources []Source
		heading string
		counts  = map[string]int{}
	)

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			heading = slug(headingText(node, content))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			if !strings.EqualFold(string(node.Language(content)), "sql") || node.Lines().Len() == 0 {
				return ast.WalkContinue, nil
			}

			key := heading
			if key == "" {
				key = "sql"
			}

			counts[key]++
			if counts[key] > 1 {
				key = fmt.Sprintf("%s-%d", key, counts[key])
			}

			start := node.Lines().At(0).Start
			sources = append(sources, Source{
				Name: name + "#" + key,
				Path: path,
				Line: bytes.Count(content[:start], []byte("\n")) + 1,
				SQL:  strings.TrimRight(string(node.Lines().Value(content)), "\n"),
			})
		}

		return ast.WalkContinue, nil
	})

	return sources
}

func headingText(n ast.Node, content []byte) string {
	var b strings.Builder

	_ = ast.Walk(n, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := n.(*ast.Text); ok {
				b.Write(t.Segment.Value(content))
			}
		}

		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}

func slug(s string) string {
	var b strings.Builder

	dash := false

	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}

			b.WriteRune(r)
			dash = false

			continue
		}

		dash = true
	}

	return b.String()
}

// loadXML takes every <sql id="..."> element, MyBatis mapper style.
func loadXML(path, name string, content []byte) ([]Source, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(content); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedFileFormat, path, err)
	}

	var sources []Source

	for el := range doc.FindElementsSeq("//sql") {
		id := el.SelectAttrValue("id", "")
		if id == "" {
			return nil, fmt.Errorf("%w: %s: <sql> element without id", ErrUnsupportedFileFormat, path)
		}

		var b strings.Builder

		for _, child := range el.Child {
			if data, ok := child.(*etree.CharData); ok {
				b.WriteString(data.Data)
			}
		}

		sources = append(sources, Source{
			Name: name + "#" + id,
			Path: path,
			SQL:  strings.TrimSpace(b.String()),
		})
	}

	return sources, nil
}
