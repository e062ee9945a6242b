package render

import (
	"strings"
	"unicode"

	"github.com/shibukawa/twowaysql"
)

// Context accumulates SQL text and binds for one render call. A BEGIN block
// renders into a child Context that is spliced into its parent or dropped.
// A Context must not be shared between goroutines.
type Context struct {
	parent *Context
	opts   *Options

	buf   []byte
	binds []twowaysql.Bind
	// base is the number of binds emitted before this context started, so
	// positional placeholders keep their final ordinal.
	base int
	// pendingSpace holds whitespace removed around a dropped or trimmed block.
	// It is restored before the next write unless that write starts with
	// whitespace itself.
	pendingSpace string

	// what the content of this context consists of, for BEGIN decisions
	values      int
	nullBinds   int
	embedded    int
	blockOutput bool
	directives  bool
}

func newContext(opts *Options) *Context {
	return &Context{opts: opts}
}

func (c *Context) child() *Context {
	return &Context{parent: c, opts: c.opts, base: c.base + len(c.binds)}
}

// SQL returns the text rendered so far.
func (c *Context) SQL() string {
	return string(c.buf)
}

// Binds returns the binds collected so far in placeholder order.
func (c *Context) Binds() []twowaysql.Bind {
	return c.binds
}

func (c *Context) write(s string) {
	if s == "" {
		return
	}

	if c.pendingSpace != "" {
		if !startsWithSpace(s) && !strings.HasPrefix(s, ")") && !strings.HasPrefix(s, ",") {
			c.buf = append(c.buf, c.pendingSpace...)
		}

		c.pendingSpace = ""
	}

	c.buf = append(c.buf, s...)
}

func (c *Context) addBind(bind twowaysql.Bind) {
	c.binds = append(c.binds, bind)
	c.write(c.opts.Dialect.Placeholder(c.base + len(c.binds)))
	c.directives = true

	switch {
	case bind.Value != nil:
		c.values++
	default:
		c.nullBinds++
	}
}

// meaningful decides whether a BEGIN body is kept.
func (c *Context) meaningful() bool {
	if c.values > 0 || c.embedded > 0 || c.blockOutput {
		return true
	}

	if c.nullBinds > 0 && c.opts.NullPolicy == twowaysql.NullPolicyBind {
		return true
	}

	if c.directives {
		return false
	}

	_, rest := cutConnector(strings.TrimSpace(string(c.buf)))

	return strings.TrimSpace(rest) != ""
}

// preceding returns the text a fragment at the current position follows,
// looking through enclosing contexts while this one is still empty.
func (c *Context) preceding() string {
	for cur := c; cur != nil; cur = cur.parent {
		if text := strings.TrimRightFunc(string(cur.buf), unicode.IsSpace); text != "" {
			return text
		}
	}

	return ""
}

// splice appends a kept BEGIN body.
func (c *Context) splice(child *Context) {
	body := string(child.buf) + child.pendingSpace

	core := strings.TrimSpace(body)
	if core == "" {
		c.drop()
		return
	}

	leading := body[:strings.Index(body, core)]
	trailing := body[len(leading)+len(core):]

	if stripsConnector(c.preceding(), true) {
		_, core = cutConnector(core)
		core = strings.TrimLeftFunc(core, unicode.IsSpace)
	}

	if len(c.buf) > 0 && c.pendingSpace == "" && !endsWithSpace(string(c.buf)) && !strings.HasSuffix(string(c.buf), "(") {
		c.write(leading)
	}

	c.write(core)
	c.binds = append(c.binds, child.binds...)
	c.pendingSpace = trailing

	c.directives = true
	c.blockOutput = true
}

// drop discards a BEGIN body together with the whitespace before it.
func (c *Context) drop() {
	trimmed := strings.TrimRightFunc(string(c.buf), unicode.IsSpace)
	if removed := string(c.buf[len(trimmed):]); removed != "" {
		c.pendingSpace = removed + c.pendingSpace
		c.buf = c.buf[:len(trimmed)]
	}

	c.directives = true
}

// stripFragment removes a leading AND/OR from text written since start when
// it directly follows WHERE, HAVING, ON or an opening parenthesis.
func (c *Context) stripFragment(start int) {
	fragment := string(c.buf[start:])

	head := strings.TrimLeftFunc(fragment, unicode.IsSpace)
	connector, rest := cutConnector(head)

	if connector == "" {
		return
	}

	before := string(c.buf[:start])

	precedingText := strings.TrimRightFunc(before, unicode.IsSpace)
	if precedingText == "" && c.parent != nil {
		precedingText = c.parent.preceding()
	}

	if !stripsConnector(precedingText, false) {
		return
	}

	rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
	if endsWithSpace(before) || before == "" || strings.HasSuffix(before, "(") {
		c.buf = append(c.buf[:start], rest...)
		return
	}

	c.buf = append(c.buf[:start], fragment[:len(fragment)-len(head)]...)
	c.buf = append(c.buf, rest...)
}

var connectorKeywords = []string{"WHERE", "HAVING", "ON"}

// stripsConnector reports whether a fragment following preceding must not
// start with AND/OR. atStart makes the start of the statement count too.
func stripsConnector(preceding string, atStart bool) bool {
	if preceding == "" {
		return atStart
	}

	if strings.HasSuffix(preceding, "(") {
		return true
	}

	upper := strings.ToUpper(preceding)
	for _, keyword := range connectorKeywords {
		if !strings.HasSuffix(upper, keyword) {
			continue
		}

		boundary := len(upper) - len(keyword) - 1
		if boundary < 0 || !isWordByte(upper[boundary]) {
			return true
		}
	}

	return false
}

// cutConnector splits a leading AND or OR word from text.
func cutConnector(text string) (connector, rest string) {
	for _, keyword := range []string{"AND", "OR"} {
		if len(text) < len(keyword) || !strings.EqualFold(text[:len(keyword)], keyword) {
			continue
		}

		if len(text) == len(keyword) {
			return text, ""
		}

		next := text[len(keyword)]
		if next == '(' || unicode.IsSpace(rune(next)) {
			return text[:len(keyword)], text[len(keyword):]
		}
	}

	return "", text
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func startsWithSpace(s string) bool {
	return s != "" && unicode.IsSpace(rune(s[0]))
}

func endsWithSpace(s string) bool {
	return s != "" && unicode.IsSpace(rune(s[len(s)-1]))
}
