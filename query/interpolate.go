package query

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shibukawa/twowaysql"
	"github.com/shibukawa/twowaysql/render"
	"github.com/shopspring/decimal"
)

// Interpolate replaces the placeholders of a rendered statement with SQL
// literals of the bind values. The output is for reading and logging only;
// never execute it.
func Interpolate(res *render.Result, dialect twowaysql.Dialect) string {
	var b strings.Builder

	sql := res.SQL
	next := 0
	inSingle, inDouble := false, false

	for i := 0; i < len(sql); i++ {
		ch := sql[i]

		if ch == '\'' && !inDouble {
			inSingle = !inSingle
		} else if ch == '"' && !inSingle {
			inDouble = !inDouble
		}

		if inSingle || inDouble {
			b.WriteByte(ch)
			continue
		}

		switch {
		case ch == '?' && !dialect.Positional():
			if next < len(res.Binds) {
				b.WriteString(Literal(res.Binds[next].Value))
				next++

				continue
			}
		case ch == '$' && dialect == twowaysql.DialectPostgres:
			if n, width := ordinalAt(sql[i+1:]); width > 0 && n <= len(res.Binds) {
				b.WriteString(Literal(res.Binds[n-1].Value))
				i += width

				continue
			}
		case ch == '@' && dialect == twowaysql.DialectSQLServer && strings.HasPrefix(sql[i+1:], "p"):
			if n, width := ordinalAt(sql[i+2:]); width > 0 && n <= len(res.Binds) {
				b.WriteString(Literal(res.Binds[n-1].Value))
				i += width + 1

				continue
			}
		}

		b.WriteByte(ch)
	}

	return b.String()
}

func ordinalAt(s string) (int, int) {
	width := 0
	for width < len(s) && s[width] >= '0' && s[width] <= '9' {
		width++
	}

	if width == 0 {
		return 0, 0
	}

	n, err := strconv.Atoi(s[:width])
	if err != nil || n == 0 {
		return 0, 0
	}

	return n, width
}

// Literal formats a bind value as a SQL literal.
func Literal(value any) string {
	value = indirect(value)

	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(v)
	case bool:
		if v {
			return "TRUE"
		}

		return "FALSE"
	case []byte:
		return "X'" + hex.EncodeToString(v) + "'"
	case time.Time:
		return quote(v.Format(time.RFC3339Nano))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v)
	case decimal.Decimal:
		return v.String()
	case fmt.Stringer:
		return quote(v.String())
	}

	if valuer, ok := value.(driver.Valuer); ok {
		if converted, err := valuer.Value(); err == nil {
			return Literal(converted)
		}
	}

	return quote(fmt.Sprint(value))
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
