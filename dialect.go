package twowaysql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnknownDialect = errors.New("unknown dialect")

// Dialect selects the placeholder style of rendered SQL.
type Dialect string

const (
	DialectGeneric   Dialect = "generic"
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
	DialectSQLite    Dialect = "sqlite"
	DialectSQLServer Dialect = "sqlserver"
)

var dialectAliases = map[string]Dialect{
	"":           DialectGeneric,
	"generic":    DialectGeneric,
	"postgres":   DialectPostgres,
	"postgresql": DialectPostgres,
	"pgx":        DialectPostgres,
	"mysql":      DialectMySQL,
	"mariadb":    DialectMySQL,
	"sqlite":     DialectSQLite,
	"sqlite3":    DialectSQLite,
	"sqlserver":  DialectSQLServer,
	"mssql":      DialectSQLServer,
}

// ParseDialect accepts dialect names and common driver names.
func ParseDialect(name string) (Dialect, error) {
	d, ok := dialectAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownDialect, name)
	}

	return d, nil
}

// Placeholder returns the placeholder for the 1-based bind ordinal.
func (d Dialect) Placeholder(ordinal int) string {
	switch d {
	case DialectPostgres:
		return "$" + strconv.Itoa(ordinal)
	case DialectSQLServer:
		return "@p" + strconv.Itoa(ordinal)
	default:
		return "?"
	}
}

// Positional reports whether placeholders carry their ordinal.
func (d Dialect) Positional() bool {
	return d == DialectPostgres || d == DialectSQLServer
}
