package twowaysql

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BindType tags a bind value with the column type it is bound as.
type BindType int

const (
	BindOther BindType = iota
	BindNull
	BindVarchar
	BindChar
	BindSmallint
	BindInteger
	BindBigint
	BindDecimal
	BindReal
	BindDouble
	BindBoolean
	BindDate
	BindTime
	BindTimestamp
	BindVarbinary
	BindUUID
)

var bindTypeNames = map[BindType]string{
	BindOther:     "OTHER",
	BindNull:      "NULL",
	BindVarchar:   "VARCHAR",
	BindChar:      "CHAR",
	BindSmallint:  "SMALLINT",
	BindInteger:   "INTEGER",
	BindBigint:    "BIGINT",
	BindDecimal:   "DECIMAL",
	BindReal:      "REAL",
	BindDouble:    "DOUBLE",
	BindBoolean:   "BOOLEAN",
	BindDate:      "DATE",
	BindTime:      "TIME",
	BindTimestamp: "TIMESTAMP",
	BindVarbinary: "VARBINARY",
	BindUUID:      "UUID",
}

// hint spellings accepted in /*path:TYPE*/ besides the canonical names
var bindTypeAliases = map[string]BindType{
	"TEXT":        BindVarchar,
	"STRING":      BindVarchar,
	"INT":         BindInteger,
	"NUMERIC":     BindDecimal,
	"FLOAT":       BindDouble,
	"BOOL":        BindBoolean,
	"DATETIME":    BindTimestamp,
	"TIMESTAMPTZ": BindTimestamp,
	"BINARY":      BindVarbinary,
	"BLOB":        BindVarbinary,
	"BYTES":       BindVarbinary,
	"BYTEA":       BindVarbinary,
}

func (t BindType) String() string {
	if name, ok := bindTypeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("BindType(%d)", int(t))
}

// MarshalText lets bind lists print as type names in JSON and YAML output.
func (t BindType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseBindType resolves a type hint. Matching is case-insensitive.
func ParseBindType(name string) (BindType, error) {
	// Casers carry state, so one is built per call.
	key := cases.Upper(language.Und).String(strings.TrimSpace(name))

	for t, n := range bindTypeNames {
		if n == key {
			return t, nil
		}
	}

	if t, ok := bindTypeAliases[key]; ok {
		return t, nil
	}

	return BindOther, fmt.Errorf("%w: %s", ErrUnknownBindType, name)
}

// Bind is one entry of the ordered bind list.
type Bind struct {
	Value any      `json:"value" yaml:"value"`
	Type  BindType `json:"type" yaml:"type"`
	Path  string   `json:"path,omitempty" yaml:"path,omitempty"`
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	valuerType  = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	bytesType   = reflect.TypeOf([]byte(nil))
	uuidType    = reflect.TypeOf(uuid.UUID{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
)

// InferBindType picks a bind type from the runtime type of value.
// A typed nil pointer is inferred from its element type.
func InferBindType(value any) BindType {
	switch value.(type) {
	case nil:
		return BindNull
	case string:
		return BindVarchar
	case bool:
		return BindBoolean
	case int8, int16, uint8:
		return BindSmallint
	case int, int32, uint16:
		return BindInteger
	case int64, uint, uint32, uint64:
		return BindBigint
	case float32:
		return BindReal
	case float64:
		return BindDouble
	case decimal.Decimal, decimal.NullDecimal, *big.Int, *big.Rat, *big.Float:
		return BindDecimal
	case time.Time, sql.NullTime:
		return BindTimestamp
	case []byte:
		return BindVarbinary
	case uuid.UUID, uuid.NullUUID:
		return BindUUID
	case sql.NullString:
		return BindVarchar
	case sql.NullInt16:
		return BindSmallint
	case sql.NullInt32:
		return BindInteger
	case sql.NullInt64:
		return BindBigint
	case sql.NullFloat64:
		return BindDouble
	case sql.NullBool:
		return BindBoolean
	}

	return inferFromType(reflect.TypeOf(value))
}

func inferFromType(t reflect.Type) BindType {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t {
	case timeType:
		return BindTimestamp
	case bytesType:
		return BindVarbinary
	case uuidType:
		return BindUUID
	case decimalType:
		return BindDecimal
	}

	if t.Implements(valuerType) || reflect.PointerTo(t).Implements(valuerType) {
		return BindOther
	}

	switch t.Kind() {
	case reflect.String:
		return BindVarchar
	case reflect.Bool:
		return BindBoolean
	case reflect.Int8, reflect.Int16, reflect.Uint8:
		return BindSmallint
	case reflect.Int, reflect.Int32, reflect.Uint16:
		return BindInteger
	case reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return BindBigint
	case reflect.Float32:
		return BindReal
	case reflect.Float64:
		return BindDouble
	default:
		return BindOther
	}
}
