package explang

import (
	"database/sql/driver"
	"reflect"
	"time"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/shopspring/decimal"
)

// Truthy converts arbitrary values to the boolean used for IF conditions.
// nil, false, zero numbers, empty strings, zero times and empty collections
// are false.
func Truthy(value any) bool {
	if value == nil {
		return false
	}

	switch v := value.(type) {
	case bool:
		return v
	case *bool:
		return v != nil && *v
	case int:
		return v != 0
	case int8:
		return v != 0
	case int16:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case uint:
		return v != 0
	case uint8:
		return v != 0
	case uint16:
		return v != 0
	case uint32:
		return v != 0
	case uint64:
		return v != 0
	case float32:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	case *string:
		return v != nil && *v != ""
	case time.Time:
		return !v.IsZero()
	case *time.Time:
		return v != nil && !v.IsZero()
	case decimal.Decimal:
		return decimalTruthy(v)
	case *decimal.Decimal:
		return v != nil && decimalTruthy(*v)
	case decimal.NullDecimal:
		return v.Valid && decimalTruthy(v.Decimal)
	case types.Bool:
		return bool(v)
	case types.Int:
		return v != 0
	case types.Uint:
		return v != 0
	case types.Double:
		return v != 0
	case types.String:
		return string(v) != ""
	case types.Null, types.Unknown:
		return false
	case ref.Val:
		return Truthy(fromCEL(v))
	case driver.Valuer:
		inner, err := v.Value()
		if err != nil || inner == nil {
			return false
		}

		return Truthy(inner)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}

		return Truthy(rv.Elem().Interface())
	case reflect.Array, reflect.Slice, reflect.Map, reflect.Chan:
		return rv.Len() > 0
	case reflect.String:
		return rv.Len() > 0
	}

	return !rv.IsZero()
}

func decimalTruthy(d decimal.Decimal) bool {
	return !d.IsZero()
}
