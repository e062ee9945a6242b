package query

import (
	"database/sql/driver"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shibukawa/twowaysql"
	"github.com/shopspring/decimal"
)

type bindFunc func(value any) (any, error)

// Binder converts a bind list into driver arguments according to each
// bind's type tag.
type Binder struct {
	funcs map[twowaysql.BindType]bindFunc
	// Location is used for DATE binds built from strings.
	Location *time.Location
}

func NewBinder() *Binder {
	b := &Binder{Location: time.UTC}
	b.funcs = map[twowaysql.BindType]bindFunc{
		twowaysql.BindVarchar:   bindString,
		twowaysql.BindChar:      bindString,
		twowaysql.BindSmallint:  bindInt,
		twowaysql.BindInteger:   bindInt,
		twowaysql.BindBigint:    bindInt,
		twowaysql.BindDecimal:   bindDecimal,
		twowaysql.BindReal:      bindFloat,
		twowaysql.BindDouble:    bindFloat,
		twowaysql.BindBoolean:   bindBool,
		twowaysql.BindDate:      b.bindDate,
		twowaysql.BindTime:      bindTime,
		twowaysql.BindTimestamp: bindTimestamp,
		twowaysql.BindVarbinary: bindBytes,
		twowaysql.BindUUID:      bindUUID,
		twowaysql.BindNull:      func(any) (any, error) { return nil, nil },
	}

	return b
}

// Args converts every bind. The error names the failing bind's path.
func (b *Binder) Args(binds []twowaysql.Bind) ([]any, error) {
	args := make([]any, len(binds))

	for i, bind := range binds {
		arg, err := b.Convert(bind)
		if err != nil {
			return nil, fmt.Errorf("bind %d (%s): %w", i+1, bind.Path, err)
		}

		args[i] = arg
	}

	return args, nil
}

// Convert converts one bind value. nil always binds as NULL and OTHER passes
// the value through untouched.
func (b *Binder) Convert(bind twowaysql.Bind) (any, error) {
	value := indirect(bind.Value)
	if value == nil {
		return nil, nil
	}

	fn, ok := b.funcs[bind.Type]
	if !ok {
		return value, nil
	}

	return fn(value)
}

func indirect(value any) any {
	switch value.(type) {
	case nil:
		return nil
	case *big.Int, *big.Rat, *big.Float:
		if reflect.ValueOf(value).IsNil() {
			return nil
		}

		return value
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}

		rv = rv.Elem()
	}

	return rv.Interface()
}

// unwrapValuer replaces driver.Valuer implementations such as sql.NullString
// with the value they produce.
func unwrapValuer(value any) (any, error) {
	valuer, ok := value.(driver.Valuer)
	if !ok {
		return value, nil
	}

	return valuer.Value()
}

func unsupported(value any, as string) error {
	return fmt.Errorf("%w: %T as %s", twowaysql.ErrUnsupportedBindType, value, as)
}

func bindString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case decimal.Decimal:
		return v.String(), nil
	case uuid.UUID:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	}

	value, err := unwrapValuer(value)
	if err != nil || value == nil {
		return nil, err
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(value), nil
	}

	return nil, unsupported(value, "VARCHAR")
}

func bindInt(value any) (any, error) {
	if d, ok := value.(decimal.Decimal); ok {
		if !d.Equal(d.Truncate(0)) {
			return nil, unsupported(value, "INTEGER")
		}

		if !d.BigInt().IsInt64() {
			return nil, fmt.Errorf("%w: %s overflows int64", twowaysql.ErrUnsupportedBindType, d)
		}

		return d.IntPart(), nil
	}

	value, err := unwrapValuer(value)
	if err != nil || value == nil {
		return nil, err
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", twowaysql.ErrUnsupportedBindType, u)
		}

		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) {
			return nil, unsupported(value, "INTEGER")
		}
		// 2^63 is exact in float64; MaxInt64 is not.
		if f < -(1<<63) || f >= 1<<63 {
			return nil, fmt.Errorf("%w: %g overflows int64", twowaysql.ErrUnsupportedBindType, f)
		}

		return int64(f), nil
	case reflect.String:
		n, err := strconv.ParseInt(strings.TrimSpace(rv.String()), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", twowaysql.ErrUnsupportedBindType, err)
		}

		return n, nil
	}

	return nil, unsupported(value, "INTEGER")
}

// bindDecimal sends decimals as text so no driver rounds them through float64.
func bindDecimal(value any) (any, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v.String(), nil
	case decimal.NullDecimal:
		if !v.Valid {
			return nil, nil
		}

		return v.Decimal.String(), nil
	case *big.Int:
		return v.String(), nil
	case *big.Rat:
		return decimal.NewFromBigRat(v, 18).String(), nil
	case *big.Float:
		return v.Text('f', -1), nil
	}

	value, err := unwrapValuer(value)
	if err != nil || value == nil {
		return nil, err
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decimal.NewFromInt(rv.Int()).String(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return decimal.NewFromUint64(rv.Uint()).String(), nil
	case reflect.Float32, reflect.Float64:
		return decimal.NewFromFloat(rv.Float()).String(), nil
	case reflect.String:
		d, err := decimal.NewFromString(strings.TrimSpace(rv.String()))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", twowaysql.ErrUnsupportedBindType, err)
		}

		return d.String(), nil
	}

	return nil, unsupported(value, "DECIMAL")
}

func bindFloat(value any) (any, error) {
	if d, ok := value.(decimal.Decimal); ok {
		return d.InexactFloat64(), nil
	}

	value, err := unwrapValuer(value)
	if err != nil || value == nil {
		return nil, err
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(rv.String()), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", twowaysql.ErrUnsupportedBindType, err)
		}

		return f, nil
	}

	return nil, unsupported(value, "DOUBLE")
}

func bindBool(value any) (any, error) {
	value, err := unwrapValuer(value)
	if err != nil || value == nil {
		return nil, err
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch rv.Int() {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	case reflect.String:
		b, err := strconv.ParseBool(strings.TrimSpace(rv.String()))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", twowaysql.ErrUnsupportedBindType, err)
		}

		return b, nil
	}

	return nil, unsupported(value, "BOOLEAN")
}

func toTime(value any, layouts ...string) (time.Time, bool, error) {
	value, err := unwrapValuer(value)
	if err != nil || value == nil {
		return time.Time{}, false, err
	}

	switch v := value.(type) {
	case time.Time:
		return v, true, nil
	case string:
		for _, layout := range layouts {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t, true, nil
			}
		}

		return time.Time{}, false, fmt.Errorf("%w: cannot parse %q as time", twowaysql.ErrUnsupportedBindType, v)
	}

	return time.Time{}, false, unsupported(value, "TIMESTAMP")
}

func (b *Binder) bindDate(value any) (any, error) {
	t, ok, err := toTime(value, time.DateOnly, time.RFC3339Nano, time.DateTime)
	if !ok {
		return nil, err
	}

	loc := t.Location()
	if _, isString := value.(string); isString && b.Location != nil {
		loc = b.Location
	}

	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}

func bindTime(value any) (any, error) {
	t, ok, err := toTime(value, time.TimeOnly, "15:04", time.RFC3339Nano)
	if !ok {
		return nil, err
	}

	return t.Format(time.TimeOnly), nil
}

func bindTimestamp(value any) (any, error) {
	t, ok, err := toTime(value, time.RFC3339Nano, time.DateTime, time.DateOnly)
	if !ok {
		return nil, err
	}

	return t, nil
}

func bindBytes(value any) (any, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case uuid.UUID:
		return v[:], nil
	}

	return nil, unsupported(value, "VARBINARY")
}

func bindUUID(value any) (any, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return v.String(), nil
	case uuid.NullUUID:
		if !v.Valid {
			return nil, nil
		}

		return v.UUID.String(), nil
	case [16]byte:
		return uuid.UUID(v).String(), nil
	case []byte:
		id, err := uuid.FromBytes(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", twowaysql.ErrUnsupportedBindType, err)
		}

		return id.String(), nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", twowaysql.ErrUnsupportedBindType, err)
		}

		return id.String(), nil
	}

	return nil, unsupported(value, "UUID")
}
