package explang

import (
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// isNumber reports values that take part in numeric comparison without
// coercion from text.
func isNumber(value any) bool {
	switch value.(type) {
	case decimal.Decimal, *big.Int, *big.Rat, *big.Float:
		return true
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}

	return false
}

// toDecimal widens a value to a decimal. Text is tried as an integer first,
// then as a decimal.
func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case int64:
		return decimal.NewFromInt(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case float64:
		return decimal.NewFromFloat(v), true
	case *big.Int:
		return decimal.NewFromBigInt(v, 0), true
	case *big.Rat:
		return decimal.NewFromBigRat(v, 16), true
	case *big.Float:
		d, err := decimal.NewFromString(v.Text('f', -1))
		return d, err == nil
	case string:
		return parseNumber(v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decimal.NewFromInt(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return decimal.NewFromUint64(rv.Uint()), true
	case reflect.Float32:
		return decimal.NewFromFloat32(float32(rv.Float())), true
	case reflect.Float64:
		return decimal.NewFromFloat(rv.Float()), true
	case reflect.String:
		return parseNumber(rv.String())
	}

	return decimal.Decimal{}, false
}

func parseNumber(text string) (decimal.Decimal, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Decimal{}, false
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return decimal.NewFromInt(n), true
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, false
	}

	return d, true
}
