package query

import (
	"database/sql"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/google/uuid"
	"github.com/shibukawa/twowaysql"
	"github.com/shopspring/decimal"
)

type label string

func TestBinder_Convert(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	n := 42
	stamp := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		bind  twowaysql.Bind
		want  any
		isErr bool
	}{
		{name: "nil", bind: twowaysql.Bind{Value: nil, Type: twowaysql.BindInteger}, want: nil},
		{name: "nil pointer", bind: twowaysql.Bind{Value: (*int)(nil), Type: twowaysql.BindInteger}, want: nil},
		{name: "pointer", bind: twowaysql.Bind{Value: &n, Type: twowaysql.BindInteger}, want: int64(42)},
		{name: "other passes through", bind: twowaysql.Bind{Value: []int{1}, Type: twowaysql.BindOther}, want: []int{1}},
		{name: "null type", bind: twowaysql.Bind{Value: 1, Type: twowaysql.BindNull}, want: nil},

		{name: "varchar", bind: twowaysql.Bind{Value: "abc", Type: twowaysql.BindVarchar}, want: "abc"},
		{name: "varchar from int", bind: twowaysql.Bind{Value: 12, Type: twowaysql.BindVarchar}, want: "12"},
		{name: "varchar from named string", bind: twowaysql.Bind{Value: label("x"), Type: twowaysql.BindChar}, want: "x"},
		{name: "varchar from null string", bind: twowaysql.Bind{Value: sql.NullString{String: "y", Valid: true}, Type: twowaysql.BindVarchar}, want: "y"},
		{name: "varchar from invalid null string", bind: twowaysql.Bind{Value: sql.NullString{}, Type: twowaysql.BindVarchar}, want: nil},
		{name: "varchar from map", bind: twowaysql.Bind{Value: map[string]int{}, Type: twowaysql.BindVarchar}, isErr: true},

		{name: "integer", bind: twowaysql.Bind{Value: int32(7), Type: twowaysql.BindInteger}, want: int64(7)},
		{name: "integer from uint", bind: twowaysql.Bind{Value: uint8(7), Type: twowaysql.BindSmallint}, want: int64(7)},
		{name: "integer from whole float", bind: twowaysql.Bind{Value: 3.0, Type: twowaysql.BindBigint}, want: int64(3)},
		{name: "integer from fraction", bind: twowaysql.Bind{Value: 3.5, Type: twowaysql.BindInteger}, isErr: true},
		{name: "integer from text", bind: twowaysql.Bind{Value: " 15 ", Type: twowaysql.BindInteger}, want: int64(15)},
		{name: "integer from bad text", bind: twowaysql.Bind{Value: "x", Type: twowaysql.BindInteger}, isErr: true},
		{name: "integer from decimal", bind: twowaysql.Bind{Value: decimal.NewFromInt(9), Type: twowaysql.BindInteger}, want: int64(9)},
		{name: "integer overflow", bind: twowaysql.Bind{Value: uint64(1 << 63), Type: twowaysql.BindBigint}, isErr: true},
		{name: "integer from huge float", bind: twowaysql.Bind{Value: 1e19, Type: twowaysql.BindBigint}, isErr: true},
		{name: "integer from float at 2^63", bind: twowaysql.Bind{Value: float64(1 << 63), Type: twowaysql.BindBigint}, isErr: true},
		{name: "integer from float at -2^63", bind: twowaysql.Bind{Value: float64(-1 << 63), Type: twowaysql.BindBigint}, want: int64(math.MinInt64)},
		{name: "integer from infinity", bind: twowaysql.Bind{Value: math.Inf(1), Type: twowaysql.BindBigint}, isErr: true},
		{name: "integer from huge decimal", bind: twowaysql.Bind{Value: decimal.RequireFromString("1e19"), Type: twowaysql.BindBigint}, isErr: true},

		{name: "decimal", bind: twowaysql.Bind{Value: decimal.RequireFromString("12.340"), Type: twowaysql.BindDecimal}, want: "12.34"},
		{name: "decimal from text", bind: twowaysql.Bind{Value: "0.1", Type: twowaysql.BindDecimal}, want: "0.1"},
		{name: "decimal from int", bind: twowaysql.Bind{Value: 5, Type: twowaysql.BindDecimal}, want: "5"},
		{name: "decimal from big int", bind: twowaysql.Bind{Value: big.NewInt(123456789), Type: twowaysql.BindDecimal}, want: "123456789"},
		{name: "decimal from bad text", bind: twowaysql.Bind{Value: "1.2.3", Type: twowaysql.BindDecimal}, isErr: true},

		{name: "double", bind: twowaysql.Bind{Value: float32(1.5), Type: twowaysql.BindDouble}, want: 1.5},
		{name: "double from int", bind: twowaysql.Bind{Value: 2, Type: twowaysql.BindReal}, want: 2.0},
		{name: "double from decimal", bind: twowaysql.Bind{Value: decimal.RequireFromString("0.25"), Type: twowaysql.BindDouble}, want: 0.25},

		{name: "boolean", bind: twowaysql.Bind{Value: true, Type: twowaysql.BindBoolean}, want: true},
		{name: "boolean from text", bind: twowaysql.Bind{Value: "false", Type: twowaysql.BindBoolean}, want: false},
		{name: "boolean from one", bind: twowaysql.Bind{Value: 1, Type: twowaysql.BindBoolean}, want: true},
		{name: "boolean from two", bind: twowaysql.Bind{Value: 2, Type: twowaysql.BindBoolean}, isErr: true},

		{name: "date from time", bind: twowaysql.Bind{Value: stamp, Type: twowaysql.BindDate}, want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{name: "date from text", bind: twowaysql.Bind{Value: "2024-03-15", Type: twowaysql.BindDate}, want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{name: "date from bad text", bind: twowaysql.Bind{Value: "15/03/2024", Type: twowaysql.BindDate}, isErr: true},
		{name: "time", bind: twowaysql.Bind{Value: stamp, Type: twowaysql.BindTime}, want: "10:30:00"},
		{name: "time from text", bind: twowaysql.Bind{Value: "08:15", Type: twowaysql.BindTime}, want: "08:15:00"},
		{name: "timestamp", bind: twowaysql.Bind{Value: "2024-03-15T10:30:00Z", Type: twowaysql.BindTimestamp}, want: stamp},
		{name: "timestamp from int", bind: twowaysql.Bind{Value: 5, Type: twowaysql.BindTimestamp}, isErr: true},

		{name: "varbinary", bind: twowaysql.Bind{Value: []byte{1, 2}, Type: twowaysql.BindVarbinary}, want: []byte{1, 2}},
		{name: "varbinary from text", bind: twowaysql.Bind{Value: "ab", Type: twowaysql.BindVarbinary}, want: []byte("ab")},
		{name: "varbinary from int", bind: twowaysql.Bind{Value: 1, Type: twowaysql.BindVarbinary}, isErr: true},

		{name: "uuid", bind: twowaysql.Bind{Value: id, Type: twowaysql.BindUUID}, want: id.String()},
		{name: "uuid from text", bind: twowaysql.Bind{Value: "6BA7B810-9DAD-11D1-80B4-00C04FD430C8", Type: twowaysql.BindUUID}, want: id.String()},
		{name: "uuid from bytes", bind: twowaysql.Bind{Value: id[:], Type: twowaysql.BindUUID}, want: id.String()},
		{name: "uuid from bad text", bind: twowaysql.Bind{Value: "nope", Type: twowaysql.BindUUID}, isErr: true},
	}

	binder := NewBinder()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := binder.Convert(tt.bind)
			if tt.isErr {
				assert.IsError(t, err, twowaysql.ErrUnsupportedBindType)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBinder_DateLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)

	binder := NewBinder()
	binder.Location = tokyo

	got, err := binder.Convert(twowaysql.Bind{Value: "2024-03-15", Type: twowaysql.BindDate})
	assert.NoError(t, err)

	date, ok := got.(time.Time)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, tokyo), date)
}

func TestBinder_Args(t *testing.T) {
	args, err := NewBinder().Args([]twowaysql.Bind{
		{Value: "Alice", Type: twowaysql.BindVarchar, Path: "pmb.name"},
		{Value: 10, Type: twowaysql.BindInteger, Path: "pmb.dept"},
		{Value: nil, Type: twowaysql.BindNull, Path: "pmb.memo"},
	})
	assert.NoError(t, err)
	assert.Equal(t, []any{"Alice", int64(10), nil}, args)

	_, err = NewBinder().Args([]twowaysql.Bind{
		{Value: "Alice", Type: twowaysql.BindVarchar, Path: "pmb.name"},
		{Value: "ten", Type: twowaysql.BindInteger, Path: "pmb.dept"},
	})
	assert.IsError(t, err, twowaysql.ErrUnsupportedBindType)
	assert.Contains(t, err.Error(), "bind 2 (pmb.dept)")
}
