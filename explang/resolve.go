package explang

import (
	"database/sql/driver"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shibukawa/twowaysql"
	"github.com/shopspring/decimal"
)

var (
	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
	valuerType  = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
)

// isScalarStruct reports struct types that are values rather than records.
func isScalarStruct(t reflect.Type) bool {
	return t == timeType || t == decimalType || t.Implements(valuerType)
}

// Resolve follows steps starting from the scope. A nil or absent value in
// the middle of the path yields nil. An unknown root name or a missing final
// property fails with twowaysql.ErrUnknownVariable naming the whole path.
func Resolve(scope *Scope, steps []Step) (any, error) {
	if len(steps) == 0 {
		return nil, nil
	}

	current, ok := scope.Lookup(steps[0].Identifier)
	if !ok {
		return nil, unknown(steps)
	}

	for i, step := range steps[1:] {
		if isNil(current) {
			return nil, nil
		}

		next, found := access(current, step)
		if !found {
			if i == len(steps)-2 {
				return nil, unknown(steps)
			}

			return nil, nil
		}

		current = next
	}

	return current, nil
}

// ResolvePath parses and resolves a dotted path.
func ResolvePath(scope *Scope, path string) (any, error) {
	steps, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	return Resolve(scope, steps)
}

func unknown(steps []Step) error {
	return &twowaysql.PathError{Path: StepsString(steps), Err: twowaysql.ErrUnknownVariable}
}

func isNil(value any) bool {
	if value == nil {
		return true
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}

	return false
}

// Indirect dereferences pointers and interfaces. A nil pointer becomes nil.
func Indirect(value any) any {
	if value == nil {
		return nil
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}

		rv = rv.Elem()
	}

	return rv.Interface()
}

func access(value any, step Step) (any, bool) {
	if m, ok := value.(map[string]any); ok {
		key := step.Property
		if step.Kind == StepIndex {
			key = strconv.Itoa(step.Index)
		}

		v, found := m[key]

		return v, found
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, true
		}

		// pointer receivers are only reachable before dereferencing
		if step.Kind == StepMember && rv.Kind() == reflect.Pointer && rv.Elem().Kind() == reflect.Struct {
			if _, isField := lookupField(rv.Elem().Type(), step.Property); !isField {
				if v, ok := callGetter(rv, step.Property); ok {
					return v, true
				}
			}
		}

		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}

		key := step.Property
		if step.Kind == StepIndex {
			key = strconv.Itoa(step.Index)
		}

		v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}

		return v.Interface(), true
	case reflect.Struct:
		if step.Kind != StepMember {
			return nil, false
		}

		if index, ok := lookupField(rv.Type(), step.Property); ok {
			field, err := rv.FieldByIndexErr(index)
			if err != nil {
				// nil embedded pointer on the way to a promoted field
				return nil, true
			}

			return field.Interface(), true
		}

		return callGetter(rv, step.Property)
	case reflect.Slice, reflect.Array:
		if step.Kind != StepIndex || step.Index >= rv.Len() {
			return nil, false
		}

		return rv.Index(step.Index).Interface(), true
	}

	return nil, false
}

// callGetter invokes an exported zero-argument method with one result,
// named either exactly or with the first letter upper-cased.
func callGetter(rv reflect.Value, name string) (any, bool) {
	candidates := []string{name}
	if upper := exportedName(name); upper != name {
		candidates = append(candidates, upper)
	}

	for _, candidate := range candidates {
		method := rv.MethodByName(candidate)
		if !method.IsValid() {
			continue
		}

		t := method.Type()
		if t.NumIn() != 0 || t.NumOut() != 1 {
			continue
		}

		return method.Call(nil)[0].Interface(), true
	}

	return nil, false
}

func exportedName(name string) string {
	if name == "" {
		return name
	}

	return strings.ToUpper(name[:1]) + name[1:]
}

type fieldIndex struct {
	exact  map[string][]int
	tagged map[string][]int
	folded map[string][]int
}

var fieldCache sync.Map // reflect.Type -> *fieldIndex

// lookupField matches the Go field name, then a db or json tag, then the
// field name case-insensitively.
func lookupField(t reflect.Type, name string) ([]int, bool) {
	idx := fieldsOf(t)

	if index, ok := idx.exact[name]; ok {
		return index, true
	}

	if index, ok := idx.tagged[name]; ok {
		return index, true
	}

	index, ok := idx.folded[strings.ToLower(name)]

	return index, ok
}

func fieldsOf(t reflect.Type) *fieldIndex {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(*fieldIndex)
	}

	idx := &fieldIndex{
		exact:  make(map[string][]int),
		tagged: make(map[string][]int),
		folded: make(map[string][]int),
	}

	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}

		idx.exact[f.Name] = f.Index

		for _, key := range []string{"db", "json"} {
			tag := strings.Split(f.Tag.Get(key), ",")[0]
			if tag == "" || tag == "-" {
				continue
			}

			if _, exists := idx.tagged[tag]; !exists {
				idx.tagged[tag] = f.Index
			}
		}

		folded := strings.ToLower(f.Name)
		if _, exists := idx.folded[folded]; !exists {
			idx.folded[folded] = f.Index
		}
	}

	actual, _ := fieldCache.LoadOrStore(t, idx)

	return actual.(*fieldIndex)
}

// ToNative converts structs reachable from value into maps keyed by field
// name and db/json tag, so that evaluators without reflection support can
// navigate them. Slices and maps are converted element-wise.
func ToNative(value any) any {
	return toNative(reflect.ValueOf(value), 0)
}

func toNative(rv reflect.Value, depth int) any {
	if !rv.IsValid() {
		return nil
	}

	if depth > 32 {
		return rv.Interface()
	}

	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}

		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		if isScalarStruct(rv.Type()) {
			return rv.Interface()
		}

		idx := fieldsOf(rv.Type())
		result := make(map[string]any, len(idx.exact)+len(idx.tagged))

		for name, index := range idx.exact {
			field, err := rv.FieldByIndexErr(index)
			if err != nil {
				result[name] = nil
				continue
			}

			result[name] = toNative(field, depth+1)
		}

		for name, index := range idx.tagged {
			if _, exists := result[name]; exists {
				continue
			}

			field, err := rv.FieldByIndexErr(index)
			if err != nil {
				result[name] = nil
				continue
			}

			result[name] = toNative(field, depth+1)
		}

		return result
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return rv.Interface()
		}

		result := make(map[string]any, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			result[iter.Key().String()] = toNative(iter.Value(), depth+1)
		}

		return result
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}

		result := make([]any, rv.Len())
		for i := range rv.Len() {
			result[i] = toNative(rv.Index(i), depth+1)
		}

		return result
	}

	return rv.Interface()
}
