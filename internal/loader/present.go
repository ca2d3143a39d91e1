package loader

import (
	"math"
	"reflect"
)

// Truthy reports whether v counts as a value at all: nil, false, zero
// numbers, the empty string and nil references do not.
func Truthy(v any) bool {
	if v == nil {
		return false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return !rv.IsNil()
	default:
		return true
	}
}

// Present reports whether v is a usable prepared value: truthy, and not a
// list whose first element is the empty string (a placeholder some pages
// render before data arrives).
func Present(v any) bool {
	if !Truthy(v) {
		return false
	}

	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Len() > 0 {
		first := rv.Index(0)
		if first.Kind() == reflect.Interface && !first.IsNil() {
			first = first.Elem()
		}
		if first.Kind() == reflect.String && first.Len() == 0 {
			return false
		}
	}
	return true
}
