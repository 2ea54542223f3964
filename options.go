package labcore

import (
	"fmt"
	"reflect"

	"github.com/golobby/cast"
)

// Options is a module's raw configuration mapping as parsed from the
// configuration document. Values come out of YAML or TOML decoding, so
// numeric options may arrive as int, float64 or string; the typed
// getters convert where a sensible conversion exists.
type Options map[string]any

// Has reports whether the option key is present.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the option as a string.
func (o Options) String(key string) (string, bool) {
	return optionAs[string](o, key)
}

// Int returns the option as an int, converting from float or string
// representations where possible.
func (o Options) Int(key string) (int, bool) {
	return optionAs[int](o, key)
}

// Float returns the option as a float64.
func (o Options) Float(key string) (float64, bool) {
	return optionAs[float64](o, key)
}

// Bool returns the option as a bool.
func (o Options) Bool(key string) (bool, bool) {
	return optionAs[bool](o, key)
}

// StringSlice returns the option as a list of strings. Scalar list
// elements of other types are formatted.
func (o Options) StringSlice(key string) ([]string, bool) {
	v, ok := o[key]
	if !ok {
		return nil, false
	}
	switch lst := v.(type) {
	case []string:
		return lst, true
	case []any:
		out := make([]string, len(lst))
		for i, e := range lst {
			out[i] = fmt.Sprintf("%v", e)
		}
		return out, true
	}
	return nil, false
}

// Sub returns a nested option mapping.
func (o Options) Sub(key string) (Options, bool) {
	v, ok := o[key]
	if !ok {
		return nil, false
	}
	m, ok := toOptions(v)
	return m, ok
}

func optionAs[T any](o Options, key string) (T, bool) {
	var zero T
	v, ok := o[key]
	if !ok {
		return zero, false
	}
	if t, ok := v.(T); ok {
		return t, true
	}
	converted, err := cast.FromType(fmt.Sprintf("%v", v), reflect.TypeOf(zero))
	if err != nil {
		return zero, false
	}
	t, ok := converted.(T)
	return t, ok
}

// toOptions normalizes the mapping shapes YAML decoders produce.
func toOptions(v any) (Options, bool) {
	switch m := v.(type) {
	case Options:
		return m, true
	case map[string]any:
		return Options(m), true
	case map[any]any:
		out := make(Options, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	}
	return nil, false
}
