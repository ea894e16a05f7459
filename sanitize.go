package reqpipe

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Sanitize strips nil and empty-string leaves from maps and slices,
// recursively. Non-empty values and the surrounding structure are kept, so
// Sanitize(Sanitize(v)) equals Sanitize(v).
//
// Typed values such as structs, typed maps and pointers are first converted
// to their JSON form, since that is what goes on the wire. Numbers in the
// converted form are json.Number so no precision is lost.
func Sanitize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			if dropLeaf(vv) {
				continue
			}
			out[k] = Sanitize(vv)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, vv := range t {
			if dropLeaf(vv) {
				continue
			}
			out = append(out, Sanitize(vv))
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, vv := range t {
			if vv != "" {
				out[k] = vv
			}
		}
		return out
	default:
		generic, ok := toGeneric(v)
		if !ok {
			return v
		}
		return Sanitize(generic)
	}
}

func dropLeaf(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Map ||
			rv.Kind() == reflect.Slice || rv.Kind() == reflect.Interface {
			return rv.IsNil()
		}
		return false
	}
}

// toGeneric re-decodes a composite value through JSON. Scalars, byte slices
// and values that do not marshal are left alone.
func toGeneric(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Struct, reflect.Map, reflect.Array, reflect.Pointer:
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
	default:
		return nil, false
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, false
	}
	return out, true
}
