// Package merge implements the context persistence policy: plugin output is
// deep-merged into the workflow context, either at a dotted path or at the root
// with a configurable array strategy.
package merge

import (
	"fmt"
	"reflect"
	"strings"
)

// ArrayMergeOption selects how arrays found on both sides of a merge are combined.
type ArrayMergeOption string

const (
	// ArrayReplace keeps the incoming array and drops the existing one.
	ArrayReplace ArrayMergeOption = "replace"
	// ArrayConcat appends the incoming elements to the existing ones.
	ArrayConcat ArrayMergeOption = "concat"
	// ArrayByIndex merges elements position by position.
	ArrayByIndex ArrayMergeOption = "by_index"
	// ArrayByID merges object elements sharing the same "id" and appends the rest.
	ArrayByID ArrayMergeOption = "by_id"
)

// ParseArrayMergeOption converts a payload value into an ArrayMergeOption.
// An empty value selects ArrayReplace.
func ParseArrayMergeOption(value string) (ArrayMergeOption, error) {
	switch opt := ArrayMergeOption(value); opt {
	case "":
		return ArrayReplace, nil
	case ArrayReplace, ArrayConcat, ArrayByIndex, ArrayByID:
		return opt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownArrayMergeOption, value)
	}
}

// DeepMerge merges source into target and returns the result. For every key of
// source, nested maps are merged recursively and any other value (arrays included)
// overwrites the target's. Keys only present in target are preserved. Neither
// input is modified.
func DeepMerge(source, target map[string]any) map[string]any {
	output := make(map[string]any, len(target)+len(source))

	for k, v := range target {
		output[k] = v
	}

	for key, value := range source {
		sourceMap, sourceIsMap := AsMap(value)
		if !sourceIsMap {
			output[key] = Clone(value)

			continue
		}

		targetMap, targetIsMap := AsMap(target[key])
		if !targetIsMap {
			output[key] = Clone(sourceMap)

			continue
		}

		output[key] = DeepMerge(sourceMap, targetMap)
	}

	return output
}

// ToContext writes info into source at the dotted path, creating intermediate
// maps as needed, and deep-merges it with whatever already lives at the leaf.
// Non-map values found along the path are replaced by maps. The (modified)
// source is returned; a nil source starts from an empty document.
func ToContext(source map[string]any, info map[string]any, path string) map[string]any {
	if source == nil {
		source = map[string]any{}
	}

	keys := strings.Split(path, ".")
	obj := source

	for _, key := range keys[:len(keys)-1] {
		next, ok := AsMap(obj[key])
		if !ok {
			next = map[string]any{}
			obj[key] = next
		}

		obj = next
	}

	finalKey := keys[len(keys)-1]

	existing, ok := AsMap(obj[finalKey])
	if !ok {
		existing = map[string]any{}
	}

	obj[finalKey] = DeepMerge(info, existing)

	return source
}

// WithOptions merges source into target like DeepMerge, except that arrays present
// on both sides are combined according to option, at every depth.
func WithOptions(target, source map[string]any, option ArrayMergeOption) map[string]any {
	output := make(map[string]any, len(target)+len(source))

	for k, v := range target {
		output[k] = v
	}

	for key, value := range source {
		existing, exists := target[key]
		if !exists {
			output[key] = Clone(value)

			continue
		}

		output[key] = mergeValue(existing, value, option)
	}

	return output
}

func mergeValue(existing, incoming any, option ArrayMergeOption) any {
	if incomingMap, ok := AsMap(incoming); ok {
		if existingMap, ok := AsMap(existing); ok {
			return WithOptions(existingMap, incomingMap, option)
		}

		return Clone(incomingMap)
	}

	incomingSlice, incomingIsSlice := incoming.([]any)
	existingSlice, existingIsSlice := existing.([]any)

	if !incomingIsSlice || !existingIsSlice {
		return Clone(incoming)
	}

	switch option {
	case ArrayConcat:
		out := make([]any, 0, len(existingSlice)+len(incomingSlice))
		out = append(out, existingSlice...)

		return append(out, Clone(incomingSlice).([]any)...) //nolint:forcetypeassert
	case ArrayByIndex:
		return mergeByIndex(existingSlice, incomingSlice, option)
	case ArrayByID:
		return mergeByID(existingSlice, incomingSlice, option)
	case ArrayReplace:
		fallthrough
	default:
		return Clone(incomingSlice)
	}
}

func mergeByIndex(existing, incoming []any, option ArrayMergeOption) []any {
	size := max(len(existing), len(incoming))
	out := make([]any, size)

	for i := range size {
		switch {
		case i >= len(incoming):
			out[i] = existing[i]
		case i >= len(existing):
			out[i] = Clone(incoming[i])
		default:
			out[i] = mergeValue(existing[i], incoming[i], option)
		}
	}

	return out
}

func mergeByID(existing, incoming []any, option ArrayMergeOption) []any {
	out := make([]any, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	index := make(map[string]int, len(existing))

	for i, item := range existing {
		if id, ok := elementID(item); ok {
			index[id] = i
		}
	}

	for _, item := range incoming {
		id, ok := elementID(item)
		if !ok {
			out = append(out, Clone(item))

			continue
		}

		if pos, found := index[id]; found {
			out[pos] = mergeValue(out[pos], item, option)

			continue
		}

		index[id] = len(out)
		out = append(out, Clone(item))
	}

	return out
}

func elementID(item any) (string, bool) {
	m, ok := AsMap(item)
	if !ok {
		return "", false
	}

	id, ok := m["id"]
	if !ok || id == nil {
		return "", false
	}

	return fmt.Sprint(id), true
}

// AsMap reports whether v is a JSON-style object and returns it as map[string]any.
// Maps with string keys of any concrete value type are converted.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}

	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()

	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}

	return out, true
}

// Clone returns a deep copy of JSON-style values (maps, slices, scalars).
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Clone(item)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clone(item)
		}

		return out
	default:
		return v
	}
}

// CloneMap is Clone for the common case of a context document.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return Clone(m).(map[string]any) //nolint:forcetypeassert
}
