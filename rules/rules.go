// Package rules evaluates the two rule languages used by transition guards and
// transformers: JSON Logic trees and JMESPath queries.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/diegoholiveira/jsonlogic/v3"
	"github.com/jmespath/go-jmespath"
)

// Language identifies a rule language.
type Language string

const (
	// JSONLogic rules are JSON Logic trees, e.g. {"==": [{"var": "status"}, "approved"]}.
	JSONLogic Language = "json-logic"
	// JMESPath rules are JMESPath query strings, e.g. "entity.data[?status=='approved']".
	JMESPath Language = "jmespath"
)

var (
	// ErrInvalidRule is returned when a rule cannot be evaluated.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrUnknownLanguage is returned by Evaluate for unsupported languages.
	ErrUnknownLanguage = errors.New("unknown rule language")
)

// Evaluate runs rule against data in the given language and returns the raw result.
func Evaluate(lang Language, rule any, data any) (any, error) {
	switch lang {
	case JSONLogic:
		return EvaluateLogic(rule, data)
	case JMESPath:
		expr, ok := rule.(string)
		if !ok {
			return nil, fmt.Errorf("%w: jmespath rule must be a string, got %T", ErrInvalidRule, rule)
		}

		return EvaluatePath(expr, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
}

// EvaluateLogic applies a JSON Logic rule to data.
func EvaluateLogic(rule any, data any) (any, error) {
	normalizedRule, err := Normalize(rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	normalizedData, err := Normalize(data)
	if err != nil {
		return nil, err
	}

	result, err := jsonlogic.ApplyInterface(normalizedRule, normalizedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	return result, nil
}

// EvaluatePath runs a JMESPath query against data.
func EvaluatePath(expr string, data any) (any, error) {
	normalized, err := Normalize(data)
	if err != nil {
		return nil, err
	}

	result, err := jmespath.Search(expr, normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	return result, nil
}

// Normalize converts arbitrary Go values into the generic JSON representation
// (map[string]any, []any, float64, string, bool, nil) both engines operate on.
func Normalize(v any) (any, error) {
	if isGeneric(v) {
		return v, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalizing rule input: %w", err)
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalizing rule input: %w", err)
	}

	return out, nil
}

func isGeneric(v any) bool {
	switch val := v.(type) {
	case nil, bool, string, float64:
		return true
	case map[string]any:
		for _, item := range val {
			if !isGeneric(item) {
				return false
			}
		}

		return true
	case []any:
		for _, item := range val {
			if !isGeneric(item) {
				return false
			}
		}

		return true
	default:
		return false
	}
}

// Truthy reports the JavaScript truthiness of v: nil, false, zero, NaN and the
// empty string are falsy; everything else, empty arrays and objects included, is truthy.
func Truthy(v any) bool {
	if v == nil {
		return false
	}

	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0 && !math.IsNaN(val)
	case float32:
		return val != 0 && !math.IsNaN(float64(val))
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() { //nolint:exhaustive
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}
