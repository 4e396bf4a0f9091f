package transformer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/amp-labs/workflow-core/merge"
	"github.com/mitchellh/mapstructure"
)

// Helper methods.
const (
	MethodCopy               = "copy"
	MethodRemove             = "remove"
	MethodRegex              = "regex"
	MethodSetTimeToRecordUTC = "setTimeToRecordUTC"
)

// HelperStep is one in-place edit of the document.
type HelperStep struct {
	Source string `json:"source" mapstructure:"source"`
	Target string `json:"target" mapstructure:"target"`
	Method string `json:"method" mapstructure:"method"`
	Value  any    `json:"value"  mapstructure:"value"`
}

type helperTransformer struct {
	steps   []HelperStep
	regexps map[int]*regexp.Regexp
	now     func() time.Time
}

func newHelper(mapping any) (*helperTransformer, error) {
	var steps []HelperStep

	if err := mapstructure.Decode(mapping, &steps); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMapping, err)
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: helper mapping needs at least one step", ErrInvalidMapping)
	}

	t := &helperTransformer{
		steps:   steps,
		regexps: make(map[int]*regexp.Regexp),
		now:     time.Now,
	}

	for i, step := range steps {
		switch step.Method {
		case MethodCopy, MethodRemove:
			if step.Source == "" {
				return nil, fmt.Errorf("%w: step %d: %s needs a source", ErrInvalidMapping, i, step.Method)
			}
		case MethodSetTimeToRecordUTC:
			if step.Target == "" {
				return nil, fmt.Errorf("%w: step %d: %s needs a target", ErrInvalidMapping, i, step.Method)
			}
		case MethodRegex:
			pattern, ok := step.Value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: step %d: regex value must be a pattern", ErrInvalidMapping, i)
			}

			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: step %d: %w", ErrInvalidMapping, i, err)
			}

			t.regexps[i] = re
		default:
			return nil, fmt.Errorf("%w: step %d: unknown method %q", ErrInvalidMapping, i, step.Method)
		}
	}

	return t, nil
}

func (t *helperTransformer) Kind() Kind {
	return KindHelper
}

func (t *helperTransformer) Transform(_ context.Context, input any) (any, error) {
	doc, ok := merge.AsMap(input)
	if !ok {
		return nil, fmt.Errorf("%w: helper input must be an object, got %T", ErrTransform, input)
	}

	doc = merge.CloneMap(doc)

	for i, step := range t.steps {
		target := step.Target
		if target == "" {
			target = step.Source
		}

		switch step.Method {
		case MethodCopy:
			if value, found := getPath(doc, step.Source); found {
				setPath(doc, target, merge.Clone(value))
			}
		case MethodRemove:
			deletePath(doc, step.Source)
		case MethodSetTimeToRecordUTC:
			setPath(doc, target, t.now().UTC().Format(time.RFC3339))
		case MethodRegex:
			value, _ := getPath(doc, step.Source)

			text, isString := value.(string)
			if !isString {
				continue
			}

			match := t.regexps[i].FindStringSubmatch(text)

			switch {
			case match == nil:
				setPath(doc, target, nil)
			case len(match) > 1:
				setPath(doc, target, match[1])
			default:
				setPath(doc, target, match[0])
			}
		}
	}

	return doc, nil
}

func getPath(doc map[string]any, path string) (any, bool) {
	var current any = doc

	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func setPath(doc map[string]any, path string, value any) {
	keys := strings.Split(path, ".")
	current := doc

	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}

		current = next
	}

	current[keys[len(keys)-1]] = value
}

func deletePath(doc map[string]any, path string) {
	keys := strings.Split(path, ".")
	current := doc

	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			return
		}

		current = next
	}

	delete(current, keys[len(keys)-1])
}
