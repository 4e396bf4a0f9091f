// Package transformer shapes plugin requests and responses. A chain of
// transformers turns one JSON-like document into another; a validator checks a
// document against a JSON schema.
package transformer

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Kind names a transformer implementation.
type Kind string

const (
	KindJMESPath  Kind = "jmespath"
	KindJSONLogic Kind = "json-logic"
	KindScript    Kind = "script"
	KindHelper    Kind = "helper"
)

var (
	ErrUnknownKind    = errors.New("unknown transformer kind")
	ErrInvalidMapping = errors.New("invalid transformer mapping")
	ErrTransform      = errors.New("transformation failed")
)

// Spec is the serialized form of a transformer as it appears in plugin descriptors.
type Spec struct {
	Transformer Kind           `json:"transformer"       mapstructure:"transformer" yaml:"transformer"`
	Mapping     any            `json:"mapping"           mapstructure:"mapping"     yaml:"mapping"`
	Options     map[string]any `json:"options,omitempty" mapstructure:"options"     yaml:"options,omitempty"`
}

// Transformer maps an input document to an output document.
type Transformer interface {
	Kind() Kind
	Transform(ctx context.Context, input any) (any, error)
}

// New builds a transformer from its spec.
func New(spec Spec) (Transformer, error) { //nolint:ireturn
	switch spec.Transformer {
	case KindJMESPath:
		return newJMESPath(spec.Mapping)
	case KindJSONLogic:
		return newLogic(spec.Mapping)
	case KindScript:
		return newScript(spec.Mapping)
	case KindHelper, "helpers":
		return newHelper(spec.Mapping)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Transformer)
	}
}

// NewAll builds every transformer in specs, in order.
func NewAll(specs []Spec) ([]Transformer, error) {
	out := make([]Transformer, 0, len(specs))

	for i, spec := range specs {
		t, err := New(spec)
		if err != nil {
			return nil, fmt.Errorf("transformer %d: %w", i, err)
		}

		out = append(out, t)
	}

	return out, nil
}

// DecodeSpecs decodes loosely typed descriptor data (a list of maps) into specs.
func DecodeSpecs(raw any) ([]Spec, error) {
	if raw == nil {
		return nil, nil
	}

	var specs []Spec

	if err := mapstructure.Decode(raw, &specs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMapping, err)
	}

	return specs, nil
}

// Apply runs the chain, feeding each transformer the previous one's output.
func Apply(ctx context.Context, chain []Transformer, input any) (any, error) {
	current := input

	for _, t := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := t.Transform(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTransform, t.Kind(), err)
		}

		current = next
	}

	return current, nil
}
