package transformer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amp-labs/workflow-core/rules"
	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"
)

// ValidatorJSONSchema is the only supported validator type.
const ValidatorJSONSchema = "json-schema"

var (
	ErrUnknownValidator = errors.New("unknown validator type")
	ErrInvalidSchema    = errors.New("invalid schema")
	ErrValidation       = errors.New("validation failed")
)

// ValidatorSpec is the serialized form of a validator.
type ValidatorSpec struct {
	Type   string `json:"type"   mapstructure:"type"   yaml:"type"`
	Schema any    `json:"schema" mapstructure:"schema" yaml:"schema"`
}

// FieldError is a single schema violation.
type FieldError struct {
	Field       string
	Description string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Description
}

// ValidationError lists every violation found in a document.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}

	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validator checks a document.
type Validator interface {
	Validate(ctx context.Context, data any) error
}

// SchemaValidator validates documents against a compiled JSON schema.
type SchemaValidator struct {
	schema *gojsonschema.Schema
}

// NewSchemaValidator compiles schema, given as a JSON string, bytes, or a
// generic document.
func NewSchemaValidator(schema any) (*SchemaValidator, error) {
	var loader gojsonschema.JSONLoader

	switch s := schema.(type) {
	case string:
		loader = gojsonschema.NewStringLoader(s)
	case []byte:
		loader = gojsonschema.NewBytesLoader(s)
	case nil:
		return nil, fmt.Errorf("%w: schema is required", ErrInvalidSchema)
	default:
		normalized, err := rules.Normalize(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
		}

		loader = gojsonschema.NewGoLoader(normalized)
	}

	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	return &SchemaValidator{schema: compiled}, nil
}

// Validate returns a *ValidationError describing every violation, or nil.
func (v *SchemaValidator) Validate(_ context.Context, data any) error {
	normalized, err := rules.Normalize(data)
	if err != nil {
		return err
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(normalized))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if result.Valid() {
		return nil
	}

	verr := &ValidationError{}

	for _, e := range result.Errors() {
		verr.Fields = append(verr.Fields, FieldError{
			Field:       e.Field(),
			Description: e.Description(),
		})
	}

	return verr
}

// NewValidator builds a validator from its spec. A nil spec yields a nil validator.
func NewValidator(spec *ValidatorSpec) (Validator, error) { //nolint:ireturn
	if spec == nil {
		return nil, nil //nolint:nilnil
	}

	if spec.Type != ValidatorJSONSchema {
		return nil, fmt.Errorf("%w: %q", ErrUnknownValidator, spec.Type)
	}

	validator, err := NewSchemaValidator(spec.Schema)
	if err != nil {
		return nil, err
	}

	return validator, nil
}

// DecodeValidatorSpec decodes loosely typed descriptor data into a spec.
func DecodeValidatorSpec(raw any) (*ValidatorSpec, error) {
	if raw == nil {
		return nil, nil //nolint:nilnil
	}

	spec := &ValidatorSpec{}

	if err := mapstructure.Decode(raw, spec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	return spec, nil
}
