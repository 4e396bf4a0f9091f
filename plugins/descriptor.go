package plugins

import (
	"fmt"

	"github.com/amp-labs/workflow-core/transformer"
	"github.com/mitchellh/mapstructure"
)

// Shaping describes how a request or response is transformed and validated.
type Shaping struct {
	Transformers    []transformer.Spec       `json:"transformers,omitempty"    mapstructure:"transformers"    yaml:"transformers,omitempty"`
	SchemaValidator *transformer.ValidatorSpec `json:"schemaValidator,omitempty" mapstructure:"schemaValidator" yaml:"schemaValidator,omitempty"`
}

// Descriptor is the serializable configuration of a common, API,
// child-workflow or dispatch-event plugin. Which fields apply depends on the
// category and PluginKind; unknown fields are kept in Extra.
type Descriptor struct {
	PluginKind  string   `json:"pluginKind,omitempty"  mapstructure:"pluginKind"  yaml:"pluginKind,omitempty"`
	Name        string   `json:"name"                  mapstructure:"name"        yaml:"name"`
	DisplayName string   `json:"displayName,omitempty" mapstructure:"displayName" yaml:"displayName,omitempty"`
	Vendor      string   `json:"vendor,omitempty"      mapstructure:"vendor"      yaml:"vendor,omitempty"`
	StateNames  []string `json:"stateNames"            mapstructure:"stateNames"  yaml:"stateNames"`

	SuccessAction              string `json:"successAction,omitempty"              mapstructure:"successAction"              yaml:"successAction,omitempty"`
	ErrorAction                string `json:"errorAction,omitempty"                mapstructure:"errorAction"                yaml:"errorAction,omitempty"`
	PersistResponseDestination string `json:"persistResponseDestination,omitempty" mapstructure:"persistResponseDestination" yaml:"persistResponseDestination,omitempty"`

	// API plugins.
	URL      string            `json:"url,omitempty"      mapstructure:"url"      yaml:"url,omitempty"`
	Method   string            `json:"method,omitempty"   mapstructure:"method"   yaml:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"  mapstructure:"headers"  yaml:"headers,omitempty"`
	Template string            `json:"template,omitempty" mapstructure:"template" yaml:"template,omitempty"`
	Request  *Shaping          `json:"request,omitempty"  mapstructure:"request"  yaml:"request,omitempty"`
	Response *Shaping          `json:"response,omitempty" mapstructure:"response" yaml:"response,omitempty"`

	// Transformer, child-workflow and dispatch-event plugins.
	Transformers []transformer.Spec `json:"transformers,omitempty" mapstructure:"transformers" yaml:"transformers,omitempty"`

	// Iterative plugins.
	IterateOn        []transformer.Spec `json:"iterateOn,omitempty"        mapstructure:"iterateOn"        yaml:"iterateOn,omitempty"`
	ActionPluginName string             `json:"actionPluginName,omitempty" mapstructure:"actionPluginName" yaml:"actionPluginName,omitempty"`

	// Risk rules plugins.
	RulesSource map[string]any `json:"rulesSource,omitempty" mapstructure:"rulesSource" yaml:"rulesSource,omitempty"`

	// UI definition (workflow token) plugins.
	UIDefinitionID  string `json:"uiDefinitionId,omitempty"  mapstructure:"uiDefinitionId"  yaml:"uiDefinitionId,omitempty"`
	ExpireInMinutes int    `json:"expireInMinutes,omitempty" mapstructure:"expireInMinutes" yaml:"expireInMinutes,omitempty"`

	// Child-workflow plugins.
	DefinitionID string `json:"definitionId,omitempty" mapstructure:"definitionId" yaml:"definitionId,omitempty"`
	InitEvent    string `json:"initEvent,omitempty"    mapstructure:"initEvent"    yaml:"initEvent,omitempty"`

	// Dispatch-event plugins.
	EventName string `json:"eventName,omitempty" mapstructure:"eventName" yaml:"eventName,omitempty"`

	Extra map[string]any `json:"-" mapstructure:",remain" yaml:"-"`
}

// DecodeDescriptor decodes a loosely typed map, as hosts read it from JSON or
// a database column, into a Descriptor.
func DecodeDescriptor(raw map[string]any) (Descriptor, error) {
	var d Descriptor

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &d,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return d, err
	}

	if err := decoder.Decode(raw); err != nil {
		return d, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}

	return d, nil
}

// DecodeDescriptors decodes a list of descriptor maps.
func DecodeDescriptors(raw []map[string]any) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(raw))

	for i, item := range raw {
		d, err := DecodeDescriptor(item)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d: %w", i, err)
		}

		out = append(out, d)
	}

	return out, nil
}

// HasCallbackActions reports whether both successAction and errorAction are set.
func (d Descriptor) HasCallbackActions() bool {
	return d.SuccessAction != "" && d.ErrorAction != ""
}
