package plugins

import (
	"context"
	"fmt"

	"github.com/amp-labs/workflow-core/transformer"
)

// DispatchEventPlugin publishes a named event on the notification bus. Its
// payload is the input shaped by the plugin's transformers.
type DispatchEventPlugin struct {
	Base

	eventName     string
	transformers  []transformer.Transformer
	successAction string
	errorAction   string
}

// NewDispatchEventPlugin builds a dispatch-event plugin from d. The event
// name defaults to the plugin name.
func NewDispatchEventPlugin(d Descriptor) (*DispatchEventPlugin, error) {
	if d.Name == "" {
		return nil, ErrMissingName
	}

	transformers, err := transformer.NewAll(d.Transformers)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDescriptor, d.Name, err)
	}

	eventName := d.EventName
	if eventName == "" {
		eventName = d.Name
	}

	return &DispatchEventPlugin{
		Base:          NewBase(d.Name, d.StateNames),
		eventName:     eventName,
		transformers:  transformers,
		successAction: d.SuccessAction,
		errorAction:   d.ErrorAction,
	}, nil
}

func (p *DispatchEventPlugin) Category() Category {
	return CategoryDispatchEvent
}

func (p *DispatchEventPlugin) EventName() string {
	return p.eventName
}

func (p *DispatchEventPlugin) SuccessAction() string {
	return p.successAction
}

func (p *DispatchEventPlugin) ErrorAction() string {
	return p.errorAction
}

// PluginEvent returns the event name and payload to publish for input.
func (p *DispatchEventPlugin) PluginEvent(ctx context.Context, input map[string]any) (string, map[string]any, error) {
	transformed, err := transformer.Apply(ctx, p.transformers, input)
	if err != nil {
		return "", nil, wrapInvocation(p, err)
	}

	payload, err := asContext(transformed)
	if err != nil {
		return "", nil, wrapInvocation(p, err)
	}

	return p.eventName, payload, nil
}
