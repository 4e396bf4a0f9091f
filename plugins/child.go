package plugins

import (
	"context"
	"fmt"

	"github.com/amp-labs/workflow-core/merge"
	"github.com/amp-labs/workflow-core/transformer"
	"github.com/google/uuid"
)

// ChildWorkflowRequest is passed to ChildWorkflowFunc.
type ChildWorkflowRequest struct {
	// RequestID identifies this start request; hosts can use it for
	// idempotency.
	RequestID       string
	ParentRuntimeID string
	ParentConfig    any
	DefinitionID    string
	InitEvent       string
	Context         map[string]any
}

// ChildWorkflowPlugin asks the host to start a nested workflow seeded with
// the transformed context of the parent.
type ChildWorkflowPlugin struct {
	Base

	definitionID    string
	initEvent       string
	transformers    []transformer.Transformer
	parentRuntimeID string
	parentConfig    any
	action          ChildWorkflowFunc
	successAction   string
	errorAction     string
}

func newChildWorkflowPlugin(d Descriptor, deps Deps) (*ChildWorkflowPlugin, error) {
	if d.DefinitionID == "" {
		return nil, fmt.Errorf("%w: child workflow plugin %q has no definitionId", ErrInvalidDescriptor, d.Name)
	}

	transformers, err := transformer.NewAll(d.Transformers)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDescriptor, d.Name, err)
	}

	return &ChildWorkflowPlugin{
		Base:            NewBase(d.Name, d.StateNames),
		definitionID:    d.DefinitionID,
		initEvent:       d.InitEvent,
		transformers:    transformers,
		parentRuntimeID: deps.RuntimeID,
		parentConfig:    deps.RuntimeConfig,
		action:          deps.InvokeChildWorkflow,
		successAction:   d.SuccessAction,
		errorAction:     d.ErrorAction,
	}, nil
}

func (p *ChildWorkflowPlugin) Category() Category {
	return CategoryChildWorkflow
}

func (p *ChildWorkflowPlugin) DefinitionID() string {
	return p.definitionID
}

func (p *ChildWorkflowPlugin) SuccessAction() string {
	return p.successAction
}

func (p *ChildWorkflowPlugin) ErrorAction() string {
	return p.errorAction
}

func (p *ChildWorkflowPlugin) Invoke(ctx context.Context, input map[string]any) Result {
	if p.action == nil {
		return Result{
			Error:          wrapInvocation(p, fmt.Errorf("%w: child workflow launcher", ErrMissingDependency)),
			CallbackAction: p.errorAction,
		}
	}

	transformed, err := transformer.Apply(ctx, p.transformers, input)
	if err != nil {
		return Result{Error: wrapInvocation(p, err), CallbackAction: p.errorAction}
	}

	childContext, err := asContext(transformed)
	if err != nil {
		return Result{Error: wrapInvocation(p, err), CallbackAction: p.errorAction}
	}

	requestID, err := uuid.NewV7()
	if err != nil {
		return Result{Error: wrapInvocation(p, err), CallbackAction: p.errorAction}
	}

	err = p.action(ctx, ChildWorkflowRequest{
		RequestID:       requestID.String(),
		ParentRuntimeID: p.parentRuntimeID,
		ParentConfig:    p.parentConfig,
		DefinitionID:    p.definitionID,
		InitEvent:       p.initEvent,
		Context:         childContext,
	})
	if err != nil {
		return Result{Error: wrapInvocation(p, err), CallbackAction: p.errorAction}
	}

	return Result{CallbackAction: p.successAction}
}

func asContext(value any) (map[string]any, error) {
	if value == nil {
		return map[string]any{}, nil
	}

	fields, ok := merge.AsMap(value)
	if !ok {
		return nil, fmt.Errorf("%w: transformers produced %T, want an object", transformer.ErrTransform, value)
	}

	return fields, nil
}
