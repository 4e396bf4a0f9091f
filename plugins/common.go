package plugins

import (
	"context"
	"fmt"

	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/merge"
	"github.com/amp-labs/workflow-core/transformer"
)

// Common plugin kinds.
const (
	KindIterative          = "iterative"
	KindTransformer        = "transformer"
	KindRiskRules          = "riskRules"
	KindAttachUIDefinition = "attach-ui-definition"
)

// CommonPlugin shapes data or calls host services without network access of
// its own.
type CommonPlugin interface {
	Plugin
	Kind() string
	PersistResponseDestination() string
	Invoke(ctx context.Context, input map[string]any) Result
}

// persistence is embedded by plugins whose response the runner may merge into
// the context at a configured path.
type persistence struct {
	destination string
}

// PersistResponseDestination is the dotted context path the response is merged
// at. Empty means pluginsOutput.<name>.
func (p persistence) PersistResponseDestination() string {
	return p.destination
}

// ActionPlugin is a plugin an iterative plugin can invoke per element: an API
// or child-workflow plugin.
type ActionPlugin interface {
	Plugin
	Invoke(ctx context.Context, input map[string]any) Result
}

// Host callbacks used by common and child-workflow plugins.
type (
	// RiskRulesFunc evaluates the rule set described by rulesSource.
	RiskRulesFunc func(ctx context.Context, req RiskRulesRequest) (any, error)
	// WorkflowTokenFunc issues a UI token for the running workflow.
	WorkflowTokenFunc func(ctx context.Context, req WorkflowTokenRequest) (any, error)
	// ChildWorkflowFunc starts a nested workflow.
	ChildWorkflowFunc func(ctx context.Context, req ChildWorkflowRequest) error
)

// RiskRulesRequest is passed to RiskRulesFunc.
type RiskRulesRequest struct {
	Context     map[string]any
	RulesSource map[string]any
}

// WorkflowTokenRequest is passed to WorkflowTokenFunc.
type WorkflowTokenRequest struct {
	Context         map[string]any
	UIDefinitionID  string
	ExpireInMinutes int
}

// IterativePlugin invokes an action plugin once per element of the list its
// iterateOn transformers produce. Map elements are merged over the input;
// other elements are passed under the "item" key.
type IterativePlugin struct {
	Base
	persistence

	iterateOn     []transformer.Transformer
	action        ActionPlugin
	actionName    string
	successAction string
	errorAction   string
}

func (p *IterativePlugin) Category() Category {
	return CategoryCommon
}

func (p *IterativePlugin) Kind() string {
	return KindIterative
}

func (p *IterativePlugin) Invoke(ctx context.Context, input map[string]any) Result {
	if p.action == nil {
		err := fmt.Errorf("%w: %q", ErrActionPluginNotFound, p.actionName)

		return Result{Error: wrapInvocation(p, err), CallbackAction: p.errorAction}
	}

	values, err := transformer.Apply(ctx, p.iterateOn, input)
	if err != nil {
		return Result{Error: wrapInvocation(p, err), CallbackAction: p.errorAction}
	}

	items, ok := values.([]any)
	if !ok {
		logger.Get(ctx).WarnContext(ctx, "iterative plugin found nothing to iterate",
			"plugin", p.Name(),
			"type", fmt.Sprintf("%T", values))

		return Result{Error: wrapInvocation(p, ErrNotIterable), CallbackAction: p.errorAction}
	}

	for _, item := range items {
		params := merge.CloneMap(input)

		if fields, isMap := merge.AsMap(item); isMap {
			for k, v := range fields {
				params[k] = v
			}
		} else {
			params["item"] = item
		}

		result := p.action.Invoke(ctx, params)
		if result.Error != nil {
			return Result{Error: wrapInvocation(p, result.Error), CallbackAction: p.errorAction}
		}
	}

	return Result{CallbackAction: p.successAction}
}

// TransformerPlugin runs its transformers over the input and returns the
// result as its response.
type TransformerPlugin struct {
	Base
	persistence

	transformers []transformer.Transformer
}

func (p *TransformerPlugin) Category() Category {
	return CategoryCommon
}

func (p *TransformerPlugin) Kind() string {
	return KindTransformer
}

func (p *TransformerPlugin) Invoke(ctx context.Context, input map[string]any) Result {
	response, err := transformer.Apply(ctx, p.transformers, input)
	if err != nil {
		return Result{Error: wrapInvocation(p, err)}
	}

	return Result{Response: response}
}

// RiskRulesPlugin asks the host to evaluate a rule set.
type RiskRulesPlugin struct {
	Base
	persistence

	rulesSource   map[string]any
	action        RiskRulesFunc
	successAction string
	errorAction   string
}

func (p *RiskRulesPlugin) Category() Category {
	return CategoryCommon
}

func (p *RiskRulesPlugin) Kind() string {
	return KindRiskRules
}

func (p *RiskRulesPlugin) Invoke(ctx context.Context, input map[string]any) Result {
	response, err := p.action(ctx, RiskRulesRequest{Context: input, RulesSource: merge.CloneMap(p.rulesSource)})
	if err != nil {
		return Result{Error: wrapInvocation(p, err), CallbackAction: p.errorAction}
	}

	return Result{Response: response, CallbackAction: p.successAction}
}

// WorkflowTokenPlugin attaches a UI definition to the workflow by asking the
// host for a token.
type WorkflowTokenPlugin struct {
	Base
	persistence

	uiDefinitionID  string
	expireInMinutes int
	action          WorkflowTokenFunc
	successAction   string
	errorAction     string
}

func (p *WorkflowTokenPlugin) Category() Category {
	return CategoryCommon
}

func (p *WorkflowTokenPlugin) Kind() string {
	return KindAttachUIDefinition
}

func (p *WorkflowTokenPlugin) Invoke(ctx context.Context, input map[string]any) Result {
	token, err := p.action(ctx, WorkflowTokenRequest{
		Context:         input,
		UIDefinitionID:  p.uiDefinitionID,
		ExpireInMinutes: p.expireInMinutes,
	})
	if err != nil {
		return Result{Error: wrapInvocation(p, err), CallbackAction: p.errorAction}
	}

	return Result{Response: token, CallbackAction: p.successAction}
}
