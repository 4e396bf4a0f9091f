package plugins

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/amp-labs/workflow-core/errors"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/transformer"
)

// APIBuilder builds an API plugin of one kind.
type APIBuilder func(d Descriptor, deps Deps) (APIPlugin, error)

// CommonBuilder builds a common plugin of one kind. actions holds the API and
// child-workflow plugins already built, by name.
type CommonBuilder func(d Descriptor, deps Deps, actions map[string]ActionPlugin) (CommonPlugin, error)

// VendorEndpoints are the base URLs vendor kinds default to.
type VendorEndpoints struct {
	UnifiedAPIURL string `json:"unifiedApiUrl" yaml:"unifiedApiUrl"`
	EmailAPIURL   string `json:"emailApiUrl"   yaml:"emailApiUrl"`
}

// Deps is what plugins may need from the host.
type Deps struct {
	RuntimeID     string
	RuntimeConfig any
	Secrets       SecretsManager
	HTTPClient    *http.Client
	Vendors       VendorEndpoints

	InvokeRiskRules     RiskRulesFunc
	InvokeWorkflowToken WorkflowTokenFunc
	InvokeChildWorkflow ChildWorkflowFunc
}

// Extensions is the plugin configuration of one workflow.
type Extensions struct {
	StatePlugins         []*StatePlugin
	CommonPlugins        []Descriptor
	APIPlugins           []Descriptor
	ChildWorkflowPlugins []Descriptor
	DispatchEventPlugins []Descriptor

	// Prebuilt are plugin instances added as-is to their category.
	Prebuilt []Plugin
}

// Registry maps plugin kinds to builders. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	common map[string]CommonBuilder
	api    map[string]APIBuilder
}

// NewRegistry returns a registry with every built-in kind registered.
func NewRegistry() *Registry {
	r := &Registry{
		common: map[string]CommonBuilder{
			KindIterative:          buildIterative,
			KindTransformer:        buildTransformer,
			KindRiskRules:          buildRiskRules,
			KindAttachUIDefinition: buildWorkflowToken,
		},
		api: map[string]APIBuilder{
			KindAPI:           buildAPI,
			KindWebhook:       buildWebhook,
			KindTemplateEmail: buildTemplateEmail,
			KindKYCSession:    buildKYCSession,
		},
	}

	for _, kind := range VendorKinds {
		r.api[kind] = vendorBuilder(kind)
	}

	return r
}

// RegisterCommon adds or replaces the builder of a common plugin kind.
func (r *Registry) RegisterCommon(kind string, builder CommonBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.common[kind] = builder
}

// RegisterAPI adds or replaces the builder of an API plugin kind.
func (r *Registry) RegisterAPI(kind string, builder APIBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.api[kind] = builder
}

// APIKind returns the kind whose builder builds d. Unregistered kinds fall
// back to "api" when both callback actions are set and to "webhook"
// otherwise.
func (r *Registry) APIKind(d Descriptor) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.api[d.PluginKind]; ok && d.PluginKind != "" {
		return d.PluginKind
	}

	if d.HasCallbackActions() {
		return KindAPI
	}

	return KindWebhook
}

// CommonKind returns the kind whose builder builds d. Unregistered kinds fall
// back to "iterative".
func (r *Registry) CommonKind(d Descriptor) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.common[d.PluginKind]; ok {
		return d.PluginKind
	}

	return KindIterative
}

// Build turns ext into plugin instances. API and child-workflow plugins are
// built first so iterative plugins can reference them.
func (r *Registry) Build(ctx context.Context, ext Extensions, deps Deps) (*Set, error) {
	set := &Set{State: slices.Clone(ext.StatePlugins)}
	actions := make(map[string]ActionPlugin)

	for _, d := range ext.APIPlugins {
		if d.Name == "" {
			return nil, ErrMissingName
		}

		kind := r.APIKind(d)

		r.mu.RLock()
		builder := r.api[kind]
		r.mu.RUnlock()

		p, err := builder(d, deps)
		if err != nil {
			return nil, fmt.Errorf("building api plugin %q: %w", d.Name, err)
		}

		set.API = append(set.API, p)
		actions[p.Name()] = p
	}

	for _, d := range ext.ChildWorkflowPlugins {
		if d.Name == "" {
			return nil, ErrMissingName
		}

		p, err := newChildWorkflowPlugin(d, deps)
		if err != nil {
			return nil, err
		}

		set.ChildWorkflow = append(set.ChildWorkflow, p)
		actions[p.Name()] = p
	}

	for _, p := range ext.Prebuilt {
		switch p := p.(type) {
		case APIPlugin:
			actions[p.Name()] = p
		case *ChildWorkflowPlugin:
			actions[p.Name()] = p
		}
	}

	for _, d := range ext.CommonPlugins {
		if d.Name == "" {
			return nil, ErrMissingName
		}

		kind := r.CommonKind(d)
		if kind != d.PluginKind {
			logger.Get(ctx).WarnContext(ctx, "unknown common plugin kind, treating as iterative",
				"plugin", d.Name,
				"kind", d.PluginKind)
		}

		r.mu.RLock()
		builder := r.common[kind]
		r.mu.RUnlock()

		p, err := builder(d, deps, actions)
		if err != nil {
			return nil, fmt.Errorf("building common plugin %q: %w", d.Name, err)
		}

		set.Common = append(set.Common, p)
	}

	for _, d := range ext.DispatchEventPlugins {
		p, err := NewDispatchEventPlugin(d)
		if err != nil {
			return nil, err
		}

		set.DispatchEvent = append(set.DispatchEvent, p)
	}

	if err := set.add(ext.Prebuilt...); err != nil {
		return nil, err
	}

	return set, nil
}

// buildIterative leaves action nil when actionPluginName matches nothing; the
// plugin then fails when invoked, not when the runner is built.
func buildIterative(d Descriptor, _ Deps, actions map[string]ActionPlugin) (CommonPlugin, error) { //nolint:ireturn
	action := actions[d.ActionPluginName]

	iterateOn, err := transformer.NewAll(d.IterateOn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}

	return &IterativePlugin{
		Base:          NewBase(d.Name, d.StateNames),
		persistence:   persistence{destination: d.PersistResponseDestination},
		iterateOn:     iterateOn,
		action:        action,
		actionName:    d.ActionPluginName,
		successAction: d.SuccessAction,
		errorAction:   d.ErrorAction,
	}, nil
}

func buildTransformer(d Descriptor, _ Deps, _ map[string]ActionPlugin) (CommonPlugin, error) { //nolint:ireturn
	transformers, err := transformer.NewAll(d.Transformers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}

	return &TransformerPlugin{
		Base:         NewBase(d.Name, d.StateNames),
		persistence:  persistence{destination: d.PersistResponseDestination},
		transformers: transformers,
	}, nil
}

func buildRiskRules(d Descriptor, deps Deps, _ map[string]ActionPlugin) (CommonPlugin, error) { //nolint:ireturn
	if deps.InvokeRiskRules == nil {
		return nil, fmt.Errorf("%w: risk rules evaluator", ErrMissingDependency)
	}

	return &RiskRulesPlugin{
		Base:          NewBase(d.Name, d.StateNames),
		persistence:   persistence{destination: d.PersistResponseDestination},
		rulesSource:   d.RulesSource,
		action:        deps.InvokeRiskRules,
		successAction: d.SuccessAction,
		errorAction:   d.ErrorAction,
	}, nil
}

func buildWorkflowToken(d Descriptor, deps Deps, _ map[string]ActionPlugin) (CommonPlugin, error) { //nolint:ireturn
	if deps.InvokeWorkflowToken == nil {
		return nil, fmt.Errorf("%w: workflow token issuer", ErrMissingDependency)
	}

	return &WorkflowTokenPlugin{
		Base:            NewBase(d.Name, d.StateNames),
		persistence:     persistence{destination: d.PersistResponseDestination},
		uiDefinitionID:  d.UIDefinitionID,
		expireInMinutes: d.ExpireInMinutes,
		action:          deps.InvokeWorkflowToken,
		successAction:   d.SuccessAction,
		errorAction:     d.ErrorAction,
	}, nil
}

// Set is the built plugins of one workflow, by category, in declaration
// order.
type Set struct {
	State         []*StatePlugin
	Common        []CommonPlugin
	API           []APIPlugin
	ChildWorkflow []*ChildWorkflowPlugin
	DispatchEvent []*DispatchEventPlugin
}

func (s *Set) add(plugins ...Plugin) error {
	for _, p := range plugins {
		switch p := p.(type) {
		case *StatePlugin:
			s.State = append(s.State, p)
		case APIPlugin:
			s.API = append(s.API, p)
		case CommonPlugin:
			s.Common = append(s.Common, p)
		case *ChildWorkflowPlugin:
			s.ChildWorkflow = append(s.ChildWorkflow, p)
		case *DispatchEventPlugin:
			s.DispatchEvent = append(s.DispatchEvent, p)
		default:
			return fmt.Errorf("%w: %T", ErrUnknownPluginKind, p)
		}
	}

	return nil
}

// Lookup finds an invokable plugin by name, searching API, common,
// child-workflow and dispatch-event plugins in that order.
func (s *Set) Lookup(name string) (Plugin, bool) { //nolint:ireturn
	for _, p := range s.API {
		if p.Name() == name {
			return p, true
		}
	}

	for _, p := range s.Common {
		if p.Name() == name {
			return p, true
		}
	}

	for _, p := range s.ChildWorkflow {
		if p.Name() == name {
			return p, true
		}
	}

	for _, p := range s.DispatchEvent {
		if p.Name() == name {
			return p, true
		}
	}

	return nil, false
}

// All returns every plugin, state plugins first.
func (s *Set) All() []Plugin {
	all := make([]Plugin, 0, len(s.State)+len(s.Common)+len(s.API)+len(s.ChildWorkflow)+len(s.DispatchEvent))

	for _, p := range s.State {
		all = append(all, p)
	}

	for _, p := range s.Common {
		all = append(all, p)
	}

	for _, p := range s.API {
		all = append(all, p)
	}

	for _, p := range s.ChildWorkflow {
		all = append(all, p)
	}

	for _, p := range s.DispatchEvent {
		all = append(all, p)
	}

	return all
}

// Validate reports plugins bound to states hasState does not know and names
// used twice within a category.
func (s *Set) Validate(hasState func(string) bool) error {
	errs := &errors.Collection{}
	seen := make(map[Category]map[string]bool)

	for _, p := range s.All() {
		names := seen[p.Category()]
		if names == nil {
			names = make(map[string]bool)
			seen[p.Category()] = names
		}

		if names[p.Name()] {
			errs.Add(fmt.Errorf("%w: %s plugin %q", ErrDuplicateName, p.Category(), p.Name()))
		}

		names[p.Name()] = true

		for _, state := range p.StateNames() {
			if !hasState(state) {
				errs.Add(fmt.Errorf("%w: %s plugin %q is bound to %q", ErrUnknownStateName, p.Category(), p.Name(), state))
			}
		}
	}

	return errs.GetError()
}

// BoundTo filters plugins to those bound to state, keeping their order.
func BoundTo[P Plugin](plugins []P, state string) []P {
	var bound []P

	for _, p := range plugins {
		if slices.Contains(p.StateNames(), state) {
			bound = append(bound, p)
		}
	}

	return bound
}
