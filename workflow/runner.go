// Package workflow runs a compiled state machine together with its plugins.
//
// A Runner owns the current state value and the context of one workflow
// runtime. SendEvent drives the machine and, when the state changes, invokes
// the plugins bound to the new state in a fixed order: dispatch-event,
// child-workflow, common, then API plugins. Callback actions returned by
// plugins are sent back into the runner before the next plugin runs.
//
// A Runner is single-writer: hosts must not call SendEvent, InvokePlugin or
// OverrideContext concurrently on one instance. Accessors such as State and
// Context are safe to call from bus subscribers while an event is in flight.
package workflow

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/amp-labs/workflow-core/bus"
	"github.com/amp-labs/workflow-core/http/transport"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/merge"
	"github.com/amp-labs/workflow-core/plugins"
	"github.com/amp-labs/workflow-core/statemachine"
	"github.com/amp-labs/workflow-core/store"
)

// WorkflowContext restores a runner: the persisted context and state value.
type WorkflowContext struct {
	MachineContext map[string]any `json:"machineContext,omitempty" yaml:"machineContext,omitempty"`
	State          string         `json:"state,omitempty"          yaml:"state,omitempty"`
}

// Args is everything a runner is built from.
type Args struct {
	RuntimeID  string
	Definition *statemachine.Definition
	// Config is the runtime configuration passed to every plugin as
	// workflowRuntimeConfig.
	Config          any
	WorkflowActions []statemachine.Action
	WorkflowContext *WorkflowContext
	Extensions      plugins.Extensions
	SecretsManager  plugins.SecretsManager
	Vendors         plugins.VendorEndpoints

	InvokeRiskRules     plugins.RiskRulesFunc
	InvokeChildWorkflow plugins.ChildWorkflowFunc
	InvokeWorkflowToken plugins.WorkflowTokenFunc
}

// Option configures a Runner.
type Option func(*options)

type options struct {
	debug            bool
	store            store.Store
	bus              *bus.Bus
	httpClient       *http.Client
	maxCallbackDepth int
	registry         *plugins.Registry
}

// WithDebugMode logs the context after every plugin pass.
func WithDebugMode(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

// WithStore saves state and context to s whenever they change.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithBus shares a notification bus. A runner closes only the bus it created.
func WithBus(b *bus.Bus) Option {
	return func(o *options) {
		o.bus = b
	}
}

// WithHTTPClient sets the client API plugins use.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithMaxCallbackDepth limits how deeply callback actions may recurse. Zero
// means no limit.
func WithMaxCallbackDepth(depth int) Option {
	return func(o *options) {
		o.maxCallbackDepth = depth
	}
}

// WithRegistry sets the plugin registry used to build descriptors.
func WithRegistry(registry *plugins.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// Runner drives one workflow runtime.
type Runner struct {
	runtimeID        string
	config           any
	machine          *statemachine.Machine
	plugins          *plugins.Set
	bus              *bus.Bus
	ownsBus          bool
	store            store.Store
	debug            bool
	maxCallbackDepth int

	mu    sync.RWMutex
	state string
	data  map[string]any
}

// New builds a runner. Configuration problems are returned as a
// *ConfigurationError.
func New(args Args, opts ...Option) (*Runner, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if args.Definition == nil {
		return nil, configurationError(ErrMissingDefinition)
	}

	r := &Runner{
		runtimeID:        args.RuntimeID,
		config:           args.Config,
		bus:              o.bus,
		store:            o.store,
		debug:            o.debug,
		maxCallbackDepth: o.maxCallbackDepth,
		data:             initialContext(args),
		state:            args.Definition.Initial,
	}

	if args.WorkflowContext != nil && args.WorkflowContext.State != "" {
		r.state = args.WorkflowContext.State
	}

	ctx := logger.WithRuntimeID(context.Background(), r.runtimeID)

	machine, err := statemachine.Compile(args.Definition,
		statemachine.WithActions(args.WorkflowActions...),
		statemachine.WithGuardFailureHook(r.onGuardFailure),
	)
	if err != nil {
		return nil, configurationError(err)
	}

	r.machine = machine

	if !machine.HasState(r.state) {
		return nil, configurationError(fmt.Errorf("%w: %q", statemachine.ErrUnknownState, r.state))
	}

	registry := o.registry
	if registry == nil {
		registry = plugins.NewRegistry()
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = transport.NewClient(ctx, transport.DefaultConfig())
	}

	set, err := registry.Build(ctx, args.Extensions, plugins.Deps{
		RuntimeID:           args.RuntimeID,
		RuntimeConfig:       args.Config,
		Secrets:             args.SecretsManager,
		HTTPClient:          httpClient,
		Vendors:             args.Vendors,
		InvokeRiskRules:     args.InvokeRiskRules,
		InvokeWorkflowToken: args.InvokeWorkflowToken,
		InvokeChildWorkflow: args.InvokeChildWorkflow,
	})
	if err != nil {
		return nil, configurationError(err)
	}

	if err := set.Validate(machine.HasState); err != nil {
		return nil, configurationError(err)
	}

	r.plugins = set

	if err := r.bindStatePlugins(); err != nil {
		return nil, configurationError(err)
	}

	if r.bus == nil {
		r.bus = bus.New()
		r.ownsBus = true
	}

	return r, nil
}

// initialContext prefers a non-empty persisted context over the definition's.
func initialContext(args Args) map[string]any {
	if args.WorkflowContext != nil && len(args.WorkflowContext.MachineContext) > 0 {
		return merge.CloneMap(args.WorkflowContext.MachineContext)
	}

	if args.Definition.Context != nil {
		return merge.CloneMap(args.Definition.Context)
	}

	return map[string]any{}
}

// bindStatePlugins turns non-blocking state plugins into entry (pre) or exit
// (post) actions of their states.
func (r *Runner) bindStatePlugins() error {
	for _, p := range r.plugins.State {
		if p.IsBlocking() {
			continue
		}

		action := statemachine.NewAction(p.Name(), func(ctx context.Context, args *statemachine.ActionArgs) error {
			r.runStatePlugin(ctx, p, args.Context.Snapshot(), args.Event, args.State)

			return nil
		})

		for _, state := range p.StateNames() {
			if err := r.machine.BindAction(state, p.ActionKind(), action); err != nil {
				return fmt.Errorf("state plugin %q: %w", p.Name(), err)
			}
		}
	}

	return nil
}

func (r *Runner) onGuardFailure(ctx context.Context, args statemachine.GuardArgs) {
	r.notify(ctx, bus.EvaluationError, bus.Event{
		Type:    RuleEvaluationFailure,
		State:   args.State,
		Payload: merge.CloneMap(args.Options),
	})
}

// RuntimeID returns the workflow runtime id.
func (r *Runner) RuntimeID() string {
	return r.runtimeID
}

// State returns the current state value.
func (r *Runner) State() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.state
}

// Context returns a deep copy of the current context.
func (r *Runner) Context() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return merge.CloneMap(r.data)
}

// OverrideContext replaces the context without running the machine. It is not
// persisted until the next committed step.
func (r *Runner) OverrideContext(data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data = merge.CloneMap(data)
}

// Workflow returns the compiled machine.
func (r *Runner) Workflow() *statemachine.Machine {
	return r.machine
}

// Plugins returns the runner's plugins.
func (r *Runner) Plugins() *plugins.Set {
	return r.plugins
}

// Snapshot describes the runner at rest: state, context, tags and the events
// it accepts next.
func (r *Runner) Snapshot() (*statemachine.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.machine.Snapshot(r.state, r.data)
}

// Record returns what a host has to persist to restore the runner later.
func (r *Runner) Record() store.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return store.Record{State: r.state, Context: merge.CloneMap(r.data)}
}

// Subscribe registers handler for notifications called name.
func (r *Runner) Subscribe(name string, handler bus.Handler) (unsubscribe func()) {
	return r.bus.Subscribe(name, handler)
}

// Notify publishes event to the subscribers of name and waits for them.
func (r *Runner) Notify(ctx context.Context, name string, event bus.Event) error {
	return r.bus.Notify(ctx, name, event)
}

// notify publishes and logs subscriber failures instead of returning them.
func (r *Runner) notify(ctx context.Context, name string, event bus.Event) {
	if err := r.bus.Notify(ctx, name, event); err != nil {
		logger.Get(ctx).WarnContext(ctx, "notification subscribers failed",
			"event", name,
			"type", event.Type,
			"error", err)
	}
}

// Close releases the bus if the runner created it.
func (r *Runner) Close() {
	if r.ownsBus {
		r.bus.Close()
	}
}

func (r *Runner) current() (string, map[string]any) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.state, r.data
}

// commit stores the new state and context on the runner and in the store.
func (r *Runner) commit(ctx context.Context, state string, data map[string]any) error {
	r.mu.Lock()
	r.state = state
	r.data = data
	r.mu.Unlock()

	return r.persist(ctx)
}

// updateContext applies fn to the context and persists the result.
func (r *Runner) updateContext(ctx context.Context, fn func(data map[string]any) map[string]any) error {
	r.mu.Lock()
	r.data = fn(r.data)
	r.mu.Unlock()

	return r.persist(ctx)
}

func (r *Runner) persist(ctx context.Context) error {
	if r.store == nil || r.runtimeID == "" {
		return nil
	}

	if err := r.store.Save(ctx, r.runtimeID, r.Record()); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	return nil
}

// input is the document plugins are invoked with.
func (r *Runner) input() map[string]any {
	return plugins.NewInput(r.Context(), r.config, r.runtimeID)
}
