package statemachine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	wferrors "github.com/amp-labs/workflow-core/errors"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/merge"
)

// Machine is a compiled, validated definition. It holds no current state:
// callers pass the state value and context into every call.
type Machine struct {
	id         string
	definition *Definition
	registry   *Registry
	root       *node
	nodes      map[string]*node
	mu         sync.RWMutex // guards node entry/exit lists against BindAction
}

// Option configures Compile.
type Option func(*compileOptions)

type compileOptions struct {
	registry    *Registry
	actions     []Action
	guards      map[string]Guard
	failureHook GuardFailureHook
}

// WithRegistry supplies the action/guard registry. It is cloned, so later
// registrations on it do not affect the machine.
func WithRegistry(registry *Registry) Option {
	return func(o *compileOptions) {
		o.registry = registry
	}
}

// WithActions registers additional actions.
func WithActions(actions ...Action) Option {
	return func(o *compileOptions) {
		o.actions = append(o.actions, actions...)
	}
}

// WithGuard registers a guard type.
func WithGuard(guardType string, guard Guard) Option {
	return func(o *compileOptions) {
		if o.guards == nil {
			o.guards = make(map[string]Guard)
		}

		o.guards[guardType] = guard
	}
}

// WithGuardFailureHook sets the hook the logic guard calls on failures that
// request it via assignOnFailure.
func WithGuardFailureHook(hook GuardFailureHook) Option {
	return func(o *compileOptions) {
		o.failureHook = hook
	}
}

// Compile validates def and builds an executable machine. The root of the
// machine handles UPDATE_CONTEXT and DEEP_MERGE_CONTEXT unless the definition
// declares its own root transitions for them.
func Compile(def *Definition, opts ...Option) (*Machine, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is nil", ErrInvalidDefinition)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	options := &compileOptions{}
	for _, opt := range opts {
		opt(options)
	}

	registry := NewRegistry()
	if options.registry != nil {
		registry = options.registry.Clone()
	}

	for _, action := range options.actions {
		registry.RegisterAction(action)
	}

	for guardType, guard := range options.guards {
		registry.RegisterGuard(guardType, guard)
	}

	registerBuiltins(registry, options.failureHook)

	m := &Machine{
		id:         def.ID,
		definition: def,
		registry:   registry,
		nodes:      make(map[string]*node),
	}

	rootOn := builtinTransitions()
	for event, list := range def.On {
		rootOn[event] = list
	}

	m.root = &node{
		typ:      StateTypeCompound,
		initial:  def.Initial,
		children: make(map[string]*node),
	}
	m.nodes[""] = m.root

	for key, child := range def.States {
		m.root.children[key] = m.buildNode(m.root, joinPath("", key), child)
	}

	var errs wferrors.Collection

	m.root.on = m.compileTransitions(m.root, rootOn, &errs)

	for _, path := range m.statePaths() {
		n := m.nodes[path]
		state, _ := def.Lookup(path)
		n.on = m.compileTransitions(n, state.On, &errs)
	}

	m.checkReferences(&errs)

	if errs.HasError() {
		return nil, errs.GetError()
	}

	return m, nil
}

func (m *Machine) buildNode(parent *node, path string, state *StateNode) *node {
	n := &node{
		path:     path,
		parent:   parent,
		children: make(map[string]*node),
		typ:      state.EffectiveType(),
		initial:  state.Initial,
		entry:    slices.Clone(state.Entry),
		exit:     slices.Clone(state.Exit),
		tags:     slices.Clone(state.Tags),
	}

	m.nodes[path] = n

	for key, child := range state.States {
		n.children[key] = m.buildNode(n, joinPath(path, key), child)
	}

	return n
}

func (m *Machine) compileTransitions(
	source *node,
	on map[string]TransitionList,
	errs *wferrors.Collection,
) map[string][]*transition {
	out := make(map[string][]*transition, len(on))

	for event, list := range on {
		for _, cfg := range list {
			t := &transition{
				event:   event,
				source:  source,
				guard:   cfg.GuardConfig(),
				actions: slices.Clone(cfg.Actions),
			}

			if cfg.Target != "" {
				path := m.definition.ResolveTarget(source.path, cfg.Target)

				target, ok := m.nodes[path]
				if !ok || path == "" {
					errs.Add(fmt.Errorf("%w: %q on %s targets %q", ErrTargetNotFound, source.path, event, cfg.Target))

					continue
				}

				t.target = target
			}

			out[event] = append(out[event], t)
		}
	}

	return out
}

// checkReferences reports every action name and guard type that does not resolve.
func (m *Machine) checkReferences(errs *wferrors.Collection) {
	checkAction := func(where, name string) {
		if _, ok := m.registry.Action(name); !ok {
			errs.Add(fmt.Errorf("%w: %q referenced by %s", ErrUnknownAction, name, where))
		}
	}

	for _, path := range append([]string{""}, m.statePaths()...) {
		n := m.nodes[path]
		where := "state " + path

		if path == "" {
			where = "machine root"
		}

		for _, name := range n.entry {
			checkAction(where+" entry", name)
		}

		for _, name := range n.exit {
			checkAction(where+" exit", name)
		}

		for _, event := range sortedKeys(n.on) {
			for _, t := range n.on[event] {
				for _, name := range t.actions {
					checkAction(where+" on "+event, name)
				}

				if t.guard == nil {
					continue
				}

				if _, ok := m.registry.Guard(t.guard.Type); !ok {
					errs.Add(fmt.Errorf("%w: %q referenced by %s on %s", ErrUnknownGuard, t.guard.Type, where, event))
				}
			}
		}
	}
}

func (m *Machine) statePaths() []string {
	paths := make([]string, 0, len(m.nodes))

	for path := range m.nodes {
		if path != "" {
			paths = append(paths, path)
		}
	}

	sort.Strings(paths)

	return paths
}

// ID returns the definition id.
func (m *Machine) ID() string {
	return m.id
}

// Definition returns the definition the machine was compiled from.
func (m *Machine) Definition() *Definition {
	return m.definition
}

// InitialState returns the leaf the machine starts in.
func (m *Machine) InitialState() string {
	return m.root.initialLeaf().path
}

// HasState reports whether path names a state of the machine.
func (m *Machine) HasState(path string) bool {
	if path == "" {
		return false
	}

	_, ok := m.nodes[path]

	return ok
}

// States returns every state path, sorted.
func (m *Machine) States() []string {
	return m.statePaths()
}

// BindAction registers action and appends its name to the entry or exit list of
// state. Binding the same name to the same list twice is a no-op.
func (m *Machine) BindAction(state string, kind ActionKind, action Action) error {
	n, ok := m.nodes[state]
	if !ok || state == "" {
		return fmt.Errorf("%w: %q", ErrUnknownState, state)
	}

	m.registry.registerActionIfAbsent(action)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch kind { //nolint:exhaustive
	case ActionKindEntry:
		if !slices.Contains(n.entry, action.Name()) {
			n.entry = append(n.entry, action.Name())
		}
	case ActionKindExit:
		if !slices.Contains(n.exit, action.Name()) {
			n.exit = append(n.exit, action.Name())
		}
	default:
		return fmt.Errorf("%w: cannot bind %s action %q", ErrInvalidDefinition, kind, action.Name())
	}

	return nil
}

func (m *Machine) resolve(state string) (*node, error) {
	n, ok := m.nodes[state]
	if !ok || state == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, state)
	}

	return n.initialLeaf(), nil
}

// Snapshot describes the machine at rest in state with the given context.
func (m *Machine) Snapshot(state string, data map[string]any) (*Snapshot, error) {
	leaf, err := m.resolve(state)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		MachineID: m.id,
		Value:     leaf.path,
		Previous:  leaf.path,
		Context:   merge.CloneMap(data),
	}

	m.describe(snap, leaf)

	return snap, nil
}

// Transition computes the result of sending event in state without running
// any action. The returned snapshot owns a deep copy of data.
func (m *Machine) Transition(ctx context.Context, state string, data map[string]any, event Event) (*Snapshot, error) {
	ctx, span := startTransitionSpan(ctx, m.id, state, event.Type)

	snap, err := m.transition(ctx, state, data, event)

	finishSpan(span, err)

	return snap, err
}

func (m *Machine) transition(ctx context.Context, state string, data map[string]any, event Event) (*Snapshot, error) {
	leaf, err := m.resolve(state)
	if err != nil {
		return nil, WrapTransitionError(state, event.Type, err)
	}

	snap := &Snapshot{
		MachineID: m.id,
		Value:     leaf.path,
		Previous:  leaf.path,
		Context:   merge.CloneMap(data),
		Event:     event,
	}

	selected, err := m.selectTransition(ctx, leaf, snap.Context, event)
	if err != nil {
		return nil, WrapTransitionError(leaf.path, event.Type, err)
	}

	newLeaf := leaf

	if selected != nil {
		m.mu.RLock()
		snap.Actions, newLeaf = m.plan(leaf, selected)
		m.mu.RUnlock()

		snap.Value = newLeaf.path

		transitionsTotal.WithLabelValues(
			sanitizeMachine(m.id),
			sanitizeState(leaf.path),
			sanitizeState(newLeaf.path),
			event.Type,
		).Inc()
	}

	snap.Changed = snap.Value != snap.Previous || len(snap.Actions) > 0

	m.describe(snap, newLeaf)

	return snap, nil
}

func (m *Machine) describe(snap *Snapshot, leaf *node) {
	snap.Tags = tagsOf(leaf)
	snap.Done = leaf.typ == StateTypeFinal && leaf.parent == m.root
	snap.NextEvents = nextEvents(leaf)
}

// Execute runs the snapshot's planned actions in order. Actions mutate the
// snapshot's context; the first failing action stops execution.
func (m *Machine) Execute(ctx context.Context, snap *Snapshot) error {
	c := wrapContext(snap.Context)

	defer func() {
		snap.Context = c.raw()
	}()

	for _, ref := range snap.Actions {
		action, ok := m.registry.Action(ref.Name)
		if !ok {
			return WrapStateError(ref.State, fmt.Errorf("%w: %s", ErrUnknownAction, ref.Name))
		}

		if err := m.runAction(ctx, action, ref, snap.Event, c); err != nil {
			return err
		}
	}

	return nil
}

func (m *Machine) runAction(ctx context.Context, action Action, ref ActionRef, event Event, c *Context) error {
	ctx, span := startActionSpan(ctx, m.id, ref)
	start := time.Now()

	err := action.Execute(ctx, &ActionArgs{
		MachineID: m.id,
		State:     ref.State,
		Event:     event,
		Context:   c,
	})

	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}

	actionDuration.WithLabelValues(sanitizeMachine(m.id), ref.Name, outcome).Observe(time.Since(start).Seconds())
	finishSpan(span, err)

	if err != nil {
		logger.Get(ctx).ErrorContext(ctx, "action failed",
			"machine", m.id,
			"action", ref.Name,
			"state", ref.State,
			"error", err)

		return WrapStateError(ref.State, fmt.Errorf("%w: %s: %w", ErrActionFailed, ref.Name, err))
	}

	return nil
}

// Send transitions and executes the planned actions.
func (m *Machine) Send(ctx context.Context, state string, data map[string]any, event Event) (*Snapshot, error) {
	snap, err := m.Transition(ctx, state, data, event)
	if err != nil {
		return nil, err
	}

	if err := m.Execute(ctx, snap); err != nil {
		return snap, err
	}

	return snap, nil
}
