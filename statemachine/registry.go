package statemachine

import (
	"maps"
	"sync"
)

// Registry holds the actions and guards a definition may reference by name.
// Hosts register their own actions here; Compile adds the built-ins.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	guards  map[string]Guard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
		guards:  make(map[string]Guard),
	}
}

// RegisterAction registers an action under its name, replacing any previous one.
func (r *Registry) RegisterAction(action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actions[action.Name()] = action
}

// RegisterActionFunc registers a function as a named action.
func (r *Registry) RegisterActionFunc(name string, fn ActionFunc) {
	r.RegisterAction(NewAction(name, fn))
}

// RegisterGuard registers a guard under a type name, replacing any previous one.
func (r *Registry) RegisterGuard(guardType string, guard Guard) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.guards[guardType] = guard
}

// Action looks up an action by name.
func (r *Registry) Action(name string) (Action, bool) { //nolint:ireturn
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[name]

	return action, ok
}

// Guard looks up a guard by type.
func (r *Registry) Guard(guardType string) (Guard, bool) { //nolint:ireturn
	r.mu.RLock()
	defer r.mu.RUnlock()

	guard, ok := r.guards[guardType]

	return guard, ok
}

// registerActionIfAbsent keeps the first registration of a name.
func (r *Registry) registerActionIfAbsent(action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.actions[action.Name()]; !ok {
		r.actions[action.Name()] = action
	}
}

func (r *Registry) registerGuardIfAbsent(guardType string, guard Guard) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.guards[guardType]; !ok {
		r.guards[guardType] = guard
	}
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return &Registry{
		actions: maps.Clone(r.actions),
		guards:  maps.Clone(r.guards),
	}
}
