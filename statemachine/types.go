// Package statemachine implements a hierarchical state machine interpreter.
//
// A Definition is compiled into a Machine. Machine.Transition is a pure function
// of (state, context, event): it selects the transition, evaluates guards and
// plans the exit/transition/entry actions without running them. Machine.Execute
// runs a planned snapshot's actions, and Machine.Send does both.
package statemachine

import (
	"context"
	"slices"
	"strings"
)

// Event drives transitions. The payload is merged over the context when guards
// are evaluated.
type Event struct {
	Type    string         `json:"type"              yaml:"type"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// ActionKind says where in a transition an action was planned.
type ActionKind string

const (
	ActionKindExit       ActionKind = "exit"
	ActionKindTransition ActionKind = "transition"
	ActionKindEntry      ActionKind = "entry"
)

// ActionRef is one planned action invocation.
type ActionRef struct {
	Name  string     `json:"name"`
	State string     `json:"state"`
	Kind  ActionKind `json:"kind"`
}

// ActionArgs is what an action receives when it runs.
type ActionArgs struct {
	MachineID string
	// State is the state whose entry/exit list (or outgoing transition) planned the action.
	State   string
	Event   Event
	Context *Context
}

// Action represents an executable side effect or context assignment.
type Action interface {
	Name() string
	Execute(ctx context.Context, args *ActionArgs) error
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, args *ActionArgs) error

type funcAction struct {
	name string
	fn   ActionFunc
}

// NewAction creates a named Action from a function.
func NewAction(name string, fn ActionFunc) Action { //nolint:ireturn
	return &funcAction{name: name, fn: fn}
}

func (a *funcAction) Name() string {
	return a.name
}

func (a *funcAction) Execute(ctx context.Context, args *ActionArgs) error {
	return a.fn(ctx, args)
}

// GuardArgs is the input of a guard evaluation.
type GuardArgs struct {
	MachineID string
	State     string
	Context   map[string]any
	Event     Event
	Options   map[string]any
}

// Data returns the guard evaluation document: the context with the event payload
// merged over it (top-level keys only).
func (a GuardArgs) Data() map[string]any {
	data := make(map[string]any, len(a.Context)+len(a.Event.Payload))

	for k, v := range a.Context {
		data[k] = v
	}

	for k, v := range a.Event.Payload {
		data[k] = v
	}

	return data
}

// Guard decides whether a candidate transition may fire.
type Guard interface {
	Evaluate(ctx context.Context, args GuardArgs) (bool, error)
}

// GuardFunc adapts a function to the Guard interface.
type GuardFunc func(ctx context.Context, args GuardArgs) (bool, error)

// Evaluate calls f.
func (f GuardFunc) Evaluate(ctx context.Context, args GuardArgs) (bool, error) {
	return f(ctx, args)
}

// Snapshot is the state of a machine after (or at rest between) transitions.
type Snapshot struct {
	MachineID string         `json:"machineId,omitempty"`
	Value     string         `json:"value"`
	Previous  string         `json:"previous,omitempty"`
	Context   map[string]any `json:"context"`
	Event     Event          `json:"event"`
	// Changed is true when the state value changed or actions were planned.
	Changed    bool        `json:"changed"`
	Done       bool        `json:"done"`
	Tags       []string    `json:"tags,omitempty"`
	NextEvents []string    `json:"nextEvents"`
	Actions    []ActionRef `json:"actions,omitempty"`
}

// HasTag reports whether the active state configuration carries tag.
func (s *Snapshot) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// Can reports whether eventType is among the legal next events.
func (s *Snapshot) Can(eventType string) bool {
	return slices.Contains(s.NextEvents, eventType)
}

// Matches reports whether the snapshot is in state (or a descendant of it).
func (s *Snapshot) Matches(state string) bool {
	return Matches(s.Value, state)
}

// Matches reports whether value equals state or is nested under it.
func Matches(value, state string) bool {
	return value == state || strings.HasPrefix(value, state+PathSeparator)
}
