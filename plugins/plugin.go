// Package plugins defines the handlers a workflow runner invokes around state
// transitions.
//
// There are five categories. State plugins wrap host callbacks that run before
// or after a transition. Common plugins shape data or call host services.
// API plugins call out over HTTP. Child-workflow plugins ask the host
// to start a nested workflow. Dispatch-event plugins publish a named event on
// the notification bus.
//
// Plugin is sealed: every implementation embeds Base, so a runner can dispatch
// with an exhaustive type switch over the category interfaces.
package plugins

import (
	"errors"
	"fmt"
	"slices"
)

// Category is the closed set of plugin kinds a runner knows how to invoke.
type Category string

const (
	CategoryState         Category = "state"
	CategoryCommon        Category = "common"
	CategoryAPI           Category = "api"
	CategoryChildWorkflow Category = "child-workflow"
	CategoryDispatchEvent Category = "dispatch-event"
)

// Keys added to the context every plugin receives.
const (
	KeyRuntimeConfig = "workflowRuntimeConfig"
	KeyRuntimeID     = "workflowRuntimeId"
	KeyPluginsOutput = "pluginsOutput"
)

var (
	ErrUnknownStateName     = errors.New("plugin bound to unknown state")
	ErrMissingName          = errors.New("plugin name is required")
	ErrDuplicateName        = errors.New("duplicate plugin name")
	ErrUnknownPluginKind    = errors.New("unknown plugin kind")
	ErrMissingDependency    = errors.New("missing plugin dependency")
	ErrInvalidDescriptor    = errors.New("invalid plugin descriptor")
	ErrActionPluginNotFound = errors.New("action plugin not found")
	ErrNotIterable          = errors.New("iterateOn did not produce a list")
	ErrPluginNotFound       = errors.New("plugin not found")
)

// Plugin is the capability every plugin shares.
type Plugin interface {
	Name() string
	StateNames() []string
	Category() Category

	sealed()
}

// Base carries the name and bound states of a plugin. Custom plugins built by
// registry builders embed it.
type Base struct {
	name       string
	stateNames []string
}

// NewBase returns a Base for a plugin called name bound to stateNames.
func NewBase(name string, stateNames []string) Base {
	return Base{name: name, stateNames: slices.Clone(stateNames)}
}

func (b Base) Name() string {
	return b.name
}

func (b Base) StateNames() []string {
	return slices.Clone(b.stateNames)
}

// BoundTo reports whether the plugin is bound to state.
func (b Base) BoundTo(state string) bool {
	return slices.Contains(b.stateNames, state)
}

func (b Base) sealed() {}

// Result is what invoking a plugin yields. At most one of Response,
// ResponseBody and Error is set; CallbackAction, if not empty, is an event
// the runner sends next.
type Result struct {
	CallbackAction string
	Response       any
	ResponseBody   any
	Error          error
}

// NewInput builds the document a plugin is invoked with: a shallow copy of
// the workflow context plus the runtime config and id.
func NewInput(data map[string]any, runtimeConfig any, runtimeID string) map[string]any {
	input := make(map[string]any, len(data)+2) //nolint:mnd

	for k, v := range data {
		input[k] = v
	}

	input[KeyRuntimeConfig] = runtimeConfig
	input[KeyRuntimeID] = runtimeID

	return input
}

// InvocationError is a failure raised inside a plugin. Runners record it in
// the context and report it; they never return it from SendEvent.
type InvocationError struct {
	Plugin   string
	Category Category
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s plugin %q failed: %v", e.Category, e.Plugin, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

func wrapInvocation(p Plugin, err error) error {
	if err == nil {
		return nil
	}

	var invocationErr *InvocationError
	if errors.As(err, &invocationErr) {
		return err
	}

	return &InvocationError{Plugin: p.Name(), Category: p.Category(), Err: err}
}
