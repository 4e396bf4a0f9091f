package plugins

import (
	"context"
	"fmt"

	"github.com/amp-labs/workflow-core/statemachine"
)

// When says whether a state plugin runs before or after the transition.
type When string

const (
	WhenPre  When = "pre"
	WhenPost When = "post"
)

// StateActionArgs is what a state plugin's action receives.
type StateActionArgs struct {
	WorkflowID string
	Context    map[string]any
	Event      statemachine.Event
	State      string
}

// StateActionFunc is host code run by a state plugin.
type StateActionFunc func(ctx context.Context, args StateActionArgs) error

// StatePluginConfig configures NewStatePlugin.
type StatePluginConfig struct {
	Name       string
	StateNames []string
	When       When
	IsBlocking bool
	Action     StateActionFunc
}

// StatePlugin runs host code around a transition. Blocking plugins are run by
// the runner itself; non-blocking ones become entry (pre) or exit (post)
// actions of their states.
type StatePlugin struct {
	Base

	when     When
	blocking bool
	action   StateActionFunc
}

// NewStatePlugin validates cfg and returns the plugin.
func NewStatePlugin(cfg StatePluginConfig) (*StatePlugin, error) {
	if cfg.Name == "" {
		return nil, ErrMissingName
	}

	if cfg.When != WhenPre && cfg.When != WhenPost {
		return nil, fmt.Errorf("%w: state plugin %q: when must be %q or %q, got %q",
			ErrInvalidDescriptor, cfg.Name, WhenPre, WhenPost, cfg.When)
	}

	if cfg.Action == nil {
		return nil, fmt.Errorf("%w: state plugin %q has no action", ErrMissingDependency, cfg.Name)
	}

	return &StatePlugin{
		Base:     NewBase(cfg.Name, cfg.StateNames),
		when:     cfg.When,
		blocking: cfg.IsBlocking,
		action:   cfg.Action,
	}, nil
}

func (p *StatePlugin) Category() Category {
	return CategoryState
}

func (p *StatePlugin) When() When {
	return p.when
}

func (p *StatePlugin) IsBlocking() bool {
	return p.blocking
}

// Invoke runs the plugin's action.
func (p *StatePlugin) Invoke(ctx context.Context, args StateActionArgs) error {
	return wrapInvocation(p, p.action(ctx, args))
}

// ActionKind is the machine action list a non-blocking plugin binds to.
func (p *StatePlugin) ActionKind() statemachine.ActionKind {
	if p.when == WhenPre {
		return statemachine.ActionKindEntry
	}

	return statemachine.ActionKindExit
}
