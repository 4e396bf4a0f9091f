// Package visualizer generates Mermaid state diagrams from workflow definitions.
package visualizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/amp-labs/workflow-core/statemachine"
)

// Visualizer errors.
var (
	ErrDefinitionNil  = errors.New("definition cannot be nil")
	ErrNoInitialState = errors.New("definition must have an initial state")
)

// GenerateMermaid converts a Definition to a Mermaid state diagram.
func GenerateMermaid(def *statemachine.Definition) (string, error) {
	return GenerateMermaidWithOptions(def, DefaultOptions())
}

// GenerateMermaidFromFile loads a definition from a file and generates a Mermaid diagram.
func GenerateMermaidFromFile(path string, opts Options) (string, error) {
	def, err := statemachine.LoadDefinition(path)
	if err != nil {
		return "", fmt.Errorf("failed to load definition: %w", err)
	}

	return GenerateMermaidWithOptions(def, opts)
}

// GenerateMermaidWithOptions generates a Mermaid diagram with custom options.
// Machine-level (root) transitions are not drawn.
func GenerateMermaidWithOptions(def *statemachine.Definition, opts Options) (string, error) {
	if def == nil {
		return "", ErrDefinitionNil
	}

	if def.Initial == "" {
		return "", ErrNoInitialState
	}

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}

	g := &generator{
		def:       def,
		opts:      opts,
		highlight: make(map[string]bool, len(opts.HighlightPath)),
	}

	for _, state := range opts.HighlightPath {
		g.highlight[state] = true
	}

	g.line(0, "```mermaid")
	g.line(0, "stateDiagram-v2")
	g.line(1, "direction "+direction)
	g.line(1, "[*] --> "+nodeID(def.Initial))

	g.states(1, "", def.States)

	g.line(0, "")
	g.line(1, "classDef actionState fill:#e1f5ff,stroke:#01579b,stroke-width:2px")
	g.line(1, "classDef finalState fill:#c8e6c9,stroke:#2e7d32,stroke-width:2px")
	g.line(1, "classDef highlighted fill:#fff9c4,stroke:#f57f17,stroke-width:3px")
	g.line(0, "```")

	return g.sb.String(), nil
}

type generator struct {
	def       *statemachine.Definition
	opts      Options
	highlight map[string]bool
	sb        strings.Builder
}

func (g *generator) line(depth int, text string) {
	if text != "" {
		g.sb.WriteString(strings.Repeat("    ", depth))
		g.sb.WriteString(text)
	}

	g.sb.WriteString("\n")
}

func (g *generator) states(depth int, parent string, states map[string]*statemachine.StateNode) {
	keys := make([]string, 0, len(states))
	for key := range states {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		state := states[key]
		path := key

		if parent != "" {
			path = parent + statemachine.PathSeparator + key
		}

		id := nodeID(path)
		g.line(depth, fmt.Sprintf("state %q as %s", g.label(key, state), id))

		if state.EffectiveType() == statemachine.StateTypeCompound {
			g.line(depth, fmt.Sprintf("state %s {", id))
			g.line(depth+1, "[*] --> "+nodeID(path+statemachine.PathSeparator+state.Initial))
			g.states(depth+1, path, state.States)
			g.line(depth, "}")
		}

		switch {
		case g.highlight[path]:
			g.line(depth, fmt.Sprintf("class %s highlighted", id))
		case state.EffectiveType() == statemachine.StateTypeFinal:
			g.line(depth, fmt.Sprintf("class %s finalState", id))
		case len(state.Entry) > 0 || len(state.Exit) > 0:
			g.line(depth, fmt.Sprintf("class %s actionState", id))
		}

		g.transitions(depth, path, state.On)

		if state.EffectiveType() == statemachine.StateTypeFinal {
			g.line(depth, id+" --> [*]")
		}
	}
}

func (g *generator) label(key string, state *statemachine.StateNode) string {
	if !g.opts.ShowActions {
		return key
	}

	var parts []string

	if len(state.Entry) > 0 {
		parts = append(parts, "entry: "+strings.Join(state.Entry, ", "))
	}

	if len(state.Exit) > 0 {
		parts = append(parts, "exit: "+strings.Join(state.Exit, ", "))
	}

	if len(parts) == 0 {
		return key
	}

	return key + " [" + strings.Join(parts, "; ") + "]"
}

func (g *generator) transitions(depth int, source string, on map[string]statemachine.TransitionList) {
	events := make([]string, 0, len(on))
	for event := range on {
		events = append(events, event)
	}

	sort.Strings(events)

	for _, event := range events {
		for _, t := range on[event] {
			from := nodeID(source)

			to := from
			if t.Target != "" {
				to = nodeID(g.def.ResolveTarget(source, t.Target))
			}

			label := event
			if guard := t.GuardConfig(); guard != nil && g.opts.ShowGuards {
				label += " [" + guard.Type + "]"
			}

			g.line(depth, fmt.Sprintf("%s --> %s: %s", from, to, label))
		}
	}
}

// nodeID makes a dotted state path usable as a Mermaid identifier.
func nodeID(path string) string {
	return strings.ReplaceAll(path, statemachine.PathSeparator, "__")
}
