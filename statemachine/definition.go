package statemachine

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	wferrors "github.com/amp-labs/workflow-core/errors"
)

// PathSeparator joins the keys of nested states into a state value.
const PathSeparator = "."

// StateType classifies a state node.
type StateType string

const (
	// StateTypeAtomic is a leaf state. It is the default for nodes without children.
	StateTypeAtomic StateType = "atomic"
	// StateTypeCompound has child states and an initial child.
	StateTypeCompound StateType = "compound"
	// StateTypeFinal is a leaf that ends the machine when it is a top-level state.
	StateTypeFinal StateType = "final"
)

// Definition is the serializable description of a workflow state machine.
type Definition struct {
	ID      string                    `json:"id,omitempty"      yaml:"id,omitempty"`
	Initial string                    `json:"initial"           yaml:"initial"`
	Context map[string]any            `json:"context,omitempty" yaml:"context,omitempty"`
	States  map[string]*StateNode     `json:"states"            yaml:"states"`
	On      map[string]TransitionList `json:"on,omitempty"      yaml:"on,omitempty"`
}

// StateNode describes one state and, for compound states, its children.
type StateNode struct {
	Type    StateType                 `json:"type,omitempty"    yaml:"type,omitempty"`
	Initial string                    `json:"initial,omitempty" yaml:"initial,omitempty"`
	Entry   StringList                `json:"entry,omitempty"   yaml:"entry,omitempty"`
	Exit    StringList                `json:"exit,omitempty"    yaml:"exit,omitempty"`
	On      map[string]TransitionList `json:"on,omitempty"      yaml:"on,omitempty"`
	Tags    StringList                `json:"tags,omitempty"    yaml:"tags,omitempty"`
	States  map[string]*StateNode     `json:"states,omitempty"  yaml:"states,omitempty"`
}

// EffectiveType returns the node type, inferring compound/atomic when unset.
func (n *StateNode) EffectiveType() StateType {
	if n.Type != "" {
		return n.Type
	}

	if len(n.States) > 0 {
		return StateTypeCompound
	}

	return StateTypeAtomic
}

// TransitionConfig is one candidate transition for an event.
type TransitionConfig struct {
	Target  string       `json:"target,omitempty"  yaml:"target,omitempty"`
	Guard   *GuardConfig `json:"guard,omitempty"   yaml:"guard,omitempty"`
	Cond    *GuardConfig `json:"cond,omitempty"    yaml:"cond,omitempty"`
	Actions StringList   `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// GuardConfig returns the transition's guard; "guard" wins over the legacy "cond" key.
func (t TransitionConfig) GuardConfig() *GuardConfig {
	if t.Guard != nil {
		return t.Guard
	}

	return t.Cond
}

// GuardConfig names a registered guard type and the options it is evaluated with.
type GuardConfig struct {
	Type    string         `json:"type"              yaml:"type"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// StringList accepts either a single string or a list of strings.
type StringList []string

// TransitionList accepts a target string, a single transition object or a list of either.
type TransitionList []TransitionConfig

// LoadDefinition loads a definition from a YAML or JSON file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}

	return LoadDefinitionFromBytes(data)
}

// LoadDefinitionFromFS loads a definition from a file in fsys.
func LoadDefinitionFromFS(fsys fs.FS, path string) (*Definition, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}

	return LoadDefinitionFromBytes(data)
}

// LoadDefinitionFromBytes parses and validates a YAML or JSON definition.
func LoadDefinitionFromBytes(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: failed to parse definition: %w", ErrInvalidDefinition, err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// Validate checks the structure of the definition: the initial states exist,
// every transition target resolves and final states have no children.
// All problems are reported together.
func (d *Definition) Validate() error {
	var errs wferrors.Collection

	if len(d.States) == 0 {
		errs.Add(ErrStatesRequired)

		return fmt.Errorf("%w: %w", ErrInvalidDefinition, errs.GetError())
	}

	if d.Initial == "" {
		errs.Add(ErrInitialStateRequired)
	} else if _, ok := d.States[d.Initial]; !ok {
		errs.Add(fmt.Errorf("%w: %q", ErrInitialStateNotFound, d.Initial))
	}

	for _, key := range sortedKeys(d.States) {
		validateNode(d, "", key, d.States[key], &errs)
	}

	for _, event := range sortedKeys(d.On) {
		for _, t := range d.On[event] {
			if t.Target != "" && d.ResolveTarget("", t.Target) == "" {
				errs.Add(fmt.Errorf("%w: root event %s targets %q", ErrTargetNotFound, event, t.Target))
			}
		}
	}

	if errs.HasError() {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, errs.GetError())
	}

	return nil
}

func validateNode(def *Definition, parent, key string, node *StateNode, errs *wferrors.Collection) {
	path := joinPath(parent, key)

	if strings.Contains(key, PathSeparator) {
		errs.Add(fmt.Errorf("%w: %q", ErrInvalidStateName, path))
	}

	if node == nil {
		errs.Add(fmt.Errorf("%w: %q", ErrNilState, path))

		return
	}

	switch node.EffectiveType() {
	case StateTypeCompound:
		if len(node.States) == 0 {
			errs.Add(fmt.Errorf("%w: %q", ErrCompoundWithoutChildren, path))
		} else if _, ok := node.States[node.Initial]; !ok {
			errs.Add(fmt.Errorf("%w: %q has initial %q", ErrInitialStateNotFound, path, node.Initial))
		}
	case StateTypeFinal, StateTypeAtomic:
		if len(node.States) > 0 {
			errs.Add(fmt.Errorf("%w: %q is %s", ErrLeafWithChildren, path, node.EffectiveType()))
		}
	default:
		errs.Add(fmt.Errorf("%w: %q has type %q", ErrUnknownStateType, path, node.Type))
	}

	for _, event := range sortedKeys(node.On) {
		for _, t := range node.On[event] {
			if t.Target != "" && def.ResolveTarget(path, t.Target) == "" {
				errs.Add(fmt.Errorf("%w: %s on %s targets %q", ErrTargetNotFound, path, event, t.Target))
			}
		}
	}

	for _, child := range sortedKeys(node.States) {
		validateNode(def, path, child, node.States[child], errs)
	}
}

// Lookup returns the node at a dotted path.
func (d *Definition) Lookup(path string) (*StateNode, bool) {
	if path == "" {
		return nil, false
	}

	states := d.States

	var node *StateNode

	for key := range strings.SplitSeq(path, PathSeparator) {
		next, ok := states[key]
		if !ok || next == nil {
			return nil, false
		}

		node = next
		states = next.States
	}

	return node, true
}

// StatePaths returns every state path in the definition, sorted.
func (d *Definition) StatePaths() []string {
	var paths []string

	var walk func(parent string, states map[string]*StateNode)

	walk = func(parent string, states map[string]*StateNode) {
		for key, node := range states {
			path := joinPath(parent, key)
			paths = append(paths, path)

			if node != nil {
				walk(path, node.States)
			}
		}
	}

	walk("", d.States)
	sort.Strings(paths)

	return paths
}

// ResolveTarget resolves a transition target declared on the node at source.
// ".child" addresses a child of source, "#path" an absolute path, and a bare
// name is looked up among the siblings of source, then from the root.
func (d *Definition) ResolveTarget(source, target string) string {
	switch {
	case strings.HasPrefix(target, "#"):
		path := strings.TrimPrefix(target, "#")
		if _, ok := d.Lookup(path); ok {
			return path
		}

		return ""
	case strings.HasPrefix(target, PathSeparator):
		path := joinPath(source, strings.TrimPrefix(target, PathSeparator))
		if _, ok := d.Lookup(path); ok {
			return path
		}

		return ""
	}

	if source != "" {
		sibling := joinPath(parentPath(source), target)
		if _, ok := d.Lookup(sibling); ok {
			return sibling
		}
	}

	if _, ok := d.Lookup(target); ok {
		return target
	}

	return ""
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}

	return parent + PathSeparator + key
}

func parentPath(path string) string {
	idx := strings.LastIndex(path, PathSeparator)
	if idx < 0 {
		return ""
	}

	return path[:idx]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind { //nolint:exhaustive
	case yaml.ScalarNode:
		*l = StringList{value.Value}

		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}

		*l = items

		return nil
	default:
		return fmt.Errorf("%w: expected string or list at line %d", ErrInvalidDefinition, value.Line)
	}
}

// UnmarshalJSON accepts a string or an array of strings.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}

		return nil
	}

	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("%w: expected string or list: %w", ErrInvalidDefinition, err)
	}

	*l = items

	return nil
}

// UnmarshalYAML accepts "target", {target, guard, actions} or a list of those.
func (l *TransitionList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind { //nolint:exhaustive
	case yaml.ScalarNode:
		*l = TransitionList{{Target: value.Value}}

		return nil
	case yaml.MappingNode:
		var t TransitionConfig
		if err := value.Decode(&t); err != nil {
			return err
		}

		*l = TransitionList{t}

		return nil
	case yaml.SequenceNode:
		out := make(TransitionList, 0, len(value.Content))

		for _, item := range value.Content {
			var single TransitionList
			if err := single.UnmarshalYAML(item); err != nil {
				return err
			}

			out = append(out, single...)
		}

		*l = out

		return nil
	default:
		return fmt.Errorf("%w: invalid transition at line %d", ErrInvalidDefinition, value.Line)
	}
}

// UnmarshalJSON accepts "target", {target, guard, actions} or a list of those.
func (l *TransitionList) UnmarshalJSON(data []byte) error {
	var target string
	if err := json.Unmarshal(data, &target); err == nil {
		*l = TransitionList{{Target: target}}

		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		out := make(TransitionList, 0, len(raw))

		for _, item := range raw {
			var single TransitionList
			if err := single.UnmarshalJSON(item); err != nil {
				return err
			}

			out = append(out, single...)
		}

		*l = out

		return nil
	}

	var t TransitionConfig
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("%w: invalid transition: %w", ErrInvalidDefinition, err)
	}

	*l = TransitionList{t}

	return nil
}

// guardConfigFields avoids recursing into the custom unmarshalers.
type guardConfigFields struct {
	Type    string         `json:"type"    yaml:"type"`
	Options map[string]any `json:"options" yaml:"options"`
}

// UnmarshalYAML accepts a guard name or {type, options}.
func (g *GuardConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*g = GuardConfig{Type: value.Value}

		return nil
	}

	var fields guardConfigFields
	if err := value.Decode(&fields); err != nil {
		return err
	}

	*g = GuardConfig(fields)

	return nil
}

// UnmarshalJSON accepts a guard name or {type, options}.
func (g *GuardConfig) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*g = GuardConfig{Type: name}

		return nil
	}

	var fields guardConfigFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: invalid guard: %w", ErrInvalidDefinition, err)
	}

	*g = GuardConfig(fields)

	return nil
}
