package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/plugins"
	"github.com/amp-labs/workflow-core/statemachine"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var errHostUnavailable = errors.New("not available in workflowctl")

// pluginsFile is the on-disk form of plugin descriptors. JSON files parse as
// YAML too.
type pluginsFile struct {
	CommonPlugins        []map[string]any `yaml:"commonPlugins"`
	APIPlugins           []map[string]any `yaml:"apiPlugins"`
	ChildWorkflowPlugins []map[string]any `yaml:"childWorkflowPlugins"`
	DispatchEventPlugins []map[string]any `yaml:"dispatchEventPlugins"`
}

func readYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}

func loadExtensions(path string) (plugins.Extensions, error) {
	var ext plugins.Extensions

	if path == "" {
		return ext, nil
	}

	var file pluginsFile
	if err := readYAML(path, &file); err != nil {
		return ext, err
	}

	var err error

	decode := func(category string, raw []map[string]any) []plugins.Descriptor {
		if err != nil {
			return nil
		}

		var out []plugins.Descriptor

		out, err = plugins.DecodeDescriptors(raw)
		if err != nil {
			err = fmt.Errorf("%s: %w", category, err)
		}

		return out
	}

	ext.CommonPlugins = decode("commonPlugins", file.CommonPlugins)
	ext.APIPlugins = decode("apiPlugins", file.APIPlugins)
	ext.ChildWorkflowPlugins = decode("childWorkflowPlugins", file.ChildWorkflowPlugins)
	ext.DispatchEventPlugins = decode("dispatchEventPlugins", file.DispatchEventPlugins)

	return ext, err
}

func loadEvents(path string, types []string) ([]statemachine.Event, error) {
	var events []statemachine.Event

	if path != "" {
		if err := readYAML(path, &events); err != nil {
			return nil, err
		}
	}

	for _, t := range types {
		events = append(events, statemachine.Event{Type: t})
	}

	return events, nil
}

func loadContext(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil //nolint:nilnil
	}

	var data map[string]any
	if err := readYAML(path, &data); err != nil {
		return nil, err
	}

	return data, nil
}

var builtinActions = []string{ //nolint:gochecknoglobals
	statemachine.ActionUpdateContext,
	statemachine.ActionDeepMergeContext,
	statemachine.ActionLog,
}

// referencedActions lists the action names a definition uses that are not
// built in, sorted.
func referencedActions(def *statemachine.Definition) []string {
	seen := make(map[string]struct{})

	addTransitions := func(on map[string]statemachine.TransitionList) {
		for _, list := range on {
			for _, t := range list {
				for _, name := range t.Actions {
					seen[name] = struct{}{}
				}
			}
		}
	}

	var walk func(states map[string]*statemachine.StateNode)

	walk = func(states map[string]*statemachine.StateNode) {
		for _, node := range states {
			if node == nil {
				continue
			}

			for _, name := range slices.Concat(node.Entry, node.Exit) {
				seen[name] = struct{}{}
			}

			addTransitions(node.On)
			walk(node.States)
		}
	}

	addTransitions(def.On)
	walk(def.States)

	out := make([]string, 0, len(seen))

	for name := range seen {
		if !slices.Contains(builtinActions, name) {
			out = append(out, name)
		}
	}

	sort.Strings(out)

	return out
}

// hostActions stands in for the actions a host would register: each one logs
// that it ran.
func hostActions(def *statemachine.Definition) []statemachine.Action {
	names := referencedActions(def)
	actions := make([]statemachine.Action, 0, len(names))

	for _, name := range names {
		actions = append(actions, statemachine.NewAction(name, func(ctx context.Context, args *statemachine.ActionArgs) error {
			logger.Get(ctx).InfoContext(ctx, "host action",
				"action", name,
				"state", args.State,
				"event", args.Event.Type)

			return nil
		}))
	}

	return actions
}

// host implements the plugin host functions workflowctl can offer locally.
type host struct{}

func (host) riskRules(context.Context, plugins.RiskRulesRequest) (any, error) {
	return nil, fmt.Errorf("risk rules evaluation is %w", errHostUnavailable)
}

// childWorkflow records the request; workflowctl does not run children.
func (host) childWorkflow(ctx context.Context, req plugins.ChildWorkflowRequest) error {
	logger.Get(ctx).InfoContext(ctx, "child workflow requested",
		"request_id", req.RequestID,
		"definition_id", req.DefinitionID,
		"init_event", req.InitEvent)

	return nil
}

func (host) workflowToken(_ context.Context, req plugins.WorkflowTokenRequest) (any, error) {
	return map[string]any{
		"token":           uuid.NewString(),
		"uiDefinitionId":  req.UIDefinitionID,
		"expireInMinutes": req.ExpireInMinutes,
	}, nil
}
