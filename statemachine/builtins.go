package statemachine

import (
	"context"
	"fmt"

	wferrors "github.com/amp-labs/workflow-core/errors"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/merge"
	"github.com/amp-labs/workflow-core/rules"
)

// Built-in events handled at the root of every machine.
const (
	// EventUpdateContext replaces the context with payload.context.
	EventUpdateContext = "UPDATE_CONTEXT"
	// EventDeepMergeContext merges payload.newContext using payload.arrayMergeOption.
	EventDeepMergeContext = "DEEP_MERGE_CONTEXT"
)

// Built-in action names.
const (
	ActionUpdateContext    = "workflow.updateContext"
	ActionDeepMergeContext = "workflow.deepMergeContext"
	ActionLog              = "log"
)

// Built-in guard types. The logic-guard and path-guard names are aliases.
const (
	GuardJSONLogic = "json-logic"
	GuardLogic     = "logic-guard"
	GuardJMESPath  = "jmespath"
	GuardPath      = "path-guard"
)

// GuardFailureHook is called when a logic guard fails and its options carry a
// truthy assignOnFailure.
type GuardFailureHook func(ctx context.Context, args GuardArgs)

func updateContextAction() Action { //nolint:ireturn
	return NewAction(ActionUpdateContext, func(_ context.Context, args *ActionArgs) error {
		next, ok := merge.AsMap(args.Event.Payload["context"])
		if !ok {
			return wferrors.WrongType("payload.context", "an object", args.Event.Payload["context"])
		}

		args.Context.Replace(merge.CloneMap(next))

		return nil
	})
}

func deepMergeContextAction() Action { //nolint:ireturn
	return NewAction(ActionDeepMergeContext, func(_ context.Context, args *ActionArgs) error {
		incoming, ok := merge.AsMap(args.Event.Payload["newContext"])
		if !ok {
			return wferrors.WrongType("payload.newContext", "an object", args.Event.Payload["newContext"])
		}

		rawOption, _ := args.Event.Payload["arrayMergeOption"].(string)

		option, err := merge.ParseArrayMergeOption(rawOption)
		if err != nil {
			return err
		}

		args.Context.Update(func(data map[string]any) map[string]any {
			return merge.WithOptions(data, incoming, option)
		})

		return nil
	})
}

// logAction writes the state and event to the context logger. It is handy as
// an entry action while building a definition.
func logAction() Action { //nolint:ireturn
	return NewAction(ActionLog, func(ctx context.Context, args *ActionArgs) error {
		logger.Get(ctx).InfoContext(ctx, "state machine action",
			"machine", args.MachineID,
			"state", args.State,
			"event", args.Event.Type)

		return nil
	})
}

// logicGuard evaluates options.rule as JSON Logic against context+payload.
func logicGuard(hook GuardFailureHook) Guard { //nolint:ireturn
	return GuardFunc(func(ctx context.Context, args GuardArgs) (bool, error) {
		rule, ok := args.Options["rule"]
		if !ok {
			return false, fmt.Errorf("%w: %s requires a rule", ErrInvalidGuardOptions, GuardJSONLogic)
		}

		result, err := rules.EvaluateLogic(rule, args.Data())
		if err != nil {
			return false, err
		}

		passed := rules.Truthy(result)

		if !passed && rules.Truthy(args.Options["assignOnFailure"]) && hook != nil {
			hook(ctx, args)
		}

		return passed, nil
	})
}

// pathGuard evaluates options.rule as a JMESPath query against context+payload
// and passes when the result is truthy.
func pathGuard() Guard { //nolint:ireturn
	return GuardFunc(func(_ context.Context, args GuardArgs) (bool, error) {
		expr, ok := args.Options["rule"].(string)
		if !ok {
			return false, fmt.Errorf("%w: %s requires a string rule", ErrInvalidGuardOptions, GuardJMESPath)
		}

		result, err := rules.EvaluatePath(expr, args.Data())
		if err != nil {
			return false, err
		}

		return rules.Truthy(result), nil
	})
}

func registerBuiltins(registry *Registry, hook GuardFailureHook) {
	registry.registerActionIfAbsent(updateContextAction())
	registry.registerActionIfAbsent(deepMergeContextAction())
	registry.registerActionIfAbsent(logAction())

	logic := logicGuard(hook)
	path := pathGuard()

	registry.registerGuardIfAbsent(GuardJSONLogic, logic)
	registry.registerGuardIfAbsent(GuardLogic, logic)
	registry.registerGuardIfAbsent(GuardJMESPath, path)
	registry.registerGuardIfAbsent(GuardPath, path)
}

func builtinTransitions() map[string]TransitionList {
	return map[string]TransitionList{
		EventUpdateContext:    {{Actions: StringList{ActionUpdateContext}}},
		EventDeepMergeContext: {{Actions: StringList{ActionDeepMergeContext}}},
	}
}
