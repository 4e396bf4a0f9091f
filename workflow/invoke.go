package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amp-labs/workflow-core/bus"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/merge"
	"github.com/amp-labs/workflow-core/plugins"
	"github.com/amp-labs/workflow-core/statemachine"
	"go.opentelemetry.io/otel/attribute"
)

// InvokePlugin runs a plugin by name outside of a transition, with the same
// context persistence and callbacks as when its state is entered. API,
// common, child-workflow and dispatch-event plugins are searched in that
// order.
func (r *Runner) InvokePlugin(ctx context.Context, name string) error {
	ctx = logger.WithRuntimeID(ctx, r.runtimeID)

	p, ok := r.plugins.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", plugins.ErrPluginNotFound, name)
	}

	switch p := p.(type) {
	case plugins.APIPlugin:
		return r.invokeAPI(ctx, p, 0)
	case plugins.CommonPlugin:
		return r.invokeCommon(ctx, p, 0)
	case *plugins.ChildWorkflowPlugin:
		return r.invokeChild(ctx, p, 0)
	case *plugins.DispatchEventPlugin:
		return r.dispatchEvent(ctx, p, 0)
	default:
		return fmt.Errorf("%w: %s plugin %q cannot be invoked by name", plugins.ErrUnknownPluginKind, p.Category(), name)
	}
}

// observe runs invoke inside a plugin span and records its metrics.
func observe(ctx context.Context, p plugins.Plugin, invoke func(ctx context.Context) error) {
	ctx, span := startSpan(ctx, "plugin."+string(p.Category()),
		attribute.String("plugin", p.Name()),
		attribute.String("category", string(p.Category())))
	start := time.Now()

	err := invoke(ctx)

	pluginInvocationsTotal.WithLabelValues(string(p.Category()), outcomeOf(err)).Inc()
	pluginDuration.WithLabelValues(string(p.Category())).Observe(time.Since(start).Seconds())
	finishSpan(span, err)
}

// runStatePlugin wraps a state plugin in the status protocol: PENDING, then
// SUCCESS or ERROR followed by an ERROR/HTTP_ERROR notification. Failures are
// reported, never returned.
func (r *Runner) runStatePlugin(
	ctx context.Context,
	p *plugins.StatePlugin,
	data map[string]any,
	event statemachine.Event,
	state string,
) {
	status := func(value string, err error) {
		r.notify(ctx, bus.StatusUpdate, bus.Event{
			Type:    StatusTypeStateAction,
			State:   state,
			Payload: map[string]any{"status": value, "action": p.Name()},
			Error:   err,
		})
	}

	status(StatusPending, nil)

	var err error

	observe(ctx, p, func(ctx context.Context) error {
		err = p.Invoke(ctx, plugins.StateActionArgs{
			WorkflowID: r.machine.ID(),
			Context:    data,
			Event:      event,
			State:      state,
		})

		return err
	})

	if err == nil {
		status(StatusSuccess, nil)

		return
	}

	logger.Get(ctx).ErrorContext(ctx, "state plugin failed", "plugin", p.Name(), "state", state, "error", err)

	status(StatusError, err)

	errorType := ErrorTypeGeneric

	var httpErr *plugins.HTTPError
	if errors.As(err, &httpErr) {
		errorType = ErrorTypeHTTP
	}

	r.notify(ctx, bus.StatusUpdate, bus.Event{Type: errorType, State: state, Error: err})
}

func (r *Runner) dispatchEvent(ctx context.Context, p *plugins.DispatchEventPlugin, depth int) error {
	log := logger.Get(ctx)

	var (
		eventName string
		notifyErr error
	)

	observe(ctx, p, func(ctx context.Context) error {
		name, payload, err := p.PluginEvent(ctx, r.Context())
		if err != nil {
			notifyErr = err

			return err
		}

		eventName = name

		log.InfoContext(ctx, "dispatching notification to host", "plugin", p.Name(), "event", name)

		notifyErr = r.bus.Notify(ctx, name, bus.Event{Type: name, State: r.State(), Payload: payload})

		return notifyErr
	})

	if notifyErr != nil {
		log.ErrorContext(ctx, "failed dispatching notification to host",
			"plugin", p.Name(),
			"event", eventName,
			"error", notifyErr)

		return r.callback(ctx, p.ErrorAction(), depth)
	}

	log.InfoContext(ctx, "dispatched notification to host", "plugin", p.Name(), "event", eventName)

	return r.callback(ctx, p.SuccessAction(), depth)
}

func (r *Runner) invokeChild(ctx context.Context, p *plugins.ChildWorkflowPlugin, depth int) error {
	var result plugins.Result

	observe(ctx, p, func(ctx context.Context) error {
		result = p.Invoke(ctx, r.input())

		return result.Error
	})

	if result.Error != nil {
		logger.Get(ctx).ErrorContext(ctx, "child workflow plugin failed", "plugin", p.Name(), "error", result.Error)
	}

	return r.callback(ctx, result.CallbackAction, depth)
}

func (r *Runner) invokeCommon(ctx context.Context, p plugins.CommonPlugin, depth int) error {
	var result plugins.Result

	observe(ctx, p, func(ctx context.Context) error {
		result = p.Invoke(ctx, r.input())

		return result.Error
	})

	if result.Error != nil {
		logger.Get(ctx).ErrorContext(ctx, "common plugin failed", "plugin", p.Name(), "error", result.Error)

		err := r.updateContext(ctx, func(data map[string]any) map[string]any {
			return setPluginOutput(data, p.Name(), map[string]any{"error": result.Error.Error()})
		})
		if err != nil {
			return err
		}
	}

	if result.Response != nil {
		err := r.updateContext(ctx, func(data map[string]any) map[string]any {
			if dest := p.PersistResponseDestination(); dest != "" {
				return persistAt(data, result.Response, dest)
			}

			return setPluginOutput(data, p.Name(), result.Response)
		})
		if err != nil {
			return err
		}
	}

	return r.callback(ctx, result.CallbackAction, depth)
}

func (r *Runner) invokeAPI(ctx context.Context, p plugins.APIPlugin, depth int) error {
	log := logger.Get(ctx)

	var result plugins.Result

	observe(ctx, p, func(ctx context.Context) error {
		result = p.Invoke(ctx, r.input())

		return result.Error
	})

	if result.Error != nil {
		log.ErrorContext(ctx, "error invoking plugin", "plugin", p.Name(), "kind", p.Kind(), "error", result.Error)
	}

	if p.SuccessAction() == "" || p.ErrorAction() == "" {
		log.DebugContext(ctx, "plugin does not have callback actions", "plugin", p.Name())

		return nil
	}

	outputPath := plugins.KeyPluginsOutput + statemachine.PathSeparator + p.Name()

	err := r.updateContext(ctx, func(data map[string]any) map[string]any {
		if result.ResponseBody != nil {
			dest := p.PersistResponseDestination()
			if dest == "" {
				dest = outputPath
			}

			data = persistAt(data, result.ResponseBody, dest)
		}

		if result.Error != nil {
			data = merge.ToContext(data, map[string]any{
				"name":   p.Name(),
				"error":  result.Error.Error(),
				"status": StatusError,
			}, outputPath)
		}

		return data
	})
	if err != nil {
		return err
	}

	return r.callback(ctx, result.CallbackAction, depth)
}

// setPluginOutput replaces pluginsOutput.<name>.
func setPluginOutput(data map[string]any, name string, value any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}

	outputs, ok := merge.AsMap(data[plugins.KeyPluginsOutput])
	if !ok {
		outputs = map[string]any{}
	}

	outputs = merge.CloneMap(outputs)
	outputs[name] = merge.Clone(value)
	data[plugins.KeyPluginsOutput] = outputs

	return data
}

// persistAt deep-merges value into data at path. Values that are not objects
// replace whatever is at path.
func persistAt(data map[string]any, value any, path string) map[string]any {
	if fields, ok := merge.AsMap(value); ok {
		return merge.ToContext(data, merge.CloneMap(fields), path)
	}

	if data == nil {
		data = map[string]any{}
	}

	keys := strings.Split(path, statemachine.PathSeparator)
	obj := data

	for _, key := range keys[:len(keys)-1] {
		next, ok := obj[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			obj[key] = next
		}

		obj = next
	}

	obj[keys[len(keys)-1]] = merge.Clone(value)

	return data
}

// lookup reads a dotted path.
func lookup(data map[string]any, path string) any {
	var current any = data

	for _, key := range strings.Split(path, statemachine.PathSeparator) {
		fields, ok := merge.AsMap(current)
		if !ok {
			return nil
		}

		current = fields[key]
	}

	return current
}
