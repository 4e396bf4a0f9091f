package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amp-labs/workflow-core/bus"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/merge"
	"github.com/amp-labs/workflow-core/plugins"
	"github.com/amp-labs/workflow-core/statemachine"
	"go.opentelemetry.io/otel/attribute"
)

// SendEvent sends event to the machine and runs the plugins of the state it
// lands in. Plugin failures are recorded in the context and reported on the
// bus; they are never returned. Errors returned are an event the current state
// does not accept, guard or action failures (the transition is then not
// committed), store failures and errors from callback events.
func (r *Runner) SendEvent(ctx context.Context, event statemachine.Event) error {
	return r.sendEvent(ctx, event, 0)
}

func (r *Runner) sendEvent(ctx context.Context, event statemachine.Event, depth int) (err error) {
	if r.maxCallbackDepth > 0 && depth > r.maxCallbackDepth {
		return fmt.Errorf("%w: %s at depth %d (max %d)", ErrCallbackDepthExceeded, event.Type, depth, r.maxCallbackDepth)
	}

	previous, data := r.current()

	ctx = logger.WithRuntimeID(ctx, r.runtimeID)
	ctx, span := startSpan(ctx, "workflow.send_event",
		attribute.String("runtime_id", r.runtimeID),
		attribute.String("event", event.Type),
		attribute.String("state", previous),
		attribute.Int("depth", depth))
	start := time.Now()

	defer func() {
		outcome := outcomeOf(err)
		if errors.Is(err, ErrEventNotAllowed) {
			outcome = outcomeIllegal
		}

		eventsTotal.WithLabelValues(event.Type, outcome).Inc()
		eventDuration.WithLabelValues(event.Type).Observe(time.Since(start).Seconds())
		finishSpan(span, err)
	}()

	log := logger.Get(ctx)
	log.InfoContext(ctx, "received event", "event", event.Type, "current_state", previous)

	snap, err := r.machine.Snapshot(previous, data)
	if err != nil {
		return err
	}

	if !snap.Can(event.Type) {
		return &IllegalTransitionError{Event: event.Type, State: previous}
	}

	for _, p := range r.blockingStatePlugins(plugins.WhenPre, previous) {
		log.WarnContext(ctx, "blocking pre plugins are deprecated, use a non-blocking plugin instead",
			"plugin", p.Name())

		r.runStatePlugin(ctx, p, snap.Context, event, previous)
	}

	next, err := r.machine.Send(ctx, previous, data, event)
	if err != nil {
		return err
	}

	if next.Changed {
		r.logTransition(ctx, previous, next)
	}

	if err := r.commit(ctx, next.Value, next.Context); err != nil {
		return err
	}

	if next.Changed {
		r.notify(ctx, bus.StateUpdate, bus.Event{
			Type:    event.Type,
			State:   next.Value,
			Payload: event.Payload,
		})
	}

	if next.Value == previous {
		log.DebugContext(ctx, "no transition occurred, skipping plugins", "state", previous)
	} else {
		if err := r.runStatePlugins(ctx, next.Value, depth); err != nil {
			return err
		}

		if r.debug {
			log.DebugContext(ctx, "workflow context", "context", r.Context())
		}
	}

	current, data := r.current()

	for _, p := range r.blockingStatePlugins(plugins.WhenPost, current) {
		r.runStatePlugin(ctx, p, merge.CloneMap(data), event, current)
	}

	return nil
}

func (r *Runner) logTransition(ctx context.Context, previous string, next *statemachine.Snapshot) {
	log := logger.Get(ctx)

	log.InfoContext(ctx, "state transitioned", "previous_state", previous, "next_state", next.Value)

	if next.Done {
		log.InfoContext(ctx, "reached final state", "state", next.Value)
	}

	if next.HasTag(TagFailure) {
		log.WarnContext(ctx, "reached failure state",
			"state", next.Value,
			"correlation_id", lookup(next.Context, "entity.id"),
			"ballerine_entity_id", lookup(next.Context, "entity.ballerineEntityId"))
	}
}

// runStatePlugins runs the plugins bound to state in category order. The
// lists are fixed before the first plugin runs, so callbacks that move the
// machine on do not change which plugins this pass invokes.
func (r *Runner) runStatePlugins(ctx context.Context, state string, depth int) error {
	dispatch := plugins.BoundTo(r.plugins.DispatchEvent, state)
	children := plugins.BoundTo(r.plugins.ChildWorkflow, state)
	common := plugins.BoundTo(r.plugins.Common, state)
	api := plugins.BoundTo(r.plugins.API, state)

	for _, p := range dispatch {
		if err := r.dispatchEvent(ctx, p, depth); err != nil {
			return err
		}
	}

	for _, p := range children {
		if err := r.invokeChild(ctx, p, depth); err != nil {
			return err
		}
	}

	for _, p := range common {
		if err := r.invokeCommon(ctx, p, depth); err != nil {
			return err
		}
	}

	for _, p := range api {
		if err := r.invokeAPI(ctx, p, depth); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) blockingStatePlugins(when plugins.When, state string) []*plugins.StatePlugin {
	var out []*plugins.StatePlugin

	for _, p := range plugins.BoundTo(r.plugins.State, state) {
		if p.IsBlocking() && p.When() == when {
			out = append(out, p)
		}
	}

	return out
}

func (r *Runner) callback(ctx context.Context, action string, depth int) error {
	if action == "" {
		return nil
	}

	return r.sendEvent(ctx, statemachine.Event{Type: action}, depth+1)
}
