package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/amp-labs/workflow-core/bus"
	"github.com/amp-labs/workflow-core/http/transport"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/plugins"
	"github.com/amp-labs/workflow-core/statemachine"
	"github.com/amp-labs/workflow-core/store"
	"github.com/amp-labs/workflow-core/workflow"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var errNoEvents = errors.New("no events to send, use --event or --events")

type runFlags struct {
	pluginsPath   string
	eventsPath    string
	contextPath   string
	runtimeID     string
	secretsPrefix string
	eventTypes    []string
	offline       bool
}

func newRunCmd(a *app) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run <definition>",
		Short: "Send events through a workflow and print what happens",
		Long: `Builds a runner for the definition, sends the given events in order and
prints every notification as a JSON line, followed by the final state and
context. With a persistent store, a known --runtime-id resumes that runtime.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.pluginsPath, "plugins", "p", "", "plugin descriptors file (YAML or JSON)")
	cmd.Flags().StringVar(&flags.eventsPath, "events", "", "file with a list of {type, payload} events")
	cmd.Flags().StringArrayVarP(&flags.eventTypes, "event", "e", nil, "event type to send, after --events (repeatable)")
	cmd.Flags().StringVar(&flags.contextPath, "context", "", "initial context file (YAML or JSON)")
	cmd.Flags().StringVar(&flags.runtimeID, "runtime-id", "", "runtime id (default: a new UUID)")
	cmd.Flags().StringVar(&flags.secretsPrefix, "secrets-prefix", "WORKFLOW_SECRET_",
		"environment prefix of secrets available to {secret.NAME} placeholders")
	cmd.Flags().BoolVar(&flags.offline, "offline", false, "fail every plugin HTTP call without touching the network")

	return cmd
}

func (a *app) run(ctx context.Context, out io.Writer, definitionPath string, flags runFlags) error {
	def, err := statemachine.LoadDefinition(definitionPath)
	if err != nil {
		return err
	}

	ext, err := loadExtensions(flags.pluginsPath)
	if err != nil {
		return err
	}

	events, err := loadEvents(flags.eventsPath, flags.eventTypes)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return errNoEvents
	}

	data, err := loadContext(flags.contextPath)
	if err != nil {
		return err
	}

	snapshots, err := a.cfg.Store.Open()
	if err != nil {
		return err
	}

	if closer, ok := snapshots.(io.Closer); ok {
		defer closer.Close()
	}

	runtimeID := flags.runtimeID
	if runtimeID == "" {
		runtimeID = uuid.NewString()
	}

	ctx = logger.WithRuntimeID(ctx, runtimeID)

	restored, err := restore(ctx, snapshots, runtimeID, data)
	if err != nil {
		return err
	}

	if a.cfg.HTTP.EnableDNSCache {
		refreshCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		go transport.RefreshDNSCache(refreshCtx, a.cfg.HTTP.DNSCacheRefresh)
	}

	if flags.offline {
		ctx = transport.WithTransport(ctx, transport.Offline())
	}

	var h host

	opts := append(a.cfg.RunnerOptions(snapshots), workflow.WithHTTPClient(transport.NewClient(ctx, a.cfg.HTTP)))

	runner, err := workflow.New(workflow.Args{
		RuntimeID:           runtimeID,
		Definition:          def,
		WorkflowActions:     hostActions(def),
		WorkflowContext:     restored,
		Extensions:          ext,
		SecretsManager:      plugins.EnvSecrets{Prefix: flags.secretsPrefix},
		Vendors:             a.cfg.VendorEndpoints(),
		InvokeRiskRules:     h.riskRules,
		InvokeChildWorkflow: h.childWorkflow,
		InvokeWorkflowToken: h.workflowToken,
	}, opts...)
	if err != nil {
		return err
	}
	defer runner.Close()

	p := &printer{enc: json.NewEncoder(out)}

	names := []string{bus.StateUpdate, bus.StatusUpdate, bus.EvaluationError}
	for _, dispatch := range runner.Plugins().DispatchEvent {
		names = append(names, dispatch.EventName())
	}

	subscribed := make(map[string]bool)

	for _, name := range names {
		if subscribed[name] {
			continue
		}

		subscribed[name] = true

		runner.Subscribe(name, p.notification(name))
	}

	for _, event := range events {
		if err := runner.SendEvent(ctx, event); err != nil {
			return fmt.Errorf("sending %s: %w", event.Type, err)
		}
	}

	record := runner.Record()

	return p.write(result{RuntimeID: runtimeID, State: record.State, Context: record.Context})
}

// restore resumes runtimeID from the store when it has a record, and starts
// from data otherwise.
func restore(
	ctx context.Context,
	snapshots store.Store,
	runtimeID string,
	data map[string]any,
) (*workflow.WorkflowContext, error) {
	fresh := &workflow.WorkflowContext{MachineContext: data}

	if snapshots == nil {
		return fresh, nil
	}

	record, err := snapshots.Load(ctx, runtimeID)
	if errors.Is(err, store.ErrNotFound) {
		return fresh, nil
	}

	if err != nil {
		return nil, err
	}

	logger.Get(ctx).InfoContext(ctx, "resuming runtime from store", "state", record.State)

	return &workflow.WorkflowContext{MachineContext: record.Context, State: record.State}, nil
}

type line struct {
	Notification string         `json:"notification"`
	Type         string         `json:"type"`
	State        string         `json:"state,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type result struct {
	RuntimeID string         `json:"runtimeId"`
	State     string         `json:"state"`
	Context   map[string]any `json:"context"`
}

// printer writes JSON lines; subscribers call it from the bus pool.
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (p *printer) write(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.enc.Encode(v)
}

func (p *printer) notification(name string) bus.Handler {
	return func(_ context.Context, event bus.Event) error {
		l := line{
			Notification: name,
			Type:         event.Type,
			State:        event.State,
			Payload:      event.Payload,
		}

		if event.Error != nil {
			l.Error = event.Error.Error()
		}

		return p.write(l)
	}
}
