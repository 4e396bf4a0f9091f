package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/amp-labs/workflow-core/bus"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/statemachine"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

// caseDefinition is the definition most tests run:
//
//	review --APPROVE--> approved (final)
//	review --REJECT---> rejected (final, failure)
//	review --SCORE----> scoring --NEXT--> done (final)
//	                            --FAIL--> rejected
func caseDefinition() *statemachine.Definition {
	return statemachine.NewBuilder("case").
		Initial("review").
		Context(map[string]any{"entity": map[string]any{"id": "e-1"}}).
		State("review").
		On("APPROVE", "approved").
		On("REJECT", "rejected").
		On("SCORE", "scoring").
		State("scoring").
		On("NEXT", "done").
		On("FAIL", "rejected").
		State("approved").Final().
		State("rejected").Final().Tags(TagFailure).
		State("done").Final().
		MustBuild()
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	return logger.WithLogger(t.Context(), slogt.New(t))
}

func newRunner(t *testing.T, args Args, opts ...Option) *Runner {
	t.Helper()

	if args.Definition == nil {
		args.Definition = caseDefinition()
	}

	if args.RuntimeID == "" {
		args.RuntimeID = "wf-test"
	}

	r, err := New(args, opts...)
	require.NoError(t, err)

	t.Cleanup(r.Close)

	return r
}

type noted struct {
	Name  string
	Event bus.Event
}

// notifications records every event published under the watched names.
type notifications struct {
	mu     sync.Mutex
	events []noted
}

func watch(r *Runner, names ...string) *notifications {
	n := &notifications{}

	for _, name := range names {
		r.Subscribe(name, func(_ context.Context, event bus.Event) error {
			n.mu.Lock()
			defer n.mu.Unlock()

			n.events = append(n.events, noted{Name: name, Event: event})

			return nil
		})
	}

	return n
}

func (n *notifications) all() []noted {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]noted(nil), n.events...)
}

func (n *notifications) of(name string) []bus.Event {
	var out []bus.Event

	for _, e := range n.all() {
		if e.Name == name {
			out = append(out, e.Event)
		}
	}

	return out
}

// sequence is an order log shared by subscribers, servers and plugins.
type sequence struct {
	mu    sync.Mutex
	steps []string
}

func (s *sequence) add(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps = append(s.steps, step)
}

func (s *sequence) get() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.steps...)
}

// logBuffer captures JSON log records.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *logBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.buf.Write(p)
}

func (l *logBuffer) context(t *testing.T) context.Context {
	t.Helper()

	handler := slog.NewJSONHandler(l, &slog.HandlerOptions{Level: slog.LevelDebug})

	return logger.WithLogger(t.Context(), slog.New(logger.ErrorAttrs(handler)))
}

func (l *logBuffer) records(t *testing.T) []map[string]any {
	t.Helper()

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []map[string]any

	for _, line := range strings.Split(strings.TrimSpace(l.buf.String()), "\n") {
		if line == "" {
			continue
		}

		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))

		out = append(out, record)
	}

	return out
}

func (l *logBuffer) find(t *testing.T, msg string) (map[string]any, bool) {
	t.Helper()

	for _, record := range l.records(t) {
		if record["msg"] == msg {
			return record, true
		}
	}

	return nil, false
}
