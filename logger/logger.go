// Package logger configures slog for workflow-core and carries per-run
// logging values (runtime id, state, subsystem) through context.Context.
package logger

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Used for logging which part of the kernel is generating the log.
// Using atomic.Value to ensure thread-safe reads and writes.
var subsystem atomic.Value //nolint:gochecknoglobals

// configMutex protects concurrent calls to ConfigureLoggingWithOptions.
// This is necessary because the function modifies global state (slog.SetDefault and log.Default).
var configMutex sync.Mutex //nolint:gochecknoglobals

type contextKey string

// Options is used to configure logging.
type Options struct {
	Subsystem   string
	JSON        bool
	MinLevel    slog.Level
	LegacyLevel slog.Level
	Output      io.Writer
}

// ConfigureLoggingWithOptions configures logging for the application.
// It returns the default logger.
func ConfigureLoggingWithOptions(opts Options) *slog.Logger {
	configMutex.Lock()
	defer configMutex.Unlock()

	var handler slog.Handler

	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, &slog.HandlerOptions{
			Level: opts.MinLevel,
		})
	} else {
		handler = slog.NewTextHandler(opts.Output, &slog.HandlerOptions{
			Level: opts.MinLevel,
		})
	}

	handler = ErrorAttrs(handler)

	logger := slog.New(handler)

	slog.SetDefault(logger)

	// Third party packages still using the log package get redirected into slog.
	def := log.Default()
	*def = *slog.NewLogLogger(handler, opts.LegacyLevel)

	subsystem.Store(opts.Subsystem)

	return logger
}

// ParseLevel converts a textual level ("debug", "info", "warn", "error") to a slog.Level.
// Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithMuted adds a muted flag to the context. When muted is true, all logging
// operations on this context will be suppressed.
func WithMuted(ctx context.Context, muted bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("mute"), muted)
}

func isMuted(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	muted, ok := ctx.Value(contextKey("mute")).(bool)

	return ok && muted
}

// WithSubsystem overrides the default subsystem for loggers derived from ctx.
func WithSubsystem(ctx context.Context, subsystem string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("subsystem"), subsystem)
}

// GetSubsystem returns the subsystem from the context. If the
// subsystem is not provided, the default subsystem will be used.
func GetSubsystem(ctx context.Context) string { //nolint:contextcheck
	if ctx == nil {
		ctx = context.Background()
	}

	if val, ok := ctx.Value(contextKey("subsystem")).(string); ok {
		return val
	}

	if defaultSub, ok := subsystem.Load().(string); ok {
		return defaultSub
	}

	return ""
}

// WithRuntimeID embeds the workflow runtime id into the logging context.
func WithRuntimeID(ctx context.Context, runtimeID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("runtime_id"), runtimeID)
}

// GetRuntimeID returns the workflow runtime id from the context, if present.
func GetRuntimeID(ctx context.Context) (string, bool) { //nolint:contextcheck
	if ctx == nil {
		return "", false
	}

	val, ok := ctx.Value(contextKey("runtime_id")).(string)

	return val, ok
}

// getRealContext extracts the first non-nil context from a variadic list.
func getRealContext(ctx ...context.Context) context.Context {
	for _, c := range ctx {
		if c != nil {
			return c
		}
	}

	return context.Background()
}

// nullHandler is a slog.Handler implementation that discards all log output.
type nullHandler struct{}

func (n *nullHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return false
}

func (n *nullHandler) Handle(_ context.Context, _ slog.Record) error {
	return nil
}

func (n *nullHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return n
}

func (n *nullHandler) WithGroup(_ string) slog.Handler {
	return n
}

var nullLogger = slog.New(&nullHandler{}) //nolint:gochecknoglobals

// Get returns a logger carrying the subsystem, the runtime id and any values
// attached with With. A muted context yields a logger that discards everything.
//
//nolint:contextcheck
func Get(ctx ...context.Context) *slog.Logger {
	realCtx := getRealContext(ctx...)

	if isMuted(realCtx) {
		return nullLogger
	}

	base := slog.Default()
	if override, ok := realCtx.Value(contextKey("logger")).(*slog.Logger); ok && override != nil {
		base = override
	}

	logger := base.With("subsystem", GetSubsystem(realCtx))

	if runtimeID, ok := GetRuntimeID(realCtx); ok {
		logger = logger.With("runtime_id", runtimeID)
	}

	if vals := getValues(realCtx); vals != nil {
		logger = logger.With(vals...)
	}

	return logger
}

// WithLogger makes Get build on l instead of the default logger for ctx and
// its children. Tests use it to capture the logs of one run.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("logger"), l)
}

// With returns a new context with the given values added.
// The values are added to the logger automatically.
func With(ctx context.Context, values ...any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(values) == 0 {
		return ctx
	}

	existing := getValues(ctx)
	vals := make([]any, 0, len(existing)+len(values))
	vals = append(vals, existing...)
	vals = append(vals, values...)

	return context.WithValue(ctx, contextKey("loggerValues"), vals)
}

func getValues(ctx context.Context) []any { //nolint:contextcheck
	if ctx == nil {
		return nil
	}

	vals, _ := ctx.Value(contextKey("loggerValues")).([]any)

	return vals
}
