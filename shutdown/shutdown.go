// Package shutdown cancels a root context on SIGINT or SIGTERM, after running
// the hooks registered with BeforeShutdown.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/amp-labs/workflow-core/logger"
)

var (
	mut     sync.Mutex    //nolint:gochecknoglobals
	hooks   []func()      //nolint:gochecknoglobals
	trigger chan struct{} //nolint:gochecknoglobals
)

// BeforeShutdown registers a function to be called before the context
// returned by SetupHandler is canceled. The context is still alive while
// hooks run.
func BeforeShutdown(h func()) {
	mut.Lock()
	defer mut.Unlock()

	hooks = append(hooks, h)
}

// Shutdown starts the shutdown programmatically, as if a signal had arrived.
// It does nothing when no handler is set up.
func Shutdown() {
	mut.Lock()
	defer mut.Unlock()

	if trigger == nil {
		return
	}

	select {
	case trigger <- struct{}{}:
	default:
	}
}

// SetupHandler returns a child of parent that is canceled on SIGINT, SIGTERM
// or Shutdown, once the registered hooks have run. Calling the returned
// cancel func stops the handler without running hooks.
func SetupHandler(parent context.Context) (context.Context, context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	manual := make(chan struct{}, 1)

	mut.Lock()
	trigger = manual
	mut.Unlock()

	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer signal.Stop(signals)

		select {
		case sig := <-signals:
			logger.Get(ctx).WarnContext(ctx, "received "+sig.String()+", shutting down")
		case <-manual:
			logger.Get(ctx).WarnContext(ctx, "shutdown requested")
		case <-ctx.Done():
			return
		}

		runHooks()
		cancel()
	}()

	return ctx, cancel
}

func runHooks() {
	mut.Lock()
	pending := hooks
	hooks = nil
	mut.Unlock()

	for _, h := range pending {
		h()
	}
}
