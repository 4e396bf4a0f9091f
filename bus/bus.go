// Package bus is the in-process notification bus a workflow runner reports
// state changes, plugin status and rule failures on.
//
// Subscribers of one event name run concurrently on a shared worker pool and
// Notify waits for all of them. Handler errors and recovered panics are joined
// into the error Notify returns. A handler that notifies again must pass on the
// context it received: nested deliveries then run on their own goroutines
// instead of waiting for a pool worker the outer handlers may all be holding.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/workflow-core/logger"
	"go.uber.org/atomic"
)

// Well-known event names.
const (
	StateUpdate     = "STATE_UPDATE"
	StatusUpdate    = "STATUS_UPDATE"
	EvaluationError = "EVALUATION_ERROR"
)

const defaultWorkerCount = 10

var (
	ErrClosed       = errors.New("bus is closed")
	ErrHandlerPanic = errors.New("subscriber panicked")
)

// Event is what subscribers receive.
type Event struct {
	Type    string         `json:"type"`
	State   string         `json:"state,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   error          `json:"-"`
}

// Handler handles one notification.
type Handler func(ctx context.Context, event Event) error

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus fans notifications out to subscribers.
type Bus struct {
	pool   pond.Pool
	mu     sync.RWMutex
	subs   map[string][]subscriber
	nextID uint64
	closed *atomic.Bool
}

type options struct {
	workers int
	pool    pond.Pool
}

// Option configures New.
type Option func(*options)

// WithWorkers sets the size of the fan-out pool.
func WithWorkers(count int) Option {
	return func(o *options) {
		o.workers = count
	}
}

// WithPool runs handlers on an existing pool. Close does not stop it.
func WithPool(pool pond.Pool) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// New creates a bus.
func New(opts ...Option) *Bus {
	o := &options{workers: defaultWorkerCount}

	for _, opt := range opts {
		opt(o)
	}

	b := &Bus{
		subs:   make(map[string][]subscriber),
		closed: atomic.NewBool(false),
	}

	if o.pool != nil {
		b.pool = o.pool
	} else {
		if o.workers < 1 {
			o.workers = 1
		}

		b.pool = &ownedPool{Pool: pond.NewPool(o.workers)}
	}

	return b
}

// ownedPool marks a pool the bus created and must stop on Close.
type ownedPool struct {
	pond.Pool
}

// Subscribe registers handler for name and returns a function that removes it.
func (b *Bus) Subscribe(name string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	b.subs[name] = append(b.subs[name], subscriber{id: id, handler: handler})

	var once sync.Once

	return func() {
		once.Do(func() {
			b.remove(name, id)
		})
	}
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]

	for i, sub := range subs {
		if sub.id == id {
			b.subs[name] = append(subs[:i:i], subs[i+1:]...)

			break
		}
	}

	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}

// Subscribers returns the number of handlers registered for name.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs[name])
}

// Names returns every event name that has at least one subscriber.
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.subs))
	for name := range b.subs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Notify delivers event to every subscriber of name and waits for them.
func (b *Bus) Notify(ctx context.Context, name string, event Event) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	subs := append([]subscriber(nil), b.subs[name]...)
	b.mu.RUnlock()

	notificationsTotal.WithLabelValues(name).Inc()

	if len(subs) == 0 {
		return nil
	}

	var (
		errMu sync.Mutex
		errs  []error
	)

	record := func(err error) {
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	run := func(sub subscriber) {
		if err := deliver(ctx, name, sub.handler, event); err != nil {
			handlerErrorsTotal.WithLabelValues(name).Inc()
			record(err)
		}
	}

	if nested(ctx) {
		var wg sync.WaitGroup

		for _, sub := range subs {
			wg.Go(func() { run(sub) })
		}

		wg.Wait()
	} else {
		tasks := make([]pond.Task, 0, len(subs))

		for _, sub := range subs {
			tasks = append(tasks, b.pool.Submit(func() { run(sub) }))
		}

		for _, task := range tasks {
			if err := task.Wait(); err != nil {
				record(err)
			}
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)

		logger.Get(ctx).WarnContext(ctx, "notification subscribers failed",
			"event", name,
			"failures", len(errs),
			"error", err)

		return err
	}

	return nil
}

type handlerKey struct{}

// nested reports whether ctx belongs to a handler that is already holding a
// pool worker.
func nested(ctx context.Context) bool {
	inside, _ := ctx.Value(handlerKey{}).(bool)

	return inside
}

func deliver(ctx context.Context, name string, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, name, r)
		}
	}()

	return handler(context.WithValue(ctx, handlerKey{}, true), event)
}

// Close stops accepting notifications and stops the pool if the bus owns it.
// It is safe to call more than once.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	if owned, ok := b.pool.(*ownedPool); ok {
		owned.StopAndWait()
	}
}
