package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/draft"
)

// Registry owns every container, the dispatch queue and the effect scheduler.
// It is safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	containers map[action.ModuleID]*container
	order      []*container

	// Synchronous domain: tasks applied in FIFO order by whichever
	// caller holds the draining flag. drainer is that caller's goroutine
	// and current the call of the task being applied.
	pending  []syncTask
	draining bool
	drainer  uint64
	current  *call

	listenerSeq uint64
	observers   []*observer
	errHandlers []*errorHandler

	sched *scheduler
	idle  *tracker

	logger  zerolog.Logger
	metrics Metrics

	baseCtx    context.Context
	baseCancel context.CancelFunc
	parentCtx  context.Context
	closed     bool
}

// New creates a registry and starts its effect scheduler.
func New(opts ...Option) *Registry {
	cfg := defaultRegistryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Registry{
		containers: make(map[action.ModuleID]*container),
		idle:       newTracker(),
		logger:     cfg.logger,
		metrics:    cfg.metrics,
		parentCtx:  cfg.ctx,
	}
	r.baseCtx, r.baseCancel = context.WithCancel(cfg.ctx)
	r.sched = newScheduler(r)
	r.sched.start()
	return r
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = New()
	}
	return defaultRegistry
}

// ResetDefault resets the process-wide registry. Intended for tests.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry != nil {
		defaultRegistry.Reset()
	}
}

// Register installs the update function and effect pipeline of a module
// and returns its handle. Registering the same reducer and pipeline again
// returns the existing handle; a different pair fails with
// DuplicateRegistrationError until Unregister is called.
// Either reducer or pipeline may be nil.
func (r *Registry) Register(id action.ModuleID, red Reducer, pipe Pipeline, opts ...RegisterOption) (*Handle, error) {
	if id.IsZero() {
		return nil, action.ErrZeroModule
	}

	var reg registration
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	c := r.containers[id]
	if c == nil {
		c = newContainer(r, id)
		r.containers[id] = c
		r.order = append(r.order, c)
	}

	if c.registered {
		if draft.Same(c.reducer, red) && draft.Same(c.pipeline, pipe) {
			return c.handle, nil
		}
		return nil, &DuplicateRegistrationError{Module: id}
	}

	c.reducer = red
	c.pipeline = pipe
	c.registered = true
	switch {
	case reg.initial != nil:
		c.initial = reg.initial
	case red != nil:
		if is, ok := red.(initialStater); ok {
			c.initial = is.InitialState
		}
	}

	r.logger.Debug().Str("module", id.String()).Msg("module registered")
	return c.handle, nil
}

// Unregister clears the handler set of a disabled module. State is kept
// so a later Register and Enable(WithHotRemount()) continue from it.
func (r *Registry) Unregister(id action.ModuleID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.containers[id]
	if c == nil || !c.registered {
		return ErrNotRegistered
	}
	if c.usage > 0 {
		return ErrStillEnabled
	}

	c.reducer = nil
	c.pipeline = nil
	c.initial = nil
	c.registered = false

	r.logger.Debug().Str("module", id.String()).Msg("module unregistered")
	return nil
}

// Handle returns the handle of a known module.
func (r *Registry) Handle(id action.ModuleID) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.containers[id]
	if c == nil {
		return nil, false
	}
	return c.handle, true
}

// Modules returns every known module in registration order.
func (r *Registry) Modules() []action.ModuleID {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]action.ModuleID, len(r.order))
	for i, c := range r.order {
		out[i] = c.id
	}
	return out
}

// State returns the current state of a module.
// It fails with NotInitializedError if the module was never enabled.
func (r *Registry) State(id action.ModuleID) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.containers[id]
	if c == nil || !c.initialized {
		return nil, &NotInitializedError{Module: id}
	}
	return c.state, nil
}

// Flush waits until every queued dispatch, every queued effect and every
// in-flight effect invocation has finished. Effects waiting for an action
// that never arrives keep Flush blocked until ctx is done.
func (r *Registry) Flush(ctx context.Context) error {
	return r.idle.wait(ctx)
}

// Close stops the scheduler and cancels every in-flight effect.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	r.baseCancel()
	r.mu.Unlock()

	return r.sched.stop(ctx)
}

// Reset drops every container, listener, observer and error handler and
// cancels in-flight effects. Intended for tests; it must not race with
// Dispatch.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.baseCancel()
	for _, c := range r.containers {
		if c.cancel != nil {
			c.cancel()
		}
		for _, l := range c.listeners {
			l.cancelled.Store(true)
		}
	}

	r.containers = make(map[action.ModuleID]*container)
	r.order = nil
	r.idle.add(-len(r.pending))
	for _, t := range r.pending {
		if t.call != nil {
			t.call.finish(nil)
		}
	}
	r.pending = nil
	r.observers = nil
	r.errHandlers = nil
	r.idle.add(-r.sched.clear())

	if !r.closed {
		r.baseCtx, r.baseCancel = context.WithCancel(r.parentCtx)
	}
	r.metrics.ContainersEnabled(0)
}

// enabledCount must be called with r.mu held.
func (r *Registry) enabledCount() int {
	n := 0
	for _, c := range r.order {
		if c.enabled {
			n++
		}
	}
	return n
}
