package store

import (
	"context"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/effect"
)

// Reducer is a module's update function.
type Reducer interface {
	// Handles reports whether Reduce may change state for t.
	Handles(t action.Type) bool

	// Reduce returns the next state. It must not mutate state and must
	// return state itself when nothing changed.
	Reduce(state any, a action.Action) (any, error)
}

// ReducerFunc adapts a function to Reducer. It handles every type.
type ReducerFunc func(state any, a action.Action) (any, error)

// Handles implements Reducer.
func (f ReducerFunc) Handles(action.Type) bool {
	return true
}

// Reduce implements Reducer.
func (f ReducerFunc) Reduce(state any, a action.Action) (any, error) {
	return f(state, a)
}

// Pipeline is a module's effect pipeline.
type Pipeline interface {
	// Handlers returns the handlers accepting t, in registration order.
	Handlers(t action.Type) []effect.Handler
}

// initialStater is implemented by reducers that carry their initial state.
type initialStater interface {
	InitialState() any
}

// container is the runtime unit of one module. All fields are guarded by
// the owning Registry's mutex.
type container struct {
	id     action.ModuleID
	handle *Handle

	reducer    Reducer
	pipeline   Pipeline
	initial    func() any
	registered bool

	state       any
	initialized bool
	enabled     bool
	usage       int

	// gen changes every time the container is enabled from zero or
	// disabled to zero; effect emissions carry the gen they started with.
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	listeners map[uint64]*listener
}

func newContainer(r *Registry, id action.ModuleID) *container {
	c := &container{
		id:        id,
		ctx:       context.Background(),
		listeners: make(map[uint64]*listener),
	}
	c.handle = &Handle{r: r, c: c}
	return c
}

// activeFor reports whether an emission started at gen may still reach the store.
func (c *container) activeFor(gen uint64) bool {
	return c.enabled && c.gen == gen
}

// Handle controls the lifecycle of one registered module.
type Handle struct {
	r *Registry
	c *container
}

// ID returns the module ID.
func (h *Handle) ID() action.ModuleID {
	return h.c.id
}

// Enable adds a user of the module. The first-ever enable initializes state
// and dispatches $init followed by $mounted; later enables dispatch
// $mounted, or $remounted when WithHotRemount is given.
func (h *Handle) Enable(opts ...EnableOption) error {
	var cfg enableConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return h.r.enable(h.c, cfg)
}

// Disable removes a user of the module. It dispatches $unmounting; when the
// last user leaves it marks the container disabled, dispatches $unmounted
// and cancels in-flight effects. The module's own effect handlers still see
// both actions but their emissions are dropped. State is kept.
func (h *Handle) Disable() error {
	return h.r.disable(h.c)
}

// State returns the module's current state.
func (h *Handle) State() (any, error) {
	return h.r.State(h.c.id)
}

// IsEnabled reports whether at least one user has the module enabled.
func (h *Handle) IsEnabled() bool {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.c.enabled
}

// IsInitialized reports whether the state has been initialized.
func (h *Handle) IsInitialized() bool {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.c.initialized
}

// UsageCount returns the number of current users.
func (h *Handle) UsageCount() int {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.c.usage
}
