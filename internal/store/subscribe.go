package store

import (
	"sync"
	"sync/atomic"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/draft"
)

// Projector maps the states of a listener's dependencies, in the order
// they were given to Subscribe, to the value the listener observes.
type Projector func(states ...any) any

// EqualFunc reports whether two projections are equivalent.
type EqualFunc func(prev, next any) bool

type listener struct {
	id       uint64
	deps     []action.ModuleID
	project  Projector
	equal    EqualFunc
	callback func(any)

	mu   sync.Mutex
	last any

	cancelled atomic.Bool
	once      sync.Once
}

// Subscribe attaches a listener to the given modules. The projection of
// their current states is computed before Subscribe returns; callback is
// then invoked after every dispatch that changes one of the modules and
// whose projection differs from the previous one under equal.
//
// A nil project yields the single state, or the slice of states when
// several modules are named. A nil equal compares by reference, element
// by element for slices. Subscribing to a module whose state was never
// initialized fails with NotInitializedError.
//
// The returned function unsubscribes; it is idempotent and suppresses any
// callback not yet delivered.
func (r *Registry) Subscribe(ids []action.ModuleID, project Projector, equal EqualFunc, callback func(any)) (func(), error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	if project == nil {
		project = defaultProjector
	}
	if equal == nil {
		equal = shallowEqual
	}

	l := &listener{
		deps:     append([]action.ModuleID(nil), ids...),
		project:  project,
		equal:    equal,
		callback: callback,
	}

	r.mu.Lock()
	for _, id := range l.deps {
		c := r.containers[id]
		if c == nil || !c.initialized {
			r.mu.Unlock()
			return nil, &NotInitializedError{Module: id}
		}
	}
	r.listenerSeq++
	l.id = r.listenerSeq
	for _, id := range l.deps {
		r.containers[id].listeners[l.id] = l
	}
	states := r.statesOf(l.deps)

	// Held until primed so a concurrent notification cycle sees the first
	// projection.
	l.mu.Lock()
	r.mu.Unlock()

	var first any
	err := safeCall(func() { first = l.project(states...) })
	l.last = first
	l.mu.Unlock()

	if err != nil {
		l.cancelled.Store(true)
		r.mu.Lock()
		r.detach(l)
		r.mu.Unlock()
		return nil, err
	}

	return func() {
		l.once.Do(func() {
			l.cancelled.Store(true)
			r.mu.Lock()
			r.detach(l)
			r.mu.Unlock()
		})
	}, nil
}

// detach must be called with r.mu held.
func (r *Registry) detach(l *listener) {
	for _, id := range l.deps {
		if c := r.containers[id]; c != nil {
			delete(c.listeners, l.id)
		}
	}
}

func (r *Registry) notify(n notification, a action.Action) {
	l := n.l
	if l.cancelled.Load() {
		return
	}

	l.mu.Lock()
	var (
		next any
		same bool
	)
	err := safeCall(func() {
		next = l.project(n.states...)
		same = l.equal(l.last, next)
	})
	if err == nil && !same {
		l.last = next
	}
	l.mu.Unlock()

	if err != nil {
		r.reportError(ErrorEvent{Kind: KindListener, Action: a, Err: err})
		return
	}
	if same || l.cancelled.Load() {
		return
	}

	if err := safeCall(func() { l.callback(next) }); err != nil {
		r.reportError(ErrorEvent{Kind: KindListener, Action: a, Err: err})
	}
	r.metrics.ListenerNotified()
}

func defaultProjector(states ...any) any {
	if len(states) == 1 {
		return states[0]
	}
	return states
}

func shallowEqual(prev, next any) bool {
	ps, ok1 := prev.([]any)
	ns, ok2 := next.([]any)
	if !ok1 || !ok2 {
		return draft.Same(prev, next)
	}
	if len(ps) != len(ns) {
		return false
	}
	for i := range ps {
		if !draft.Same(ps[i], ns[i]) {
			return false
		}
	}
	return true
}

type observer struct {
	fn        func(action.Action)
	cancelled atomic.Bool
}

// Observe calls fn for every action entering effect processing, in
// dispatch order, on the scheduler goroutine. fn must not block.
// The returned function stops delivery; it is idempotent.
func (r *Registry) Observe(fn func(action.Action)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	o := &observer{fn: fn}

	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.cancelled.Store(true)
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, cur := range r.observers {
				if cur == o {
					r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
					break
				}
			}
		})
	}
}

type errorHandler struct {
	fn func(ErrorEvent)
}

// OnError attaches fn to the error channel. Update failures are delivered
// on the dispatching goroutine before Dispatch returns; effect failures
// are delivered later on the scheduler goroutine.
// The returned function detaches fn.
func (r *Registry) OnError(fn func(ErrorEvent)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	h := &errorHandler{fn: fn}

	r.mu.Lock()
	r.errHandlers = append(r.errHandlers, h)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, cur := range r.errHandlers {
				if cur == h {
					r.errHandlers = append(r.errHandlers[:i:i], r.errHandlers[i+1:]...)
					break
				}
			}
		})
	}
}

func (r *Registry) reportError(ev ErrorEvent) {
	r.metrics.ErrorReported(ev.Kind)

	r.mu.Lock()
	handlers := append([]*errorHandler(nil), r.errHandlers...)
	r.mu.Unlock()

	for _, h := range handlers {
		if err := safeCall(func() { h.fn(ev) }); err != nil {
			r.logger.Error().Err(err).Str("kind", ev.Kind.String()).Msg("error handler panicked")
		}
	}
}
