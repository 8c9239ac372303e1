package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/draft"
)

// syncTask is one unit of the synchronous domain: either an action to
// apply or a lifecycle operation.
type syncTask struct {
	act action.Action
	op  func() error

	// emitter is the container whose effect emitted act; the task is
	// dropped if that container was disabled since.
	emitter *container
	gen     uint64

	// owner receives a lifecycle action even if no longer enabled.
	owner *container

	// call is the Dispatch, Enable or Disable the task belongs to; nil for
	// effect emissions.
	call *call
}

// call collects the outcome of one Dispatch, Enable or Disable: the task it
// submitted plus every task queued while those were applied.
type call struct {
	outstanding int
	errs        []error

	// done is set when the caller waits on another goroutine's drain.
	done chan error
}

// finish must be called with r.mu held.
func (c *call) finish(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
	c.outstanding--
	if c.outstanding == 0 && c.done != nil {
		c.done <- errors.Join(c.errs...)
	}
}

// Dispatch applies a to every enabled container whose update function
// handles its type, notifies listeners, then queues a for effect
// processing. It returns the joined UpdateErrors of the actions it applied.
//
// A Dispatch issued from a listener or an update function is queued and
// applied, in order, by the call already in progress before that call
// returns. A Dispatch from another goroutine while one is in progress waits
// until its own action has been applied.
func (r *Registry) Dispatch(a action.Action) error {
	if a.Type.IsZero() {
		return ErrInvalidAction
	}
	return r.submit(syncTask{act: a}, true)
}

// emit feeds an effect emission back into the synchronous domain.
func (r *Registry) emit(c *container, gen uint64, a action.Action) {
	if a.Type.IsZero() {
		return
	}
	r.mu.Lock()
	ok := c.activeFor(gen)
	r.mu.Unlock()
	if !ok {
		return
	}
	_ = r.submit(syncTask{act: a, emitter: c, gen: gen}, false)
}

// submit queues t. With no drain in progress the caller drains the queue
// itself. A caller on the draining goroutine is re-entrant: its task joins
// the call being applied and submit returns at once. Any other caller waits
// for its own call when wait is set.
func (r *Registry) submit(t syncTask, wait bool) error {
	g := goid()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.draining && r.drainer == g {
		r.queueLocked(t, r.current)
		r.mu.Unlock()
		return nil
	}

	var cl *call
	if wait {
		cl = &call{}
	}
	r.queueLocked(t, cl)
	if r.draining {
		if cl == nil {
			r.mu.Unlock()
			return nil
		}
		cl.done = make(chan error, 1)
		r.mu.Unlock()
		return <-cl.done
	}
	r.draining = true
	r.drainer = g
	r.mu.Unlock()

	r.drain()
	if cl == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(cl.errs...)
}

// queueLocked must be called with r.mu held.
func (r *Registry) queueLocked(t syncTask, cl *call) {
	t.call = cl
	if cl != nil {
		cl.outstanding++
	}
	r.pending = append(r.pending, t)
	r.idle.add(1)
}

// pushFront queues tasks ahead of everything pending so lifecycle actions
// are applied before any work that was queued earlier. The tasks belong to
// the call being applied.
func (r *Registry) pushFront(tasks ...syncTask) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cl := r.current
	for i := range tasks {
		tasks[i].call = cl
	}
	if cl != nil {
		cl.outstanding += len(tasks)
	}
	r.pending = append(append(make([]syncTask, 0, len(tasks)+len(r.pending)), tasks...), r.pending...)
	r.idle.add(len(tasks))
}

func (r *Registry) drain() {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.draining = false
			r.drainer = 0
			r.mu.Unlock()
			return
		}
		t := r.pending[0]
		r.pending[0] = syncTask{}
		r.pending = r.pending[1:]
		r.current = t.call
		r.mu.Unlock()

		err := r.run(t)

		r.mu.Lock()
		r.current = nil
		if t.call != nil {
			t.call.finish(err)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) run(t syncTask) error {
	defer r.idle.done()
	return protect(func() error {
		if t.op != nil {
			return t.op()
		}
		return r.apply(t)
	})
}

type target struct {
	c     *container
	red   Reducer
	state any
}

type notification struct {
	l      *listener
	states []any
}

// apply runs the synchronous domain for one action: every update first,
// then listeners against the fully updated world, then the deferred queue.
func (r *Registry) apply(t syncTask) error {
	a := t.act

	r.mu.Lock()
	if t.emitter != nil && !t.emitter.activeFor(t.gen) {
		r.mu.Unlock()
		return nil
	}
	var targets []target
	for _, c := range r.order {
		if !c.enabled && c != t.owner {
			continue
		}
		if !c.initialized || c.reducer == nil || !c.reducer.Handles(a.Type) {
			continue
		}
		targets = append(targets, target{c: c, red: c.reducer, state: c.state})
	}
	runs := r.effectRunsLocked(a, t.owner)
	r.mu.Unlock()

	var failed []*UpdateError
	next := make([]any, len(targets))
	for i, tg := range targets {
		s, err := safeReduce(tg.red, tg.state, a)
		if err != nil {
			failed = append(failed, &UpdateError{Module: tg.c.id, Action: a.Type, Err: err})
			next[i] = tg.state
			continue
		}
		next[i] = s
	}

	r.mu.Lock()
	touched := make(map[uint64]*listener)
	for i, tg := range targets {
		if draft.Same(tg.state, next[i]) || !draft.Same(tg.c.state, tg.state) {
			continue
		}
		tg.c.state = next[i]
		for id, l := range tg.c.listeners {
			touched[id] = l
		}
	}
	notes := make([]notification, 0, len(touched))
	for _, l := range touched {
		notes = append(notes, notification{l: l, states: r.statesOf(l.deps)})
	}
	r.mu.Unlock()

	sort.Slice(notes, func(i, j int) bool { return notes[i].l.id < notes[j].l.id })

	errs := make([]error, len(failed))
	for i, ue := range failed {
		errs[i] = ue
		r.reportError(ErrorEvent{Kind: KindUpdate, Module: ue.Module, Action: a, Err: ue})
	}
	for _, n := range notes {
		r.notify(n, a)
	}

	r.metrics.ActionDispatched(a.Type)
	r.sched.enqueue(schedTask{act: a, runs: runs})
	return errors.Join(errs...)
}

// effectRunsLocked fixes which effect handlers see a: those of the
// containers enabled when a is applied, plus the owner of its own final
// unmount actions. It must be called with r.mu held.
func (r *Registry) effectRunsLocked(a action.Action, owner *container) []effectRun {
	var runs []effectRun
	for _, c := range r.order {
		if (!c.enabled && c != owner) || c.pipeline == nil {
			continue
		}
		hs := c.pipeline.Handlers(a.Type)
		if len(hs) == 0 {
			continue
		}
		run := effectRun{c: c, handlers: hs, gen: c.gen, ctx: c.ctx}
		if c == owner && finalUnmount(c, a.Type) {
			// Gen 0 is never active, so emissions of these runs are dropped.
			run.retiring, run.gen = true, 0
		}
		runs = append(runs, run)
	}
	return runs
}

// finalUnmount reports whether t is the $unmounting of c's last user or
// its $unmounted. It must be called with r.mu held.
func finalUnmount(c *container, t action.Type) bool {
	l, ok := action.LifecycleOf(t)
	if !ok {
		return false
	}
	switch l {
	case action.LifecycleUnmounted:
		return true
	case action.LifecycleUnmounting:
		return c.usage == 1
	}
	return false
}

func (r *Registry) lifecycle(c *container, l action.Lifecycle) syncTask {
	return syncTask{act: c.id.Lifecycle(l).Empty(), owner: c}
}

func (r *Registry) enable(c *container, cfg enableConfig) error {
	return r.submit(syncTask{op: func() error {
		return r.enableOp(c, cfg)
	}}, true)
}

func (r *Registry) enableOp(c *container, cfg enableConfig) error {
	r.mu.Lock()
	if !c.registered {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	c.usage++
	first := c.usage == 1
	if first {
		c.enabled = true
		c.gen++
		c.ctx, c.cancel = context.WithCancel(r.baseCtx)
	}
	usage := c.usage
	initialized := c.initialized
	initial := c.initial
	enabled := r.enabledCount()
	r.mu.Unlock()

	if first {
		r.metrics.ContainersEnabled(enabled)
	}

	switch {
	case initialized && cfg.hotRemount:
		r.logger.Debug().Str("module", c.id.String()).Int("usage", usage).Msg("module remounted")
		r.pushFront(r.lifecycle(c, action.LifecycleRemounted))
	case !initialized:
		state, err := safeInitial(initial)
		if err != nil {
			r.mu.Lock()
			_, cancel := r.release(c)
			r.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			return fmt.Errorf("initialize %s: %w", c.id, err)
		}
		r.mu.Lock()
		c.state = state
		c.initialized = true
		r.mu.Unlock()
		r.logger.Debug().Str("module", c.id.String()).Msg("module initialized")
		r.pushFront(r.lifecycle(c, action.LifecycleInit), r.lifecycle(c, action.LifecycleMounted))
	default:
		r.logger.Debug().Str("module", c.id.String()).Msg("module mounted")
		r.pushFront(r.lifecycle(c, action.LifecycleMounted))
	}
	return nil
}

func (r *Registry) disable(c *container) error {
	return r.submit(syncTask{op: func() error {
		return r.disableOp(c)
	}}, true)
}

func (r *Registry) disableOp(c *container) error {
	r.mu.Lock()
	usage := c.usage
	r.mu.Unlock()
	if usage == 0 {
		return ErrNotEnabled
	}

	r.pushFront(r.lifecycle(c, action.LifecycleUnmounting), syncTask{op: func() error {
		r.mu.Lock()
		last, cancel := r.release(c)
		enabled := r.enabledCount()
		r.mu.Unlock()

		if last {
			// Queued behind $unmounting so the owner's handlers see it
			// before in-flight effects are cancelled.
			if cancel != nil {
				r.sched.enqueue(schedTask{cancel: cancel})
			}
			r.metrics.ContainersEnabled(enabled)
			r.logger.Debug().Str("module", c.id.String()).Msg("module unmounted")
			r.pushFront(r.lifecycle(c, action.LifecycleUnmounted))
		}
		return nil
	}})
	return nil
}

// release drops one user and reports whether it was the last. On the last
// release listeners are cleared and the func cancelling in-flight effects
// is returned. It must be called with r.mu held.
func (r *Registry) release(c *container) (bool, context.CancelFunc) {
	if c.usage == 0 {
		return false, nil
	}
	c.usage--
	if c.usage > 0 {
		return false, nil
	}

	c.enabled = false
	c.gen++
	cancel := c.cancel
	c.cancel = nil
	for _, l := range c.listeners {
		l.cancelled.Store(true)
		r.detach(l)
	}
	return true, cancel
}
