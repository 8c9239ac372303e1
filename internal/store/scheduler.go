package store

import (
	"context"
	"errors"
	"sync"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/effect"
)

// schedTask is one entry of the deferred queue: an action to run effects
// for, an error to deliver on the error channel, or the cancellation of a
// container disabled by its last user.
type schedTask struct {
	act    action.Action
	runs   []effectRun
	report *ErrorEvent
	cancel context.CancelFunc
}

// scheduler drains the deferred queue on a single goroutine. Effect
// handlers are invoked there in registration order; Deferred and stream
// results are awaited on their own goroutines.
type scheduler struct {
	r *Registry

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []schedTask
	stopped bool

	done chan struct{}
}

func newScheduler(r *Registry) *scheduler {
	s := &scheduler{r: r, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *scheduler) start() {
	go s.loop()
}

func (s *scheduler) enqueue(t schedTask) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if t.cancel != nil {
			t.cancel()
		}
		return
	}
	s.queue = append(s.queue, t)
	s.r.idle.add(1)
	s.r.metrics.QueueDepth(len(s.queue))
	s.mu.Unlock()

	s.cond.Signal()
}

// clear drops queued tasks and returns how many were dropped.
func (s *scheduler) clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queue)
	s.queue = nil
	return n
}

func (s *scheduler) stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.r.idle.add(-len(s.queue))
		s.queue = nil
	}
	s.mu.Unlock()
	s.cond.Broadcast()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *scheduler) loop() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue[0] = schedTask{}
		s.queue = s.queue[1:]
		s.r.metrics.QueueDepth(len(s.queue))
		s.mu.Unlock()

		s.process(t)
		s.r.idle.done()
	}
}

type effectRun struct {
	c        *container
	handlers []effect.Handler
	gen      uint64
	ctx      context.Context

	// retiring runs handle the owner's final unmount actions and are
	// invoked even though the container is being disabled.
	retiring bool
}

func (s *scheduler) process(t schedTask) {
	r := s.r
	if t.report != nil {
		r.reportError(*t.report)
		return
	}
	if t.cancel != nil {
		t.cancel()
		return
	}
	a := t.act

	r.mu.Lock()
	observers := append([]*observer(nil), r.observers...)
	r.mu.Unlock()

	for _, o := range observers {
		if o.cancelled.Load() {
			continue
		}
		if err := safeCall(func() { o.fn(a) }); err != nil {
			s.enqueue(schedTask{report: &ErrorEvent{Kind: KindListener, Action: a, Err: err}})
		}
	}

	for _, run := range t.runs {
		for _, h := range run.handlers {
			if !run.retiring && !r.active(run.c, run.gen) {
				break
			}
			s.invoke(run, h, a)
		}
	}
}

func (s *scheduler) invoke(run effectRun, h effect.Handler, a action.Action) {
	r := s.r
	r.metrics.EffectStarted(run.c.id, a.Type)

	ec := effect.NewContext(run.ctx, run.c.id, r)
	em, err := safeInvoke(h, ec, a)
	if err != nil {
		s.fail(run, a, err)
		return
	}

	for _, out := range em.Actions {
		r.emit(run.c, run.gen, out)
	}

	if em.Deferred != nil {
		s.spawn(func() {
			out, err := safeDeferred(run.ctx, em.Deferred)
			if err != nil {
				if run.ctx.Err() == nil {
					s.fail(run, a, err)
				}
				return
			}
			r.emit(run.c, run.gen, out)
		})
	}

	if em.Stream != nil {
		s.spawn(func() {
			for {
				select {
				case <-run.ctx.Done():
					return
				case out, ok := <-em.Stream:
					if !ok {
						return
					}
					r.emit(run.c, run.gen, out)
				}
			}
		})
	}
}

func (s *scheduler) spawn(fn func()) {
	s.r.idle.add(1)
	go func() {
		defer s.r.idle.done()
		fn()
	}()
}

// fail queues an effect failure for delivery on a later tick.
func (s *scheduler) fail(run effectRun, a action.Action, err error) {
	kind := KindEffect
	if errors.Is(err, effect.ErrInvalidResult) {
		kind = KindInvalidResult
	}
	s.enqueue(schedTask{report: &ErrorEvent{
		Kind:   kind,
		Module: run.c.id,
		Action: a,
		Err:    &EffectError{Module: run.c.id, Action: a.Type, Err: err},
	}})
}

// active reports whether c is still enabled in generation gen.
func (r *Registry) active(c *container, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return c.activeFor(gen)
}
