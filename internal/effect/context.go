package effect

import (
	"context"
	"sync"

	"github.com/dshills/flowstate/internal/action"
)

// Stream is the shared action stream seen by effect handlers.
type Stream interface {
	// Observe calls fn for every action entering effect processing, in
	// dispatch order. fn must not block.
	Observe(fn func(action.Action)) (cancel func())
}

// Context is passed to every handler invocation.
// The embedded context is cancelled when the owning container is disabled.
type Context struct {
	context.Context

	module action.ModuleID
	stream Stream
}

// NewContext creates a handler context for module.
func NewContext(ctx context.Context, module action.ModuleID, stream Stream) *Context {
	return &Context{
		Context: ctx,
		module:  module,
		stream:  stream,
	}
}

// Module returns the module owning the pipeline.
func (c *Context) Module() action.ModuleID {
	return c.module
}

// Observe calls fn for every later action until cancel is called or the
// context is done.
func (c *Context) Observe(fn func(action.Action)) (cancel func()) {
	if c.stream == nil {
		return func() {}
	}
	stop := c.stream.Observe(fn)
	unregister := context.AfterFunc(c.Context, stop)
	return func() {
		unregister()
		stop()
	}
}

// Take returns a channel receiving the next action accepted by m.
// Interest is registered before Take returns, so an action dispatched
// afterwards is never missed. The channel is never closed; select on
// Done or use Await.
func (c *Context) Take(m action.Matcher) <-chan action.Action {
	ch := make(chan action.Action, 1)

	var (
		mu     sync.Mutex
		fired  bool
		cancel func()
	)

	obs := c.Observe(func(a action.Action) {
		if !m.Matches(a.Type) {
			return
		}
		mu.Lock()
		if fired {
			mu.Unlock()
			return
		}
		fired = true
		stop := cancel
		mu.Unlock()

		ch <- a
		if stop != nil {
			stop()
		}
	})

	mu.Lock()
	cancel = obs
	already := fired
	mu.Unlock()
	if already {
		obs()
	}
	return ch
}

// Await waits for an action from ch or for the context to be done.
func (c *Context) Await(ch <-chan action.Action) (action.Action, error) {
	select {
	case a := <-ch:
		return a, nil
	case <-c.Done():
		return action.Action{}, c.Err()
	}
}
