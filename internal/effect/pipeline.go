package effect

import (
	"sync"

	"github.com/dshills/flowstate/internal/action"
)

// Handler reacts to an action and returns what to emit.
type Handler func(payload any, ec *Context, a action.Action) (any, error)

// Pipeline is a set of effect handlers indexed by action type.
// It is safe for concurrent use.
type Pipeline struct {
	mu       sync.RWMutex
	handlers []Handler
	index    map[action.Type][]int
}

// New creates an empty pipeline.
func New() *Pipeline {
	return &Pipeline{
		index: make(map[action.Type][]int),
	}
}

// On registers h for every type accepted by m.
func (p *Pipeline) On(m action.Matcher, h Handler) *Pipeline {
	if h == nil {
		panic("effect: nil handler")
	}
	p.add(m.Types(), h)
	return p
}

// Merge appends every handler of other, in other's order.
func (p *Pipeline) Merge(other *Pipeline) *Pipeline {
	if other == nil || other == p {
		return p
	}

	other.mu.RLock()
	types := make(map[int][]action.Type, len(other.handlers))
	for t, idx := range other.index {
		for _, i := range idx {
			types[i] = append(types[i], t)
		}
	}
	handlers := make([]Handler, len(other.handlers))
	copy(handlers, other.handlers)
	other.mu.RUnlock()

	for i, h := range handlers {
		p.add(types[i], h)
	}
	return p
}

func (p *Pipeline) add(types []action.Type, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handlers = append(p.handlers, h)
	i := len(p.handlers) - 1
	for _, t := range types {
		p.index[t] = append(p.index[t], i)
	}
}

// Handlers returns the handlers accepting t, in registration order.
func (p *Pipeline) Handlers(t action.Type) []Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()

	idx := p.index[t]
	if len(idx) == 0 {
		return nil
	}
	out := make([]Handler, len(idx))
	for j, i := range idx {
		out[j] = p.handlers[i]
	}
	return out
}

// Handles reports whether any handler accepts t.
func (p *Pipeline) Handles(t action.Type) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.index[t]) > 0
}

// Len returns the number of registered handlers.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handlers)
}
