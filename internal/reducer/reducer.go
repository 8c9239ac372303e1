// Package reducer builds update functions from handler sets.
//
// A Builder maps action types to handlers. Mutators edit a draft of the
// current state in place and the builder turns those edits into a new
// tree that shares untouched subtrees with the old one. Replace handlers
// return a whole new state instead. Actions matched by no handler leave
// the state reference unchanged, which lets subscribers detect "nothing
// changed" with a reference comparison.
//
//	counter := reducer.New(map[string]any{"count": 0}).
//	    On(Increment, func(d *draft.Draft, a action.Action) error {
//	        return d.Set("count", draft.Int(d, "count")+1)
//	    }).
//	    Replace(Reset, func(any, action.Action) (any, error) {
//	        return map[string]any{"count": 0}, nil
//	    })
package reducer

import (
	"sort"
	"sync"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/draft"
)

// Mutator edits a draft of the current state.
type Mutator func(d *draft.Draft, a action.Action) error

// ReplaceFunc returns a wholly new state.
type ReplaceFunc func(state any, a action.Action) (any, error)

type entryKind int

const (
	kindMutate entryKind = iota
	kindReplace
	kindNest
)

type entry struct {
	kind    entryKind
	mutate  Mutator
	replace ReplaceFunc
	path    string
	child   *Builder
}

// Builder is an update function assembled from handlers.
// It is safe for concurrent use; handlers added after registration take
// effect for the next Reduce call.
type Builder struct {
	mu      sync.RWMutex
	initial any
	entries []*entry
	index   map[action.Type][]int
	nests   []int
}

// New creates a builder whose initial state is initial.
func New(initial any) *Builder {
	return &Builder{
		initial: initial,
		index:   make(map[action.Type][]int),
	}
}

// On registers a mutator for every type accepted by m.
func (b *Builder) On(m action.Matcher, fn Mutator) *Builder {
	if fn == nil {
		panic("reducer: nil mutator")
	}
	b.add(m.Types(), &entry{kind: kindMutate, mutate: fn})
	return b
}

// Replace registers a handler returning a new state for every type accepted by m.
func (b *Builder) Replace(m action.Matcher, fn ReplaceFunc) *Builder {
	if fn == nil {
		panic("reducer: nil replace func")
	}
	b.add(m.Types(), &entry{kind: kindReplace, replace: fn})
	return b
}

// Nest delegates the subtree at path to child.
// The child's initial state seeds path in this builder's initial state.
func (b *Builder) Nest(path string, child *Builder) *Builder {
	if child == nil || child == b {
		panic("reducer: invalid nested builder")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, &entry{kind: kindNest, path: path, child: child})
	b.nests = append(b.nests, len(b.entries)-1)
	return b
}

// Merge appends every handler of other, in other's order.
// The initial state of b is kept.
func (b *Builder) Merge(other *Builder) *Builder {
	if other == nil || other == b {
		return b
	}

	other.mu.RLock()
	types := make(map[int][]action.Type, len(other.entries))
	for t, idx := range other.index {
		for _, i := range idx {
			types[i] = append(types[i], t)
		}
	}
	entries := make([]*entry, len(other.entries))
	copy(entries, other.entries)
	other.mu.RUnlock()

	for i, e := range entries {
		if e.kind == kindNest {
			b.Nest(e.path, e.child)
			continue
		}
		b.add(types[i], e)
	}
	return b
}

func (b *Builder) add(types []action.Type, e *entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, e)
	i := len(b.entries) - 1
	for _, t := range types {
		b.index[t] = append(b.index[t], i)
	}
}

// InitialState returns the initial state with nested initial states seeded.
func (b *Builder) InitialState() any {
	b.mu.RLock()
	initial := b.initial
	var nests []*entry
	for _, i := range b.nests {
		nests = append(nests, b.entries[i])
	}
	b.mu.RUnlock()

	if len(nests) == 0 {
		return initial
	}

	d := draft.New(initial)
	for _, e := range nests {
		if d.Has(e.path) {
			continue
		}
		// Seeding only fails when the path walks through a scalar; the
		// parent's value wins in that case.
		_ = d.Set(e.path, e.child.InitialState())
	}
	return d.Finish()
}

// Handles reports whether any handler, including nested ones, accepts t.
func (b *Builder) Handles(t action.Type) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.index[t]) > 0 {
		return true
	}
	for _, i := range b.nests {
		if b.entries[i].child.Handles(t) {
			return true
		}
	}
	return false
}

// Types returns every type with a direct handler.
func (b *Builder) Types() []action.Type {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]action.Type, 0, len(b.index))
	for t := range b.index {
		out = append(out, t)
	}
	return out
}

// matching returns the entries that apply to t, in registration order.
func (b *Builder) matching(t action.Type) []*entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	direct := b.index[t]
	var idx []int
	if len(b.nests) == 0 {
		idx = direct
	} else {
		idx = make([]int, len(direct), len(direct)+len(b.nests))
		copy(idx, direct)
		for _, i := range b.nests {
			if b.entries[i].child.Handles(t) {
				idx = append(idx, i)
			}
		}
		sort.Ints(idx)
	}

	out := make([]*entry, len(idx))
	for j, i := range idx {
		out[j] = b.entries[i]
	}
	return out
}

// Reduce applies every handler matching a.Type, in registration order.
// On error the input state is returned unchanged with the error.
func (b *Builder) Reduce(state any, a action.Action) (any, error) {
	entries := b.matching(a.Type)
	if len(entries) == 0 {
		return state, nil
	}

	cur := state
	var d *draft.Draft
	flush := func() {
		if d != nil {
			cur = d.Finish()
			d = nil
		}
	}

	for _, e := range entries {
		switch e.kind {
		case kindMutate:
			if d == nil {
				d = draft.New(cur)
			}
			if err := e.mutate(d, a); err != nil {
				return state, err
			}
		case kindReplace:
			flush()
			next, err := e.replace(cur, a)
			if err != nil {
				return state, err
			}
			cur = next
		case kindNest:
			flush()
			sub, _ := draft.Lookup(cur, e.path)
			next, err := e.child.Reduce(sub, a)
			if err != nil {
				return state, err
			}
			if draft.Same(sub, next) {
				continue
			}
			cur, err = draft.Produce(cur, func(nd *draft.Draft) error {
				return nd.Set(e.path, next)
			})
			if err != nil {
				return state, err
			}
		}
	}

	flush()
	return cur, nil
}
