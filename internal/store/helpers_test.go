package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/draft"
	"github.com/dshills/flowstate/internal/reducer"
)

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := New(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func flush(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

type counterModule struct {
	id        action.ModuleID
	increment action.Type
	rename    action.Type
	unrelated action.Type
	reducer   *reducer.Builder
}

func newCounter(name string) *counterModule {
	m := &counterModule{id: action.DefineModule(name)}
	m.increment = m.id.MustType("increment")
	m.rename = m.id.MustType("rename")
	m.unrelated = m.id.MustType("unrelated")
	m.reducer = reducer.New(map[string]any{"count": 0, "name": ""}).
		On(m.increment, func(d *draft.Draft, _ action.Action) error {
			return d.Set("count", draft.Int(d, "count")+1)
		}).
		On(m.rename, func(d *draft.Draft, a action.Action) error {
			return d.Set("name", a.Payload)
		})
	return m
}

func (m *counterModule) enable(t *testing.T, r *Registry) *Handle {
	t.Helper()
	h, err := r.Register(m.id, m.reducer, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	return h
}

func count(t *testing.T, r *Registry, id action.ModuleID) int {
	t.Helper()
	state, err := r.State(id)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	n, ok := draft.Get[int](state, "count")
	if !ok {
		t.Fatalf("state %v has no count", state)
	}
	return n
}

// recorder collects actions seen on the shared stream.
type recorder struct {
	mu      sync.Mutex
	actions []action.Action
}

func record(r *Registry) *recorder {
	rec := &recorder{}
	r.Observe(func(a action.Action) {
		rec.mu.Lock()
		rec.actions = append(rec.actions, a)
		rec.mu.Unlock()
	})
	return rec
}

func (rec *recorder) types(filter func(action.Type) bool) []action.Type {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	var out []action.Type
	for _, a := range rec.actions {
		if filter == nil || filter(a.Type) {
			out = append(out, a.Type)
		}
	}
	return out
}

func (rec *recorder) reset() {
	rec.mu.Lock()
	rec.actions = nil
	rec.mu.Unlock()
}

func ofModule(id action.ModuleID) func(action.Type) bool {
	return func(t action.Type) bool { return t.Module == id }
}

// errorSink collects error channel events.
type errorSink struct {
	mu     sync.Mutex
	events []ErrorEvent
}

func collectErrors(r *Registry) *errorSink {
	s := &errorSink{}
	r.OnError(func(ev ErrorEvent) {
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.mu.Unlock()
	})
	return s
}

func (s *errorSink) all() []ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorEvent(nil), s.events...)
}

func equalTypes(a, b []action.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
