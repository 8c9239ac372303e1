package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/draft"
	"github.com/dshills/flowstate/internal/effect"
	"github.com/dshills/flowstate/internal/store"
)

const counterScript = `
module("counter")
initial({count = 0, label = {text = "c"}})

on("increment", function(state, payload)
	state.count = state.count + (payload or 1)
end)

on("noop", function(state) end)

on("reset", function()
	return {count = 0, label = {text = "reset"}}
end)

on("$init", function(state)
	state.ready = true
end)

on("fail", function()
	error("boom")
end)
`

func newRegistry(t *testing.T) *store.Registry {
	t.Helper()
	r := store.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func flush(t *testing.T, r *store.Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func loadString(t *testing.T, l *Loader, name, src string) *Module {
	t.Helper()
	m, err := l.LoadString(name, src)
	if err != nil {
		t.Fatalf("LoadString(%s): %v", name, err)
	}
	return m
}

func enable(t *testing.T, r *store.Registry, m *Module) *store.Handle {
	t.Helper()
	h, err := m.Register(r)
	if err != nil {
		t.Fatalf("Register(%s): %v", m.Name(), err)
	}
	if err := h.Enable(); err != nil {
		t.Fatalf("Enable(%s): %v", m.Name(), err)
	}
	flush(t, r)
	return h
}

func mustType(t *testing.T, m *Module, name string) action.Type {
	t.Helper()
	typ, err := m.Type(name)
	if err != nil {
		t.Fatalf("Type(%q): %v", name, err)
	}
	return typ
}

func stateOf(t *testing.T, r *store.Registry, m *Module) any {
	t.Helper()
	s, err := r.State(m.ID())
	if err != nil {
		t.Fatalf("State(%s): %v", m.Name(), err)
	}
	return s
}

type observed struct {
	mu    sync.Mutex
	types []string
}

func observe(r *store.Registry) *observed {
	o := &observed{}
	r.Observe(func(a action.Action) {
		o.mu.Lock()
		o.types = append(o.types, a.Type.String())
		o.mu.Unlock()
	})
	return o
}

func (o *observed) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.types...)
}

func (o *observed) has(name string) bool {
	for _, s := range o.list() {
		if s == name {
			return true
		}
	}
	return false
}

func TestScriptReducer(t *testing.T) {
	r := newRegistry(t)
	l := NewLoader()
	defer l.Close()
	m := loadString(t, l, "counter", counterScript)
	enable(t, r, m)

	if ready, _ := draft.Get[bool](stateOf(t, r, m), "ready"); !ready {
		t.Errorf("$init handler did not run: %v", stateOf(t, r, m))
	}

	before := stateOf(t, r, m)
	if err := r.Dispatch(mustType(t, m, "increment").New(2)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	after := stateOf(t, r, m)

	if n, _ := draft.Get[int](after, "count"); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	if draft.Same(before, after) {
		t.Error("increment returned the previous state object")
	}
	if !draft.Same(before.(map[string]any)["label"], after.(map[string]any)["label"]) {
		t.Error("untouched subtree was not shared")
	}

	if err := r.Dispatch(mustType(t, m, "noop").Empty()); err != nil {
		t.Fatalf("Dispatch(noop): %v", err)
	}
	if !draft.Same(after, stateOf(t, r, m)) {
		t.Error("a handler that changes nothing must keep the state reference")
	}

	if err := r.Dispatch(mustType(t, m, "reset").Empty()); err != nil {
		t.Fatalf("Dispatch(reset): %v", err)
	}
	if text, _ := draft.Get[string](stateOf(t, r, m), "label.text"); text != "reset" {
		t.Errorf("label.text = %q, want reset", text)
	}
}

func TestScriptReducerError(t *testing.T) {
	r := newRegistry(t)
	l := NewLoader()
	defer l.Close()
	m := loadString(t, l, "counter", counterScript)
	enable(t, r, m)

	before := stateOf(t, r, m)
	err := r.Dispatch(mustType(t, m, "fail").Empty())
	if err == nil {
		t.Fatal("Dispatch(fail) returned nil error")
	}
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("error %v is not a *CallError", err)
	}
	if ce.Handler != "on" || ce.Module != "counter" {
		t.Errorf("CallError = %+v", ce)
	}
	if !draft.Same(before, stateOf(t, r, m)) {
		t.Error("failed handler changed state")
	}
}

func TestScriptEffectChain(t *testing.T) {
	r := newRegistry(t)
	l := NewLoader()
	defer l.Close()
	m := loadString(t, l, "chain", `
effect("start", function(payload) return {type = "step1", payload = payload} end)
effect("step1", function(payload, action)
	assert(action.type == "step1")
	return "step2"
end)
`)
	enable(t, r, m)
	o := observe(r)

	if err := r.Dispatch(mustType(t, m, "start").New("x")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	flush(t, r)

	got := o.list()
	want := []string{"chain/start", "chain/step1", "chain/step2"}
	if len(got) != len(want) {
		t.Fatalf("observed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("observed[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestScriptCrossModule(t *testing.T) {
	r := newRegistry(t)
	l := NewLoader()
	defer l.Close()

	// a refers to b before b is loaded.
	a := loadString(t, l, "a", `
effect("go", function() return {{type = "b/ping", payload = 3}, "done"} end)
`)
	b := loadString(t, l, "b", `
initial({pings = 0})
on("ping", function(state, n) state.pings = state.pings + n end)
on("a/done", function(state) state.seen = true end)
`)
	enable(t, r, a)
	enable(t, r, b)

	if err := r.Dispatch(mustType(t, a, "go").Empty()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	flush(t, r)

	s := stateOf(t, r, b)
	if n, _ := draft.Get[int](s, "pings"); n != 3 {
		t.Errorf("pings = %d, want 3", n)
	}
	if seen, _ := draft.Get[bool](s, "seen"); !seen {
		t.Error("b did not handle a/done")
	}
}

func TestScriptEffectErrors(t *testing.T) {
	tests := []struct {
		name   string
		ret    string
		kind   store.ErrorKind
		target error
	}{
		{name: "number", ret: `return 42`, kind: store.KindInvalidResult, target: effect.ErrInvalidResult},
		{name: "table without type", ret: `return {payload = 1}`, kind: store.KindInvalidResult, target: effect.ErrInvalidResult},
		{name: "lifecycle emission", ret: `return "$mounted"`, kind: store.KindEffect, target: ErrUnknownType},
		{name: "lua error", ret: `error("nope")`, kind: store.KindEffect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(t)
			l := NewLoader()
			defer l.Close()
			m := loadString(t, l, "fx", `effect("go", function() `+tt.ret+` end)`)

			var mu sync.Mutex
			var events []store.ErrorEvent
			r.OnError(func(ev store.ErrorEvent) {
				mu.Lock()
				events = append(events, ev)
				mu.Unlock()
			})
			enable(t, r, m)

			if err := r.Dispatch(mustType(t, m, "go").Empty()); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			flush(t, r)

			mu.Lock()
			defer mu.Unlock()
			if len(events) != 1 {
				t.Fatalf("got %d error events, want 1: %v", len(events), events)
			}
			if events[0].Kind != tt.kind {
				t.Errorf("kind = %s, want %s", events[0].Kind, tt.kind)
			}
			if tt.target != nil && !errors.Is(events[0].Err, tt.target) {
				t.Errorf("error %v does not match %v", events[0].Err, tt.target)
			}
		})
	}
}

func TestScriptAfter(t *testing.T) {
	r := newRegistry(t)
	l := NewLoader()
	defer l.Close()
	m := loadString(t, l, "timer", `
effect("arm", function() return after(10, {type = "fired", payload = "ok"}) end)
`)
	enable(t, r, m)
	o := observe(r)

	if err := r.Dispatch(mustType(t, m, "arm").Empty()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	flush(t, r)

	if !o.has("timer/fired") {
		t.Errorf("observed %v, want timer/fired", o.list())
	}
}

func TestScriptAfterCancelledOnDisable(t *testing.T) {
	r := newRegistry(t)
	l := NewLoader()
	defer l.Close()
	m := loadString(t, l, "timer", `
effect("arm", function() return after(60000, "fired") end)
`)
	h := enable(t, r, m)
	o := observe(r)

	if err := r.Dispatch(mustType(t, m, "arm").Empty()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := h.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	flush(t, r)

	if o.has("timer/fired") {
		t.Error("delayed emission survived disable")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		target error
	}{
		{name: "syntax", src: `this is not lua`},
		{name: "runtime", src: `error("at load")`},
		{name: "unknown lifecycle", src: `on("$bogus", function() end)`, target: ErrUnknownType},
		{name: "empty module prefix", src: `on("/x", function() end)`, target: ErrUnknownType},
		{name: "bad type list", src: `on({1, 2}, function() end)`},
		{name: "missing function", src: `on("x")`},
		{name: "module redeclared", src: `module("a") module("b")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader()
			defer l.Close()

			_, err := l.LoadString("bad", tt.src)
			if err == nil {
				t.Fatal("LoadString returned nil error")
			}
			var le *LoadError
			if !errors.As(err, &le) {
				t.Fatalf("error %v is not a *LoadError", err)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("error %v does not match %v", err, tt.target)
			}
			if _, ok := l.Module("bad"); ok {
				t.Error("failed load recorded a module")
			}
		})
	}
}

func TestSandbox(t *testing.T) {
	l := NewLoader()
	defer l.Close()

	_, err := l.LoadString("sandbox", `
for _, name in ipairs({"os", "io", "debug", "package", "require", "dofile", "loadfile", "load", "loadstring"}) do
	if _G[name] ~= nil then error(name .. " is available") end
end
assert(string.upper("x") == "X")
assert(math.max(1, 2) == 2)
assert(table.concat({"a", "b"}) == "ab")
`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
}

func TestCallTimeout(t *testing.T) {
	l := NewLoader(WithCallTimeout(50 * time.Millisecond))
	defer l.Close()

	_, err := l.LoadString("spin", `while true do end`)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("LoadString error = %v, want ErrTimeout", err)
	}
}

func TestLoaderIdentity(t *testing.T) {
	l := NewLoader()
	defer l.Close()

	first := loadString(t, l, "counter", counterScript)
	second := loadString(t, l, "counter", counterScript)
	if first.ID() != second.ID() {
		t.Error("reloading a module changed its ID")
	}
	if first.Reducer() == second.Reducer() {
		t.Error("reload reused the previous reducer")
	}
	if got, _ := l.Module("counter"); got != second {
		t.Error("Module did not return the latest load")
	}
	if l.ID("other") != l.ID("other") {
		t.Error("ID is not stable")
	}

	named := loadString(t, l, "file_name", `module("declared")`)
	if named.Name() != "declared" {
		t.Errorf("Name = %q, want declared", named.Name())
	}
	implicit := loadString(t, l, "implicit", ``)
	if implicit.Name() != "implicit" {
		t.Errorf("Name = %q, want implicit", implicit.Name())
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.lua":      `initial({n = 2})`,
		"a.lua":      `initial({n = 1})`,
		"notes.txt":  `not a script`,
		"dup.lua":    ``,
		"second.lua": `module("dup")`,
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	l := NewLoader()
	defer l.Close()

	mods, err := l.LoadDir(dir)
	if !errors.Is(err, ErrDuplicateModule) {
		t.Fatalf("LoadDir error = %v, want ErrDuplicateModule", err)
	}
	var names []string
	for _, m := range mods {
		names = append(names, m.Name())
	}
	want := []string{"a", "b", "dup"}
	if len(names) != len(want) {
		t.Fatalf("loaded %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("loaded[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	if m, ok := l.ModuleAt(filepath.Join(dir, "a.lua")); !ok || m.Name() != "a" {
		t.Errorf("ModuleAt(a.lua) = %v, %v", m, ok)
	}
	if m, ok := l.Forget(filepath.Join(dir, "a.lua")); !ok || m.Name() != "a" {
		t.Errorf("Forget(a.lua) = %v, %v", m, ok)
	}
	if _, ok := l.Module("a"); ok {
		t.Error("forgotten module still listed")
	}
	if got := len(l.Modules()); got != 2 {
		t.Errorf("Modules() has %d entries, want 2", got)
	}
}

func TestClosedModule(t *testing.T) {
	r := newRegistry(t)
	l := NewLoader()
	m := loadString(t, l, "counter", counterScript)
	enable(t, r, m)

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !m.state.IsClosed() {
		t.Fatal("loader Close left the module state open")
	}
	err := r.Dispatch(mustType(t, m, "increment").Empty())
	if !errors.Is(err, ErrStateClosed) {
		t.Errorf("Dispatch after Close = %v, want ErrStateClosed", err)
	}
}
