package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/draft"
	"github.com/dshills/flowstate/internal/effect"
	"github.com/dshills/flowstate/internal/reducer"
)

func lifecycles(m action.ModuleID, ls ...action.Lifecycle) []action.Type {
	out := make([]action.Type, len(ls))
	for i, l := range ls {
		out[i] = m.Lifecycle(l)
	}
	return out
}

func TestEnable_FirstEnableInitializes(t *testing.T) {
	r := newTestRegistry(t)
	rec := record(r)
	m := action.DefineModule("boot")
	initType := m.Lifecycle(action.LifecycleInit)

	red := reducer.New(map[string]any{"ready": false}).On(initType, func(d *draft.Draft, _ action.Action) error {
		return d.Set("ready", true)
	})
	h, err := r.Register(m, red, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	// $init is applied before Enable returns.
	state, err := h.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if ready, _ := draft.Get[bool](state, "ready"); !ready {
		t.Error("$init was not applied synchronously")
	}
	if !h.IsEnabled() || !h.IsInitialized() || h.UsageCount() != 1 {
		t.Errorf("enabled=%v initialized=%v usage=%d", h.IsEnabled(), h.IsInitialized(), h.UsageCount())
	}

	flush(t, r)
	want := lifecycles(m, action.LifecycleInit, action.LifecycleMounted)
	if got := rec.types(ofModule(m)); !equalTypes(got, want) {
		t.Errorf("actions = %v, want %v", got, want)
	}
}

func TestEnable_ReferenceCounting(t *testing.T) {
	r := newTestRegistry(t)
	rec := record(r)
	m := newCounter("counter")
	h := m.enable(t, r)

	if err := h.Enable(); err != nil {
		t.Fatalf("second Enable: %v", err)
	}
	if err := r.Dispatch(m.increment.Empty()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	before, _ := r.State(m.id)

	if err := h.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if !h.IsEnabled() {
		t.Fatal("IsEnabled = false after one of two disables")
	}
	if got := h.UsageCount(); got != 1 {
		t.Errorf("UsageCount = %d, want 1", got)
	}
	if after, _ := r.State(m.id); !draft.Same(before, after) {
		t.Error("state changed by a partial disable")
	}

	if err := h.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if h.IsEnabled() {
		t.Fatal("IsEnabled = true after the last disable")
	}
	if got := count(t, r, m.id); got != 1 {
		t.Errorf("count = %d after disable, want 1", got)
	}
	if err := h.Disable(); !errors.Is(err, ErrNotEnabled) {
		t.Errorf("extra Disable: err = %v, want ErrNotEnabled", err)
	}

	flush(t, r)
	want := lifecycles(m.id,
		action.LifecycleInit,
		action.LifecycleMounted,
		action.LifecycleMounted,
	)
	want = append(want, m.increment)
	want = append(want, lifecycles(m.id,
		action.LifecycleUnmounting,
		action.LifecycleUnmounting,
		action.LifecycleUnmounted,
	)...)
	if got := rec.types(ofModule(m.id)); !equalTypes(got, want) {
		t.Errorf("actions = %v, want %v", got, want)
	}
}

func TestDisable_LifecycleReachesOwner(t *testing.T) {
	r := newTestRegistry(t)
	m := action.DefineModule("owner")
	unmounting := m.Lifecycle(action.LifecycleUnmounting)
	unmounted := m.Lifecycle(action.LifecycleUnmounted)

	red := reducer.New(map[string]any{}).
		On(unmounting, func(d *draft.Draft, _ action.Action) error { return d.Set("unmounting", true) }).
		On(unmounted, func(d *draft.Draft, _ action.Action) error { return d.Set("unmounted", true) })
	h, _ := r.Register(m, red, nil)
	if err := h.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := h.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	state, _ := h.State()
	for _, key := range []string{"unmounting", "unmounted"} {
		if v, _ := draft.Get[bool](state, key); !v {
			t.Errorf("%s not applied to the disabled module", key)
		}
	}
}

func TestEnable_HotRemount(t *testing.T) {
	r := newTestRegistry(t)
	rec := record(r)
	m := newCounter("counter")
	h := m.enable(t, r)

	if err := r.Dispatch(m.increment.Empty()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := h.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	before, _ := r.State(m.id)
	flush(t, r)
	rec.reset()

	if err := h.Enable(WithHotRemount()); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	flush(t, r)

	want := lifecycles(m.id, action.LifecycleRemounted)
	if got := rec.types(ofModule(m.id)); !equalTypes(got, want) {
		t.Errorf("actions = %v, want %v", got, want)
	}
	if after, _ := r.State(m.id); !draft.Same(before, after) {
		t.Error("hot remount replaced the state")
	}
}

func TestEnable_HotRemountOfFreshModuleInitializes(t *testing.T) {
	r := newTestRegistry(t)
	rec := record(r)
	m := newCounter("counter")

	h, err := r.Register(m.id, m.reducer, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Enable(WithHotRemount()); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	flush(t, r)

	want := lifecycles(m.id, action.LifecycleInit, action.LifecycleMounted)
	if got := rec.types(ofModule(m.id)); !equalTypes(got, want) {
		t.Errorf("actions = %v, want %v", got, want)
	}
}

func TestEnable_InitialStatePanics(t *testing.T) {
	r := newTestRegistry(t)
	m := action.DefineModule("broken")

	h, err := r.Register(m, ReducerFunc(func(s any, _ action.Action) (any, error) { return s, nil }), nil,
		WithInitialState(func() any { panic("no state") }))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := h.Enable(); !errors.Is(err, ErrPanic) {
		t.Fatalf("Enable: err = %v, want ErrPanic", err)
	}
	if h.IsEnabled() || h.UsageCount() != 0 || h.IsInitialized() {
		t.Errorf("enabled=%v usage=%d initialized=%v after failed init", h.IsEnabled(), h.UsageCount(), h.IsInitialized())
	}
}

func TestEnable_WithInitialStateOverridesReducer(t *testing.T) {
	r := newTestRegistry(t)
	m := newCounter("counter")

	h, err := r.Register(m.id, m.reducer, nil, WithInitialState(func() any {
		return map[string]any{"count": 41}
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := r.Dispatch(m.increment.Empty()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := count(t, r, m.id); got != 42 {
		t.Errorf("count = %d, want 42", got)
	}
}

func TestDisable_OwnerEffectsSeeUnmount(t *testing.T) {
	tests := []struct {
		name  string
		users int
	}{
		{name: "single user", users: 1},
		{name: "shared", users: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			rec := record(r)
			m := action.DefineModule("owner")
			unmounting := m.Lifecycle(action.LifecycleUnmounting)
			unmounted := m.Lifecycle(action.LifecycleUnmounted)
			farewell := m.MustType("farewell")

			var (
				mu   sync.Mutex
				seen []action.Type
				live []bool
			)
			note := func(_ any, ec *effect.Context, a action.Action) (any, error) {
				mu.Lock()
				seen = append(seen, a.Type)
				live = append(live, ec.Err() == nil)
				mu.Unlock()
				return farewell.Empty(), nil
			}
			h := registerEffects(t, r, m, nil, effect.New().On(unmounting, note).On(unmounted, note))
			for i := 1; i < tt.users; i++ {
				if err := h.Enable(); err != nil {
					t.Fatalf("Enable: %v", err)
				}
			}
			for i := 0; i < tt.users; i++ {
				if err := h.Disable(); err != nil {
					t.Fatalf("Disable: %v", err)
				}
				flush(t, r)
			}

			want := make([]action.Type, 0, tt.users+1)
			for i := 0; i < tt.users; i++ {
				want = append(want, unmounting)
			}
			want = append(want, unmounted)

			mu.Lock()
			defer mu.Unlock()
			if !equalTypes(seen, want) {
				t.Fatalf("effects saw %v, want %v", seen, want)
			}
			for i := 0; i < tt.users; i++ {
				if !live[i] {
					t.Errorf("$unmounting #%d ran with a cancelled context", i+1)
				}
			}
			if live[tt.users] {
				t.Error("$unmounted ran before in-flight effects were cancelled")
			}
			// Emissions of the final unmount are dropped; an earlier
			// $unmounting runs while the module is still enabled.
			if got := rec.types(func(tp action.Type) bool { return tp == farewell }); len(got) != tt.users-1 {
				t.Errorf("farewell emitted %d times, want %d", len(got), tt.users-1)
			}
		})
	}
}
