package metrics_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/draft"
	"github.com/dshills/flowstate/internal/effect"
	"github.com/dshills/flowstate/internal/metrics"
	"github.com/dshills/flowstate/internal/reducer"
	"github.com/dshills/flowstate/internal/store"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "")

	if m.ActionsDispatched == nil || m.EffectsStarted == nil || m.Errors == nil {
		t.Fatal("vector metrics not initialized")
	}

	m.ListenerNotified()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "flowstate_listener_notifications_total" {
			found = true
		}
	}
	if !found {
		t.Error("flowstate_listener_notifications_total not registered under the default namespace")
	}
}

func TestCollector_Recorders(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry(), "test")
	mod := action.DefineModule("cart")
	add := mod.MustType("add")

	m.ActionDispatched(add)
	m.ActionDispatched(add)
	m.EffectStarted(mod, add)
	m.ErrorReported(store.KindEffect)
	m.QueueDepth(3)
	m.ContainersEnabled(2)
	m.ReloadSucceeded()
	m.ReloadFailed()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"actions", testutil.ToFloat64(m.ActionsDispatched.WithLabelValues("cart", "add")), 2},
		{"effects", testutil.ToFloat64(m.EffectsStarted.WithLabelValues("cart", "add")), 1},
		{"errors", testutil.ToFloat64(m.Errors.WithLabelValues("effect")), 1},
		{"queue", testutil.ToFloat64(m.DeferredQueue), 3},
		{"enabled", testutil.ToFloat64(m.EnabledContainers), 2},
		{"reloads", testutil.ToFloat64(m.ScriptReloads), 1},
		{"reload errors", testutil.ToFloat64(m.ScriptReloadErrors), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollector_WiredIntoRegistry(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry(), "test")
	r := store.New(store.WithMetrics(m))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	}()

	mod := action.DefineModule("counter")
	inc := mod.MustType("increment")
	red := reducer.New(map[string]any{"count": 0}).On(inc, func(d *draft.Draft, _ action.Action) error {
		return d.Set("count", draft.Int(d, "count")+1)
	})
	pipe := effect.New().On(inc, func(any, *effect.Context, action.Action) (any, error) {
		return nil, errors.New("effect failed")
	})

	h, err := r.Register(mod, red, pipe)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := r.Dispatch(inc.Empty()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := testutil.ToFloat64(m.ActionsDispatched.WithLabelValues("counter", "increment")); got != 1 {
		t.Errorf("actions dispatched = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EffectsStarted.WithLabelValues("counter", "increment")); got != 1 {
		t.Errorf("effects started = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("effect")); got != 1 {
		t.Errorf("effect errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EnabledContainers); got != 1 {
		t.Errorf("enabled containers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActionsDispatched.WithLabelValues("counter", "$mounted")); got != 1 {
		t.Errorf("$mounted dispatched = %v, want 1", got)
	}
}

func TestCollector_QueueDepthSettlesAtZero(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry(), "test")
	r := store.New(store.WithMetrics(m))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	}()

	mod := action.DefineModule("busy")
	ping := mod.MustType("ping")
	pong := mod.MustType("pong")
	pipe := effect.New().On(ping, func(any, *effect.Context, action.Action) (any, error) {
		return pong.Empty(), nil
	})
	h, err := r.Register(mod, nil, pipe)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Dispatch(ping.Empty())
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := testutil.ToFloat64(m.DeferredQueue); got != 0 {
		t.Errorf("deferred queue depth = %v after flush, want 0", got)
	}
}
