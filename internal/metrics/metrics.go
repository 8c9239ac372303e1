// Package metrics provides Prometheus metrics for the flowstate registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/store"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "flowstate"

// Collector holds all Prometheus metrics and implements store.Metrics.
type Collector struct {
	// Dispatch metrics
	ActionsDispatched     *prometheus.CounterVec
	ListenerNotifications prometheus.Counter

	// Effect metrics
	EffectsStarted *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	DeferredQueue  prometheus.Gauge

	// Container metrics
	EnabledContainers prometheus.Gauge

	// Script metrics
	ScriptReloads      prometheus.Counter
	ScriptReloadErrors prometheus.Counter
}

var _ store.Metrics = (*Collector)(nil)

// New creates a collector registered with reg. An empty namespace uses
// DefaultNamespace.
func New(reg prometheus.Registerer, namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Collector{
		ActionsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_dispatched_total",
				Help:      "Total number of actions applied by the dispatch coordinator",
			},
			[]string{"module", "type"},
		),
		ListenerNotifications: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "listener_notifications_total",
				Help:      "Total number of listener callbacks invoked",
			},
		),
		EffectsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "effects_started_total",
				Help:      "Total number of effect handler invocations",
			},
			[]string{"module", "type"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors delivered on the error channel",
			},
			[]string{"kind"},
		),
		DeferredQueue: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deferred_queue_depth",
				Help:      "Number of actions waiting for effect processing",
			},
		),
		EnabledContainers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "containers_enabled",
				Help:      "Number of containers with at least one user",
			},
		),
		ScriptReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_reloads_total",
				Help:      "Total number of successful script module reloads",
			},
		),
		ScriptReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_reload_errors_total",
				Help:      "Total number of failed script module reloads",
			},
		),
	}
}

// ActionDispatched implements store.Metrics.
func (c *Collector) ActionDispatched(t action.Type) {
	c.ActionsDispatched.WithLabelValues(t.Module.Name(), t.Name).Inc()
}

// EffectStarted implements store.Metrics.
func (c *Collector) EffectStarted(module action.ModuleID, t action.Type) {
	c.EffectsStarted.WithLabelValues(module.Name(), t.Name).Inc()
}

// ErrorReported implements store.Metrics.
func (c *Collector) ErrorReported(kind store.ErrorKind) {
	c.Errors.WithLabelValues(kind.String()).Inc()
}

// ListenerNotified implements store.Metrics.
func (c *Collector) ListenerNotified() {
	c.ListenerNotifications.Inc()
}

// QueueDepth implements store.Metrics.
func (c *Collector) QueueDepth(n int) {
	c.DeferredQueue.Set(float64(n))
}

// ContainersEnabled implements store.Metrics.
func (c *Collector) ContainersEnabled(n int) {
	c.EnabledContainers.Set(float64(n))
}

// ReloadSucceeded records a successful script reload.
func (c *Collector) ReloadSucceeded() {
	c.ScriptReloads.Inc()
}

// ReloadFailed records a failed script reload.
func (c *Collector) ReloadFailed() {
	c.ScriptReloadErrors.Inc()
}
