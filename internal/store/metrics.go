package store

import "github.com/dshills/flowstate/internal/action"

// Metrics receives store instrumentation.
// Implementations must be safe for concurrent use and must not block.
type Metrics interface {
	// ActionDispatched is called once per action entering the synchronous domain.
	ActionDispatched(t action.Type)

	// EffectStarted is called once per effect handler invocation.
	EffectStarted(module action.ModuleID, t action.Type)

	// ErrorReported is called for every event on the error channel.
	ErrorReported(kind ErrorKind)

	// ListenerNotified is called for every listener callback.
	ListenerNotified()

	// QueueDepth reports the deferred queue length.
	QueueDepth(n int)

	// ContainersEnabled reports the number of enabled containers.
	ContainersEnabled(n int)
}

type nopMetrics struct{}

func (nopMetrics) ActionDispatched(action.Type) {}
func (nopMetrics) EffectStarted(action.ModuleID, action.Type) {}
func (nopMetrics) ErrorReported(ErrorKind) {}
func (nopMetrics) ListenerNotified() {}
func (nopMetrics) QueueDepth(int) {}
func (nopMetrics) ContainersEnabled(int) {}
