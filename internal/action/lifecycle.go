package action

// Lifecycle is one of the reserved lifecycle type names.
type Lifecycle string

const (
	// LifecycleInit is dispatched once, when a container is enabled for the
	// first time and its state has been initialized.
	LifecycleInit Lifecycle = "$init"

	// LifecycleMounted is dispatched whenever a container becomes enabled.
	LifecycleMounted Lifecycle = "$mounted"

	// LifecycleRemounted replaces $init and $mounted on a hot remount.
	LifecycleRemounted Lifecycle = "$remounted"

	// LifecycleUnmounting is dispatched at the start of every disable.
	LifecycleUnmounting Lifecycle = "$unmounting"

	// LifecycleUnmounted is dispatched when the last user disables a container.
	LifecycleUnmounted Lifecycle = "$unmounted"
)

// Lifecycles lists every lifecycle name in emission order.
var Lifecycles = []Lifecycle{
	LifecycleInit,
	LifecycleMounted,
	LifecycleRemounted,
	LifecycleUnmounting,
	LifecycleUnmounted,
}

// IsValid reports whether l is part of the lifecycle vocabulary.
func (l Lifecycle) IsValid() bool {
	switch l {
	case LifecycleInit, LifecycleMounted, LifecycleRemounted, LifecycleUnmounting, LifecycleUnmounted:
		return true
	default:
		return false
	}
}

// String returns the reserved type name.
func (l Lifecycle) String() string {
	return string(l)
}

// Lifecycle returns the lifecycle type l of module m.
// It panics if l is not part of the lifecycle vocabulary.
func (m ModuleID) Lifecycle(l Lifecycle) Type {
	if !l.IsValid() {
		panic("action: unknown lifecycle " + string(l))
	}
	return Type{Module: m, Name: string(l)}
}

// LifecycleOf returns the lifecycle name of t and whether t is a lifecycle type.
func LifecycleOf(t Type) (Lifecycle, bool) {
	l := Lifecycle(t.Name)
	if !l.IsValid() {
		return "", false
	}
	return l, true
}
