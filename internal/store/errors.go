package store

import (
	"errors"
	"fmt"

	"github.com/dshills/flowstate/internal/action"
)

// Sentinel errors for the store.
var (
	// ErrNotInitialized is matched by NotInitializedError.
	ErrNotInitialized = errors.New("module state not initialized")

	// ErrDuplicateRegistration is matched by DuplicateRegistrationError.
	ErrDuplicateRegistration = errors.New("module already registered with a different handler set")

	// ErrNotRegistered is returned when a module has no handler set.
	ErrNotRegistered = errors.New("module not registered")

	// ErrNotEnabled is returned by Disable when the usage count is already zero.
	ErrNotEnabled = errors.New("module not enabled")

	// ErrStillEnabled is returned by Unregister while the module is in use.
	ErrStillEnabled = errors.New("module still enabled")

	// ErrClosed is returned when the registry has been closed.
	ErrClosed = errors.New("registry closed")

	// ErrInvalidAction is returned when dispatching an action without a type.
	ErrInvalidAction = errors.New("invalid action")

	// ErrNilCallback is returned when a required callback is nil.
	ErrNilCallback = errors.New("callback cannot be nil")

	// ErrPanic is matched by PanicError.
	ErrPanic = errors.New("handler panicked")
)

// NotInitializedError is returned when reading state that was never initialized.
type NotInitializedError struct {
	Module action.ModuleID
}

// Error implements the error interface.
func (e *NotInitializedError) Error() string {
	return "state of module " + e.Module.String() + " is not initialized"
}

// Is allows errors.Is to match NotInitializedError with ErrNotInitialized.
func (e *NotInitializedError) Is(target error) bool {
	return target == ErrNotInitialized
}

// DuplicateRegistrationError is returned when a second handler set is
// registered for a module without unregistering the first.
type DuplicateRegistrationError struct {
	Module action.ModuleID
}

// Error implements the error interface.
func (e *DuplicateRegistrationError) Error() string {
	return "module " + e.Module.String() + " already registered with a different handler set"
}

// Is allows errors.Is to match DuplicateRegistrationError with ErrDuplicateRegistration.
func (e *DuplicateRegistrationError) Is(target error) bool {
	return target == ErrDuplicateRegistration
}

// UpdateError wraps a failure of a module's update function.
// The module's state is left at its pre-dispatch value.
type UpdateError struct {
	Module action.ModuleID
	Action action.Type
	Err    error
}

// Error implements the error interface.
func (e *UpdateError) Error() string {
	return "update of module " + e.Module.String() + " for " + e.Action.String() + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *UpdateError) Unwrap() error {
	return e.Err
}

// EffectError wraps a failure of one effect handler invocation.
type EffectError struct {
	Module action.ModuleID
	Action action.Type
	Err    error
}

// Error implements the error interface.
func (e *EffectError) Error() string {
	return "effect of module " + e.Module.String() + " for " + e.Action.String() + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *EffectError) Unwrap() error {
	return e.Err
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Is allows errors.Is to match PanicError with ErrPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrPanic
}

// ErrorKind classifies errors delivered on the error channel.
type ErrorKind int

const (
	// KindUpdate is an update function failure.
	KindUpdate ErrorKind = iota

	// KindEffect is an effect handler failure.
	KindEffect

	// KindInvalidResult is an effect handler result outside the return contract.
	KindInvalidResult

	// KindListener is a listener, projector or observer failure.
	KindListener
)

// String returns a human-readable kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindEffect:
		return "effect"
	case KindInvalidResult:
		return "invalid-result"
	case KindListener:
		return "listener"
	default:
		return "unknown"
	}
}

// ErrorEvent is delivered to error listeners.
type ErrorEvent struct {
	Kind ErrorKind

	// Module is the failing module; zero for failures not tied to one.
	Module action.ModuleID

	// Action is the action being processed when the failure happened.
	Action action.Action

	Err error
}
