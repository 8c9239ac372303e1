package script

import (
	"errors"
	"fmt"
)

var (
	// ErrStateClosed is returned when calling into a closed script state.
	ErrStateClosed = errors.New("script state is closed")

	// ErrTimeout is returned when a script call exceeds its time limit.
	ErrTimeout = errors.New("script call timed out")

	// ErrDuplicateModule is returned when two files declare the same module.
	ErrDuplicateModule = errors.New("module declared by another script")

	// ErrUnknownType is returned for type names that cannot be resolved.
	ErrUnknownType = errors.New("unknown action type")
)

// LoadError reports a script that failed to load.
type LoadError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("load script %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// CallError reports a failing Lua handler.
type CallError struct {
	Module  string
	Type    string
	Handler string // "on" or "effect"
	Err     error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	return fmt.Sprintf("%s %s handler for %s: %v", e.Module, e.Handler, e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}
