package action

import "errors"

// Sentinel errors for the action package.
var (
	// ErrReservedName is matched by ReservedNameError.
	ErrReservedName = errors.New("reserved action type name")

	// ErrEmptyName is returned when a type name is empty.
	ErrEmptyName = errors.New("action type name cannot be empty")

	// ErrZeroModule is returned when a type is requested from a zero ModuleID.
	ErrZeroModule = errors.New("module id was not created by DefineModule")
)

// ReservedNameError reports an attempt to define a lifecycle type name.
type ReservedNameError struct {
	Module ModuleID
	Name   string
}

// Error implements the error interface.
func (e *ReservedNameError) Error() string {
	return "action type " + e.Name + " in module " + e.Module.String() + " is reserved"
}

// Is allows errors.Is to match ReservedNameError with ErrReservedName.
func (e *ReservedNameError) Is(target error) bool {
	return target == ErrReservedName
}
