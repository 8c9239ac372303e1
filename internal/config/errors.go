package config

import (
	"errors"
	"fmt"
)

// Errors returned by configuration operations.
var (
	// ErrValidationFailed is matched by every ValidationError.
	ErrValidationFailed = errors.New("validation failed")

	// ErrUnknownSetting indicates an environment override for a setting
	// that does not exist.
	ErrUnknownSetting = errors.New("unknown setting")
)

// ValidationError reports an invalid setting value.
type ValidationError struct {
	// Path is the setting path (e.g., "logging.level").
	Path string
	// Value is the rejected value.
	Value any
	// Message describes the validation failure.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Path, e.Message, e.Value)
}

// Is allows errors.Is to match ValidationError with ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// SettingError reports an override that could not be applied.
type SettingError struct {
	Path  string
	Value string
	Err   error
}

// Error implements the error interface.
func (e *SettingError) Error() string {
	return fmt.Sprintf("setting %s=%q: %v", e.Path, e.Value, e.Err)
}

// Unwrap returns the underlying error.
func (e *SettingError) Unwrap() error {
	return e.Err
}
