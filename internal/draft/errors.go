package draft

import "errors"

// Sentinel errors for draft operations.
var (
	// ErrNotFound is returned when a path does not exist.
	ErrNotFound = errors.New("path not found")

	// ErrNotContainer is returned when a path walks through a scalar value.
	ErrNotContainer = errors.New("value is not a map or slice")

	// ErrNotSlice is returned by Append when the target is not a slice.
	ErrNotSlice = errors.New("value is not a slice")

	// ErrBadIndex is returned when a slice segment is not a decimal index.
	ErrBadIndex = errors.New("invalid slice index")

	// ErrIndexRange is returned when a slice index is out of range.
	ErrIndexRange = errors.New("slice index out of range")

	// ErrRootPath is returned when an operation cannot target the root.
	ErrRootPath = errors.New("operation not allowed on root path")

	// ErrFinished is returned when writing to a finished draft.
	ErrFinished = errors.New("draft already finished")
)

// PathError records the failing operation and path.
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return "draft " + e.Op + " " + quote(e.Path) + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *PathError) Unwrap() error {
	return e.Err
}

func quote(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
