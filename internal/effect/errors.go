package effect

import "errors"

// ErrInvalidResult is matched by InvalidResultError.
var ErrInvalidResult = errors.New("invalid effect result")
