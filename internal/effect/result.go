package effect

import (
	"context"
	"fmt"

	"github.com/dshills/flowstate/internal/action"
)

// Deferred produces one action asynchronously.
// Returning the zero Action means nothing to emit.
type Deferred func(ctx context.Context) (action.Action, error)

// Emission is a normalized handler result.
type Emission struct {
	// Actions are emitted immediately, in order.
	Actions []action.Action

	// Deferred, when set, is awaited in its own goroutine.
	Deferred Deferred

	// Stream, when set, is drained in its own goroutine until closed.
	Stream <-chan action.Action
}

// IsEmpty reports whether the emission carries nothing.
func (e Emission) IsEmpty() bool {
	return len(e.Actions) == 0 && e.Deferred == nil && e.Stream == nil
}

// IsAsync reports whether the emission produces actions later.
func (e Emission) IsAsync() bool {
	return e.Deferred != nil || e.Stream != nil
}

// Normalize converts a handler result into an Emission.
// Values outside the handler return contract yield an InvalidResultError.
func Normalize(result any) (Emission, error) {
	switch r := result.(type) {
	case nil:
		return Emission{}, nil
	case action.Action:
		if r.Type.IsZero() {
			return Emission{}, nil
		}
		return Emission{Actions: []action.Action{r}}, nil
	case *action.Action:
		if r == nil || r.Type.IsZero() {
			return Emission{}, nil
		}
		return Emission{Actions: []action.Action{*r}}, nil
	case []action.Action:
		out := make([]action.Action, 0, len(r))
		for _, a := range r {
			if !a.Type.IsZero() {
				out = append(out, a)
			}
		}
		return Emission{Actions: out}, nil
	case Deferred:
		if r == nil {
			return Emission{}, nil
		}
		return Emission{Deferred: r}, nil
	case func(context.Context) (action.Action, error):
		if r == nil {
			return Emission{}, nil
		}
		return Emission{Deferred: r}, nil
	case <-chan action.Action:
		if r == nil {
			return Emission{}, nil
		}
		return Emission{Stream: r}, nil
	case chan action.Action:
		if r == nil {
			return Emission{}, nil
		}
		return Emission{Stream: r}, nil
	default:
		return Emission{}, &InvalidResultError{Value: result}
	}
}

// Invoke runs h for a and normalizes its result.
// Panics are not recovered here; the caller owns recovery.
func Invoke(h Handler, ec *Context, a action.Action) (Emission, error) {
	result, err := h(a.Payload, ec, a)
	if err != nil {
		return Emission{}, err
	}
	return Normalize(result)
}

// InvalidResultError reports a handler result outside the return contract.
type InvalidResultError struct {
	Value any
}

// Error implements the error interface.
func (e *InvalidResultError) Error() string {
	return fmt.Sprintf("effect handler returned unsupported value of type %T", e.Value)
}

// Is allows errors.Is to match InvalidResultError with ErrInvalidResult.
func (e *InvalidResultError) Is(target error) bool {
	return target == ErrInvalidResult
}
