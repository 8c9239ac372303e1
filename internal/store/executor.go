package store

import (
	"context"
	"runtime/debug"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/effect"
)

// protect runs fn and converts a panic into a PanicError.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}

func safeReduce(red Reducer, state any, a action.Action) (next any, err error) {
	err = protect(func() error {
		var rerr error
		next, rerr = red.Reduce(state, a)
		return rerr
	})
	if err != nil {
		return state, err
	}
	return next, nil
}

func safeInvoke(h effect.Handler, ec *effect.Context, a action.Action) (em effect.Emission, err error) {
	err = protect(func() error {
		var ierr error
		em, ierr = effect.Invoke(h, ec, a)
		return ierr
	})
	if err != nil {
		return effect.Emission{}, err
	}
	return em, nil
}

func safeDeferred(ctx context.Context, fn effect.Deferred) (out action.Action, err error) {
	err = protect(func() error {
		var derr error
		out, derr = fn(ctx)
		return derr
	})
	if err != nil {
		return action.Action{}, err
	}
	return out, nil
}

func safeInitial(fn func() any) (state any, err error) {
	if fn == nil {
		return nil, nil
	}
	err = protect(func() error {
		state = fn()
		return nil
	})
	return state, err
}

func safeCall(fn func()) error {
	return protect(func() error {
		fn()
		return nil
	})
}
