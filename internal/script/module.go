package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/effect"
	"github.com/dshills/flowstate/internal/reducer"
	"github.com/dshills/flowstate/internal/store"
)

// Module is a loaded script.
type Module struct {
	id       action.ModuleID
	name     string
	path     string
	state    *State
	loader   *Loader
	reducer  *reducer.Builder
	pipeline *effect.Pipeline
}

// ID returns the module's identity. It is stable across reloads of the
// same module name within one Loader.
func (m *Module) ID() action.ModuleID {
	return m.id
}

// Name returns the declared module name.
func (m *Module) Name() string {
	return m.name
}

// Path returns the script path.
func (m *Module) Path() string {
	return m.path
}

// Reducer returns the update function built from the script's on() calls.
func (m *Module) Reducer() *reducer.Builder {
	return m.reducer
}

// Pipeline returns the effect pipeline built from the script's effect() calls.
func (m *Module) Pipeline() *effect.Pipeline {
	return m.pipeline
}

// Register installs the module on r.
func (m *Module) Register(r *store.Registry) (*store.Handle, error) {
	return r.Register(m.id, m.reducer, m.pipeline)
}

// Type resolves a type name relative to this module.
func (m *Module) Type(name string) (action.Type, error) {
	return m.loader.resolve(m.id, name, true)
}

// Close releases the module's Lua state.
func (m *Module) Close() error {
	return m.state.Close()
}

func (m *Module) build(d *declaration) error {
	initial := d.initial
	if initial == nil {
		initial = map[string]any{}
	}
	m.reducer = reducer.New(initial)
	for _, b := range d.reducers {
		match, err := m.matcher(b.types)
		if err != nil {
			return err
		}
		m.reducer.Replace(match, m.reduceWith(b.fn))
	}

	m.pipeline = effect.New()
	for _, b := range d.effects {
		match, err := m.matcher(b.types)
		if err != nil {
			return err
		}
		m.pipeline.On(match, m.effectWith(b.fn))
	}
	return nil
}

func (m *Module) matcher(names []string) (*action.Set, error) {
	types := make([]action.Type, 0, len(names))
	for _, name := range names {
		t, err := m.loader.resolve(m.id, name, true)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return action.Match(types...), nil
}

// reduceWith adapts an on() handler. The handler edits a Lua copy of the
// state or returns a replacement; unchanged subtrees keep their identity.
func (m *Module) reduceWith(fn *lua.LFunction) reducer.ReplaceFunc {
	return func(state any, a action.Action) (any, error) {
		res, err := m.state.Call(fn, state, a.Payload, m.describe(a))
		if err != nil {
			return nil, &CallError{Module: m.name, Type: a.Type.String(), Handler: "on", Err: err}
		}
		next := res.Args[0]
		if len(res.Returns) > 0 && res.Returns[0] != nil {
			next = res.Returns[0]
		}
		return reshare(state, next), nil
	}
}

func (m *Module) effectWith(fn *lua.LFunction) effect.Handler {
	return func(payload any, _ *effect.Context, a action.Action) (any, error) {
		res, err := m.state.Call(fn, payload, m.describe(a))
		if errors.Is(err, ErrStateClosed) {
			// Replaced by a reload while its unmount actions were queued.
			return nil, nil
		}
		if err != nil {
			return nil, &CallError{Module: m.name, Type: a.Type.String(), Handler: "effect", Err: err}
		}
		if len(res.Returns) == 0 {
			return nil, nil
		}
		return m.emission(res.Returns[0])
	}
}

// describe renders a as the table handed to scripts. Types of this module
// are given by their local name.
func (m *Module) describe(a action.Action) map[string]any {
	name := a.Type.String()
	if a.Type.Module == m.id {
		name = a.Type.Name
	}
	return map[string]any{
		"type":    name,
		"module":  a.Type.Module.Name(),
		"payload": a.Payload,
	}
}

// emission converts an effect handler's return value into an effect result.
func (m *Module) emission(v any) (any, error) {
	switch r := v.(type) {
	case nil:
		return nil, nil
	case delayed:
		next, err := m.emission(r.action)
		if err != nil {
			return nil, err
		}
		a, ok := next.(action.Action)
		if !ok {
			return nil, &effect.InvalidResultError{Value: r.action}
		}
		wait := time.Duration(r.ms) * time.Millisecond
		return effect.Deferred(func(ctx context.Context) (action.Action, error) {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
				return a, nil
			case <-ctx.Done():
				return action.Action{}, ctx.Err()
			}
		}), nil
	case []any:
		out := make([]action.Action, 0, len(r))
		for _, e := range r {
			a, err := m.toAction(e)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, nil
	default:
		return m.toAction(v)
	}
}

func (m *Module) toAction(v any) (action.Action, error) {
	switch r := v.(type) {
	case string:
		t, err := m.loader.resolve(m.id, r, false)
		if err != nil {
			return action.Action{}, err
		}
		return t.Empty(), nil
	case map[string]any:
		name, ok := r["type"].(string)
		if !ok {
			return action.Action{}, &effect.InvalidResultError{Value: v}
		}
		t, err := m.loader.resolve(m.id, name, false)
		if err != nil {
			return action.Action{}, err
		}
		return t.New(r["payload"]), nil
	default:
		return action.Action{}, &effect.InvalidResultError{Value: v}
	}
}

// splitType splits "other/name" into its module and type parts.
func splitType(s string) (module, name string, qualified bool) {
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return "", s, false
	}
	return s[:i], s[i+1:], true
}

func unknownType(name string, err error) error {
	return fmt.Errorf("%w %q: %v", ErrUnknownType, name, err)
}
