package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// declaration collects what a script registers while it runs.
type declaration struct {
	name     string
	initial  any
	reducers []binding
	effects  []binding
}

// binding ties type names to a Lua function.
type binding struct {
	types []string
	fn    *lua.LFunction
}

// delayed is the value produced by after(ms, action).
type delayed struct {
	ms     int64
	action any
}

func (d *declaration) install(s *State) {
	s.Register("module", d.luaModule)
	s.Register("initial", d.luaInitial)
	s.Register("on", func(L *lua.LState) int {
		d.reducers = append(d.reducers, checkBinding(L))
		return 0
	})
	s.Register("effect", func(L *lua.LState) int {
		d.effects = append(d.effects, checkBinding(L))
		return 0
	})
	s.Register("after", luaAfter)
}

func (d *declaration) luaModule(L *lua.LState) int {
	name := L.CheckString(1)
	if name == "" {
		L.ArgError(1, "module name must not be empty")
		return 0
	}
	if d.name != "" && d.name != name {
		L.RaiseError("module already declared as %q", d.name)
		return 0
	}
	d.name = name
	return 0
}

func (d *declaration) luaInitial(L *lua.LState) int {
	d.initial = toGo(L.CheckAny(1))
	return 0
}

// checkBinding reads (types, fn) where types is a name or a list of names.
func checkBinding(L *lua.LState) binding {
	var types []string
	switch v := L.CheckAny(1).(type) {
	case lua.LString:
		types = []string{string(v)}
	case *lua.LTable:
		v.ForEach(func(_, e lua.LValue) {
			s, ok := e.(lua.LString)
			if !ok {
				L.ArgError(1, fmt.Sprintf("type names must be strings, got %s", e.Type()))
			}
			types = append(types, string(s))
		})
	default:
		L.ArgError(1, "expected a type name or a list of type names")
	}
	if len(types) == 0 {
		L.ArgError(1, "no type names given")
	}
	return binding{types: types, fn: L.CheckFunction(2)}
}

func luaAfter(L *lua.LState) int {
	ms := L.CheckInt64(1)
	if ms < 0 {
		L.ArgError(1, "delay must not be negative")
		return 0
	}
	ud := L.NewUserData()
	ud.Value = delayed{ms: ms, action: toGo(L.CheckAny(2))}
	L.Push(ud)
	return 1
}
