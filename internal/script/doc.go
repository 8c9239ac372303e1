// Package script defines store modules in Lua.
//
// A script declares one module. Top-level calls register its pieces:
//
//	module("counter")
//	initial({count = 0})
//
//	on("increment", function(state, payload)
//	    state.count = state.count + (payload or 1)
//	end)
//
//	on("reset", function()
//	    return {count = 0}
//	end)
//
//	effect("start", function(payload, action)
//	    return {type = "step1", payload = payload}
//	end)
//
// Update handlers receive a copy of the state and either edit it in place
// or return a replacement. Effect handlers return nil, a type name, an
// action table, a list of those, or after(ms, action) for a delayed
// emission.
//
// Type names are local to the script's module unless written as
// "other/name". Lifecycle names such as "$mounted" may be handled but
// never emitted.
//
// Scripts run with the base, table, string and math libraries only. The
// gopher-lua state of a module is guarded by a mutex because update
// handlers run on the dispatching goroutine while effect handlers run on
// the scheduler.
package script
