// Package action defines the messages that flow through flowstate.
//
// Every module definition mints a ModuleID once. Action types are
// namespaced by that ID, so two modules may both define an "update"
// type without colliding:
//
//	var counter = action.DefineModule("counter")
//
//	var (
//	    Increment = counter.MustType("increment")
//	    Reset     = counter.MustType("reset")
//	)
//
//	store.Dispatch(Increment.New(2))
//
// # Lifecycle Types
//
// Type names beginning with "$" are reserved for the lifecycle vocabulary
// emitted by the store when a container is enabled or disabled:
//
//	$init        - first-ever enable, state has just been initialized
//	$mounted     - container became enabled
//	$remounted   - container was re-enabled by a hot reload
//	$unmounting  - a user is about to disable the container
//	$unmounted   - last user disabled the container
//
// Handlers may match lifecycle types through ModuleID.Lifecycle but can
// never define them.
//
// # Matchers
//
// A Type is itself a Matcher for exactly one type. Match builds a matcher
// for a set of types. Builders in the reducer and effect packages index
// handlers by Matcher.Types, so dispatch cost does not grow with the
// number of registered handlers.
package action
