// Package store implements module containers and the dispatch coordinator.
//
// A Registry owns one container per module. Register installs a module's
// update function and effect pipeline and returns a Handle; Enable and
// Disable reference count the container and dispatch the lifecycle
// actions ($init, $mounted, $remounted, $unmounting, $unmounted).
//
// # Scheduling
//
// Dispatch runs in two domains. The synchronous domain applies every
// matching update function, commits the new states and notifies
// listeners, all before Dispatch returns. The action is then appended to
// the deferred queue, drained by a single scheduler goroutine that
// notifies stream observers and invokes effect handlers in registration
// order. Actions emitted by handlers re-enter Dispatch from the
// scheduler goroutine, so a chain of effects never nests call frames.
//
// One caller at a time drains the synchronous queue. A Dispatch, Enable or
// Disable made from another goroutine meanwhile waits until its own work,
// including the lifecycle actions it caused, has been applied. One made
// from a listener or an update function is queued behind the current
// action and applied before the outer call returns.
//
// Update failures are returned from the call that caused them and
// delivered on the error channel (OnError). Effect failures are only
// delivered on the error channel, on a later scheduler tick.
//
// Disabling the last user of a container cancels the context of all its
// in-flight effects once its handlers have seen $unmounting; anything they
// emit afterwards is dropped.
package store
