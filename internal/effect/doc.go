// Package effect builds side-effect pipelines.
//
// A Pipeline maps action types to handlers. The store feeds every
// dispatched action, from every module, into each enabled container's
// pipeline; handlers whose matcher accepts the action are invoked with
// its payload, an effect Context and the action itself.
//
// A handler returns one of:
//
//	nil                                  - nothing to emit
//	action.Action / *action.Action       - one action
//	[]action.Action                      - an ordered sequence
//	Deferred                             - one action produced later
//	<-chan action.Action                 - an ordered sequence produced later,
//	                                       ending when the channel is closed
//
// Any other value is reported as an InvalidResultError and treated as
// nothing to emit. Emitted actions are dispatched back into the store.
//
// # Correlation
//
// The Context exposes the shared action stream. Take registers interest in
// a later action synchronously, so a handler can return a Deferred that
// waits for a correlated response without missing it:
//
//	p.On(FetchUser, func(payload any, ec *effect.Context, a action.Action) (any, error) {
//	    done := ec.Take(UserLoaded)
//	    return effect.Deferred(func(ctx context.Context) (action.Action, error) {
//	        loaded, err := ec.Await(done)
//	        if err != nil {
//	            return action.Action{}, err
//	        }
//	        return Greet.New(loaded.Payload), nil
//	    }), nil
//	})
//
// # Cancellation
//
// The Context is cancelled when the owning container is disabled. After
// that point nothing the handler emits reaches the store.
package effect
