package statemachine

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/apl/domain/run"
)

// guardSucceeded blocks completion once an error has been recorded.
// Note: In statekit, guards receive the context by value. Since our context is *Context,
// the guard receives *Context directly.
func guardSucceeded(ctx *Context, _ statekit.Event) bool {
	return ctx != nil && ctx.Err == nil
}

// stateFromEventType derives the target state from an event type.
func stateFromEventType(eventType statekit.EventType) run.State {
	switch eventType {
	case EventStart:
		return run.StateEvaluating
	case EventComplete:
		return run.StateCompleted
	case EventFail:
		return run.StateFailed
	default:
		return run.State(eventType)
	}
}
