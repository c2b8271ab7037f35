package statemachine

import (
	"time"

	"github.com/felixgeelhaar/statekit"
)

// FailurePayload carries the error that failed the invocation.
type FailurePayload struct {
	Err error
}

// recordTransition appends the state change to the context history and
// keeps the error of a failure payload.
// In statekit, actions receive a pointer to the context. Since our context is *Context,
// actions receive **Context.
func recordTransition(ctx **Context, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	c := *ctx
	if p, ok := event.Payload.(FailurePayload); ok {
		c.Err = p.Err
	}
	now := c.now
	if now == nil {
		now = time.Now
	}
	to := stateFromEventType(event.Type)
	c.History = append(c.History, Transition{
		From:   c.State,
		To:     to,
		StepID: c.StepID,
		At:     now().UTC(),
	})
	c.State = to
}
