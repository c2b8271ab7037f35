package statemachine

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/apl/domain/run"
)

// Interpreter wraps the statekit interpreter for one routine invocation.
type Interpreter struct {
	interp *statekit.Interpreter[*Context]
	ctx    *Context
}

// NewInterpreter creates a new interpreter for the routine machine.
func NewInterpreter(machine *statekit.MachineConfig[*Context], ctx *Context) *Interpreter {
	interp := statekit.NewInterpreter(machine)
	// Update the context reference in the machine
	interp.UpdateContext(func(c **Context) {
		*c = ctx
	})
	return &Interpreter{
		interp: interp,
		ctx:    ctx,
	}
}

// Start enters the pending state.
func (i *Interpreter) Start() {
	i.interp.Start()
	i.ctx.State = StateFromMachine(i.interp.State().Value)
}

// Begin moves from pending to evaluating.
func (i *Interpreter) Begin() error {
	return i.send(statekit.Event{Type: EventStart}, run.StateEvaluating)
}

// Step records the step being evaluated.
func (i *Interpreter) Step(stepID string) error {
	if i.State() != run.StateEvaluating {
		return fmt.Errorf("%w: step %s outside evaluating state (%s)", run.ErrInvalidTransition, stepID, i.State())
	}
	i.ctx.StepID = stepID
	return nil
}

// Complete moves from evaluating to completed.
func (i *Interpreter) Complete() error {
	return i.send(statekit.Event{Type: EventComplete}, run.StateCompleted)
}

// Fail moves to failed, recording err.
func (i *Interpreter) Fail(err error) error {
	return i.send(statekit.Event{Type: EventFail, Payload: FailurePayload{Err: err}}, run.StateFailed)
}

func (i *Interpreter) send(event statekit.Event, want run.State) error {
	from := i.State()
	i.interp.Send(event)
	if got := i.State(); got != want {
		return fmt.Errorf("%w: %s on %s leaves state %s", run.ErrInvalidTransition, event.Type, from, got)
	}
	return nil
}

// State returns the current state.
func (i *Interpreter) State() run.State {
	return StateFromMachine(i.interp.State().Value)
}

// IsTerminal returns true if the interpreter is in a terminal state.
func (i *Interpreter) IsTerminal() bool {
	return i.interp.Done()
}

// Context returns the interpreter context.
func (i *Interpreter) Context() *Context {
	return i.ctx
}

// Stop stops the interpreter.
func (i *Interpreter) Stop() {
	i.interp.Stop()
}
