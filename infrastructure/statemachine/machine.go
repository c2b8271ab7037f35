// Package statemachine provides the statekit integration for routine
// invocations.
package statemachine

import (
	"time"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/apl/domain/run"
)

// Context carries one routine invocation through the state machine.
type Context struct {
	RunID   string
	Routine string
	State   run.State
	StepID  string
	Err     error
	History []Transition
	now     func() time.Time
}

// Transition is one recorded state change.
type Transition struct {
	From   run.State `json:"from"`
	To     run.State `json:"to"`
	StepID string    `json:"step_id,omitempty"`
	At     time.Time `json:"at"`
}

// NewContext creates a machine context for agent.routine within a run.
func NewContext(runID, routine string, now func() time.Time) *Context {
	if now == nil {
		now = time.Now
	}
	return &Context{
		RunID:   runID,
		Routine: routine,
		State:   run.StatePending,
		now:     now,
	}
}

// Event types.
const (
	EventStart    statekit.EventType = "START"
	EventComplete statekit.EventType = "COMPLETE"
	EventFail     statekit.EventType = "FAIL"
)

const (
	statePending    statekit.StateID = statekit.StateID(run.StatePending)
	stateEvaluating statekit.StateID = statekit.StateID(run.StateEvaluating)
	stateCompleted  statekit.StateID = statekit.StateID(run.StateCompleted)
	stateFailed     statekit.StateID = statekit.StateID(run.StateFailed)
)

// NewRoutineMachine creates the routine invocation statechart:
// pending → evaluating → completed | failed.
func NewRoutineMachine() (*statekit.MachineConfig[*Context], error) {
	return statekit.NewMachine[*Context]("routine").
		WithInitial(statePending).
		WithContext(&Context{}).
		WithAction("recordTransition", recordTransition).
		WithGuard("succeeded", guardSucceeded).
		State(statePending).
			On(EventStart).Target(stateEvaluating).Do("recordTransition").
			On(EventFail).Target(stateFailed).Do("recordTransition").
			Done().
		State(stateEvaluating).
			On(EventComplete).Target(stateCompleted).Guard("succeeded").Do("recordTransition").
			On(EventFail).Target(stateFailed).Do("recordTransition").
			Done().
		State(stateCompleted).
			Final().
			Done().
		State(stateFailed).
			Final().
			Done().
		Build()
}

// StateFromMachine converts the machine state ID to a run state.
func StateFromMachine(stateID statekit.StateID) run.State {
	return run.State(stateID)
}
