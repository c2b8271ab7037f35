package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/felixgeelhaar/apl/domain/run"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// RunID adds a run ID field.
func RunID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("run_id", id)
	}
}

// StepID adds the IR node id of a step.
func StepID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("step_id", id)
	}
}

// Kind adds an IR node kind.
func Kind(kind string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("kind", kind)
	}
}

// Agent adds an agent name.
func Agent(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("agent", name)
	}
}

// Routine adds a qualified routine name.
func Routine(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("routine", name)
	}
}

// Tool adds a "namespace.name" tool key.
func Tool(key string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("tool", key)
	}
}

// Capability adds a capability name.
func Capability(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("capability", name)
	}
}

// Allowed adds a capability decision.
func Allowed(allowed bool) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Bool("allowed", allowed)
	}
}

// Hash adds an IR hash.
func Hash(hash string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("ir_hash", hash)
	}
}

// State adds a routine state field.
func State(s run.State) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("state", string(s))
	}
}

// FromState adds a from_state field for transitions.
func FromState(s run.State) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("from_state", string(s))
	}
}

// ToState adds a to_state field for transitions.
func ToState(s run.State) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("to_state", string(s))
	}
}

// Attempts adds the number of proxy attempts.
func Attempts(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("attempts", n)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// Cached adds a cached field.
func Cached(cached bool) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Bool("cached", cached)
	}
}

// Count adds an integer count under key.
func Count(key string, n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int(key, n)
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Reason adds a reason field.
func Reason(reason string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("reason", reason)
	}
}

// Component adds a component field for categorization.
func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}

// Operation adds an operation field.
func Operation(op string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("operation", op)
	}
}

// Str adds a string field with custom key.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}
