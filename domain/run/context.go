package run

import (
	"os"
	"time"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/trace"
)

// EnvLookup resolves `env:NAME` argument references.
type EnvLookup func(name string) (string, bool)

// Context is the state of one run. Each run constructs its own; nothing in
// it is shared with other runs.
type Context struct {
	ID           string
	Capabilities *capability.Manager
	Trace        *trace.Trace
	Now          func() time.Time
	Env          EnvLookup
	Mode         Mode
}

// NewContext creates a run context. Nil fields fall back to the wall
// clock and the process environment.
func NewContext(id string, caps *capability.Manager, tr *trace.Trace, now func() time.Time, env EnvLookup) *Context {
	if now == nil {
		now = time.Now
	}
	if env == nil {
		env = os.LookupEnv
	}
	if tr == nil {
		tr = trace.New(id, trace.WithClock(now))
	}
	if caps == nil {
		caps = capability.NewManager(id, capability.WithClock(now))
	}
	return &Context{
		ID:           id,
		Capabilities: caps,
		Trace:        tr,
		Now:          now,
		Env:          env,
		Mode:         ModeSimulated,
	}
}
