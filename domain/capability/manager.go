package capability

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/felixgeelhaar/apl/domain/policy"
)

// Decision is the outcome of a capability check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with a reason.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Result returns "allowed" or "denied".
func (d Decision) Result() string {
	if d.Allowed {
		return "allowed"
	}
	return "denied"
}

// AuditRecord is one capability check in the audit trail.
type AuditRecord struct {
	RunID      string    `json:"run_id"`
	StepID     string    `json:"step_id"`
	Capability string    `json:"capability"`
	Params     Params    `json:"params,omitempty"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AuditSink receives audit records as they are produced.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// Manager holds the grant set and audit trail of exactly one run. Managers
// are never shared between runs.
type Manager struct {
	mu      sync.Mutex
	runID   string
	granted Manifest
	budget  *policy.Budget
	trail   []AuditRecord
	sinks   []AuditSink
	sinkErr error
	now     func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the time source for audit timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithAuditSink forwards every audit record to sink.
func WithAuditSink(sink AuditSink) ManagerOption {
	return func(m *Manager) {
		if sink != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
}

// NewManager creates a manager for the run. Nothing is granted until Grant
// is called.
func NewManager(runID string, opts ...ManagerOption) *Manager {
	m := &Manager{
		runID:   runID,
		granted: make(Manifest),
		budget:  policy.UnlimitedBudget(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunID returns the run this manager belongs to.
func (m *Manager) RunID() string {
	return m.runID
}

// Grant initializes the grant set to the declared manifest intersected with
// the allow-list. Spend limits become run budgets.
func (m *Manager) Grant(declared Manifest, allow Allowlist) {
	granted := Intersect(declared, allow)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.granted = granted
	m.budget = policy.UnlimitedBudget()
	for name, params := range granted {
		if limit, ok := params.Limit(); ok {
			m.budget.SetLimit(name, limit)
		}
	}
}

// Granted returns a copy of the grant set.
func (m *Manager) Granted() Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.granted.Clone()
}

// IsGranted reports whether capability is in the grant set. It does not
// consult spend limits and leaves no audit record.
func (m *Manager) IsGranted(capability string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.granted[capability]
	return ok
}

// Check decides whether stepID may use capability with the given
// parameters. A numeric "amount" parameter is consumed against the spend
// limit of the capability. Every call is appended to the audit trail.
func (m *Manager) Check(ctx context.Context, stepID, capability string, params Params) Decision {
	m.mu.Lock()
	decision := m.decide(capability, params)

	recorded := params.Clone()
	if limit, ok := m.granted[capability].Limit(); ok {
		if recorded == nil {
			recorded = make(Params)
		}
		recorded[ParamLimit] = strconv.FormatFloat(limit, 'f', -1, 64)
	}
	rec := AuditRecord{
		RunID:      m.runID,
		StepID:     stepID,
		Capability: capability,
		Params:     recorded,
		Allowed:    decision.Allowed,
		Reason:     decision.Reason,
		Timestamp:  m.now(),
	}
	m.trail = append(m.trail, rec)
	sinks := m.sinks
	m.mu.Unlock()

	for _, s := range sinks {
		if err := s.Record(ctx, rec); err != nil {
			m.mu.Lock()
			m.sinkErr = errors.Join(m.sinkErr, err)
			m.mu.Unlock()
		}
	}
	return decision
}

func (m *Manager) decide(capability string, params Params) Decision {
	if _, ok := m.granted[capability]; !ok {
		return Deny("capability " + capability + " is not granted for this run")
	}
	raw, ok := params[ParamAmount]
	if !ok || !m.budget.HasLimit(capability) {
		return Allow()
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Deny("amount " + strconv.Quote(raw) + " is not numeric")
	}
	switch {
	case amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0):
		return Deny(policy.ErrInvalidAmount.Error())
	case !m.budget.CanConsume(capability, amount):
		return Deny("spend limit exceeded")
	}
	if err := m.budget.Consume(capability, amount); err != nil {
		return Deny(err.Error())
	}
	return Allow()
}

// Trail returns a copy of the audit trail in check order.
func (m *Manager) Trail() []AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AuditRecord, len(m.trail))
	copy(out, m.trail)
	return out
}

// Remaining returns the unspent budget for capability, or -1 if unlimited.
func (m *Manager) Remaining(capability string) float64 {
	m.mu.Lock()
	b := m.budget
	m.mu.Unlock()
	return b.Remaining(capability)
}

// Budget returns the spend state of the run's parameterized grants.
func (m *Manager) Budget() policy.BudgetSnapshot {
	m.mu.Lock()
	b := m.budget
	m.mu.Unlock()
	return b.Snapshot()
}

// SinkErr returns the accumulated errors from audit sinks, if any.
func (m *Manager) SinkErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sinkErr
}
