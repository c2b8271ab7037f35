// Package policy provides spend budgets backing parameterized capabilities.
package policy

import (
	"math"
	"sort"
	"sync"
)

// Budget tracks consumption against configured limits. A budget is scoped
// to a single run.
type Budget struct {
	limits   map[string]float64
	consumed map[string]float64
	mu       sync.RWMutex
}

// BudgetSnapshot is an immutable view of budget state.
type BudgetSnapshot struct {
	Limits    map[string]float64 `json:"limits"`
	Consumed  map[string]float64 `json:"consumed"`
	Remaining map[string]float64 `json:"remaining"`
	Exhausted []string           `json:"exhausted,omitempty"`
}

// Empty reports whether the snapshot carries no limits.
func (s BudgetSnapshot) Empty() bool {
	return len(s.Limits) == 0
}

// NewBudget creates a budget with the given limits.
func NewBudget(limits map[string]float64) *Budget {
	b := &Budget{
		limits:   make(map[string]float64),
		consumed: make(map[string]float64),
	}
	for k, v := range limits {
		b.limits[k] = v
		b.consumed[k] = 0
	}
	return b
}

// UnlimitedBudget creates a budget with no limits.
func UnlimitedBudget() *Budget {
	return NewBudget(nil)
}

// HasLimit reports whether name has a configured limit.
func (b *Budget) HasLimit(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.limits[name]
	return ok
}

// CanConsume checks if the budget allows consuming the given amount.
func (b *Budget) CanConsume(name string, amount float64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	limit, hasLimit := b.limits[name]
	if !hasLimit {
		return true
	}
	return b.consumed[name]+amount <= limit
}

// Consume deducts from the budget if allowed.
func (b *Budget) Consume(name string, amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	limit, hasLimit := b.limits[name]
	consumed := b.consumed[name]
	if hasLimit && consumed+amount > limit {
		return ErrBudgetExceeded
	}

	b.consumed[name] = consumed + amount
	return nil
}

// Remaining returns the remaining budget for a given name, or -1 when
// unlimited.
func (b *Budget) Remaining(name string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	limit, hasLimit := b.limits[name]
	if !hasLimit {
		return -1
	}
	return limit - b.consumed[name]
}

// SetLimit sets or updates a budget limit.
func (b *Budget) SetLimit(name string, limit float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.limits[name] = limit
	if _, exists := b.consumed[name]; !exists {
		b.consumed[name] = 0
	}
}

// Snapshot returns an immutable view of the current budget state.
func (b *Budget) Snapshot() BudgetSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snapshot := BudgetSnapshot{
		Limits:    make(map[string]float64),
		Consumed:  make(map[string]float64),
		Remaining: make(map[string]float64),
	}
	for k, v := range b.limits {
		snapshot.Limits[k] = v
		snapshot.Remaining[k] = v - b.consumed[k]
	}
	for k, v := range b.consumed {
		snapshot.Consumed[k] = v
	}
	snapshot.Exhausted = b.exhausted()
	return snapshot
}

// exhausted returns the names of all exhausted budgets, sorted. Callers
// hold the read lock.
func (b *Budget) exhausted() []string {
	var names []string
	for name, limit := range b.limits {
		if b.consumed[name] >= limit {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
