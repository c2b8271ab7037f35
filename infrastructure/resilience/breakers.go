package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
)

// Breakers holds one circuit breaker per endpoint.
type Breakers struct {
	threshold int
	timeout   time.Duration

	mu       sync.RWMutex
	breakers map[string]circuitbreaker.CircuitBreaker[[]byte]
}

// NewBreakers creates an empty breaker set. Non-positive arguments fall
// back to the executor defaults.
func NewBreakers(threshold int, timeout time.Duration) *Breakers {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Breakers{
		threshold: threshold,
		timeout:   timeout,
		breakers:  make(map[string]circuitbreaker.CircuitBreaker[[]byte]),
	}
}

// BreakersFor returns a breaker set configured like the executor.
func (e *Executor) BreakersFor() *Breakers {
	return NewBreakers(e.config.CircuitBreakerThreshold, e.config.CircuitBreakerTimeout)
}

// Execute runs fn through the breaker of endpoint.
func (b *Breakers) Execute(ctx context.Context, endpoint string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	return b.get(endpoint).Execute(ctx, fn)
}

// State returns the breaker state of endpoint, or "unknown" if no call
// went through it yet.
func (b *Breakers) State(endpoint string) string {
	b.mu.RLock()
	breaker, ok := b.breakers[endpoint]
	b.mu.RUnlock()

	if !ok {
		return "unknown"
	}
	return breaker.State().String()
}

func (b *Breakers) get(endpoint string) circuitbreaker.CircuitBreaker[[]byte] {
	b.mu.RLock()
	breaker, ok := b.breakers[endpoint]
	b.mu.RUnlock()
	if ok {
		return breaker
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if breaker, ok = b.breakers[endpoint]; ok {
		return breaker
	}
	threshold := b.threshold
	breaker = circuitbreaker.New[[]byte](circuitbreaker.Config{
		MaxRequests: 10,
		Interval:    b.timeout,
		Timeout:     b.timeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- threshold is positive
		},
	})
	b.breakers[endpoint] = breaker
	return breaker
}
