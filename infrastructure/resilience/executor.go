// Package resilience provides resilient proxy invocation using fortify.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/tool"
)

// Executor invokes proxies with a concurrency cap, a per-attempt timeout
// and the step's retry count.
type Executor struct {
	bulkhead bulkhead.Bulkhead[tool.Result]
	config   ExecutorConfig
}

// ExecutorConfig configures the resilient executor.
type ExecutorConfig struct {
	// MaxConcurrent limits concurrent proxy invocations across runs.
	MaxConcurrent int

	// MaxQueue is how many invocations may wait for a free slot.
	MaxQueue int

	// QueueTimeout bounds the wait for a free slot. Zero waits until the
	// run is cancelled.
	QueueTimeout time.Duration

	// CircuitBreakerThreshold is the number of consecutive failures before
	// an endpoint breaker opens.
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long an endpoint breaker stays open.
	CircuitBreakerTimeout time.Duration

	// RetryInitialDelay is the delay before the first retry.
	RetryInitialDelay time.Duration

	// RetryBackoffMultiplier is the exponential backoff multiplier.
	RetryBackoffMultiplier float64

	// StepTimeout bounds every single attempt. Zero disables the bound.
	StepTimeout time.Duration
}

// DefaultExecutorConfig returns a configuration with sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:           10,
		MaxQueue:                1024,
		QueueTimeout:            time.Minute,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		RetryInitialDelay:       100 * time.Millisecond,
		RetryBackoffMultiplier:  2.0,
		StepTimeout:             30 * time.Second,
	}
}

// nonRetryable errors fail the step on the first attempt.
var nonRetryable = []error{
	capability.ErrCapabilityDenied,
	expr.ErrEvaluation,
	tool.ErrInvalidInput,
	context.Canceled,
}

// NewExecutor creates a new resilient executor.
func NewExecutor(config ExecutorConfig) *Executor {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if config.MaxQueue < 0 {
		config.MaxQueue = 0
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 5
	}
	if config.RetryBackoffMultiplier < 1 {
		config.RetryBackoffMultiplier = 2.0
	}

	return &Executor{
		bulkhead: bulkhead.New[tool.Result](bulkhead.Config{
			MaxConcurrent: config.MaxConcurrent,
			MaxQueue:      config.MaxQueue,
			QueueTimeout:  config.QueueTimeout,
		}),
		config: config,
	}
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultExecutorConfig())
}

// Config returns the effective configuration.
func (e *Executor) Config() ExecutorConfig {
	return e.config
}

// Invoke calls p with up to retries additional attempts. It returns the
// number of attempts made. Failures are wrapped in *tool.InvocationError.
func (e *Executor) Invoke(ctx context.Context, p tool.Proxy, inv tool.Invocation, retries int) (tool.Result, int, error) {
	start := time.Now()

	// A queued call may start after Invoke gave up waiting; cancelling ctx
	// keeps it from reaching the proxy.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		attempts int
		lastErr  error
	)
	attempt := func(ctx context.Context) (tool.Result, error) {
		if err := ctx.Err(); err != nil {
			return tool.Result{}, err
		}
		mu.Lock()
		attempts++
		mu.Unlock()
		result, err := e.attempt(ctx, p, inv)
		mu.Lock()
		lastErr = err
		mu.Unlock()
		return result, err
	}

	result, err := e.bulkhead.Execute(ctx, func(ctx context.Context) (tool.Result, error) {
		if retries <= 0 {
			return attempt(ctx)
		}
		r := retry.New[tool.Result](retry.Config{
			MaxAttempts:        retries + 1,
			InitialDelay:       e.config.RetryInitialDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         e.config.RetryBackoffMultiplier,
			NonRetryableErrors: nonRetryable,
		})
		return r.Do(ctx, attempt)
	})

	mu.Lock()
	n, last := attempts, lastErr
	mu.Unlock()
	if err != nil {
		// Report the proxy's own failure rather than the retry wrapper's.
		if last != nil {
			err = last
		}
		desc := p.Descriptor()
		return tool.Result{}, n, &tool.InvocationError{
			StepID:    inv.StepID,
			Tool:      desc.Key(),
			Operation: inv.Operation,
			Attempts:  n,
			Err:       err,
		}
	}

	result.Duration = time.Since(start)
	return result, n, nil
}

// Close stops the invocation queue. Invocations must have finished.
func (e *Executor) Close() error {
	return e.bulkhead.Close()
}

func (e *Executor) attempt(ctx context.Context, p tool.Proxy, inv tool.Invocation) (tool.Result, error) {
	if e.config.StepTimeout <= 0 {
		return p.Invoke(ctx, inv)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.StepTimeout)
	defer cancel()

	result, err := p.Invoke(ctx, inv)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return tool.Result{}, fmt.Errorf("%w after %v: %v", tool.ErrExecutionTimeout, e.config.StepTimeout, err)
	}
	return result, err
}
