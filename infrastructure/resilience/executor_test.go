package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/fortify/ferrors"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/tool"
)

var errFlaky = errors.New("flaky")

func testDescriptor() tool.Descriptor {
	return tool.NewBuilder("mcp", "crm").MustBuild()
}

// countingProxy fails the first failures calls and then succeeds.
func countingProxy(failures int32, calls *atomic.Int32) tool.Proxy {
	return tool.NewFuncProxy(testDescriptor(), func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		n := calls.Add(1)
		if n <= failures {
			return tool.Result{}, errFlaky
		}
		return tool.NewResult([]byte(`"ok"`)), nil
	})
}

func fastExecutor(opts ...Option) *Executor {
	return NewExecutorWithOptions(append([]Option{WithRetryDelay(time.Millisecond)}, opts...)...)
}

func TestDefaultExecutorConfig(t *testing.T) {
	t.Parallel()

	config := DefaultExecutorConfig()

	if config.MaxConcurrent != 10 {
		t.Errorf("MaxConcurrent = %d, want 10", config.MaxConcurrent)
	}
	if config.CircuitBreakerThreshold != 5 {
		t.Errorf("CircuitBreakerThreshold = %d, want 5", config.CircuitBreakerThreshold)
	}
	if config.StepTimeout != 30*time.Second {
		t.Errorf("StepTimeout = %v, want 30s", config.StepTimeout)
	}
	if config.MaxQueue <= 0 || config.QueueTimeout <= 0 {
		t.Errorf("queue = %d/%v, want a bounded queue", config.MaxQueue, config.QueueTimeout)
	}
}

func TestNewExecutor_NormalizesConfig(t *testing.T) {
	t.Parallel()

	e := NewExecutor(ExecutorConfig{MaxConcurrent: -1, CircuitBreakerThreshold: -3})
	config := e.Config()

	if config.MaxConcurrent != 10 {
		t.Errorf("MaxConcurrent = %d, want 10", config.MaxConcurrent)
	}
	if config.CircuitBreakerThreshold != 5 {
		t.Errorf("CircuitBreakerThreshold = %d, want 5", config.CircuitBreakerThreshold)
	}
	if config.RetryBackoffMultiplier != 2.0 {
		t.Errorf("RetryBackoffMultiplier = %v, want 2", config.RetryBackoffMultiplier)
	}
}

func TestExecutor_Invoke(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		failures     int32
		retries      int
		wantErr      bool
		wantAttempts int
	}{
		{name: "success", failures: 0, retries: 0, wantAttempts: 1},
		{name: "failure without retry", failures: 1, retries: 0, wantErr: true, wantAttempts: 1},
		{name: "recovers within retries", failures: 2, retries: 2, wantAttempts: 3},
		{name: "exhausts retries", failures: 5, retries: 2, wantErr: true, wantAttempts: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			e := fastExecutor()
			inv := tool.Invocation{StepID: "a.r@3", Operation: "lookup"}

			result, attempts, err := e.Invoke(context.Background(), countingProxy(tt.failures, &calls), inv, tt.retries)
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if int(calls.Load()) != tt.wantAttempts {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantAttempts)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Invoke() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var invErr *tool.InvocationError
				if !errors.As(err, &invErr) {
					t.Fatalf("error = %T, want *tool.InvocationError", err)
				}
				if invErr.StepID != "a.r@3" || invErr.Tool != "mcp.crm" || invErr.Operation != "lookup" {
					t.Errorf("InvocationError = %+v", invErr)
				}
				if invErr.Attempts != tt.wantAttempts {
					t.Errorf("InvocationError.Attempts = %d, want %d", invErr.Attempts, tt.wantAttempts)
				}
				if !errors.Is(err, tool.ErrInvocation) || !errors.Is(err, errFlaky) {
					t.Errorf("error chain = %v, want ErrInvocation and errFlaky", err)
				}
				return
			}
			if result.OutputString() != `"ok"` {
				t.Errorf("output = %s, want \"ok\"", result.OutputString())
			}
		})
	}
}

func TestExecutor_NonRetryableErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := tool.NewFuncProxy(testDescriptor(), func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		calls.Add(1)
		return tool.Result{}, &capability.Violation{StepID: inv.StepID, Capability: "network", Reason: "no"}
	})

	_, attempts, err := fastExecutor().Invoke(context.Background(), p, tool.Invocation{StepID: "s"}, 3)
	if !errors.Is(err, capability.ErrCapabilityDenied) {
		t.Fatalf("error = %v, want ErrCapabilityDenied", err)
	}
	if attempts != 1 || calls.Load() != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1", attempts, calls.Load())
	}
}

func TestExecutor_StepTimeout(t *testing.T) {
	t.Parallel()

	p := tool.NewFuncProxy(testDescriptor(), func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		<-ctx.Done()
		return tool.Result{}, ctx.Err()
	})

	e := fastExecutor(WithStepTimeout(10 * time.Millisecond))
	_, _, err := e.Invoke(context.Background(), p, tool.Invocation{StepID: "s"}, 0)
	if !errors.Is(err, tool.ErrExecutionTimeout) {
		t.Fatalf("error = %v, want ErrExecutionTimeout", err)
	}
	if !errors.Is(err, tool.ErrInvocation) {
		t.Errorf("error = %v, want ErrInvocation", err)
	}
}

func TestExecutor_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := tool.NewFuncProxy(testDescriptor(), func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		return tool.Result{}, ctx.Err()
	})

	_, _, err := fastExecutor().Invoke(ctx, p, tool.Invocation{StepID: "s"}, 2)
	if err == nil {
		t.Fatal("Invoke() error = nil, want error")
	}
}

// blockingProxy counts entered calls and holds each until release closes.
func blockingProxy(entered *atomic.Int32, release <-chan struct{}) tool.Proxy {
	return tool.NewFuncProxy(testDescriptor(), func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		entered.Add(1)
		select {
		case <-release:
			return tool.NewResult([]byte(`"ok"`)), nil
		case <-ctx.Done():
			return tool.Result{}, ctx.Err()
		}
	})
}

func waitEntered(t *testing.T, entered *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for entered.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("entered = %d, want %d", entered.Load(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestExecutor_QueuesBeyondConcurrency(t *testing.T) {
	t.Parallel()

	var entered atomic.Int32
	release := make(chan struct{})
	p := blockingProxy(&entered, release)
	e := fastExecutor(WithMaxConcurrent(2), WithQueue(8, 5*time.Second))
	defer func() { _ = e.Close() }()

	const calls = 6
	errs := make([]error, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = e.Invoke(context.Background(), p, tool.Invocation{StepID: "s"}, 0)
		}(i)
	}

	waitEntered(t, &entered, 2)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Invoke() #%d error = %v, want queued success", i, err)
		}
	}
	if got := entered.Load(); got != calls {
		t.Errorf("entered = %d, want %d", got, calls)
	}
}

func TestExecutor_RejectsWithoutQueue(t *testing.T) {
	t.Parallel()

	var entered atomic.Int32
	release := make(chan struct{})
	p := blockingProxy(&entered, release)
	e := fastExecutor(WithMaxConcurrent(1), WithQueue(0, 0))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, _ = e.Invoke(context.Background(), p, tool.Invocation{StepID: "a"}, 0)
	}()
	waitEntered(t, &entered, 1)

	_, attempts, err := e.Invoke(context.Background(), p, tool.Invocation{StepID: "b"}, 0)
	close(release)
	wg.Wait()

	if !errors.Is(err, ferrors.ErrBulkheadFull) {
		t.Errorf("Invoke() error = %v, want ErrBulkheadFull", err)
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0", attempts)
	}
}

func TestBreakers(t *testing.T) {
	t.Parallel()

	b := NewBreakers(2, time.Minute)
	fail := func(ctx context.Context) ([]byte, error) { return nil, errFlaky }

	if got := b.State("http://x"); got != "unknown" {
		t.Errorf("State() = %q, want unknown", got)
	}
	for i := 0; i < 2; i++ {
		if _, err := b.Execute(context.Background(), "http://x", fail); !errors.Is(err, errFlaky) {
			t.Fatalf("Execute() error = %v, want errFlaky", err)
		}
	}
	if _, err := b.Execute(context.Background(), "http://x", fail); errors.Is(err, errFlaky) {
		t.Errorf("Execute() on open breaker called fn, error = %v", err)
	}

	out, err := b.Execute(context.Background(), "http://y", func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || string(out) != "ok" {
		t.Errorf("Execute() on other endpoint = %q, %v", out, err)
	}
}
