package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errFetchFailed = errors.New("logical filesystem fetch failed")

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("bridge", Config{})

	if cb.Name() != "bridge" {
		t.Errorf("Name() = %q, want %q", cb.Name(), "bridge")
	}
	if cb.GetState() != StateClosed {
		t.Errorf("initial state = %v, want %v", cb.GetState(), StateClosed)
	}
	if cb.config.MaxRequests != 1 {
		t.Errorf("default MaxRequests = %d, want 1", cb.config.MaxRequests)
	}
	if cb.config.ReadyToTrip == nil || cb.config.IsSuccessful == nil {
		t.Error("default ReadyToTrip/IsSuccessful must not be nil")
	}
}

func TestExecute_PassesThroughSuccess(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("bridge", Config{})

	called := false
	if err := cb.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("Execute() = %v, want nil", err)
	}
	if !called {
		t.Error("wrapped fetch was never called")
	}

	counts := cb.GetCounts()
	if counts.TotalSuccesses != 1 {
		t.Errorf("TotalSuccesses = %d, want 1", counts.TotalSuccesses)
	}
}

func TestExecute_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("bridge", Config{
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 3 },
	})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errFetchFailed }); !errors.Is(err, errFetchFailed) {
			t.Fatalf("failure %d: Execute() = %v, want %v", i, err, errFetchFailed)
		}
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("state after 3 consecutive failures = %v, want %v", cb.GetState(), StateOpen)
	}

	// An open breaker rejects without invoking the fetch.
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrBridgeOpen) {
		t.Errorf("Execute() on open breaker = %v, want %v", err, ErrBridgeOpen)
	}
	if called {
		t.Error("open breaker still called the fetch")
	}
}

func TestExecute_SuccessResetsConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("bridge", Config{
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 3 },
	})

	_ = cb.Execute(func() error { return errFetchFailed })
	_ = cb.Execute(func() error { return errFetchFailed })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errFetchFailed })
	_ = cb.Execute(func() error { return errFetchFailed })

	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want %v (streak broken by success)", cb.GetState(), StateClosed)
	}
}

func TestHalfOpen_RecoversAfterTimeout(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("bridge", Config{
		MaxRequests: 1,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})

	_ = cb.Execute(func() error { return errFetchFailed })
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want %v", cb.GetState(), StateOpen)
	}

	time.Sleep(30 * time.Millisecond)

	// First probe after the timeout runs half-open; success closes.
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state after successful probe = %v, want %v", cb.GetState(), StateClosed)
	}
}

func TestHalfOpen_FailureReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("bridge", Config{
		MaxRequests: 1,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})

	_ = cb.Execute(func() error { return errFetchFailed })
	time.Sleep(30 * time.Millisecond)

	_ = cb.Execute(func() error { return errFetchFailed })
	if cb.GetState() != StateOpen {
		t.Errorf("state after failed probe = %v, want %v", cb.GetState(), StateOpen)
	}
}

func TestHalfOpen_LimitsConcurrentProbes(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("bridge", Config{
		MaxRequests: 1,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})

	_ = cb.Execute(func() error { return errFetchFailed })
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	err := cb.Execute(func() error { return nil })
	if !errors.Is(err, ErrTooManyProbes) {
		t.Errorf("second concurrent probe = %v, want %v", err, ErrTooManyProbes)
	}

	close(release)
	wg.Wait()
}

func TestExecuteWithContext_PropagatesContext(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("bridge", Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ExecuteWithContext() = %v, want context.Canceled", err)
	}
}

func TestExecuteWithFallback(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("bridge", Config{
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})
	_ = cb.Execute(func() error { return errFetchFailed })

	fallbackRan := false
	err, usedFallback := cb.ExecuteWithFallback(
		func() error { return nil },
		func() error { fallbackRan = true; return nil },
	)
	if err != nil {
		t.Errorf("fallback path returned %v, want nil", err)
	}
	if !usedFallback || !fallbackRan {
		t.Error("open breaker should have routed to the fallback")
	}
}

func TestReset_ClosesAndClearsCounts(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("bridge", Config{
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})
	_ = cb.Execute(func() error { return errFetchFailed })

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("state after Reset = %v, want %v", cb.GetState(), StateClosed)
	}
	if counts := cb.GetCounts(); counts.Requests != 0 {
		t.Errorf("Requests after Reset = %d, want 0", counts.Requests)
	}
}

func TestExecute_ConcurrentCallers(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("bridge", Config{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(func() error { return nil })
		}()
	}
	wg.Wait()

	if counts := cb.GetCounts(); counts.TotalSuccesses != 20 {
		t.Errorf("TotalSuccesses = %d, want 20", counts.TotalSuccesses)
	}
}
