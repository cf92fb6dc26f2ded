package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opd-ai/go-ballistics/pkg/config"
	"github.com/opd-ai/go-ballistics/pkg/logging"
)

func breakerConfig(maxRequests, maxFails int, timeout time.Duration) config.ServiceConfig {
	cfg := config.DefaultConfig().Service
	cfg.CircuitBreakerMaxRequests = maxRequests
	cfg.CircuitBreakerInterval = config.Duration(60 * time.Second)
	cfg.CircuitBreakerTimeout = config.Duration(timeout)
	cfg.CircuitBreakerMaxConsecutiveFails = maxFails
	return cfg
}

// TestNetworkService_Execute tests basic circuit breaker execution
func TestNetworkService_Execute(t *testing.T) {
	ns := NewNetworkService(breakerConfig(3, 5, 30*time.Second), logging.NewDiscardLogger())
	ctx := context.Background()

	t.Run("successful operation", func(t *testing.T) {
		err := ns.Execute(ctx, func() error {
			return nil
		})
		if err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}

		if ns.GetState() != gobreaker.StateClosed {
			t.Errorf("Expected circuit breaker to be closed, got %v", ns.GetState())
		}
	})

	t.Run("failed operation", func(t *testing.T) {
		testError := errors.New("test error")
		err := ns.Execute(ctx, func() error {
			return testError
		})

		if !errors.Is(err, testError) {
			t.Errorf("Expected wrapped test error, got %v", err)
		}

		if ns.GetState() != gobreaker.StateClosed {
			t.Errorf("Expected circuit breaker to be closed after one failure, got %v", ns.GetState())
		}
	})
}

// TestNetworkService_CircuitBreakerTrip tests that the circuit breaker trips after consecutive failures
func TestNetworkService_CircuitBreakerTrip(t *testing.T) {
	ns := NewNetworkService(breakerConfig(3, 3, time.Second), logging.NewDiscardLogger())
	ctx := context.Background()
	testError := errors.New("test failure")

	for i := 0; i < 3; i++ {
		if err := ns.Execute(ctx, func() error { return testError }); err == nil {
			t.Errorf("Expected error on attempt %d, got nil", i+1)
		}
	}

	if ns.GetState() != gobreaker.StateOpen {
		t.Errorf("Expected circuit breaker to be open after failures, got %v", ns.GetState())
	}

	err := ns.Execute(ctx, func() error {
		t.Error("Operation should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected ErrOpenState, got %v", err)
	}
}

// TestNetworkService_RemoteErrorsDoNotTrip checks that server-side
// rejections are not treated as outages.
func TestNetworkService_RemoteErrorsDoNotTrip(t *testing.T) {
	ns := NewNetworkService(breakerConfig(1, 2, time.Minute), logging.NewDiscardLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := ns.Execute(ctx, func() error {
			return &RemoteError{Code: CodeInvalidRequest, Message: "speed must be finite"}
		})
		var remote *RemoteError
		if !errors.As(err, &remote) {
			t.Fatalf("Expected RemoteError, got %v", err)
		}
	}

	if ns.GetState() != gobreaker.StateClosed {
		t.Errorf("Expected circuit breaker to stay closed, got %v", ns.GetState())
	}
}

// TestNetworkService_CircuitBreakerRecovery tests circuit breaker recovery
func TestNetworkService_CircuitBreakerRecovery(t *testing.T) {
	ns := NewNetworkService(breakerConfig(2, 2, 100*time.Millisecond), logging.NewDiscardLogger())
	ctx := context.Background()
	testError := errors.New("test failure")

	for i := 0; i < 2; i++ {
		ns.Execute(ctx, func() error { return testError })
	}

	if ns.GetState() != gobreaker.StateOpen {
		t.Errorf("Expected circuit breaker to be open, got %v", ns.GetState())
	}

	time.Sleep(150 * time.Millisecond)

	if err := ns.Execute(ctx, func() error { return nil }); err != nil {
		t.Errorf("Expected successful operation, got error: %v", err)
	}

	// One success is not enough to close with MaxRequests 2.
	state := ns.GetState()
	if state != gobreaker.StateClosed && state != gobreaker.StateHalfOpen {
		t.Errorf("Expected circuit breaker to be closed or half-open after recovery, got %v", state)
	}
}

// TestNetworkService_ExecuteWithRetry tests retry logic with linear backoff
func TestNetworkService_ExecuteWithRetry(t *testing.T) {
	ns := NewNetworkService(breakerConfig(3, 10, 30*time.Second), logging.NewDiscardLogger())
	ns.SetRetryPolicy(3, 10*time.Millisecond)
	ctx := context.Background()

	t.Run("eventual success", func(t *testing.T) {
		attempt := 0
		err := ns.ExecuteWithRetry(ctx, func() error {
			attempt++
			if attempt < 3 {
				return errors.New("temporary failure")
			}
			return nil
		})
		if err != nil {
			t.Errorf("Expected eventual success, got error: %v", err)
		}
		if attempt != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempt)
		}
	})

	t.Run("all retries fail", func(t *testing.T) {
		attempt := 0
		err := ns.ExecuteWithRetry(ctx, func() error {
			attempt++
			return errors.New("persistent failure")
		})
		if err == nil {
			t.Error("Expected error after all retries fail, got nil")
		}
		if attempt != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempt)
		}
	})

	t.Run("remote rejection is not retried", func(t *testing.T) {
		attempt := 0
		err := ns.ExecuteWithRetry(ctx, func() error {
			attempt++
			return &RemoteError{Code: CodeRateLimited, Message: "slow down"}
		})
		if err == nil {
			t.Error("Expected error, got nil")
		}
		if attempt != 1 {
			t.Errorf("Expected a single attempt, got %d", attempt)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		slow := NewNetworkService(breakerConfig(3, 10, 30*time.Second), logging.NewDiscardLogger())
		ctx, cancel := context.WithCancel(context.Background())

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		err := slow.ExecuteWithRetry(ctx, func() error {
			return errors.New("failure")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected cancellation error, got %v", err)
		}
	})
}

// TestNetworkService_GetState tests state inspection methods
func TestNetworkService_GetState(t *testing.T) {
	ns := NewNetworkService(breakerConfig(3, 5, 30*time.Second), nil)

	if ns.GetState() != gobreaker.StateClosed {
		t.Errorf("Expected initial state to be closed, got %v", ns.GetState())
	}

	counts := ns.GetCounts()
	if counts.Requests != 0 || counts.TotalSuccesses != 0 || counts.TotalFailures != 0 {
		t.Errorf("Expected empty counts initially, got %+v", counts)
	}
}
