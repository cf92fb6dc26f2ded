package health

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opd-ai/go-ballistics/pkg/ballistics"
	"github.com/opd-ai/go-ballistics/pkg/config"
)

func passing(name string) Check {
	return NewCheck(name, func(context.Context) error { return nil })
}

func TestChecker_Run(t *testing.T) {
	notListening := errors.New("aim server is not listening")

	tests := []struct {
		name   string
		checks []Check
		want   Status
		failed map[string]string
	}{
		{"no checks", nil, StatusHealthy, nil},
		{"all pass", []Check{passing("solver"), passing("listener")}, StatusHealthy, nil},
		{
			name: "listener down",
			checks: []Check{
				passing("solver"),
				NewCheck("listener", func(context.Context) error { return notListening }),
			},
			want:   StatusUnhealthy,
			failed: map[string]string{"listener": notListening.Error()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker(time.Second)
			checker.Register(tt.checks...)

			report := checker.Run(context.Background())
			if report.Status != tt.want {
				t.Errorf("Status = %s, expected %s", report.Status, tt.want)
			}
			if len(report.Checks) != len(tt.checks) {
				t.Fatalf("expected %d results, got %d", len(tt.checks), len(report.Checks))
			}
			for name, result := range report.Checks {
				msg, shouldFail := tt.failed[name]
				switch {
				case shouldFail && (result.Status != StatusUnhealthy || result.Error != msg):
					t.Errorf("%s: expected failure %q, got %+v", name, msg, result)
				case !shouldFail && result.Status != StatusHealthy:
					t.Errorf("%s: expected healthy, got %+v", name, result)
				}
				if result.Elapsed == "" {
					t.Errorf("%s: elapsed time not recorded", name)
				}
			}
		})
	}
}

func TestChecker_RunDeadline(t *testing.T) {
	checker := NewChecker(20 * time.Millisecond)
	checker.Register(
		NewCheck("stalled", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		passing("solver"),
	)

	start := time.Now()
	report := checker.Run(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("run took %v, expected the deadline to cut it short", elapsed)
	}
	if report.Status != StatusUnhealthy {
		t.Errorf("Status = %s, expected unhealthy", report.Status)
	}
	if got := report.Checks["stalled"].Error; !strings.Contains(got, "deadline exceeded") {
		t.Errorf("stalled check error = %q", got)
	}
	if report.Checks["solver"].Status != StatusHealthy {
		t.Error("a fast check should not be failed by a slow one")
	}
}

func TestChecker_RegisterReplacesByName(t *testing.T) {
	checker := NewChecker(0)
	if checker.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, expected %v", checker.timeout, DefaultTimeout)
	}

	checker.Register(NewCheck("listener", func(context.Context) error { return errors.New("down") }))
	checker.Register(passing("listener"))
	if report := checker.Run(context.Background()); report.Status != StatusHealthy {
		t.Errorf("expected the replacement check to run, got %+v", report)
	}

	checker.Unregister("listener")
	if report := checker.Run(context.Background()); len(report.Checks) != 0 {
		t.Errorf("expected no checks after Unregister, got %+v", report.Checks)
	}
}

func TestSolverCheck(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	// A vector tolerance above |g| makes the solver treat gravity as zero
	// and fire in a straight line, so the flown shot drops below the target.
	broken := config.DefaultSolverConfig()
	broken.VectorTolerance = 50

	tests := []struct {
		name    string
		cfg     config.SolverConfig
		ctx     context.Context
		wantErr string
	}{
		{"default solver", config.DefaultSolverConfig(), context.Background(), ""},
		{"cancelled", config.DefaultSolverConfig(), cancelled, "canceled"},
		{"gravity ignored", broken, context.Background(), "missed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := SolverCheck(ballistics.NewSolver(tt.cfg, nil))
			if check.Name() != "solver" {
				t.Errorf("Name() = %q", check.Name())
			}

			err := check.Check(tt.ctx)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected a landing shot, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestListenerCheck(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	open := l.Addr().String()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	defer l.Close()

	closedListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	closed := closedListener.Addr().String()
	closedListener.Close()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"accepting", open, false},
		{"not started", "", true},
		{"nothing listening", closed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			err := ListenerCheck(func() string { return tt.addr }).Check(ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBreakerCheck(t *testing.T) {
	for _, state := range []gobreaker.State{gobreaker.StateClosed, gobreaker.StateHalfOpen, gobreaker.StateOpen} {
		t.Run(state.String(), func(t *testing.T) {
			check := BreakerCheck("aim_service", func() gobreaker.State { return state })
			if check.Name() != "aim_service" {
				t.Errorf("Name() = %q", check.Name())
			}
			err := check.Check(context.Background())
			if (err != nil) != (state == gobreaker.StateOpen) {
				t.Errorf("state %s: Check() error = %v", state, err)
			}
		})
	}
}

func TestMemoryCheck(t *testing.T) {
	tests := []struct {
		name    string
		limitMB int64
		usedMB  int64
		wantErr bool
	}{
		{"under limit", 512, 64, false},
		{"at limit", 512, 512, false},
		{"over limit", 512, 600, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MemoryCheck(tt.limitMB, func() int64 { return tt.usedMB }).Check(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := MemoryCheck(1<<20, nil).Check(context.Background()); err != nil {
		t.Errorf("expected the live heap to fit in 1TB, got %v", err)
	}
	if err := MemoryCheck(-1, nil).Check(context.Background()); err == nil {
		t.Error("expected a negative limit to fail against the live heap")
	}
}
