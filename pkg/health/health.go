// Package health reports whether the aim service can answer solve requests.
// A Checker runs named checks concurrently under one deadline and serves the
// aggregated report on /ready, with a plain liveness answer on /health.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opd-ai/go-ballistics/pkg/ballistics"
	"github.com/opd-ai/go-ballistics/pkg/physics"
)

// Status is the outcome of a check or of a whole report
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTimeout bounds a run when NewChecker is given a non-positive timeout
const DefaultTimeout = 5 * time.Second

// Check tests one dependency of the aim service.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

type funcCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcCheck) Name() string                    { return c.name }
func (c funcCheck) Check(ctx context.Context) error { return c.fn(ctx) }

// NewCheck turns fn into a Check called name.
func NewCheck(name string, fn func(ctx context.Context) error) Check {
	return funcCheck{name: name, fn: fn}
}

// Result is the outcome of a single check
type Result struct {
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

// Report is the outcome of one run. Status is unhealthy when any check failed.
type Report struct {
	Status    Status            `json:"status"`
	CheckedAt time.Time         `json:"checkedAt"`
	Checks    map[string]Result `json:"checks"`
}

// Checker holds the registered checks
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
}

// NewChecker creates a Checker whose runs are bounded by timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		checks:  make(map[string]Check),
		timeout: timeout,
	}
}

// Register adds checks, replacing any registered under the same name.
func (c *Checker) Register(checks ...Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, check := range checks {
		c.checks[check.Name()] = check
	}
}

// Unregister removes the check called name
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Run executes every check concurrently. All checks share one deadline of
// the checker's timeout; a check that honours ctx fails when it expires.
func (c *Checker) Run(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.RLock()
	checks := make([]Check, 0, len(c.checks))
	for _, check := range c.checks {
		checks = append(checks, check)
	}
	c.mu.RUnlock()

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, check)
		}()
	}
	wg.Wait()

	report := Report{
		Status:    StatusHealthy,
		CheckedAt: time.Now().UTC(),
		Checks:    make(map[string]Result, len(checks)),
	}
	for i, check := range checks {
		if results[i].Status != StatusHealthy {
			report.Status = StatusUnhealthy
		}
		report.Checks[check.Name()] = results[i]
	}
	return report
}

func runCheck(ctx context.Context, check Check) Result {
	start := time.Now()
	err := check.Check(ctx)
	result := Result{Status: StatusHealthy, Elapsed: time.Since(start).String()}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

// Handler serves GET /health, which always answers 200 while the process
// runs, and GET /ready, which answers 200 or 503 with the Report.
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		code := http.StatusOK
		if report.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// Reference shot used by SolverCheck
var (
	referenceTarget  = physics.Vector3{X: 100, Y: 20, Z: 10}
	referenceGravity = physics.Vector3{Z: -9.81}
)

const (
	referenceSpeed = 50.0
	// relative to the distance to referenceTarget
	referenceTolerance = 1e-6
)

// SolverCheck solves a reference shot with solver and flies the returned
// direction. It fails unless the shot is reported reachable and lands on the
// target.
func SolverCheck(solver *ballistics.Solver) Check {
	return NewCheck("solver", func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		sol := solver.Solve(referenceTarget, physics.Vector3{}, referenceGravity, referenceSpeed)
		if !sol.WillHit || !sol.HasFiniteTime() {
			return errors.New("reference shot reported unreachable")
		}

		landed := physics.PositionAt(physics.Vector3{}, sol.Direction.Scale(referenceSpeed), referenceGravity, sol.Time)
		if miss := landed.Distance(referenceTarget); miss > referenceTolerance*referenceTarget.Length() {
			return fmt.Errorf("reference shot missed by %g", miss)
		}
		return nil
	})
}

// ListenerCheck dials the address returned by addr, typically
// AimServer.ListenerAddress. An empty address means the server is not
// listening.
func ListenerCheck(addr func() string) Check {
	return NewCheck("listener", func(ctx context.Context) error {
		address := addr()
		if address == "" {
			return errors.New("aim server is not listening")
		}

		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("dial %s: %w", address, err)
		}
		return conn.Close()
	})
}

// BreakerCheck fails while the circuit breaker reported by state is open.
func BreakerCheck(name string, state func() gobreaker.State) Check {
	return NewCheck(name, func(context.Context) error {
		if s := state(); s == gobreaker.StateOpen {
			return fmt.Errorf("circuit breaker is %s", s)
		}
		return nil
	})
}

// MemoryCheck fails when usage exceeds limitMB. A nil usage reads the Go
// heap through HeapMB.
func MemoryCheck(limitMB int64, usage func() int64) Check {
	if usage == nil {
		usage = HeapMB
	}
	return NewCheck("memory", func(context.Context) error {
		if used := usage(); used > limitMB {
			return fmt.Errorf("heap %dMB exceeds limit %dMB", used, limitMB)
		}
		return nil
	})
}

// HeapMB returns the allocated heap in megabytes
func HeapMB() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.Alloc >> 20)
}
