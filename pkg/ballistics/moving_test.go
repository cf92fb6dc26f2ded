package ballistics

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/opd-ai/go-ballistics/pkg/logging"
	"github.com/opd-ai/go-ballistics/pkg/physics"
)

type recordingDiagnostics struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingDiagnostics) Warn(_ context.Context, msg string, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingDiagnostics) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func TestSolveMoving_StationaryTargetMatchesStatic(t *testing.T) {
	s := newTestSolver()
	target := physics.Vector3{X: 50, Y: 30, Z: 20}

	static := s.Solve(target, origin, earthGravity, 400)
	moving := s.SolveMoving(context.Background(), target, physics.Vector3{}, origin, earthGravity, 400, 5, 0.01)
	if moving != static {
		t.Errorf("SolveMoving() = %+v, expected static result %+v", moving, static)
	}
}

func TestSolveMoving_ConvergesOnIntercept(t *testing.T) {
	s := newTestSolver()

	tests := []struct {
		name           string
		target         physics.Vector3
		targetVelocity physics.Vector3
	}{
		{"receding", physics.Vector3{X: 100}, physics.Vector3{X: 10}},
		{"crossing", physics.Vector3{X: 80, Y: -20, Z: 10}, physics.Vector3{Y: 25}},
		{"approaching_and_climbing", physics.Vector3{X: 120, Y: 40}, physics.Vector3{X: -15, Z: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol := s.SolveMoving(context.Background(), tt.target, tt.targetVelocity, origin, earthGravity, 400, 50, 1e-9)
			if !sol.WillHit {
				t.Fatalf("expected a hit, got %+v", sol)
			}
			if sol.Iterations < 1 || sol.Iterations >= 50 {
				t.Errorf("expected convergence before the budget, took %d iterations", sol.Iterations)
			}
			miss := physics.MissDistance(origin, sol.Direction.Scale(400), earthGravity, tt.target, tt.targetVelocity, sol.Time)
			if miss > 1e-6 {
				t.Errorf("projectile misses the moving target by %v", miss)
			}
		})
	}
}

func TestSolveMoving_DefaultBudgetIsCloseEnough(t *testing.T) {
	target := physics.Vector3{X: 100}
	targetVelocity := physics.Vector3{X: 10}

	sol := SolveMoving(target, targetVelocity, origin, earthGravity, 400)
	if !sol.WillHit {
		t.Fatalf("expected a hit, got %+v", sol)
	}
	if sol.Iterations > 5 {
		t.Errorf("default budget is 5 iterations, performed %d", sol.Iterations)
	}
	// Converged to within 0.01s, so the target moves at most 0.1 units.
	miss := physics.MissDistance(origin, sol.Direction.Scale(400), earthGravity, target, targetVelocity, sol.Time)
	if miss > 0.1 {
		t.Errorf("projectile misses the moving target by %v", miss)
	}
}

func TestSolveMoving_RespectsIterationBudget(t *testing.T) {
	s := newTestSolver()
	for _, budget := range []int{1, 2, 3} {
		sol := s.SolveMoving(context.Background(), physics.Vector3{X: 100}, physics.Vector3{X: 10}, origin, earthGravity, 400, budget, 0)
		if sol.Iterations > budget {
			t.Errorf("budget %d: performed %d iterations", budget, sol.Iterations)
		}
	}
}

func TestSolveMoving_InvalidIterationsFallBack(t *testing.T) {
	for _, iterations := range []int{0, -3} {
		diag := &recordingDiagnostics{}
		s := NewSolver(newTestSolver().Config(), diag)

		sol := s.SolveMoving(context.Background(), physics.Vector3{X: 100}, physics.Vector3{X: 10}, origin, earthGravity, 400, iterations, 0)
		if diag.count() != 1 {
			t.Errorf("iterations %d: expected one warning, got %d", iterations, diag.count())
		}
		if sol.Iterations < 1 || sol.Iterations > 10 {
			t.Errorf("iterations %d: expected the fallback budget of 10, performed %d", iterations, sol.Iterations)
		}
	}
}

func TestSolveMoving_WarningReachesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLoggerWithWriter(&buf, slog.LevelWarn)
	s := NewSolver(newTestSolver().Config(), logger)

	ctx := logging.WithCorrelationID(context.Background(), "turret-7")
	s.SolveMoving(ctx, physics.Vector3{X: 100}, physics.Vector3{X: 10}, origin, earthGravity, 400, 0, 0.01)

	out := buf.String()
	if !strings.Contains(out, "iteration budget must be positive") {
		t.Errorf("expected the warning in the log, got %q", out)
	}
	if !strings.Contains(out, "turret-7") {
		t.Errorf("expected the correlation ID in the log, got %q", out)
	}
}

func TestSolveMoving_StopsOnInfiniteTime(t *testing.T) {
	s := newTestSolver()

	sol := s.SolveMoving(context.Background(), physics.Vector3{X: 100}, physics.Vector3{X: 10}, origin, earthGravity, 0, 5, 0.01)
	if sol.WillHit {
		t.Error("expected a miss with zero speed")
	}
	if sol.HasFiniteTime() {
		t.Errorf("expected InfiniteTime, got %v", sol.Time)
	}
	if sol.Iterations != 1 {
		t.Errorf("expected to stop after the first solve, performed %d", sol.Iterations)
	}
}

func TestSolveMoving_UnreachableTarget(t *testing.T) {
	s := newTestSolver()

	sol := s.SolveMoving(context.Background(), physics.Vector3{X: 1000}, physics.Vector3{X: 50}, origin, earthGravity, 50, 5, 0.01)
	if sol.WillHit {
		t.Errorf("expected a miss, got %+v", sol)
	}
	if sol.Iterations > 5 {
		t.Errorf("performed %d iterations with a budget of 5", sol.Iterations)
	}
}

func BenchmarkSolveMoving(b *testing.B) {
	s := newTestSolver()
	ctx := context.Background()
	target := physics.Vector3{X: 80, Y: -20, Z: 10}
	targetVelocity := physics.Vector3{Y: 25}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.SolveMoving(ctx, target, targetVelocity, origin, earthGravity, 400, 5, 0.01)
	}
}
