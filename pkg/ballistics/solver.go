package ballistics

import (
	"context"
	"math"

	"github.com/opd-ai/go-ballistics/pkg/config"
	"github.com/opd-ai/go-ballistics/pkg/logging"
	"github.com/opd-ai/go-ballistics/pkg/physics"
)

// Solver holds the tolerances and iteration controls used by Solve and
// SolveMoving. A Solver has no mutable state and is safe for concurrent use.
type Solver struct {
	cfg  config.SolverConfig
	diag Diagnostics
}

// NewSolver creates a Solver. diag may be nil, in which case warnings are
// dropped.
func NewSolver(cfg config.SolverConfig, diag Diagnostics) *Solver {
	if diag == nil {
		diag = discardDiagnostics{}
	}
	return &Solver{cfg: cfg, diag: diag}
}

// Config returns the solver settings
func (s *Solver) Config() config.SolverConfig {
	return s.cfg
}

var defaultSolver = NewSolver(config.DefaultSolverConfig(), logging.NewLogger())

// Solve aims at a static target using the default solver settings.
func Solve(target, origin, gravity physics.Vector3, speed float64) Solution {
	return defaultSolver.Solve(target, origin, gravity, speed)
}

// SolveMoving aims at a target moving at constant velocity using the default
// solver settings: 5 iterations and a 0.01 convergence epsilon.
func SolveMoving(target, targetVelocity, origin, gravity physics.Vector3, speed float64) Solution {
	cfg := defaultSolver.cfg
	return defaultSolver.SolveMoving(context.Background(), target, targetVelocity, origin, gravity, speed, cfg.Iterations, cfg.EpsilonTime)
}

// aim builds a Solution whose velocity is direction scaled by speed.
func aim(direction physics.Vector3, speed float64, willHit bool, time float64, intercept physics.Vector3) Solution {
	return Solution{
		Direction: direction,
		Velocity:  direction.Scale(speed),
		WillHit:   willHit,
		Time:      time,
		Intercept: intercept,
	}
}

// Solve computes the launch direction that takes a projectile fired from
// origin at the given speed through target under constant gravity.
//
// A negative speed is treated as its absolute value. When the target cannot
// be reached the returned direction is the closest effort: the flattest
// trajectory the speed allows, or straight against gravity when even that
// degenerates.
func (s *Solver) Solve(target, origin, gravity physics.Vector3, speed float64) Solution {
	if speed < 0 {
		speed = -speed
	}

	rel := target.Sub(origin)
	switch {
	case rel.IsNearlyZero(s.cfg.VectorTolerance):
		return aim(physics.Forward, speed, true, 0, target)
	case physics.NearlyZero(speed, s.cfg.ScalarTolerance):
		return aim(physics.Forward, speed, false, InfiniteTime, target)
	case gravity.IsNearlyZero(s.cfg.VectorTolerance):
		direction, distance := rel.ToDirectionAndLength()
		return aim(direction, speed, true, distance/speed, target)
	}

	gravityAxis, g := gravity.ToDirectionAndLength()

	// Component of rel perpendicular to gravity, inside the plane spanned by
	// gravity and rel.
	frontAxis, ok := gravity.Cross(rel.Cross(gravity)).SafeNormalize(s.cfg.NormalizeTolerance)
	if !ok {
		factor, willHit, time := solveAxis(gravityAxis.Dot(rel), g, speed)
		return aim(gravityAxis.Scale(factor), speed, willHit, time, target)
	}

	x := frontAxis.Dot(rel)
	y := gravityAxis.Dot(rel)
	distance := rel.Length()

	speed2 := speed * speed
	deltaA := -x*x*g*g + 2*y*g*speed2 + speed2*speed2

	// Clamping keeps an aim direction available for out-of-range targets.
	sqrtDeltaA := 0.0
	if deltaA >= 0 {
		sqrtDeltaA = math.Sqrt(deltaA)
	}
	deltaB := y*g + speed2 + sqrtDeltaA

	velX, velY := 0.0, -speed
	if deltaB > 0 {
		velX = math.Sqrt(deltaB) * x / distance / math.Sqrt2
		velY = y*velX/x - 0.5*x*g/velX
	}

	time := InfiniteTime
	if velX > 0 {
		time = x / velX
	}

	velocity := gravityAxis.Scale(velY).Add(frontAxis.Scale(velX))
	return Solution{
		Direction: velocity.Normalize(),
		Velocity:  velocity,
		WillHit:   deltaA >= 0 && deltaB >= 0,
		Time:      time,
		Intercept: target,
	}
}

// SolveMoving computes a launch direction against a target at position
// target moving with targetVelocity, by repeatedly solving the static
// problem against the target's predicted position at the current estimate
// of the flight time.
//
// Each iteration moves the estimate Damping of the way toward the most
// recently solved time. Iteration stops when the solved time is within
// epsilonTime of the estimate, when the target becomes unreachable, or after
// iterations solves. A non-positive budget is reported to the Diagnostics
// collaborator and replaced by InvalidIterationsFallback. ctx is only used to
// correlate that warning.
func (s *Solver) SolveMoving(ctx context.Context, target, targetVelocity, origin, gravity physics.Vector3, speed float64, iterations int, epsilonTime float64) Solution {
	if targetVelocity.IsNearlyZero(s.cfg.VectorTolerance) {
		return s.Solve(target, origin, gravity, speed)
	}

	if iterations <= 0 {
		s.diag.Warn(ctx, "iteration budget must be positive, using fallback",
			"requested", iterations,
			"fallback", s.cfg.InvalidIterationsFallback,
		)
		iterations = s.cfg.InvalidIterationsFallback
	}

	var solution Solution
	estimate, solved := 0.0, 0.0
	for i := 0; i < iterations; i++ {
		estimate = physics.Lerp(estimate, solved, s.cfg.Damping)
		predicted := physics.LinearPositionAt(target, targetVelocity, estimate)

		solution = s.Solve(predicted, origin, gravity, speed)
		solution.Iterations = i + 1
		solved = solution.Time

		if !solution.HasFiniteTime() {
			solution.WillHit = false
			break
		}
		if physics.NearlyEqual(solved, estimate, epsilonTime) {
			break
		}
	}

	return solution
}
