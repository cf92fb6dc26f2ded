// Package ballistics computes launch directions for projectiles fired at a
// fixed speed under constant gravity, against static targets and targets
// moving at constant velocity.
//
// The solvers never fail. Unreachable targets are reported through
// Solution.WillHit and an InfiniteTime flight time, and a best-effort aim
// direction is always returned so callers have something to point at.
package ballistics

import (
	"context"
	"math"

	"github.com/opd-ai/go-ballistics/pkg/physics"
)

// InfiniteTime is the flight time reported when no finite time exists.
const InfiniteTime = math.MaxFloat64

// Solution is the result of a targeting calculation
type Solution struct {
	// Direction is the unit launch direction, or physics.Forward when the
	// target coincides with the origin or the speed is zero.
	Direction physics.Vector3 `json:"direction"`
	// Velocity is the launch velocity. In the general case it is the raw
	// in-plane solution whose magnitude equals the speed up to rounding.
	Velocity physics.Vector3 `json:"velocity"`
	WillHit  bool            `json:"willHit"`
	// Time is the time of flight, or InfiniteTime.
	Time float64 `json:"time"`
	// Intercept is the point the solution aims at. For moving targets this
	// is the predicted target position of the last iteration.
	Intercept physics.Vector3 `json:"intercept"`
	// Iterations is the number of static solves the moving-target solver
	// performed; zero for static solves.
	Iterations int `json:"iterations,omitempty"`
}

// HasFiniteTime reports whether Time is an actual flight time.
func (s Solution) HasFiniteTime() bool {
	return s.Time != InfiniteTime
}

// Diagnostics receives non-fatal warnings about corrected inputs.
// *logging.Logger satisfies it.
type Diagnostics interface {
	Warn(ctx context.Context, msg string, args ...any)
}

type discardDiagnostics struct{}

func (discardDiagnostics) Warn(context.Context, string, ...any) {}
