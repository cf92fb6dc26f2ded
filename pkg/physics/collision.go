// pkg/physics/collision.go
package physics

// Sphere represents a spherical hit volume
type Sphere struct {
	Center Vector3
	Radius float64
}

// Contains reports whether point lies inside the sphere
func (s Sphere) Contains(point Vector3) bool {
	return s.Center.Distance(point) <= s.Radius
}

// Collides checks if two spheres overlap
func (s Sphere) Collides(other Sphere) bool {
	return s.Center.Distance(other.Center) < s.Radius+other.Radius
}

// SweepResult describes the first contact found by SweepProjectile
type SweepResult struct {
	Hit          bool
	Time         float64
	ContactPoint Vector3
	// ClosestDistance is the smallest sampled separation from the target
	// surface, zero on a hit.
	ClosestDistance float64
}

// SweepProjectile steps a projectile and a linearly moving target forward in
// fixed increments of deltaTime up to maxTime and reports the first sample at
// which the projectile is inside the target volume.
func SweepProjectile(origin, launchVelocity, gravity Vector3, target Sphere, targetVelocity Vector3, maxTime, deltaTime float64) SweepResult {
	result := SweepResult{ClosestDistance: -1}
	if deltaTime <= 0 || maxTime < 0 {
		return result
	}

	state := BallisticState{Position: origin, Velocity: launchVelocity}
	for {
		center := LinearPositionAt(target.Center, targetVelocity, state.Elapsed)
		gap := state.Position.Distance(center) - target.Radius
		if gap <= 0 {
			return SweepResult{Hit: true, Time: state.Elapsed, ContactPoint: state.Position}
		}
		if result.ClosestDistance < 0 || gap < result.ClosestDistance {
			result.ClosestDistance = gap
		}
		if state.Elapsed >= maxTime {
			return result
		}
		UpdateBallistic(&state, gravity, deltaTime)
	}
}
