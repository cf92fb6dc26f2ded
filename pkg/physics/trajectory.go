package physics

// BallisticState tracks a point mass under constant gravity
type BallisticState struct {
	Position Vector3
	Velocity Vector3
	Elapsed  float64
}

// UpdateBallistic advances state by deltaTime under constant gravity.
// Position is advanced with the exact constant-acceleration step, so repeated
// calls agree with PositionAt regardless of step size.
func UpdateBallistic(state *BallisticState, gravity Vector3, deltaTime float64) {
	state.Position = state.Position.
		Add(state.Velocity.Scale(deltaTime)).
		Add(gravity.Scale(0.5 * deltaTime * deltaTime))
	state.Velocity = state.Velocity.Add(gravity.Scale(deltaTime))
	state.Elapsed += deltaTime
}

// PositionAt returns origin + velocity*t + gravity*t²/2
func PositionAt(origin, velocity, gravity Vector3, t float64) Vector3 {
	return origin.Add(velocity.Scale(t)).Add(gravity.Scale(0.5 * t * t))
}

// VelocityAt returns velocity + gravity*t
func VelocityAt(velocity, gravity Vector3, t float64) Vector3 {
	return velocity.Add(gravity.Scale(t))
}

// LinearPositionAt returns where a point moving at constant velocity is after t.
func LinearPositionAt(position, velocity Vector3, t float64) Vector3 {
	return position.Add(velocity.Scale(t))
}

// MissDistance is the distance between a projectile launched from origin with
// launchVelocity and a target moving at targetVelocity, both evaluated at t.
func MissDistance(origin, launchVelocity, gravity, target, targetVelocity Vector3, t float64) float64 {
	projectile := PositionAt(origin, launchVelocity, gravity, t)
	return projectile.Distance(LinearPositionAt(target, targetVelocity, t))
}
