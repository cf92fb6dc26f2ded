package ballistics

import "math"

// solveAxis handles targets collinear with gravity. target is the signed
// offset along the gravity axis (positive means "downhill"), gravity is the
// strictly positive gravity magnitude and speed is non-negative.
//
// It returns +1 when the projectile must be launched along gravity and -1
// when it must be launched against it, together with the hit flag and time
// of flight.
func solveAxis(target, gravity, speed float64) (factor float64, willHit bool, time float64) {
	if target >= 0 {
		return 1, true, (-speed + math.Sqrt(speed*speed+2*gravity*target)) / gravity
	}

	delta := speed*speed + 2*gravity*target
	if delta < 0 {
		return -1, false, InfiniteTime
	}

	sqrtDelta := math.Sqrt(delta)
	if speed-sqrtDelta >= 0 {
		return -1, true, (speed - sqrtDelta) / gravity
	}
	return -1, true, (speed + sqrtDelta) / gravity
}
