// pkg/physics/vector.go
package physics

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Vector3 represents a 3D vector with x, y and z components
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Forward is the canonical direction returned when no meaningful aim exists
var Forward = Vector3{X: 1}

// vec converts to the mgl64 representation used for arithmetic
func (v Vector3) vec() mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

func fromVec(m mgl64.Vec3) Vector3 {
	return Vector3{X: m.X(), Y: m.Y(), Z: m.Z()}
}

// Add returns the sum of two vectors
func (v Vector3) Add(other Vector3) Vector3 {
	return fromVec(v.vec().Add(other.vec()))
}

// Sub returns the difference between two vectors
func (v Vector3) Sub(other Vector3) Vector3 {
	return fromVec(v.vec().Sub(other.vec()))
}

// Scale multiplies the vector by a scalar value
func (v Vector3) Scale(factor float64) Vector3 {
	return fromVec(v.vec().Mul(factor))
}

// Dot returns the dot product of two vectors
func (v Vector3) Dot(other Vector3) float64 {
	return v.vec().Dot(other.vec())
}

// Cross returns the cross product v x other
func (v Vector3) Cross(other Vector3) Vector3 {
	return fromVec(v.vec().Cross(other.vec()))
}

// Length returns the magnitude of the vector
func (v Vector3) Length() float64 {
	return v.vec().Len()
}

// LengthSquared returns magnitude squared (optimization for comparisons)
func (v Vector3) LengthSquared() float64 {
	return v.vec().LenSqr()
}

// Distance returns the distance between two points
func (v Vector3) Distance(other Vector3) float64 {
	return v.Sub(other).Length()
}

// Normalize returns a unit vector in the same direction, or the zero vector
// when v has no length.
func (v Vector3) Normalize() Vector3 {
	if v.LengthSquared() == 0 {
		return Vector3{}
	}
	return fromVec(v.vec().Normalize())
}

// SafeNormalize normalizes v unless its squared length is at or below
// tolerance, in which case v is returned unchanged together with false.
func (v Vector3) SafeNormalize(tolerance float64) (Vector3, bool) {
	if v.LengthSquared() <= tolerance {
		return v, false
	}
	return fromVec(v.vec().Normalize()), true
}

// ToDirectionAndLength splits v into a unit direction and its magnitude.
// A zero vector yields a zero direction.
func (v Vector3) ToDirectionAndLength() (Vector3, float64) {
	length := v.Length()
	if length == 0 {
		return Vector3{}, 0
	}
	return v.Scale(1 / length), length
}

// IsNearlyZero reports whether every component lies within tolerance of zero.
func (v Vector3) IsNearlyZero(tolerance float64) bool {
	return NearlyZero(v.X, tolerance) && NearlyZero(v.Y, tolerance) && NearlyZero(v.Z, tolerance)
}

// Lerp linearly interpolates alpha of the way from v to other.
func (v Vector3) Lerp(other Vector3, alpha float64) Vector3 {
	return v.Add(other.Sub(v).Scale(alpha))
}

// String formats the vector as "x,y,z", the same form ParseVector3 accepts.
func (v Vector3) String() string {
	return strconv.FormatFloat(v.X, 'g', -1, 64) + "," +
		strconv.FormatFloat(v.Y, 'g', -1, 64) + "," +
		strconv.FormatFloat(v.Z, 'g', -1, 64)
}

// ParseVector3 parses a vector written as "x,y,z". Whitespace around each
// component is ignored.
func ParseVector3(s string) (Vector3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Vector3{}, fmt.Errorf("vector %q: expected 3 comma-separated components, got %d", s, len(parts))
	}

	var c [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Vector3{}, fmt.Errorf("vector %q: component %d: %w", s, i, err)
		}
		c[i] = f
	}
	return Vector3{X: c[0], Y: c[1], Z: c[2]}, nil
}

// Set implements flag.Value so vectors can be passed on the command line.
func (v *Vector3) Set(s string) error {
	parsed, err := ParseVector3(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// NearlyZero reports whether |x| <= tolerance
func NearlyZero(x, tolerance float64) bool {
	return mgl64.Abs(x) <= tolerance
}

// NearlyEqual reports whether |a-b| <= tolerance
func NearlyEqual(a, b, tolerance float64) bool {
	return mgl64.Abs(a-b) <= tolerance
}

// Lerp returns a + alpha*(b-a)
func Lerp(a, b, alpha float64) float64 {
	return a + alpha*(b-a)
}
