package fleet

import "math"

type Vec3 struct{ X, Y, Z float64 }

func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Dot(b Vec3) float64   { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Len() float64         { return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z) }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dist(b Vec3) float64  { return a.Sub(b).Len() }

// Unit returns the normalized vector, or the zero vector when a has no length.
func (a Vec3) Unit() Vec3 {
	l := a.Len()
	if l < 1e-9 {
		return Vec3{}
	}
	return a.Scale(1 / l)
}

// ClampLen limits the vector magnitude to max.
func (a Vec3) ClampLen(max float64) Vec3 {
	l := a.Len()
	if l <= max || l < 1e-9 {
		return a
	}
	return a.Scale(max / l)
}

func Lerp(a, b Vec3, t float64) Vec3 {
	return Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// RotateYaw rotates v around the Z axis by yaw radians.
func RotateYaw(v Vec3, yaw float64) Vec3 {
	s, c := math.Sincos(yaw)
	return Vec3{X: v.X*c - v.Y*s, Y: v.X*s + v.Y*c, Z: v.Z}
}

// Heading returns the unit vector the given yaw points along.
func Heading(yaw float64) Vec3 {
	s, c := math.Sincos(yaw)
	return Vec3{X: c, Y: s}
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WrapAngle maps an angle into (-pi, pi].
func WrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Ratio returns num/den, or fallback when den is not positive.
func Ratio(num, den, fallback float64) float64 {
	if !(den > 0) {
		return fallback
	}
	return num / den
}

// TurnToward rotates yaw toward target by at most maxStep radians along the
// shorter arc.
func TurnToward(yaw, target, maxStep float64) float64 {
	if maxStep < 0 {
		maxStep = 0
	}
	return WrapAngle(yaw + Clamp(WrapAngle(target-yaw), -maxStep, maxStep))
}
