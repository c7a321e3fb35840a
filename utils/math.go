package utils

import "math"

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// WrapAngle normalizes an angle in radians to [-π, π).
func WrapAngle(rad float64) float64 {
	wrapped := rad - 2*math.Pi*math.Floor((rad+math.Pi)/(2*math.Pi))
	// floating point can land exactly on the open end
	if wrapped >= math.Pi {
		wrapped -= 2 * math.Pi
	}
	return wrapped
}

// AngleDiff returns the shortest signed angle that rotates from `from` to `to`, in [-π, π).
func AngleDiff(to, from float64) float64 {
	return WrapAngle(to - from)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ClampMagnitude limits v to [-limit, limit]. A non-positive limit disables clamping.
func ClampMagnitude(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	return Clamp(v, -limit, limit)
}
