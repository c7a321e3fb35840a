// Package spatialmath defines planar poses and twists used to describe where a robot is on the field
// and how it moved between two control cycles.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"

	"go.viam.com/swerve/utils"
)

// smallAngle is the rotation below which the series expansions of Exp and Log are used.
const smallAngle = 1e-9

// Pose2D is a position in meters plus a heading in radians, wrapped to [-π, π).
type Pose2D struct {
	X     float64
	Y     float64
	Theta float64
}

// NewPose2D returns a pose at the given translation and heading.
func NewPose2D(translation r2.Point, theta float64) Pose2D {
	return Pose2D{X: translation.X, Y: translation.Y, Theta: utils.WrapAngle(theta)}
}

// NewZeroPose returns the pose at the origin facing along +x.
func NewZeroPose() Pose2D {
	return Pose2D{}
}

// Point returns the translation of the pose.
func (p Pose2D) Point() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

func (p Pose2D) String() string {
	return fmt.Sprintf("(x: %.3f, y: %.3f, theta: %.2f°)", p.X, p.Y, utils.RadToDeg(p.Theta))
}

// Rotate rotates a vector counter-clockwise by theta radians.
func Rotate(v r2.Point, theta float64) r2.Point {
	sin, cos := math.Sincos(theta)
	return r2.Point{X: v.X*cos - v.Y*sin, Y: v.X*sin + v.Y*cos}
}

// TransformBy applies other, expressed in this pose's frame, on top of this pose.
func (p Pose2D) TransformBy(other Pose2D) Pose2D {
	return NewPose2D(p.Point().Add(Rotate(other.Point(), p.Theta)), p.Theta+other.Theta)
}

// RelativeTo expresses this pose in the frame of origin.
func (p Pose2D) RelativeTo(origin Pose2D) Pose2D {
	return NewPose2D(Rotate(p.Point().Sub(origin.Point()), -origin.Theta), p.Theta-origin.Theta)
}

// Exp integrates a constant-curvature twist, expressed in this pose's frame, starting from this pose.
func (p Pose2D) Exp(twist Twist2D) Pose2D {
	sinTheta, cosTheta := math.Sincos(twist.Dtheta)

	var s, c float64
	if math.Abs(twist.Dtheta) < smallAngle {
		s = 1 - twist.Dtheta*twist.Dtheta/6
		c = twist.Dtheta / 2
	} else {
		s = sinTheta / twist.Dtheta
		c = (1 - cosTheta) / twist.Dtheta
	}

	delta := Pose2D{
		X:     twist.Dx*s - twist.Dy*c,
		Y:     twist.Dx*c + twist.Dy*s,
		Theta: twist.Dtheta,
	}
	return p.TransformBy(delta)
}

// Log returns the constant-curvature twist that carries this pose to end.
func (p Pose2D) Log(end Pose2D) Twist2D {
	transform := end.RelativeTo(p)
	dtheta := transform.Theta
	halfDtheta := dtheta / 2
	cosMinusOne := math.Cos(dtheta) - 1

	var halfThetaByTanOfHalfDtheta float64
	if math.Abs(cosMinusOne) < smallAngle {
		halfThetaByTanOfHalfDtheta = 1 - dtheta*dtheta/12
	} else {
		halfThetaByTanOfHalfDtheta = -(halfDtheta * math.Sin(dtheta)) / cosMinusOne
	}

	translation := Rotate(transform.Point(), math.Atan2(-halfDtheta, halfThetaByTanOfHalfDtheta)).
		Mul(math.Hypot(halfThetaByTanOfHalfDtheta, halfDtheta))
	return Twist2D{Dx: translation.X, Dy: translation.Y, Dtheta: dtheta}
}

// Interpolate returns the pose a fraction t of the way along the constant-curvature arc to end.
// t is clamped to [0, 1].
func (p Pose2D) Interpolate(end Pose2D, t float64) Pose2D {
	switch {
	case t <= 0:
		return p
	case t >= 1:
		return end
	}
	return p.Exp(p.Log(end).Scale(t))
}

// AlmostEqual reports whether two poses are within the given translation and rotation tolerances.
func (p Pose2D) AlmostEqual(other Pose2D, linearTol, angularTol float64) bool {
	return p.Point().Sub(other.Point()).Norm() <= linearTol &&
		math.Abs(utils.AngleDiff(p.Theta, other.Theta)) <= angularTol
}

// Twist2D is a displacement along an arc, expressed in the frame of the pose it starts from.
type Twist2D struct {
	Dx     float64
	Dy     float64
	Dtheta float64
}

// Scale multiplies every component of the twist by k.
func (t Twist2D) Scale(k float64) Twist2D {
	return Twist2D{Dx: t.Dx * k, Dy: t.Dy * k, Dtheta: t.Dtheta * k}
}
