package kinematics

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/swerve/utils"
)

// ChassisSpeeds is a chassis velocity: Vx and Vy in m/s and Omega in rad/s counter-clockwise.
// Whether it is robot relative or field relative depends on the caller.
type ChassisSpeeds struct {
	Vx    float64
	Vy    float64
	Omega float64
}

// IsZero reports whether no motion is requested.
func (s ChassisSpeeds) IsZero() bool {
	return s.Vx == 0 && s.Vy == 0 && s.Omega == 0
}

// FromFieldRelative converts a field relative command into the robot frame given the robot's
// field heading.
func FromFieldRelative(speeds ChassisSpeeds, heading float64) ChassisSpeeds {
	sin, cos := math.Sincos(heading)
	return ChassisSpeeds{
		Vx:    speeds.Vx*cos + speeds.Vy*sin,
		Vy:    -speeds.Vx*sin + speeds.Vy*cos,
		Omega: speeds.Omega,
	}
}

// ToFieldRelative converts a robot relative velocity into the field frame.
func ToFieldRelative(speeds ChassisSpeeds, heading float64) ChassisSpeeds {
	return FromFieldRelative(speeds, -heading)
}

// ModuleState is a wheel speed in m/s, signed, and a steering angle in radians.
type ModuleState struct {
	Speed float64
	Angle float64
}

func (s ModuleState) String() string {
	return fmt.Sprintf("(%.3f m/s, %.1f°)", s.Speed, utils.RadToDeg(s.Angle))
}

// ModulePosition is the cumulative distance a wheel has rolled, in meters, and its steering angle.
type ModulePosition struct {
	Distance float64
	Angle    float64
}

// PositionDeltas pairs two consecutive position reads into per-module deltas. Each delta carries
// the distance rolled between the reads and the latest steering angle.
func PositionDeltas(previous, current []ModulePosition) ([]ModulePosition, error) {
	if len(previous) != len(current) {
		return nil, errors.Errorf("expected %d module positions but got %d", len(previous), len(current))
	}
	deltas := make([]ModulePosition, len(current))
	for i := range current {
		deltas[i] = ModulePosition{
			Distance: current[i].Distance - previous[i].Distance,
			Angle:    current[i].Angle,
		}
	}
	return deltas, nil
}

// Desaturate scales every module speed by the same factor so that none exceeds maxSpeed.
// Angles are never modified. The input is left untouched.
func Desaturate(states []ModuleState, maxSpeed float64) []ModuleState {
	out := append([]ModuleState(nil), states...)
	if maxSpeed <= 0 {
		return out
	}

	var maxAbs float64
	for _, s := range states {
		maxAbs = math.Max(maxAbs, math.Abs(s.Speed))
	}
	if maxAbs <= maxSpeed {
		return out
	}

	scale := maxSpeed / maxAbs
	for i := range out {
		out[i].Speed *= scale
	}
	return out
}

// Optimize returns a state physically equivalent to desired that needs at most π/2 of steering
// from the current angle, reversing the wheel when the reflected target is closer.
func Optimize(desired ModuleState, currentAngle float64) ModuleState {
	if math.Abs(utils.AngleDiff(desired.Angle, currentAngle)) > math.Pi/2 {
		return ModuleState{Speed: -desired.Speed, Angle: utils.WrapAngle(desired.Angle + math.Pi)}
	}
	return ModuleState{Speed: desired.Speed, Angle: utils.WrapAngle(desired.Angle)}
}
