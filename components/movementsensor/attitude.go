// Package movementsensor defines the attitude sensor interface the drivetrain reads heading and
// tilt from.
package movementsensor

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Axis selects which tilt angle to read.
type Axis int

const (
	// Pitch is rotation about the robot's left axis, nose up positive.
	Pitch Axis = iota
	// Roll is rotation about the robot's forward axis.
	Roll
)

func (a Axis) String() string {
	switch a {
	case Pitch:
		return "pitch"
	case Roll:
		return "roll"
	}
	return "unknown"
}

// AxisFromString parses "pitch" or "roll".
func AxisFromString(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "pitch":
		return Pitch, nil
	case "roll":
		return Roll, nil
	}
	return 0, errors.Errorf("unknown tilt axis %q, expected pitch or roll", s)
}

// AttitudeSensor reports orientation. Reads return the latest cached value and never block on
// hardware.
type AttitudeSensor interface {
	// Heading is the yaw in radians, counter-clockwise positive, wrapped to [-π, π).
	Heading(ctx context.Context) (float64, error)
	// Tilt is the given axis angle in radians.
	Tilt(ctx context.Context, axis Axis) (float64, error)
	// SetHeadingZero re-references yaw so that the current orientation reads as heading.
	SetHeadingZero(ctx context.Context, heading float64) error
}
