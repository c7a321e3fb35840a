// Package kinematics converts between chassis velocities and per-module wheel states for a
// swerve drivetrain with any number of independently steered modules.
package kinematics

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Conventional module names for a four module chassis.
const (
	FrontLeft  = "front_left"
	FrontRight = "front_right"
	BackLeft   = "back_left"
	BackRight  = "back_right"
)

// ModuleLocation names one module slot and its fixed offset, in meters, from the robot's
// rotation center. +X points forward and +Y points left.
type ModuleLocation struct {
	Name   string
	Offset r2.Point
}

// Geometry is the ordered, immutable set of module locations of a chassis.
type Geometry struct {
	locations []ModuleLocation
}

// NewGeometry validates and copies the given module locations.
func NewGeometry(locations ...ModuleLocation) (*Geometry, error) {
	if len(locations) < 2 {
		return nil, errors.Errorf("a swerve chassis needs at least 2 modules, got %d", len(locations))
	}
	seen := make(map[string]bool, len(locations))
	for i, loc := range locations {
		if loc.Name == "" {
			return nil, errors.Errorf("module %d has no name", i)
		}
		if seen[loc.Name] {
			return nil, errors.Errorf("duplicate module name %q", loc.Name)
		}
		seen[loc.Name] = true
	}
	return &Geometry{locations: append([]ModuleLocation(nil), locations...)}, nil
}

// NewRectangularGeometry builds the usual four module layout (front left, front right, back left,
// back right) for a chassis whose module centers are wheelbase apart front to back and trackWidth
// apart side to side.
func NewRectangularGeometry(wheelbase, trackWidth float64) (*Geometry, error) {
	if wheelbase <= 0 || trackWidth <= 0 {
		return nil, errors.Errorf("wheelbase (%v) and track width (%v) must be positive", wheelbase, trackWidth)
	}
	halfL, halfW := wheelbase/2, trackWidth/2
	return NewGeometry(
		ModuleLocation{FrontLeft, r2.Point{X: halfL, Y: halfW}},
		ModuleLocation{FrontRight, r2.Point{X: halfL, Y: -halfW}},
		ModuleLocation{BackLeft, r2.Point{X: -halfL, Y: halfW}},
		ModuleLocation{BackRight, r2.Point{X: -halfL, Y: -halfW}},
	)
}

// Len is the number of modules.
func (g *Geometry) Len() int {
	return len(g.locations)
}

// Location returns the i-th module location.
func (g *Geometry) Location(i int) ModuleLocation {
	return g.locations[i]
}

// Index returns the slot of the named module, or -1.
func (g *Geometry) Index(name string) int {
	for i, loc := range g.locations {
		if loc.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the module names in slot order.
func (g *Geometry) Names() []string {
	names := make([]string, len(g.locations))
	for i, loc := range g.locations {
		names[i] = loc.Name
	}
	return names
}
