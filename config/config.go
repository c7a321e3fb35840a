// Package config defines the structures to configure a swerve robot and its connected parts.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/swerve/components/base/swerve"
	"go.viam.com/swerve/components/vision"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/robot"
	"go.viam.com/swerve/sim"
	"go.viam.com/swerve/utils"
)

// DefaultFrequencyHz is the control loop rate used when none is configured.
const DefaultFrequencyHz = 50.0

// Config describes the robot program: its control loop, drivetrain, pose sources and simulation.
type Config struct {
	ConfigFilePath string `json:"-"`

	FrequencyHz float64       `json:"frequency_hz,omitempty"`
	Drivetrain  swerve.Config `json:"drivetrain"`
	Vision      *VisionConfig `json:"vision,omitempty"`
	Sim         *sim.Config   `json:"sim,omitempty"`
	// LogLevel is "debug", "info", "warn" or "error".
	LogLevel *logging.Level `json:"log_level,omitempty"`
}

// Frequency returns the configured loop rate or the default.
func (c *Config) Frequency() float64 {
	if c.FrequencyHz > 0 {
		return c.FrequencyHz
	}
	return DefaultFrequencyHz
}

// Period is the time between control cycles.
func (c *Config) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.Frequency())
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if c.FrequencyHz < 0 || c.FrequencyHz > robot.MaxFrequency {
		return utils.NewConfigValidationError("frequency_hz",
			errors.Errorf("must be between 0 and %dHz, got %v", robot.MaxFrequency, c.FrequencyHz))
	}
	if err := c.Drivetrain.Validate("drivetrain"); err != nil {
		return err
	}
	if c.Vision != nil {
		if err := c.Vision.Validate("vision"); err != nil {
			return err
		}
	}
	if c.Sim != nil {
		if err := c.Sim.Validate("sim"); err != nil {
			return err
		}
	}
	return nil
}

// VisionConfig lists the pose sources the drivetrain polls.
type VisionConfig struct {
	Sources []vision.SourceConfig `json:"sources"`
}

// Validate ensures all parts of the config are valid.
func (c *VisionConfig) Validate(path string) error {
	seen := map[vision.SourceID]struct{}{}
	for i := range c.Sources {
		src := &c.Sources[i]
		if err := src.Validate(fmt.Sprintf("%s.sources.%d", path, i)); err != nil {
			return err
		}
		if _, ok := seen[src.ID]; ok {
			return utils.NewConfigValidationError(path, errors.Errorf("source id %q is not unique", src.ID))
		}
		seen[src.ID] = struct{}{}
	}
	return nil
}
