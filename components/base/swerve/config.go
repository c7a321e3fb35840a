package swerve

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/swerve/components/movementsensor"
	"go.viam.com/swerve/control"
	"go.viam.com/swerve/kinematics"
	"go.viam.com/swerve/services/poseestimator"
	"go.viam.com/swerve/utils"
)

const (
	defaultMaxSpeed    = 4.5
	defaultMaxRotation = 2 * math.Pi

	defaultHeadingKp = 3.0

	defaultLevelKp            = 0.02
	defaultLevelThresholdDegs = 2.0
	defaultLevelDwell         = 2 * time.Second
	defaultLevelWheelDegs     = 90.0
	defaultLockSpeedFraction  = 0.011
)

// ModuleConfig describes one module: where it sits on the chassis and which actuator drives it.
type ModuleConfig struct {
	Name string `json:"name"`
	// XM is forward of the chassis center and YM is to its left, both in meters.
	XM float64 `json:"x_m"`
	YM float64 `json:"y_m"`
	// EncoderOffsetDegs is the absolute encoder reading with the wheel pointing forward.
	EncoderOffsetDegs float64                `json:"encoder_offset_degs,omitempty"`
	Model             string                 `json:"model"`
	Attributes        map[string]interface{} `json:"attributes,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *ModuleConfig) Validate(path string) error {
	if cfg.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if cfg.Model == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "model")
	}
	return nil
}

// EstimatorConfig tunes the pose estimator. Empty fields take the estimator's defaults.
type EstimatorConfig struct {
	StateStdDevs    []float64 `json:"state_std_devs,omitempty"`
	VisionStdDevs   []float64 `json:"vision_std_devs,omitempty"`
	HistoryWindowMs int       `json:"history_window_ms,omitempty"`
}

func (cfg *EstimatorConfig) estimatorConfig(path string) (poseestimator.Config, error) {
	out := poseestimator.DefaultConfig()
	if cfg == nil {
		return out, nil
	}
	copyStdDevs := func(field string, from []float64, to *[3]float64) error {
		if from == nil {
			return nil
		}
		if len(from) != 3 {
			return utils.NewConfigValidationError(path,
				errors.Errorf("%s needs x, y and heading values, got %d", field, len(from)))
		}
		copy(to[:], from)
		return nil
	}
	if err := copyStdDevs("state_std_devs", cfg.StateStdDevs, &out.StateStdDevs); err != nil {
		return poseestimator.Config{}, err
	}
	if err := copyStdDevs("vision_std_devs", cfg.VisionStdDevs, &out.VisionStdDevs); err != nil {
		return poseestimator.Config{}, err
	}
	if cfg.HistoryWindowMs < 0 {
		return poseestimator.Config{}, utils.NewConfigValidationError(path, errors.New("history_window_ms cannot be negative"))
	}
	if cfg.HistoryWindowMs > 0 {
		out.HistoryWindow = time.Duration(cfg.HistoryWindowMs) * time.Millisecond
	}
	if err := out.Validate(path); err != nil {
		return poseestimator.Config{}, err
	}
	return out, nil
}

// AutoLevelConfig tunes the auto-level command. Tilt is handled in degrees.
type AutoLevelConfig struct {
	PID *control.PIDConfig `json:"pid,omitempty"`
	// Axis is "pitch" or "roll".
	Axis           string   `json:"axis,omitempty"`
	TiltOffsetDegs float64  `json:"tilt_offset_degs,omitempty"`
	WheelAngleDegs *float64 `json:"wheel_angle_degs,omitempty"`
	ThresholdDegs  float64  `json:"threshold_degs,omitempty"`
	DwellMs        int      `json:"dwell_ms,omitempty"`
	// FilterSize averages that many tilt readings; 0 or 1 uses the raw reading.
	FilterSize int `json:"filter_size,omitempty"`
	// MaxSpeedMps bounds the leveling speed. It defaults to the drivetrain max speed.
	MaxSpeedMps float64 `json:"max_speed_mps,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *AutoLevelConfig) Validate(path string) error {
	if cfg.PID != nil {
		if err := cfg.PID.Validate(path + ".pid"); err != nil {
			return err
		}
	}
	if cfg.Axis != "" {
		if _, err := movementsensor.AxisFromString(cfg.Axis); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	if cfg.ThresholdDegs < 0 || cfg.DwellMs < 0 || cfg.FilterSize < 0 || cfg.MaxSpeedMps < 0 {
		return utils.NewConfigValidationError(path, errors.New("auto level threshold, dwell, filter and speed cannot be negative"))
	}
	return nil
}

// Config describes a swerve drivetrain.
type Config struct {
	Modules               []ModuleConfig `json:"modules"`
	MaxSpeedMps           float64        `json:"max_speed_mps,omitempty"`
	MaxRotationRadsPerSec float64        `json:"max_rotation_rads_per_sec,omitempty"`
	// ClosedLoopTeleop drives the wheels with velocity setpoints instead of duty cycle.
	ClosedLoopTeleop bool               `json:"closed_loop_teleop,omitempty"`
	HeadingHold      *control.PIDConfig `json:"heading_hold,omitempty"`
	AutoLevel        *AutoLevelConfig   `json:"auto_level,omitempty"`
	Estimator        *EstimatorConfig   `json:"estimator,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if len(cfg.Modules) < 2 {
		return utils.NewConfigValidationError(path, errors.New("a swerve drive needs at least two modules"))
	}
	for i := range cfg.Modules {
		if err := cfg.Modules[i].Validate(fmt.Sprintf("%s.modules.%d", path, i)); err != nil {
			return err
		}
	}
	if cfg.MaxSpeedMps < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_speed_mps cannot be negative"))
	}
	if cfg.MaxRotationRadsPerSec < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_rotation_rads_per_sec cannot be negative"))
	}
	if cfg.HeadingHold != nil {
		if err := cfg.HeadingHold.Validate(path + ".heading_hold"); err != nil {
			return err
		}
	}
	if cfg.AutoLevel != nil {
		if err := cfg.AutoLevel.Validate(path + ".auto_level"); err != nil {
			return err
		}
	}
	if _, err := cfg.Estimator.estimatorConfig(path + ".estimator"); err != nil {
		return err
	}
	geometry, err := cfg.geometry()
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if _, err := kinematics.New(geometry); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

func (cfg *Config) maxSpeed() float64 {
	if cfg.MaxSpeedMps > 0 {
		return cfg.MaxSpeedMps
	}
	return defaultMaxSpeed
}

func (cfg *Config) maxRotation() float64 {
	if cfg.MaxRotationRadsPerSec > 0 {
		return cfg.MaxRotationRadsPerSec
	}
	return defaultMaxRotation
}

func (cfg *Config) headingHoldPID() control.PIDConfig {
	if cfg.HeadingHold != nil {
		return *cfg.HeadingHold
	}
	return control.PIDConfig{Kp: defaultHeadingKp}
}

func (cfg *AutoLevelConfig) pidConfig() control.PIDConfig {
	if cfg != nil && cfg.PID != nil {
		return *cfg.PID
	}
	return control.PIDConfig{Kp: defaultLevelKp}
}

func (cfg *Config) geometry() (*kinematics.Geometry, error) {
	locations := make([]kinematics.ModuleLocation, 0, len(cfg.Modules))
	for _, m := range cfg.Modules {
		locations = append(locations, kinematics.ModuleLocation{Name: m.Name, Offset: r2.Point{X: m.XM, Y: m.YM}})
	}
	return kinematics.NewGeometry(locations...)
}
