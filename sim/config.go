package sim

import (
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/swerve/utils"
)

const (
	defaultLocalizerPeriod = 100 * time.Millisecond
	defaultLocalizerDelay  = 40 * time.Millisecond

	defaultRampDegsPerM  = 30.0
	defaultRampMaxDegs   = 15.0
	defaultRampTimeConst = 200 * time.Millisecond
)

// Config describes how the simulated robot deviates from its ideal model.
type Config struct {
	// Seed makes the noise reproducible.
	Seed int64 `json:"seed,omitempty"`
	// WheelSlip is the fraction of wheel travel lost to the carpet, in [0, 1).
	WheelSlip           float64          `json:"wheel_slip,omitempty"`
	GyroDriftDegsPerSec float64          `json:"gyro_drift_degs_per_sec,omitempty"`
	Localizer           *LocalizerConfig `json:"localizer,omitempty"`
	Ramp                *RampConfig      `json:"ramp,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.WheelSlip < 0 || cfg.WheelSlip >= 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("wheel_slip must be in [0, 1), got %v", cfg.WheelSlip))
	}
	if cfg.Localizer != nil {
		if err := cfg.Localizer.Validate(path + ".localizer"); err != nil {
			return err
		}
	}
	if cfg.Ramp != nil {
		if err := cfg.Ramp.Validate(path + ".ramp"); err != nil {
			return err
		}
	}
	return nil
}

// LocalizerConfig describes the simulated localizers behind every configured vision source.
type LocalizerConfig struct {
	PeriodMs         int     `json:"period_ms,omitempty"`
	LatencyMs        int     `json:"latency_ms,omitempty"`
	PositionNoiseM   float64 `json:"position_noise_m,omitempty"`
	HeadingNoiseDegs float64 `json:"heading_noise_degs,omitempty"`
	// InvalidRate is the fraction of samples published without a target.
	InvalidRate float64 `json:"invalid_rate,omitempty"`
	// During an outage nothing is published and reconnect attempts fail.
	OutageStartMs int `json:"outage_start_ms,omitempty"`
	OutageMs      int `json:"outage_ms,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *LocalizerConfig) Validate(path string) error {
	if cfg.PeriodMs < 0 || cfg.LatencyMs < 0 || cfg.OutageStartMs < 0 || cfg.OutageMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("localizer times cannot be negative"))
	}
	if cfg.PositionNoiseM < 0 || cfg.HeadingNoiseDegs < 0 {
		return utils.NewConfigValidationError(path, errors.New("localizer noise cannot be negative"))
	}
	if cfg.InvalidRate < 0 || cfg.InvalidRate > 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("invalid_rate must be in [0, 1], got %v", cfg.InvalidRate))
	}
	return nil
}

func (cfg *LocalizerConfig) period() time.Duration {
	if cfg.PeriodMs > 0 {
		return time.Duration(cfg.PeriodMs) * time.Millisecond
	}
	return defaultLocalizerPeriod
}

func (cfg *LocalizerConfig) latency() time.Duration {
	if cfg.LatencyMs > 0 {
		return time.Duration(cfg.LatencyMs) * time.Millisecond
	}
	return defaultLocalizerDelay
}

// RampConfig describes a see-saw platform. It tilts toward whichever side of its pivot line the
// robot is on, and the tilt follows with a first order lag.
type RampConfig struct {
	PivotXM float64 `json:"pivot_x_m"`
	PivotYM float64 `json:"pivot_y_m"`
	// AxisDegs is the field direction, from +x, the platform rises along.
	AxisDegs    float64 `json:"axis_degs"`
	DegsPerM    float64 `json:"degs_per_m,omitempty"`
	MaxTiltDegs float64 `json:"max_tilt_degs,omitempty"`
	TimeConstMs int     `json:"time_const_ms,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *RampConfig) Validate(path string) error {
	if cfg.DegsPerM < 0 || cfg.MaxTiltDegs < 0 || cfg.TimeConstMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("ramp slope, tilt and time constant cannot be negative"))
	}
	return nil
}

func (cfg *RampConfig) pivot() r2.Point {
	return r2.Point{X: cfg.PivotXM, Y: cfg.PivotYM}
}

func (cfg *RampConfig) axis() r2.Point {
	theta := utils.DegToRad(cfg.AxisDegs)
	return r2.Point{X: math.Cos(theta), Y: math.Sin(theta)}
}

func (cfg *RampConfig) slope() float64 {
	if cfg.DegsPerM > 0 {
		return cfg.DegsPerM
	}
	return defaultRampDegsPerM
}

func (cfg *RampConfig) maxTilt() float64 {
	if cfg.MaxTiltDegs > 0 {
		return cfg.MaxTiltDegs
	}
	return defaultRampMaxDegs
}

func (cfg *RampConfig) timeConst() time.Duration {
	if cfg.TimeConstMs > 0 {
		return time.Duration(cfg.TimeConstMs) * time.Millisecond
	}
	return defaultRampTimeConst
}
