// Package control holds the feedback building blocks used by the drivetrain controllers.
package control

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/swerve/utils"
)

// PIDConfig describes the gains and limits of a PID controller.
type PIDConfig struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
	// IntegralLimit bounds the magnitude of the integral term's contribution. Zero means unbounded.
	IntegralLimit float64 `json:"integral_limit,omitempty"`
	// OutputLimit bounds the magnitude of the output. Zero means unbounded.
	OutputLimit float64 `json:"output_limit,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *PIDConfig) Validate(path string) error {
	if cfg.Kp == 0 && cfg.Ki == 0 && cfg.Kd == 0 {
		return utils.NewConfigValidationError(path, errors.New("pid should have at least one of kp, ki or kd"))
	}
	if cfg.IntegralLimit < 0 || cfg.OutputLimit < 0 {
		return utils.NewConfigValidationError(path, errors.New("pid limits cannot be negative"))
	}
	return nil
}

// PID is a discrete PID controller. With continuous input enabled the error is always the
// shortest signed distance around the input range, which makes it usable for headings.
type PID struct {
	mu  sync.Mutex
	cfg PIDConfig

	setpoint   float64
	continuous bool
	minInput   float64
	maxInput   float64

	integral  float64
	prevError float64
	hasPrev   bool
}

// NewPID returns a controller with the given gains and a zero setpoint.
func NewPID(cfg PIDConfig) (*PID, error) {
	if err := cfg.Validate("pid"); err != nil {
		return nil, err
	}
	return &PID{cfg: cfg}, nil
}

// EnableContinuousInput treats minInput and maxInput as the same point.
func (p *PID) EnableContinuousInput(minInput, maxInput float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.continuous = true
	p.minInput = minInput
	p.maxInput = maxInput
}

// SetSetpoint changes the target. Accumulated state is kept.
func (p *PID) SetSetpoint(setpoint float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setpoint = setpoint
}

// Setpoint returns the target.
func (p *PID) Setpoint() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setpoint
}

// SetGains swaps the gains in place, e.g. after a configuration reload.
func (p *PID) SetGains(cfg PIDConfig) error {
	if err := cfg.Validate("pid"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.clampIntegral()
	return nil
}

// Gains returns the current configuration.
func (p *PID) Gains() PIDConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Calculate returns the next output for a measurement taken dt after the previous one.
func (p *PID) Calculate(measurement float64, dt time.Duration) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.errorTo(measurement)
	dtS := dt.Seconds()

	var deriv float64
	if dtS > 0 {
		p.integral += err * dtS
		p.clampIntegral()
		if p.hasPrev {
			deriv = (err - p.prevError) / dtS
		}
	}
	p.prevError = err
	p.hasPrev = true

	output := p.cfg.Kp*err + p.cfg.Ki*p.integral + p.cfg.Kd*deriv
	return utils.ClampMagnitude(output, p.cfg.OutputLimit)
}

// Reset clears the integral and derivative history.
func (p *PID) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.integral = 0
	p.prevError = 0
	p.hasPrev = false
}

func (p *PID) errorTo(measurement float64) float64 {
	err := p.setpoint - measurement
	if !p.continuous {
		return err
	}
	inputRange := p.maxInput - p.minInput
	if inputRange <= 0 {
		return err
	}
	return err - inputRange*math.Floor((err+inputRange/2)/inputRange)
}

func (p *PID) clampIntegral() {
	if p.cfg.IntegralLimit <= 0 || p.cfg.Ki == 0 {
		return
	}
	bound := p.cfg.IntegralLimit / math.Abs(p.cfg.Ki)
	p.integral = utils.Clamp(p.integral, -bound, bound)
}
