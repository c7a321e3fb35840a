package swerve

import (
	"math"
	"sync"
	"time"

	"go.viam.com/swerve/control"
	"go.viam.com/swerve/kinematics"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/utils"
)

// maxHoldStep is the longest gap between corrections the controller integrates over. Longer gaps
// mean the hold sat idle and restart its timing instead.
const maxHoldStep = 100 * time.Millisecond

// HeadingHold replaces the commanded rotation rate with a PID correction toward a target heading
// while it is enabled.
type HeadingHold struct {
	pid         *control.PID
	maxRotation float64
	logger      logging.Logger

	mu      sync.Mutex
	enabled bool
	// fresh is set until the first correction after Enable
	fresh bool
}

// NewHeadingHold returns a disabled heading hold whose output never exceeds maxRotation rad/s.
func NewHeadingHold(cfg control.PIDConfig, maxRotation float64, logger logging.Logger) (*HeadingHold, error) {
	pid, err := control.NewPID(cfg)
	if err != nil {
		return nil, err
	}
	pid.EnableContinuousInput(-math.Pi, math.Pi)
	return &HeadingHold{pid: pid, maxRotation: maxRotation, logger: logger}, nil
}

// Enable starts holding target, in radians on the field.
func (h *HeadingHold) Enable(target float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pid.Reset()
	h.pid.SetSetpoint(utils.WrapAngle(target))
	if !h.enabled {
		h.logger.Debugf("heading hold enabled at %.1f°", utils.RadToDeg(target))
	}
	h.enabled = true
	h.fresh = true
}

// Disable stops overriding the rotation rate.
func (h *HeadingHold) Disable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enabled {
		h.logger.Debug("heading hold disabled")
	}
	h.enabled = false
}

// SetTarget changes the held heading without resetting the controller.
func (h *HeadingHold) SetTarget(target float64) {
	h.pid.SetSetpoint(utils.WrapAngle(target))
}

// Target is the held heading.
func (h *HeadingHold) Target() float64 {
	return h.pid.Setpoint()
}

// Enabled reports whether Apply overrides the rotation rate.
func (h *HeadingHold) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

// SetGains retunes the controller.
func (h *HeadingHold) SetGains(cfg control.PIDConfig) error {
	return h.pid.SetGains(cfg)
}

// Apply returns speeds with Omega replaced by the correction toward the target, given the current
// heading and the time since the previous Apply. Disabled, it returns speeds unchanged. The first
// Apply after Enable and any Apply after a gap over maxHoldStep leave the integral untouched.
func (h *HeadingHold) Apply(heading float64, speeds kinematics.ChassisSpeeds, dt time.Duration) kinematics.ChassisSpeeds {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.enabled {
		return speeds
	}
	if h.fresh || dt > maxHoldStep {
		dt = 0
		h.fresh = false
	}
	speeds.Omega = utils.ClampMagnitude(h.pid.Calculate(heading, dt), h.maxRotation)
	return speeds
}
