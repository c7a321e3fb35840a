package swervemodule

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/swerve/kinematics"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/utils"
)

// Module is the controller of one steerable wheel.
type Module struct {
	name        string
	actuator    Actuator
	angleOffset float64
	maxSpeed    float64
	logger      logging.Logger

	mu          sync.Mutex
	initialized bool
	lastAngle   float64
	desired     kinematics.ModuleState
}

// NewModule wraps an actuator. angleOffset is the absolute encoder reading, in radians, when the
// wheel points straight forward. maxSpeed is the wheel speed that full open loop output reaches.
func NewModule(name string, actuator Actuator, angleOffset, maxSpeed float64, logger logging.Logger) (*Module, error) {
	if actuator == nil {
		return nil, errors.Errorf("module %s has no actuator", name)
	}
	if maxSpeed <= 0 {
		return nil, errors.Errorf("module %s max speed must be positive, got %v", name, maxSpeed)
	}
	return &Module{
		name:        name,
		actuator:    actuator,
		angleOffset: angleOffset,
		maxSpeed:    maxSpeed,
		logger:      logger,
	}, nil
}

// Name is the module slot name.
func (m *Module) Name() string {
	return m.name
}

// Actuator returns the hardware driving this module.
func (m *Module) Actuator() Actuator {
	return m.actuator
}

// Initialized reports whether the turn sensor has been aligned to the absolute encoder.
func (m *Module) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Initialize aligns the relative turn sensor with the absolute encoder. It is safe to call every
// cycle until it succeeds; afterwards it does nothing.
func (m *Module) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	absolute, err := m.actuator.AbsoluteAngle(ctx)
	if err != nil {
		return errors.Wrapf(err, "module %s absolute encoder", m.name)
	}
	angle := utils.WrapAngle(absolute - m.angleOffset)
	if err := m.actuator.SeedAngle(ctx, angle); err != nil {
		return errors.Wrapf(err, "module %s failed to seed turn sensor", m.name)
	}
	m.lastAngle = angle
	m.desired = kinematics.ModuleState{Angle: angle}
	m.initialized = true
	m.logger.CInfof(ctx, "module %s aligned at %.1f°", m.name, utils.RadToDeg(angle))
	return nil
}

// SetDesiredState optimizes state against the module's last commanded angle and sends it to the
// actuator. Uninitialized modules emit nothing.
func (m *Module) SetDesiredState(ctx context.Context, state kinematics.ModuleState, openLoop bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		m.logger.CDebugf(ctx, "module %s is not initialized, dropping %v", m.name, state)
		return nil
	}

	optimized := kinematics.Optimize(state, m.lastAngle)

	cmd := DriveCommand{Mode: ClosedLoop, Value: optimized.Speed}
	if openLoop {
		cmd = DriveCommand{Mode: OpenLoop, Value: utils.Clamp(optimized.Speed/m.maxSpeed, -1, 1)}
	}
	if err := m.actuator.SetDriveCommand(ctx, cmd); err != nil {
		return errors.Wrapf(err, "module %s drive", m.name)
	}
	if err := m.actuator.SetTurnCommand(ctx, optimized.Angle); err != nil {
		return errors.Wrapf(err, "module %s turn", m.name)
	}
	m.lastAngle = optimized.Angle
	m.desired = optimized
	return nil
}

// Desired is the last optimized state sent to the actuator.
func (m *Module) Desired() kinematics.ModuleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desired
}

// State is the measured wheel speed and steering angle.
func (m *Module) State(ctx context.Context) (kinematics.ModuleState, error) {
	speed, err := m.actuator.Velocity(ctx)
	if err != nil {
		return kinematics.ModuleState{}, errors.Wrapf(err, "module %s velocity", m.name)
	}
	angle, err := m.actuator.Angle(ctx)
	if err != nil {
		return kinematics.ModuleState{}, errors.Wrapf(err, "module %s angle", m.name)
	}
	return kinematics.ModuleState{Speed: speed, Angle: utils.WrapAngle(angle)}, nil
}

// Position is the measured cumulative distance and steering angle.
func (m *Module) Position(ctx context.Context) (kinematics.ModulePosition, error) {
	distance, err := m.actuator.Position(ctx)
	if err != nil {
		return kinematics.ModulePosition{}, errors.Wrapf(err, "module %s position", m.name)
	}
	angle, err := m.actuator.Angle(ctx)
	if err != nil {
		return kinematics.ModulePosition{}, errors.Wrapf(err, "module %s angle", m.name)
	}
	return kinematics.ModulePosition{Distance: distance, Angle: utils.WrapAngle(angle)}, nil
}

// Stop zeroes the drive output and leaves the steering where it is.
func (m *Module) Stop(ctx context.Context) error {
	return m.actuator.SetDriveCommand(ctx, DriveCommand{Mode: OpenLoop})
}

// Close releases the actuator.
func (m *Module) Close(ctx context.Context) error {
	return m.actuator.Close(ctx)
}
