// Package fake implements an in memory swerve module actuator that follows its commands
// instantly. It backs tests and the simulator.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/swerve/components/swervemodule"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/utils"
)

// ModelName is the configuration name of this actuator.
const ModelName = "fake"

const defaultMaxSpeed = 4.5

// Config describes a fake actuator.
type Config struct {
	// MaxSpeed is the wheel speed reached at full open loop output.
	MaxSpeed float64 `json:"max_speed,omitempty"`
	// EncoderOffsetDegs is what the absolute encoder reads with the wheel pointing forward.
	EncoderOffsetDegs float64 `json:"encoder_offset_degs,omitempty"`
	// InitialAngleDegs is where the wheel points at power on.
	InitialAngleDegs float64 `json:"initial_angle_degs,omitempty"`
}

func init() {
	swervemodule.RegisterModel(ModelName, func(
		ctx context.Context,
		name string,
		attributes map[string]interface{},
		logger logging.Logger,
	) (swervemodule.Actuator, error) {
		var conf Config
		if err := utils.DecodeAttributes(attributes, &conf); err != nil {
			return nil, errors.Wrapf(err, "fake actuator %s", name)
		}
		return NewActuator(conf), nil
	})
}

// Actuator is a fake module actuator.
type Actuator struct {
	mu sync.Mutex

	maxSpeed      float64
	encoderOffset float64

	// trueAngle is where the wheel physically points; the relative sensor reads
	// trueAngle - sensorOffset.
	trueAngle     float64
	sensorOffset  float64
	turnSetpoint  float64
	drive         swervemodule.DriveCommand
	velocity      float64
	position      float64
	absoluteReady bool
	err           error

	driveCommands int
	turnCommands  int
	closed        bool
}

var _ swervemodule.Actuator = (*Actuator)(nil)

// NewActuator returns a fake actuator whose absolute encoder is immediately available.
func NewActuator(conf Config) *Actuator {
	maxSpeed := conf.MaxSpeed
	if maxSpeed <= 0 {
		maxSpeed = defaultMaxSpeed
	}
	initial := utils.DegToRad(conf.InitialAngleDegs)
	return &Actuator{
		maxSpeed:      maxSpeed,
		encoderOffset: utils.DegToRad(conf.EncoderOffsetDegs),
		trueAngle:     initial,
		// the relative sensor powers on reading zero
		sensorOffset:  initial,
		turnSetpoint:  0,
		absoluteReady: true,
	}
}

// SetDriveCommand records the drive setpoint.
func (a *Actuator) SetDriveCommand(ctx context.Context, cmd swervemodule.DriveCommand) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.drive = cmd
	a.driveCommands++
	return nil
}

// SetTurnCommand records the steering setpoint.
func (a *Actuator) SetTurnCommand(ctx context.Context, angle float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.turnSetpoint = angle
	a.turnCommands++
	return nil
}

// Position returns the integrated distance.
func (a *Actuator) Position(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position, a.err
}

// Velocity returns the wheel speed reached at the last Tick.
func (a *Actuator) Velocity(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.velocity, a.err
}

// Angle returns the relative sensor reading.
func (a *Actuator) Angle(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return utils.WrapAngle(a.trueAngle - a.sensorOffset), a.err
}

// AbsoluteAngle returns the absolute encoder reading.
func (a *Actuator) AbsoluteAngle(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return 0, a.err
	}
	if !a.absoluteReady {
		return 0, swervemodule.ErrAbsoluteAngleUnavailable
	}
	return utils.WrapAngle(a.trueAngle + a.encoderOffset), nil
}

// SeedAngle re-references the relative sensor.
func (a *Actuator) SeedAngle(ctx context.Context, angle float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.sensorOffset = a.trueAngle - angle
	a.turnSetpoint = angle
	return nil
}

// Close marks the actuator closed.
func (a *Actuator) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Tick advances the wheel by dt: steering snaps to its setpoint and the wheel rolls at the
// commanded speed.
func (a *Actuator) Tick(dt time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trueAngle = a.turnSetpoint + a.sensorOffset
	switch a.drive.Mode {
	case swervemodule.ClosedLoop:
		a.velocity = a.drive.Value
	default:
		a.velocity = utils.Clamp(a.drive.Value, -1, 1) * a.maxSpeed
	}
	a.position += a.velocity * dt.Seconds()
}

// LastDrive returns the last drive setpoint.
func (a *Actuator) LastDrive() swervemodule.DriveCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drive
}

// LastTurn returns the last steering setpoint.
func (a *Actuator) LastTurn() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turnSetpoint
}

// CommandCounts returns how many drive and turn commands were accepted.
func (a *Actuator) CommandCounts() (drive, turn int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.driveCommands, a.turnCommands
}

// SetAbsoluteReady controls whether the absolute encoder has reported.
func (a *Actuator) SetAbsoluteReady(ready bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.absoluteReady = ready
}

// SetError makes every call fail with err, or succeed again when err is nil.
func (a *Actuator) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Closed reports whether Close was called.
func (a *Actuator) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
