// Package swervemodule drives a single steerable wheel: it turns desired module states into drive
// and turn actuator commands and reports the module's measured state back.
package swervemodule

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/swerve/logging"
)

// DriveMode selects how a drive command value is interpreted.
type DriveMode int

const (
	// OpenLoop commands are a fraction of full output in [-1, 1].
	OpenLoop DriveMode = iota
	// ClosedLoop commands are a wheel velocity in m/s tracked by the actuator's own controller.
	ClosedLoop
)

func (m DriveMode) String() string {
	if m == ClosedLoop {
		return "closed_loop"
	}
	return "open_loop"
}

// DriveCommand is one drive motor setpoint.
type DriveCommand struct {
	Mode  DriveMode
	Value float64
}

// ErrAbsoluteAngleUnavailable is returned by AbsoluteAngle while the absolute encoder has not
// reported yet.
var ErrAbsoluteAngleUnavailable = errors.New("absolute encoder has not reported an angle")

// Actuator is the hardware binding of one module: a drive motor, a turn motor with a relative
// sensor, and an absolute steering encoder. Reads return cached values and do not block.
type Actuator interface {
	SetDriveCommand(ctx context.Context, cmd DriveCommand) error
	// SetTurnCommand sets the closed loop steering setpoint in radians.
	SetTurnCommand(ctx context.Context, angle float64) error
	// Position is the cumulative distance rolled by the wheel in meters.
	Position(ctx context.Context) (float64, error)
	// Velocity is the wheel speed in m/s.
	Velocity(ctx context.Context) (float64, error)
	// Angle is the steering angle measured by the relative turn sensor.
	Angle(ctx context.Context) (float64, error)
	// AbsoluteAngle is the raw absolute encoder reading, before the module's offset is removed.
	AbsoluteAngle(ctx context.Context) (float64, error)
	// SeedAngle re-references the relative turn sensor so that it currently reads angle.
	SeedAngle(ctx context.Context, angle float64) error
	Close(ctx context.Context) error
}

// Constructor builds an actuator model from its raw configuration attributes.
type Constructor func(ctx context.Context, name string, attributes map[string]interface{}, logger logging.Logger) (Actuator, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// RegisterModel makes an actuator model available to configuration. It panics on duplicates.
func RegisterModel(model string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[model]; ok {
		panic(errors.Errorf("actuator model %q already registered", model))
	}
	registry[model] = constructor
}

// NewActuator builds a registered actuator model.
func NewActuator(
	ctx context.Context,
	model, name string,
	attributes map[string]interface{},
	logger logging.Logger,
) (Actuator, error) {
	registryMu.RLock()
	constructor, ok := registry[model]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown actuator model %q, registered models are %v", model, RegisteredModels())
	}
	return constructor(ctx, name, attributes, logger)
}

// RegisteredModels lists registered actuator models.
func RegisteredModels() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	models := make([]string, 0, len(registry))
	for model := range registry {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}
