// Package canmodule implements a swerve module actuator whose motor controller is reached over
// SocketCAN. Setpoints are sent as they are commanded and telemetry is received on a background
// worker and cached, so reads never touch the bus.
package canmodule

import (
	"context"
	"sync"
	"time"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sys/unix"

	"go.viam.com/swerve/components/swervemodule"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/utils"
)

// ModelName is the configuration name of this actuator.
const ModelName = "can"

const (
	defaultChannel = "can0"
	rxErrorBackoff = 50 * time.Millisecond
)

var errNoTelemetry = errors.New("no telemetry received yet")

// Config describes how to reach one module controller.
type Config struct {
	Channel  string `json:"can_channel,omitempty"`
	ModuleID int    `json:"module_id"`
	BaseID   uint32 `json:"base_id,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.ModuleID < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("module_id must be non-negative, got %d", cfg.ModuleID))
	}
	if _, err := newFrameIDs(cfg.baseID(), cfg.ModuleID); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

func (cfg *Config) baseID() uint32 {
	if cfg.BaseID == 0 {
		return defaultBaseID
	}
	return cfg.BaseID
}

func (cfg *Config) channel() string {
	if cfg.Channel == "" {
		return defaultChannel
	}
	return cfg.Channel
}

// Socket is the part of a SocketCAN socket the actuator uses.
type Socket interface {
	Send(frame canbus.Frame) (int, error)
	Recv() (canbus.Frame, error)
	Close() error
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
			return nil, errors.Wrapf(err, "can actuator %s", name)
		}
		return New(name, conf, logger)
	})
}

// New opens a sending and a filtered receiving socket on the configured channel.
func New(name string, conf Config, logger logging.Logger) (swervemodule.Actuator, error) {
	if err := conf.Validate(name); err != nil {
		return nil, err
	}
	ids, err := newFrameIDs(conf.baseID(), conf.ModuleID)
	if err != nil {
		return nil, err
	}

	socketSend, err := canbus.New()
	if err != nil {
		return nil, err
	}
	if err := socketSend.Bind(conf.channel()); err != nil {
		return nil, multierr.Combine(err, socketSend.Close())
	}

	socketRecv, err := canbus.New()
	if err != nil {
		return nil, multierr.Combine(err, socketSend.Close())
	}
	err = socketRecv.SetFilters([]unix.CanFilter{
		{Id: ids.wheel, Mask: unix.CAN_SFF_MASK},
		{Id: ids.steer, Mask: unix.CAN_SFF_MASK},
	})
	if err == nil {
		err = socketRecv.Bind(conf.channel())
	}
	if err != nil {
		return nil, multierr.Combine(err, socketRecv.Close(), socketSend.Close())
	}

	return newActuator(name, ids, socketSend, socketRecv, logger), nil
}

type actuator struct {
	name   string
	ids    frameIDs
	tx     Socket
	rx     Socket
	logger logging.Logger

	mu        sync.Mutex
	wheel     wheelTelemetry
	steer     steerTelemetry
	haveWheel bool
	haveSteer bool

	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
	closeOnce               sync.Once
}

func newActuator(name string, ids frameIDs, tx, rx Socket, logger logging.Logger) *actuator {
	cancelCtx, cancel := context.WithCancel(context.Background())
	a := &actuator{
		name:   name,
		ids:    ids,
		tx:     tx,
		rx:     rx,
		logger: logger,
		cancel: cancel,
	}
	a.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		a.receiveThread(cancelCtx)
	}, a.activeBackgroundWorkers.Done)
	return a
}

// receiveThread receives telemetry frames and caches the latest values.
func (a *actuator) receiveThread(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := a.rx.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Errorw("CAN rx error", "module", a.name, "error", err)
			if !goutils.SelectContextOrWait(ctx, rxErrorBackoff) {
				return
			}
			continue
		}
		a.handleFrame(frame)
	}
}

func (a *actuator) handleFrame(frame canbus.Frame) {
	switch frame.ID {
	case a.ids.wheel:
		wheel, err := parseWheelTelemetry(frame)
		if err != nil {
			a.logger.Debugw("dropping frame", "module", a.name, "error", err)
			return
		}
		a.mu.Lock()
		a.wheel, a.haveWheel = wheel, true
		a.mu.Unlock()
	case a.ids.steer:
		steer, err := parseSteerTelemetry(frame)
		if err != nil {
			a.logger.Debugw("dropping frame", "module", a.name, "error", err)
			return
		}
		a.mu.Lock()
		a.steer, a.haveSteer = steer, true
		a.mu.Unlock()
	}
}

func (a *actuator) send(frame canbus.Frame) error {
	if _, err := a.tx.Send(frame); err != nil {
		return errors.Wrapf(err, "failed to send frame %#x", frame.ID)
	}
	return nil
}

func (a *actuator) SetDriveCommand(ctx context.Context, cmd swervemodule.DriveCommand) error {
	return a.send(driveFrame(a.ids.drive, cmd))
}

func (a *actuator) SetTurnCommand(ctx context.Context, angle float64) error {
	return a.send(angleFrame(a.ids.turn, angle))
}

func (a *actuator) SeedAngle(ctx context.Context, angle float64) error {
	return a.send(angleFrame(a.ids.seed, angle))
}

func (a *actuator) Position(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.haveWheel {
		return 0, errNoTelemetry
	}
	return a.wheel.position, nil
}

func (a *actuator) Velocity(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.haveWheel {
		return 0, errNoTelemetry
	}
	return a.wheel.velocity, nil
}

func (a *actuator) Angle(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.haveSteer {
		return 0, errNoTelemetry
	}
	return a.steer.angle, nil
}

func (a *actuator) AbsoluteAngle(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.haveSteer || !a.steer.absoluteValid {
		return 0, swervemodule.ErrAbsoluteAngleUnavailable
	}
	return a.steer.absolute, nil
}

func (a *actuator) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		a.cancel()
		// closing the receive socket unblocks Recv
		err = multierr.Combine(a.rx.Close(), a.tx.Close())
		a.activeBackgroundWorkers.Wait()
	})
	return err
}
