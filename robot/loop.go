// Package robot runs the drivetrain's fixed-rate control cycle.
package robot

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/swerve/logging"
)

// MaxFrequency is the fastest supported loop rate, in Hz.
const MaxFrequency = 200

// Subsystem is called once per cycle before the active command.
type Subsystem interface {
	Periodic(ctx context.Context) error
}

// Command is a unit of work the loop drives until it reports finished or is replaced.
type Command interface {
	Initialize(ctx context.Context) error
	Execute(ctx context.Context) error
	End(ctx context.Context, interrupted bool) error
	IsFinished() bool
}

// Loop runs every subsystem's Periodic and then the active command at a fixed rate.
type Loop struct {
	clk       clock.Clock
	dt        time.Duration
	frequency float64
	logger    logging.Logger

	mu          sync.Mutex
	subsystems  []Subsystem
	active      Command
	initialized bool
	cycles      uint64

	activeBackgroundWorkers sync.WaitGroup
	cancel                  context.CancelFunc
	ticker                  *clock.Ticker
}

// NewLoop returns a stopped loop running at frequency Hz on clk.
func NewLoop(frequency float64, clk clock.Clock, logger logging.Logger) (*Loop, error) {
	if frequency <= 0 || frequency > MaxFrequency {
		return nil, errors.New("loop frequency shouldn't be 0 or above 200Hz")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		clk:       clk,
		dt:        time.Duration(float64(time.Second) / frequency),
		frequency: frequency,
		logger:    logger,
	}, nil
}

// Period is the time between cycles.
func (l *Loop) Period() time.Duration {
	return l.dt
}

// AddSubsystem appends a subsystem. Subsystems run in the order added.
func (l *Loop) AddSubsystem(s Subsystem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subsystems = append(l.subsystems, s)
}

// SetCommand schedules cmd, interrupting the current command if one is running. cmd is
// initialized at the start of its first cycle. A nil cmd only interrupts.
func (l *Loop) SetCommand(ctx context.Context, cmd Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.interruptLocked(ctx)
	l.active = cmd
	l.initialized = false
	return err
}

// Cancel interrupts the current command.
func (l *Loop) Cancel(ctx context.Context) error {
	return l.SetCommand(ctx, nil)
}

// ActiveCommand returns the scheduled command, or nil.
func (l *Loop) ActiveCommand() Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Cycles counts completed cycles.
func (l *Loop) Cycles() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cycles
}

func (l *Loop) interruptLocked(ctx context.Context) error {
	if l.active == nil || !l.initialized {
		return nil
	}
	l.logger.CDebugf(ctx, "interrupting %T", l.active)
	err := l.active.End(ctx, true)
	l.active = nil
	return err
}

// Step runs exactly one cycle. Errors from subsystems do not stop the command from running;
// they are combined and returned.
func (l *Loop) Step(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	for _, s := range l.subsystems {
		err = multierr.Append(err, s.Periodic(ctx))
	}

	if l.active != nil {
		err = multierr.Append(err, l.runCommandLocked(ctx))
	}
	l.cycles++
	return err
}

func (l *Loop) runCommandLocked(ctx context.Context) error {
	cmd := l.active
	if !l.initialized {
		if err := cmd.Initialize(ctx); err != nil {
			l.active = nil
			return errors.Wrapf(err, "initializing %T", cmd)
		}
		l.initialized = true
	}
	if err := cmd.Execute(ctx); err != nil {
		return errors.Wrapf(err, "executing %T", cmd)
	}
	if cmd.IsFinished() {
		l.logger.CDebugf(ctx, "%T finished", cmd)
		l.active = nil
		l.initialized = false
		return cmd.End(ctx, false)
	}
	return nil
}

// Start runs Step on every tick of the loop's clock in a background goroutine until Stop.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return errors.New("loop is already running")
	}
	l.logger.Infof("running loop at %.1fHz (%v)", l.frequency, l.dt)

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.ticker = l.clk.Ticker(l.dt)
	ticker := l.ticker

	l.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := l.Step(ctx); err != nil {
				l.logger.CWarnw(ctx, "control cycle failed", "error", err)
			}
		}
	}, l.activeBackgroundWorkers.Done)
	return nil
}

// Stop halts the background loop, waits for the cycle in progress and interrupts the active
// command.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}

	l.logger.Debug("closing loop")
	cancel()
	l.activeBackgroundWorkers.Wait()
	l.ticker.Stop()
	return l.Cancel(ctx)
}
