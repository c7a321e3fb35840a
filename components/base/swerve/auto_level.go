package swerve

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/swerve/components/movementsensor"
	"go.viam.com/swerve/control"
	"go.viam.com/swerve/kinematics"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/utils"
)

// LevelState is the progress of an auto-level run.
type LevelState int

const (
	// Leveling means the chassis is still being driven toward zero tilt.
	Leveling LevelState = iota
	// Settled means the tilt stayed inside the threshold for the whole dwell time. It is terminal
	// until the next Initialize.
	Settled
)

func (s LevelState) String() string {
	if s == Settled {
		return "settled"
	}
	return "leveling"
}

// AutoLevel drives every wheel at a fixed angle to bring the chassis level on a tilting platform,
// then braces the wheels. It follows the command lifecycle of robot.Loop.
type AutoLevel struct {
	drive  *Drivetrain
	pid    *control.PID
	filter *control.MovingAverage
	dwell  *control.Stopwatch
	clk    clock.Clock
	logger logging.Logger

	axis       movementsensor.Axis
	wheelAngle float64
	threshold  float64
	dwellTime  time.Duration
	maxSpeed   float64
	lockSpeed  float64

	mu          sync.Mutex
	running     bool
	state       LevelState
	tiltOffset  float64
	lastTilt    float64
	lastOutput  float64
	lastExecute time.Time
}

func newAutoLevel(d *Drivetrain, cfg *AutoLevelConfig, clk clock.Clock, logger logging.Logger) (*AutoLevel, error) {
	if cfg == nil {
		cfg = &AutoLevelConfig{}
	}

	pid, err := control.NewPID(cfg.pidConfig())
	if err != nil {
		return nil, err
	}

	axis := movementsensor.Roll
	if cfg.Axis != "" {
		if axis, err = movementsensor.AxisFromString(cfg.Axis); err != nil {
			return nil, err
		}
	}

	a := &AutoLevel{
		drive:      d,
		pid:        pid,
		dwell:      control.NewStopwatch(clk),
		clk:        clk,
		logger:     logger,
		axis:       axis,
		wheelAngle: utils.DegToRad(defaultLevelWheelDegs),
		threshold:  defaultLevelThresholdDegs,
		dwellTime:  defaultLevelDwell,
		maxSpeed:   d.maxSpeed,
		lockSpeed:  defaultLockSpeedFraction * d.maxSpeed,
		tiltOffset: cfg.TiltOffsetDegs,
	}
	if cfg.FilterSize > 1 {
		if a.filter, err = control.NewMovingAverage(cfg.FilterSize); err != nil {
			return nil, err
		}
	}
	if cfg.WheelAngleDegs != nil {
		a.wheelAngle = utils.WrapAngle(utils.DegToRad(*cfg.WheelAngleDegs))
	}
	if cfg.ThresholdDegs > 0 {
		a.threshold = cfg.ThresholdDegs
	}
	if cfg.DwellMs > 0 {
		a.dwellTime = time.Duration(cfg.DwellMs) * time.Millisecond
	}
	if cfg.MaxSpeedMps > 0 {
		a.maxSpeed = math.Min(cfg.MaxSpeedMps, d.maxSpeed)
	}
	return a, nil
}

// Initialize starts a run: the wheels turn to the leveling angle without moving.
func (a *AutoLevel) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	a.state = Leveling
	a.pid.Reset()
	a.pid.SetSetpoint(0)
	if a.filter != nil {
		a.filter.Reset()
	}
	a.dwell.Reset()
	a.lastOutput = 0
	a.lastExecute = a.clk.Now()
	a.logger.CInfof(ctx, "auto level started on %s", a.axis)
	return a.drive.SetModuleStates(ctx, a.uniform(0), false)
}

// Execute runs one leveling step. It does nothing once settled or before Initialize.
func (a *AutoLevel) Execute(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.state == Settled {
		return nil
	}

	tilt, err := a.tilt(ctx)
	if err != nil {
		return err
	}
	if a.filter != nil {
		tilt = a.filter.Next(tilt)
	}
	a.lastTilt = tilt

	now := a.clk.Now()
	dt := now.Sub(a.lastExecute)
	a.lastExecute = now

	// positive tilt drives the wheels forward along the leveling angle
	speed := utils.ClampMagnitude(-a.pid.Calculate(tilt, dt), a.maxSpeed)
	a.lastOutput = speed
	err = a.drive.SetModuleStates(ctx, a.uniform(speed), false)

	if math.Abs(tilt) < a.threshold {
		a.dwell.Start()
	} else {
		a.dwell.Reset()
	}
	if a.dwell.Running() && a.dwell.Elapsed() >= a.dwellTime {
		a.state = Settled
		a.logger.CInfof(ctx, "auto level settled at %.2f°", tilt)
	}
	return err
}

// IsFinished reports whether the chassis settled.
func (a *AutoLevel) IsFinished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == Settled
}

// End braces the wheels in an X so the chassis resists rolling, whether it settled or was
// interrupted.
func (a *AutoLevel) End(ctx context.Context, interrupted bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	if interrupted {
		a.logger.CInfof(ctx, "auto level interrupted in state %s", a.state)
	}
	return a.drive.SetModuleStates(ctx, a.lockStates(), false)
}

// Enable is Initialize.
func (a *AutoLevel) Enable(ctx context.Context) error {
	return a.Initialize(ctx)
}

// Disable is End for an interrupted run.
func (a *AutoLevel) Disable(ctx context.Context) error {
	return a.End(ctx, true)
}

// State returns where the current or last run is.
func (a *AutoLevel) State() LevelState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetTiltOffset sets the degrees added to every tilt reading.
func (a *AutoLevel) SetTiltOffset(degs float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tiltOffset = degs
}

// TiltOffset returns the degrees added to every tilt reading.
func (a *AutoLevel) TiltOffset() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tiltOffset
}

// CaptureTiltOffset zeroes the tilt at the current reading. Call it with the chassis on level
// ground.
func (a *AutoLevel) CaptureTiltOffset(ctx context.Context) error {
	raw, err := a.drive.Tilt(ctx, a.axis)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tiltOffset = -utils.RadToDeg(raw)
	a.logger.CInfof(ctx, "tilt offset captured as %.2f°", a.tiltOffset)
	return nil
}

// Output returns the last commanded wheel speed and the tilt, in degrees, it was computed from.
func (a *AutoLevel) Output() (speed, tiltDegs float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastOutput, a.lastTilt
}

// SetGains retunes the leveling controller.
func (a *AutoLevel) SetGains(cfg control.PIDConfig) error {
	return a.pid.SetGains(cfg)
}

func (a *AutoLevel) tilt(ctx context.Context) (float64, error) {
	raw, err := a.drive.Tilt(ctx, a.axis)
	if err != nil {
		return 0, err
	}
	return utils.RadToDeg(raw) + a.tiltOffset, nil
}

func (a *AutoLevel) uniform(speed float64) []kinematics.ModuleState {
	states := make([]kinematics.ModuleState, len(a.drive.modules))
	for i := range states {
		states[i] = kinematics.ModuleState{Speed: speed, Angle: a.wheelAngle}
	}
	return states
}

// lockStates alternates -45° and 45° across the modules, at a small speed that keeps the drive
// motors holding.
func (a *AutoLevel) lockStates() []kinematics.ModuleState {
	states := make([]kinematics.ModuleState, len(a.drive.modules))
	for i := range states {
		angle := -math.Pi / 4
		if i%2 == 1 {
			angle = math.Pi / 4
		}
		states[i] = kinematics.ModuleState{Speed: a.lockSpeed, Angle: angle}
	}
	return states
}
