// Package sim simulates a swerve robot on a clock: fake module actuators, a gyro that follows the
// true chassis rotation, a tilting platform and localizers that publish delayed, noisy poses.
//
// The Robot is a control loop subsystem and must run before the drivetrain in every cycle.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/swerve/components/base/swerve"
	"go.viam.com/swerve/components/movementsensor"
	fakemovementsensor "go.viam.com/swerve/components/movementsensor/fake"
	fakemodule "go.viam.com/swerve/components/swervemodule/fake"
	"go.viam.com/swerve/components/vision"
	"go.viam.com/swerve/kinematics"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/spatialmath"
	"go.viam.com/swerve/utils"
)

// TracePoint is the true and estimated pose at the end of a control cycle.
type TracePoint struct {
	Elapsed  time.Duration
	Truth    spatialmath.Pose2D
	Estimate spatialmath.Pose2D
	TiltDegs float64
}

// Robot is a simulated swerve robot.
type Robot struct {
	drive      *swerve.Drivetrain
	gyro       *fakemovementsensor.AttitudeSensor
	actuators  []*fakemodule.Actuator
	localizers []*localizer
	cfg        Config
	clk        clock.Clock
	logger     logging.Logger

	mu            sync.Mutex
	rng           *rand.Rand
	start         time.Time
	lastStep      time.Time
	truth         spatialmath.Pose2D
	prevPositions []kinematics.ModulePosition
	tiltDegs      float64
	trace         []TracePoint
}

// New builds the drivetrain described by driveConf over fake actuators, plus one simulated
// localizer per vision source. Every module must use the fake actuator model.
func New(
	ctx context.Context,
	driveConf *swerve.Config,
	sources []vision.SourceConfig,
	cfg Config,
	clk clock.Clock,
	logger logging.Logger,
) (*Robot, error) {
	if err := cfg.Validate("sim"); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	gyro := fakemovementsensor.NewAttitudeSensor()
	drive, err := swerve.NewFromConfig(ctx, driveConf, gyro, clk, logger.Sublogger("swerve"))
	if err != nil {
		return nil, err
	}

	modules := drive.Modules()
	actuators := make([]*fakemodule.Actuator, 0, len(modules))
	for _, m := range modules {
		a, ok := m.Actuator().(*fakemodule.Actuator)
		if !ok {
			goutils.UncheckedError(drive.Close(ctx))
			return nil, errors.Wrapf(utils.NewUnexpectedTypeError(a, m.Actuator()),
				"simulated module %s needs a %q actuator", m.Name(), fakemodule.ModelName)
		}
		actuators = append(actuators, a)
	}

	positions, err := drive.ModulePositions(ctx)
	if err != nil {
		goutils.UncheckedError(drive.Close(ctx))
		return nil, err
	}

	now := clk.Now()
	r := &Robot{
		drive:     drive,
		gyro:      gyro,
		actuators: actuators,
		cfg:       cfg,
		clk:       clk,
		logger:    logger,
		rng:       rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec
		start:     now,
		lastStep:  now,

		prevPositions: positions,
	}

	localizerConf := LocalizerConfig{}
	if cfg.Localizer != nil {
		localizerConf = *cfg.Localizer
	}
	for _, src := range sources {
		l, err := newLocalizer(src, localizerConf, now, clk, logger.Sublogger(string(src.ID)))
		if err != nil {
			goutils.UncheckedError(drive.Close(ctx))
			return nil, err
		}
		r.localizers = append(r.localizers, l)
		drive.AddVisionSource(l.source)
	}
	return r, nil
}

// Drivetrain returns the drivetrain under simulation.
func (r *Robot) Drivetrain() *swerve.Drivetrain {
	return r.drive
}

// Gyro returns the simulated attitude sensor.
func (r *Robot) Gyro() *fakemovementsensor.AttitudeSensor {
	return r.gyro
}

// Periodic records the previous cycle, then advances the simulated world to the clock's now: wheels
// roll for the elapsed time, the true pose and gyro follow them, the platform tilts and the
// localizers capture and deliver samples.
func (r *Robot) Periodic(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	r.trace = append(r.trace, TracePoint{
		Elapsed:  r.lastStep.Sub(r.start),
		Truth:    r.truth,
		Estimate: r.drive.EstimatedPose(),
		TiltDegs: r.tiltDegs,
	})

	dt := now.Sub(r.lastStep)
	r.lastStep = now
	if dt > 0 {
		for _, a := range r.actuators {
			a.Tick(dt)
		}
	}

	positions, err := r.drive.ModulePositions(ctx)
	if err != nil {
		return err
	}
	deltas, err := kinematics.PositionDeltas(r.prevPositions, positions)
	if err != nil {
		return err
	}
	twist, err := r.drive.Kinematics().ForwardDisplacement(deltas)
	if err != nil {
		return err
	}
	twist = twist.Scale(1 - r.cfg.WheelSlip)
	r.truth = r.truth.Exp(twist)
	r.gyro.AddYaw(twist.Dtheta + utils.DegToRad(r.cfg.GyroDriftDegsPerSec)*dt.Seconds())
	r.prevPositions = positions

	r.updateRamp(dt)
	for _, l := range r.localizers {
		l.step(now, r.truth, r.rng)
	}
	return nil
}

func (r *Robot) updateRamp(dt time.Duration) {
	ramp := r.cfg.Ramp
	if ramp == nil {
		return
	}
	offset := r.truth.Point().Sub(ramp.pivot()).Dot(ramp.axis())
	target := utils.ClampMagnitude(-ramp.slope()*offset, ramp.maxTilt())
	alpha := math.Min(1, dt.Seconds()/ramp.timeConst().Seconds())
	r.tiltDegs += (target - r.tiltDegs) * alpha

	// the platform tilts about a field axis; how much of it is pitch or roll depends on heading
	rel := utils.DegToRad(ramp.AxisDegs) - r.truth.Theta
	tilt := utils.DegToRad(r.tiltDegs)
	r.gyro.SetTilt(movementsensor.Pitch, tilt*math.Cos(rel))
	r.gyro.SetTilt(movementsensor.Roll, tilt*math.Sin(rel))
}

// SetPose teleports the robot. The gyro turns with it but the estimator is not told.
func (r *Robot) SetPose(pose spatialmath.Pose2D) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delta := utils.AngleDiff(pose.Theta, r.truth.Theta)
	r.truth = pose
	r.gyro.AddYaw(delta)
}

// Truth returns the true pose.
func (r *Robot) Truth() spatialmath.Pose2D {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.truth
}

// TiltDegs returns the platform's current tilt.
func (r *Robot) TiltDegs() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tiltDegs
}

// Trace returns a copy of every recorded cycle.
func (r *Robot) Trace() []TracePoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TracePoint, len(r.trace))
	copy(out, r.trace)
	return out
}

// SourceStates returns the reacquire state of every simulated localizer.
func (r *Robot) SourceStates() map[vision.SourceID]vision.ReacquireState {
	out := make(map[vision.SourceID]vision.ReacquireState, len(r.localizers))
	for _, l := range r.localizers {
		out[l.id] = l.source.State()
	}
	return out
}

// Published returns how many samples each localizer delivered.
func (r *Robot) Published() map[vision.SourceID]int {
	out := make(map[vision.SourceID]int, len(r.localizers))
	for _, l := range r.localizers {
		out[l.id] = l.deliveredCount()
	}
	return out
}

// Close closes the drivetrain.
func (r *Robot) Close(ctx context.Context) error {
	return r.drive.Close(ctx)
}
