// Package swerve implements a holonomic base whose wheels are independently steered modules.
//
// The Drivetrain turns chassis velocity commands into per-module states, keeps the field pose
// estimate current every control cycle and hosts the heading hold and auto-level controllers.
package swerve

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/swerve/components/movementsensor"
	"go.viam.com/swerve/components/swervemodule"
	"go.viam.com/swerve/components/vision"
	"go.viam.com/swerve/kinematics"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/services/poseestimator"
	"go.viam.com/swerve/spatialmath"
	"go.viam.com/swerve/utils"
)

// Drivetrain is a swerve drive base.
type Drivetrain struct {
	conf        *Config
	kin         *kinematics.Kinematics
	modules     []*swervemodule.Module
	gyro        movementsensor.AttitudeSensor
	estimator   *poseestimator.Estimator
	headingHold *HeadingHold
	autoLevel   *AutoLevel
	clk         clock.Clock
	logger      logging.Logger

	maxSpeed    float64
	maxRotation float64
	openLoop    bool

	mu        sync.Mutex
	sources   []vision.Source
	ready     bool
	lastDrive time.Time
}

// NewFromConfig builds every module's actuator from the registered actuator models and returns
// the drivetrain driving them.
func NewFromConfig(
	ctx context.Context,
	conf *Config,
	gyro movementsensor.AttitudeSensor,
	clk clock.Clock,
	logger logging.Logger,
) (*Drivetrain, error) {
	if err := conf.Validate("swerve"); err != nil {
		return nil, err
	}

	modules := make([]*swervemodule.Module, 0, len(conf.Modules))
	closeAll := func() {
		for _, m := range modules {
			goutils.UncheckedError(m.Close(ctx))
		}
	}
	for _, mc := range conf.Modules {
		moduleLogger := logger.Sublogger(mc.Name)
		actuator, err := swervemodule.NewActuator(ctx, mc.Model, mc.Name, mc.Attributes, moduleLogger)
		if err != nil {
			closeAll()
			return nil, err
		}
		m, err := swervemodule.NewModule(mc.Name, actuator, utils.DegToRad(mc.EncoderOffsetDegs), conf.maxSpeed(), moduleLogger)
		if err != nil {
			goutils.UncheckedError(actuator.Close(ctx))
			closeAll()
			return nil, err
		}
		modules = append(modules, m)
	}

	d, err := New(ctx, conf, modules, gyro, clk, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	return d, nil
}

// New returns a drivetrain over already built modules, given in the order of conf.Modules.
// Modules that cannot be aligned yet are retried by Periodic.
func New(
	ctx context.Context,
	conf *Config,
	modules []*swervemodule.Module,
	gyro movementsensor.AttitudeSensor,
	clk clock.Clock,
	logger logging.Logger,
) (*Drivetrain, error) {
	if err := conf.Validate("swerve"); err != nil {
		return nil, err
	}
	if gyro == nil {
		return nil, errors.New("swerve drive needs an attitude sensor")
	}
	if len(modules) != len(conf.Modules) {
		return nil, errors.Errorf("expected %d modules but got %d", len(conf.Modules), len(modules))
	}
	for i, m := range modules {
		if m.Name() != conf.Modules[i].Name {
			return nil, errors.Errorf("module %d is %q but the config expects %q", i, m.Name(), conf.Modules[i].Name)
		}
	}
	if clk == nil {
		clk = clock.New()
	}

	geometry, err := conf.geometry()
	if err != nil {
		return nil, err
	}
	kin, err := kinematics.New(geometry)
	if err != nil {
		return nil, err
	}
	estimatorConfig, err := conf.Estimator.estimatorConfig("swerve.estimator")
	if err != nil {
		return nil, err
	}
	headingHold, err := NewHeadingHold(conf.headingHoldPID(), conf.maxRotation(), logger.Sublogger("heading_hold"))
	if err != nil {
		return nil, err
	}

	d := &Drivetrain{
		conf:        conf,
		kin:         kin,
		modules:     modules,
		gyro:        gyro,
		headingHold: headingHold,
		clk:         clk,
		logger:      logger,
		maxSpeed:    conf.maxSpeed(),
		maxRotation: conf.maxRotation(),
		openLoop:    !conf.ClosedLoopTeleop,
	}

	heading, err := gyro.Heading(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading initial heading")
	}
	positions, err := d.ModulePositions(ctx)
	if err != nil {
		return nil, err
	}
	d.estimator, err = poseestimator.New(
		kin, estimatorConfig, spatialmath.NewZeroPose(), heading, positions, clk.Now(), logger.Sublogger("pose_estimator"))
	if err != nil {
		return nil, err
	}

	d.autoLevel, err = newAutoLevel(d, conf.AutoLevel, clk, logger.Sublogger("auto_level"))
	if err != nil {
		return nil, err
	}

	d.initializeModules(ctx)
	return d, nil
}

// initializeModules retries alignment of every module that is not yet aligned.
func (d *Drivetrain) initializeModules(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready {
		return
	}

	ready := true
	for _, m := range d.modules {
		if m.Initialized() {
			continue
		}
		if err := m.Initialize(ctx); err != nil {
			ready = false
			d.logger.CDebugw(ctx, "module not ready", "module", m.Name(), "error", err)
		}
	}
	if !ready {
		return
	}

	angles := make([]float64, len(d.modules))
	for i, m := range d.modules {
		angles[i] = m.Desired().Angle
	}
	if err := d.kin.ResetHeldAngles(angles); err != nil {
		d.logger.CWarnf(ctx, "could not reset held module angles: %v", err)
	}
	d.ready = true
	d.logger.CInfof(ctx, "all %d swerve modules aligned", len(d.modules))
}

// IsReady reports whether every module has been aligned to its absolute encoder. Commands sent
// before then only reach the aligned modules.
func (d *Drivetrain) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Periodic runs once per control cycle: it retries module alignment, dead-reckons the pose
// estimate and then applies whatever vision samples arrived since the previous cycle.
func (d *Drivetrain) Periodic(ctx context.Context) error {
	d.initializeModules(ctx)

	heading, err := d.gyro.Heading(ctx)
	if err != nil {
		return errors.Wrap(err, "reading heading")
	}
	positions, err := d.ModulePositions(ctx)
	if err != nil {
		return err
	}
	if _, err := d.estimator.Update(d.clk.Now(), heading, positions); err != nil {
		return err
	}

	d.mu.Lock()
	sources := append([]vision.Source(nil), d.sources...)
	d.mu.Unlock()
	for _, src := range sources {
		if sample, ok := src.PollLatestSample(ctx); ok {
			d.estimator.AddVisionSample(sample)
		}
	}
	return nil
}

// AddVisionSource registers a source polled by Periodic. Sources are polled in the order added.
func (d *Drivetrain) AddVisionSource(source vision.Source) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources = append(d.sources, source)
}

// Drive commands a chassis velocity. Field relative commands are rotated by the estimated
// heading, and heading hold, when enabled, replaces Omega.
func (d *Drivetrain) Drive(ctx context.Context, speeds kinematics.ChassisSpeeds, fieldRelative bool) error {
	heading := d.estimator.Pose().Theta

	now := d.clk.Now()
	d.mu.Lock()
	var dt time.Duration
	if !d.lastDrive.IsZero() {
		dt = now.Sub(d.lastDrive)
	}
	d.lastDrive = now
	d.mu.Unlock()

	speeds = d.headingHold.Apply(heading, speeds, dt)
	if fieldRelative {
		speeds = kinematics.FromFieldRelative(speeds, heading)
	}
	return d.setStates(ctx, d.kin.InverseKinematics(speeds), d.openLoop)
}

// DrivePercent drives from normalized inputs in [-1, 1], scaled by the max chassis speed and max
// rotation rate.
func (d *Drivetrain) DrivePercent(ctx context.Context, forward, strafe, rotation float64, fieldRelative bool) error {
	return d.Drive(ctx, kinematics.ChassisSpeeds{
		Vx:    utils.Clamp(forward, -1, 1) * d.maxSpeed,
		Vy:    utils.Clamp(strafe, -1, 1) * d.maxSpeed,
		Omega: utils.Clamp(rotation, -1, 1) * d.maxRotation,
	}, fieldRelative)
}

// SetModuleStates sends one state per module directly, after desaturation. Their angles become
// the ones a later zero Drive command holds.
func (d *Drivetrain) SetModuleStates(ctx context.Context, states []kinematics.ModuleState, openLoop bool) error {
	if len(states) != len(d.modules) {
		return errors.Errorf("expected %d module states but got %d", len(d.modules), len(states))
	}
	angles := make([]float64, len(states))
	for i, s := range states {
		angles[i] = s.Angle
	}
	if err := d.kin.ResetHeldAngles(angles); err != nil {
		return err
	}
	return d.setStates(ctx, states, openLoop)
}

func (d *Drivetrain) setStates(ctx context.Context, states []kinematics.ModuleState, openLoop bool) error {
	var err error
	for i, s := range kinematics.Desaturate(states, d.maxSpeed) {
		err = multierr.Append(err, d.modules[i].SetDesiredState(ctx, s, openLoop))
	}
	return err
}

// ModuleStates returns every module's measured speed and angle.
func (d *Drivetrain) ModuleStates(ctx context.Context) ([]kinematics.ModuleState, error) {
	states := make([]kinematics.ModuleState, len(d.modules))
	var err error
	for i, m := range d.modules {
		s, stateErr := m.State(ctx)
		states[i] = s
		err = multierr.Append(err, stateErr)
	}
	if err != nil {
		return nil, err
	}
	return states, nil
}

// ModulePositions returns every module's measured distance and angle.
func (d *Drivetrain) ModulePositions(ctx context.Context) ([]kinematics.ModulePosition, error) {
	positions := make([]kinematics.ModulePosition, len(d.modules))
	var err error
	for i, m := range d.modules {
		p, posErr := m.Position(ctx)
		positions[i] = p
		err = multierr.Append(err, posErr)
	}
	if err != nil {
		return nil, err
	}
	return positions, nil
}

// ModulePoses returns each wheel's field pose, pointing along its steering angle.
func (d *Drivetrain) ModulePoses(ctx context.Context) ([]spatialmath.Pose2D, error) {
	states, err := d.ModuleStates(ctx)
	if err != nil {
		return nil, err
	}
	pose := d.estimator.Pose()
	geometry := d.kin.Geometry()
	poses := make([]spatialmath.Pose2D, len(states))
	for i, s := range states {
		poses[i] = pose.TransformBy(spatialmath.NewPose2D(geometry.Location(i).Offset, s.Angle))
	}
	return poses, nil
}

// EstimatedPose returns a copy of the field pose estimate.
func (d *Drivetrain) EstimatedPose() spatialmath.Pose2D {
	return d.estimator.Pose()
}

// VisionStats returns how many vision samples were applied and dropped.
func (d *Drivetrain) VisionStats() poseestimator.Stats {
	return d.estimator.Stats()
}

// ResetPose re-references the gyro to pose's heading and restarts the estimate at pose.
func (d *Drivetrain) ResetPose(ctx context.Context, pose spatialmath.Pose2D) error {
	if err := d.gyro.SetHeadingZero(ctx, pose.Theta); err != nil {
		return errors.Wrap(err, "resetting heading")
	}
	heading, err := d.gyro.Heading(ctx)
	if err != nil {
		return errors.Wrap(err, "reading heading")
	}
	positions, err := d.ModulePositions(ctx)
	if err != nil {
		return err
	}
	if err := d.estimator.ResetPose(pose, heading, positions, d.clk.Now()); err != nil {
		return err
	}
	if d.headingHold.Enabled() {
		d.headingHold.SetTarget(pose.Theta)
	}
	return nil
}

// Tilt reads the given tilt axis in radians.
func (d *Drivetrain) Tilt(ctx context.Context, axis movementsensor.Axis) (float64, error) {
	return d.gyro.Tilt(ctx, axis)
}

// HeadingHold returns the drivetrain's heading hold controller.
func (d *Drivetrain) HeadingHold() *HeadingHold {
	return d.headingHold
}

// AutoLevel returns the drivetrain's auto-level command.
func (d *Drivetrain) AutoLevel() *AutoLevel {
	return d.autoLevel
}

// Modules returns the modules in configuration order.
func (d *Drivetrain) Modules() []*swervemodule.Module {
	return d.modules
}

// Kinematics returns the kinematics shared with the pose estimator.
func (d *Drivetrain) Kinematics() *kinematics.Kinematics {
	return d.kin
}

// MaxSpeed is the fastest any wheel is commanded, in m/s.
func (d *Drivetrain) MaxSpeed() float64 {
	return d.maxSpeed
}

// UpdateGains retunes the heading hold and auto-level controllers from conf. Everything else in
// conf is ignored; a new module layout needs a new Drivetrain.
func (d *Drivetrain) UpdateGains(conf *Config) error {
	if err := conf.Validate("swerve"); err != nil {
		return err
	}
	if err := d.headingHold.SetGains(conf.headingHoldPID()); err != nil {
		return err
	}
	if err := d.autoLevel.SetGains(conf.AutoLevel.pidConfig()); err != nil {
		return err
	}
	d.logger.Debugw("controller gains updated", "heading_hold", conf.headingHoldPID(), "auto_level", conf.AutoLevel.pidConfig())
	return nil
}

// Stop zeroes every drive output.
func (d *Drivetrain) Stop(ctx context.Context) error {
	var err error
	for _, m := range d.modules {
		err = multierr.Append(err, m.Stop(ctx))
	}
	return err
}

// Close stops and releases every module.
func (d *Drivetrain) Close(ctx context.Context) error {
	err := d.Stop(ctx)
	for _, m := range d.modules {
		err = multierr.Append(err, m.Close(ctx))
	}
	return err
}
