package swerve

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"go.uber.org/multierr"
	"go.viam.com/test"

	fakemovementsensor "go.viam.com/swerve/components/movementsensor/fake"
	"go.viam.com/swerve/components/swervemodule"
	fakemodule "go.viam.com/swerve/components/swervemodule/fake"
	"go.viam.com/swerve/components/vision"
	"go.viam.com/swerve/control"
	"go.viam.com/swerve/kinematics"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/services/poseestimator"
	"go.viam.com/swerve/spatialmath"
	"go.viam.com/swerve/utils"
)

const halfSide = 0.3

func testConfig() *Config {
	return &Config{
		Modules: []ModuleConfig{
			{Name: kinematics.FrontLeft, XM: halfSide, YM: halfSide, Model: fakemodule.ModelName},
			{Name: kinematics.FrontRight, XM: halfSide, YM: -halfSide, Model: fakemodule.ModelName},
			{Name: kinematics.BackLeft, XM: -halfSide, YM: halfSide, Model: fakemodule.ModelName},
			{Name: kinematics.BackRight, XM: -halfSide, YM: -halfSide, Model: fakemodule.ModelName},
		},
		ClosedLoopTeleop: true,
	}
}

type testRig struct {
	drive     *Drivetrain
	actuators []*fakemodule.Actuator
	gyro      *fakemovementsensor.AttitudeSensor
	clk       *clock.Mock
}

func newTestRig(t *testing.T, conf *Config, logger logging.Logger, prepare func(i int, a *fakemodule.Actuator)) *testRig {
	t.Helper()
	if logger == nil {
		logger = logging.NewTestLogger(t)
	}
	rig := &testRig{gyro: fakemovementsensor.NewAttitudeSensor(), clk: clock.NewMock()}
	modules := make([]*swervemodule.Module, 0, len(conf.Modules))
	for i, mc := range conf.Modules {
		actuator := fakemodule.NewActuator(fakemodule.Config{})
		if prepare != nil {
			prepare(i, actuator)
		}
		m, err := swervemodule.NewModule(mc.Name, actuator, 0, conf.maxSpeed(), logger)
		test.That(t, err, test.ShouldBeNil)
		modules = append(modules, m)
		rig.actuators = append(rig.actuators, actuator)
	}
	d, err := New(context.Background(), conf, modules, rig.gyro, rig.clk, logger)
	test.That(t, err, test.ShouldBeNil)
	rig.drive = d
	return rig
}

// step advances time by one 20ms control cycle.
func (r *testRig) step(t *testing.T) {
	t.Helper()
	r.clk.Add(20 * time.Millisecond)
	for _, a := range r.actuators {
		a.Tick(20 * time.Millisecond)
	}
	test.That(t, r.drive.Periodic(context.Background()), test.ShouldBeNil)
}

// wheelVector is the ground velocity a commanded state produces, which is what matters regardless
// of whether the module chose to reverse.
func wheelVector(state kinematics.ModuleState) r2.Point {
	return r2.Point{X: state.Speed * math.Cos(state.Angle), Y: state.Speed * math.Sin(state.Angle)}
}

func desiredStates(d *Drivetrain) []kinematics.ModuleState {
	states := make([]kinematics.ModuleState, len(d.modules))
	for i, m := range d.modules {
		states[i] = m.Desired()
	}
	return states
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{name: "valid", modify: func(*Config) {}},
		{
			name:   "too few modules",
			modify: func(c *Config) { c.Modules = c.Modules[:1] },
			errMsg: "at least two modules",
		},
		{
			name:   "missing name",
			modify: func(c *Config) { c.Modules[2].Name = "" },
			errMsg: "\"name\" is required",
		},
		{
			name:   "missing model",
			modify: func(c *Config) { c.Modules[0].Model = "" },
			errMsg: "\"model\" is required",
		},
		{
			name:   "duplicate names",
			modify: func(c *Config) { c.Modules[1].Name = c.Modules[0].Name },
			errMsg: "duplicate module name",
		},
		{
			name: "all modules at one point",
			modify: func(c *Config) {
				for i := range c.Modules {
					c.Modules[i].XM, c.Modules[i].YM = 0.1, 0.1
				}
			},
			errMsg: "degenerate",
		},
		{
			name:   "negative speed",
			modify: func(c *Config) { c.MaxSpeedMps = -1 },
			errMsg: "max_speed_mps",
		},
		{
			name:   "heading hold without gains",
			modify: func(c *Config) { c.HeadingHold = &control.PIDConfig{} },
			errMsg: "heading_hold",
		},
		{
			name:   "bad estimator std devs",
			modify: func(c *Config) { c.Estimator = &EstimatorConfig{VisionStdDevs: []float64{1, 1}} },
			errMsg: "vision_std_devs",
		},
		{
			name:   "negative dwell",
			modify: func(c *Config) { c.AutoLevel = &AutoLevelConfig{DwellMs: -5} },
			errMsg: "cannot be negative",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conf := testConfig()
			tc.modify(conf)
			err := conf.Validate("swerve")
			if tc.errMsg == "" {
				test.That(t, err, test.ShouldBeNil)
				return
			}
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errMsg)
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	gyro := fakemovementsensor.NewAttitudeSensor()

	conf := testConfig()
	conf.Modules[0].Attributes = map[string]interface{}{"max_speed": 3}
	d, err := NewFromConfig(ctx, conf, gyro, clock.NewMock(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.IsReady(), test.ShouldBeTrue)
	test.That(t, d.MaxSpeed(), test.ShouldEqual, defaultMaxSpeed)
	test.That(t, d.Kinematics().Geometry().Names(), test.ShouldResemble,
		[]string{kinematics.FrontLeft, kinematics.FrontRight, kinematics.BackLeft, kinematics.BackRight})
	test.That(t, d.Close(ctx), test.ShouldBeNil)

	conf = testConfig()
	conf.Modules[3].Model = "warp_drive"
	_, err = NewFromConfig(ctx, conf, gyro, clock.NewMock(), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown actuator model")

	conf = testConfig()
	conf.Modules[1].Attributes = map[string]interface{}{"not_a_field": true}
	_, err = NewFromConfig(ctx, conf, gyro, clock.NewMock(), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewRejectsMismatchedModules(t *testing.T) {
	logger := logging.NewTestLogger(t)
	conf := testConfig()
	m, err := swervemodule.NewModule("wrong", fakemodule.NewActuator(fakemodule.Config{}), 0, 4.5, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = New(context.Background(), conf, []*swervemodule.Module{m}, fakemovementsensor.NewAttitudeSensor(), nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadiness(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, testConfig(), nil, func(i int, a *fakemodule.Actuator) {
		if i == 2 {
			a.SetAbsoluteReady(false)
		}
	})
	test.That(t, rig.drive.IsReady(), test.ShouldBeFalse)

	test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{Vx: 1}, false), test.ShouldBeNil)
	drives, _ := rig.actuators[2].CommandCounts()
	test.That(t, drives, test.ShouldEqual, 0)
	drives, _ = rig.actuators[0].CommandCounts()
	test.That(t, drives, test.ShouldEqual, 1)

	rig.step(t)
	test.That(t, rig.drive.IsReady(), test.ShouldBeFalse)

	rig.actuators[2].SetAbsoluteReady(true)
	rig.step(t)
	test.That(t, rig.drive.IsReady(), test.ShouldBeTrue)

	test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{Vx: 1}, false), test.ShouldBeNil)
	drives, _ = rig.actuators[2].CommandCounts()
	test.That(t, drives, test.ShouldEqual, 1)
}

func TestDriveStraight(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, testConfig(), nil, nil)

	test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{Vx: 1}, false), test.ShouldBeNil)
	for _, a := range rig.actuators {
		test.That(t, a.LastDrive(), test.ShouldResemble, swervemodule.DriveCommand{Mode: swervemodule.ClosedLoop, Value: 1})
		test.That(t, a.LastTurn(), test.ShouldAlmostEqual, 0, 1e-9)
	}

	for i := 0; i < 50; i++ {
		rig.step(t)
	}
	pose := rig.drive.EstimatedPose()
	test.That(t, pose.X, test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, pose.Y, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, pose.Theta, test.ShouldAlmostEqual, 0, 1e-9)

	states, err := rig.drive.ModuleStates(ctx)
	test.That(t, err, test.ShouldBeNil)
	speeds, err := rig.drive.Kinematics().ForwardKinematics(states)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, speeds.Vx, test.ShouldAlmostEqual, 1, 1e-9)

	poses, err := rig.drive.ModulePoses(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, poses[0].AlmostEqual(spatialmath.Pose2D{X: 1 + halfSide, Y: halfSide}, 1e-6, 1e-9), test.ShouldBeTrue)
	test.That(t, poses[3].AlmostEqual(spatialmath.Pose2D{X: 1 - halfSide, Y: -halfSide}, 1e-6, 1e-9), test.ShouldBeTrue)
}

func TestPureRotation(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, testConfig(), nil, nil)

	test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{Omega: 1}, false), test.ShouldBeNil)
	geometry := rig.drive.Kinematics().Geometry()
	for i, s := range desiredStates(rig.drive) {
		test.That(t, math.Abs(s.Speed), test.ShouldAlmostEqual, 0.424, 1e-3)
		v := wheelVector(s)
		offset := geometry.Location(i).Offset
		// tangential, counter-clockwise
		test.That(t, v.Dot(offset), test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, offset.Cross(v), test.ShouldBeGreaterThan, 0)
		// optimization never asks for more than a quarter turn from straight ahead
		test.That(t, math.Abs(s.Angle), test.ShouldBeLessThanOrEqualTo, math.Pi/2+1e-9)
	}

	t.Run("zero command holds the rotation angles", func(t *testing.T) {
		before := desiredStates(rig.drive)
		test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{}, false), test.ShouldBeNil)
		for i, s := range desiredStates(rig.drive) {
			test.That(t, s.Speed, test.ShouldEqual, 0.)
			test.That(t, utils.AngleDiff(s.Angle, before[i].Angle), test.ShouldAlmostEqual, 0, 1e-9)
		}
	})
}

func TestFieldRelative(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, testConfig(), nil, nil)
	rig.gyro.SetYaw(1.2)

	test.That(t, rig.drive.ResetPose(ctx, spatialmath.Pose2D{X: 2, Y: 1, Theta: math.Pi / 2}), test.ShouldBeNil)
	heading, err := rig.gyro.Heading(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, heading, test.ShouldAlmostEqual, math.Pi/2, 1e-9)
	pose := rig.drive.EstimatedPose()
	test.That(t, pose.AlmostEqual(spatialmath.Pose2D{X: 2, Y: 1, Theta: math.Pi / 2}, 1e-9, 1e-9), test.ShouldBeTrue)

	// facing +y on the field, a field +x command is a robot -y command
	test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{Vx: 1}, true), test.ShouldBeNil)
	for _, s := range desiredStates(rig.drive) {
		v := wheelVector(s)
		test.That(t, v.X, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, v.Y, test.ShouldAlmostEqual, -1, 1e-9)
	}

	for i := 0; i < 50; i++ {
		rig.step(t)
	}
	pose = rig.drive.EstimatedPose()
	test.That(t, pose.X, test.ShouldAlmostEqual, 3, 1e-6)
	test.That(t, pose.Y, test.ShouldAlmostEqual, 1, 1e-6)
}

func TestDrivePercent(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, testConfig(), nil, nil)

	test.That(t, rig.drive.DrivePercent(ctx, 0.5, 0, 0, false), test.ShouldBeNil)
	test.That(t, rig.actuators[0].LastDrive().Value, test.ShouldAlmostEqual, 2.25, 1e-9)

	test.That(t, rig.drive.DrivePercent(ctx, 3, 0, 0, false), test.ShouldBeNil)
	test.That(t, rig.actuators[0].LastDrive().Value, test.ShouldAlmostEqual, defaultMaxSpeed, 1e-9)

	t.Run("open loop teleop sends duty cycle", func(t *testing.T) {
		conf := testConfig()
		conf.ClosedLoopTeleop = false
		rig := newTestRig(t, conf, nil, nil)
		test.That(t, rig.drive.DrivePercent(ctx, 0.5, 0, 0, false), test.ShouldBeNil)
		test.That(t, rig.actuators[1].LastDrive(), test.ShouldResemble,
			swervemodule.DriveCommand{Mode: swervemodule.OpenLoop, Value: 0.5})
	})
}

func TestSetModuleStatesDesaturates(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, testConfig(), nil, nil)

	err := rig.drive.SetModuleStates(ctx, []kinematics.ModuleState{{Speed: 9}, {Speed: 4.5}, {Speed: 0}, {Speed: -2.25}}, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rig.actuators[0].LastDrive().Value, test.ShouldAlmostEqual, 4.5, 1e-9)
	test.That(t, rig.actuators[1].LastDrive().Value, test.ShouldAlmostEqual, 2.25, 1e-9)
	test.That(t, rig.actuators[3].LastDrive().Value, test.ShouldAlmostEqual, -1.125, 1e-9)

	err = rig.drive.SetModuleStates(ctx, []kinematics.ModuleState{{Speed: 1}}, false)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestZeroDriveKeepsDirectAngles(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, testConfig(), nil, nil)
	test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{Vx: 1}, false), test.ShouldBeNil)

	// the X lock auto level leaves behind
	test.That(t, rig.drive.AutoLevel().End(ctx, false), test.ShouldBeNil)
	test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{}, false), test.ShouldBeNil)
	for i, s := range desiredStates(rig.drive) {
		expected := -math.Pi / 4
		if i%2 == 1 {
			expected = math.Pi / 4
		}
		test.That(t, s.Speed, test.ShouldEqual, 0.)
		test.That(t, s.Angle, test.ShouldAlmostEqual, expected, 1e-9)
	}

	// a moving command takes over again
	test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{Vx: 1}, false), test.ShouldBeNil)
	for _, s := range desiredStates(rig.drive) {
		test.That(t, wheelVector(s).X, test.ShouldAlmostEqual, 1, 1e-9)
	}
}

func TestActuatorErrorsAreCombined(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, testConfig(), nil, nil)
	rig.actuators[1].SetError(errors.New("bus off"))
	rig.actuators[3].SetError(errors.New("bus off"))

	err := rig.drive.Drive(ctx, kinematics.ChassisSpeeds{Vx: 1}, false)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, len(multierr.Errors(err)), test.ShouldEqual, 2)
	test.That(t, err.Error(), test.ShouldContainSubstring, kinematics.FrontRight)
	test.That(t, err.Error(), test.ShouldContainSubstring, kinematics.BackRight)

	// healthy modules were still commanded
	test.That(t, rig.actuators[0].LastDrive().Value, test.ShouldEqual, 1.)
	test.That(t, rig.drive.Periodic(ctx), test.ShouldNotBeNil)
}

func TestVisionSources(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, nil)
	mailbox := vision.NewMailbox()
	rig.drive.AddVisionSource(mailbox)

	rig.step(t)
	mailbox.Publish(vision.Sample{
		Pose:      spatialmath.Pose2D{X: 1},
		Timestamp: rig.clk.Now(),
		Valid:     true,
		Source:    vision.LeftLocalizer,
	})
	rig.step(t)

	test.That(t, rig.drive.EstimatedPose().X, test.ShouldAlmostEqual, 0.1, 1e-9)
	test.That(t, rig.drive.VisionStats().Applied, test.ShouldEqual, 1)

	// nothing new was published
	rig.step(t)
	test.That(t, rig.drive.VisionStats(), test.ShouldResemble, poseestimator.Stats{Applied: 1})

	mailbox.Publish(vision.Sample{Timestamp: rig.clk.Now(), Valid: false})
	rig.step(t)
	test.That(t, rig.drive.VisionStats(), test.ShouldResemble, poseestimator.Stats{Applied: 1, Invalid: 1})
}

func TestHeadingHold(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := NewHeadingHold(control.PIDConfig{}, 1, logger)
	test.That(t, err, test.ShouldNotBeNil)

	hold, err := NewHeadingHold(control.PIDConfig{Kp: 3}, 1, logger)
	test.That(t, err, test.ShouldBeNil)

	speeds := kinematics.ChassisSpeeds{Vx: 1, Omega: 0.7}
	test.That(t, hold.Apply(0.5, speeds, 20*time.Millisecond), test.ShouldResemble, speeds)

	hold.Enable(0)
	test.That(t, hold.Enabled(), test.ShouldBeTrue)
	out := hold.Apply(0.1, speeds, 20*time.Millisecond)
	test.That(t, out.Vx, test.ShouldEqual, 1.)
	test.That(t, out.Omega, test.ShouldAlmostEqual, -0.3, 1e-9)

	// clamped to the max rotation rate
	out = hold.Apply(0.5, speeds, 20*time.Millisecond)
	test.That(t, out.Omega, test.ShouldAlmostEqual, -1, 1e-9)

	// the short way around the wrap point
	hold.Enable(math.Pi - 0.1)
	out = hold.Apply(-math.Pi+0.1, speeds, 20*time.Millisecond)
	test.That(t, out.Omega, test.ShouldAlmostEqual, -0.6, 1e-9)

	hold.SetTarget(3 * math.Pi)
	test.That(t, hold.Target(), test.ShouldAlmostEqual, -math.Pi, 1e-9)

	hold.Disable()
	test.That(t, hold.Apply(0.5, speeds, 20*time.Millisecond), test.ShouldResemble, speeds)

	t.Run("drivetrain applies it to every command", func(t *testing.T) {
		ctx := context.Background()
		rig := newTestRig(t, testConfig(), nil, nil)
		test.That(t, rig.drive.ResetPose(ctx, spatialmath.Pose2D{Theta: 0.5}), test.ShouldBeNil)
		rig.drive.HeadingHold().Enable(0)

		test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{Omega: 2}, true), test.ShouldBeNil)
		chassis, err := rig.drive.Kinematics().ForwardKinematics(desiredStates(rig.drive))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, chassis.Omega, test.ShouldAlmostEqual, -1.5, 1e-9)

		// resetting the pose moves the held target with it
		test.That(t, rig.drive.ResetPose(ctx, spatialmath.Pose2D{Theta: -1}), test.ShouldBeNil)
		test.That(t, rig.drive.HeadingHold().Target(), test.ShouldAlmostEqual, -1, 1e-9)
	})

	t.Run("idle time before enabling is not integrated", func(t *testing.T) {
		ctx := context.Background()
		conf := testConfig()
		conf.HeadingHold = &control.PIDConfig{Kp: 1, Ki: 1}
		rig := newTestRig(t, conf, nil, nil)
		omega := func() float64 {
			t.Helper()
			chassis, err := rig.drive.Kinematics().ForwardKinematics(desiredStates(rig.drive))
			test.That(t, err, test.ShouldBeNil)
			return chassis.Omega
		}

		test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{}, false), test.ShouldBeNil)
		rig.clk.Add(10 * time.Second)
		rig.drive.HeadingHold().Enable(0.1)

		test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{}, false), test.ShouldBeNil)
		test.That(t, omega(), test.ShouldAlmostEqual, 0.1, 1e-9)

		rig.clk.Add(20 * time.Millisecond)
		test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{}, false), test.ShouldBeNil)
		test.That(t, omega(), test.ShouldAlmostEqual, 0.102, 1e-9)

		// a stall while enabled leaves the integral where it was
		rig.clk.Add(10 * time.Second)
		test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{}, false), test.ShouldBeNil)
		test.That(t, omega(), test.ShouldAlmostEqual, 0.102, 1e-9)
	})
}

func TestUpdateGains(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, nil)
	hold := rig.drive.HeadingHold()
	hold.Enable(0.1)
	out := hold.Apply(0, kinematics.ChassisSpeeds{}, 20*time.Millisecond)
	test.That(t, out.Omega, test.ShouldAlmostEqual, 0.3, 1e-9)

	conf := testConfig()
	conf.HeadingHold = &control.PIDConfig{Kp: 5}
	conf.AutoLevel = &AutoLevelConfig{PID: &control.PIDConfig{Kp: 0.04}}
	test.That(t, rig.drive.UpdateGains(conf), test.ShouldBeNil)
	out = hold.Apply(0, kinematics.ChassisSpeeds{}, 20*time.Millisecond)
	test.That(t, out.Omega, test.ShouldAlmostEqual, 0.5, 1e-9)

	conf.HeadingHold = &control.PIDConfig{Kp: -1, OutputLimit: -1}
	test.That(t, rig.drive.UpdateGains(conf), test.ShouldNotBeNil)
}

func TestStopAndClose(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, testConfig(), nil, nil)
	test.That(t, rig.drive.Drive(ctx, kinematics.ChassisSpeeds{Vx: 1}, false), test.ShouldBeNil)
	test.That(t, rig.drive.Stop(ctx), test.ShouldBeNil)
	for _, a := range rig.actuators {
		test.That(t, a.LastDrive(), test.ShouldResemble, swervemodule.DriveCommand{Mode: swervemodule.OpenLoop})
	}
	test.That(t, rig.drive.Close(ctx), test.ShouldBeNil)
	for _, a := range rig.actuators {
		test.That(t, a.Closed(), test.ShouldBeTrue)
	}
}
