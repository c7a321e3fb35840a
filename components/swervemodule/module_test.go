package swervemodule_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/swerve/components/swervemodule"
	"go.viam.com/swerve/components/swervemodule/fake"
	"go.viam.com/swerve/kinematics"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/utils"
)

func newTestModule(t *testing.T, conf fake.Config) (*swervemodule.Module, *fake.Actuator) {
	t.Helper()
	actuator := fake.NewActuator(conf)
	module, err := swervemodule.NewModule("fl", actuator, utils.DegToRad(conf.EncoderOffsetDegs), 4, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return module, actuator
}

func TestNewModule(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := swervemodule.NewModule("fl", nil, 0, 4, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = swervemodule.NewModule("fl", fake.NewActuator(fake.Config{}), 0, 0, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	module, actuator := newTestModule(t, fake.Config{EncoderOffsetDegs: 73, InitialAngleDegs: 30})

	t.Run("uninitialized modules emit nothing", func(t *testing.T) {
		actuator.SetAbsoluteReady(false)
		err := module.Initialize(ctx)
		test.That(t, errors.Is(err, swervemodule.ErrAbsoluteAngleUnavailable), test.ShouldBeTrue)
		test.That(t, module.Initialized(), test.ShouldBeFalse)

		test.That(t, module.SetDesiredState(ctx, kinematics.ModuleState{Speed: 1}, true), test.ShouldBeNil)
		drives, turns := actuator.CommandCounts()
		test.That(t, drives, test.ShouldEqual, 0)
		test.That(t, turns, test.ShouldEqual, 0)
	})

	t.Run("aligns to the absolute encoder", func(t *testing.T) {
		actuator.SetAbsoluteReady(true)
		test.That(t, module.Initialize(ctx), test.ShouldBeNil)
		test.That(t, module.Initialized(), test.ShouldBeTrue)

		pos, err := module.Position(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, utils.RadToDeg(pos.Angle), test.ShouldAlmostEqual, 30, 1e-9)
		// initializing again is a no-op
		test.That(t, module.Initialize(ctx), test.ShouldBeNil)
	})
}

func TestSetDesiredState(t *testing.T) {
	ctx := context.Background()
	module, actuator := newTestModule(t, fake.Config{MaxSpeed: 4})
	test.That(t, module.Initialize(ctx), test.ShouldBeNil)

	t.Run("open loop is a fraction of max speed", func(t *testing.T) {
		test.That(t, module.SetDesiredState(ctx, kinematics.ModuleState{Speed: 2, Angle: 0.5}, true), test.ShouldBeNil)
		test.That(t, actuator.LastDrive(), test.ShouldResemble, swervemodule.DriveCommand{Mode: swervemodule.OpenLoop, Value: 0.5})
		test.That(t, actuator.LastTurn(), test.ShouldAlmostEqual, 0.5)
	})

	t.Run("closed loop is a velocity", func(t *testing.T) {
		test.That(t, module.SetDesiredState(ctx, kinematics.ModuleState{Speed: 3, Angle: 0.5}, false), test.ShouldBeNil)
		test.That(t, actuator.LastDrive(), test.ShouldResemble, swervemodule.DriveCommand{Mode: swervemodule.ClosedLoop, Value: 3})
	})

	t.Run("reverses instead of turning more than a quarter turn", func(t *testing.T) {
		test.That(t, module.SetDesiredState(ctx, kinematics.ModuleState{Speed: 1, Angle: 0.5 + math.Pi*0.9}, false), test.ShouldBeNil)
		test.That(t, actuator.LastDrive().Value, test.ShouldEqual, -1.)
		test.That(t, math.Abs(utils.AngleDiff(actuator.LastTurn(), 0.5)), test.ShouldBeLessThanOrEqualTo, math.Pi/2)
		test.That(t, module.Desired().Speed, test.ShouldEqual, -1.)
	})

	t.Run("measured state follows the actuator", func(t *testing.T) {
		actuator.Tick(100 * time.Millisecond)
		state, err := module.State(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, state.Speed, test.ShouldAlmostEqual, -1)
		test.That(t, state.Angle, test.ShouldAlmostEqual, actuator.LastTurn(), 1e-9)

		pos, err := module.Position(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pos.Distance, test.ShouldAlmostEqual, -0.1, 1e-9)
	})

	t.Run("actuator errors are returned", func(t *testing.T) {
		actuator.SetError(errors.New("bus off"))
		err := module.SetDesiredState(ctx, kinematics.ModuleState{Speed: 1}, true)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "bus off")
		_, err = module.State(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		actuator.SetError(nil)
	})

	test.That(t, module.Stop(ctx), test.ShouldBeNil)
	test.That(t, actuator.LastDrive().Value, test.ShouldEqual, 0.)
	test.That(t, module.Close(ctx), test.ShouldBeNil)
	test.That(t, actuator.Closed(), test.ShouldBeTrue)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	actuator, err := swervemodule.NewActuator(ctx, fake.ModelName, "fl", map[string]interface{}{
		"max_speed":           3.0,
		"encoder_offset_degs": 12,
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, actuator, test.ShouldNotBeNil)

	_, err = swervemodule.NewActuator(ctx, fake.ModelName, "fl", map[string]interface{}{"bogus": 1}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = swervemodule.NewActuator(ctx, "warp_drive", "fl", nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown actuator model")
	test.That(t, swervemodule.RegisteredModels(), test.ShouldContain, fake.ModelName)
}
