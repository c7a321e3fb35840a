package cli

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/swerve/components/base/swerve"
	"go.viam.com/swerve/config"
	"go.viam.com/swerve/kinematics"
	"go.viam.com/swerve/sim"
)

func speedsFromFlags(c *cli.Context) kinematics.ChassisSpeeds {
	return kinematics.ChassisSpeeds{
		Vx:    c.Float64(flagVx),
		Vy:    c.Float64(flagVy),
		Omega: c.Float64(flagOmega),
	}
}

// DriveAction drives the simulated robot at a fixed velocity for --duration of simulated time.
func DriveAction(c *cli.Context) (err error) {
	duration := c.Duration(flagDuration)
	if duration <= 0 {
		return errors.Errorf("--%s must be positive", flagDuration)
	}
	logger := newLogger(c)
	conf, err := readConfig(c, logger)
	if err != nil {
		return err
	}

	clk := clock.NewMock()
	s, err := newSimulation(c.Context, conf, clk, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, s.close(context.Background()))
	}()

	cmd := s.robot.Drivetrain().NewDriveCommand(
		speedsFromFlags(c), c.Bool(flagFieldRelative), c.Bool(flagHeadingHold), duration)
	if err := s.loop.SetCommand(c.Context, cmd); err != nil {
		return err
	}
	if _, err := s.stepUntilDone(cycleContext(c), clk, duration+s.loop.Period()); err != nil {
		return err
	}
	return s.report(c, c.String(flagPlot))
}

// BalanceAction runs auto level on the simulated ramp until it settles or --timeout passes.
func BalanceAction(c *cli.Context) (err error) {
	logger := newLogger(c)
	conf, err := readConfig(c, logger)
	if err != nil {
		return err
	}
	if conf.Sim == nil {
		conf.Sim = &sim.Config{}
	}
	if conf.Sim.Ramp == nil {
		ramp := defaultRamp
		conf.Sim.Ramp = &ramp
		printf(c.App.Writer, "no ramp configured, using one pivoting at y=%.2fm", ramp.PivotYM)
	}

	clk := clock.NewMock()
	s, err := newSimulation(c.Context, conf, clk, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, s.close(context.Background()))
	}()

	level := s.robot.Drivetrain().AutoLevel()
	if err := s.loop.SetCommand(c.Context, level); err != nil {
		return err
	}
	timeout := c.Duration(flagTimeout)
	elapsed, err := s.stepUntilDone(cycleContext(c), clk, timeout)
	if err != nil {
		return err
	}
	if level.State() != swerve.Settled {
		return errors.Errorf("auto level did not settle within %v, tilt is %.2f°", timeout, s.robot.TiltDegs())
	}
	printf(c.App.Writer, "settled after %v at %.2f° tilt, %s", elapsed, s.robot.TiltDegs(), s.robot.Truth())

	table, err := s.moduleTable(c.Context)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", table)
	return nil
}

// RunAction drives in real time until --duration passes or the command is interrupted. Gains are
// reloaded whenever the config file is rewritten.
func RunAction(c *cli.Context) (err error) {
	logger := newLogger(c)
	conf, err := readConfig(c, logger)
	if err != nil {
		return err
	}

	clk := clock.New()
	s, err := newSimulation(c.Context, conf, clk, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, s.close(context.Background()))
	}()

	watcher, err := config.NewWatcher(c.Context, conf.ConfigFilePath, logger.Sublogger("config"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, watcher.Close())
	}()

	drive := s.robot.Drivetrain()
	cmd := drive.NewDriveCommand(speedsFromFlags(c), c.Bool(flagFieldRelative), c.Bool(flagHeadingHold), 0)
	if err := s.loop.SetCommand(c.Context, cmd); err != nil {
		return err
	}
	if err := s.loop.Start(); err != nil {
		return err
	}

	var done <-chan time.Time
	if duration := c.Duration(flagDuration); duration > 0 {
		timer := clk.Timer(duration)
		defer timer.Stop()
		done = timer.C
	}
	printf(c.App.Writer, "running at %.0fHz, watching %s", conf.Frequency(), conf.ConfigFilePath)

running:
	for {
		select {
		case <-c.Context.Done():
			break running
		case <-done:
			break running
		case newConf := <-watcher.Config():
			if err := drive.UpdateGains(&newConf.Drivetrain); err != nil {
				warningf(c.App.ErrWriter, "ignoring new gains: %v", err)
				continue
			}
			if newConf.LogLevel != nil && !c.Bool(flagDebug) {
				logger.SetLevel(*newConf.LogLevel)
			}
			printf(c.App.Writer, "reloaded gains from %s", newConf.ConfigFilePath)
		}
	}

	if err := s.loop.Stop(context.Background()); err != nil {
		return err
	}
	return s.report(c, "")
}

// ModulesAction runs one control cycle and prints every module's measured state.
func ModulesAction(c *cli.Context) (err error) {
	logger := newLogger(c)
	conf, err := readConfig(c, logger)
	if err != nil {
		return err
	}

	clk := clock.NewMock()
	s, err := newSimulation(c.Context, conf, clk, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, s.close(context.Background()))
	}()

	clk.Add(s.loop.Period())
	if err := s.loop.Step(cycleContext(c)); err != nil {
		return err
	}
	table, err := s.moduleTable(c.Context)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", table)
	return nil
}
