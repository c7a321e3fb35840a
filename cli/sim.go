package cli

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.viam.com/swerve/components/vision"
	"go.viam.com/swerve/config"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/robot"
	"go.viam.com/swerve/sim"
)

// defaultRamp is used by balance when the config has no ramp of its own. It tilts about the
// field Y axis, which shows up as roll at the starting heading.
var defaultRamp = sim.RampConfig{PivotYM: 0.5, AxisDegs: 90}

// simulation is a simulated robot wired into a control loop.
type simulation struct {
	conf  *config.Config
	robot *sim.Robot
	loop  *robot.Loop
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(flagDebug) {
		return logging.NewDebugLogger("swervesim")
	}
	return logging.NewLogger("swervesim")
}

// cycleContext is the context control cycles run with.
func cycleContext(c *cli.Context) context.Context {
	if c.Bool(flagDebugCycles) {
		return logging.EnableDebugMode(c.Context, "cycle")
	}
	return c.Context
}

// readConfig reads the --config file and applies its log level unless --debug was given.
func readConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	conf, err := config.Read(c.Context, c.String(flagConfig), logger)
	if err != nil {
		return nil, err
	}
	if conf.LogLevel != nil && !c.Bool(flagDebug) {
		logger.SetLevel(*conf.LogLevel)
	}
	return conf, nil
}

func newSimulation(ctx context.Context, conf *config.Config, clk clock.Clock, logger logging.Logger) (*simulation, error) {
	simConf := sim.Config{}
	if conf.Sim != nil {
		simConf = *conf.Sim
	}
	var sources []vision.SourceConfig
	if conf.Vision != nil {
		sources = conf.Vision.Sources
	}

	r, err := sim.New(ctx, &conf.Drivetrain, sources, simConf, clk, logger.Sublogger("sim"))
	if err != nil {
		return nil, errors.Wrap(err, "building simulated robot")
	}
	loop, err := robot.NewLoop(conf.Frequency(), clk, logger.Sublogger("loop"))
	if err != nil {
		goutils.UncheckedError(r.Close(ctx))
		return nil, err
	}
	// the world moves before the drivetrain reads its sensors
	loop.AddSubsystem(r)
	loop.AddSubsystem(r.Drivetrain())
	return &simulation{conf: conf, robot: r, loop: loop}, nil
}

// stepUntilDone advances clk one loop period at a time until the active command finishes or
// limit elapses, and returns the simulated time spent.
func (s *simulation) stepUntilDone(ctx context.Context, clk *clock.Mock, limit time.Duration) (time.Duration, error) {
	var elapsed time.Duration
	for elapsed < limit && s.loop.ActiveCommand() != nil {
		if err := ctx.Err(); err != nil {
			return elapsed, err
		}
		clk.Add(s.loop.Period())
		elapsed += s.loop.Period()
		if err := s.loop.Step(ctx); err != nil {
			return elapsed, err
		}
	}
	return elapsed, nil
}

func (s *simulation) close(ctx context.Context) error {
	return s.robot.Close(ctx)
}

// report prints the final poses, the estimate error over the run and per source vision counts.
func (s *simulation) report(c *cli.Context, plotPath string) error {
	w := c.App.Writer
	drive := s.robot.Drivetrain()
	printf(w, "true pose:      %s", s.robot.Truth())
	printf(w, "estimated pose: %s", drive.EstimatedPose())

	trace := s.robot.Trace()
	if len(trace) == 0 {
		warningf(c.App.ErrWriter, "no control cycles ran")
		return nil
	}
	summary, err := sim.Summarize(trace)
	if err != nil {
		return err
	}
	printf(w, "%s", summary)

	stats := drive.VisionStats()
	printf(w, "vision samples: %d applied, %d stale, %d invalid", stats.Applied, stats.Stale, stats.Invalid)
	if s.conf.Vision != nil {
		states := s.robot.SourceStates()
		published := s.robot.Published()
		for _, src := range s.conf.Vision.Sources {
			printf(w, "\t%s: %d published, %s", src.ID, published[src.ID], states[src.ID])
		}
	}

	if plotPath != "" {
		if err := sim.PlotTrace(trace, "swervesim "+c.Command.Name, plotPath); err != nil {
			return err
		}
		printf(w, "saved plot to %s", plotPath)
	}
	return nil
}

// moduleTable renders every module's measured state.
func (s *simulation) moduleTable(ctx context.Context) (string, error) {
	drive := s.robot.Drivetrain()
	states, err := drive.ModuleStates(ctx)
	if err != nil {
		return "", err
	}
	positions, err := drive.ModulePositions(ctx)
	if err != nil {
		return "", err
	}
	return sim.ModuleTable(drive.Kinematics().Geometry().Names(), states, positions), nil
}
