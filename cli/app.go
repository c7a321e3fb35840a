// Package cli contains the swervesim command line: scripted drives, auto level runs and a live
// loop against the simulated swerve robot.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	// DefaultConfigPath is where the sample robot config lives relative to the repository root.
	DefaultConfigPath = "etc/configs/swerve_sim.json"

	flagConfig        = "config"
	flagDebug         = "debug"
	flagDebugCycles   = "debug-cycles"
	flagVx            = "vx"
	flagVy            = "vy"
	flagOmega         = "omega"
	flagFieldRelative = "field-relative"
	flagHeadingHold   = "heading-hold"
	flagDuration      = "duration"
	flagTimeout       = "timeout"
	flagPlot          = "plot"
)

func driveFlags(defaultDuration time.Duration) []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:  flagVx,
			Usage: "forward velocity in m/s",
		},
		&cli.Float64Flag{
			Name:  flagVy,
			Usage: "leftward velocity in m/s",
		},
		&cli.Float64Flag{
			Name:  flagOmega,
			Usage: "counter-clockwise rotation rate in rad/s",
		},
		&cli.BoolFlag{
			Name:  flagFieldRelative,
			Usage: "interpret the velocity in the field frame",
		},
		&cli.BoolFlag{
			Name:  flagHeadingHold,
			Usage: "hold the starting heading instead of using --omega",
		},
		&cli.DurationFlag{
			Name:  flagDuration,
			Value: defaultDuration,
			Usage: "how long to drive",
		},
	}
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "swervesim",
		Usage:           "drive a simulated swerve robot",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   DefaultConfigPath,
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  flagDebugCycles,
				Usage: "log debug output from the control cycle only, at any log level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "drive",
				Usage: "drive at a fixed velocity in simulated time and report the estimate error",
				Flags: append(driveFlags(2*time.Second), &cli.StringFlag{
					Name:  flagPlot,
					Usage: "save a plot of the true and estimated paths to `FILE`",
				}),
				Action: DriveAction,
			},
			{
				Name:  "balance",
				Usage: "run auto level on the simulated ramp in simulated time",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  flagTimeout,
						Value: 20 * time.Second,
						Usage: "give up if the robot has not settled by then",
					},
				},
				Action: BalanceAction,
			},
			{
				Name:      "run",
				Usage:     "drive in real time, reloading gains whenever the config file changes",
				UsageText: "swervesim [global options] run [--vx m/s] [--vy m/s] [--omega rad/s] [--duration 0 runs until interrupted]",
				Flags:     driveFlags(0),
				Action:    RunAction,
			},
			{
				Name:   "modules",
				Usage:  "print every module's measured state",
				Action: ModulesAction,
			},
		},
	}
}
