// Package cli contains the motorctl command line application.
package cli

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/urfave/cli/v2"

	"github.com/tocado/motorctl/logging"
)

const (
	// Global flags.
	flagConfig  = "config"
	flagDebug   = "debug"
	flagLogFile = "log-file"
	flagLevel   = "log-level"
	flagFake    = "fake"

	// Overrides of the config file.
	flagName         = "name"
	flagPinA         = "pin-a"
	flagPinB         = "pin-b"
	flagNoPullup     = "no-pullup"
	flagDebounceMs   = "debounce-ms"
	flagMotorChannel = "motor-channel"
	flagI2CAddress   = "i2c-address"
	flagI2CBus       = "i2c-bus"
	flagDefaultDuty  = "default-duty"
	flagMinCount     = "min-count"
	flagMaxCount     = "max-count"
	flagTolerance    = "tolerance"
	flagMaxRuntime   = "max-runtime"
	flagPollInterval = "poll-interval"

	spinFlagDuty    = "duty"
	spinFlagSeconds = "seconds"

	moveFlagTarget   = "target"
	moveFlagTargetMM = "target-mm"
	moveFlagFraction = "fraction"
	moveFlagDuty     = "duty"
	moveFlagTimeout  = "timeout"

	jogFlagDuty    = "duty"
	jogFlagSeconds = "seconds"
	jogFlagReverse = "reverse"

	calibrateFlagJogDuty    = "jog-duty"
	calibrateFlagJogSeconds = "jog-seconds"
	calibrateFlagMoveDuty   = "move-duty"

	monitorFlagInterval   = "interval"
	monitorFlagShowLevels = "show-levels"
	monitorFlagLogEdges   = "log-edges"
)

// runtime holds what the commands need beyond their flags. Tests replace the rig opener and
// the interrupt source.
type runtime struct {
	openRig    rigOpener
	interrupts func() (<-chan os.Signal, func())
	clock      clock.Clock

	// debug turns on debug lines for the command's context only.
	debug        bool
	logger       logging.Logger
	fileAppender *logging.FileAppender
}

func notifyInterrupts() (<-chan os.Signal, func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	return sigs, func() { signal.Stop(sigs) }
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut. Logs go to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return newApp(out, errOut, &runtime{
		openRig:    openHardwareRig,
		interrupts: notifyInterrupts,
		clock:      clock.New(),
	})
}

func newApp(out, errOut io.Writer, rt *runtime) *cli.App {
	overrideFlags := []cli.Flag{
		&cli.StringFlag{Name: flagName, Usage: "logical motor name for logs"},
		&cli.StringFlag{Name: flagPinA, Usage: "encoder A `PIN` (name or number)"},
		&cli.StringFlag{Name: flagPinB, Usage: "encoder B `PIN` (name or number)"},
		&cli.BoolFlag{Name: flagNoPullup, Usage: "disable pull-ups on encoder pins"},
		&cli.IntFlag{Name: flagDebounceMs, Usage: "ignore encoder edges closer than this many milliseconds, 0 to disable"},
		&cli.IntFlag{Name: flagMotorChannel, Usage: "motor channel on the shield (1-4)"},
		&cli.StringFlag{Name: flagI2CAddress, Usage: "I2C address of the motor shield, e.g. 0x60"},
		&cli.StringFlag{Name: flagI2CBus, Usage: "I2C bus to use"},
		&cli.Float64Flag{Name: flagDefaultDuty, Usage: "default move duty (0..1)"},
		&cli.Int64Flag{Name: flagMinCount, Usage: "lower encoder bound"},
		&cli.Int64Flag{Name: flagMaxCount, Usage: "upper encoder bound"},
		&cli.Int64Flag{Name: flagTolerance, Usage: "stop tolerance in counts"},
		&cli.Float64Flag{Name: flagMaxRuntime, Usage: "max runtime `SECONDS` of any command"},
		&cli.Float64Flag{Name: flagPollInterval, Usage: "polling interval `SECONDS`"},
	}

	globalFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "log the driver and control loop debug lines of this command at any log level",
		},
		&cli.StringFlag{
			Name:  flagLevel,
			Value: "info",
			Usage: "log level: debug, info, warn or error, overrides log_level in the config",
		},
		&cli.StringFlag{
			Name:  flagLogFile,
			Usage: "also write json logs to `FILE`, rotated at 10MB",
		},
		&cli.BoolFlag{
			Name:  flagFake,
			Usage: "run against an in-memory board and motor instead of hardware",
		},
	}

	return &cli.App{
		Name:            "motorctl",
		Usage:           "drive a DC motor with encoder feedback",
		HideHelpCommand: true,
		Reader:          os.Stdin,
		Writer:          out,
		ErrWriter:       errOut,
		Flags:           append(globalFlags, overrideFlags...),
		Before:          rt.before,
		After:           rt.after,
		Commands: []*cli.Command{
			{
				Name:  "spin",
				Usage: "spin at a duty for a duration, then brake",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:     spinFlagDuty,
						Required: true,
						Usage:    "duty cycle -1..1, the sign sets the direction",
					},
					&cli.Float64Flag{
						Name:  spinFlagSeconds,
						Value: 2,
						Usage: "how long to spin",
					},
				},
				Action: rt.SpinAction,
			},
			{
				Name:  "move",
				Usage: "move to an encoder count, then brake",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  moveFlagTarget,
						Usage: "target encoder count",
					},
					&cli.Float64Flag{
						Name:  moveFlagTargetMM,
						Usage: "target position in millimeters, needs steps_per_mm",
					},
					&cli.Float64Flag{
						Name:  moveFlagFraction,
						Usage: "target as a fraction 0..1 of the travel between min and max count",
					},
					&cli.Float64Flag{
						Name:  moveFlagDuty,
						Usage: "duty 0..1, the direction is inferred",
					},
					&cli.Float64Flag{
						Name:  moveFlagTimeout,
						Usage: "timeout `SECONDS`, capped at the max runtime",
					},
				},
				Action: rt.MoveAction,
			},
			{
				Name:  "jog",
				Usage: "nudge the motor briefly, ignoring the position limits",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  jogFlagDuty,
						Value: 0.3,
						Usage: "duty magnitude 0..1",
					},
					&cli.Float64Flag{
						Name:  jogFlagSeconds,
						Value: 0.2,
						Usage: "how long to drive",
					},
					&cli.BoolFlag{
						Name:  jogFlagReverse,
						Usage: "jog backwards",
					},
				},
				Action: rt.JogAction,
			},
			{
				Name:   "release",
				Usage:  "let the motor coast so it can be turned by hand",
				Action: rt.ReleaseAction,
			},
			{
				Name: "calibrate",
				Usage: "interactive session on stdin: jog to the stops, zero the encoder, " +
					"record the travel and move to fractions of it",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  calibrateFlagJogDuty,
						Value: 0.3,
						Usage: "duty for f/b jogs",
					},
					&cli.Float64Flag{
						Name:  calibrateFlagJogSeconds,
						Value: 0.2,
						Usage: "duration `SECONDS` of one jog",
					},
					&cli.Float64Flag{
						Name:  calibrateFlagMoveDuty,
						Usage: "duty for moves, default_duty when unset",
					},
				},
				Action: rt.CalibrateAction,
			},
			{
				Name:  "monitor",
				Usage: "print the encoder count until interrupted, for checking wiring",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  monitorFlagInterval,
						Value: 0.2,
						Usage: "print interval `SECONDS`",
					},
					&cli.BoolFlag{
						Name:  monitorFlagShowLevels,
						Usage: "print the raw A/B levels with every count",
					},
					&cli.BoolFlag{
						Name:  monitorFlagLogEdges,
						Usage: "log every edge on A",
					},
				},
				Action: rt.MonitorAction,
			},
		},
	}
}

func (rt *runtime) before(c *cli.Context) error {
	level, err := logging.LevelFromString(c.String(flagLevel))
	if err != nil {
		return err
	}

	logger := logging.NewBlankLogger("motorctl")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if path := c.String(flagLogFile); path != "" {
		rt.fileAppender = logging.NewFileAppender(path, 10, 3)
		logger.AddAppender(rt.fileAppender)
	}
	logger.SetLevel(level)
	rt.logger = logger
	rt.debug = c.Bool(flagDebug)

	if c.Bool(flagFake) {
		rt.openRig = openFakeRig
	}
	return nil
}

func (rt *runtime) after(c *cli.Context) error {
	if rt.logger == nil {
		return nil
	}
	//nolint:errcheck
	rt.logger.Sync()
	if rt.fileAppender != nil {
		return rt.fileAppender.Close()
	}
	return nil
}
