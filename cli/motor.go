package cli

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/tocado/motorctl/components/board"
	"github.com/tocado/motorctl/config"
	"github.com/tocado/motorctl/logging"
	"github.com/tocado/motorctl/motion"
)

// session is an open rig with a running encoder and a controller over it.
type session struct {
	cfg    *config.Config
	rig    *rig
	ctrl   *motion.Controller
	logger logging.Logger
}

// withSession loads the config, opens the rig, starts the encoder and runs fn. The encoder is
// stopped and the rig closed afterwards, and the motor is braked first when brakeOnExit is
// set. With --debug the context carries debug mode keyed by the command name.
func (rt *runtime) withSession(c *cli.Context, brakeOnExit bool, fn func(ctx context.Context, s *session) error) (err error) {
	ctx := c.Context
	if rt.debug {
		ctx = logging.EnableDebugModeWithKey(ctx, c.Command.Name)
	}
	cfg, err := rt.loadConfig(c)
	if err != nil {
		return err
	}
	logger := rt.logger.Sublogger(cfg.Name)

	r, err := rt.openRig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, r.Close(context.WithoutCancel(ctx)))
	}()

	if err := r.encoder.Start(ctx); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, r.encoder.Stop())
		if brakeOnExit {
			err = multierr.Combine(err, r.actuator.Brake(context.WithoutCancel(ctx)))
		}
	}()

	ctrl, err := motion.NewController(cfg.Name, r.actuator, r.encoder, cfg.Controller(), logger, motion.WithClock(rt.clock))
	if err != nil {
		return err
	}
	logger.CDebugw(ctx, "session started", "command", logging.GetName(ctx), "driver", cfg.Driver)
	return fn(ctx, &session{cfg: cfg, rig: r, ctrl: ctrl, logger: logger})
}

// stopOnInterrupt maps every interrupt to an emergency stop until the returned function is
// called.
func (rt *runtime) stopOnInterrupt(ctx context.Context, s *session) func() {
	sigs, stopNotify := rt.interrupts()
	done := make(chan struct{})
	var activeBackgroundWorkers sync.WaitGroup
	activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer activeBackgroundWorkers.Done()
		for {
			select {
			case <-sigs:
				s.logger.Warn("interrupt received, stopping motor")
				if err := s.ctrl.EmergencyStop(ctx); err != nil {
					s.logger.Errorw("emergency stop failed", "error", err)
				}
			case <-done:
				return
			}
		}
	})
	return func() {
		close(done)
		activeBackgroundWorkers.Wait()
		stopNotify()
	}
}

// SpinAction spins the motor at a duty for a duration.
func (rt *runtime) SpinAction(c *cli.Context) error {
	duty := c.Float64(spinFlagDuty)
	duration, err := secondsFlag(c, spinFlagSeconds)
	if err != nil {
		return err
	}
	return rt.runMotion(c, func(ctx context.Context, s *session) (motion.Result, error) {
		return s.ctrl.SpinFor(ctx, duty, duration)
	})
}

// JogAction drives the motor briefly in one direction. Like spin it ignores the position
// limits, so it can back the motor off a stop.
func (rt *runtime) JogAction(c *cli.Context) error {
	duty := math.Abs(c.Float64(jogFlagDuty))
	if c.Bool(jogFlagReverse) {
		duty = -duty
	}
	duration, err := secondsFlag(c, jogFlagSeconds)
	if err != nil {
		return err
	}
	return rt.runMotion(c, func(ctx context.Context, s *session) (motion.Result, error) {
		return s.ctrl.SpinFor(ctx, duty, duration)
	})
}

// MoveAction moves the motor to a target count.
func (rt *runtime) MoveAction(c *cli.Context) error {
	targets := 0
	for _, name := range []string{moveFlagTarget, moveFlagTargetMM, moveFlagFraction} {
		if c.IsSet(name) {
			targets++
		}
	}
	if targets != 1 {
		return errors.Errorf("exactly one of --%s, --%s or --%s is required",
			moveFlagTarget, moveFlagTargetMM, moveFlagFraction)
	}
	var opts []motion.MoveOption
	if c.IsSet(moveFlagDuty) {
		opts = append(opts, motion.WithDuty(c.Float64(moveFlagDuty)))
	}
	if c.IsSet(moveFlagTimeout) {
		timeout, err := secondsFlag(c, moveFlagTimeout)
		if err != nil {
			return err
		}
		opts = append(opts, motion.WithTimeout(timeout))
	}
	return rt.runMotion(c, func(ctx context.Context, s *session) (motion.Result, error) {
		target := c.Int64(moveFlagTarget)
		var err error
		switch {
		case c.IsSet(moveFlagTargetMM):
			target, err = s.cfg.CountsForMM(c.Float64(moveFlagTargetMM))
		case c.IsSet(moveFlagFraction):
			target, err = s.cfg.CountsForFraction(c.Float64(moveFlagFraction))
		}
		if err != nil {
			return motion.Result{}, err
		}
		return s.ctrl.MoveToCount(ctx, target, opts...)
	})
}

type motionCommand func(ctx context.Context, s *session) (motion.Result, error)

// runMotion runs one command with interrupts mapped to an emergency stop, then brakes and
// prints the result.
func (rt *runtime) runMotion(c *cli.Context, command motionCommand) error {
	return rt.withSession(c, true, func(ctx context.Context, s *session) error {
		stopWatching := rt.stopOnInterrupt(ctx, s)
		res, err := command(ctx, s)
		stopWatching()
		if err != nil {
			return err
		}
		printResult(c.App.Writer, s.cfg, res)
		return nil
	})
}

func printResult(w io.Writer, cfg *config.Config, res motion.Result) {
	status := "ok"
	if !res.Reached {
		status = "not-reached"
	}
	fmt.Fprintf(w, "%s finished: %s (%s), final=%d, target=%d, elapsed=%.2fs",
		cfg.Name, status, res.Status, res.FinalPosition, res.Target, res.Elapsed.Seconds())
	if cfg.StepsPerMM > 0 {
		fmt.Fprintf(w, ", final_mm=%.2f", cfg.MMForCounts(res.FinalPosition))
	}
	fmt.Fprintln(w)
}

// ReleaseAction lets the motor coast and leaves it that way.
func (rt *runtime) ReleaseAction(c *cli.Context) error {
	return rt.withSession(c, false, func(ctx context.Context, s *session) error {
		if err := s.ctrl.Release(ctx); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s released\n", s.cfg.Name)
		return nil
	})
}

// MonitorAction prints the encoder count and the change since the last print until
// interrupted.
func (rt *runtime) MonitorAction(c *cli.Context) error {
	interval, err := secondsFlag(c, monitorFlagInterval)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return errors.Errorf("--%s must be positive", monitorFlagInterval)
	}
	return rt.withSession(c, false, func(ctx context.Context, s *session) error {
		return rt.monitor(ctx, c, s, interval)
	})
}

func (rt *runtime) monitor(ctx context.Context, c *cli.Context, s *session, interval time.Duration) error {
	r, cfg := s.rig, s.cfg
	if c.Bool(monitorFlagLogEdges) {
		remove, err := logEdges(ctx, r, cfg, s.logger)
		if err != nil {
			return err
		}
		defer remove()
	}

	pull := "on"
	if cfg.Encoder.Pull == board.PullNone.String() {
		pull = "off"
	}
	s.logger.Infof("monitoring encoder on A=%s B=%s (pull-ups %s)", cfg.Encoder.A, cfg.Encoder.B, pull)

	sigs, stopNotify := rt.interrupts()
	defer stopNotify()
	ticker := rt.clock.Ticker(interval)
	defer ticker.Stop()

	last, err := r.encoder.Position(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-sigs:
			return nil
		case <-ticker.C:
		}
		now, err := r.encoder.Position(ctx)
		if err != nil {
			return err
		}
		delta := now - last
		last = now
		if !c.Bool(monitorFlagShowLevels) {
			fmt.Fprintf(c.App.Writer, "count=%d delta=%d\n", now, delta)
			continue
		}
		aHigh, bHigh, err := r.encoder.Levels(ctx)
		if err != nil {
			s.logger.Errorw("failed to read raw levels", "error", err)
			fmt.Fprintf(c.App.Writer, "count=%d delta=%d A=? B=?\n", now, delta)
			continue
		}
		fmt.Fprintf(c.App.Writer, "count=%d delta=%d A=%d B=%d\n", now, delta, levelDigit(aHigh), levelDigit(bHigh))
	}
}

// logEdges adds a second handler on line A that logs every edge with the count it produced.
func logEdges(ctx context.Context, r *rig, cfg *config.Config, logger logging.Logger) (func(), error) {
	a, err := r.board.DigitalInterruptByName(cfg.Encoder.A)
	if err != nil {
		return nil, err
	}
	return a.AddCallback(func(tick board.Tick) {
		pos, err := r.encoder.Position(ctx)
		if err != nil {
			return
		}
		logger.Infow("edge", "pin", tick.Name, "high", tick.High, "count", pos)
	})
}

func levelDigit(high bool) int {
	if high {
		return 1
	}
	return 0
}

func secondsFlag(c *cli.Context, name string) (time.Duration, error) {
	d, err := config.Seconds(c.Float64(name))
	return d, errors.Wrapf(err, "--%s", name)
}

// loadConfig reads --config, or starts from the defaults, and applies the override flags.
// A log_level in the file applies unless --log-level was given.
func (rt *runtime) loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path, rt.logger); err != nil {
			return nil, err
		}
		if cfg.LogLevel != nil && !c.IsSet(flagLevel) {
			rt.logger.SetLevel(*cfg.LogLevel)
		}
	}

	if c.IsSet(flagName) {
		cfg.Name = c.String(flagName)
	}
	if c.IsSet(flagPinA) {
		cfg.Encoder.A = c.String(flagPinA)
	}
	if c.IsSet(flagPinB) {
		cfg.Encoder.B = c.String(flagPinB)
	}
	if c.Bool(flagNoPullup) {
		cfg.Encoder.Pull = board.PullNone.String()
	}
	if c.IsSet(flagDebounceMs) {
		cfg.Encoder.DebounceMs = c.Int(flagDebounceMs)
	}
	if c.IsSet(flagMotorChannel) || c.IsSet(flagI2CAddress) || c.IsSet(flagI2CBus) {
		if cfg.MotorShield == nil {
			return nil, errors.Errorf("--%s, --%s and --%s need the %s driver",
				flagMotorChannel, flagI2CAddress, flagI2CBus, config.DriverMotorShield)
		}
		if c.IsSet(flagMotorChannel) {
			cfg.MotorShield.MotorChannel = c.Int(flagMotorChannel)
		}
		if c.IsSet(flagI2CAddress) {
			addr, err := strconv.ParseInt(c.String(flagI2CAddress), 0, 16)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing --%s", flagI2CAddress)
			}
			cfg.MotorShield.I2CAddress = int(addr)
		}
		if c.IsSet(flagI2CBus) {
			cfg.MotorShield.I2CBus = c.String(flagI2CBus)
		}
	}
	if c.IsSet(flagDefaultDuty) {
		cfg.DefaultDuty = c.Float64(flagDefaultDuty)
	}
	if c.IsSet(flagMinCount) {
		cfg.Limits.MinCount = c.Int64(flagMinCount)
	}
	if c.IsSet(flagMaxCount) {
		cfg.Limits.MaxCount = c.Int64(flagMaxCount)
	}
	if c.IsSet(flagTolerance) {
		cfg.Limits.StopTolerance = c.Int64(flagTolerance)
	}
	if c.IsSet(flagMaxRuntime) {
		cfg.Limits.MaxRuntimeSec = c.Float64(flagMaxRuntime)
	}
	if c.IsSet(flagPollInterval) {
		cfg.Limits.PollIntervalSec = c.Float64(flagPollInterval)
	}

	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	return cfg, nil
}
