package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/tocado/motorctl/motion"
)

const calibrateHelp = `commands:
  f, b      jog forward or backward
  s         brake
  r         release, the motor coasts
  zero      set the current position to 0
  max       record the current position as max_count, with min_count 0
  pos       print the position
  0.5       move to a fraction of the travel
  c<N>      move to count N
  home      move to min_count
  clear     clear an emergency stop
  q         quit
`

// calibrator reads one command per line and runs it against an open session.
type calibrator struct {
	s          *session
	out        io.Writer
	jogDuty    float64
	jogSeconds time.Duration
	moveOpts   []motion.MoveOption
}

// CalibrateAction runs an interactive session on the app's reader: jog to the end stops,
// zero the encoder, record the travel and try moves to fractions of it. The encoder count
// only lives as long as the session.
func (rt *runtime) CalibrateAction(c *cli.Context) error {
	jogSeconds, err := secondsFlag(c, calibrateFlagJogSeconds)
	if err != nil {
		return err
	}
	cal := &calibrator{
		out:        c.App.Writer,
		jogDuty:    math.Abs(c.Float64(calibrateFlagJogDuty)),
		jogSeconds: jogSeconds,
	}
	if c.IsSet(calibrateFlagMoveDuty) {
		cal.moveOpts = append(cal.moveOpts, motion.WithDuty(c.Float64(calibrateFlagMoveDuty)))
	}
	return rt.withSession(c, true, func(ctx context.Context, s *session) error {
		cal.s = s
		stopWatching := rt.stopOnInterrupt(ctx, s)
		defer stopWatching()
		return cal.run(ctx, c.App.Reader)
	})
}

func (cal *calibrator) run(ctx context.Context, in io.Reader) error {
	fmt.Fprint(cal.out, calibrateHelp)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(cal.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(cal.out)
			return scanner.Err()
		}
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" {
			continue
		}
		if line == "q" || line == "quit" {
			return nil
		}
		if err := cal.handle(ctx, line); err != nil {
			fmt.Fprintf(cal.out, "error: %v\n", err)
			cal.s.logger.CDebugw(ctx, "calibrate command failed", "command", line, "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (cal *calibrator) handle(ctx context.Context, line string) error {
	s := cal.s
	switch line {
	case "f":
		return cal.report(s.ctrl.SpinFor(ctx, cal.jogDuty, cal.jogSeconds))
	case "b":
		return cal.report(s.ctrl.SpinFor(ctx, -cal.jogDuty, cal.jogSeconds))
	case "s":
		if err := s.rig.actuator.Brake(ctx); err != nil {
			return err
		}
		return cal.printPosition(ctx)
	case "r":
		if err := s.ctrl.Release(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cal.out, "%s released\n", s.cfg.Name)
		return nil
	case "zero":
		if err := s.rig.encoder.ResetPosition(ctx, 0); err != nil {
			return err
		}
		return cal.printPosition(ctx)
	case "max":
		return cal.recordMax(ctx)
	case "pos":
		return cal.printPosition(ctx)
	case "home":
		return cal.report(s.ctrl.MoveToCount(ctx, s.ctrl.Limits().MinCount, cal.moveOpts...))
	case "clear":
		s.ctrl.ClearStop()
		fmt.Fprintln(cal.out, "stop cleared")
		return nil
	case "help", "?":
		fmt.Fprint(cal.out, calibrateHelp)
		return nil
	}

	if count, ok := strings.CutPrefix(line, "c"); ok {
		target, err := strconv.ParseInt(count, 10, 64)
		if err != nil {
			return errors.Errorf("bad count %q", count)
		}
		return cal.report(s.ctrl.MoveToCount(ctx, target, cal.moveOpts...))
	}
	if frac, err := strconv.ParseFloat(line, 64); err == nil {
		target, err := s.cfg.CountsForFraction(frac)
		if err != nil {
			return err
		}
		return cal.report(s.ctrl.MoveToCount(ctx, target, cal.moveOpts...))
	}
	fmt.Fprintf(cal.out, "unknown command %q\n", line)
	fmt.Fprint(cal.out, calibrateHelp)
	return nil
}

// recordMax makes [0, position] the travel used by fraction and home moves.
func (cal *calibrator) recordMax(ctx context.Context) error {
	s := cal.s
	pos, err := s.rig.encoder.Position(ctx)
	if err != nil {
		return err
	}
	if pos <= 0 {
		return errors.Errorf("position is %d, zero at the lower stop and jog forward first", pos)
	}
	limits := s.ctrl.Limits()
	limits.MinCount = 0
	limits.MaxCount = pos
	if err := s.ctrl.SetLimits(limits); err != nil {
		return err
	}
	s.cfg.Limits.MinCount = limits.MinCount
	s.cfg.Limits.MaxCount = limits.MaxCount
	fmt.Fprintf(cal.out, "travel recorded: min_count=%d max_count=%d\n", limits.MinCount, limits.MaxCount)
	return nil
}

func (cal *calibrator) report(res motion.Result, err error) error {
	if err != nil {
		return err
	}
	printResult(cal.out, cal.s.cfg, res)
	if res.Status == motion.StatusStopped {
		fmt.Fprintln(cal.out, "emergency stop in effect, enter clear to continue")
	}
	return nil
}

func (cal *calibrator) printPosition(ctx context.Context) error {
	pos, err := cal.s.rig.encoder.Position(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cal.out, "%s position=%d\n", cal.s.cfg.Name, pos)
	return nil
}
