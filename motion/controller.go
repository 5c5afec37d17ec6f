// Package motion drives a motor against encoder feedback: timed spins, moves to an encoder
// count, and an emergency stop that brakes immediately.
package motion

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/tocado/motorctl/components/encoder"
	"github.com/tocado/motorctl/components/motor"
	"github.com/tocado/motorctl/logging"
)

// ErrTargetOutOfBounds is returned when a move is asked to go outside the configured limits.
var ErrTargetOutOfBounds = errors.New("target out of bounds")

// Clock is the time source the control loop polls and sleeps on.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

var _ Clock = (*clock.Mock)(nil)

// Config configures a Controller.
type Config struct {
	Limits      Limits
	DefaultDuty float64
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if err := conf.Limits.Validate(path); err != nil {
		return err
	}
	if math.IsNaN(conf.DefaultDuty) || conf.DefaultDuty < 0 || conf.DefaultDuty > 1 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("default_duty must be between 0 and 1, got %v", conf.DefaultDuty))
	}
	return nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock. Tests pass a mock or a stepping clock.
func WithClock(c Clock) Option {
	return func(ctrl *Controller) {
		ctrl.clock = c
	}
}

// Controller runs one command at a time against an actuator and a position reader. Callers
// serialize SpinFor and MoveToCount; EmergencyStop may be called from any goroutine.
type Controller struct {
	name     string
	actuator motor.Actuator
	encoder  encoder.PositionReader
	limits   Limits
	duty     float64
	clock    Clock
	logger   logging.Logger

	stopRequested atomic.Bool
	moving        atomic.Bool
}

// NewController returns a controller for the given actuator and encoder.
func NewController(
	name string,
	actuator motor.Actuator,
	enc encoder.PositionReader,
	conf Config,
	logger logging.Logger,
	opts ...Option,
) (*Controller, error) {
	if actuator == nil {
		return nil, errors.New("motion controller needs an actuator")
	}
	if enc == nil {
		return nil, errors.New("motion controller needs an encoder")
	}
	if err := conf.Validate(name); err != nil {
		return nil, err
	}
	ctrl := &Controller{
		name:     name,
		actuator: actuator,
		encoder:  enc,
		limits:   conf.Limits,
		duty:     conf.DefaultDuty,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(ctrl)
	}
	return ctrl, nil
}

// Name returns the name of the controlled motor.
func (c *Controller) Name() string {
	return c.name
}

// Limits returns the limits the controller enforces.
func (c *Controller) Limits() Limits {
	return c.limits
}

// SetLimits replaces the limits, for example after the travel was calibrated. Like the
// commands it must not be called concurrently with SpinFor or MoveToCount.
func (c *Controller) SetLimits(limits Limits) error {
	if c.moving.Load() {
		return errors.Errorf("cannot change the limits of %s while it is moving", c.name)
	}
	if err := limits.Validate(c.name); err != nil {
		return err
	}
	c.limits = limits
	c.logger.Infow("limits updated", "min", limits.MinCount, "max", limits.MaxCount)
	return nil
}

// MoveOption overrides a default for a single MoveToCount call.
type MoveOption func(*moveOptions)

type moveOptions struct {
	duty    *float64
	timeout *time.Duration
}

// WithDuty sets the duty magnitude for the move. Its sign is ignored.
func WithDuty(duty float64) MoveOption {
	return func(opts *moveOptions) {
		opts.duty = &duty
	}
}

// WithTimeout sets how long the move may run. It is capped at the limits' MaxRuntime.
func WithTimeout(timeout time.Duration) MoveOption {
	return func(opts *moveOptions) {
		opts.timeout = &timeout
	}
}

// SpinFor drives the motor at duty for duration and then brakes. Duty is clamped to
// [-1, 1] and duration to [0, MaxRuntime]. The move has no target, so the result's Target is
// the final position. Position limits are not checked.
func (c *Controller) SpinFor(ctx context.Context, duty float64, duration time.Duration) (Result, error) {
	duty = motor.ClampDuty(duty)
	duration = clampDuration(duration, c.limits.MaxRuntime)

	if c.stopRequested.Load() {
		return c.refuse(ctx)
	}

	c.moving.Store(true)
	defer c.moving.Store(false)

	c.logger.CInfof(ctx, "spin_for duty=%.2f duration=%.2fs", duty, duration.Seconds())
	start := c.clock.Now()
	deadline := start.Add(duration)
	if err := c.actuator.SetDuty(ctx, duty); err != nil {
		return Result{}, c.abort(ctx, err)
	}

	for c.clock.Now().Before(deadline) && !c.stopRequested.Load() {
		c.clock.Sleep(c.limits.PollInterval)
	}
	stopped := c.stopRequested.Load()

	if err := c.brake(ctx); err != nil {
		return Result{}, err
	}
	final, err := c.encoder.Position(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "reading final position")
	}

	res := Result{
		Target:        final,
		FinalPosition: final,
		Elapsed:       c.clock.Now().Sub(start),
		Reached:       !stopped,
		Status:        StatusReached,
	}
	if stopped {
		res.Status = StatusStopped
		c.logger.CWarnw(ctx, "spin_for interrupted by stop", "final", final)
	}
	return res, nil
}

// MoveToCount drives toward target at a fixed duty until the position is within tolerance,
// the timeout passes, the position leaves the limits, or a stop is requested. It never
// reverses or changes speed. The motor is braked on every return after it was driven.
func (c *Controller) MoveToCount(ctx context.Context, target int64, opts ...MoveOption) (Result, error) {
	if !c.limits.Contains(target) {
		return Result{}, errors.Wrapf(ErrTargetOutOfBounds, "target %d is outside [%d, %d]",
			target, c.limits.MinCount, c.limits.MaxCount)
	}

	var moveOpts moveOptions
	for _, opt := range opts {
		opt(&moveOpts)
	}
	duty := c.duty
	if moveOpts.duty != nil {
		duty = *moveOpts.duty
	}
	duty = math.Abs(motor.ClampDuty(duty))
	timeout := c.limits.MaxRuntime
	if moveOpts.timeout != nil {
		timeout = clampDuration(*moveOpts.timeout, c.limits.MaxRuntime)
	}

	if c.stopRequested.Load() {
		res, err := c.refuse(ctx)
		res.Target = target
		return res, err
	}

	startPos, err := c.encoder.Position(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "reading start position")
	}

	c.moving.Store(true)
	defer c.moving.Store(false)

	direction := 1.0
	if target < startPos {
		direction = -1.0
	}
	c.logger.CInfof(ctx, "move_to target=%d from=%d duty=%.2f dir=%+d timeout=%.2fs",
		target, startPos, duty, int(direction), timeout.Seconds())

	start := c.clock.Now()
	if err := c.actuator.SetDuty(ctx, direction*duty); err != nil {
		return Result{}, c.abort(ctx, err)
	}

	var status Status
	for {
		if c.stopRequested.Load() {
			status = StatusStopped
			break
		}
		current, err := c.encoder.Position(ctx)
		if err != nil {
			return Result{}, c.abort(ctx, errors.Wrap(err, "reading position"))
		}
		c.logger.CDebugw(ctx, "move_to poll", "position", current)
		if withinTolerance(current, target, c.limits.StopTolerance) {
			status = StatusReached
			break
		}
		if c.clock.Now().Sub(start) > timeout {
			c.logger.CWarnw(ctx, "move_to timeout", "target", target, "position", current)
			status = StatusTimedOut
			break
		}
		if !c.limits.Contains(current) {
			c.logger.CErrorw(ctx, "position exceeded limits",
				"position", current, "min", c.limits.MinCount, "max", c.limits.MaxCount)
			status = StatusOutOfBounds
			break
		}
		c.clock.Sleep(c.limits.PollInterval)
	}

	if err := c.brake(ctx); err != nil {
		return Result{}, err
	}
	elapsed := c.clock.Now().Sub(start)
	final, err := c.encoder.Position(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "reading final position")
	}
	if status == StatusStopped {
		c.logger.CWarnw(ctx, "move_to interrupted by stop", "target", target, "final", final)
	}
	return Result{
		Target:        target,
		FinalPosition: final,
		Elapsed:       elapsed,
		Reached:       status == StatusReached,
		Status:        status,
	}, nil
}

// EmergencyStop requests that any running command stop and brakes the motor immediately.
// The request stays in effect, refusing new commands, until ClearStop is called.
func (c *Controller) EmergencyStop(ctx context.Context) error {
	c.stopRequested.Store(true)
	err := c.actuator.Brake(context.WithoutCancel(ctx))
	c.logger.CWarnw(ctx, "emergency stop triggered", "name", c.name)
	return err
}

// ClearStop withdraws an emergency stop so new commands may run.
func (c *Controller) ClearStop() {
	if c.stopRequested.Swap(false) {
		c.logger.Info("stop cleared")
	}
}

// StopRequested reports whether an emergency stop is in effect.
func (c *Controller) StopRequested() bool {
	return c.stopRequested.Load()
}

// Status returns the current position and command state.
func (c *Controller) Status(ctx context.Context) (State, error) {
	pos, err := c.encoder.Position(ctx)
	if err != nil {
		return State{}, err
	}
	return State{
		Position:      pos,
		StopRequested: c.stopRequested.Load(),
		Moving:        c.moving.Load(),
	}, nil
}

// Release lets the motor coast.
func (c *Controller) Release(ctx context.Context) error {
	return c.actuator.Coast(ctx)
}

// refuse brakes without driving, for commands started while a stop is in effect.
func (c *Controller) refuse(ctx context.Context) (Result, error) {
	c.logger.CWarnw(ctx, "command refused, emergency stop in effect", "name", c.name)
	if err := c.brake(ctx); err != nil {
		return Result{}, err
	}
	final, err := c.encoder.Position(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "reading final position")
	}
	return Result{Target: final, FinalPosition: final, Status: StatusStopped}, nil
}

// brake brakes with a context the caller cannot cancel.
func (c *Controller) brake(ctx context.Context) error {
	return errors.Wrap(c.actuator.Brake(context.WithoutCancel(ctx)), "braking")
}

// abort makes a best-effort brake after a failed command and returns the failure together
// with any brake error.
func (c *Controller) abort(ctx context.Context, err error) error {
	c.logger.CErrorw(ctx, "command failed, braking", "error", err)
	return multierr.Combine(err, c.brake(ctx))
}

func clampDuration(d, maxDuration time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > maxDuration {
		return maxDuration
	}
	return d
}
