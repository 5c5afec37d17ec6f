package motion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	fakeencoder "github.com/tocado/motorctl/components/encoder/fake"
	fakemotor "github.com/tocado/motorctl/components/motor/fake"
	"github.com/tocado/motorctl/logging"
)

// stepClock advances by the requested duration on every Sleep and then runs onSleep, so a
// test can move the encoder or request a stop between polls.
type stepClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  int
	onSleep func(sleeps int)
}

func newStepClock(onSleep func(sleeps int)) *stepClock {
	return &stepClock{now: time.Unix(1700000000, 0), onSleep: onSleep}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps++
	sleeps := c.sleeps
	c.mu.Unlock()
	if c.onSleep != nil {
		c.onSleep(sleeps)
	}
}

func testLimits() Limits {
	return Limits{
		MinCount:      0,
		MaxCount:      5000,
		MaxRuntime:    200 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
		StopTolerance: 0,
	}
}

func newTestController(
	t *testing.T,
	limits Limits,
	clk Clock,
) (*Controller, *fakemotor.Actuator, *fakeencoder.Encoder) {
	t.Helper()
	act := &fakemotor.Actuator{}
	enc := &fakeencoder.Encoder{}
	ctrl, err := NewController("motor1", act, enc, Config{Limits: limits, DefaultDuty: 0.5},
		logging.NewTestLogger(t), WithClock(clk))
	test.That(t, err, test.ShouldBeNil)
	return ctrl, act, enc
}

func lastCall(t *testing.T, act *fakemotor.Actuator) fakemotor.Call {
	t.Helper()
	last, ok := act.Last()
	test.That(t, ok, test.ShouldBeTrue)
	return last
}

func TestNewControllerValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	act := &fakemotor.Actuator{}
	enc := &fakeencoder.Encoder{}
	good := Config{Limits: DefaultLimits(), DefaultDuty: 0.5}

	_, err := NewController("motor1", nil, enc, good, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewController("motor1", act, nil, good, logger)
	test.That(t, err, test.ShouldNotBeNil)

	for _, tc := range []struct {
		name   string
		mutate func(conf *Config)
		errMsg string
	}{
		{"min above max", func(conf *Config) { conf.Limits.MinCount = 10; conf.Limits.MaxCount = 5 }, "min_count"},
		{"zero runtime", func(conf *Config) { conf.Limits.MaxRuntime = 0 }, "max_runtime"},
		{"zero poll", func(conf *Config) { conf.Limits.PollInterval = 0 }, "poll_interval"},
		{"negative tolerance", func(conf *Config) { conf.Limits.StopTolerance = -1 }, "stop_tolerance"},
		{"duty above one", func(conf *Config) { conf.DefaultDuty = 1.5 }, "default_duty"},
		{"negative duty", func(conf *Config) { conf.DefaultDuty = -0.1 }, "default_duty"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conf := good
			tc.mutate(&conf)
			_, err := NewController("motor1", act, enc, conf, logger)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, `error validating "motor1"`)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errMsg)
		})
	}

	ctrl, err := NewController("motor1", act, enc, good, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ctrl.Name(), test.ShouldEqual, "motor1")
	test.That(t, ctrl.Limits(), test.ShouldResemble, DefaultLimits())
}

func TestWithinTolerance(t *testing.T) {
	for _, tc := range []struct {
		value, target, tolerance int64
		expected                 bool
	}{
		{5, 5, 0, true},
		{4, 5, 0, false},
		{6, 5, 0, false},
		{3, 5, 2, true},
		{7, 5, 2, true},
		{2, 5, 2, false},
		{8, 5, 2, false},
		{-5, 5, -1, false},
	} {
		test.That(t, withinTolerance(tc.value, tc.target, tc.tolerance), test.ShouldEqual, tc.expected)
	}
}

func TestMoveToCountRejectsOutOfBoundsTarget(t *testing.T) {
	ctrl, act, _ := newTestController(t, testLimits(), newStepClock(nil))

	for _, target := range []int64{-1, 5001} {
		_, err := ctrl.MoveToCount(context.Background(), target)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, errors.Is(err, ErrTargetOutOfBounds), test.ShouldBeTrue)
	}
	test.That(t, act.History(), test.ShouldBeEmpty)

	// The bounds themselves are allowed.
	enc := &fakeencoder.Encoder{}
	ctrl, err := NewController("motor1", act, enc, Config{Limits: testLimits()}, logging.NewTestLogger(t),
		WithClock(newStepClock(nil)))
	test.That(t, err, test.ShouldBeNil)
	res, err := ctrl.MoveToCount(context.Background(), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Reached, test.ShouldBeTrue)
}

func TestMoveToCountReached(t *testing.T) {
	limits := testLimits()
	limits.MaxRuntime = 2 * time.Second
	limits.StopTolerance = 1

	var enc *fakeencoder.Encoder
	clk := newStepClock(func(int) { enc.Tick(1) })
	ctrl, act, e := newTestController(t, limits, clk)
	enc = e

	logger, logs := logging.NewObservedTestLogger(t)
	ctrl.logger = logger

	res, err := ctrl.MoveToCount(context.Background(), 5, WithDuty(0.6))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Reached, test.ShouldBeTrue)
	test.That(t, res.Status, test.ShouldEqual, StatusReached)
	test.That(t, res.Target, test.ShouldEqual, 5)
	test.That(t, res.FinalPosition, test.ShouldBeGreaterThanOrEqualTo, 4)
	test.That(t, res.Elapsed, test.ShouldEqual, 40*time.Millisecond)

	history := act.History()
	test.That(t, history[0], test.ShouldResemble, fakemotor.SetDuty(0.6))
	test.That(t, lastCall(t, act), test.ShouldResemble, fakemotor.Brake())
	test.That(t, act.Count(fakemotor.CallSetDuty), test.ShouldEqual, 1)

	test.That(t, logs.FilterMessageSnippet("move_to target=5 from=0 duty=0.60 dir=+1").Len(), test.ShouldEqual, 1)
	test.That(t, ctrl.moving.Load(), test.ShouldBeFalse)
}

func TestMoveToCountReverse(t *testing.T) {
	var enc *fakeencoder.Encoder
	ctrl, act, e := newTestController(t, testLimits(), newStepClock(func(int) { enc.Tick(-10) }))
	enc = e
	enc.SetPosition(100)

	res, err := ctrl.MoveToCount(context.Background(), 50)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Reached, test.ShouldBeTrue)
	test.That(t, res.FinalPosition, test.ShouldEqual, 50)
	test.That(t, cmp.Diff(act.History(), []fakemotor.Call{fakemotor.SetDuty(-0.5), fakemotor.Brake()}), test.ShouldBeEmpty)
}

func TestMoveToCountDutyMagnitude(t *testing.T) {
	for _, tc := range []struct {
		duty     float64
		expected float64
	}{
		{-0.7, 0.7},
		{3, 1},
		{-3, 1},
		{0.25, 0.25},
	} {
		var enc *fakeencoder.Encoder
		ctrl, act, e := newTestController(t, testLimits(), newStepClock(func(int) { enc.Tick(1) }))
		enc = e

		res, err := ctrl.MoveToCount(context.Background(), 3, WithDuty(tc.duty))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Reached, test.ShouldBeTrue)
		test.That(t, act.History()[0], test.ShouldResemble, fakemotor.SetDuty(tc.expected))
	}
}

func TestMoveToCountTimeout(t *testing.T) {
	limits := testLimits()
	limits.MaxRuntime = 50 * time.Millisecond
	ctrl, act, _ := newTestController(t, limits, newStepClock(nil))
	logger, logs := logging.NewObservedTestLogger(t)
	ctrl.logger = logger

	res, err := ctrl.MoveToCount(context.Background(), 3, WithDuty(0.5))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Reached, test.ShouldBeFalse)
	test.That(t, res.Status, test.ShouldEqual, StatusTimedOut)
	test.That(t, res.FinalPosition, test.ShouldEqual, 0)
	test.That(t, res.Elapsed, test.ShouldBeGreaterThanOrEqualTo, 50*time.Millisecond)
	test.That(t, lastCall(t, act), test.ShouldResemble, fakemotor.Brake())
	test.That(t, act.Count(fakemotor.CallSetDuty), test.ShouldEqual, 1)

	warnings := logs.FilterMessage("move_to timeout").All()
	test.That(t, warnings, test.ShouldHaveLength, 1)
	test.That(t, warnings[0].ContextMap()["target"], test.ShouldEqual, int64(3))
}

func TestMoveToCountTimeoutOption(t *testing.T) {
	clk := newStepClock(nil)
	ctrl, _, _ := newTestController(t, testLimits(), clk)

	res, err := ctrl.MoveToCount(context.Background(), 3, WithTimeout(30*time.Millisecond))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusTimedOut)
	test.That(t, res.Elapsed, test.ShouldEqual, 40*time.Millisecond)

	// A timeout beyond the runtime ceiling is capped.
	res, err = ctrl.MoveToCount(context.Background(), 3, WithTimeout(time.Hour))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusTimedOut)
	test.That(t, res.Elapsed, test.ShouldEqual, 210*time.Millisecond)
}

func TestMoveToCountDirectionFixed(t *testing.T) {
	var enc *fakeencoder.Encoder
	clk := newStepClock(func(sleeps int) {
		if sleeps == 1 {
			enc.SetPosition(150)
		}
	})
	ctrl, act, e := newTestController(t, testLimits(), clk)
	enc = e

	res, err := ctrl.MoveToCount(context.Background(), 100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Reached, test.ShouldBeFalse)
	test.That(t, res.Status, test.ShouldEqual, StatusTimedOut)
	test.That(t, res.FinalPosition, test.ShouldEqual, 150)
	// Overshooting does not reverse the motor.
	test.That(t, cmp.Diff(act.History(), []fakemotor.Call{fakemotor.SetDuty(0.5), fakemotor.Brake()}), test.ShouldBeEmpty)
}

func TestMoveToCountOutOfBounds(t *testing.T) {
	limits := testLimits()
	limits.MaxCount = 200

	var enc *fakeencoder.Encoder
	clk := newStepClock(func(int) { enc.Tick(20) })
	ctrl, act, e := newTestController(t, limits, clk)
	enc = e
	enc.SetPosition(150)
	logger, logs := logging.NewObservedTestLogger(t)
	ctrl.logger = logger

	// Steps of 20 jump over the target and past the upper limit.
	res, err := ctrl.MoveToCount(context.Background(), 195)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Reached, test.ShouldBeFalse)
	test.That(t, res.Status, test.ShouldEqual, StatusOutOfBounds)
	test.That(t, res.FinalPosition, test.ShouldEqual, 210)
	test.That(t, lastCall(t, act), test.ShouldResemble, fakemotor.Brake())
	test.That(t, logs.FilterMessage("position exceeded limits").Len(), test.ShouldEqual, 1)
}

func TestMoveToCountTolerance(t *testing.T) {
	t.Run("exact", func(t *testing.T) {
		var enc *fakeencoder.Encoder
		ctrl, _, e := newTestController(t, testLimits(), newStepClock(func(int) { enc.Tick(2) }))
		enc = e

		// Steps of 2 never land on 5.
		res, err := ctrl.MoveToCount(context.Background(), 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Status, test.ShouldEqual, StatusTimedOut)
	})

	t.Run("window", func(t *testing.T) {
		limits := testLimits()
		limits.StopTolerance = 2
		ctrl, act, enc := newTestController(t, limits, newStepClock(nil))
		enc.SetPosition(3)

		res, err := ctrl.MoveToCount(context.Background(), 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Reached, test.ShouldBeTrue)
		test.That(t, res.Elapsed, test.ShouldEqual, 0)
		test.That(t, res.FinalPosition, test.ShouldEqual, 3)
		test.That(t, cmp.Diff(act.History(), []fakemotor.Call{fakemotor.SetDuty(0.5), fakemotor.Brake()}), test.ShouldBeEmpty)

		enc.SetPosition(8)
		res, err = ctrl.MoveToCount(context.Background(), 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Reached, test.ShouldBeFalse)
	})
}

func TestMoveToCountZeroDuty(t *testing.T) {
	ctrl, act, _ := newTestController(t, testLimits(), newStepClock(nil))

	res, err := ctrl.MoveToCount(context.Background(), 10, WithDuty(0))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusTimedOut)
	test.That(t, act.History()[0], test.ShouldResemble, fakemotor.SetDuty(0))
	test.That(t, lastCall(t, act), test.ShouldResemble, fakemotor.Brake())
}

func TestSpinFor(t *testing.T) {
	var enc *fakeencoder.Encoder
	ctrl, act, e := newTestController(t, testLimits(), newStepClock(func(int) { enc.Tick(3) }))
	enc = e
	logger, logs := logging.NewObservedTestLogger(t)
	ctrl.logger = logger

	res, err := ctrl.SpinFor(context.Background(), 0.4, 100*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Reached, test.ShouldBeTrue)
	test.That(t, res.Status, test.ShouldEqual, StatusReached)
	test.That(t, res.Elapsed, test.ShouldBeGreaterThanOrEqualTo, 100*time.Millisecond)
	test.That(t, res.FinalPosition, test.ShouldEqual, 30)
	test.That(t, res.Target, test.ShouldEqual, res.FinalPosition)
	test.That(t, cmp.Diff(act.History(), []fakemotor.Call{fakemotor.SetDuty(0.4), fakemotor.Brake()}), test.ShouldBeEmpty)
	test.That(t, logs.FilterMessage("spin_for duty=0.40 duration=0.10s").Len(), test.ShouldEqual, 1)
}

func TestSpinForClamps(t *testing.T) {
	t.Run("duty and duration", func(t *testing.T) {
		ctrl, act, _ := newTestController(t, testLimits(), newStepClock(nil))
		res, err := ctrl.SpinFor(context.Background(), 2, 5*time.Second)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Reached, test.ShouldBeTrue)
		test.That(t, res.Elapsed, test.ShouldEqual, 200*time.Millisecond)
		test.That(t, act.History()[0], test.ShouldResemble, fakemotor.SetDuty(1))

		act.Reset()
		_, err = ctrl.SpinFor(context.Background(), -2, 10*time.Millisecond)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, act.History()[0], test.ShouldResemble, fakemotor.SetDuty(-1))
	})

	t.Run("negative duration", func(t *testing.T) {
		clk := newStepClock(nil)
		ctrl, act, _ := newTestController(t, testLimits(), clk)
		res, err := ctrl.SpinFor(context.Background(), 0.5, -time.Second)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Reached, test.ShouldBeTrue)
		test.That(t, res.Elapsed, test.ShouldEqual, 0)
		test.That(t, clk.sleeps, test.ShouldEqual, 0)
		test.That(t, cmp.Diff(act.History(), []fakemotor.Call{fakemotor.SetDuty(0.5), fakemotor.Brake()}), test.ShouldBeEmpty)
	})
}

func TestEmergencyStopIsSticky(t *testing.T) {
	ctrl, act, _ := newTestController(t, testLimits(), newStepClock(nil))
	logger, logs := logging.NewObservedTestLogger(t)
	ctrl.logger = logger

	test.That(t, ctrl.EmergencyStop(context.Background()), test.ShouldBeNil)
	test.That(t, ctrl.StopRequested(), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("emergency stop triggered").Len(), test.ShouldEqual, 1)

	res, err := ctrl.MoveToCount(context.Background(), 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusStopped)
	test.That(t, res.Reached, test.ShouldBeFalse)
	test.That(t, res.Target, test.ShouldEqual, 10)

	res, err = ctrl.SpinFor(context.Background(), 0.5, 50*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusStopped)
	test.That(t, res.Reached, test.ShouldBeFalse)

	test.That(t, act.Count(fakemotor.CallSetDuty), test.ShouldEqual, 0)
	test.That(t, cmp.Diff(act.History(), []fakemotor.Call{
		fakemotor.Brake(), fakemotor.Brake(), fakemotor.Brake(),
	}), test.ShouldBeEmpty)

	ctrl.ClearStop()
	test.That(t, ctrl.StopRequested(), test.ShouldBeFalse)
	res, err = ctrl.SpinFor(context.Background(), 0.5, 20*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Reached, test.ShouldBeTrue)
	test.That(t, act.Count(fakemotor.CallSetDuty), test.ShouldEqual, 1)
}

func TestEmergencyStopDuringMove(t *testing.T) {
	var ctrl *Controller
	var enc *fakeencoder.Encoder
	clk := newStepClock(func(sleeps int) {
		enc.Tick(1)
		if sleeps == 3 {
			//nolint:errcheck
			ctrl.EmergencyStop(context.Background())
		}
	})
	c, act, e := newTestController(t, testLimits(), clk)
	ctrl, enc = c, e
	logger, logs := logging.NewObservedTestLogger(t)
	ctrl.logger = logger

	res, err := ctrl.MoveToCount(context.Background(), 100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusStopped)
	test.That(t, res.Reached, test.ShouldBeFalse)
	test.That(t, res.FinalPosition, test.ShouldEqual, 3)
	test.That(t, cmp.Diff(act.History(), []fakemotor.Call{
		fakemotor.SetDuty(0.5), fakemotor.Brake(), fakemotor.Brake(),
	}), test.ShouldBeEmpty)
	test.That(t, logs.FilterMessage("move_to interrupted by stop").Len(), test.ShouldEqual, 1)
}

func TestEmergencyStopDuringSpin(t *testing.T) {
	var ctrl *Controller
	clk := newStepClock(func(sleeps int) {
		if sleeps == 2 {
			//nolint:errcheck
			ctrl.EmergencyStop(context.Background())
		}
	})
	ctrl, _, _ = newTestController(t, testLimits(), clk)

	res, err := ctrl.SpinFor(context.Background(), 0.5, 100*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusStopped)
	test.That(t, res.Reached, test.ShouldBeFalse)
	test.That(t, res.Elapsed, test.ShouldEqual, 20*time.Millisecond)
}

func TestEmergencyStopFromAnotherGoroutine(t *testing.T) {
	mock := clock.NewMock()
	ctrl, act, _ := newTestController(t, testLimits(), mock)

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := ctrl.MoveToCount(context.Background(), 10)
		done <- outcome{res, err}
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, act.Count(fakemotor.CallSetDuty), test.ShouldEqual, 1)
	})
	state, err := ctrl.Status(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state.Moving, test.ShouldBeTrue)

	test.That(t, ctrl.EmergencyStop(context.Background()), test.ShouldBeNil)

	var out outcome
	for waiting := true; waiting; {
		select {
		case out = <-done:
			waiting = false
		default:
			mock.Add(testLimits().PollInterval)
		}
	}
	test.That(t, out.err, test.ShouldBeNil)
	test.That(t, out.res.Status, test.ShouldEqual, StatusStopped)
	test.That(t, lastCall(t, act), test.ShouldResemble, fakemotor.Brake())

	state, err = ctrl.Status(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldResemble, State{Position: 0, StopRequested: true, Moving: false})
}

func TestCancelledContextStillBrakes(t *testing.T) {
	var enc *fakeencoder.Encoder
	ctrl, act, e := newTestController(t, testLimits(), newStepClock(func(int) { enc.Tick(1) }))
	enc = e

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := ctrl.MoveToCount(ctx, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Reached, test.ShouldBeTrue)
	test.That(t, lastCall(t, act), test.ShouldResemble, fakemotor.Brake())
}

func TestIOFailures(t *testing.T) {
	setDutyErr := errors.New("i2c write failed")
	brakeErr := errors.New("brake failed")

	t.Run("set duty", func(t *testing.T) {
		ctrl, act, _ := newTestController(t, testLimits(), newStepClock(nil))
		act.SetDutyErr = setDutyErr

		_, err := ctrl.MoveToCount(context.Background(), 10)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, errors.Is(err, setDutyErr), test.ShouldBeTrue)
		test.That(t, lastCall(t, act), test.ShouldResemble, fakemotor.Brake())

		_, err = ctrl.SpinFor(context.Background(), 0.5, time.Second)
		test.That(t, errors.Is(err, setDutyErr), test.ShouldBeTrue)
		test.That(t, lastCall(t, act), test.ShouldResemble, fakemotor.Brake())
	})

	t.Run("set duty and brake", func(t *testing.T) {
		ctrl, act, _ := newTestController(t, testLimits(), newStepClock(nil))
		act.SetDutyErr = setDutyErr
		act.BrakeErr = brakeErr

		_, err := ctrl.MoveToCount(context.Background(), 10)
		test.That(t, errors.Is(err, setDutyErr), test.ShouldBeTrue)
		test.That(t, errors.Is(err, brakeErr), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldStartWith, setDutyErr.Error())
	})

	t.Run("encoder read mid move", func(t *testing.T) {
		readErr := errors.New("encoder gone")
		var enc *fakeencoder.Encoder
		ctrl, act, e := newTestController(t, testLimits(), newStepClock(func(sleeps int) {
			if sleeps == 2 {
				enc.PositionErr = readErr
			}
		}))
		enc = e

		_, err := ctrl.MoveToCount(context.Background(), 10)
		test.That(t, errors.Is(err, readErr), test.ShouldBeTrue)
		test.That(t, cmp.Diff(act.History(), []fakemotor.Call{fakemotor.SetDuty(0.5), fakemotor.Brake()}), test.ShouldBeEmpty)
	})

	t.Run("encoder read before move", func(t *testing.T) {
		ctrl, act, enc := newTestController(t, testLimits(), newStepClock(nil))
		enc.PositionErr = errors.New("encoder gone")

		_, err := ctrl.MoveToCount(context.Background(), 10)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, act.History(), test.ShouldBeEmpty)
	})
}

func TestReleaseCoasts(t *testing.T) {
	ctrl, act, enc := newTestController(t, testLimits(), newStepClock(nil))
	enc.SetPosition(42)

	test.That(t, ctrl.Release(context.Background()), test.ShouldBeNil)
	test.That(t, cmp.Diff(act.History(), []fakemotor.Call{fakemotor.Coast()}), test.ShouldBeEmpty)

	state, err := ctrl.Status(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldResemble, State{Position: 42})
}

func TestStatusWhileMoving(t *testing.T) {
	var ctrl *Controller
	var enc *fakeencoder.Encoder
	var during State
	clk := newStepClock(func(sleeps int) {
		enc.Tick(1)
		if sleeps == 2 {
			var err error
			during, err = ctrl.Status(context.Background())
			test.That(t, err, test.ShouldBeNil)
			test.That(t, ctrl.EmergencyStop(context.Background()), test.ShouldBeNil)
		}
	})
	ctrl, _, enc = newTestController(t, testLimits(), clk)

	res, err := ctrl.MoveToCount(context.Background(), 100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusStopped)
	test.That(t, during, test.ShouldResemble, State{Position: 2, Moving: true})

	after, err := ctrl.Status(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, after, test.ShouldResemble, State{Position: 2, StopRequested: true})
}

func TestSetLimits(t *testing.T) {
	var ctrl *Controller
	var setWhileMoving error
	clk := newStepClock(func(int) {
		setWhileMoving = ctrl.SetLimits(testLimits())
	})
	ctrl, _, enc := newTestController(t, testLimits(), clk)

	calibrated := testLimits()
	calibrated.MaxCount = 8000
	test.That(t, ctrl.SetLimits(calibrated), test.ShouldBeNil)
	test.That(t, ctrl.Limits(), test.ShouldResemble, calibrated)

	bad := calibrated
	bad.MinCount = 9000
	err := ctrl.SetLimits(bad)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "min_count")
	test.That(t, ctrl.Limits(), test.ShouldResemble, calibrated)

	enc.SetPosition(7000)
	res, err := ctrl.MoveToCount(context.Background(), 7001, WithTimeout(20*time.Millisecond))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusTimedOut)
	test.That(t, setWhileMoving, test.ShouldNotBeNil)
	test.That(t, setWhileMoving.Error(), test.ShouldContainSubstring, "while it is moving")
	test.That(t, ctrl.Limits(), test.ShouldResemble, calibrated)
}

func TestDebugModeLogsPolls(t *testing.T) {
	ctrl, _, _ := newTestController(t, testLimits(), newStepClock(nil))
	logger, logs := logging.NewObservedTestLogger(t)
	logger.SetLevel(logging.INFO)
	ctrl.logger = logger

	_, err := ctrl.MoveToCount(context.Background(), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("move_to poll").Len(), test.ShouldEqual, 0)

	_, err = ctrl.MoveToCount(logging.EnableDebugModeWithKey(context.Background(), "move"), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("move_to poll").Len(), test.ShouldEqual, 1)
}

func TestStatusString(t *testing.T) {
	test.That(t, StatusReached.String(), test.ShouldEqual, "reached")
	test.That(t, StatusTimedOut.String(), test.ShouldEqual, "timed_out")
	test.That(t, StatusOutOfBounds.String(), test.ShouldEqual, "out_of_bounds")
	test.That(t, StatusStopped.String(), test.ShouldEqual, "stopped")
	text, err := StatusStopped.MarshalText()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(text), test.ShouldEqual, "stopped")
}
