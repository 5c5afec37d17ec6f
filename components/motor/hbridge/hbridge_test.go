package hbridge

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/tocado/motorctl/components/board"
	fakeboard "github.com/tocado/motorctl/components/board/fake"
	"github.com/tocado/motorctl/logging"
)

type pinState struct {
	high bool
	pwm  float64
}

func state(t *testing.T, b *fakeboard.Board, name string) pinState {
	t.Helper()
	p, err := b.Pin(name)
	test.That(t, err, test.ShouldBeNil)
	high, err := p.Get(context.Background())
	test.That(t, err, test.ShouldBeNil)
	pwm, err := p.PWM(context.Background())
	test.That(t, err, test.ShouldBeNil)
	return pinState{high: high, pwm: pwm}
}

func TestConfigValidate(t *testing.T) {
	conf := Config{}
	err := conf.Validate("hbridge")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"a" is required`)

	conf.A = "GPIO5"
	test.That(t, conf.Validate("hbridge"), test.ShouldBeNil)

	conf.B = "GPIO5"
	err = conf.Validate("hbridge")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "GPIO5")

	conf.B = "GPIO6"
	conf.PWM = "GPIO6"
	test.That(t, conf.Validate("hbridge"), test.ShouldNotBeNil)

	conf.PWM = "GPIO12"
	test.That(t, conf.Validate("hbridge"), test.ShouldBeNil)
}

func TestMotorWithPWMPin(t *testing.T) {
	ctx := context.Background()
	b := fakeboard.NewBoard(logging.NewTestLogger(t))
	m, err := NewMotor(ctx, "motor1", b, &Config{A: "a", B: "b", PWM: "pwm"}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	pwmPin, _ := b.Pin("pwm")
	freq, _ := pwmPin.PWMFreq(ctx)
	test.That(t, freq, test.ShouldEqual, uint(DefaultPWMFreqHz))
	test.That(t, state(t, b, "pwm"), test.ShouldResemble, pinState{})

	test.That(t, m.SetDuty(ctx, 0.4), test.ShouldBeNil)
	test.That(t, state(t, b, "a").high, test.ShouldBeTrue)
	test.That(t, state(t, b, "b").high, test.ShouldBeFalse)
	test.That(t, state(t, b, "pwm").pwm, test.ShouldEqual, 0.4)

	test.That(t, m.SetDuty(ctx, -2), test.ShouldBeNil)
	test.That(t, state(t, b, "a").high, test.ShouldBeFalse)
	test.That(t, state(t, b, "b").high, test.ShouldBeTrue)
	test.That(t, state(t, b, "pwm").pwm, test.ShouldEqual, 1.0)

	test.That(t, m.Brake(ctx), test.ShouldBeNil)
	test.That(t, state(t, b, "a"), test.ShouldResemble, pinState{high: true})
	test.That(t, state(t, b, "b"), test.ShouldResemble, pinState{high: true})
	test.That(t, state(t, b, "pwm"), test.ShouldResemble, pinState{high: true})

	test.That(t, m.Coast(ctx), test.ShouldBeNil)
	test.That(t, state(t, b, "a"), test.ShouldResemble, pinState{})
	test.That(t, state(t, b, "b"), test.ShouldResemble, pinState{})
	test.That(t, state(t, b, "pwm"), test.ShouldResemble, pinState{})
}

func TestMotorWithoutPWMPin(t *testing.T) {
	ctx := context.Background()
	b := fakeboard.NewBoard(logging.NewTestLogger(t))
	m, err := NewMotor(ctx, "motor1", b, &Config{A: "a", B: "b", PWMFreqHz: 500}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	aPin, _ := b.Pin("a")
	freq, _ := aPin.PWMFreq(ctx)
	test.That(t, freq, test.ShouldEqual, uint(500))

	test.That(t, m.SetDuty(ctx, 0.3), test.ShouldBeNil)
	test.That(t, state(t, b, "a").pwm, test.ShouldEqual, 0.3)
	test.That(t, state(t, b, "b"), test.ShouldResemble, pinState{})

	test.That(t, m.SetDuty(ctx, -0.6), test.ShouldBeNil)
	test.That(t, state(t, b, "a"), test.ShouldResemble, pinState{})
	test.That(t, state(t, b, "b").pwm, test.ShouldEqual, 0.6)

	// Zero duty brakes.
	test.That(t, m.SetDuty(ctx, 0), test.ShouldBeNil)
	test.That(t, state(t, b, "a"), test.ShouldResemble, pinState{high: true})
	test.That(t, state(t, b, "b"), test.ShouldResemble, pinState{high: true})
}

func TestForwardOnlyMotor(t *testing.T) {
	ctx := context.Background()
	b := fakeboard.NewBoard(logging.NewTestLogger(t))
	m, err := NewMotor(ctx, "winch", b, &Config{A: "a", PWM: "pwm"}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, m.SetDuty(ctx, 0.5), test.ShouldBeNil)
	test.That(t, state(t, b, "a").high, test.ShouldBeTrue)
	test.That(t, state(t, b, "pwm").pwm, test.ShouldEqual, 0.5)

	err = m.SetDuty(ctx, -0.5)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "motor named winch has no direction pins")
	test.That(t, state(t, b, "pwm").pwm, test.ShouldEqual, 0.5)

	// Nothing to short the motor with, so braking coasts.
	test.That(t, m.Brake(ctx), test.ShouldBeNil)
	test.That(t, state(t, b, "a"), test.ShouldResemble, pinState{})
	test.That(t, state(t, b, "pwm"), test.ShouldResemble, pinState{})
	_, ok := b.GPIOPins["b"]
	test.That(t, ok, test.ShouldBeFalse)
}

func TestMissingPin(t *testing.T) {
	b := fakeboard.NewBoard(logging.NewTestLogger(t))
	b.MarkMissing("pwm")
	_, err := NewMotor(context.Background(), "motor1", b, &Config{A: "a", B: "b", PWM: "pwm"}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, board.ErrHardwareUnavailable), test.ShouldBeTrue)
}
