// Package hbridge drives a DC motor through a GPIO H-bridge such as an L298N or TB6612,
// with two direction pins and an optional PWM (enable) pin. A driver wired with only pin a
// runs forward only.
package hbridge

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/tocado/motorctl/components/board"
	"github.com/tocado/motorctl/components/motor"
	"github.com/tocado/motorctl/logging"
)

// DefaultPWMFreqHz is used when no frequency is configured.
const DefaultPWMFreqHz = 1000

// Config describes how the H-bridge is wired.
type Config struct {
	A         string `json:"a"`
	B         string `json:"b"`
	PWM       string `json:"pwm,omitempty"`
	PWMFreqHz uint   `json:"pwm_freq_hz,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.A == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "a")
	}
	seen := map[string]string{conf.A: "a"}
	for field, pin := range map[string]string{"b": conf.B, "pwm": conf.PWM} {
		if pin == "" {
			continue
		}
		if other, ok := seen[pin]; ok {
			return utils.NewConfigValidationError(path, errors.Errorf("%s and %s both use pin %q", other, field, pin))
		}
		seen[pin] = field
	}
	return nil
}

var _ = motor.Actuator(&Motor{})

// Motor is a DC motor on a GPIO H-bridge.
type Motor struct {
	name    string
	a, b    board.GPIOPin
	pwm     board.GPIOPin
	pwmFreq uint
	logger  logging.Logger
}

// NewMotor resolves the configured pins on b and returns a coasting motor.
func NewMotor(ctx context.Context, name string, b board.Board, conf *Config, logger logging.Logger) (*Motor, error) {
	if err := conf.Validate(name); err != nil {
		return nil, err
	}
	m := &Motor{name: name, pwmFreq: conf.PWMFreqHz, logger: logger}
	if m.pwmFreq == 0 {
		m.pwmFreq = DefaultPWMFreqHz
	}

	var err error
	if m.a, err = b.GPIOPinByName(conf.A); err != nil {
		return nil, err
	}
	if conf.B != "" {
		if m.b, err = b.GPIOPinByName(conf.B); err != nil {
			return nil, err
		}
	}
	if conf.PWM != "" {
		if m.pwm, err = b.GPIOPinByName(conf.PWM); err != nil {
			return nil, err
		}
	}

	// Frequency is set once; every driven pin PWMs at it.
	for _, p := range m.dutyPins() {
		if err := p.SetPWMFreq(ctx, m.pwmFreq); err != nil {
			return nil, errors.Wrapf(err, "setting pwm frequency for %s", name)
		}
	}
	if err := m.Coast(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Motor) dutyPins() []board.GPIOPin {
	if m.pwm != nil {
		return []board.GPIOPin{m.pwm}
	}
	if m.b == nil {
		return []board.GPIOPin{m.a}
	}
	return []board.GPIOPin{m.a, m.b}
}

// setB is a no-op on forward-only drivers.
func (m *Motor) setB(ctx context.Context, high bool) error {
	if m.b == nil {
		return nil
	}
	return m.b.Set(ctx, high)
}

// SetDuty drives the motor at a signed duty in [-1, 1]. A duty of 0 brakes.
func (m *Motor) SetDuty(ctx context.Context, duty float64) error {
	duty = motor.ClampDuty(duty)
	m.logger.CDebugf(ctx, "%s duty -> %.3f", m.name, duty)
	if motor.Sign(duty) == 0 {
		return m.Brake(ctx)
	}
	forward := duty > 0
	if !forward && m.b == nil {
		return motor.NewDirectionUnsupportedError(m.name)
	}
	power := math.Abs(duty)

	if m.pwm != nil {
		return multierr.Combine(
			m.a.Set(ctx, forward),
			m.setB(ctx, !forward),
			m.pwm.SetPWM(ctx, power), // Must be last so direction is settled before power.
		)
	}

	// Without an enable pin the active direction pin carries the PWM.
	if forward {
		return multierr.Combine(m.setB(ctx, false), m.a.SetPWM(ctx, power))
	}
	return multierr.Combine(m.a.Set(ctx, false), m.b.SetPWM(ctx, power))
}

// Brake drives both direction pins high with the bridge enabled. A forward-only driver
// cannot short the motor, so it coasts instead.
func (m *Motor) Brake(ctx context.Context) error {
	if m.b == nil {
		return m.Coast(ctx)
	}
	m.logger.CDebugf(ctx, "%s brake", m.name)
	errs := multierr.Combine(m.a.Set(ctx, true), m.b.Set(ctx, true))
	if m.pwm != nil {
		errs = multierr.Combine(errs, m.pwm.Set(ctx, true))
	}
	return errs
}

// Coast drives every pin low.
func (m *Motor) Coast(ctx context.Context) error {
	m.logger.CDebugf(ctx, "%s release", m.name)
	errs := multierr.Combine(m.a.Set(ctx, false), m.setB(ctx, false))
	if m.pwm != nil {
		errs = multierr.Combine(errs, m.pwm.Set(ctx, false))
	}
	return errs
}
