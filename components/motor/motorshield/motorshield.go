/*
Package motorshield drives one DC motor terminal of an Adafruit Motor Shield V2.3.

The shield is a PCA9685 PWM chip feeding two TB6612 H-bridges. Each terminal uses three
PCA9685 channels: PWM is held fully on, and speed and direction come from the duty on IN1
or IN2 (fast decay). Both inputs fully on brakes; both fully off coasts.

Sample configuration:

	{
		"i2c_bus": "1",
		"i2c_address": 96,
		"motor_channel": 1,
		"pwm_freq_hz": 1600
	}
*/
package motorshield

import (
	"context"
	"math"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/i2c"

	"github.com/tocado/motorctl/components/board/genericlinux"
	"github.com/tocado/motorctl/components/motor"
	"github.com/tocado/motorctl/logging"
)

var _ = motor.Actuator(&Motor{})

// pcaChannels are the PCA9685 channels behind one motor terminal.
type pcaChannels struct {
	pwm, in2, in1 int
}

var channelMap = map[int]pcaChannels{
	1: {pwm: 8, in2: 9, in1: 10},
	2: {pwm: 13, in2: 12, in1: 11},
	3: {pwm: 2, in2: 3, in1: 4},
	4: {pwm: 7, in2: 6, in1: 5},
}

// Motor is one terminal (M1-M4) of the shield.
type Motor struct {
	name     string
	chip     *pca9685
	channels pcaChannels
	logger   logging.Logger
	closer   func() error
}

// Open opens the configured I2C bus and returns the configured motor. Close releases the bus.
func Open(ctx context.Context, name string, conf *Config, logger logging.Logger) (*Motor, error) {
	if err := conf.Validate(name); err != nil {
		return nil, err
	}
	bus, err := genericlinux.OpenI2C(conf.I2CBus)
	if err != nil {
		return nil, err
	}
	m, err := NewMotor(ctx, name, bus, conf, logger)
	if err != nil {
		return nil, multierr.Combine(err, bus.Close())
	}
	m.closer = bus.Close
	return m, nil
}

// NewMotor configures the shield on bus and returns the configured motor, coasting.
func NewMotor(ctx context.Context, name string, bus i2c.Bus, conf *Config, logger logging.Logger) (*Motor, error) {
	if err := conf.Validate(name); err != nil {
		return nil, err
	}
	chip := &pca9685{
		dev:    &i2c.Dev{Bus: bus, Addr: uint16(conf.I2CAddress)},
		logger: logger,
	}
	if err := chip.init(ctx, conf.PWMFreqHz); err != nil {
		return nil, err
	}
	m := &Motor{
		name:     name,
		chip:     chip,
		channels: channelMap[conf.MotorChannel],
		logger:   logger,
	}
	if err := multierr.Combine(chip.fullOn(m.channels.pwm), m.Coast(ctx)); err != nil {
		return nil, err
	}
	logger.CInfow(ctx, "motor shield ready", "address", conf.I2CAddress, "channel", conf.MotorChannel)
	return m, nil
}

// SetDuty drives the motor at a signed duty in [-1, 1]. A duty of exactly 0 brakes, as the
// shield's reference driver does.
func (m *Motor) SetDuty(ctx context.Context, duty float64) error {
	duty = motor.ClampDuty(duty)
	m.logger.CDebugf(ctx, "%s duty -> %.3f", m.name, duty)
	switch motor.Sign(duty) {
	case 0:
		return m.Brake(ctx)
	case 1:
		if err := m.chip.fullOff(m.channels.in2); err != nil {
			return err
		}
		return m.chip.setDuty(m.channels.in1, duty)
	default:
		if err := m.chip.fullOff(m.channels.in1); err != nil {
			return err
		}
		return m.chip.setDuty(m.channels.in2, math.Abs(duty))
	}
}

// Brake shorts the motor terminals.
func (m *Motor) Brake(ctx context.Context) error {
	m.logger.CDebugf(ctx, "%s brake", m.name)
	return multierr.Combine(m.chip.fullOn(m.channels.in1), m.chip.fullOn(m.channels.in2))
}

// Coast releases the motor terminals.
func (m *Motor) Coast(ctx context.Context) error {
	m.logger.CDebugf(ctx, "%s release", m.name)
	return multierr.Combine(m.chip.fullOff(m.channels.in1), m.chip.fullOff(m.channels.in2))
}

// Close releases the I2C bus if Open created it. The motor keeps its last state.
func (m *Motor) Close(ctx context.Context) error {
	if m.closer == nil {
		return nil
	}
	closer := m.closer
	m.closer = nil
	return closer()
}
