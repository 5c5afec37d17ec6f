// Package config defines the motor configuration file and how it is read and validated.
package config

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/tocado/motorctl/components/encoder/quadrature"
	"github.com/tocado/motorctl/components/motor/hbridge"
	"github.com/tocado/motorctl/components/motor/motorshield"
	"github.com/tocado/motorctl/logging"
	"github.com/tocado/motorctl/motion"
)

// The supported motor drivers.
const (
	DriverMotorShield = "motorshield"
	DriverHBridge     = "hbridge"
)

// Config describes one motor, its driver, its encoder and the limits it moves within.
type Config struct {
	ConfigFilePath string `json:"-"`

	Name        string              `json:"name"`
	Driver      string              `json:"driver"`
	MotorShield *motorshield.Config `json:"motorshield,omitempty"`
	HBridge     *hbridge.Config     `json:"hbridge,omitempty"`
	Encoder     quadrature.Config   `json:"encoder"`
	DefaultDuty float64             `json:"default_duty"`
	Limits      Limits              `json:"limits"`

	// StepsPerMM converts encoder counts to millimeters for display. Zero disables it.
	StepsPerMM float64 `json:"steps_per_mm,omitempty"`

	// LogLevel is used when --log-level is not given.
	LogLevel *logging.Level `json:"log_level,omitempty"`
}

// Limits is the file form of motion.Limits, with durations in seconds.
type Limits struct {
	MinCount        int64   `json:"min_count"`
	MaxCount        int64   `json:"max_count"`
	MaxRuntimeSec   float64 `json:"max_runtime_s"`
	PollIntervalSec float64 `json:"poll_interval_s"`
	StopTolerance   int64   `json:"stop_tolerance"`
}

// Default returns the configuration used when no file is given: a motor on channel 1 of a
// motor shield at 0x60 on bus 1, with its encoder on GPIO17 and GPIO27.
func Default() *Config {
	defaults := motion.DefaultLimits()
	return &Config{
		Name:   "motor1",
		Driver: DriverMotorShield,
		MotorShield: &motorshield.Config{
			I2CBus:       motorshield.DefaultI2CBus,
			I2CAddress:   motorshield.DefaultI2CAddress,
			MotorChannel: 1,
			PWMFreqHz:    motorshield.DefaultPWMFreqHz,
		},
		Encoder: quadrature.Config{
			A:          "GPIO17",
			B:          "GPIO27",
			Pull:       "up",
			DebounceMs: 2,
		},
		DefaultDuty: motion.DefaultDuty,
		Limits: Limits{
			MinCount:        defaults.MinCount,
			MaxCount:        defaults.MaxCount,
			MaxRuntimeSec:   defaults.MaxRuntime.Seconds(),
			PollIntervalSec: defaults.PollInterval.Seconds(),
			StopTolerance:   defaults.StopTolerance,
		},
	}
}

// Ensure validates the config, filling in driver defaults. The first problem found is returned.
func (c *Config) Ensure() error {
	if c.Name == "" {
		return utils.NewConfigValidationFieldRequiredError("", "name")
	}

	switch c.Driver {
	case DriverMotorShield:
		if c.MotorShield == nil {
			return utils.NewConfigValidationFieldRequiredError("", DriverMotorShield)
		}
		if err := c.MotorShield.Validate(DriverMotorShield); err != nil {
			return err
		}
	case DriverHBridge:
		if c.HBridge == nil {
			return utils.NewConfigValidationFieldRequiredError("", DriverHBridge)
		}
		if err := c.HBridge.Validate(DriverHBridge); err != nil {
			return err
		}
		for _, pin := range []string{c.HBridge.A, c.HBridge.B, c.HBridge.PWM} {
			if pin != "" && (pin == c.Encoder.A || pin == c.Encoder.B) {
				return utils.NewConfigValidationError("encoder",
					errors.Errorf("pin %q is also used by the h-bridge", pin))
			}
		}
	case "":
		return utils.NewConfigValidationFieldRequiredError("", "driver")
	default:
		return utils.NewConfigValidationError("driver",
			errors.Errorf("unknown driver %q, expected %q or %q", c.Driver, DriverMotorShield, DriverHBridge))
	}

	if err := c.Encoder.Validate("encoder"); err != nil {
		return err
	}
	if err := c.Limits.Motion().Validate("limits"); err != nil {
		return err
	}
	if math.IsNaN(c.DefaultDuty) || c.DefaultDuty < 0 || c.DefaultDuty > 1 {
		return utils.NewConfigValidationError("default_duty",
			errors.Errorf("must be between 0 and 1, got %v", c.DefaultDuty))
	}
	if c.StepsPerMM < 0 {
		return utils.NewConfigValidationError("steps_per_mm", errors.New("cannot be negative"))
	}
	return nil
}

// Motion returns the limits as the controller uses them.
func (l Limits) Motion() motion.Limits {
	return motion.Limits{
		MinCount:      l.MinCount,
		MaxCount:      l.MaxCount,
		MaxRuntime:    secondsToDuration(l.MaxRuntimeSec),
		PollInterval:  secondsToDuration(l.PollIntervalSec),
		StopTolerance: l.StopTolerance,
	}
}

// Controller returns the motion controller configuration.
func (c *Config) Controller() motion.Config {
	return motion.Config{Limits: c.Limits.Motion(), DefaultDuty: c.DefaultDuty}
}

// CountsForMM converts a distance to encoder counts, rounding to the nearest count.
func (c *Config) CountsForMM(mm float64) (int64, error) {
	if c.StepsPerMM == 0 {
		return 0, errors.New("steps_per_mm is not configured")
	}
	return int64(math.Round(mm * c.StepsPerMM)), nil
}

// MMForCounts converts encoder counts to a distance. It returns 0 when steps_per_mm is not
// configured.
func (c *Config) MMForCounts(counts int64) float64 {
	if c.StepsPerMM == 0 {
		return 0
	}
	return float64(counts) / c.StepsPerMM
}

// CountsForFraction returns the count at frac of the way from min_count to max_count,
// rounded to the nearest count.
func (c *Config) CountsForFraction(frac float64) (int64, error) {
	if math.IsNaN(frac) || frac < 0 || frac > 1 {
		return 0, errors.Errorf("fraction must be between 0 and 1, got %v", frac)
	}
	travel := float64(c.Limits.MaxCount - c.Limits.MinCount)
	return c.Limits.MinCount + int64(math.Round(travel*frac)), nil
}

// Seconds converts seconds to a duration, saturating at the limits of time.Duration.
// NaN and infinities are rejected.
func Seconds(sec float64) (time.Duration, error) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) {
		return 0, errors.Errorf("%v is not a finite number of seconds", sec)
	}
	ns := math.Round(sec * float64(time.Second))
	switch {
	case ns >= math.MaxInt64:
		return math.MaxInt64, nil
	case ns <= math.MinInt64:
		return math.MinInt64, nil
	}
	return time.Duration(ns), nil
}

// secondsToDuration maps values Seconds rejects to 0, which limit validation rejects.
func secondsToDuration(sec float64) time.Duration {
	d, err := Seconds(sec)
	if err != nil {
		return 0
	}
	return d
}
