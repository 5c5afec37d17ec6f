package motorshield

import (
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/tocado/motorctl/components/motor"
)

// Shield defaults.
const (
	DefaultI2CAddress = 0x60
	DefaultI2CBus     = "1"
	DefaultPWMFreqHz  = 1600
	numChannels       = 4
)

// Config describes which shield and which motor terminal to drive.
type Config struct {
	I2CBus       string `json:"i2c_bus"`
	I2CAddress   int    `json:"i2c_address"`
	MotorChannel int    `json:"motor_channel"`
	PWMFreqHz    int    `json:"pwm_freq_hz,omitempty"`
}

// Validate ensures all parts of the config are valid. Zero values are replaced by defaults
// before checking.
func (conf *Config) Validate(path string) error {
	if conf.I2CAddress == 0 {
		conf.I2CAddress = DefaultI2CAddress
	}
	if conf.I2CBus == "" {
		conf.I2CBus = DefaultI2CBus
	}
	if conf.PWMFreqHz == 0 {
		conf.PWMFreqHz = DefaultPWMFreqHz
	}
	if conf.MotorChannel == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "motor_channel")
	}
	if conf.MotorChannel < 1 || conf.MotorChannel > numChannels {
		return utils.NewConfigValidationError(path, motor.NewInvalidChannelError(conf.MotorChannel, numChannels))
	}
	// The shield's address jumpers select 0x60 through 0x7F.
	if conf.I2CAddress < 0x60 || conf.I2CAddress > 0x7F {
		return utils.NewConfigValidationError(path,
			errors.Errorf("i2c_address must be between 0x60 and 0x7F, got %#x", conf.I2CAddress))
	}
	if _, err := prescaleFor(conf.PWMFreqHz); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}
