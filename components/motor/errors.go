package motor

import "github.com/pkg/errors"

// NewInvalidChannelError returns an error for a motor channel the driver does not have.
func NewInvalidChannelError(channel, maxChannel int) error {
	return errors.Errorf("motor channel must be between 1 and %d, got %d", maxChannel, channel)
}

// NewDirectionUnsupportedError returns an error for a driver that cannot run in reverse.
func NewDirectionUnsupportedError(motorName string) error {
	return errors.Errorf("motor named %s has no direction pins and cannot run in reverse", motorName)
}
