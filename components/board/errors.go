package board

import "github.com/pkg/errors"

// ErrHardwareUnavailable is wrapped by every error caused by a missing GPIO facility, such as
// an uninitialized host driver or a line name the board does not have.
var ErrHardwareUnavailable = errors.New("hardware unavailable")

// NewHardwareUnavailableError returns an error for a facility that could not be used.
func NewHardwareUnavailableError(what string, cause error) error {
	if cause == nil {
		return errors.Wrap(ErrHardwareUnavailable, what)
	}
	return errors.Wrapf(ErrHardwareUnavailable, "%s: %v", what, cause)
}

// NewPinNotFoundError returns an error for a line name the board does not have.
func NewPinNotFoundError(name string) error {
	return errors.Wrapf(ErrHardwareUnavailable, "cannot find pin (%s)", name)
}
