// Package motor defines the actuator interface that the motion controller drives, and the
// duty helpers its drivers share.
package motor

import (
	"context"
	"math"
)

// An Actuator drives a DC motor through an H-bridge.
type Actuator interface {
	// SetDuty drives the motor at a signed duty cycle in [-1, 1]. Positive is forward.
	SetDuty(ctx context.Context, duty float64) error

	// Brake shorts the motor terminals and sets the duty to 0.
	Brake(ctx context.Context) error

	// Coast leaves the motor terminals floating so the motor spins freely.
	Coast(ctx context.Context) error
}

// ClampDuty limits duty to [-1, 1]. NaN becomes 0.
func ClampDuty(duty float64) float64 {
	if math.IsNaN(duty) {
		return 0
	}
	duty = math.Min(duty, 1)
	duty = math.Max(duty, -1)
	return duty
}

// Sign returns -1, 0 or 1.
func Sign(x float64) float64 {
	if x == 0 {
		return 0
	}
	if math.Signbit(x) {
		return -1.0
	}
	return 1.0
}
