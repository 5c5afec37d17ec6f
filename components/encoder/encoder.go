// Package encoder defines the position-sensing interface shared by the decoder and the
// motion controller.
package encoder

import (
	"context"
)

// A PositionReader reports a signed tick count.
type PositionReader interface {
	// Position returns the number of ticks since the last reset.
	Position(ctx context.Context) (int64, error)
}

// An Encoder turns edges on its input lines into a position.
type Encoder interface {
	PositionReader

	// Start begins counting. Calling Start on a running encoder does nothing.
	Start(ctx context.Context) error

	// Stop stops counting and keeps the current position. It is safe to call on an encoder
	// that was never started.
	Stop() error

	// ResetPosition sets the current position to value.
	ResetPosition(ctx context.Context, value int64) error
}
