// Package board defines the interfaces that connect motorctl to a physical board's digital
// lines and outputs.
package board

import (
	"context"
)

// Tick represents a signal received by a digital interrupt line.
type Tick struct {
	Name             string
	High             bool
	TimestampNanosec uint64
}

// An EdgeHandler is invoked for every edge seen on a DigitalInterrupt. Handlers run on the
// board's watcher goroutine and must not block.
type EdgeHandler func(tick Tick)

// A DigitalInterrupt is a named input line that reports edges.
type DigitalInterrupt interface {
	// Name returns the name of the line.
	Name() string

	// Value samples the current level of the line.
	Value(ctx context.Context) (bool, error)

	// SetPull configures the line as an input with the given bias.
	SetPull(ctx context.Context, pull Pull) error

	// AddCallback registers a handler for both edges of the line. The returned func removes
	// it and may be called more than once.
	AddCallback(handler EdgeHandler) (func(), error)
}

// A Board resolves lines and output pins by name.
type Board interface {
	// DigitalInterruptByName returns the input line with the given name. Lines that do not
	// exist on the board return an error wrapping ErrHardwareUnavailable.
	DigitalInterruptByName(name string) (DigitalInterrupt, error)

	// GPIOPinByName returns the output pin with the given name.
	GPIOPinByName(name string) (GPIOPin, error)

	// Close stops every watcher and releases the lines.
	Close(ctx context.Context) error
}
