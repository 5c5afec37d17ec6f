// Package fake implements a fake encoder.
package fake

import (
	"context"
	"sync"

	"github.com/tocado/motorctl/components/encoder"
)

var _ = encoder.Encoder(&Encoder{})

// Encoder is a settable position counter. Tests move it with Tick or SetPosition.
type Encoder struct {
	mu       sync.Mutex
	position int64
	running  bool

	// PositionErr, when set, is returned by Position.
	PositionErr error
	// OnRead, when set, is called with every position read and may move the counter.
	OnRead func(position int64) int64
}

// Start marks the encoder as running.
func (e *Encoder) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	return nil
}

// Stop marks the encoder as stopped.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	return nil
}

// Running reports whether Start was called without a later Stop.
func (e *Encoder) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Position returns the current position in terms of ticks.
func (e *Encoder) Position(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.PositionErr != nil {
		return 0, e.PositionErr
	}
	if e.OnRead != nil {
		e.position = e.OnRead(e.position)
	}
	return e.position, nil
}

// ResetPosition sets the current position.
func (e *Encoder) ResetPosition(ctx context.Context, value int64) error {
	e.SetPosition(value)
	return nil
}

// SetPosition sets the position of the encoder.
func (e *Encoder) SetPosition(position int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = position
}

// Tick moves the position by delta as if delta edges had been decoded.
func (e *Encoder) Tick(delta int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position += delta
}
