/*
Package quadrature implements a half-resolution quadrature encoder on two digital lines.

Only edges on line A are counted. On each A edge the levels of A and B are compared: equal
levels count +1, different levels count -1. Edges on B are never observed, so one full
A/B cycle yields two counts rather than four.

	    +---------+         +---------+      1
	    |         |         |         |
	A   |         |         |         |
	    |         |         |         |
	----+         +---------+         +----- 0

	         +---------+         +---------+ 1
	         |         |         |         |
	B        |         |         |         |
	         |         |         |         |
	---------+         +---------+         + 0

Sample configuration:

	{
		"a": "GPIO17",
		"b": "GPIO27",
		"pull": "up",
		"debounce_ms": 2
	}
*/
package quadrature

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/tocado/motorctl/components/board"
	"github.com/tocado/motorctl/components/encoder"
	"github.com/tocado/motorctl/logging"
)

var _ = encoder.Encoder(&Encoder{})

// Encoder keeps track of a motor position using a quadrature encoder.
type Encoder struct {
	name   string
	board  board.Board
	pull   board.Pull
	window time.Duration
	pinA   string
	pinB   string
	logger logging.Logger

	position atomic.Int64
	dropped  atomic.Int64

	mu      sync.Mutex
	a, b    board.DigitalInterrupt
	limiter *rate.Limiter
	remove  func()
}

// NewEncoder returns a stopped encoder reading the configured lines of b.
func NewEncoder(name string, b board.Board, conf *Config, logger logging.Logger) (*Encoder, error) {
	if err := conf.Validate(name); err != nil {
		return nil, err
	}
	pull, _ := board.ParsePull(conf.Pull)
	return &Encoder{
		name:   name,
		board:  b,
		pull:   pull,
		window: conf.DebounceWindow(),
		pinA:   conf.A,
		pinB:   conf.B,
		logger: logger,
	}, nil
}

// Start configures both lines and begins counting edges on A.
func (e *Encoder) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remove != nil {
		return nil
	}
	if e.board == nil {
		return board.NewHardwareUnavailableError("no board for encoder "+e.name, nil)
	}

	a, err := e.lineByName(e.pinA)
	if err != nil {
		return err
	}
	b, err := e.lineByName(e.pinB)
	if err != nil {
		return err
	}
	for _, line := range []board.DigitalInterrupt{a, b} {
		if err := line.SetPull(ctx, e.pull); err != nil {
			return board.NewHardwareUnavailableError("configuring pin "+line.Name(), err)
		}
	}

	e.a, e.b = a, b
	e.limiter = nil
	if e.window > 0 {
		e.limiter = rate.NewLimiter(rate.Every(e.window), 1)
	}
	remove, err := a.AddCallback(e.tick)
	if err != nil {
		return board.NewHardwareUnavailableError("watching pin "+a.Name(), err)
	}
	e.remove = remove
	e.logger.CInfow(ctx, "encoder started", "a", e.pinA, "b", e.pinB, "pull", e.pull.String(), "debounce", e.window)
	return nil
}

func (e *Encoder) lineByName(name string) (board.DigitalInterrupt, error) {
	line, err := e.board.DigitalInterruptByName(name)
	if err != nil {
		if errors.Is(err, board.ErrHardwareUnavailable) {
			return nil, err
		}
		return nil, board.NewHardwareUnavailableError("looking up pin "+name, err)
	}
	return line, nil
}

// tick runs on the board's watcher for every edge on A.
func (e *Encoder) tick(t board.Tick) {
	if e.limiter != nil && !e.limiter.AllowN(time.Unix(0, int64(t.TimestampNanosec)), 1) {
		return
	}
	bHigh, err := e.b.Value(context.Background())
	if err != nil {
		e.dropped.Inc()
		return
	}
	if t.High == bHigh {
		e.position.Inc()
	} else {
		e.position.Dec()
	}
}

// Stop stops counting. The position is kept.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	remove := e.remove
	e.remove = nil
	e.mu.Unlock()

	if remove == nil {
		return nil
	}
	remove()
	if dropped := e.dropped.Load(); dropped > 0 {
		e.logger.Warnw("encoder stopped, edges dropped because b could not be read", "dropped", dropped)
	} else {
		e.logger.Debug("encoder stopped")
	}
	return nil
}

// DroppedEdges returns how many A edges were ignored because B could not be read.
func (e *Encoder) DroppedEdges() int64 {
	return e.dropped.Load()
}

// Position returns the current position in ticks.
func (e *Encoder) Position(ctx context.Context) (int64, error) {
	return e.position.Load(), nil
}

// ResetPosition sets the current position.
func (e *Encoder) ResetPosition(ctx context.Context, value int64) error {
	e.position.Store(value)
	return nil
}

// Levels samples both lines. It is for checking wiring and needs a started encoder.
func (e *Encoder) Levels(ctx context.Context) (aHigh, bHigh bool, err error) {
	e.mu.Lock()
	a, b := e.a, e.b
	running := e.remove != nil
	e.mu.Unlock()
	if !running {
		return false, false, errors.Errorf("encoder %s is not started", e.name)
	}
	if aHigh, err = a.Value(ctx); err != nil {
		return false, false, err
	}
	if bHigh, err = b.Value(ctx); err != nil {
		return false, false, err
	}
	return aHigh, bHigh, nil
}

// Running reports whether the encoder is counting.
func (e *Encoder) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remove != nil
}
