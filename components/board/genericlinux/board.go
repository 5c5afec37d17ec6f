// Package genericlinux implements a board for Linux single board computers on top of
// periph.io. Lines are named as the host driver registers them, e.g. "GPIO17".
package genericlinux

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/tocado/motorctl/components/board"
	"github.com/tocado/motorctl/logging"
)

// Board resolves periph pins into digital interrupts and output pins.
type Board struct {
	logger logging.Logger
	lookup func(name string) gpio.PinIO

	mu         sync.Mutex
	interrupts map[string]*digitalInterrupt
	pins       map[string]*gpioPin
	closed     bool
}

// NewBoard initializes the periph host drivers and returns a board using the pins they
// registered.
func NewBoard(ctx context.Context, logger logging.Logger) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, board.NewHardwareUnavailableError("initializing gpio host drivers", err)
	}
	return newBoard(logger, gpioreg.ByName), nil
}

func newBoard(logger logging.Logger, lookup func(name string) gpio.PinIO) *Board {
	return &Board{
		logger:     logger,
		lookup:     lookup,
		interrupts: map[string]*digitalInterrupt{},
		pins:       map[string]*gpioPin{},
	}
}

func (b *Board) pinByName(name string) (gpio.PinIO, error) {
	p := b.lookup(name)
	if p == nil || p == gpio.INVALID {
		return nil, board.NewPinNotFoundError(name)
	}
	return p, nil
}

// DigitalInterruptByName returns the input line with the given name.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if di, ok := b.interrupts[name]; ok {
		return di, nil
	}
	p, err := b.pinByName(name)
	if err != nil {
		return nil, err
	}
	di := newDigitalInterrupt(name, p, b.logger.Sublogger(name))
	b.interrupts[name] = di
	return di, nil
}

// GPIOPinByName returns the output pin with the given name.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gp, ok := b.pins[name]; ok {
		return gp, nil
	}
	p, err := b.pinByName(name)
	if err != nil {
		return nil, err
	}
	gp := newGPIOPin(p, b.logger.Sublogger(name))
	b.pins[name] = gp
	return gp, nil
}

// Close stops every edge watcher and software PWM loop and drives outputs low.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	for _, di := range b.interrupts {
		err = multierr.Combine(err, di.Close())
	}
	for _, gp := range b.pins {
		err = multierr.Combine(err, gp.Close())
	}
	return err
}
