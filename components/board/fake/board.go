// Package fake implements an in-memory board for tests and dry runs.
package fake

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tocado/motorctl/components/board"
	"github.com/tocado/motorctl/logging"
)

// A Board provides in-memory lines and pins. Lines and pins are created on first lookup
// unless their name was marked missing.
type Board struct {
	mu         sync.Mutex
	Digitals   map[string]*DigitalInterrupt
	GPIOPins   map[string]*GPIOPin
	missing    map[string]struct{}
	logger     logging.Logger
	CloseCount int
}

// NewBoard returns a new fake board.
func NewBoard(logger logging.Logger) *Board {
	return &Board{
		Digitals: map[string]*DigitalInterrupt{},
		GPIOPins: map[string]*GPIOPin{},
		missing:  map[string]struct{}{},
		logger:   logger,
	}
}

// MarkMissing makes later lookups of the given names fail as if the board had no such pins.
func (b *Board) MarkMissing(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		b.missing[name] = struct{}{}
		delete(b.Digitals, name)
		delete(b.GPIOPins, name)
	}
}

// DigitalInterruptByName returns the interrupt by the given name, creating it if needed.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, error) {
	return b.Digital(name)
}

// Digital is DigitalInterruptByName returning the concrete fake so tests can drive edges.
func (b *Board) Digital(name string) (*DigitalInterrupt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.missing[name]; ok {
		return nil, board.NewPinNotFoundError(name)
	}
	d, ok := b.Digitals[name]
	if !ok {
		d = &DigitalInterrupt{name: name, handlers: map[uint64]board.EdgeHandler{}}
		b.Digitals[name] = d
	}
	return d, nil
}

// GPIOPinByName returns the GPIO pin by the given name, creating it if needed.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	return b.Pin(name)
}

// Pin is GPIOPinByName returning the concrete fake.
func (b *Board) Pin(name string) (*GPIOPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.missing[name]; ok {
		return nil, board.NewPinNotFoundError(name)
	}
	p, ok := b.GPIOPins[name]
	if !ok {
		p = &GPIOPin{}
		b.GPIOPins[name] = p
	}
	return p, nil
}

// Close counts the call; fake lines have nothing to release.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCount++
	return nil
}

// DigitalInterrupt is a fake input line whose edges are driven by the test.
type DigitalInterrupt struct {
	name string

	mu       sync.Mutex
	high     bool
	pull     board.Pull
	pullSet  bool
	handlers map[uint64]board.EdgeHandler
	nextID   uint64
	added    int

	FailPull  error
	FailValue error
}

// Name returns the line name.
func (d *DigitalInterrupt) Name() string {
	return d.name
}

// Value returns the current level, or FailValue when it is set.
func (d *DigitalInterrupt) Value(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailValue != nil {
		return false, d.FailValue
	}
	return d.high, nil
}

// SetPull records the requested bias. A pulled-up line idles high.
func (d *DigitalInterrupt) SetPull(ctx context.Context, pull board.Pull) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailPull != nil {
		return d.FailPull
	}
	d.pull = pull
	d.pullSet = true
	d.high = pull == board.PullUp
	return nil
}

// Pull returns the last bias set and whether SetPull was called at all.
func (d *DigitalInterrupt) Pull() (board.Pull, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pull, d.pullSet
}

// AddCallback registers a handler that Tick invokes synchronously.
func (d *DigitalInterrupt) AddCallback(handler board.EdgeHandler) (func(), error) {
	if handler == nil {
		return nil, errors.New("nil edge handler")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.handlers[id] = handler
	d.added++

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.handlers, id)
		})
	}, nil
}

// CallbackCount returns the number of handlers currently registered.
func (d *DigitalInterrupt) CallbackCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// AddedCount returns how many handlers were ever registered.
func (d *DigitalInterrupt) AddedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.added
}

// Set changes the level without producing an edge. Used to hold the level of a line the
// decoder only samples.
func (d *DigitalInterrupt) Set(high bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.high = high
}

// Tick sets the level and delivers the edge to every handler, in the order they were added,
// before returning. A zero timestamp is replaced with the current time.
func (d *DigitalInterrupt) Tick(ctx context.Context, high bool, nanoseconds uint64) error {
	if nanoseconds == 0 {
		nanoseconds = uint64(time.Now().UnixNano())
	}
	d.mu.Lock()
	d.high = high
	handlers := make([]board.EdgeHandler, 0, len(d.handlers))
	for _, id := range slices.Sorted(maps.Keys(d.handlers)) {
		handlers = append(handlers, d.handlers[id])
	}
	d.mu.Unlock()

	tick := board.Tick{Name: d.name, High: high, TimestampNanosec: nanoseconds}
	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		h(tick)
	}
	return nil
}

// A GPIOPin reads back the same set values.
type GPIOPin struct {
	high    bool
	pwm     float64
	pwmFreq uint
	history []float64

	mu sync.Mutex
}

// Set sets the pin to either low or high and clears any PWM.
func (gp *GPIOPin) Set(ctx context.Context, high bool) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.high = high
	gp.pwm = 0
	if high {
		gp.history = append(gp.history, 1)
	} else {
		gp.history = append(gp.history, 0)
	}
	return nil
}

// Get gets the high/low state of the pin.
func (gp *GPIOPin) Get(ctx context.Context) (bool, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return gp.high, nil
}

// PWM gets the pin's given duty cycle.
func (gp *GPIOPin) PWM(ctx context.Context) (float64, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return gp.pwm, nil
}

// SetPWM sets the pin to the given duty cycle.
func (gp *GPIOPin) SetPWM(ctx context.Context, dutyCyclePct float64) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.pwm = dutyCyclePct
	gp.high = dutyCyclePct > 0
	gp.history = append(gp.history, dutyCyclePct)
	return nil
}

// PWMFreq gets the PWM frequency of the pin.
func (gp *GPIOPin) PWMFreq(ctx context.Context) (uint, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return gp.pwmFreq, nil
}

// SetPWMFreq sets the given pin to the given PWM frequency.
func (gp *GPIOPin) SetPWMFreq(ctx context.Context, freqHz uint) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.pwmFreq = freqHz
	return nil
}

// History returns every level (0 or 1) and duty cycle written to the pin, in order.
func (gp *GPIOPin) History() []float64 {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return append([]float64(nil), gp.history...)
}
