// Package fake implements a fake actuator that records every call.
package fake

import (
	"context"
	"sync"

	"github.com/tocado/motorctl/components/motor"
)

var _ = motor.Actuator(&Actuator{})

// CallKind names an actuator method.
type CallKind string

// The actuator methods.
const (
	CallSetDuty CallKind = "set_duty"
	CallBrake   CallKind = "brake"
	CallCoast   CallKind = "coast"
)

// Call is one recorded actuator call. Duty is only meaningful for set_duty.
type Call struct {
	Kind CallKind
	Duty float64
}

// SetDuty returns a recorded set_duty call, for building expected histories.
func SetDuty(duty float64) Call {
	return Call{Kind: CallSetDuty, Duty: duty}
}

// Brake returns a recorded brake call.
func Brake() Call {
	return Call{Kind: CallBrake}
}

// Coast returns a recorded coast call.
func Coast() Call {
	return Call{Kind: CallCoast}
}

// Actuator records calls in order. Failures can be injected per method; a failing call is
// still recorded.
type Actuator struct {
	mu      sync.Mutex
	history []Call

	SetDutyErr error
	BrakeErr   error
	CoastErr   error

	// OnSetDuty, when set, is called after every recorded set_duty.
	OnSetDuty func(duty float64)
}

// SetDuty records the duty.
func (a *Actuator) SetDuty(ctx context.Context, duty float64) error {
	a.mu.Lock()
	a.history = append(a.history, SetDuty(duty))
	err := a.SetDutyErr
	hook := a.OnSetDuty
	a.mu.Unlock()
	if hook != nil {
		hook(duty)
	}
	return err
}

// Brake records a brake.
func (a *Actuator) Brake(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, Brake())
	return a.BrakeErr
}

// Coast records a coast.
func (a *Actuator) Coast(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, Coast())
	return a.CoastErr
}

// History returns a copy of every call so far.
func (a *Actuator) History() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.history...)
}

// Last returns the most recent call and false if there was none.
func (a *Actuator) Last() (Call, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) == 0 {
		return Call{}, false
	}
	return a.history[len(a.history)-1], true
}

// Count returns how many calls of the given kind were made.
func (a *Actuator) Count(kind CallKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.history {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Reset clears the history.
func (a *Actuator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
}
