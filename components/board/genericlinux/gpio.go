package genericlinux

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/tocado/motorctl/logging"
)

// defaultPWMFreqHz is used when SetPWM is called before SetPWMFreq.
const defaultPWMFreqHz = 1000

type gpioPin struct {
	pin    gpio.PinIO
	logger logging.Logger

	// These values are mutable. Lock the mutex when interacting with them.
	pwmRunning      bool
	hwPWMFailed     bool
	pwmFreqHz       uint
	pwmDutyCyclePct float64

	mu                      sync.Mutex
	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

func newGPIOPin(pin gpio.PinIO, logger logging.Logger) *gpioPin {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &gpioPin{
		pin:        pin,
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
}

func toLevel(isHigh bool) gpio.Level {
	if isHigh {
		return gpio.High
	}
	return gpio.Low
}

func (pin *gpioPin) Set(ctx context.Context, isHigh bool) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	pin.pwmRunning = false
	pin.pwmDutyCyclePct = 0
	return pin.setInternal(isHigh)
}

// setInternal assumes the mutex is held. It sets the level without changing whether the pin
// is part of a PWM loop.
func (pin *gpioPin) setInternal(isHigh bool) error {
	if err := pin.pin.Out(toLevel(isHigh)); err != nil {
		return errors.Wrapf(err, "setting %s", pin.pin.Name())
	}
	return nil
}

func (pin *gpioPin) Get(ctx context.Context) (bool, error) {
	return pin.pin.Read() == gpio.High, nil
}

func (pin *gpioPin) PWM(ctx context.Context) (float64, error) {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	return pin.pwmDutyCyclePct, nil
}

func (pin *gpioPin) SetPWM(ctx context.Context, dutyCyclePct float64) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if dutyCyclePct < 0 || dutyCyclePct > 1 {
		return errors.Errorf("duty cycle %.3f out of range [0, 1]", dutyCyclePct)
	}
	pin.pwmDutyCyclePct = dutyCyclePct
	return pin.applyPWM()
}

func (pin *gpioPin) PWMFreq(ctx context.Context) (uint, error) {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	return pin.pwmFreqHz, nil
}

func (pin *gpioPin) SetPWMFreq(ctx context.Context, freqHz uint) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	pin.pwmFreqHz = freqHz
	return pin.applyPWM()
}

// applyPWM assumes the mutex is held. Full on and full off are plain levels; anything else
// uses the pin's hardware PWM, or a software loop when the host driver has none.
func (pin *gpioPin) applyPWM() error {
	switch pin.pwmDutyCyclePct {
	case 0:
		pin.pwmRunning = false
		return pin.setInternal(false)
	case 1:
		pin.pwmRunning = false
		return pin.setInternal(true)
	}

	freqHz := pin.pwmFreqHz
	if freqHz == 0 {
		freqHz = defaultPWMFreqHz
	}
	if !pin.hwPWMFailed {
		duty := gpio.Duty(pin.pwmDutyCyclePct * float64(gpio.DutyMax))
		err := pin.pin.PWM(duty, physic.Frequency(freqHz)*physic.Hertz)
		if err == nil {
			pin.pwmRunning = false
			return nil
		}
		pin.logger.Debugw("hardware PWM unavailable, using a software loop", "error", err)
		pin.hwPWMFailed = true
	}
	return pin.startSoftwarePWM()
}

// startSoftwarePWM assumes the mutex is held.
func (pin *gpioPin) startSoftwarePWM() error {
	if pin.pwmRunning {
		return nil
	}
	pin.pwmRunning = true
	pin.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(pin.softwarePwmLoop, pin.activeBackgroundWorkers.Done)
	return nil
}

// halfPwmCycle turns the pin on or off and waits until the next toggle. It returns whether
// the loop should continue.
func (pin *gpioPin) halfPwmCycle(shouldBeOn bool) bool {
	var dutyCycle float64
	var freqHz uint

	shouldContinue := func() bool {
		pin.mu.Lock()
		defer pin.mu.Unlock()
		if !pin.pwmRunning {
			return false
		}

		dutyCycle = pin.pwmDutyCyclePct
		freqHz = pin.pwmFreqHz
		if freqHz == 0 {
			freqHz = defaultPWMFreqHz
		}

		// A failed toggle is retried on the next half cycle.
		utils.UncheckedErrorFunc(func() error { return pin.setInternal(shouldBeOn) })
		return true
	}()

	if !shouldContinue {
		return false
	}

	if !shouldBeOn {
		dutyCycle = 1 - dutyCycle
	}
	duration := time.Duration(float64(time.Second) * dutyCycle / float64(freqHz))
	return utils.SelectContextOrWait(pin.cancelCtx, duration)
}

func (pin *gpioPin) softwarePwmLoop() {
	for {
		if !pin.halfPwmCycle(true) {
			return
		}
		if !pin.halfPwmCycle(false) {
			return
		}
	}
}

// Close stops any PWM loop and leaves the pin low.
func (pin *gpioPin) Close() error {
	pin.mu.Lock()
	pin.pwmRunning = false
	pin.mu.Unlock()

	pin.cancelFunc()
	pin.activeBackgroundWorkers.Wait()

	pin.mu.Lock()
	defer pin.mu.Unlock()
	return pin.setInternal(false)
}
