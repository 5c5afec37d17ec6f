package motorshield

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"periph.io/x/conn/v3/i2c"

	"github.com/tocado/motorctl/logging"
)

// PCA9685 registers and bits.
const (
	regMode1    = 0x00
	regPrescale = 0xFE
	regLED0OnL  = 0x06

	mode1Sleep   = 0x10
	mode1AutoInc = 0x20
	mode1Restart = 0x80

	// Bit 4 of LEDn_ON_H / LEDn_OFF_H forces a channel fully on / fully off.
	fullBit = 0x10

	oscillatorHz = 25_000_000
	pwmSteps     = 4096
)

// prescaleFor returns the PRESCALE value for a PWM frequency. The chip accepts 3 through 255,
// roughly 24 Hz to 1526 Hz; faster requests are clamped to the fastest setting.
func prescaleFor(freqHz int) (byte, error) {
	if freqHz <= 0 {
		return 0, errors.Errorf("pwm_freq_hz must be positive, got %d", freqHz)
	}
	prescale := math.Round(oscillatorHz/(pwmSteps*float64(freqHz))) - 1
	if prescale < 3 {
		prescale = 3
	}
	if prescale > 255 {
		return 0, errors.Errorf("pwm_freq_hz %d is below the 24 Hz the shield supports", freqHz)
	}
	return byte(prescale), nil
}

// pca9685 serializes register writes to the shield's PWM chip.
type pca9685 struct {
	mu     sync.Mutex
	dev    *i2c.Dev
	logger logging.Logger
}

func (p *pca9685) write(reg byte, data ...byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := append([]byte{reg}, data...)
	if err := p.dev.Tx(w, nil); err != nil {
		return errors.Wrapf(err, "writing register %#02x at i2c address %#02x", reg, p.dev.Addr)
	}
	return nil
}

// init puts the chip to sleep to change the prescaler, then restarts it with register
// auto-increment so a channel is written in one transaction.
func (p *pca9685) init(ctx context.Context, freqHz int) error {
	prescale, err := prescaleFor(freqHz)
	if err != nil {
		return err
	}
	if err := p.write(regMode1, mode1Sleep); err != nil {
		return err
	}
	if err := p.write(regPrescale, prescale); err != nil {
		return err
	}
	if err := p.write(regMode1, 0x00); err != nil {
		return err
	}
	// The oscillator needs 500us after waking before RESTART is honored.
	if !utils.SelectContextOrWait(ctx, 5*time.Millisecond) {
		return ctx.Err()
	}
	if err := p.write(regMode1, mode1Restart|mode1AutoInc); err != nil {
		return err
	}
	p.logger.CDebugw(ctx, "pca9685 configured", "freq_hz", freqHz, "prescale", prescale)
	return nil
}

func (p *pca9685) fullOn(channel int) error {
	return p.write(regLED0OnL+byte(4*channel), 0x00, fullBit, 0x00, 0x00)
}

func (p *pca9685) fullOff(channel int) error {
	return p.write(regLED0OnL+byte(4*channel), 0x00, 0x00, 0x00, fullBit)
}

// setDuty sets a channel to a duty cycle in [0, 1].
func (p *pca9685) setDuty(channel int, duty float64) error {
	off := uint16(math.Round(duty * (pwmSteps - 1)))
	switch {
	case off == 0:
		return p.fullOff(channel)
	case off >= pwmSteps-1:
		return p.fullOn(channel)
	}
	return p.write(regLED0OnL+byte(4*channel), 0x00, 0x00, byte(off&0xFF), byte(off>>8))
}
