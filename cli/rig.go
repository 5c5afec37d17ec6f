package cli

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tocado/motorctl/components/board"
	fakeboard "github.com/tocado/motorctl/components/board/fake"
	"github.com/tocado/motorctl/components/board/genericlinux"
	"github.com/tocado/motorctl/components/encoder/quadrature"
	"github.com/tocado/motorctl/components/motor"
	fakemotor "github.com/tocado/motorctl/components/motor/fake"
	"github.com/tocado/motorctl/components/motor/hbridge"
	"github.com/tocado/motorctl/components/motor/motorshield"
	"github.com/tocado/motorctl/config"
	"github.com/tocado/motorctl/logging"
)

// rig is the hardware a command runs against.
type rig struct {
	board    board.Board
	encoder  *quadrature.Encoder
	actuator motor.Actuator
	closers  []func(ctx context.Context) error
}

// rigOpener builds the rig for a config. Commands close the rig when they finish.
type rigOpener func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*rig, error)

// Close releases the driver and then the board.
func (r *rig) Close(ctx context.Context) error {
	var errs error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = multierr.Combine(errs, r.closers[i](ctx))
	}
	r.closers = nil
	return errs
}

// openHardwareRig opens the Linux GPIO board, the encoder lines and the configured driver.
func openHardwareRig(ctx context.Context, cfg *config.Config, logger logging.Logger) (*rig, error) {
	b, err := genericlinux.NewBoard(ctx, logger.Sublogger("board"))
	if err != nil {
		return nil, err
	}
	r := &rig{board: b, closers: []func(context.Context) error{b.Close}}

	switch cfg.Driver {
	case config.DriverMotorShield:
		m, err := motorshield.Open(ctx, cfg.Name, cfg.MotorShield, logger.Sublogger("driver"))
		if err != nil {
			return nil, multierr.Combine(err, r.Close(ctx))
		}
		r.actuator = m
		r.closers = append(r.closers, m.Close)
	case config.DriverHBridge:
		m, err := hbridge.NewMotor(ctx, cfg.Name, b, cfg.HBridge, logger.Sublogger("driver"))
		if err != nil {
			return nil, multierr.Combine(err, r.Close(ctx))
		}
		r.actuator = m
	default:
		return nil, multierr.Combine(errors.Errorf("unknown driver %q", cfg.Driver), r.Close(ctx))
	}

	if r.encoder, err = quadrature.NewEncoder(cfg.Name+".encoder", b, &cfg.Encoder, logger.Sublogger("encoder")); err != nil {
		return nil, multierr.Combine(err, r.Close(ctx))
	}
	return r, nil
}

// openFakeRig runs commands against an in-memory board and a recording actuator, for trying
// the CLI without hardware.
func openFakeRig(ctx context.Context, cfg *config.Config, logger logging.Logger) (*rig, error) {
	b := fakeboard.NewBoard(logger.Sublogger("board"))
	enc, err := quadrature.NewEncoder(cfg.Name+".encoder", b, &cfg.Encoder, logger.Sublogger("encoder"))
	if err != nil {
		return nil, err
	}
	return &rig{
		board:    b,
		encoder:  enc,
		actuator: &fakemotor.Actuator{},
		closers:  []func(context.Context) error{b.Close},
	}, nil
}
