package quadrature

import (
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/tocado/motorctl/components/board"
)

// Config describes the two lines of a quadrature encoder.
type Config struct {
	A          string `json:"a"`
	B          string `json:"b"`
	Pull       string `json:"pull,omitempty"`
	DebounceMs int    `json:"debounce_ms"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.A == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "a")
	}
	if conf.B == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "b")
	}
	if conf.A == conf.B {
		return utils.NewConfigValidationError(path, errors.Errorf("a and b must be different lines, both are %q", conf.A))
	}
	if _, err := board.ParsePull(conf.Pull); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if conf.DebounceMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("debounce_ms cannot be negative"))
	}
	return nil
}

// DebounceWindow returns the suppression window; zero disables it.
func (conf *Config) DebounceWindow() time.Duration {
	return time.Duration(conf.DebounceMs) * time.Millisecond
}
