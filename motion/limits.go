package motion

import (
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Limit defaults.
const (
	DefaultMinCount      = 0
	DefaultMaxCount      = 5000
	DefaultMaxRuntime    = 10 * time.Second
	DefaultPollInterval  = 10 * time.Millisecond
	DefaultStopTolerance = 0
	DefaultDuty          = 0.5
)

// Limits bound every command the controller runs.
type Limits struct {
	// MinCount and MaxCount are the inclusive range of allowed positions.
	MinCount int64
	MaxCount int64
	// MaxRuntime caps how long any single command may drive the motor.
	MaxRuntime time.Duration
	// PollInterval is the sleep between position checks.
	PollInterval time.Duration
	// StopTolerance is how far from the target a move may end and still count as reached.
	// Zero requires an exact match.
	StopTolerance int64
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MinCount:      DefaultMinCount,
		MaxCount:      DefaultMaxCount,
		MaxRuntime:    DefaultMaxRuntime,
		PollInterval:  DefaultPollInterval,
		StopTolerance: DefaultStopTolerance,
	}
}

// Validate ensures all parts of the limits are valid.
func (l Limits) Validate(path string) error {
	if l.MinCount > l.MaxCount {
		return utils.NewConfigValidationError(path,
			errors.Errorf("min_count (%d) must not be greater than max_count (%d)", l.MinCount, l.MaxCount))
	}
	if l.MaxRuntime <= 0 {
		return utils.NewConfigValidationError(path, errors.New("max_runtime must be positive"))
	}
	if l.PollInterval <= 0 {
		return utils.NewConfigValidationError(path, errors.New("poll_interval must be positive"))
	}
	if l.StopTolerance < 0 {
		return utils.NewConfigValidationError(path, errors.New("stop_tolerance cannot be negative"))
	}
	return nil
}

// Contains reports whether position is within [MinCount, MaxCount].
func (l Limits) Contains(position int64) bool {
	return position >= l.MinCount && position <= l.MaxCount
}

// withinTolerance reports whether value is close enough to target. A tolerance of zero or
// less means exact.
func withinTolerance(value, target, tolerance int64) bool {
	if tolerance <= 0 {
		return value == target
	}
	return value >= target-tolerance && value <= target+tolerance
}
