package board

import (
	"strings"

	"github.com/pkg/errors"
)

// Pull is the bias applied to an input line.
type Pull int

const (
	// PullNone leaves the line floating.
	PullNone Pull = iota
	// PullUp enables the internal pull-up resistor.
	PullUp
	// PullDown enables the internal pull-down resistor.
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullNone:
		return "none"
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "unknown"
	}
}

// ParsePull parses "up", "down" or "none". An empty string means PullUp, which is what
// open-collector encoders need.
func ParsePull(s string) (Pull, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	case "none", "off":
		return PullNone, nil
	default:
		return PullNone, errors.Errorf("unknown pull %q, expected one of up, down, none", s)
	}
}
