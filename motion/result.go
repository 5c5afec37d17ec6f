package motion

import (
	"fmt"
	"time"
)

// Status names the way a command ended.
type Status int

// The ways a command can end.
const (
	StatusReached Status = iota
	StatusTimedOut
	StatusOutOfBounds
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusReached:
		return "reached"
	case StatusTimedOut:
		return "timed_out"
	case StatusOutOfBounds:
		return "out_of_bounds"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of one command. Motion outcomes other than reached are not errors;
// they are reported here with Reached false.
type Result struct {
	Target        int64         `json:"target"`
	FinalPosition int64         `json:"final_position"`
	Elapsed       time.Duration `json:"elapsed"`
	Reached       bool          `json:"reached"`
	Status        Status        `json:"status"`
}

// State is a snapshot of the controller for outer layers.
type State struct {
	Position      int64 `json:"position"`
	StopRequested bool  `json:"stop_requested"`
	Moving        bool  `json:"moving"`
}
