package extract

import "errors"

// State is a step of the extraction state machine.
type State string

const (
	// StateInit binds the source and issues the load.
	StateInit State = "INIT"
	// StateAwaitingMetadata waits for the engine to report duration and dimensions.
	StateAwaitingMetadata State = "AWAITING_METADATA"
	// StateSeekFirst seeks to time zero and captures the first frame.
	StateSeekFirst State = "SEEK_FIRST"
	// StateSeekLast seeks just before the end and captures the last frame.
	StateSeekLast State = "SEEK_LAST"
	// StateFinalize assembles the result.
	StateFinalize State = "FINALIZE"
	// StateSucceeded is terminal.
	StateSucceeded State = "SUCCEEDED"
	// StateFailed is terminal.
	StateFailed State = "FAILED"
)

// ErrInvalidTransition is returned when the machine is asked to make a move
// its transition table does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[State][]State{
	StateInit:             {StateAwaitingMetadata, StateFailed},
	StateAwaitingMetadata: {StateSeekFirst, StateFailed},
	StateSeekFirst:        {StateSeekLast, StateFailed},
	StateSeekLast:         {StateFinalize, StateFailed},
	StateFinalize:         {StateSucceeded, StateFailed},
	StateSucceeded:        {},
	StateFailed:           {},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is SUCCEEDED or FAILED.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}
