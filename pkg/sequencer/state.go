package sequencer

// State is a launch sequence stage. Stages only move forward.
type State int

const (
	AwaitingConnection State = iota
	AwaitingGuidedMode
	Arming
	TakingOff
	Navigating
)

func (s State) String() string {
	switch s {
	case AwaitingConnection:
		return "awaiting_connection"
	case AwaitingGuidedMode:
		return "awaiting_guided_mode"
	case Arming:
		return "arming"
	case TakingOff:
		return "taking_off"
	case Navigating:
		return "navigating"
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
