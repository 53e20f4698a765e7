package domain

// State is the recovery coordinator's view of the pipeline.
type State int

const (
	// StateIdle is the state before the startup sequence ran.
	StateIdle State = iota
	StateRunning
	StateInterrupted
	// StateStalled means a recovery step failed; the pipeline is stopped with
	// the session inactive until the next recoverable event.
	StateStalled
	// StateFailed is terminal for a process; a new one must be built.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateInterrupted:
		return "interrupted"
	case StateStalled:
		return "stalled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
