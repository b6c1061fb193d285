package recognizer

// State is the session controller state
type State int

const (
	StateIdle State = iota
	StateStarting
	StateListening
	StateStopping
	StateFaulted // Unrecoverable error, returns to Idle after cleanup
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	case StateFaulted:
		return "faulted"
	}
	return "unknown"
}

// stopReason selects the terminal event of a teardown
type stopReason int

const (
	reasonStop    stopReason = iota // Voluntary stop, emits onFinalResult
	reasonUnload                    // Stop without events
	reasonTimeout                   // Emits onTimeout
	reasonError                     // Emits onError
)

func (r stopReason) outcome() string {
	switch r {
	case reasonStop:
		return "stopped"
	case reasonUnload:
		return "unloaded"
	case reasonTimeout:
		return "timeout"
	}
	return "error"
}
