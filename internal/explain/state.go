package explain

// State is the lifecycle state of a [Session].
type State int

const (
	StateIdle State = iota
	StateExplaining
	StatePaused
	StateAnswering
	StateComplete
	StateStopped
	StateFailed
)

// String returns the lower case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExplaining:
		return "explaining"
	case StatePaused:
		return "paused"
	case StateAnswering:
		return "answering"
	case StateComplete:
		return "complete"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
