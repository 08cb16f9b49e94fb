package core

// AgentState is a step of the agent lifecycle:
//
//	Unregistered -> Registered -> Running <-> Paused -> ShuttingDown -> Terminated
//
// Running and Paused are toggled only by control actions. ShuttingDown never
// returns to Running.
type AgentState int

const (
	StateUnregistered AgentState = iota
	StateRegistered
	StateRunning
	StatePaused
	StateShuttingDown
	StateTerminated
)

func (s AgentState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Any live state may move to ShuttingDown.
func (s AgentState) CanTransition(next AgentState) bool {
	switch next {
	case StateRegistered:
		return s == StateUnregistered
	case StateRunning:
		return s == StateRegistered || s == StatePaused
	case StatePaused:
		return s == StateRunning
	case StateShuttingDown:
		return s != StateShuttingDown && s != StateTerminated
	case StateTerminated:
		return s == StateShuttingDown
	}
	return false
}

// Live reports whether the agent has not begun shutting down.
func (s AgentState) Live() bool {
	return s < StateShuttingDown
}
