package model

// JobState represents the lifecycle state of a tracked job.
type JobState string

const (
	JobStateUnsubmitted JobState = "UNSUBMITTED"
	JobStateIdle        JobState = "IDLE"
	JobStateRunning     JobState = "RUNNING"
	JobStateSubmitted   JobState = "SUBMITTED"
	JobStateHeld        JobState = "HELD"
	JobStateCompleted   JobState = "COMPLETED"
	JobStateRemoved     JobState = "REMOVED"
)

// AllJobStates lists every state in declaration order.
var AllJobStates = []JobState{
	JobStateUnsubmitted,
	JobStateIdle,
	JobStateRunning,
	JobStateSubmitted,
	JobStateHeld,
	JobStateCompleted,
	JobStateRemoved,
}

// String returns the string representation of the job state.
func (s JobState) String() string {
	return string(s)
}

// IsTerminal returns true if the job is in a final state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateRemoved:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s JobState) Valid() bool {
	for _, known := range AllJobStates {
		if s == known {
			return true
		}
	}
	return false
}

// StateTransitions maps scheduler event types to the state they imply.
// Event types missing from the map leave the state unchanged.
var StateTransitions = map[EventType]JobState{
	EventSubmit:             JobStateIdle,
	EventJobEvicted:         JobStateIdle,
	EventJobUnsuspended:     JobStateIdle,
	EventJobReleased:        JobStateIdle,
	EventShadowException:    JobStateIdle,
	EventJobReconnectFailed: JobStateIdle,
	EventExecute:            JobStateRunning,
	EventJobHeld:            JobStateHeld,
	EventJobTerminated:      JobStateCompleted,
	EventJobAborted:         JobStateRemoved,
}

// NextState returns the state implied by an event of type t.
// ok is false when t does not cause a transition.
func NextState(t EventType) (next JobState, ok bool) {
	next, ok = StateTransitions[t]
	return next, ok
}

// Apply folds a single event into the current state. Terminal states
// absorb every later event.
func (s JobState) Apply(t EventType) JobState {
	if s.IsTerminal() {
		return s
	}
	if next, ok := NextState(t); ok {
		return next
	}
	return s
}

// Fold applies a sequence of events starting from s.
func (s JobState) Fold(events ...EventType) JobState {
	for _, t := range events {
		s = s.Apply(t)
	}
	return s
}
