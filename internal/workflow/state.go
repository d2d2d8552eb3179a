package workflow

// StepState represents the lifecycle of a single step instance.
type StepState string

const (
	StepPending   StepState = "pending"
	StepReady     StepState = "ready"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
	StepSkipped   StepState = "skipped"
)

var allStepStates = []StepState{
	StepPending,
	StepReady,
	StepRunning,
	StepCompleted,
	StepFailed,
	StepSkipped,
}

// StepStates returns all known step states in lifecycle order.
func StepStates() []StepState {
	out := make([]StepState, len(allStepStates))
	copy(out, allStepStates)
	return out
}

// Valid reports whether s is a known step state.
func (s StepState) Valid() bool {
	for _, known := range allStepStates {
		if s == known {
			return true
		}
	}
	return false
}

// Settled reports whether the step can no longer change without operator action.
// Failed is excluded because a retry may move it back to Ready.
func (s StepState) Settled() bool {
	return s == StepCompleted || s == StepSkipped
}

// InFlight reports whether the step has been handed to dispatch.
func (s StepState) InFlight() bool {
	return s == StepReady || s == StepRunning
}

// State represents the overall lifecycle of a workflow instance.
type State string

const (
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

var allStates = []State{
	StateRunning,
	StatePaused,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

// States returns all known workflow states.
func States() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// ParseState converts a string into a workflow state.
func ParseState(value string) (State, bool) {
	for _, known := range allStates {
		if string(known) == value {
			return known, true
		}
	}
	return "", false
}

// Terminal reports whether no further step or workflow transitions are accepted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

type stepTransition struct {
	from StepState
	to   StepState
}

var legalStepTransitions = map[stepTransition]struct{}{
	{StepPending, StepReady}:     {},
	{StepReady, StepRunning}:     {},
	{StepRunning, StepCompleted}: {},
	{StepRunning, StepFailed}:    {},
	{StepFailed, StepReady}:      {},
	{StepFailed, StepSkipped}:    {},
	{StepPending, StepSkipped}:   {},
}

// CanTransitionStep reports whether from -> to is a legal step transition.
func CanTransitionStep(from, to StepState) bool {
	_, ok := legalStepTransitions[stepTransition{from, to}]
	return ok
}

type stateTransition struct {
	from State
	to   State
}

var legalStateTransitions = map[stateTransition]struct{}{
	{StateRunning, StatePaused}:    {},
	{StatePaused, StateRunning}:    {},
	{StateRunning, StateCompleted}: {},
	{StateRunning, StateFailed}:    {},
	{StateRunning, StateCancelled}: {},
	{StatePaused, StateCompleted}:  {},
	{StatePaused, StateFailed}:     {},
	{StatePaused, StateCancelled}:  {},
}

// CanTransitionState reports whether from -> to is a legal workflow transition.
func CanTransitionState(from, to State) bool {
	_, ok := legalStateTransitions[stateTransition{from, to}]
	return ok
}
