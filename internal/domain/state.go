package domain

import "strings"

// State is a step of the task state machine.
type State string

const (
	StateInit             State = "INIT"              // Lock acquired, record created
	StateClassified       State = "CLASSIFIED"        // Risk level and agent set computed
	StateRequirements     State = "REQUIREMENTS"      // Agents gather requirements
	StateSynthesis        State = "SYNTHESIS"         // Plan is written
	StateImplementation   State = "IMPLEMENTATION"    // Agent rounds in isolated workspaces
	StateValidation       State = "VALIDATION"        // Task workspace is built and tested
	StateReview           State = "REVIEW"            // Agents review the integrated change
	StateScopeNegotiation State = "SCOPE_NEGOTIATION" // Rejections classified as blocking or deferrable
	StateAwaitingApproval State = "AWAITING_APPROVAL" // Change presented for human review
	StateComplete         State = "COMPLETE"          // Change merged into the base branch
	StateCleanup          State = "CLEANUP"           // Terminal; record and resources deleted
)

// AllStates returns all states in protocol order.
func AllStates() []State {
	return []State{
		StateInit,
		StateClassified,
		StateRequirements,
		StateSynthesis,
		StateImplementation,
		StateValidation,
		StateReview,
		StateScopeNegotiation,
		StateAwaitingApproval,
		StateComplete,
		StateCleanup,
	}
}

// transitions defines the legal state sequence.
// Flow: INIT → CLASSIFIED → REQUIREMENTS → SYNTHESIS → IMPLEMENTATION → VALIDATION → REVIEW
//
//	REVIEW → AWAITING_APPROVAL → COMPLETE → CLEANUP
//	REVIEW → IMPLEMENTATION (another round)
//	REVIEW → SCOPE_NEGOTIATION → SYNTHESIS | AWAITING_APPROVAL
//	SYNTHESIS → AWAITING_APPROVAL (variants that skip implementation)
var transitions = map[State][]State{
	StateInit:             {StateClassified},
	StateClassified:       {StateRequirements},
	StateRequirements:     {StateSynthesis},
	StateSynthesis:        {StateImplementation, StateAwaitingApproval},
	StateImplementation:   {StateValidation},
	StateValidation:       {StateReview},
	StateReview:           {StateAwaitingApproval, StateImplementation, StateScopeNegotiation},
	StateScopeNegotiation: {StateSynthesis, StateAwaitingApproval},
	StateAwaitingApproval: {StateComplete},
	StateComplete:         {StateCleanup},
	StateCleanup:          {},
}

// CanTransitionTo returns true if the state can transition to the target state.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Next returns the states reachable from s.
func (s State) Next() []State {
	return append([]State(nil), transitions[s]...)
}

// IsTerminal returns true for the terminal state.
func (s State) IsTerminal() bool {
	return s == StateCleanup
}

// IsValid returns true if the state is a known value.
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// UsesAgentWorkspaces returns true for states in which agent workspaces must exist.
func (s State) UsesAgentWorkspaces() bool {
	switch s {
	case StateImplementation, StateValidation, StateReview:
		return true
	default:
		return false
	}
}

// GatedBy returns the checkpoint that must be satisfied to enter target from s.
func (s State) GatedBy(target State) (Checkpoint, bool) {
	switch {
	case s == StateSynthesis && (target == StateImplementation || target == StateAwaitingApproval):
		return CheckpointPlanApproval, true
	case target == StateComplete:
		return CheckpointChangeReview, true
	default:
		return "", false
	}
}

// ParseState parses a state name, accepting lower case and dashes.
func ParseState(s string) (State, error) {
	st := State(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	if !st.IsValid() {
		return "", ErrInvalidState
	}
	return st, nil
}
