package workflow

// State represents a status in the expense report lifecycle
type State string

const (
	StateDraft            State = "DRAFT"
	StateManagerReview    State = "MANAGER_REVIEW"
	StateCFOReview        State = "CFO_REVIEW"
	StateCEOReview        State = "CEO_REVIEW"
	StateCFOSpecialReview State = "CFO_SPECIAL_REVIEW"
	StateChangesRequested State = "CHANGES_REQUESTED"
	StateApproved         State = "APPROVED"
	StateRejected         State = "REJECTED"
)

var validStates = map[State]bool{
	StateDraft:            true,
	StateManagerReview:    true,
	StateCFOReview:        true,
	StateCEOReview:        true,
	StateCFOSpecialReview: true,
	StateChangesRequested: true,
	StateApproved:         true,
	StateRejected:         true,
}

var terminalStates = map[State]bool{
	StateApproved: true,
	StateRejected: true,
}

// editableStates are the states in which the submitter may change or (re)submit a report
var editableStates = map[State]bool{
	StateDraft:            true,
	StateChangesRequested: true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsEditable returns true if the submitter may update or submit the report in this state
func (s State) IsEditable() bool {
	return editableStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}

// ParseState converts a stored or wire value into a State
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.IsValid() {
		return "", invalidStateValue(v)
	}
	return s, nil
}
