package workflow

// Trigger represents an operation that can cause a state transition
type Trigger string

const (
	TriggerSubmit          Trigger = "SUBMIT"
	TriggerSubmitFlagged   Trigger = "SUBMIT_FLAGGED"
	TriggerApprove         Trigger = "APPROVE"
	TriggerReject          Trigger = "REJECT"
	TriggerClearExceptions Trigger = "CLEAR_EXCEPTIONS"
	TriggerRequestChanges  Trigger = "REQUEST_CHANGES"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
