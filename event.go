package reagent

import "time"

// EventType discriminates loop events. The string values are the wire
// contract with event consumers and must remain stable.
type EventType string

const (
	EventThinking             EventType = "thinking"
	EventActionRequested      EventType = "action_requested"
	EventActionCompleted      EventType = "action_completed"
	EventFinalAnswer          EventType = "final_answer"
	EventAwaitingConfirmation EventType = "awaiting_confirmation"
	EventIterationError       EventType = "iteration_error"
	EventExhausted            EventType = "exhausted"
)

// Event is one entry of the ordered event sequence a loop run produces.
// The loop is the sole writer; consumers render progress from the carried
// fields without re-deriving loop state.
type Event struct {
	Type      EventType `json:"type"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`

	// Text carries model prose for thinking and final_answer events.
	Text string `json:"text,omitempty"`

	// Action and Outcome accompany action_requested / action_completed.
	Action  *ActionRequest `json:"action,omitempty"`
	Outcome *ActionOutcome `json:"outcome,omitempty"`

	// ConfirmationID and Command identify a pending approval for
	// awaiting_confirmation events.
	ConfirmationID string `json:"confirmation_id,omitempty"`
	Command        string `json:"command,omitempty"`

	// Error carries the failure message for iteration_error events.
	Error string `json:"error,omitempty"`

	// ToolCalls is the total number of executed actions, reported on
	// final_answer and exhausted events.
	ToolCalls int `json:"tool_calls,omitempty"`
}

// Terminal reports whether the event ends the loop run.
func (e *Event) Terminal() bool {
	switch e.Type {
	case EventFinalAnswer, EventAwaitingConfirmation, EventExhausted:
		return true
	}
	return false
}
