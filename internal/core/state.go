package core

// SessionState models the reading appliance lifecycle.
type SessionState string

const (
	StateIdle            SessionState = "idle"
	StateAwaitingCapture SessionState = "awaiting_capture"
	StateExtracting      SessionState = "extracting"
	StateReading         SessionState = "reading"
	StatePaused          SessionState = "paused"
	StateCancelled       SessionState = "cancelled"
	StateCompleted       SessionState = "completed"
)

// Reason explains why a state transition happened.
type Reason string

const (
	ReasonArmed              Reason = "armed"
	ReasonCaptureRequested   Reason = "capture_requested"
	ReasonCaptureFailed      Reason = "capture_failed"
	ReasonExtractionFailed   Reason = "extraction_failed"
	ReasonExtractionCanceled Reason = "extraction_cancelled"
	ReasonTextReady          Reason = "text_ready"
	ReasonResumedCheckpoint  Reason = "resumed_checkpoint"
	ReasonPausedByUser       Reason = "paused_by_user"
	ReasonResumedByUser      Reason = "resumed_by_user"
	ReasonCancelledByUser    Reason = "cancelled_by_user"
	ReasonAllUnitsNarrated   Reason = "all_units_narrated"
	ReasonNothingToRead      Reason = "nothing_to_read"
	ReasonSessionBudget      Reason = "session_budget_exceeded"
	ReasonShutdown           Reason = "shutdown"
)

var transitions = map[SessionState][]SessionState{
	StateIdle:            {StateAwaitingCapture, StateExtracting, StateReading, StateCompleted},
	StateAwaitingCapture: {StateAwaitingCapture, StateExtracting},
	StateExtracting:      {StateAwaitingCapture, StateReading, StateCompleted},
	StateReading:         {StatePaused, StateCancelled, StateCompleted},
	StatePaused:          {StateReading, StateCancelled, StateCompleted},
	StateCancelled:       {StateAwaitingCapture, StateExtracting, StateReading, StateCompleted},
	StateCompleted:       {StateAwaitingCapture, StateExtracting, StateReading, StateCompleted},
}

// CanTransition reports whether the state machine allows moving from one state to another.
func CanTransition(from, to SessionState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// Narrating reports whether a session is between text ready and its terminal state.
func (s SessionState) Narrating() bool {
	return s == StateReading || s == StatePaused
}

// Terminal reports whether the state ends a narration session.
func (s SessionState) Terminal() bool {
	return s == StateCancelled || s == StateCompleted
}
