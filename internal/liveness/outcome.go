package liveness

import "encoding/json"

// OutcomeKind classifies the result of feeding one observation to a session.
type OutcomeKind int

const (
	// NoChange means the observation left the session untouched.
	NoChange OutcomeKind = iota
	// Reset means another tracking id took over and the session restarted.
	Reset
	// StepCompleted means the active step was satisfied and the session moved on.
	StepCompleted
	// CaptureRequested means the final step was satisfied. Fires once per session lifetime.
	CaptureRequested
)

func (k OutcomeKind) String() string {
	switch k {
	case Reset:
		return "reset"
	case StepCompleted:
		return "step_completed"
	case CaptureRequested:
		return "capture_requested"
	default:
		return "no_change"
	}
}

// MarshalJSON encodes the kind by name.
func (k OutcomeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Outcome is returned by Advance and ProcessFrame. Step is the step that was
// just completed for StepCompleted and CaptureRequested, and is meaningless
// otherwise.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	Step Step        `json:"step"`
}

// Changed reports whether the session was mutated.
func (o Outcome) Changed() bool {
	return o.Kind != NoChange
}

// Prompt returns the user-facing message for the outcome, empty when there is none.
func (o Outcome) Prompt() string {
	switch o.Kind {
	case StepCompleted, CaptureRequested:
		return o.Step.Prompt()
	case Reset:
		return "Face changed, please look at the camera to restart."
	default:
		return ""
	}
}

func noChange() Outcome {
	return Outcome{Kind: NoChange}
}

func reset() Outcome {
	return Outcome{Kind: Reset, Step: StepFront}
}
