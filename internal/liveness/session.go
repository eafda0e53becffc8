package liveness

import "time"

// Observation is one detected face in one frame.
type Observation struct {
	// TrackingID is nil when the detector could not track the face.
	TrackingID *uint64 `json:"tracking_id,omitempty"`
	// YawDegrees is positive when the subject turned to their left.
	YawDegrees float64 `json:"yaw"`
	// SmileProbability is nil when the detector reported no smile confidence.
	SmileProbability *float64 `json:"smile_probability,omitempty"`
	// CapturedAt, when set, is used as the observation time instead of the machine clock.
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// Session is the mutable progress of one challenge attempt.
// A Session must only be mutated by one caller at a time.
type Session struct {
	Step             Step       `json:"step"`
	LockedTrackingID *uint64    `json:"locked_tracking_id,omitempty"`
	LastAdvanceAt    *time.Time `json:"last_advance_at,omitempty"`
	Captured         bool       `json:"captured"`
}

// NewSession returns a session waiting for a frontal face.
func NewSession() *Session {
	return &Session{Step: StepFront}
}

// Reset returns the session to its initial state.
func (s *Session) Reset() {
	*s = Session{Step: StepFront}
}

// Locked reports whether the session follows a tracking id.
func (s *Session) Locked() bool {
	return s.LockedTrackingID != nil
}

// TrackingID returns a pointer to id, for building observations.
func TrackingID(id uint64) *uint64 {
	return &id
}

// Probability returns a pointer to p, for building observations.
func Probability(p float64) *float64 {
	return &p
}
