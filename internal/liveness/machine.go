package liveness

import "time"

// Machine evaluates observations against sessions. It holds only
// configuration and is safe to share between goroutines; sessions are not.
type Machine struct {
	cfg        Config
	classifier Classifier
	gate       CooldownGate
	now        func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now as the source of "now" for observations
// without a CapturedAt timestamp.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// New creates a Machine. cfg must be valid.
func New(cfg Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{
		cfg:        cfg,
		classifier: cfg.Classifier(),
		gate:       CooldownGate{Duration: cfg.Cooldown},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the machine's configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

// StartSession returns a fresh session.
func (m *Machine) StartSession() *Session {
	return NewSession()
}

// ResetSession discards all progress, including the lock and a completed capture.
func (m *Machine) ResetSession(s *Session) {
	s.Reset()
}

// Advance feeds one observation to s. It never blocks and never fails:
// anything that cannot move the session forward is NoChange.
func (m *Machine) Advance(s *Session, obs Observation) Outcome {
	if s.Captured {
		return noChange()
	}

	// 1. Attribute the observation to the locked subject
	if obs.TrackingID == nil {
		return noChange()
	}
	if s.LockedTrackingID == nil {
		s.LockedTrackingID = TrackingID(*obs.TrackingID)
	} else if *s.LockedTrackingID != *obs.TrackingID {
		s.Reset()
		return reset()
	}

	// 2. Evaluate the active step
	if !m.conditionHolds(s.Step, obs) {
		return noChange()
	}

	// 3. Gate on the cooldown window
	now := m.observedAt(obs)
	if !m.gate.IsOpen(s, now) {
		return noChange()
	}

	// 4. Transition
	completed := s.Step
	s.LastAdvanceAt = &now
	s.Step = completed.Next()

	if s.Step == StepDone {
		s.Captured = true
		return Outcome{Kind: CaptureRequested, Step: completed}
	}
	return Outcome{Kind: StepCompleted, Step: completed}
}

// ProcessFrame feeds all faces detected in one frame to s. Once s is locked
// only the locked face participates; a frame without it but with another
// tracked face resets the session. Before lock-on the first tracked face wins.
func (m *Machine) ProcessFrame(s *Session, observations []Observation) Outcome {
	var firstTracked *Observation

	for i := range observations {
		obs := &observations[i]
		if obs.TrackingID == nil {
			continue
		}
		if s.LockedTrackingID != nil && *obs.TrackingID == *s.LockedTrackingID {
			return m.Advance(s, *obs)
		}
		if firstTracked == nil {
			firstTracked = obs
		}
	}

	if firstTracked == nil {
		return noChange()
	}
	return m.Advance(s, *firstTracked)
}

// CooldownRemaining returns how long s must wait before the next transition.
func (m *Machine) CooldownRemaining(s *Session) time.Duration {
	return m.gate.Remaining(s, m.now())
}

func (m *Machine) conditionHolds(step Step, obs Observation) bool {
	switch step {
	case StepFront:
		return m.classifier.Classify(obs.YawDegrees) == PoseFront
	case StepLeft:
		return m.classifier.Classify(obs.YawDegrees) == PoseLeft
	case StepRight:
		return m.classifier.Classify(obs.YawDegrees) == PoseRight
	case StepSmile:
		return obs.SmileProbability != nil && *obs.SmileProbability > m.cfg.SmileThreshold
	default:
		return false
	}
}

func (m *Machine) observedAt(obs Observation) time.Time {
	if !obs.CapturedAt.IsZero() {
		return obs.CapturedAt
	}
	return m.now()
}
