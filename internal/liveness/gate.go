package liveness

import "time"

// DefaultCooldown is the minimum dwell time after an accepted transition.
const DefaultCooldown = 2 * time.Second

// CooldownGate suppresses transitions for Duration after the previous one,
// so one sustained pose cannot satisfy several steps. It never blocks.
type CooldownGate struct {
	Duration time.Duration
}

// IsOpen reports whether a transition may be accepted at now.
func (g CooldownGate) IsOpen(s *Session, now time.Time) bool {
	if s.LastAdvanceAt == nil {
		return true
	}
	return now.Sub(*s.LastAdvanceAt) >= g.Duration
}

// Remaining returns how long the gate stays closed at now, zero if open.
func (g CooldownGate) Remaining(s *Session, now time.Time) time.Duration {
	if g.IsOpen(s, now) {
		return 0
	}
	return g.Duration - now.Sub(*s.LastAdvanceAt)
}
