package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
)

// SessionStatus é o ciclo de vida de uma sessão de liveness
type SessionStatus string

const (
	SessionActive           SessionStatus = "active"
	SessionCaptureRequested SessionStatus = "capture_requested"
	SessionCompleted        SessionStatus = "completed"
	SessionEnded            SessionStatus = "ended"
	SessionExpired          SessionStatus = "expired"
)

// LivenessSession representa uma tentativa de desafio de um tenant
type LivenessSession struct {
	ID              uuid.UUID        `json:"id"`
	TenantID        uuid.UUID        `json:"-"`
	Status          SessionStatus    `json:"status"`
	State           liveness.Session `json:"state"`
	Resets          int              `json:"resets"`
	FramesProcessed int64            `json:"frames_processed"`
	ExpiresAt       time.Time        `json:"expires_at"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
}

// NewLivenessSession creates an active session that expires after ttl
func NewLivenessSession(tenantID uuid.UUID, ttl time.Duration, now time.Time) *LivenessSession {
	return &LivenessSession{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Status:    SessionActive,
		State:     *liveness.NewSession(),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsExpired reports whether the session TTL has elapsed
func (s *LivenessSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// IsTerminal reports whether the session no longer accepts observations
func (s *LivenessSession) IsTerminal() bool {
	switch s.Status {
	case SessionEnded, SessionExpired:
		return true
	default:
		return false
	}
}

// Apply updates the status after an outcome of the state machine
func (s *LivenessSession) Apply(out liveness.Outcome, now time.Time) {
	s.UpdatedAt = now
	switch out.Kind {
	case liveness.Reset:
		s.Resets++
		s.Status = SessionActive
	case liveness.CaptureRequested:
		s.Status = SessionCaptureRequested
	}
}

// AdvanceResult é a resposta de cada observação ou frame enviado
type AdvanceResult struct {
	SessionID           uuid.UUID        `json:"session_id"`
	Outcome             liveness.Outcome `json:"outcome"`
	CurrentStep         liveness.Step    `json:"current_step"`
	Status              SessionStatus    `json:"status"`
	Prompt              string           `json:"prompt,omitempty"`
	Captured            bool             `json:"captured"`
	CooldownRemainingMs int64            `json:"cooldown_remaining_ms"`
	FacesDetected       *int             `json:"faces_detected,omitempty"`
	CaptureID           *uuid.UUID       `json:"capture_id,omitempty"`
}

// CaptureSource identifica de onde veio a selfie
type CaptureSource string

const (
	CaptureSourceClient      CaptureSource = "client"
	CaptureSourceServerFrame CaptureSource = "server_frame"
)

// LivenessCapture é a selfie tirada após o desafio
type LivenessCapture struct {
	ID            uuid.UUID       `json:"id"`
	SessionID     uuid.UUID       `json:"session_id"`
	TenantID      uuid.UUID       `json:"-"`
	Source        CaptureSource   `json:"source"`
	ContentType   string          `json:"content_type"`
	Image         []byte          `json:"-"`
	SizeBytes     int             `json:"size_bytes"`
	SHA256        string          `json:"sha256"`
	LivenessScore *float64        `json:"liveness_score,omitempty"`
	Checks        map[string]bool `json:"checks,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewLivenessCapture builds a capture and fingerprints the image
func NewLivenessCapture(session *LivenessSession, source CaptureSource, image []byte, contentType string, now time.Time) *LivenessCapture {
	sum := sha256.Sum256(image)
	return &LivenessCapture{
		ID:          uuid.New(),
		SessionID:   session.ID,
		TenantID:    session.TenantID,
		Source:      source,
		ContentType: contentType,
		Image:       image,
		SizeBytes:   len(image),
		SHA256:      hex.EncodeToString(sum[:]),
		CreatedAt:   now,
	}
}
