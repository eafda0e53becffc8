package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
)

func TestNewLivenessSession(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tenantID := uuid.New()

	s := NewLivenessSession(tenantID, 10*time.Minute, now)

	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, tenantID, s.TenantID)
	assert.Equal(t, SessionActive, s.Status)
	assert.Equal(t, liveness.StepFront, s.State.Step)
	assert.Equal(t, now.Add(10*time.Minute), s.ExpiresAt)
	assert.False(t, s.IsExpired(now))
	assert.True(t, s.IsExpired(now.Add(10*time.Minute)))
}

func TestLivenessSession_Apply(t *testing.T) {
	now := time.Now()
	s := NewLivenessSession(uuid.New(), time.Minute, now)

	s.Apply(liveness.Outcome{Kind: liveness.StepCompleted, Step: liveness.StepFront}, now)
	assert.Equal(t, SessionActive, s.Status)

	s.Apply(liveness.Outcome{Kind: liveness.Reset}, now)
	assert.Equal(t, 1, s.Resets)

	s.Apply(liveness.Outcome{Kind: liveness.CaptureRequested, Step: liveness.StepSmile}, now)
	assert.Equal(t, SessionCaptureRequested, s.Status)
}

func TestLivenessSession_IsTerminal(t *testing.T) {
	tests := []struct {
		status SessionStatus
		want   bool
	}{
		{SessionActive, false},
		{SessionCaptureRequested, false},
		{SessionCompleted, false},
		{SessionEnded, true},
		{SessionExpired, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			s := &LivenessSession{Status: tt.status}
			assert.Equal(t, tt.want, s.IsTerminal())
		})
	}
}

func TestNewLivenessCapture(t *testing.T) {
	session := NewLivenessSession(uuid.New(), time.Minute, time.Now())

	c := NewLivenessCapture(session, CaptureSourceClient, []byte("abc"), "image/jpeg", time.Now())

	assert.Equal(t, session.ID, c.SessionID)
	assert.Equal(t, session.TenantID, c.TenantID)
	assert.Equal(t, 3, c.SizeBytes)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", c.SHA256)
}
