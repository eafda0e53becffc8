package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/provider"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/ws"
)

type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.LivenessSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.LivenessSession, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LivenessSession), args.Error(1)
}

func (m *MockSessionRepository) Update(ctx context.Context, session *domain.LivenessSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) ExpireStale(ctx context.Context, now time.Time) ([]*domain.LivenessSession, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.LivenessSession), args.Error(1)
}

type MockCaptureRepository struct {
	mock.Mock
}

func (m *MockCaptureRepository) Create(ctx context.Context, capture *domain.LivenessCapture) error {
	args := m.Called(ctx, capture)
	return args.Error(0)
}

func (m *MockCaptureRepository) GetBySession(ctx context.Context, tenantID, sessionID uuid.UUID) (*domain.LivenessCapture, error) {
	args := m.Called(ctx, tenantID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LivenessCapture), args.Error(1)
}

type MockFaceProvider struct {
	mock.Mock
}

func (m *MockFaceProvider) DetectFaces(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	args := m.Called(ctx, image)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provider.DetectedFace), args.Error(1)
}

func (m *MockFaceProvider) CheckLiveness(ctx context.Context, image []byte, threshold float64) (*provider.LivenessResult, error) {
	args := m.Called(ctx, image, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.LivenessResult), args.Error(1)
}

type MockSessionLimiter struct {
	mock.Mock
}

func (m *MockSessionLimiter) CheckSessionLimit(ctx context.Context, tenantID uuid.UUID, limit int) error {
	args := m.Called(ctx, tenantID, limit)
	return args.Error(0)
}

type MockWebhookDispatcher struct {
	mock.Mock
}

func (m *MockWebhookDispatcher) Dispatch(ctx context.Context, tenantID uuid.UUID, eventType string, data interface{}) error {
	args := m.Called(ctx, tenantID, eventType, data)
	return args.Error(0)
}

type MockCleaner struct {
	mock.Mock
}

func (m *MockCleaner) CleanupExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// recordingPublisher keeps the event types broadcast, in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []ws.EventType
}

func (p *recordingPublisher) BroadcastToTenant(_ uuid.UUID, eventType ws.EventType, _ interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingPublisher) types() []ws.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ws.EventType(nil), p.events...)
}

// countingUsage counts recorded usage without tenant breakdown
type countingUsage struct {
	mu       sync.Mutex
	sessions int
	frames   int
	captures int
}

func (u *countingUsage) RecordSessionStarted(uuid.UUID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sessions++
}

func (u *countingUsage) RecordFrame(uuid.UUID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.frames++
}

func (u *countingUsage) RecordCaptureStored(uuid.UUID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.captures++
}

type usageCounts struct {
	sessions, frames, captures int
}

func (u *countingUsage) snapshot() usageCounts {
	u.mu.Lock()
	defer u.mu.Unlock()
	return usageCounts{sessions: u.sessions, frames: u.frames, captures: u.captures}
}

// memorySessions is a LivenessSessionRepositoryInterface backed by a map
type memorySessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]domain.LivenessSession
	gets     int
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[uuid.UUID]domain.LivenessSession)}
}

func (r *memorySessions) Create(_ context.Context, s *domain.LivenessSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *memorySessions) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.LivenessSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	s, ok := r.sessions[id]
	if !ok || s.TenantID != tenantID {
		return nil, domain.ErrLivenessSessionNotFound
	}
	return &s, nil
}

func (r *memorySessions) Update(_ context.Context, s *domain.LivenessSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return domain.ErrLivenessSessionNotFound
	}
	r.sessions[s.ID] = *s
	return nil
}

func (r *memorySessions) ExpireStale(_ context.Context, now time.Time) ([]*domain.LivenessSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*domain.LivenessSession
	for id, s := range r.sessions {
		if !s.IsExpired(now) {
			continue
		}
		if s.Status == domain.SessionActive || s.Status == domain.SessionCaptureRequested {
			s.Status = domain.SessionExpired
			s.UpdatedAt = now
			s.EndedAt = &now
			r.sessions[id] = s
			expired = append(expired, &s)
		}
	}
	return expired, nil
}

func (r *memorySessions) get(id uuid.UUID) domain.LivenessSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

func (r *memorySessions) loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

// testClock is a manually advanced clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
