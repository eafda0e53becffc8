package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/audit"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/metrics"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/provider"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/repository"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/tracking"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/webhook"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/ws"
)

// MaxCaptureSize limits the selfie uploaded after the challenge
const MaxCaptureSize = 5 * 1024 * 1024

type SessionLimiter interface {
	CheckSessionLimit(ctx context.Context, tenantID uuid.UUID, limit int) error
}

type EventPublisher interface {
	BroadcastToTenant(tenantID uuid.UUID, eventType ws.EventType, data interface{})
}

type WebhookDispatcher interface {
	Dispatch(ctx context.Context, tenantID uuid.UUID, eventType string, data interface{}) error
}

// UsageRecorder counts billable activity per tenant; implementations must not block
type UsageRecorder interface {
	RecordSessionStarted(tenantID uuid.UUID)
	RecordFrame(tenantID uuid.UUID)
	RecordCaptureStored(tenantID uuid.UUID)
}

// LivenessConfig holds the global challenge settings. Tenants may override
// cooldown and smile threshold through their settings.
type LivenessConfig struct {
	Liveness          liveness.Config
	Tracking          tracking.Config
	SessionTTL        time.Duration
	SessionsPerMinute int
	// IdleEviction drops in-memory state of sessions without traffic; state is reloaded from postgres
	IdleEviction time.Duration
}

// DefaultLivenessConfig returns the settings used when nothing is configured
func DefaultLivenessConfig() LivenessConfig {
	return LivenessConfig{
		Liveness:          liveness.DefaultConfig(),
		Tracking:          tracking.DefaultConfig(),
		SessionTTL:        10 * time.Minute,
		SessionsPerMinute: 60,
		IdleEviction:      5 * time.Minute,
	}
}

// LivenessService conduz o desafio de liveness de cada sessão: recebe
// observações (detecção no cliente) ou frames (detecção no servidor),
// avança a máquina de estados e guarda a selfie final.
type LivenessService struct {
	sessions repository.LivenessSessionRepositoryInterface
	captures repository.CaptureRepositoryInterface
	provider provider.FaceProvider
	limiter  SessionLimiter
	events   EventPublisher
	webhooks WebhookDispatcher
	usage    UsageRecorder
	audit    audit.Logger
	logger   *slog.Logger
	config   LivenessConfig
	registry *registry
	now      func() time.Time
}

// LivenessDependencies groups the collaborators of the service. Limiter,
// Events, Webhooks and Usage are optional.
type LivenessDependencies struct {
	Sessions repository.LivenessSessionRepositoryInterface
	Captures repository.CaptureRepositoryInterface
	Provider provider.FaceProvider
	Limiter  SessionLimiter
	Events   EventPublisher
	Webhooks WebhookDispatcher
	Usage    UsageRecorder
	Audit    audit.Logger
	Logger   *slog.Logger
}

func NewLivenessService(deps LivenessDependencies, cfg LivenessConfig) (*LivenessService, error) {
	if err := cfg.Liveness.Validate(); err != nil {
		return nil, fmt.Errorf("liveness service: %w", err)
	}
	if deps.Audit == nil {
		deps.Audit = &audit.NoOpLogger{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &LivenessService{
		sessions: deps.Sessions,
		captures: deps.Captures,
		provider: deps.Provider,
		limiter:  deps.Limiter,
		events:   deps.Events,
		webhooks: deps.Webhooks,
		usage:    deps.Usage,
		audit:    deps.Audit,
		logger:   deps.Logger.With("component", "liveness_service"),
		config:   cfg,
		registry: newRegistry(),
		now:      time.Now,
	}, nil
}

// StartSession cria uma sessão nova para o tenant, sujeita ao limite de sessões por minuto
func (s *LivenessService) StartSession(ctx context.Context, tenant *domain.Tenant) (*domain.LivenessSession, error) {
	settings := tenant.GetSettings()

	if s.limiter != nil {
		limit := s.config.SessionsPerMinute
		if settings.SessionsPerMinute > 0 {
			limit = settings.SessionsPerMinute
		}
		if err := s.limiter.CheckSessionLimit(ctx, tenant.ID, limit); err != nil {
			return nil, err
		}
	}

	machine, err := s.machineFor(tenant)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenant.ID, err)
	}

	now := s.now()
	session := domain.NewLivenessSession(tenant.ID, s.config.SessionTTL, now)
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("tenant %s: create session: %w", tenant.ID, err)
	}

	e := s.registry.getOrCreate(session.ID)
	e.mu.Lock()
	e.session = session
	e.machine = machine
	e.tracker = tracking.New(s.config.Tracking)
	e.lastSeen = now
	snapshot := cloneSession(session)
	e.mu.Unlock()

	metrics.RecordSessionStarted()
	if s.usage != nil {
		s.usage.RecordSessionStarted(tenant.ID)
	}
	s.logAudit(ctx, audit.Event{
		TenantID:  tenant.ID,
		EventType: audit.EventSessionStarted,
		SessionID: session.ID.String(),
		Success:   true,
	})
	s.publish(tenant.ID, ws.EventSessionStarted, snapshot)

	return snapshot, nil
}

// GetSession returns the current state of a session, whatever its status
func (s *LivenessService) GetSession(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) (*domain.LivenessSession, error) {
	e, err := s.acquire(ctx, tenant, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	return cloneSession(e.session), nil
}

// SubmitObservations avança a sessão com as faces de um frame detectadas no cliente.
// CapturedAt is ignored: the cooldown runs on the server clock.
func (s *LivenessService) SubmitObservations(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID, observations []liveness.Observation) (*domain.AdvanceResult, error) {
	start := s.now()

	frame := make([]liveness.Observation, len(observations))
	for i, obs := range observations {
		if err := validateObservation(obs); err != nil {
			return nil, domain.ErrInvalidObservation.WithError(fmt.Errorf("observation %d: %w", i, err))
		}
		obs.CapturedAt = time.Time{}
		frame[i] = obs
	}

	e, err := s.acquireOpen(ctx, tenant, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	out := e.machine.ProcessFrame(&e.session.State, frame)
	if err := s.afterAdvance(ctx, e, out); err != nil {
		return nil, err
	}

	metrics.ObserveFrame(metrics.SourceClient, s.now().Sub(start))
	return s.result(e, out), nil
}

// SubmitFrame runs server-side detection on one camera frame. When the frame
// completes the challenge it is stored as the session selfie.
func (s *LivenessService) SubmitFrame(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID, image []byte) (*domain.AdvanceResult, error) {
	start := s.now()
	settings := tenant.GetSettings()

	if !settings.ServerSideDetection {
		return nil, domain.ErrForbidden.WithError(errors.New("server-side detection is disabled for this tenant"))
	}
	if len(image) == 0 {
		return nil, domain.ErrInvalidImage
	}

	e, err := s.acquireOpen(ctx, tenant, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	faces, err := s.provider.DetectFaces(provider.WithTenant(ctx, tenant.ID), image)
	if err != nil {
		metrics.RecordProviderError("detect_faces")
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("tenant %s: detect faces: %w", tenant.ID, err)
	}

	observations := e.tracker.Update(faces, s.now())
	for i := range observations {
		observations[i].CapturedAt = time.Time{}
	}

	out := e.machine.ProcessFrame(&e.session.State, observations)
	if err := s.afterAdvance(ctx, e, out); err != nil {
		return nil, err
	}

	result := s.result(e, out)
	detected := len(faces)
	result.FacesDetected = &detected

	if out.Kind == liveness.CaptureRequested {
		capture, err := s.storeCapture(ctx, tenant, e, domain.CaptureSourceServerFrame, image, "")
		if err != nil {
			// the session stays captured; the client may still upload the selfie
			s.logger.WarnContext(ctx, "failed to store frame as capture",
				slog.String("session_id", sessionID.String()),
				slog.String("error", err.Error()),
			)
		} else {
			result.CaptureID = &capture.ID
			result.Status = e.session.Status
		}
	}

	metrics.ObserveFrame(metrics.SourceServer, s.now().Sub(start))
	return result, nil
}

// StoreCapture guarda a selfie enviada pelo cliente. Só é aceita uma vez,
// depois que o desafio pediu a captura.
func (s *LivenessService) StoreCapture(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID, image []byte, contentType string) (*domain.LivenessCapture, error) {
	if len(image) == 0 || len(image) > MaxCaptureSize {
		return nil, domain.ErrInvalidImage
	}

	e, err := s.acquireOpen(ctx, tenant, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	return s.storeCapture(ctx, tenant, e, domain.CaptureSourceClient, image, contentType)
}

// GetCapture returns the capture metadata of a session
func (s *LivenessService) GetCapture(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) (*domain.LivenessCapture, error) {
	capture, err := s.captures.GetBySession(ctx, tenant.ID, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("tenant %s: get capture: %w", tenant.ID, err)
	}
	return capture, nil
}

// ResetSession descarta o progresso da sessão, inclusive o lock e um pedido de captura
// ainda não atendido.
func (s *LivenessService) ResetSession(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) (*domain.AdvanceResult, error) {
	e, err := s.acquireOpen(ctx, tenant, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if e.session.Status == domain.SessionCompleted {
		return nil, domain.ErrCaptureAlreadyStored
	}

	e.machine.ResetSession(&e.session.State)
	e.tracker.Reset()

	out := liveness.Outcome{Kind: liveness.Reset, Step: liveness.StepFront}
	if err := s.afterAdvance(ctx, e, out); err != nil {
		return nil, err
	}

	return s.result(e, out), nil
}

// EndSession encerra a sessão e descarta o estado em memória
func (s *LivenessService) EndSession(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) error {
	e, err := s.acquireOpen(ctx, tenant, sessionID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	now := s.now()
	previous := e.session.Status

	e.session.Status = domain.SessionEnded
	e.session.UpdatedAt = now
	e.session.EndedAt = &now

	if err := s.sessions.Update(ctx, e.session); err != nil {
		e.session.Status = previous
		e.session.EndedAt = nil
		return fmt.Errorf("tenant %s: end session: %w", tenant.ID, err)
	}
	s.registry.remove(sessionID, e)

	if previous != domain.SessionCompleted {
		metrics.RecordSessionEnded(string(domain.SessionEnded))
	}
	s.sessionClosed(ctx, e.session)

	return nil
}

// ExpireStale expires sessions past their TTL and frees idle in-memory state
func (s *LivenessService) ExpireStale(ctx context.Context) (int64, error) {
	now := s.now()
	evicted := s.registry.sweep(func(e *sessionEntry) bool {
		if e.session.IsTerminal() || e.session.IsExpired(now) {
			return false
		}
		return s.config.IdleEviction <= 0 || now.Sub(e.lastSeen) < s.config.IdleEviction
	})
	if evicted > 0 {
		s.logger.DebugContext(ctx, "evicted idle sessions", slog.Int("count", evicted))
	}

	expired, err := s.sessions.ExpireStale(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	for _, session := range expired {
		metrics.RecordSessionEnded(string(domain.SessionExpired))
		s.sessionClosed(ctx, session)
	}

	return int64(len(expired)), nil
}

// acquire returns the locked entry of a session, loading it from postgres on a miss.
// The caller must unlock e.mu.
func (s *LivenessService) acquire(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) (*sessionEntry, error) {
	for {
		e := s.registry.getOrCreate(sessionID)
		e.mu.Lock()

		if e.evicted {
			e.mu.Unlock()
			continue
		}

		if e.session == nil {
			if err := s.load(ctx, tenant, sessionID, e); err != nil {
				s.registry.remove(sessionID, e)
				e.mu.Unlock()
				return nil, err
			}
		}

		if e.session.TenantID != tenant.ID {
			e.mu.Unlock()
			return nil, domain.ErrLivenessSessionNotFound
		}

		e.lastSeen = s.now()
		return e, nil
	}
}

// acquireOpen is acquire for operations that change the session: ended and
// expired sessions are rejected.
func (s *LivenessService) acquireOpen(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) (*sessionEntry, error) {
	e, err := s.acquire(ctx, tenant, sessionID)
	if err != nil {
		return nil, err
	}

	switch {
	case e.session.Status == domain.SessionEnded:
		e.mu.Unlock()
		return nil, domain.ErrLivenessSessionEnded
	case e.session.Status == domain.SessionExpired:
		e.mu.Unlock()
		return nil, domain.ErrLivenessSessionExpired
	case e.session.Status != domain.SessionCompleted && e.session.IsExpired(s.now()):
		s.expire(ctx, e)
		e.mu.Unlock()
		return nil, domain.ErrLivenessSessionExpired
	}

	return e, nil
}

func (s *LivenessService) load(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID, e *sessionEntry) error {
	session, err := s.sessions.GetByID(ctx, tenant.ID, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrLivenessSessionNotFound) {
			return err
		}
		return fmt.Errorf("tenant %s: load session: %w", tenant.ID, err)
	}

	machine, err := s.machineFor(tenant)
	if err != nil {
		return fmt.Errorf("tenant %s: %w", tenant.ID, err)
	}

	e.session = session
	e.machine = machine
	e.tracker = tracking.NewFrom(s.config.Tracking, resumeTrackingID(session.State.LockedTrackingID))
	return nil
}

// resumeTrackingID is the first id a reloaded tracker may hand out. The ids
// it issued before the reload are lost, so starting above the lock makes the
// next face mismatch it and reset the challenge.
func resumeTrackingID(locked *uint64) uint64 {
	if locked == nil || *locked == math.MaxUint64 {
		return 1
	}
	return *locked + 1
}

func (s *LivenessService) expire(ctx context.Context, e *sessionEntry) {
	now := s.now()
	e.session.Status = domain.SessionExpired
	e.session.UpdatedAt = now
	e.session.EndedAt = &now

	if err := s.sessions.Update(ctx, e.session); err != nil {
		s.logger.WarnContext(ctx, "failed to persist expired session",
			slog.String("session_id", e.session.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	s.registry.remove(e.session.ID, e)

	metrics.RecordSessionEnded(string(domain.SessionExpired))
	s.sessionClosed(ctx, e.session)
}

// machineFor builds the state machine with the tenant overrides applied
func (s *LivenessService) machineFor(tenant *domain.Tenant) (*liveness.Machine, error) {
	cfg := tenant.GetSettings().ApplyLiveness(s.config.Liveness)
	return liveness.New(cfg, liveness.WithClock(s.now))
}

// afterAdvance persists a changed session and fans the outcome out to
// metrics, audit, websocket subscribers and webhooks
func (s *LivenessService) afterAdvance(ctx context.Context, e *sessionEntry, out liveness.Outcome) error {
	e.session.FramesProcessed++
	metrics.RecordOutcome(out)
	if s.usage != nil {
		s.usage.RecordFrame(e.session.TenantID)
	}

	if !out.Changed() {
		return nil
	}

	e.session.Apply(out, s.now())
	if err := s.sessions.Update(ctx, e.session); err != nil {
		// drop the in-memory state so the next call reloads what postgres holds
		s.registry.remove(e.session.ID, e)
		return fmt.Errorf("tenant %s: update session: %w", e.session.TenantID, err)
	}

	tenantID := e.session.TenantID
	event := audit.Event{
		TenantID:  tenantID,
		SessionID: e.session.ID.String(),
		Success:   true,
		Metadata: map[string]string{
			"step":    out.Step.String(),
			"outcome": out.Kind.String(),
		},
	}
	payload := s.result(e, out)

	switch out.Kind {
	case liveness.StepCompleted:
		event.EventType = audit.EventStepCompleted
		s.publish(tenantID, ws.EventStepCompleted, payload)
	case liveness.Reset:
		event.EventType = audit.EventSessionReset
		s.publish(tenantID, ws.EventSessionReset, payload)
	case liveness.CaptureRequested:
		event.EventType = audit.EventCaptureRequested
		s.publish(tenantID, ws.EventCaptureRequested, payload)
		s.dispatch(ctx, tenantID, webhook.EventCaptureRequested, payload)
	}
	s.logAudit(ctx, event)

	return nil
}

func (s *LivenessService) storeCapture(ctx context.Context, tenant *domain.Tenant, e *sessionEntry, source domain.CaptureSource, image []byte, contentType string) (*domain.LivenessCapture, error) {
	switch {
	case e.session.Status == domain.SessionCompleted:
		return nil, domain.ErrCaptureAlreadyStored
	case !e.session.State.Captured:
		return nil, domain.ErrCaptureNotAuthorized
	}

	if contentType == "" {
		contentType = http.DetectContentType(image)
	}

	now := s.now()
	capture := domain.NewLivenessCapture(e.session, source, image, contentType, now)

	settings := tenant.GetSettings()
	live := true
	if settings.RequireSelfieCheck {
		result, err := s.provider.CheckLiveness(provider.WithTenant(ctx, tenant.ID), image, settings.SelfieThreshold)
		if err != nil {
			metrics.RecordProviderError("check_liveness")
			var appErr *domain.AppError
			if errors.As(err, &appErr) {
				return nil, err
			}
			return nil, fmt.Errorf("tenant %s: check selfie: %w", tenant.ID, err)
		}
		live = result.IsLive
		score := result.Confidence
		capture.LivenessScore = &score
		capture.Checks = map[string]bool{
			"eyes_open":     result.Checks.EyesOpen,
			"facing_camera": result.Checks.FacingCamera,
			"quality_ok":    result.Checks.QualityOK,
			"single_face":   result.Checks.SingleFace,
		}
		s.logAudit(ctx, audit.Event{
			TenantID:  tenant.ID,
			EventType: audit.EventSelfieChecked,
			SessionID: e.session.ID.String(),
			CaptureID: capture.ID.String(),
			Success:   result.IsLive,
		})
	}

	if err := s.captures.Create(ctx, capture); err != nil {
		if errors.Is(err, domain.ErrCaptureAlreadyStored) {
			return nil, err
		}
		return nil, fmt.Errorf("tenant %s: store capture: %w", tenant.ID, err)
	}

	e.session.Status = domain.SessionCompleted
	e.session.UpdatedAt = now
	e.session.EndedAt = &now
	if err := s.sessions.Update(ctx, e.session); err != nil {
		s.logger.WarnContext(ctx, "capture stored but session not marked completed",
			slog.String("session_id", e.session.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	metrics.RecordCapture(string(source), live)
	metrics.RecordSessionEnded(string(domain.SessionCompleted))
	if s.usage != nil {
		s.usage.RecordCaptureStored(tenant.ID)
	}
	s.logAudit(ctx, audit.Event{
		TenantID:  tenant.ID,
		EventType: audit.EventCaptureStored,
		SessionID: e.session.ID.String(),
		CaptureID: capture.ID.String(),
		Success:   true,
		Metadata:  map[string]string{"source": string(source)},
	})
	s.publish(tenant.ID, ws.EventCaptured, capture)
	s.dispatch(ctx, tenant.ID, webhook.EventCaptured, capture)

	return capture, nil
}

func (s *LivenessService) sessionClosed(ctx context.Context, session *domain.LivenessSession) {
	snapshot := cloneSession(session)
	s.logAudit(ctx, audit.Event{
		TenantID:  session.TenantID,
		EventType: audit.EventSessionEnded,
		SessionID: session.ID.String(),
		Success:   true,
		Metadata:  map[string]string{"status": string(session.Status)},
	})
	s.publish(session.TenantID, ws.EventSessionEnded, snapshot)
	s.dispatch(ctx, session.TenantID, webhook.EventSessionEnded, snapshot)
}

func (s *LivenessService) result(e *sessionEntry, out liveness.Outcome) *domain.AdvanceResult {
	return &domain.AdvanceResult{
		SessionID:           e.session.ID,
		Outcome:             out,
		CurrentStep:         e.session.State.Step,
		Status:              e.session.Status,
		Prompt:              out.Prompt(),
		Captured:            e.session.State.Captured,
		CooldownRemainingMs: e.machine.CooldownRemaining(&e.session.State).Milliseconds(),
	}
}

func (s *LivenessService) publish(tenantID uuid.UUID, eventType ws.EventType, data interface{}) {
	if s.events != nil {
		s.events.BroadcastToTenant(tenantID, eventType, data)
	}
}

func (s *LivenessService) dispatch(ctx context.Context, tenantID uuid.UUID, eventType string, data interface{}) {
	if s.webhooks == nil {
		return
	}
	if err := s.webhooks.Dispatch(ctx, tenantID, eventType, data); err != nil {
		s.logger.WarnContext(ctx, "failed to enqueue webhook",
			slog.String("event", eventType),
			slog.String("tenant_id", tenantID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LivenessService) logAudit(ctx context.Context, event audit.Event) {
	event.Timestamp = s.now().UTC()
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to write audit event",
			slog.String("event_type", string(event.EventType)),
			slog.String("error", err.Error()),
		)
	}
}

// validateObservation rejects values JSON clients cannot mean. Any finite yaw
// is accepted; angles beyond a half turn classify as neither pose.
func validateObservation(obs liveness.Observation) error {
	if math.IsNaN(obs.YawDegrees) || math.IsInf(obs.YawDegrees, 0) {
		return errors.New("yaw must be a finite number")
	}
	if p := obs.SmileProbability; p != nil && (math.IsNaN(*p) || *p < 0 || *p > 1) {
		return errors.New("smile_probability must be between 0 and 1")
	}
	return nil
}

// cloneSession copies s so callers never share the registry's instance.
// The machine replaces the state pointers instead of writing through them.
func cloneSession(s *domain.LivenessSession) *domain.LivenessSession {
	c := *s
	return &c
}
