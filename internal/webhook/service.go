package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrInvalidWebhook  = errors.New("invalid webhook")
)

const webhookColumnList = `id, tenant_id, name, url, secret, events, enabled, last_triggered_at, created_at, updated_at`

// DeliveryError is a non-2xx answer from the tenant endpoint
type DeliveryError struct {
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook answered HTTP %d", e.StatusCode)
}

// Permanent reports whether retrying cannot help: 4xx other than 408 and 429
func (e *DeliveryError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// DB is the subset of *pgxpool.Pool used by the webhook service and worker
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service registers tenant webhooks and enqueues liveness events for delivery.
// Delivery itself happens in Worker, never on the request path.
type Service struct {
	db     DB
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db DB, logger *slog.Logger) *Service {
	return &Service{
		db: db,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With("component", "webhook"),
		now:    time.Now,
	}
}

// Dispatch enqueues one job per enabled webhook of the tenant subscribed to eventType
func (s *Service) Dispatch(ctx context.Context, tenantID uuid.UUID, eventType string, data interface{}) error {
	webhooks, err := s.GetWebhooksByEvent(ctx, tenantID, eventType)
	if err != nil {
		return err
	}
	if len(webhooks) == 0 {
		return nil
	}

	payload, err := json.Marshal(EventPayload{
		ID:        uuid.New(),
		Type:      eventType,
		Data:      data,
		TenantID:  tenantID,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	for _, w := range webhooks {
		if err := s.enqueue(ctx, w.ID, eventType, payload); err != nil {
			return err
		}
	}

	s.logger.DebugContext(ctx, "webhook event enqueued",
		"tenant_id", tenantID,
		"event_type", eventType,
		"webhooks", len(webhooks),
	)

	return nil
}

// Send posts a signed payload to the webhook endpoint. A non-2xx answer is
// returned as *DeliveryError.
func (s *Service) Send(ctx context.Context, webhook *Webhook, eventType string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	h := req.Header
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", "Rekko-Webhook/1.0")
	h.Set("X-Rekko-Event", eventType)
	h.Set(SignatureHeader, Sign(webhook.Secret, payload, s.now()))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode}
	}

	if _, err := s.db.Exec(ctx, `UPDATE webhooks SET last_triggered_at = NOW() WHERE id = $1`, webhook.ID); err != nil {
		s.logger.WarnContext(ctx, "update last_triggered_at", "webhook_id", webhook.ID, "error", err)
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, webhookID uuid.UUID, eventType string, payload []byte) error {
	const q = `INSERT INTO webhook_queue (webhook_id, event_type, payload, next_retry_at) VALUES ($1, $2, $3, NOW())`
	if _, err := s.db.Exec(ctx, q, webhookID, eventType, payload); err != nil {
		return fmt.Errorf("enqueue webhook %s: %w", webhookID, err)
	}
	return nil
}

func (s *Service) GetWebhooksByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Webhook, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+webhookColumnList+` FROM webhooks WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return collectWebhooks(rows)
}

// GetWebhooksByEvent lists the enabled webhooks of the tenant subscribed to eventType
func (s *Service) GetWebhooksByEvent(ctx context.Context, tenantID uuid.UUID, eventType string) ([]*Webhook, error) {
	subscribed, err := json.Marshal([]string{eventType})
	if err != nil {
		return nil, fmt.Errorf("marshal event filter: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+webhookColumnList+` FROM webhooks WHERE tenant_id = $1 AND enabled = true AND events @> $2::jsonb`,
		tenantID, subscribed)
	if err != nil {
		return nil, fmt.Errorf("list webhooks for %s: %w", eventType, err)
	}
	return collectWebhooks(rows)
}

func collectWebhooks(rows pgx.Rows) ([]*Webhook, error) {
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}

	return webhooks, nil
}

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var w Webhook
	var eventsJSON []byte

	err := row.Scan(
		&w.ID, &w.TenantID, &w.Name, &w.URL, &w.Secret,
		&eventsJSON, &w.Enabled, &w.LastTriggeredAt,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan webhook: %w", err)
	}

	if err := json.Unmarshal(eventsJSON, &w.Events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}

	return &w, nil
}

// Validate checks the URL and the subscribed events
func (w *Webhook) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidWebhook)
	}
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) url", ErrInvalidWebhook)
	}
	if len(w.Events) == 0 {
		return fmt.Errorf("%w: at least one event is required", ErrInvalidWebhook)
	}
	for _, e := range w.Events {
		if !IsSupportedEvent(e) {
			return fmt.Errorf("%w: unsupported event %q", ErrInvalidWebhook, e)
		}
	}
	return nil
}

// CreateWebhook validates, generates the signing secret and stores the webhook
func (s *Service) CreateWebhook(ctx context.Context, webhook *Webhook) error {
	if err := webhook.Validate(); err != nil {
		return err
	}

	if webhook.Secret == "" {
		secret, err := GenerateSecret()
		if err != nil {
			return err
		}
		webhook.Secret = secret
	}

	eventsJSON, err := json.Marshal(webhook.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	query := `
		INSERT INTO webhooks (tenant_id, name, url, secret, events, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		webhook.TenantID, webhook.Name, webhook.URL,
		webhook.Secret, eventsJSON, webhook.Enabled,
	).Scan(&webhook.ID, &webhook.CreatedAt, &webhook.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	return nil
}

func (s *Service) DeleteWebhook(ctx context.Context, tenantID, webhookID uuid.UUID) error {
	query := `DELETE FROM webhooks WHERE id = $1 AND tenant_id = $2`

	result, err := s.db.Exec(ctx, query, webhookID, tenantID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrWebhookNotFound
	}

	return nil
}
