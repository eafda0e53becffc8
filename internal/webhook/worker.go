package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 10
	// a job left in processing this long belongs to a worker that died mid-delivery
	defaultStaleAfter = 5 * time.Minute
	maxRetryDelay     = time.Hour
)

// Worker delivers queued webhook jobs. Failed deliveries are retried with a
// doubling delay until the job's max_attempts; 4xx answers other than 408 and
// 429 fail the job at once.
type Worker struct {
	db         DB
	service    *Service
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	now        func() time.Time
}

func NewWorker(db DB, service *Service, logger *slog.Logger) *Worker {
	return &Worker{
		db:         db,
		service:    service,
		logger:     logger.With("component", "webhook_worker"),
		interval:   defaultPollInterval,
		batchSize:  defaultBatchSize,
		staleAfter: defaultStaleAfter,
		now:        time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("webhook worker started", "interval", w.interval)
	defer w.logger.Info("webhook worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessQueue(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("process webhook queue", "error", err)
			}
		}
	}
}

// ProcessQueue claims one batch of due jobs and delivers them. It returns the
// number of jobs claimed.
func (w *Worker) ProcessQueue(ctx context.Context) (int, error) {
	jobs, err := w.claim(ctx)
	if err != nil {
		return 0, err
	}

	for i := range jobs {
		if err := w.deliver(ctx, &jobs[i]); err != nil {
			w.logger.Error("settle webhook job", "job_id", jobs[i].ID, "error", err)
		}
	}
	return len(jobs), nil
}

// claim moves due jobs, and jobs stuck in processing, to processing. SKIP
// LOCKED keeps concurrent API replicas off each other's batch.
func (w *Worker) claim(ctx context.Context) ([]Job, error) {
	const q = `
		UPDATE webhook_queue SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM webhook_queue
			WHERE (status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= NOW()))
			   OR (status = 'processing' AND updated_at < $2)
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		RETURNING id, webhook_id, event_type, payload, attempts, max_attempts`

	rows, err := w.db.Query(ctx, q, w.batchSize, w.now().Add(-w.staleAfter))
	if err != nil {
		return nil, fmt.Errorf("claim webhook jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.WebhookID, &j.EventType, &j.Payload, &j.Attempts, &j.MaxAttempts); err != nil {
			return nil, fmt.Errorf("scan webhook job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (w *Worker) deliver(ctx context.Context, job *Job) error {
	hook, err := w.webhook(ctx, job.WebhookID)
	switch {
	case errors.Is(err, ErrWebhookNotFound):
		return w.settle(ctx, job, StatusFailed, "webhook deleted", nil)
	case err != nil:
		return w.retry(ctx, job, err)
	case !hook.Enabled:
		return w.settle(ctx, job, StatusFailed, "webhook disabled", nil)
	}

	err = w.service.Send(ctx, hook, job.EventType, job.Payload)
	var de *DeliveryError
	switch {
	case err == nil:
		return w.settle(ctx, job, StatusDelivered, "", nil)
	case errors.As(err, &de) && de.Permanent():
		return w.settle(ctx, job, StatusFailed, err.Error(), nil)
	default:
		return w.retry(ctx, job, err)
	}
}

func (w *Worker) retry(ctx context.Context, job *Job, cause error) error {
	if job.Attempts+1 >= job.MaxAttempts {
		return w.settle(ctx, job, StatusFailed, cause.Error(), nil)
	}
	next := w.now().Add(retryDelay(job.Attempts))
	return w.settle(ctx, job, StatusPending, cause.Error(), &next)
}

// settle records the outcome of one delivery attempt
func (w *Worker) settle(ctx context.Context, job *Job, status, lastError string, nextRetry *time.Time) error {
	const q = `
		UPDATE webhook_queue
		SET status = $2, attempts = attempts + 1, next_retry_at = $3,
		    last_error = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $1`

	if _, err := w.db.Exec(ctx, q, job.ID, status, nextRetry, lastError); err != nil {
		return fmt.Errorf("mark job %s: %w", status, err)
	}

	attrs := []any{"job_id", job.ID, "webhook_id", job.WebhookID, "event_type", job.EventType, "attempt", job.Attempts + 1}
	switch status {
	case StatusDelivered:
		w.logger.Info("webhook delivered", attrs...)
	case StatusPending:
		w.logger.Info("webhook delivery retry scheduled", append(attrs, "next_retry_at", *nextRetry, "error", lastError)...)
	default:
		w.logger.Warn("webhook delivery failed", append(attrs, "error", lastError)...)
	}
	return nil
}

func (w *Worker) webhook(ctx context.Context, id uuid.UUID) (*Webhook, error) {
	hook, err := scanWebhook(w.db.QueryRow(ctx, `SELECT `+webhookColumnList+` FROM webhooks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWebhookNotFound
	}
	return hook, err
}

// retryDelay doubles per attempt from 1s and is capped at maxRetryDelay
func retryDelay(attempts int) time.Duration {
	if attempts >= 12 {
		return maxRetryDelay
	}
	return min(time.Duration(1<<attempts)*time.Second, maxRetryDelay)
}
