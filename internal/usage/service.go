package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/webhook"
)

const (
	cacheKeyUsage = "usage:%s:%s"
	cacheKeyAlert = "usage-alert:%s:%s:%s"

	summaryTTL = 5 * time.Minute
)

// Store is implemented by Repository
type Store interface {
	GetPlanByID(ctx context.Context, planID string) (*Plan, error)
	AggregatePeriod(ctx context.Context, tenantID uuid.UUID, startDate, endDate time.Time) (*UsageRecord, error)
	IncrementDaily(ctx context.Context, tenantID uuid.UUID, date time.Time, field string, amount int64) error
}

// CacheService is implemented by cache.PGCache
type CacheService interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

type WebhookDispatcher interface {
	Dispatch(ctx context.Context, tenantID uuid.UUID, eventType string, data interface{}) error
}

// Service resume o consumo mensal de sessões de liveness por tenant e avisa,
// via webhook, quando a cota do plano se aproxima do limite.
type Service struct {
	repo     Store
	webhooks WebhookDispatcher
	cache    CacheService
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Store, webhooks WebhookDispatcher, cache CacheService, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		webhooks: webhooks,
		cache:    cache,
		logger:   logger.With("component", "usage"),
		now:      time.Now,
	}
}

func (s *Service) GetCurrentUsage(ctx context.Context, tenantID uuid.UUID, planID string) (*UsageSummary, error) {
	now := s.now().UTC()
	period := now.Format("2006-01")

	cacheKey := fmt.Sprintf(cacheKeyUsage, tenantID, period)
	var cached UsageSummary
	if err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
		return &cached, nil
	}

	startDate, endDate := periodBounds(now)
	return s.getUsageForPeriod(ctx, tenantID, planID, period, startDate, endDate)
}

func (s *Service) GetUsageForPeriod(ctx context.Context, tenantID uuid.UUID, planID, period string) (*UsageSummary, error) {
	parsedTime, err := time.Parse("2006-01", period)
	if err != nil {
		return nil, fmt.Errorf("invalid period format, use YYYY-MM: %w", err)
	}

	startDate, endDate := periodBounds(parsedTime)
	return s.getUsageForPeriod(ctx, tenantID, planID, period, startDate, endDate)
}

func periodBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC).Add(-time.Second)
	return start, end
}

func (s *Service) getUsageForPeriod(ctx context.Context, tenantID uuid.UUID, planID, period string, startDate, endDate time.Time) (*UsageSummary, error) {
	plan, err := s.repo.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: get plan: %w", tenantID, err)
	}

	usage, err := s.repo.AggregatePeriod(ctx, tenantID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: aggregate usage: %w", tenantID, err)
	}

	summary := calculateSummary(plan, usage, period)

	cacheKey := fmt.Sprintf(cacheKeyUsage, tenantID, period)
	_ = s.cache.SetJSON(ctx, cacheKey, summary, summaryTTL)

	return summary, nil
}

func calculateSummary(plan *Plan, usage *UsageRecord, period string) *UsageSummary {
	summary := &UsageSummary{
		Period: period,
		Plan:   *plan,
		Sessions: UsageDetail{
			Used:       usage.SessionsStarted,
			Quota:      plan.QuotaSessions,
			Percentage: calculatePercentage(usage.SessionsStarted, plan.QuotaSessions),
			Overage:    calculateOverage(usage.SessionsStarted, plan.QuotaSessions),
		},
		CapturesStored:  usage.CapturesStored,
		FramesProcessed: usage.FramesProcessed,
		Billing: BillingSummary{
			BaseFee: plan.MonthlyPrice,
		},
	}

	if usage.SessionsStarted > 0 {
		summary.CompletionRate = float64(usage.CapturesStored) / float64(usage.SessionsStarted)
	}

	summary.Billing.OverageFee = float64(summary.Sessions.Overage) * plan.OveragePrice
	summary.Billing.Total = summary.Billing.BaseFee + summary.Billing.OverageFee

	summary.Alerts = generateAlerts(summary)

	return summary
}

// CheckQuota dispatches the alerts of the current period. Each alert type is
// sent at most once per tenant and period.
func (s *Service) CheckQuota(ctx context.Context, tenantID uuid.UUID, planID string) error {
	summary, err := s.GetCurrentUsage(ctx, tenantID, planID)
	if err != nil {
		return fmt.Errorf("tenant %s: check quota: %w", tenantID, err)
	}

	_, periodEnd := periodBounds(s.now().UTC())
	for _, alert := range summary.Alerts {
		key := fmt.Sprintf(cacheKeyAlert, tenantID, summary.Period, alert.Type)

		var sent bool
		if err := s.cache.GetJSON(ctx, key, &sent); err == nil && sent {
			continue
		}

		if err := s.webhooks.Dispatch(ctx, tenantID, alert.Type, map[string]interface{}{
			"alert":   alert,
			"summary": summary,
		}); err != nil {
			return fmt.Errorf("tenant %s: send alert: %w", tenantID, err)
		}

		if err := s.cache.SetJSON(ctx, key, true, periodEnd.Sub(s.now().UTC())); err != nil {
			s.logger.Warn("failed to remember quota alert",
				"tenant_id", tenantID,
				"alert", alert.Type,
				"error", err,
			)
		}

		s.logger.Info("quota alert dispatched",
			"tenant_id", tenantID,
			"alert", alert.Type,
			"percentage", alert.Percentage,
		)
	}

	return nil
}

// Increment adds amount to today's counter. Used by Recorder when flushing.
func (s *Service) Increment(ctx context.Context, tenantID uuid.UUID, date time.Time, field string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if !validFields[field] {
		return errors.New("invalid usage field: " + field)
	}
	return s.repo.IncrementDaily(ctx, tenantID, date, field, amount)
}

func generateAlerts(summary *UsageSummary) []UsageAlert {
	detail := summary.Sessions
	if detail.Quota <= 0 {
		return nil
	}

	var alertType, level string
	switch {
	case detail.Percentage >= 100:
		alertType, level = webhook.EventQuotaExceeded, "exceeded"
	case detail.Percentage >= 90:
		alertType, level = webhook.EventQuotaCritical, "critical"
	case detail.Percentage >= 80:
		alertType, level = webhook.EventQuotaWarning, "warning"
	default:
		return nil
	}

	return []UsageAlert{{
		Type:       alertType,
		Percentage: detail.Percentage,
		Message: fmt.Sprintf("Liveness sessions quota %s: %d%% used (%d/%d)",
			level, int(detail.Percentage), detail.Used, detail.Quota),
	}}
}

func calculatePercentage(used, quota int) float64 {
	if quota <= 0 {
		return 0
	}
	return (float64(used) / float64(quota)) * 100
}

func calculateOverage(used, quota int) int {
	if quota <= 0 {
		return 0
	}
	overage := used - quota
	if overage < 0 {
		return 0
	}
	return overage
}
