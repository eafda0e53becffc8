package usage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TenantGetter lists the tenants whose quota is checked on each pass
type TenantGetter interface {
	GetActiveTenantsWithPlan(ctx context.Context) ([]TenantPlan, error)
}

// QuotaChecker is implemented by Service
type QuotaChecker interface {
	CheckQuota(ctx context.Context, tenantID uuid.UUID, planID string) error
}

type TenantPlan struct {
	TenantID uuid.UUID
	PlanID   string
}

const defaultCheckConcurrency = 4

// Worker runs a quota pass on start and then every interval. Each pass checks
// at most concurrency tenants at a time; one tenant failing does not stop it.
type Worker struct {
	service     QuotaChecker
	tenants     TenantGetter
	logger      *slog.Logger
	interval    time.Duration
	concurrency int
}

func NewWorker(service QuotaChecker, tenants TenantGetter, logger *slog.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{
		service:     service,
		tenants:     tenants,
		logger:      logger.With("component", "quota_worker"),
		interval:    interval,
		concurrency: defaultCheckConcurrency,
	}
}

func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("quota worker started", "interval", w.interval, "concurrency", w.concurrency)
	defer w.logger.Info("quota worker stopped")

	w.CheckAllTenants(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.CheckAllTenants(ctx)
		}
	}
}

// PassResult summarizes one quota pass
type PassResult struct {
	Checked int
	Failed  int
}

// CheckAllTenants runs one quota pass over every active tenant. Tenants not
// yet started when ctx is cancelled are skipped.
func (w *Worker) CheckAllTenants(ctx context.Context) PassResult {
	tenants, err := w.tenants.GetActiveTenantsWithPlan(ctx)
	if err != nil {
		w.logger.Error("list active tenants", "error", err)
		return PassResult{}
	}

	var checked, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)

	for _, tenant := range tenants {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			checked.Add(1)
			if err := w.service.CheckQuota(ctx, tenant.TenantID, tenant.PlanID); err != nil {
				failed.Add(1)
				w.logger.Warn("quota check failed", "tenant_id", tenant.TenantID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := PassResult{Checked: int(checked.Load()), Failed: int(failed.Load())}
	w.logger.Debug("quota pass completed", "checked", result.Checked, "failed", result.Failed)
	return result
}
