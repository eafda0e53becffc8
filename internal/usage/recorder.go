package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Incrementer is implemented by Service
type Incrementer interface {
	Increment(ctx context.Context, tenantID uuid.UUID, date time.Time, field string, amount int64) error
}

type counterKey struct {
	tenantID uuid.UUID
	date     time.Time
	field    string
}

type increment struct {
	key    counterKey
	amount int64
}

// RecorderConfig configures the recorder
type RecorderConfig struct {
	BufferSize    int           // Channel buffer size (default: 4096)
	FlushInterval time.Duration // Interval between writes to usage_daily (default: 30 seconds)
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		BufferSize:    4096,
		FlushInterval: 30 * time.Second,
	}
}

// Recorder soma contadores de uso em memória e grava em lote, fora do
// caminho da requisição. Frames chegam a 15 por segundo por sessão.
type Recorder struct {
	store         Incrementer
	logger        *slog.Logger
	ch            chan increment
	flushInterval time.Duration
	now           func() time.Time
	done          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

func NewRecorder(store Incrementer, logger *slog.Logger, config RecorderConfig) *Recorder {
	if config.BufferSize == 0 {
		config.BufferSize = 4096
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 30 * time.Second
	}

	return &Recorder{
		store:         store,
		logger:        logger.With("component", "usage_recorder"),
		ch:            make(chan increment, config.BufferSize),
		flushInterval: config.FlushInterval,
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// Start begins the background flush loop
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info("usage recorder started", "flush_interval", r.flushInterval)
}

// Stop flushes pending counters and waits for the loop to exit. Safe to call twice.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.logger.Info("usage recorder stopped")
	})
}

func (r *Recorder) RecordSessionStarted(tenantID uuid.UUID) {
	r.add(tenantID, FieldSessionsStarted, 1)
}

func (r *Recorder) RecordCaptureStored(tenantID uuid.UUID) {
	r.add(tenantID, FieldCapturesStored, 1)
}

func (r *Recorder) RecordFrame(tenantID uuid.UUID) {
	r.add(tenantID, FieldFramesProcessed, 1)
}

// add never blocks; when the buffer is full the increment is dropped
func (r *Recorder) add(tenantID uuid.UUID, field string, amount int64) {
	now := r.now().UTC()
	inc := increment{
		key: counterKey{
			tenantID: tenantID,
			date:     time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
			field:    field,
		},
		amount: amount,
	}

	select {
	case r.ch <- inc:
	default:
		r.logger.Debug("usage increment dropped - buffer full", "tenant_id", tenantID, "field", field)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	pending := make(map[counterKey]int64)

	for {
		select {
		case <-r.done:
			// Drain what is already buffered
			for {
				select {
				case inc := <-r.ch:
					pending[inc.key] += inc.amount
				default:
					r.flush(pending)
					return
				}
			}

		case inc := <-r.ch:
			pending[inc.key] += inc.amount

		case <-ticker.C:
			r.flush(pending)
			pending = make(map[counterKey]int64)
		}
	}
}

func (r *Recorder) flush(pending map[counterKey]int64) {
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed := 0
	for key, amount := range pending {
		if err := r.store.Increment(ctx, key.tenantID, key.date, key.field, amount); err != nil {
			failed++
			r.logger.Warn("failed to record usage",
				"tenant_id", key.tenantID,
				"field", key.field,
				"amount", amount,
				"error", err,
			)
		}
	}

	r.logger.Debug("usage flushed", "counters", len(pending), "failed", failed)
}
