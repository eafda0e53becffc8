package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LastUsedStore persists when API keys were last used
type LastUsedStore interface {
	TouchLastUsed(ctx context.Context, uses map[uuid.UUID]time.Time) (int64, error)
}

type keyUse struct {
	id uuid.UUID
	at time.Time
}

// LastUsedWorker grava last_used_at fora do caminho da requisição.
// Publishable keys authenticate every frame of a challenge, so uses are
// debounced per key and written in one batched statement.
type LastUsedWorker struct {
	store  LastUsedStore
	logger *slog.Logger
	uses   chan keyUse
	now    func() time.Time

	debounce      time.Duration
	flushInterval time.Duration

	mu       sync.Mutex
	lastSent map[uuid.UUID]time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// LastUsedWorkerConfig holds configuration for the worker
type LastUsedWorkerConfig struct {
	BufferSize       int           // default 1000
	DebounceInterval time.Duration // min interval between writes for one key, default 1 minute
	FlushInterval    time.Duration // default 5 seconds
}

// DefaultLastUsedWorkerConfig returns default configuration
func DefaultLastUsedWorkerConfig() LastUsedWorkerConfig {
	return LastUsedWorkerConfig{
		BufferSize:       1000,
		DebounceInterval: time.Minute,
		FlushInterval:    5 * time.Second,
	}
}

func NewLastUsedWorker(store LastUsedStore, logger *slog.Logger, config LastUsedWorkerConfig) *LastUsedWorker {
	defaults := DefaultLastUsedWorkerConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}

	return &LastUsedWorker{
		store:         store,
		logger:        logger.With("component", "last_used_worker"),
		uses:          make(chan keyUse, config.BufferSize),
		now:           time.Now,
		debounce:      config.DebounceInterval,
		flushInterval: config.FlushInterval,
		lastSent:      make(map[uuid.UUID]time.Time),
		done:          make(chan struct{}),
	}
}

func (w *LastUsedWorker) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.Info("last used worker started",
		"debounce", w.debounce,
		"flush_interval", w.flushInterval,
	)
}

// Stop writes pending uses and waits for the loop to exit. Safe to call twice.
func (w *LastUsedWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		w.logger.Info("last used worker stopped")
	})
}

// Enqueue records a use of keyID. Never blocks; a use dropped on a full
// buffer is retried by the next request with the same key.
func (w *LastUsedWorker) Enqueue(keyID uuid.UUID) {
	now := w.now()

	w.mu.Lock()
	if last, ok := w.lastSent[keyID]; ok && now.Sub(last) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.lastSent[keyID] = now
	w.mu.Unlock()

	select {
	case w.uses <- keyUse{id: keyID, at: now}:
	default:
		w.mu.Lock()
		delete(w.lastSent, keyID)
		w.mu.Unlock()
		w.logger.Debug("last used update dropped - buffer full", "key_id", keyID)
	}
}

func (w *LastUsedWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	pending := make(map[uuid.UUID]time.Time)
	add := func(u keyUse) {
		if u.at.After(pending[u.id]) {
			pending[u.id] = u.at
		}
	}

	for {
		select {
		case <-w.done:
			for {
				select {
				case u := <-w.uses:
					add(u)
				default:
					w.flush(pending)
					return
				}
			}

		case u := <-w.uses:
			add(u)

		case <-ticker.C:
			w.flush(pending)
			pending = make(map[uuid.UUID]time.Time)
			w.forgetOlderThan(2 * w.debounce)
		}
	}
}

func (w *LastUsedWorker) flush(pending map[uuid.UUID]time.Time) {
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updated, err := w.store.TouchLastUsed(ctx, pending)
	if err != nil {
		w.logger.Error("failed to update last used", "keys", len(pending), "error", err)
		return
	}
	w.logger.Debug("last used flushed", "keys", len(pending), "updated", updated)
}

// forgetOlderThan keeps the debounce map bounded by the set of active keys
func (w *LastUsedWorker) forgetOlderThan(age time.Duration) {
	cutoff := w.now().Add(-age)

	w.mu.Lock()
	defer w.mu.Unlock()

	for id, at := range w.lastSent {
		if at.Before(cutoff) {
			delete(w.lastSent, id)
		}
	}
}
