package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/goleak"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
)

func TestJanitor_RunOnce(t *testing.T) {
	d := newTestDeps()
	repo := new(MockSessionRepository)
	svc := d.service(t, repo)

	repo.On("ExpireStale", mock.Anything, d.clock.Now()).Return([]*domain.LivenessSession(nil), nil).Once()

	cache := new(MockCleaner)
	cache.On("CleanupExpired", mock.Anything).Return(int64(0), errors.New("relation does not exist")).Once()
	limits := new(MockCleaner)
	limits.On("CleanupExpired", mock.Anything).Return(int64(12), nil).Once()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j := NewJanitor(svc, map[string]Cleaner{"cache": cache, "rate_limits": limits}, time.Minute, logger)

	j.RunOnce(context.Background())

	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
	limits.AssertExpectations(t)
}

func TestJanitor_ExpireFailureDoesNotSkipCleaners(t *testing.T) {
	d := newTestDeps()
	repo := new(MockSessionRepository)
	svc := d.service(t, repo)

	repo.On("ExpireStale", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	cache := new(MockCleaner)
	cache.On("CleanupExpired", mock.Anything).Return(int64(1), nil).Once()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	NewJanitor(svc, map[string]Cleaner{"cache": cache}, time.Minute, logger).RunOnce(context.Background())

	cache.AssertExpectations(t)
}

func TestJanitor_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newTestDeps()
	repo := new(MockSessionRepository)
	svc := d.service(t, repo)
	repo.On("ExpireStale", mock.Anything, mock.Anything).Return([]*domain.LivenessSession(nil), nil)

	cleaner := new(MockCleaner)
	ran := make(chan struct{}, 16)
	cleaner.On("CleanupExpired", mock.Anything).Return(int64(0), nil).Run(func(mock.Arguments) {
		select {
		case ran <- struct{}{}:
		default:
		}
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j := NewJanitor(svc, map[string]Cleaner{"cache": cleaner}, 10*time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}

	cleaner.AssertCalled(t, "CleanupExpired", mock.Anything)
}
