package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"logistics-auth/internal/metrics"
)

const (
	tokenCleanupJob     = "refresh-token-cleanup"
	tokenCleanupTimeout = time.Minute
)

type tokenCleaner interface {
	CleanExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs housekeeping in the background. Each job runs at most once
// at a time.
type Scheduler struct {
	scheduler gocron.Scheduler
	tokens    tokenCleaner
	grace     time.Duration
	now       func() time.Time
}

// NewScheduler registers the refresh-token cleanup every interval. Records
// are only deleted once they have been expired for longer than grace.
func NewScheduler(tokens tokenCleaner, interval time.Duration, grace time.Duration) (*Scheduler, error) {
	if tokens == nil {
		return nil, errors.New("jobs: token cleaner is required")
	}
	if interval <= 0 {
		return nil, errors.New("jobs: cleanup interval must be positive")
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: scheduler,
		tokens:    tokens,
		grace:     grace,
		now:       func() time.Time { return time.Now().UTC() },
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.cleanExpiredTokens),
		gocron.WithName(tokenCleanupJob),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("register %s: %w", tokenCleanupJob, err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	slog.Info("starting background jobs", "jobs", len(s.scheduler.Jobs()))
	s.scheduler.Start()
}

func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) cleanExpiredTokens() error {
	ctx, cancel := context.WithTimeout(context.Background(), tokenCleanupTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.grace)
	deleted, err := s.tokens.CleanExpired(ctx, cutoff)
	if err != nil {
		slog.Error("refresh token cleanup failed", "error", err)
		return err
	}

	metrics.ExpiredTokensDeletedTotal.Add(float64(deleted))
	if deleted > 0 {
		slog.Info("expired refresh tokens deleted", "count", deleted, "cutoff", cutoff)
	}
	return nil
}
