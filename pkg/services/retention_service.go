package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultRetentionDays is the default retention period for query history.
const DefaultRetentionDays = 30

// RetentionService removes old history entries.
type RetentionService interface {
	// Prune removes entries older than days (DefaultRetentionDays when not
	// positive) and returns how many were deleted.
	Prune(ctx context.Context, days int) (int64, error)

	// RunScheduler prunes immediately, then on every interval tick, until ctx
	// is cancelled. It blocks; run it in its own goroutine.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type retentionService struct {
	history       HistoryService
	days          int
	keepFavorites bool
	logger        *zap.Logger
}

// NewRetentionService prunes through history. days is the period the
// scheduler uses; favorites survive pruning when keepFavorites is set.
func NewRetentionService(history HistoryService, days int, keepFavorites bool, logger *zap.Logger) RetentionService {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return &retentionService{
		history:       history,
		days:          days,
		keepFavorites: keepFavorites,
		logger:        logger.Named("retention-service"),
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) Prune(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	deleted, err := s.history.DeleteOlderThan(ctx, days, s.keepFavorites)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("Retention cleanup completed",
			zap.Int("retention_days", days),
			zap.Bool("keep_favorites", s.keepFavorites),
			zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (s *retentionService) RunScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("Retention scheduler started",
		zap.Duration("interval", interval),
		zap.Int("retention_days", s.days))

	s.pruneOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention scheduler stopped")
			return
		case <-ticker.C:
			s.pruneOnce(ctx)
		}
	}
}

func (s *retentionService) pruneOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Prune(ctx, s.days); err != nil {
		s.logger.Error("Retention scheduler: failed to prune history", zap.Error(err))
	}
}
