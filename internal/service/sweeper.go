package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/metrics"
)

type Expirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper periodically expires stale drafts, refreshes today's stats and prunes old data.
type Sweeper struct {
	expirer       Expirer
	monitoring    *MonitoringService
	metrics       *metrics.Collector
	logger        *zap.Logger
	expireAfter   time.Duration
	retentionDays int
	ticker        *time.Ticker
	done          chan bool
}

func NewSweeper(expirer Expirer, monitoring *MonitoringService, logger *zap.Logger, interval, expireAfter time.Duration, retentionDays int) *Sweeper {
	return &Sweeper{
		expirer:       expirer,
		monitoring:    monitoring,
		logger:        logger,
		expireAfter:   expireAfter,
		retentionDays: retentionDays,
		ticker:        time.NewTicker(interval),
		done:          make(chan bool),
	}
}

func (s *Sweeper) WithMetrics(m *metrics.Collector) *Sweeper {
	s.metrics = m
	return s
}

// Start begins the periodic sweep.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		s.logger.Info("Starting sweeper", zap.Duration("expire_after", s.expireAfter))
		for {
			select {
			case <-s.done:
				s.logger.Info("Sweeper stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Sweeper stopped due to context cancellation")
				return
			case <-s.ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.logger.Error("Sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	s.ticker.Stop()
	close(s.done)
}

// Sweep runs one pass and returns how many drafts were expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.logger.Debug("Sweeping drafts")

	expired, err := s.expirer.ExpireStale(ctx, s.expireAfter)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.DraftsExpired.Add(float64(expired))
	}

	if s.monitoring != nil {
		if _, err := s.monitoring.Today(ctx); err != nil {
			s.logger.Error("Failed to update daily stats", zap.Error(err))
		}
		if s.retentionDays > 0 {
			if err := s.monitoring.CleanupOldData(s.retentionDays); err != nil {
				s.logger.Error("Failed to cleanup old data", zap.Error(err))
			}
		}
	}

	s.logger.Debug("Sweep completed", zap.Int("expired", expired))
	return expired, nil
}
