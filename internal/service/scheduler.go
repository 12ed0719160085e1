package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/models"
)

type Runner interface {
	Run(ctx context.Context) (*models.Run, error)
}

// Scheduler runs the pipeline once on start and then on every interval tick.
type Scheduler struct {
	interval time.Duration
	enabled  bool
	runner   Runner
	logger   *zap.Logger

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(cfg *config.SchedulerConfig, runner Runner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		interval: config.Duration(cfg.Interval, 2*time.Hour),
		enabled:  cfg.Enabled,
		runner:   runner,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval overrides the configured interval.
func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Enable turns the scheduler on regardless of the config flag.
func (s *Scheduler) Enable() *Scheduler {
	s.enabled = true
	return s
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	s.logger.Info("Starting scheduler", zap.Duration("interval", s.interval))
	s.ticker = time.NewTicker(s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.logger.Info("Running initial pipeline run")
		s.runOnce(ctx)

		for {
			select {
			case <-s.ticker.C:
				s.logger.Info("Running scheduled pipeline run")
				s.runOnce(ctx)
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Scheduler shutdown completed")
}

// Wait blocks until the scheduler loop exits.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	run, err := s.runner.Run(ctx)
	duration := time.Since(start)

	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("Skipping tick, another run holds the lock", zap.Error(err))
	case errors.Is(err, context.Canceled):
		s.logger.Info("Pipeline run cancelled", zap.Duration("duration", duration))
	case err != nil:
		s.logger.Error("Pipeline run failed",
			zap.Error(err),
			zap.Duration("duration", duration))
	default:
		s.logger.Info("Pipeline run completed",
			zap.String("run_id", run.ID),
			zap.Int("submitted", run.Submitted),
			zap.Duration("duration", duration))
	}
}
