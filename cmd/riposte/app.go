package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/metrics"
	"github.com/ifuryst/riposte/internal/service"
	"github.com/ifuryst/riposte/internal/service/approval"
	"github.com/ifuryst/riposte/internal/service/channel"
	"github.com/ifuryst/riposte/internal/service/feed"
	"github.com/ifuryst/riposte/internal/service/generator"
	"github.com/ifuryst/riposte/internal/service/poster"
	"github.com/ifuryst/riposte/internal/service/scorer"
	"github.com/ifuryst/riposte/internal/store"
	"github.com/ifuryst/riposte/pkg/logger"
)

// app holds the services shared by every command.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       *store.Store
	telegram    *channel.Telegram
	coordinator *approval.Coordinator
	monitoring  *service.MonitoringService
	metrics     *metrics.Collector
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s := store.New(db)

	telegram := channel.NewTelegram(cfg.Telegram, appLogger.Named("telegram"))
	coordinator := approval.NewCoordinator(s, telegram,
		config.Duration(cfg.Pipeline.DispatchTimeout, 15*time.Second), appLogger.Named("approval"))

	return &app{
		cfg:         cfg,
		logger:      appLogger,
		store:       s,
		telegram:    telegram,
		coordinator: coordinator,
		monitoring:  service.NewMonitoringService(db, appLogger.Named("monitoring")),
		metrics:     metrics.NewCollector(version),
	}, nil
}

func (a *app) orchestrator(dryRun bool) (*service.Orchestrator, error) {
	provider, err := generator.NewProvider(a.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm provider: %w", err)
	}

	settings := service.PipelineSettingsFrom(a.cfg.Pipeline)
	settings.DryRun = dryRun

	return service.NewOrchestrator(
		a.store,
		feed.NewHTTPSource(a.cfg.Feed),
		scorer.New(scorer.ConfigFrom(a.cfg.Scoring), a.store),
		generator.NewLLMGenerator(provider, a.cfg.LLM, a.logger.Named("generator")),
		a.coordinator,
		settings,
		a.logger.Named("orchestrator"),
	).WithMonitoring(a.monitoring).WithMetrics(a.metrics), nil
}

func (a *app) poster() (*poster.Poster, error) {
	platform, err := poster.NewPlatform(a.cfg.Platform, a.logger.Named("platform"))
	if err != nil {
		return nil, err
	}
	return poster.New(a.store, platform, poster.ConfigFrom(a.cfg.Poster), a.logger.Named("poster")).
		WithNotifier(a.telegram).
		WithErrorRecorder(a.monitoring).
		WithMetrics(a.metrics), nil
}

func (a *app) sweeper() *service.Sweeper {
	return service.NewSweeper(a.coordinator, a.monitoring, a.logger.Named("sweeper"),
		config.Duration(a.cfg.Approval.SweepInterval, 15*time.Minute),
		a.expireAfter(),
		a.cfg.Approval.RetentionDays,
	).WithMetrics(a.metrics)
}

func (a *app) expireAfter() time.Duration {
	return config.Duration(a.cfg.Approval.ExpireAfter, 24*time.Hour)
}

func (a *app) close() {
	if db, err := a.store.DB().DB(); err == nil {
		_ = db.Close()
	}
	_ = a.logger.Sync()
}
