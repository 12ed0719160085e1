package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/riposte/internal/server"
	"github.com/ifuryst/riposte/internal/service"
	"github.com/ifuryst/riposte/internal/service/channel"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "riposte",
	Short: "Riposte - reply drafting with human approval",
	Long: `Riposte finds high-engagement posts on the topics and accounts you follow, drafts two
candidate replies for each, and posts the one you approve from Telegram.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Riposte %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once, or on the scheduler interval with --loop",
	RunE:  runPipeline,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen for approval decisions and serve the HTTP API",
	RunE:  runListener,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print today's stats",
	RunE:  runReport,
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire drafts that waited too long for a decision",
	RunE:  runExpire,
}

var totpCmd = &cobra.Command{
	Use:   "totp-secret",
	Short: "Generate a TOTP secret for the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, url, err := service.NewAuthService(zap.NewNop(), "").GenerateSecret("admin")
		if err != nil {
			return err
		}
		fmt.Printf("Secret: %s\nURL: %s\n", secret, url)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/riposte.yaml", "config file path")

	runCmd.Flags().Bool("loop", false, "keep running on the scheduler interval")
	runCmd.Flags().Bool("dry-run", false, "generate drafts and log them without sending")
	reportCmd.Flags().Bool("send", false, "also send the report to the approval chat")

	rootCmd.AddCommand(versionCmd, runCmd, listenCmd, reportCmd, expireCmd, totpCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	loop, _ := cmd.Flags().GetBool("loop")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := a.orchestrator(dryRun)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	if !loop {
		run, err := orch.Run(ctx)
		if run != nil {
			fmt.Printf("Run %s %s: %d fetched, %d unique, %d selected, %d submitted\n",
				run.ID, run.Status, run.Fetched, run.UniquePosts, run.Selected, run.Submitted)
		}
		return err
	}

	scheduler := service.NewScheduler(&a.cfg.Scheduler, orch, a.logger.Named("scheduler")).Enable()
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	scheduler.Wait()
	a.logger.Info("Scheduler exited")
	return nil
}

func runListener(*cobra.Command, []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("Starting Riposte listener", zap.String("version", version), zap.String("mode", a.cfg.Telegram.Mode))

	p, err := a.poster()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	listener := service.NewListener(a.coordinator, p, a.telegram, a.store, a.monitoring,
		a.cfg.Approval.Workers, a.logger.Named("listener")).WithMetrics(a.metrics)
	listener.Start(ctx)
	defer listener.Stop()

	// approvals whose publish was interrupted by a restart
	if n, err := p.ResumeApproved(ctx); err != nil {
		a.logger.Error("Failed to resume approved drafts", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("Resumed approved drafts", zap.Int("count", n))
	}

	sweeper := a.sweeper()
	sweeper.Start(ctx)
	defer sweeper.Stop()

	var scheduler *service.Scheduler
	if a.cfg.Scheduler.Enabled {
		orch, err := a.orchestrator(false)
		if err != nil {
			return err
		}
		scheduler = service.NewScheduler(&a.cfg.Scheduler, orch, a.logger.Named("scheduler"))
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	srv := server.NewServer(a.cfg, server.Deps{
		Store:      a.store,
		Listener:   listener,
		Sweeper:    sweeper,
		Monitoring: a.monitoring,
		Auth:       service.NewAuthService(a.logger.Named("auth"), a.cfg.Auth.TOTPSecret),
		Metrics:    a.metrics,
		ChatID:     a.telegram.ChatID(),
	}, a.logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(context.Background())
	})

	switch a.cfg.Telegram.Mode {
	case "webhook":
		base := strings.TrimRight(a.cfg.Telegram.WebhookURL, "/")
		if base == "" || a.cfg.Telegram.WebhookSecret == "" {
			stop()
			_ = g.Wait()
			return errors.New("webhook mode needs telegram.webhook_url and telegram.webhook_secret")
		}
		hook := base + "/telegram/webhook/" + a.cfg.Telegram.WebhookSecret
		if err := a.telegram.SetWebhook(ctx, hook, a.cfg.Telegram.WebhookSecret); err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("failed to register webhook: %w", err)
		}
		a.logger.Info("Webhook registered", zap.String("url", base+"/telegram/webhook/***"))
	default:
		poller := channel.NewPoller(a.telegram, a.logger.Named("poller"))
		g.Go(func() error {
			err := poller.Run(gctx, listener.Handle)
			if errors.Is(err, channel.ErrNotConfigured) {
				a.logger.Warn("Telegram is not configured, polling disabled")
				return nil
			}
			return err
		})
	}

	err = g.Wait()
	a.logger.Info("Listener exited")
	return err
}

func runReport(cmd *cobra.Command, _ []string) error {
	send, _ := cmd.Flags().GetBool("send")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	stats, err := a.monitoring.Today(ctx)
	if err != nil {
		return err
	}
	fmt.Println(service.FormatReport(stats, false))

	if send {
		if err := a.telegram.Notify(ctx, service.FormatReport(stats, true)); err != nil {
			return fmt.Errorf("failed to send report: %w", err)
		}
	}
	return nil
}

func runExpire(*cobra.Command, []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	n, err := a.coordinator.ExpireStale(ctx, a.expireAfter())
	if err != nil {
		return err
	}
	a.metrics.DraftsExpired.Add(float64(n))
	fmt.Printf("Expired %d drafts\n", n)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
