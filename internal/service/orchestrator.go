package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/metrics"
	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/internal/service/approval"
	"github.com/ifuryst/riposte/internal/service/feed"
	"github.com/ifuryst/riposte/internal/service/generator"
	"github.com/ifuryst/riposte/internal/service/scorer"
	"github.com/ifuryst/riposte/internal/store"
)

var ErrRunInProgress = errors.New("another run is in progress")

const runLockName = "orchestrator"

type PipelineStore interface {
	AcquireRunLock(ctx context.Context, name, holder, runID string, ttl time.Duration, now time.Time) error
	ReleaseRunLock(ctx context.Context, name, holder string) error
	CreateRun(ctx context.Context, run *models.Run) error
	SaveRun(ctx context.Context, run *models.Run) error
	SavePosts(ctx context.Context, posts []models.Post) (int, error)
	DraftedPostIDs(ctx context.Context, postIDs []string) (map[string]bool, error)
	AddWatchedAccount(ctx context.Context, account *models.WatchedAccount) (bool, error)
	ListWatchedAccounts(ctx context.Context) ([]models.WatchedAccount, error)
	MarkAccountChecked(ctx context.Context, handle string, at time.Time) error
}

type Selector interface {
	ScoreAndSelect(ctx context.Context, posts []models.Post, limit int) ([]scorer.Candidate, error)
}

type Submitter interface {
	Submit(ctx context.Context, sub approval.Submission) error
}

// PipelineSettings are the knobs of a single run.
type PipelineSettings struct {
	Keywords         []string
	Accounts         []config.AccountConfig
	TopK             int
	PerQueryLimit    int
	FetchConcurrency int
	FetchTimeout     time.Duration
	GenerateTimeout  time.Duration
	LockTTL          time.Duration
	// DryRun generates drafts and logs them without dispatching.
	DryRun bool
}

func PipelineSettingsFrom(cfg config.PipelineConfig) PipelineSettings {
	s := PipelineSettings{
		Keywords:         cfg.Keywords,
		Accounts:         cfg.Accounts,
		TopK:             cfg.TopK,
		PerQueryLimit:    cfg.PerQueryLimit,
		FetchConcurrency: cfg.FetchConcurrency,
		FetchTimeout:     config.Duration(cfg.FetchTimeout, 90*time.Second),
		GenerateTimeout:  config.Duration(cfg.GenerateTimeout, 60*time.Second),
		LockTTL:          config.Duration(cfg.RunLockTTL, time.Hour),
	}
	if s.TopK <= 0 {
		s.TopK = 10
	}
	if s.FetchConcurrency <= 0 {
		s.FetchConcurrency = 3
	}
	return s
}

// Orchestrator runs the discover, score, draft and submit pipeline once per call.
type Orchestrator struct {
	store     PipelineStore
	source    feed.Source
	selector  Selector
	generator generator.Generator
	submitter Submitter
	settings  PipelineSettings
	logger    *zap.Logger

	monitoring *MonitoringService
	metrics    *metrics.Collector
	holder     string
	now        func() time.Time
}

func NewOrchestrator(s PipelineStore, source feed.Source, selector Selector, gen generator.Generator, submitter Submitter, settings PipelineSettings, logger *zap.Logger) *Orchestrator {
	host, _ := os.Hostname()
	return &Orchestrator{
		store:     s,
		source:    source,
		selector:  selector,
		generator: gen,
		submitter: submitter,
		settings:  settings,
		logger:    logger,
		holder:    fmt.Sprintf("%s:%d", host, os.Getpid()),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) WithMonitoring(m *MonitoringService) *Orchestrator {
	o.monitoring = m
	return o
}

func (o *Orchestrator) WithMetrics(m *metrics.Collector) *Orchestrator {
	o.metrics = m
	return o
}

func (o *Orchestrator) WithHolder(holder string) *Orchestrator {
	o.holder = holder
	return o
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Run executes one pipeline pass. Failures of single queries or posts are counted on the
// returned Run and never abort it. A cancelled ctx stops after the current post and returns
// the Run with status cancelled together with the context error.
func (o *Orchestrator) Run(ctx context.Context) (*models.Run, error) {
	run := &models.Run{
		ID:        uuid.NewString(),
		Holder:    o.holder,
		Status:    models.RunRunning,
		StartedAt: o.now(),
	}

	if err := o.store.AcquireRunLock(ctx, runLockName, o.holder, run.ID, o.settings.LockTTL, run.StartedAt); err != nil {
		if errors.Is(err, store.ErrRunLocked) {
			return nil, fmt.Errorf("%w: %v", ErrRunInProgress, err)
		}
		return nil, err
	}
	defer func() {
		if err := o.store.ReleaseRunLock(context.WithoutCancel(ctx), runLockName, o.holder); err != nil {
			o.logger.Error("Failed to release run lock", zap.Error(err))
		}
	}()

	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	logger := o.logger.With(zap.String("run_id", run.ID))
	logger.Info("Run started", zap.String("holder", o.holder))

	err := o.execute(ctx, run, logger)
	o.finish(ctx, run, err, logger)
	return run, err
}

func (o *Orchestrator) execute(ctx context.Context, run *models.Run, logger *zap.Logger) error {
	queries := o.buildQueries(ctx, run.StartedAt, logger)
	run.Queries = len(queries)

	batches, failed := o.fetchAll(ctx, queries, logger)
	for _, batch := range batches {
		run.Fetched += len(batch)
	}
	run.FeedFailures = len(failed)
	if err := ctx.Err(); err != nil {
		return err
	}

	posts := dedupe(batches)
	run.UniquePosts = len(posts)
	if len(posts) > 0 {
		if _, err := o.store.SavePosts(ctx, posts); err != nil {
			return fmt.Errorf("failed to persist posts: %w", err)
		}
		ids := make([]string, len(posts))
		for i := range posts {
			ids[i] = posts[i].ID
		}
		drafted, err := o.store.DraftedPostIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to check drafted posts: %w", err)
		}
		run.AlreadyDrafted = len(drafted)
	}

	candidates, err := o.selector.ScoreAndSelect(ctx, posts, o.settings.TopK)
	if err != nil {
		return fmt.Errorf("failed to score posts: %w", err)
	}
	run.Selected = len(candidates)
	logger.Info("Candidates selected",
		zap.Int("fetched", run.Fetched),
		zap.Int("unique", run.UniquePosts),
		zap.Int("selected", run.Selected))

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.draft(ctx, run, &candidates[i], logger); err != nil {
			return err
		}
	}

	o.markAccountsChecked(ctx, queries, failed, run.StartedAt, logger)
	return nil
}

// draft generates and submits one candidate. Only cancellation is returned as an error.
func (o *Orchestrator) draft(ctx context.Context, run *models.Run, c *scorer.Candidate, logger *zap.Logger) error {
	post := c.Post
	log := logger.With(zap.String("post_id", post.ID), zap.Int("rank", c.Rank))

	genCtx, cancel := context.WithTimeout(ctx, o.settings.GenerateTimeout)
	pair, err := o.generator.Generate(genCtx, &post)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		run.GenerationFailures++
		o.stageFailed("generation")
		log.Warn("Draft generation failed", zap.Error(err))
		o.recordError(run, post.ID, "generator", "Draft generation failed", err)
		return nil
	}

	if o.settings.DryRun {
		log.Info("Dry run draft",
			zap.Float64("score", c.Score),
			zap.String("text_a", pair.A),
			zap.String("text_b", pair.B),
			zap.Strings("issues_a", pair.IssuesA),
			zap.Strings("issues_b", pair.IssuesB))
		return nil
	}

	err = o.submitter.Submit(ctx, approval.Submission{
		Draft: &models.Draft{
			PostID:      post.ID,
			RunID:       run.ID,
			TextA:       pair.A,
			TextB:       pair.B,
			Score:       c.Score,
			GeneratedAt: o.now(),
		},
		Post:    &post,
		IssuesA: pair.IssuesA,
		IssuesB: pair.IssuesB,
	})
	switch {
	case err == nil:
		run.Submitted++
		if o.metrics != nil {
			o.metrics.DraftsSubmitted.Inc()
		}
	case errors.Is(err, store.ErrDraftExists):
		run.AlreadyDrafted++
		log.Info("Post already has a draft")
	default:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		run.DispatchFailures++
		o.stageFailed("dispatch")
		log.Warn("Draft submission failed", zap.Error(err))
		o.recordError(run, post.ID, "approval", "Draft submission failed", err)
	}
	return nil
}

func (o *Orchestrator) buildQueries(ctx context.Context, now time.Time, logger *zap.Logger) []feed.Query {
	queries := make([]feed.Query, 0, len(o.settings.Keywords))
	for _, kw := range o.settings.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			queries = append(queries, feed.Query{Kind: feed.QueryTopic, Term: kw, Limit: o.settings.PerQueryLimit})
		}
	}

	for _, a := range o.settings.Accounts {
		_, err := o.store.AddWatchedAccount(ctx, &models.WatchedAccount{
			Handle:          a.Handle,
			Priority:        a.Priority,
			CheckEveryHours: a.CheckEveryHours,
		})
		if err != nil {
			logger.Warn("Failed to register configured account", zap.String("handle", a.Handle), zap.Error(err))
		}
	}

	accounts, err := o.store.ListWatchedAccounts(ctx)
	if err != nil {
		logger.Warn("Failed to list watched accounts, continuing with keywords only", zap.Error(err))
		return queries
	}
	for i := range accounts {
		a := &accounts[i]
		if !a.Due(now) {
			continue
		}
		queries = append(queries, feed.Query{
			Kind:  feed.QueryAccount,
			Term:  a.Handle,
			Limit: o.settings.PerQueryLimit,
			Boost: a.PriorityBoost(),
		})
	}
	return queries
}

// fetchAll runs every query with bounded concurrency. Batches come back in query order; failed
// holds the indexes of queries whose source was unavailable.
func (o *Orchestrator) fetchAll(ctx context.Context, queries []feed.Query, logger *zap.Logger) ([][]models.Post, map[int]bool) {
	batches := make([][]models.Post, len(queries))
	errs := make([]error, len(queries))

	var g errgroup.Group
	g.SetLimit(o.settings.FetchConcurrency)
	for i, q := range queries {
		g.Go(func() error {
			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return nil
			}
			fetchCtx, cancel := context.WithTimeout(ctx, o.settings.FetchTimeout)
			defer cancel()

			posts, err := o.source.Fetch(fetchCtx, q)
			if err != nil {
				errs[i] = err
				return nil
			}
			batches[i] = posts
			return nil
		})
	}
	_ = g.Wait()

	failed := map[int]bool{}
	for i, err := range errs {
		if err == nil {
			if o.metrics != nil {
				o.metrics.PostsFetched.Add(float64(len(batches[i])))
			}
			continue
		}
		failed[i] = true
		if o.metrics != nil {
			o.metrics.FeedFailures.Inc()
		}
		logger.Warn("Feed query failed", zap.String("query", queries[i].String()), zap.Error(err))
	}
	return batches, failed
}

// dedupe keeps the first occurrence of each post, merging the queries that matched it and
// keeping the highest priority boost.
func dedupe(batches [][]models.Post) []models.Post {
	index := map[string]int{}
	var out []models.Post
	for _, batch := range batches {
		for _, p := range batch {
			if p.ID == "" {
				continue
			}
			i, seen := index[p.ID]
			if !seen {
				p.Queries = append(models.StringArray(nil), p.Queries...)
				index[p.ID] = len(out)
				out = append(out, p)
				continue
			}
			first := &out[i]
			for _, q := range p.Queries {
				if !first.Queries.Contains(q) {
					first.Queries = append(first.Queries, q)
				}
			}
			if p.PriorityBoost > first.PriorityBoost {
				first.PriorityBoost = p.PriorityBoost
			}
		}
	}
	return out
}

func (o *Orchestrator) markAccountsChecked(ctx context.Context, queries []feed.Query, failed map[int]bool, at time.Time, logger *zap.Logger) {
	for i, q := range queries {
		if q.Kind != feed.QueryAccount || failed[i] {
			continue
		}
		if err := o.store.MarkAccountChecked(ctx, q.Term, at); err != nil {
			logger.Warn("Failed to mark account checked", zap.String("handle", q.Term), zap.Error(err))
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, run *models.Run, err error, logger *zap.Logger) {
	finished := o.now()
	run.FinishedAt = &finished
	switch {
	case err == nil:
		run.Status = models.RunCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		run.Status = models.RunCancelled
		run.Error = err.Error()
	default:
		run.Status = models.RunFailed
		run.Error = err.Error()
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := o.store.SaveRun(persistCtx, run); err != nil {
		logger.Error("Failed to save run", zap.Error(err))
	}
	if o.monitoring != nil {
		if err := o.monitoring.RecordRunMetrics(run); err != nil {
			logger.Warn("Failed to record run metrics", zap.Error(err))
		}
		if run.Status == models.RunFailed {
			_ = o.monitoring.RecordError("ERROR", "orchestrator", "Run failed", run.Error, WithRun(run.ID))
		}
	}
	if o.metrics != nil {
		o.metrics.RunsTotal.WithLabelValues(run.Status).Inc()
		o.metrics.RunDuration.Observe(finished.Sub(run.StartedAt).Seconds())
	}

	logger.Info("Run finished",
		zap.String("status", run.Status),
		zap.Int("queries", run.Queries),
		zap.Int("feed_failures", run.FeedFailures),
		zap.Int("fetched", run.Fetched),
		zap.Int("unique", run.UniquePosts),
		zap.Int("selected", run.Selected),
		zap.Int("submitted", run.Submitted),
		zap.Int("generation_failures", run.GenerationFailures),
		zap.Int("dispatch_failures", run.DispatchFailures),
		zap.Int("already_drafted", run.AlreadyDrafted),
		zap.Duration("duration", finished.Sub(run.StartedAt)))
}

func (o *Orchestrator) stageFailed(stage string) {
	if o.metrics != nil {
		o.metrics.StageFailures.WithLabelValues(stage).Inc()
	}
}

func (o *Orchestrator) recordError(run *models.Run, postID, source, title string, err error) {
	if o.monitoring == nil {
		return
	}
	if rerr := o.monitoring.RecordError("WARN", source, title, err.Error(), WithRun(run.ID), WithPost(postID)); rerr != nil {
		o.logger.Warn("Failed to record error", zap.Error(rerr))
	}
}
