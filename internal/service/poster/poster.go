// Package poster publishes approved drafts and records the outcome.
package poster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/metrics"
	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/internal/store"
	"github.com/ifuryst/riposte/pkg/util"
)

var ErrNotApproved = errors.New("draft is not approved")

type Store interface {
	GetDraft(ctx context.Context, id string) (*models.Draft, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	GetPostResult(ctx context.Context, draftID string) (*models.PostResult, error)
	ListApproved(ctx context.Context) ([]models.Draft, error)
	Transition(ctx context.Context, draftID string, from, to models.DraftStatus, at time.Time, fields map[string]interface{}, record interface{}) (bool, error)
}

// Notifier tells the operator about something that needs attention.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// ErrorRecorder persists operator-facing failure records.
type ErrorRecorder interface {
	RecordDraftError(source string, draft *models.Draft, title, message string) error
}

type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func ConfigFrom(cfg config.PosterConfig) Config {
	c := Config{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      config.Duration(cfg.BaseDelay, 2*time.Second),
		MaxDelay:       config.Duration(cfg.MaxDelay, time.Minute),
		AttemptTimeout: config.Duration(cfg.AttemptTimeout, 30*time.Second),
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

type Poster struct {
	store    Store
	platform Platform
	cfg      Config
	logger   *zap.Logger

	notifier Notifier
	recorder ErrorRecorder
	metrics  *metrics.Collector
	now      func() time.Time
}

func New(s Store, platform Platform, cfg Config, logger *zap.Logger) *Poster {
	return &Poster{
		store:    s,
		platform: platform,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Poster) WithNotifier(n Notifier) *Poster {
	p.notifier = n
	return p
}

func (p *Poster) WithErrorRecorder(r ErrorRecorder) *Poster {
	p.recorder = r
	return p
}

func (p *Poster) WithMetrics(m *metrics.Collector) *Poster {
	p.metrics = m
	return p
}

func (p *Poster) WithClock(now func() time.Time) *Poster {
	p.now = now
	return p
}

func (p *Poster) retryPolicy() retrypolicy.RetryPolicy[string] {
	return retrypolicy.NewBuilder[string]().
		WithBackoff(p.cfg.BaseDelay, p.cfg.MaxDelay).
		WithMaxRetries(p.cfg.MaxAttempts - 1).
		WithJitterFactor(0.1).
		HandleIf(func(_ string, err error) bool {
			return err != nil && Classify(err).Category.Retryable()
		}).
		Build()
}

// Publish posts the approved text of a draft. A draft that already reached posted or failed
// returns its stored result without touching the platform. A failed publish is a recorded
// outcome, not an error: inspect result.Success.
//
// A duplicate rejection that follows a network failure means the earlier attempt most likely
// landed, so the draft is recorded as posted without a platform id.
func (p *Poster) Publish(ctx context.Context, draftID string) (*models.PostResult, error) {
	draft, err := p.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft %s: %w", draftID, err)
	}

	switch {
	case draft.Status == models.DraftPosted || draft.Status == models.DraftFailed:
		return p.store.GetPostResult(ctx, draftID)
	case !draft.Status.Approved():
		return nil, fmt.Errorf("%w: draft %s is %s", ErrNotApproved, draftID, draft.Status)
	}

	post := draft.Post
	if post == nil {
		if post, err = p.store.GetPost(ctx, draft.PostID); err != nil {
			return nil, fmt.Errorf("failed to load post %s: %w", draft.PostID, err)
		}
	}
	text := draft.ApprovedText()

	var (
		attempts  int
		lastErr   error
		uncertain bool
		duplicate bool
	)
	platformID, err := failsafe.With[string](p.retryPolicy()).WithContext(ctx).Get(func() (string, error) {
		attempts++
		if p.metrics != nil {
			p.metrics.PublishAttempts.Inc()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()

		id, err := p.platform.Publish(attemptCtx, post, text)
		if err != nil && uncertain && IsDuplicate(err) {
			duplicate = true
			p.logger.Warn("Duplicate rejection after a network failure, treating reply as published",
				zap.String("draft_id", draftID),
				zap.Int("attempt", attempts))
			return "", nil
		}
		if err != nil {
			if Classify(err).Category == CategoryNetwork {
				uncertain = true
			}
			lastErr = err
			p.logger.Warn("Publish attempt failed",
				zap.String("draft_id", draftID),
				zap.Int("attempt", attempts),
				zap.Error(err))
		}
		return id, err
	})

	if err != nil && ctx.Err() != nil {
		// shutting down; the draft stays approved and is resumed on the next start
		return nil, ctx.Err()
	}

	result := &models.PostResult{
		DraftID:       draftID,
		PublishedText: text,
		Attempts:      attempts,
		CreatedAt:     p.now(),
	}
	next := models.DraftPosted
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		classified := Classify(lastErr)
		result.ErrorCategory = string(classified.Category)
		result.ErrorMessage = classified.Error()
		next = models.DraftFailed
	} else {
		result.Success = true
		result.PlatformPostID = platformID
		if duplicate {
			result.ErrorMessage = "rejected as duplicate after a network failure; the earlier attempt is likely live"
		}
	}

	applied, err := p.store.Transition(ctx, draftID, draft.Status, next, result.CreatedAt, nil, result)
	if err != nil {
		return nil, err
	}
	if !applied {
		// another publisher settled this draft first
		return p.store.GetPostResult(ctx, draftID)
	}

	if p.metrics != nil {
		p.metrics.ObservePublish(result.Success, result.ErrorCategory)
	}

	if result.Success {
		p.logger.Info("Reply published",
			zap.String("draft_id", draftID),
			zap.String("post_id", draft.PostID),
			zap.String("platform_post_id", result.PlatformPostID),
			zap.Int("attempts", attempts))
		return result, nil
	}

	p.logger.Error("Reply failed",
		zap.String("draft_id", draftID),
		zap.String("post_id", draft.PostID),
		zap.String("category", result.ErrorCategory),
		zap.Int("attempts", attempts),
		zap.String("error", result.ErrorMessage))
	p.reportFailure(ctx, draft, result)
	return result, nil
}

func (p *Poster) reportFailure(ctx context.Context, draft *models.Draft, result *models.PostResult) {
	if p.recorder != nil {
		title := fmt.Sprintf("Publish failed (%s)", result.ErrorCategory)
		if err := p.recorder.RecordDraftError("poster", draft, title, result.ErrorMessage); err != nil {
			p.logger.Error("Failed to record publish error", zap.Error(err))
		}
	}
	if p.notifier != nil {
		msg := fmt.Sprintf("⚠️ <b>Reply failed</b> (%s after %d attempts)\n%s",
			util.EscapeHTML(result.ErrorCategory),
			result.Attempts,
			util.EscapeHTML(util.Truncate(result.ErrorMessage, 300)))
		if draft.Post != nil && draft.Post.URL != "" {
			msg += "\n" + util.EscapeHTML(draft.Post.URL)
		}
		if err := p.notifier.Notify(context.WithoutCancel(ctx), msg); err != nil {
			p.logger.Warn("Failed to notify operator", zap.Error(err))
		}
	}
}

// ResumeApproved publishes drafts a previous process approved but never published.
func (p *Poster) ResumeApproved(ctx context.Context) (int, error) {
	drafts, err := p.store.ListApproved(ctx)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, d := range drafts {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		result, err := p.Publish(ctx, d.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrNotApproved) {
				continue
			}
			return published, err
		}
		if result.Success {
			published++
		}
	}
	if len(drafts) > 0 {
		p.logger.Info("Resumed approved drafts", zap.Int("found", len(drafts)), zap.Int("published", published))
	}
	return published, nil
}
