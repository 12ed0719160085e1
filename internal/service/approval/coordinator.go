// Package approval owns the lifecycle of a draft between generation and posting.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/internal/store"
)

var (
	ErrChannelUnavailable = errors.New("approval channel unavailable")
	ErrUnknownDraft       = errors.New("unknown draft")
	ErrInvalidDecision    = errors.New("invalid decision")
)

// DispatchRequest is everything the approver needs to judge a draft.
type DispatchRequest struct {
	DraftID string
	Post    models.Post
	TextA   string
	TextB   string
	IssuesA []string
	IssuesB []string
	Score   float64
}

// Channel delivers drafts to the human approver.
type Channel interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

type Store interface {
	CreateDraft(ctx context.Context, draft *models.Draft) error
	DeleteUndispatched(ctx context.Context, id string) error
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	GetDraft(ctx context.Context, id string) (*models.Draft, error)
	Transition(ctx context.Context, draftID string, from, to models.DraftStatus, at time.Time, fields map[string]interface{}, record interface{}) (bool, error)
	ExpirePending(ctx context.Context, cutoff, now time.Time) (int, error)
}

// Submission is a freshly generated draft together with the context shown to the approver.
type Submission struct {
	Draft   *models.Draft
	Post    *models.Post
	IssuesA []string
	IssuesB []string
}

type DecisionResult struct {
	Draft   *models.Draft
	Applied bool
}

type Coordinator struct {
	store           Store
	channel         Channel
	dispatchTimeout time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

func NewCoordinator(s Store, channel Channel, dispatchTimeout time.Duration, logger *zap.Logger) *Coordinator {
	if dispatchTimeout <= 0 {
		dispatchTimeout = 15 * time.Second
	}
	return &Coordinator{
		store:           s,
		channel:         channel,
		dispatchTimeout: dispatchTimeout,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Submit stores the draft as pending and sends it to the approver. When the channel cannot take
// it the row is removed again, so the post stays eligible for the next run.
func (c *Coordinator) Submit(ctx context.Context, sub Submission) error {
	draft := sub.Draft
	if draft == nil || sub.Post == nil {
		return errors.New("submission needs a draft and its post")
	}
	if strings.TrimSpace(draft.TextA) == "" || strings.TrimSpace(draft.TextB) == "" {
		return errors.New("draft needs both options")
	}
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	if draft.PostID == "" {
		draft.PostID = sub.Post.ID
	}
	if draft.GeneratedAt.IsZero() {
		draft.GeneratedAt = c.now()
	}

	if err := c.store.CreateDraft(ctx, draft); err != nil {
		return err
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, c.dispatchTimeout)
	err := c.channel.Dispatch(dispatchCtx, DispatchRequest{
		DraftID: draft.ID,
		Post:    *sub.Post,
		TextA:   draft.TextA,
		TextB:   draft.TextB,
		IssuesA: sub.IssuesA,
		IssuesB: sub.IssuesB,
		Score:   draft.Score,
	})
	cancel()
	if err != nil {
		// the caller's ctx may already be done; the cleanup must still run
		if delErr := c.store.DeleteUndispatched(context.WithoutCancel(ctx), draft.ID); delErr != nil {
			c.logger.Error("Failed to remove undelivered draft",
				zap.String("draft_id", draft.ID),
				zap.Error(delErr))
		}
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	now := c.now()
	if err := c.store.MarkDispatched(ctx, draft.ID, now); err != nil {
		// the approver already has the card; the sweep ages it from GeneratedAt instead
		c.logger.Warn("Failed to stamp dispatch time", zap.String("draft_id", draft.ID), zap.Error(err))
		return nil
	}
	draft.DispatchedAt = &now

	c.logger.Info("Draft dispatched",
		zap.String("draft_id", draft.ID),
		zap.String("post_id", draft.PostID),
		zap.Float64("score", draft.Score))
	return nil
}

// OnDecision applies the approver's decision to a pending draft. A decision for a draft that
// has already left pending is ignored and reported with Applied=false.
func (c *Coordinator) OnDecision(ctx context.Context, draftID string, d Decision) (DecisionResult, error) {
	next, err := d.Next()
	if err != nil {
		return DecisionResult{}, err
	}

	draft, err := c.store.GetDraft(ctx, draftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DecisionResult{}, fmt.Errorf("%w: %s", ErrUnknownDraft, draftID)
		}
		return DecisionResult{}, fmt.Errorf("failed to load draft: %w", err)
	}
	if draft.Status != models.DraftPending {
		c.logger.Debug("Ignoring decision for settled draft",
			zap.String("draft_id", draftID),
			zap.String("status", string(draft.Status)),
			zap.String("decision", string(d.Kind)))
		return DecisionResult{Draft: draft, Applied: false}, nil
	}

	now := c.now()
	fields := map[string]interface{}{"decided_at": now}
	text := ""
	if d.Kind == KindEdit {
		text = strings.TrimSpace(d.Text)
		fields["edited_text"] = text
	}
	event := &models.ApprovalEvent{
		DraftID:    draftID,
		Decision:   string(d.Kind),
		EditedText: text,
		Source:     d.Source,
		ArrivedAt:  now,
	}

	applied, err := c.store.Transition(ctx, draftID, models.DraftPending, next, now, fields, event)
	if err != nil {
		return DecisionResult{}, err
	}
	if !applied {
		// lost the race against another decision or the expiry sweep
		current, err := c.store.GetDraft(ctx, draftID)
		if err != nil {
			return DecisionResult{}, fmt.Errorf("failed to reload draft: %w", err)
		}
		return DecisionResult{Draft: current, Applied: false}, nil
	}

	draft.Status = next
	draft.DecidedAt = &now
	draft.UpdatedAt = now
	if d.Kind == KindEdit {
		draft.EditedText = text
	}
	if next.Terminal() {
		draft.ClosedAt = &now
		draft.ActivePostID = nil
	}

	c.logger.Info("Decision applied",
		zap.String("draft_id", draftID),
		zap.String("decision", string(d.Kind)),
		zap.String("status", string(next)))
	return DecisionResult{Draft: draft, Applied: true}, nil
}

// ExpireStale closes pending drafts that have waited longer than olderThan.
func (c *Coordinator) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := c.now()
	n, err := c.store.ExpirePending(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Info("Expired stale drafts", zap.Int("count", n), zap.Duration("older_than", olderThan))
	}
	return n, nil
}

// Get returns a draft by id, mapping a missing row to ErrUnknownDraft.
func (c *Coordinator) Get(ctx context.Context, draftID string) (*models.Draft, error) {
	draft, err := c.store.GetDraft(ctx, draftID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDraft, draftID)
	}
	return draft, err
}
