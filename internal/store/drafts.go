package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/ifuryst/riposte/internal/models"
)

// CreateDraft inserts a pending draft. ErrDraftExists is returned when the post already has a
// draft in any status, including one inserted concurrently by another process.
func (s *Store) CreateDraft(ctx context.Context, draft *models.Draft) error {
	postID := draft.PostID
	draft.Status = models.DraftPending
	draft.ActivePostID = &postID

	res := s.db.WithContext(ctx).Omit(clause.Associations).Clauses(insertIgnore).Create(draft)
	if res.Error != nil {
		return fmt.Errorf("failed to create draft: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: post %s", ErrDraftExists, postID)
	}
	return nil
}

// DeleteUndispatched removes a pending draft that never reached the approver.
func (s *Store) DeleteUndispatched(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Where("id = ? AND status = ? AND dispatched_at IS NULL", id, models.DraftPending).
		Delete(&models.Draft{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

func (s *Store) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Draft{}).
		Where("id = ? AND status = ?", id, models.DraftPending).
		Updates(map[string]interface{}{"dispatched_at": at, "updated_at": at}).Error
	if err != nil {
		return fmt.Errorf("failed to mark draft dispatched: %w", err)
	}
	return nil
}

func (s *Store) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	var draft models.Draft
	if err := s.db.WithContext(ctx).Preload("Post").Where("id = ?", id).First(&draft).Error; err != nil {
		return nil, notFound(err)
	}
	return &draft, nil
}

// ListDrafts returns the newest drafts, optionally filtered by status.
func (s *Store) ListDrafts(ctx context.Context, status models.DraftStatus, limit int) ([]models.Draft, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Preload("Post").Order("generated_at desc").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var drafts []models.Draft
	if err := query.Find(&drafts).Error; err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// ListApproved returns drafts that were approved but never published, oldest first.
func (s *Store) ListApproved(ctx context.Context) ([]models.Draft, error) {
	var drafts []models.Draft
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.DraftStatus{models.DraftApprovedA, models.DraftApprovedB, models.DraftEdited}).
		Order("decided_at asc").
		Find(&drafts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list approved drafts: %w", err)
	}
	return drafts, nil
}

// ExpirePending closes every pending draft dispatched before cutoff. Drafts that were never
// dispatched are aged from GeneratedAt.
func (s *Store) ExpirePending(ctx context.Context, cutoff, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&models.Draft{}).
		Where("status = ?", models.DraftPending).
		Where("((dispatched_at IS NOT NULL AND dispatched_at < ?) OR (dispatched_at IS NULL AND generated_at < ?))", cutoff, cutoff).
		Updates(map[string]interface{}{
			"status":         models.DraftExpired,
			"closed_at":      now,
			"active_post_id": nil,
			"updated_at":     now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire drafts: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Store) GetApprovalEvent(ctx context.Context, draftID string) (*models.ApprovalEvent, error) {
	var event models.ApprovalEvent
	if err := s.db.WithContext(ctx).Where("draft_id = ?", draftID).First(&event).Error; err != nil {
		return nil, notFound(err)
	}
	return &event, nil
}

func (s *Store) GetPostResult(ctx context.Context, draftID string) (*models.PostResult, error) {
	var result models.PostResult
	if err := s.db.WithContext(ctx).Where("draft_id = ?", draftID).First(&result).Error; err != nil {
		return nil, notFound(err)
	}
	return &result, nil
}
