// Package store is the durable record of posts, drafts and runs. Every state change that other
// processes may race on is a conditional update, so the database decides the winner.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/riposte/internal/models"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDraftExists = errors.New("post already has a draft")
	ErrRunLocked   = errors.New("run lock is held")
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates every table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Transition moves a draft from one status to another. The update only applies while the draft
// is still in from; when it does, record (if not nil) is inserted in the same transaction.
// It returns false when another writer got there first.
func (s *Store) Transition(ctx context.Context, draftID string, from, to models.DraftStatus, at time.Time, fields map[string]interface{}, record interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	for k, v := range fields {
		updates[k] = v
	}
	if to.Terminal() {
		updates["closed_at"] = at
		updates["active_post_id"] = nil
	}

	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Draft{}).
			Where("id = ? AND status = ?", draftID, from).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update draft: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if record != nil {
			if err := tx.Create(record).Error; err != nil {
				return fmt.Errorf("failed to record transition: %w", err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

var insertIgnore = clause.OnConflict{DoNothing: true}
