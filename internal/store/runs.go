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

// AcquireRunLock takes the named lock for holder until now+ttl. A lock whose holder let it
// expire is taken over. ErrRunLocked is returned while a live holder owns it.
func (s *Store) AcquireRunLock(ctx context.Context, name, holder, runID string, ttl time.Duration, now time.Time) error {
	lock := &models.RunLock{
		Name:       name,
		Holder:     holder,
		RunID:      runID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ? AND expires_at < ?", name, now).Delete(&models.RunLock{}).Error; err != nil {
			return fmt.Errorf("failed to clear expired lock: %w", err)
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(lock)
		if res.Error != nil {
			return fmt.Errorf("failed to acquire run lock: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}

		var current models.RunLock
		if err := tx.Where("name = ?", name).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRunLocked
			}
			return fmt.Errorf("failed to read run lock: %w", err)
		}
		return fmt.Errorf("%w: held by %s until %s", ErrRunLocked, current.Holder, current.ExpiresAt.Format(time.RFC3339))
	})
}

// ReleaseRunLock drops the lock if holder still owns it.
func (s *Store) ReleaseRunLock(ctx context.Context, name, holder string) error {
	err := s.db.WithContext(ctx).Where("name = ? AND holder = ?", name, holder).Delete(&models.RunLock{}).Error
	if err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run *models.Run) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *Store) SaveRun(ctx context.Context, run *models.Run) error {
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}
