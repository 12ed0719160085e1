package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ifuryst/riposte/internal/models"
)

// AddWatchedAccount stores the account unless it is already watched. It reports whether a new
// row was created.
func (s *Store) AddWatchedAccount(ctx context.Context, account *models.WatchedAccount) (bool, error) {
	account.Handle = NormalizeHandle(account.Handle)
	if account.Handle == "" {
		return false, fmt.Errorf("empty account handle")
	}
	if account.Priority == "" {
		account.Priority = models.PriorityMedium
	}
	if account.CheckEveryHours <= 0 {
		account.CheckEveryHours = 6
	}

	res := s.db.WithContext(ctx).Clauses(insertIgnore).Create(account)
	if res.Error != nil {
		return false, fmt.Errorf("failed to add watched account: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ListWatchedAccounts(ctx context.Context) ([]models.WatchedAccount, error) {
	var accounts []models.WatchedAccount
	if err := s.db.WithContext(ctx).Order("handle").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list watched accounts: %w", err)
	}
	return accounts, nil
}

func (s *Store) MarkAccountChecked(ctx context.Context, handle string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.WatchedAccount{}).
		Where("handle = ?", NormalizeHandle(handle)).
		Update("last_checked_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to mark account checked: %w", err)
	}
	return nil
}

// NormalizeHandle strips the leading @ and lowercases the handle.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
