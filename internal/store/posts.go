package store

import (
	"context"
	"fmt"

	"github.com/ifuryst/riposte/internal/models"
)

// SavePosts inserts posts that are not stored yet. Existing rows are left untouched.
// It returns the number of new rows.
func (s *Store) SavePosts(ctx context.Context, posts []models.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Clauses(insertIgnore).CreateInBatches(posts, 100)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to save posts: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Store) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		return nil, notFound(err)
	}
	return &post, nil
}

// DraftedPostIDs returns the subset of postIDs that already have a draft, whatever its status.
func (s *Store) DraftedPostIDs(ctx context.Context, postIDs []string) (map[string]bool, error) {
	drafted := make(map[string]bool)
	if len(postIDs) == 0 {
		return drafted, nil
	}

	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Draft{}).
		Where("post_id IN ?", postIDs).
		Pluck("post_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query drafted posts: %w", err)
	}
	for _, id := range ids {
		drafted[id] = true
	}
	return drafted, nil
}
