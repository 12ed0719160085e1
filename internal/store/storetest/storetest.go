// Package storetest opens throwaway sqlite-backed stores for tests.
package storetest

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/internal/store"
)

// New returns a migrated store backed by a sqlite file in the test's temp dir.
func New(t testing.TB) *store.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "riposte.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// sqlite allows one writer; a single connection serializes concurrent callers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

// Post builds a post with sensible defaults for tests.
func Post(id string, discovered time.Time) models.Post {
	posted := discovered
	return models.Post{
		ID:              id,
		URL:             fmt.Sprintf("https://x.com/author/status/%s", id),
		AuthorHandle:    "author",
		AuthorName:      "Author",
		AuthorFollowers: 1000,
		Text:            "Post-training is where most of the capability gains come from now.",
		Views:           5000,
		Likes:           100,
		Reposts:         10,
		Replies:         5,
		PostedAt:        &posted,
		DiscoveredAt:    discovered,
		Source:          models.SourceTopicSearch,
		Queries:         models.StringArray{"post-training"},
	}
}

// SeedDraft stores a post and a pending draft for it and returns the draft.
func SeedDraft(t testing.TB, s *store.Store, postID string, generated time.Time) *models.Draft {
	t.Helper()

	ctx := t.Context()
	if _, err := s.SavePosts(ctx, []models.Post{Post(postID, generated)}); err != nil {
		t.Fatalf("save post: %v", err)
	}

	draft := &models.Draft{
		ID:          "draft-" + postID,
		PostID:      postID,
		RunID:       "run-1",
		TextA:       "Option A for " + postID,
		TextB:       "Option B for " + postID,
		GeneratedAt: generated,
	}
	if err := s.CreateDraft(ctx, draft); err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return draft
}
