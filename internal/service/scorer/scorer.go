// Package scorer ranks discovered posts by how much visibility a reply is likely to get.
//
// The score of a post is
//
//	(Σ weight·log1p(signal)) · 0.5^(age/halfLife) + verified + priority + keyword
//
// over author followers, views, likes, reposts and replies. The engagement part decays with the
// post's age; the flat bonuses do not.
package scorer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/models"
)

type Weights struct {
	Followers float64
	Views     float64
	Likes     float64
	Reposts   float64
	Replies   float64
}

type Config struct {
	Weights       Weights
	VerifiedBonus float64
	KeywordBonus  float64
	BonusPhrases  []string
	HalfLife      time.Duration
	MaxPostAge    time.Duration
	MinScore      float64
	MinViews      int64
	MinFollowers  int64
}

// ConfigFrom converts the scoring section of the config file.
func ConfigFrom(cfg config.ScoringConfig) Config {
	phrases := make([]string, 0, len(cfg.BonusPhrases))
	for _, p := range cfg.BonusPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			phrases = append(phrases, p)
		}
	}
	return Config{
		Weights: Weights{
			Followers: cfg.FollowersWeight,
			Views:     cfg.ViewsWeight,
			Likes:     cfg.LikesWeight,
			Reposts:   cfg.RepostsWeight,
			Replies:   cfg.RepliesWeight,
		},
		VerifiedBonus: cfg.VerifiedBonus,
		KeywordBonus:  cfg.KeywordBonus,
		BonusPhrases:  phrases,
		HalfLife:      config.Duration(cfg.HalfLife, 6*time.Hour),
		MaxPostAge:    config.Duration(cfg.MaxPostAge, 24*time.Hour),
		MinScore:      cfg.MinScore,
		MinViews:      cfg.MinViews,
		MinFollowers:  cfg.MinFollowers,
	}
}

// DraftChecker reports which posts already have a draft in any status.
type DraftChecker interface {
	DraftedPostIDs(ctx context.Context, postIDs []string) (map[string]bool, error)
}

type Candidate struct {
	Post  models.Post
	Score float64
	Rank  int
}

type Scorer struct {
	cfg    Config
	drafts DraftChecker
	now    func() time.Time
}

func New(cfg Config, drafts DraftChecker) *Scorer {
	return &Scorer{cfg: cfg, drafts: drafts, now: time.Now}
}

// WithClock replaces the time source used for age and decay.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Score computes the score of a single post at the given time.
func (s *Scorer) Score(post *models.Post, now time.Time) float64 {
	w := s.cfg.Weights
	engagement := w.Followers*log1p(post.AuthorFollowers) +
		w.Views*log1p(post.Views) +
		w.Likes*log1p(post.Likes) +
		w.Reposts*log1p(post.Reposts) +
		w.Replies*log1p(post.Replies)

	score := engagement * s.decay(now.Sub(post.RecencyTime()))

	if post.AuthorVerified {
		score += s.cfg.VerifiedBonus
	}
	score += post.PriorityBoost
	if s.hasBonusPhrase(post.Text) {
		score += s.cfg.KeywordBonus
	}
	return score
}

// ScoreAndSelect drops posts that cannot get a new draft, scores the rest and returns at most
// limit candidates ordered by score, then recency, then ID.
func (s *Scorer) ScoreAndSelect(ctx context.Context, posts []models.Post, limit int) ([]Candidate, error) {
	if limit <= 0 || len(posts) == 0 {
		return []Candidate{}, nil
	}

	ids := make([]string, 0, len(posts))
	for i := range posts {
		ids = append(ids, posts[i].ID)
	}
	drafted, err := s.drafts.DraftedPostIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check drafted posts: %w", err)
	}

	now := s.now()
	seen := make(map[string]bool, len(posts))
	candidates := make([]Candidate, 0, len(posts))
	for i := range posts {
		post := posts[i]
		if post.ID == "" || seen[post.ID] || drafted[post.ID] {
			continue
		}
		seen[post.ID] = true

		if s.cfg.MaxPostAge > 0 && now.Sub(post.RecencyTime()) > s.cfg.MaxPostAge {
			continue
		}
		// zero means the feed did not report the signal
		if post.Views > 0 && post.Views < s.cfg.MinViews {
			continue
		}
		if post.AuthorFollowers > 0 && post.AuthorFollowers < s.cfg.MinFollowers {
			continue
		}

		score := s.Score(&post, now)
		if score < s.cfg.MinScore {
			continue
		}
		candidates = append(candidates, Candidate{Post: post, Score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j])
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates, nil
}

func less(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	ta, tb := a.Post.RecencyTime(), b.Post.RecencyTime()
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.Post.ID < b.Post.ID
}

func (s *Scorer) decay(age time.Duration) float64 {
	if s.cfg.HalfLife <= 0 || age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(s.cfg.HalfLife))
}

func (s *Scorer) hasBonusPhrase(text string) bool {
	if len(s.cfg.BonusPhrases) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range s.cfg.BonusPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func log1p(v int64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Log1p(float64(v))
}
