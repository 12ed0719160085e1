// Package feed retrieves candidate posts from a scraper service.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/models"
)

var ErrFeedUnavailable = errors.New("feed unavailable")

type QueryKind string

const (
	QueryTopic   QueryKind = "topic"
	QueryAccount QueryKind = "account"
)

// Query is one search term or one monitored account.
type Query struct {
	Kind  QueryKind
	Term  string
	Limit int
	Boost float64
}

func (q Query) String() string {
	if q.Kind == QueryAccount {
		return "@" + q.Term
	}
	return q.Term
}

type Source interface {
	Fetch(ctx context.Context, q Query) ([]models.Post, error)
}

// HTTPSource calls a scraper service that exposes
//
//	GET /search?q=<term>&limit=<n>
//	GET /accounts/<handle>/posts?limit=<n>
//
// and answers with {"posts": [...]}.
type HTTPSource struct {
	client  *http.Client
	baseURL string
	token   string
	now     func() time.Time
}

func NewHTTPSource(cfg config.FeedConfig) *HTTPSource {
	return &HTTPSource{
		client:  &http.Client{Timeout: config.Duration(cfg.Timeout, 60*time.Second)},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		now:     time.Now,
	}
}

type feedResponse struct {
	Posts []feedPost `json:"posts"`
}

type feedPost struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	AuthorHandle    string     `json:"author_handle"`
	AuthorName      string     `json:"author_name"`
	AuthorFollowers int64      `json:"author_followers"`
	AuthorVerified  bool       `json:"author_verified"`
	Text            string     `json:"text"`
	Views           int64      `json:"views"`
	Likes           int64      `json:"likes"`
	Reposts         int64      `json:"reposts"`
	Replies         int64      `json:"replies"`
	CreatedAt       *time.Time `json:"created_at"`
}

func (s *HTTPSource) Fetch(ctx context.Context, q Query) ([]models.Post, error) {
	endpoint, err := s.endpoint(q)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, q, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: %s: feed returned status %d: %s", ErrFeedUnavailable, q, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %s: failed to decode response: %v", ErrFeedUnavailable, q, err)
	}

	discovered := s.now().UTC()
	posts := make([]models.Post, 0, len(out.Posts))
	for _, p := range out.Posts {
		if p.ID == "" {
			continue
		}
		posts = append(posts, toPost(p, q, discovered))
	}
	return posts, nil
}

func (s *HTTPSource) endpoint(q Query) (string, error) {
	if s.baseURL == "" {
		return "", fmt.Errorf("%w: feed base_url is not configured", ErrFeedUnavailable)
	}

	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	switch q.Kind {
	case QueryAccount:
		return fmt.Sprintf("%s/accounts/%s/posts?%s", s.baseURL, url.PathEscape(q.Term), params.Encode()), nil
	default:
		params.Set("q", q.Term)
		return fmt.Sprintf("%s/search?%s", s.baseURL, params.Encode()), nil
	}
}

func toPost(p feedPost, q Query, discovered time.Time) models.Post {
	source := models.SourceTopicSearch
	if q.Kind == QueryAccount {
		source = models.SourceAccountMonitor
	}

	var posted *time.Time
	if p.CreatedAt != nil && !p.CreatedAt.IsZero() {
		t := p.CreatedAt.UTC()
		posted = &t
	}

	return models.Post{
		ID:              p.ID,
		URL:             p.URL,
		AuthorHandle:    strings.TrimPrefix(p.AuthorHandle, "@"),
		AuthorName:      p.AuthorName,
		AuthorFollowers: p.AuthorFollowers,
		AuthorVerified:  p.AuthorVerified,
		Text:            p.Text,
		Views:           p.Views,
		Likes:           p.Likes,
		Reposts:         p.Reposts,
		Replies:         p.Replies,
		PostedAt:        posted,
		DiscoveredAt:    discovered,
		Source:          source,
		Queries:         models.StringArray{q.String()},
		PriorityBoost:   q.Boost,
	}
}
