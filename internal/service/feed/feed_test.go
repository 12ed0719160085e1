package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/models"
)

func TestHTTPSourceSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "agentic ai", r.URL.Query().Get("q"))
		assert.Equal(t, "30", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer feed-token", r.Header.Get("Authorization"))

		fmt.Fprint(w, `{"posts":[
			{"id":"101","url":"https://x.com/a/status/101","author_handle":"@alice","author_followers":12000,
			 "text":"Agents need evals","views":5400,"likes":80,"created_at":"2025-03-01T10:00:00Z"},
			{"id":"","text":"missing id"}
		]}`)
	}))
	defer server.Close()

	src := NewHTTPSource(config.FeedConfig{BaseURL: server.URL, Token: "feed-token"})
	discovered := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return discovered }

	posts, err := src.Fetch(context.Background(), Query{Kind: QueryTopic, Term: "agentic ai", Limit: 30})
	require.NoError(t, err)
	require.Len(t, posts, 1)

	p := posts[0]
	assert.Equal(t, "101", p.ID)
	assert.Equal(t, "alice", p.AuthorHandle)
	assert.Equal(t, models.SourceTopicSearch, p.Source)
	assert.Equal(t, models.StringArray{"agentic ai"}, p.Queries)
	assert.Equal(t, discovered, p.DiscoveredAt)
	require.NotNil(t, p.PostedAt)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), *p.PostedAt)
}

func TestHTTPSourceAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/karpathy/posts", r.URL.Path)
		fmt.Fprint(w, `{"posts":[{"id":"7","author_handle":"karpathy","text":"hi"}]}`)
	}))
	defer server.Close()

	src := NewHTTPSource(config.FeedConfig{BaseURL: server.URL})
	posts, err := src.Fetch(context.Background(), Query{Kind: QueryAccount, Term: "karpathy", Boost: 3})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, models.SourceAccountMonitor, posts[0].Source)
	assert.Equal(t, 3.0, posts[0].PriorityBoost)
	assert.Equal(t, models.StringArray{"@karpathy"}, posts[0].Queries)
	assert.Nil(t, posts[0].PostedAt)
}

func TestHTTPSourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "garbage" {
			fmt.Fprint(w, `{"posts":`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "scraper blocked")
	}))
	defer server.Close()

	src := NewHTTPSource(config.FeedConfig{BaseURL: server.URL})

	_, err := src.Fetch(context.Background(), Query{Term: "rlhf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Contains(t, err.Error(), "502")

	_, err = src.Fetch(context.Background(), Query{Term: "garbage"})
	assert.ErrorIs(t, err, ErrFeedUnavailable)

	_, err = NewHTTPSource(config.FeedConfig{}).Fetch(context.Background(), Query{Term: "rlhf"})
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestHTTPSourceContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewHTTPSource(config.FeedConfig{BaseURL: server.URL}).Fetch(ctx, Query{Term: "rlhf"})
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}
