package poster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/internal/store"
	"github.com/ifuryst/riposte/internal/store/storetest"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type scriptedPlatform struct {
	calls atomic.Int32
	errs  []error

	mu   sync.Mutex
	text []string
}

func (p *scriptedPlatform) Name() string { return "scripted" }

func (p *scriptedPlatform) Publish(_ context.Context, post *models.Post, text string) (string, error) {
	n := int(p.calls.Add(1))
	if n <= len(p.errs) && p.errs[n-1] != nil {
		return "", p.errs[n-1]
	}
	p.mu.Lock()
	p.text = append(p.text, text)
	p.mu.Unlock()
	return fmt.Sprintf("reply-to-%s", post.ID), nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

type recordingErrors struct {
	titles []string
}

func (r *recordingErrors) RecordDraftError(_ string, _ *models.Draft, title, _ string) error {
	r.titles = append(r.titles, title)
	return nil
}

var fastRetry = Config{
	MaxAttempts:    3,
	BaseDelay:      time.Millisecond,
	MaxDelay:       5 * time.Millisecond,
	AttemptTimeout: time.Second,
}

func approved(t *testing.T, s *store.Store, postID string, status models.DraftStatus, fields map[string]interface{}) *models.Draft {
	t.Helper()
	draft := storetest.SeedDraft(t, s, postID, now)
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["decided_at"] = now
	ok, err := s.Transition(context.Background(), draft.ID, models.DraftPending, status, now, fields, nil)
	require.NoError(t, err)
	require.True(t, ok)
	return draft
}

func TestPublishApproveBUsesTextBVerbatim(t *testing.T) {
	s := storetest.New(t)
	platform := &scriptedPlatform{}
	p := New(s, platform, fastRetry, zap.NewNop())

	draft := approved(t, s, "p1", models.DraftApprovedB, nil)

	result, err := p.Publish(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "Option B for p1", result.PublishedText)
	assert.Equal(t, "reply-to-p1", result.PlatformPostID)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, []string{"Option B for p1"}, platform.text)

	stored, err := s.GetDraft(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftPosted, stored.Status)
	assert.Nil(t, stored.ActivePostID)
}

func TestPublishEditedText(t *testing.T) {
	s := storetest.New(t)
	platform := &scriptedPlatform{}
	p := New(s, platform, fastRetry, zap.NewNop())

	draft := approved(t, s, "p1", models.DraftEdited, map[string]interface{}{"edited_text": "hand written"})

	result, err := p.Publish(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "hand written", result.PublishedText)
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	s := storetest.New(t)
	platform := &scriptedPlatform{errs: []error{
		&PublishError{Category: CategoryServer, Message: "503"},
		&PublishError{Category: CategoryRateLimited, Message: "429"},
	}}
	p := New(s, platform, fastRetry, zap.NewNop())

	draft := approved(t, s, "p1", models.DraftApprovedA, nil)

	result, err := p.Publish(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), platform.calls.Load())
}

func TestPublishGivesUpAfterMaxAttempts(t *testing.T) {
	s := storetest.New(t)
	rateLimited := &PublishError{Category: CategoryRateLimited, Message: "429"}
	platform := &scriptedPlatform{errs: []error{rateLimited, rateLimited, rateLimited, rateLimited}}
	notifier := &recordingNotifier{}
	recorder := &recordingErrors{}
	p := New(s, platform, fastRetry, zap.NewNop()).WithNotifier(notifier).WithErrorRecorder(recorder)

	draft := approved(t, s, "p1", models.DraftApprovedA, nil)

	result, err := p.Publish(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, string(CategoryRateLimited), result.ErrorCategory)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), platform.calls.Load())

	stored, err := s.GetDraft(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftFailed, stored.Status)

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "rate_limited")
	assert.Equal(t, []string{"Publish failed (rate_limited)"}, recorder.titles)
}

func TestPublishTerminalCategoryDoesNotRetry(t *testing.T) {
	for _, category := range []Category{CategoryAuth, CategoryContentRejected} {
		t.Run(string(category), func(t *testing.T) {
			s := storetest.New(t)
			platform := &scriptedPlatform{errs: []error{&PublishError{Category: category, Message: "no"}}}
			p := New(s, platform, fastRetry, zap.NewNop())

			draft := approved(t, s, "p1", models.DraftApprovedA, nil)

			result, err := p.Publish(context.Background(), draft.ID)
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, string(category), result.ErrorCategory)
			assert.Equal(t, 1, result.Attempts)
		})
	}
}

func TestPublishDuplicateAfterTimeoutCountsAsPosted(t *testing.T) {
	s := storetest.New(t)
	platform := &scriptedPlatform{errs: []error{
		&PublishError{Category: CategoryNetwork, Err: context.DeadlineExceeded},
		&PublishError{Category: CategoryContentRejected, Message: "status 403: duplicate content", Duplicate: true},
	}}
	notifier := &recordingNotifier{}
	p := New(s, platform, fastRetry, zap.NewNop()).WithNotifier(notifier)

	draft := approved(t, s, "p1", models.DraftApprovedA, nil)

	result, err := p.Publish(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.PlatformPostID)
	assert.Empty(t, result.ErrorCategory)
	assert.Contains(t, result.ErrorMessage, "duplicate")
	assert.Equal(t, 2, result.Attempts)
	assert.Empty(t, notifier.messages)

	stored, err := s.GetDraft(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftPosted, stored.Status)
}

func TestPublishDuplicateAfterServerErrorFails(t *testing.T) {
	s := storetest.New(t)
	platform := &scriptedPlatform{errs: []error{
		&PublishError{Category: CategoryServer, Message: "status 503"},
		&PublishError{Category: CategoryContentRejected, Message: "status 403: duplicate content", Duplicate: true},
	}}
	p := New(s, platform, fastRetry, zap.NewNop())

	draft := approved(t, s, "p1", models.DraftApprovedA, nil)

	result, err := p.Publish(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, string(CategoryContentRejected), result.ErrorCategory)

	stored, err := s.GetDraft(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftFailed, stored.Status)
}

func TestPublishUnclassifiedErrorIsUnknown(t *testing.T) {
	s := storetest.New(t)
	platform := &scriptedPlatform{errs: []error{errors.New("boom")}}
	p := New(s, platform, fastRetry, zap.NewNop())

	draft := approved(t, s, "p1", models.DraftApprovedA, nil)

	result, err := p.Publish(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, string(CategoryUnknown), result.ErrorCategory)
	assert.Equal(t, int32(1), platform.calls.Load())
}

func TestPublishIsIdempotent(t *testing.T) {
	s := storetest.New(t)
	platform := &scriptedPlatform{}
	p := New(s, platform, fastRetry, zap.NewNop())

	draft := approved(t, s, "p1", models.DraftApprovedA, nil)

	first, err := p.Publish(context.Background(), draft.ID)
	require.NoError(t, err)
	second, err := p.Publish(context.Background(), draft.ID)
	require.NoError(t, err)

	assert.Equal(t, first.PlatformPostID, second.PlatformPostID)
	assert.Equal(t, int32(1), platform.calls.Load())
}

func TestPublishRequiresApproval(t *testing.T) {
	s := storetest.New(t)
	platform := &scriptedPlatform{}
	p := New(s, platform, fastRetry, zap.NewNop())

	draft := storetest.SeedDraft(t, s, "p1", now)

	_, err := p.Publish(context.Background(), draft.ID)
	assert.ErrorIs(t, err, ErrNotApproved)

	_, err = p.Publish(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, int32(0), platform.calls.Load())
}

func TestResumeApproved(t *testing.T) {
	s := storetest.New(t)
	platform := &scriptedPlatform{}
	p := New(s, platform, fastRetry, zap.NewNop())

	approved(t, s, "p1", models.DraftApprovedA, nil)
	approved(t, s, "p2", models.DraftApprovedB, nil)
	storetest.SeedDraft(t, s, "p3", now)

	n, err := p.ResumeApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = p.ResumeApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int32(2), platform.calls.Load())
}

func TestXPlatformPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tweets", r.URL.Path)
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"id":"1880","text":"hello"}}`)
	}))
	defer server.Close()

	x := NewXPlatform(config.PlatformConfig{APIURL: server.URL, Token: "user-token"})
	post := storetest.Post("42", now)

	id, err := x.Publish(context.Background(), &post, "hello")
	require.NoError(t, err)
	assert.Equal(t, "1880", id)
}

func TestXPlatformStatusCategories(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   Category
	}{
		{http.StatusTooManyRequests, `{"title":"Too Many Requests"}`, CategoryRateLimited},
		{http.StatusUnauthorized, `{"detail":"Unauthorized"}`, CategoryAuth},
		{http.StatusForbidden, `{"detail":"You are not allowed to create a Tweet with duplicate content."}`, CategoryContentRejected},
		{http.StatusBadRequest, `{"detail":"text too long"}`, CategoryContentRejected},
		{http.StatusBadGateway, `upstream`, CategoryServer},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			x := NewXPlatform(config.PlatformConfig{APIURL: server.URL, Token: "t"})
			post := storetest.Post("42", now)

			_, err := x.Publish(context.Background(), &post, "hello")
			var pe *PublishError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.want, pe.Category)
			assert.Equal(t, tc.want.Retryable(), Classify(err).Category.Retryable())
			assert.Equal(t, tc.status == http.StatusForbidden, IsDuplicate(err))
		})
	}
}

func TestNewPlatform(t *testing.T) {
	p, err := NewPlatform(config.PlatformConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DryRunName, p.Name())

	_, err = NewPlatform(config.PlatformConfig{Type: XName}, zap.NewNop())
	assert.Error(t, err)

	p, err = NewPlatform(config.PlatformConfig{Type: XName, Token: "t"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, XName, p.Name())
}

func TestDryRunPlatformRecords(t *testing.T) {
	d := NewDryRunPlatform(zap.NewNop())
	post := storetest.Post("42", now)

	id, err := d.Publish(context.Background(), &post, "hello")
	require.NoError(t, err)
	text, ok := d.Published(id)
	assert.True(t, ok)
	assert.Equal(t, "hello", text)
}
