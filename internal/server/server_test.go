package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/metrics"
	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/internal/service"
	"github.com/ifuryst/riposte/internal/service/approval"
	"github.com/ifuryst/riposte/internal/service/channel"
	"github.com/ifuryst/riposte/internal/service/poster"
	"github.com/ifuryst/riposte/internal/store"
	"github.com/ifuryst/riposte/internal/store/storetest"
)

const (
	chatID        = 4242
	webhookSecret = "hook-secret"
)

type nopChannel struct{}

func (nopChannel) Dispatch(context.Context, approval.DispatchRequest) error { return nil }

type silentChat struct {
	mu       sync.Mutex
	messages []string
}

func (c *silentChat) SendMessage(_ context.Context, text string, _ *channel.InlineKeyboard) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, text)
	return 1, nil
}

func (c *silentChat) EditMessage(context.Context, int64, string) error { return nil }

func (c *silentChat) AnswerCallback(context.Context, string, string) error { return nil }

type fixture struct {
	server   *Server
	store    *store.Store
	listener *service.Listener
	secret   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.New(t)
	logger := zap.NewNop()

	coordinator := approval.NewCoordinator(s, nopChannel{}, time.Second, logger)
	p := poster.New(s, poster.NewDryRunPlatform(logger), poster.Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, AttemptTimeout: time.Second}, logger)
	monitoring := service.NewMonitoringService(s.DB(), logger)
	listener := service.NewListener(coordinator, p, &silentChat{}, s, monitoring, 2, logger)
	sweeper := service.NewSweeper(coordinator, monitoring, logger, time.Hour, 24*time.Hour, 0)
	t.Cleanup(sweeper.Stop)

	secret, _, err := service.NewAuthService(logger, "").GenerateSecret("test")
	require.NoError(t, err)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.Mode = "test"
	cfg.Telegram.WebhookSecret = webhookSecret

	srv := NewServer(cfg, Deps{
		Store:      s,
		Listener:   listener,
		Sweeper:    sweeper,
		Monitoring: monitoring,
		Auth:       service.NewAuthService(logger, secret),
		Metrics:    metrics.NewCollector("test"),
		ChatID:     chatID,
	}, logger)
	return &fixture{server: srv, store: s, listener: listener, secret: secret}
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	return w
}

func (f *fixture) authed(t *testing.T) map[string]string {
	t.Helper()
	code, err := totp.GenerateCode(f.secret, time.Now())
	require.NoError(t, err)
	return map[string]string{service.TOTPHeader: code}
}

func TestShutdownBeforeStartReturns(t *testing.T) {
	f := newFixture(t)
	f.server.Server.Addr = "127.0.0.1:0"

	require.NoError(t, f.server.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() { done <- f.server.Start() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server started after shutdown")
	}
}

func TestStartThenCancelStops(t *testing.T) {
	f := newFixture(t)
	f.server.Server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(f.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		return f.server.Shutdown(context.Background())
	})
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server kept running after shutdown")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "riposte_http_requests_total")
}

func TestAPIRequiresTOTP(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/drafts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/drafts", "", f.authed(t))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDraftEndpoints(t *testing.T) {
	f := newFixture(t)
	draft := storetest.SeedDraft(t, f.store, "p1", time.Now().UTC())

	w := f.do(t, http.MethodGet, "/api/v1/drafts?status=pending", "", f.authed(t))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Drafts []models.Draft `json:"drafts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Drafts, 1)
	assert.Equal(t, draft.ID, list.Drafts[0].ID)

	w = f.do(t, http.MethodGet, "/api/v1/drafts/missing", "", f.authed(t))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/drafts/"+draft.ID+"/decision", `{"decision":"edit","text":" "}`, f.authed(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/drafts/"+draft.ID+"/decision", `{"decision":"edit","text":"Sharper take."}`, f.authed(t))
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Applied bool              `json:"applied"`
		Result  models.PostResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Applied)
	assert.True(t, out.Result.Success)
	assert.Equal(t, "Sharper take.", out.Result.PublishedText)

	w = f.do(t, http.MethodPost, "/api/v1/drafts/"+draft.ID+"/decision", `{"decision":"skip"}`, f.authed(t))
	assert.Equal(t, http.StatusConflict, w.Code)

	event, err := f.store.GetApprovalEvent(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "api", event.Source)

	w = f.do(t, http.MethodGet, "/api/v1/drafts/"+draft.ID, "", f.authed(t))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"posted"`)
}

func TestSweepAndReport(t *testing.T) {
	f := newFixture(t)
	storetest.SeedDraft(t, f.store, "old", time.Now().UTC().Add(-48*time.Hour))

	w := f.do(t, http.MethodPost, "/api/v1/sweep", "", f.authed(t))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"expired":1}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/v1/report", "", f.authed(t))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Expired: 1")
}

func TestTelegramWebhook(t *testing.T) {
	f := newFixture(t)
	draft := storetest.SeedDraft(t, f.store, "p1", time.Now().UTC())
	f.listener.Start(context.Background())

	update := `{"update_id":9,"callback_query":{"id":"cb","data":"b|` + draft.ID + `","message":{"message_id":3,"chat":{"id":4242}}}}`
	hdr := map[string]string{telegramSecretHeader: webhookSecret}

	w := f.do(t, http.MethodPost, "/telegram/webhook/wrong", update, hdr)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/telegram/webhook/"+webhookSecret, update, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/telegram/webhook/"+webhookSecret, "{", hdr)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/telegram/webhook/"+webhookSecret, update, hdr)
	assert.Equal(t, http.StatusOK, w.Code)

	f.listener.Stop()

	stored, err := f.store.GetDraft(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftPosted, stored.Status)
	result, err := f.store.GetPostResult(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.TextB, result.PublishedText)
}
