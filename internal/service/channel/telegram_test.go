package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/internal/service/approval"
)

const testChat = int64(4242)

type fakeBotAPI struct {
	mu       sync.Mutex
	requests map[string][]map[string]interface{}
	updates  []string
	polls    int
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, *httptest.Server) {
	t.Helper()
	f := &fakeBotAPI{requests: map[string][]map[string]interface{}{}}
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	if !strings.HasPrefix(r.URL.Path, "/botsecret-token/") {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		return
	}

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.requests[method] = append(f.requests[method], body)
	var batch string
	if method == "getUpdates" {
		if f.polls < len(f.updates) {
			batch = f.updates[f.polls]
		}
		f.polls++
	}
	f.mu.Unlock()

	switch method {
	case "sendMessage":
		if strings.Contains(fmt.Sprint(body["text"]), "flood") {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":77,"chat":{"id":4242},"text":"x"}}`)
	case "getUpdates":
		if batch == "" {
			<-r.Context().Done()
			return
		}
		fmt.Fprintf(w, `{"ok":true,"result":%s}`, batch)
	default:
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}
}

func (f *fakeBotAPI) calls(method string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[method]
}

func newClient(server *httptest.Server) *Telegram {
	return NewTelegram(config.TelegramConfig{
		Token:    "secret-token",
		ChatID:   testChat,
		APIURL:   server.URL,
		SendRate: 1000,
	}, zap.NewNop())
}

func dispatchRequest() approval.DispatchRequest {
	posted := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return approval.DispatchRequest{
		DraftID: "d-1",
		Post: models.Post{
			ID:              "101",
			URL:             "https://x.com/alice/status/101",
			AuthorHandle:    "alice",
			AuthorFollowers: 12300,
			AuthorVerified:  true,
			Text:            "Evals <are> the bottleneck & nobody talks about it",
			Views:           54000,
			Likes:           800,
			PostedAt:        &posted,
		},
		TextA:   "Evals are not the bottleneck, data is.",
		TextB:   "Agreed, and the missing piece is eval drift.",
		IssuesA: []string{"too short: 38 chars"},
		Score:   12.46,
	}
}

func TestDispatchSendsCard(t *testing.T) {
	api, server := newFakeBotAPI(t)
	tg := newClient(server)
	tg.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, tg.Dispatch(context.Background(), dispatchRequest()))

	sent := api.calls("sendMessage")
	require.Len(t, sent, 1)
	assert.Equal(t, float64(testChat), sent[0]["chat_id"])
	assert.Equal(t, "HTML", sent[0]["parse_mode"])

	text := sent[0]["text"].(string)
	assert.Contains(t, text, "Score: 12.5")
	assert.Contains(t, text, "@alice ✓ (12.3K)")
	assert.Contains(t, text, "⚡ 2h ago")
	assert.Contains(t, text, "Evals &lt;are&gt; the bottleneck &amp; nobody")
	assert.Contains(t, text, "⚠️ <i>too short: 38 chars</i>")

	markup := sent[0]["reply_markup"].(map[string]interface{})
	rows := markup["inline_keyboard"].([]interface{})
	require.Len(t, rows, 2)
	first := rows[0].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "a|d-1", first["callback_data"])
}

func TestSendMessageAPIError(t *testing.T) {
	_, server := newFakeBotAPI(t)
	tg := newClient(server)

	_, err := tg.SendMessage(context.Background(), "flood", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, 7, apiErr.RetryAfter)
}

func TestNotConfigured(t *testing.T) {
	tg := NewTelegram(config.TelegramConfig{}, zap.NewNop())
	assert.ErrorIs(t, tg.Notify(context.Background(), "hi"), ErrNotConfigured)
}

func TestErrorsDoNotLeakToken(t *testing.T) {
	tg := NewTelegram(config.TelegramConfig{Token: "secret-token", ChatID: testChat, APIURL: "http://127.0.0.1:1"}, zap.NewNop())
	err := tg.Notify(context.Background(), "hi")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestParseUpdate(t *testing.T) {
	chat := Chat{ID: testChat}
	cases := []struct {
		name string
		u    Update
		ok   bool
		want Event
	}{
		{
			name: "approve b",
			u:    Update{UpdateID: 1, CallbackQuery: &CallbackQuery{ID: "cb", Data: "b|d-1", Message: &Message{MessageID: 9, Chat: chat}}},
			ok:   true,
			want: Event{Kind: EventDecision, UpdateID: 1, DraftID: "d-1", Decision: approval.KindApproveB, MessageID: 9, CallbackID: "cb"},
		},
		{
			name: "edit button",
			u:    Update{UpdateID: 2, CallbackQuery: &CallbackQuery{ID: "cb", Data: "edit|d-1", Message: &Message{MessageID: 9, Chat: chat}}},
			ok:   true,
			want: Event{Kind: EventEditRequest, UpdateID: 2, DraftID: "d-1", MessageID: 9, CallbackID: "cb"},
		},
		{
			name: "command with bot suffix",
			u:    Update{UpdateID: 3, Message: &Message{MessageID: 10, Chat: chat, Text: "/Report@riposte_bot today"}},
			ok:   true,
			want: Event{Kind: EventCommand, UpdateID: 3, Command: "report", Args: "today", MessageID: 10},
		},
		{
			name: "plain text",
			u:    Update{UpdateID: 4, Message: &Message{MessageID: 11, Chat: chat, Text: "  my reply  "}},
			ok:   true,
			want: Event{Kind: EventText, UpdateID: 4, Text: "my reply", MessageID: 11},
		},
		{
			name: "foreign chat",
			u:    Update{UpdateID: 5, Message: &Message{Chat: Chat{ID: 1}, Text: "hi"}},
		},
		{
			name: "unknown action",
			u:    Update{UpdateID: 6, CallbackQuery: &CallbackQuery{Data: "manual_a|d-1", Message: &Message{Chat: chat}}},
		},
		{
			name: "missing draft id",
			u:    Update{UpdateID: 7, CallbackQuery: &CallbackQuery{Data: "a|", Message: &Message{Chat: chat}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := ParseUpdate(tc.u, testChat)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, ev)
			}
		})
	}
}

func TestDecodeUpdate(t *testing.T) {
	u, err := DecodeUpdate(strings.NewReader(`{"update_id":5,"callback_query":{"id":"q","data":"skip|d-2","message":{"message_id":3,"chat":{"id":4242}}}}`))
	require.NoError(t, err)
	ev, ok := ParseUpdate(u, testChat)
	require.True(t, ok)
	assert.Equal(t, approval.KindSkip, ev.Decision)

	_, err = DecodeUpdate(strings.NewReader(`{`))
	assert.Error(t, err)
}

func TestPollerDeliversInOrder(t *testing.T) {
	api, server := newFakeBotAPI(t)
	api.updates = []string{
		`[{"update_id":10,"message":{"message_id":1,"chat":{"id":4242},"text":"/report"}},
		  {"update_id":11,"message":{"message_id":2,"chat":{"id":99},"text":"spam"}},
		  {"update_id":12,"callback_query":{"id":"c","data":"a|d-1","message":{"message_id":3,"chat":{"id":4242}}}}]`,
	}
	tg := newClient(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []Event
	done := make(chan error, 1)
	go func() {
		done <- NewPoller(tg, zap.NewNop()).Run(ctx, func(_ context.Context, ev Event) {
			got = append(got, ev)
			if len(got) == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}

	require.Len(t, got, 2)
	assert.Equal(t, EventCommand, got[0].Kind)
	assert.Equal(t, EventDecision, got[1].Kind)
	assert.Len(t, api.calls("deleteWebhook"), 1)
}

func TestFormatWatchlist(t *testing.T) {
	out := FormatWatchlist([]models.WatchedAccount{
		{Handle: "karpathy", Priority: models.PriorityHigh},
		{Handle: "swyx", Priority: models.PriorityMedium},
		{Handle: "someone", Priority: models.PriorityMedium},
	})
	assert.Contains(t, out, "Watchlist (3 accounts)")
	assert.Contains(t, out, "🔴 high: @karpathy")
	assert.Contains(t, out, "🟡 medium: @swyx, @someone")
}
