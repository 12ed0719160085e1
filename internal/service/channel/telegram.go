// Package channel talks to the approver over the Telegram Bot API.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/service/approval"
)

var ErrNotConfigured = errors.New("telegram is not configured")

// APIError is a response with ok=false from the Bot API.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram error %d: %s (retry after %ds)", e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Description)
}

// Telegram is a minimal Bot API client bound to the approver's chat.
type Telegram struct {
	client      *http.Client
	apiURL      string
	token       string
	chatID      int64
	pollTimeout int
	limiter     *rate.Limiter
	logger      *zap.Logger
	now         func() time.Time
}

func NewTelegram(cfg config.TelegramConfig, logger *zap.Logger) *Telegram {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	sendRate := cfg.SendRate
	if sendRate <= 0 {
		sendRate = 1
	}
	return &Telegram{
		// long polls hold the connection for pollTimeout seconds
		client:      &http.Client{Timeout: time.Duration(pollTimeout+15) * time.Second},
		apiURL:      strings.TrimRight(apiURL, "/"),
		token:       cfg.Token,
		chatID:      cfg.ChatID,
		pollTimeout: pollTimeout,
		limiter:     rate.NewLimiter(rate.Limit(sendRate), 1),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (t *Telegram) ChatID() int64 { return t.chatID }

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *Telegram) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	if t.token == "" || t.chatID == 0 {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", method, err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.apiURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// the URL carries the bot token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram %s: failed to read response: %w", method, err)
	}

	var r apiResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("telegram %s: unexpected status %d", method, resp.StatusCode)
	}
	if !r.OK {
		apiErr := &APIError{Code: r.ErrorCode, Description: r.Description}
		if r.Parameters != nil {
			apiErr.RetryAfter = r.Parameters.RetryAfter
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("telegram %s: failed to decode result: %w", method, err)
		}
	}
	return nil
}

type sendMessageRequest struct {
	ChatID                int64           `json:"chat_id"`
	Text                  string          `json:"text"`
	ParseMode             string          `json:"parse_mode"`
	DisableWebPagePreview bool            `json:"disable_web_page_preview"`
	ReplyMarkup           *InlineKeyboard `json:"reply_markup,omitempty"`
}

type editMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	MessageID             int64  `json:"message_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// SendMessage posts an HTML message to the approver's chat and returns its message id.
func (t *Telegram) SendMessage(ctx context.Context, text string, markup *InlineKeyboard) (int64, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	var msg Message
	err := t.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	}, &msg)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessage replaces a message's text and drops its keyboard.
func (t *Telegram) EditMessage(ctx context.Context, messageID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.call(ctx, "editMessageText", editMessageRequest{
		ChatID:                t.chatID,
		MessageID:             messageID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}, nil)
}

// AnswerCallback stops the button's loading spinner, optionally with a toast.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return t.call(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
}

// GetUpdates long-polls for updates after offset.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	var updates []Update
	err := t.call(ctx, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"timeout":         t.pollTimeout,
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}

// SetWebhook points Telegram at url; secret is echoed back in X-Telegram-Bot-Api-Secret-Token.
func (t *Telegram) SetWebhook(ctx context.Context, webhookURL, secret string) error {
	return t.call(ctx, "setWebhook", map[string]interface{}{
		"url":             webhookURL,
		"secret_token":    secret,
		"allowed_updates": []string{"message", "callback_query"},
	}, nil)
}

// DeleteWebhook is required before getUpdates works.
func (t *Telegram) DeleteWebhook(ctx context.Context) error {
	return t.call(ctx, "deleteWebhook", map[string]interface{}{}, nil)
}

// Dispatch sends an approval card with the decision keyboard.
func (t *Telegram) Dispatch(ctx context.Context, req approval.DispatchRequest) error {
	_, err := t.SendMessage(ctx, FormatCard(req, t.now()), CardKeyboard(req.DraftID, req.Post.AuthorHandle))
	if err != nil {
		return err
	}
	t.logger.Debug("Card sent", zap.String("draft_id", req.DraftID))
	return nil
}

// Notify sends a plain operator message.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	_, err := t.SendMessage(ctx, text, nil)
	return err
}
