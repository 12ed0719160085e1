package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/models"
)

const XName = "x"

// XPlatform posts replies through the X API v2 create-post endpoint with a user-context token.
type XPlatform struct {
	client *http.Client
	apiURL string
	token  string
}

func NewXPlatform(cfg config.PlatformConfig) *XPlatform {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.twitter.com/2"
	}
	return &XPlatform{
		client: &http.Client{Timeout: config.Duration(cfg.Timeout, 30*time.Second)},
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  cfg.Token,
	}
}

func (p *XPlatform) Name() string { return XName }

type xCreateRequest struct {
	Text  string  `json:"text"`
	Reply *xReply `json:"reply,omitempty"`
}

type xReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type xCreateResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

func (p *XPlatform) Publish(ctx context.Context, post *models.Post, text string) (string, error) {
	body, err := json.Marshal(xCreateRequest{
		Text:  text,
		Reply: &xReply{InReplyToTweetID: post.ID},
	})
	if err != nil {
		return "", &PublishError{Category: CategoryUnknown, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/tweets", bytes.NewReader(body))
	if err != nil {
		return "", &PublishError{Category: CategoryUnknown, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &PublishError{Category: CategoryNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", &PublishError{Category: CategoryNetwork, Err: err}
	}

	var out xCreateResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out.Data.ID == "" {
			return "", &PublishError{Category: CategoryUnknown, Message: "response carried no post id"}
		}
		return out.Data.ID, nil
	}

	message := out.Detail
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	return "", &PublishError{
		Category:  categoryForStatus(resp.StatusCode, message),
		Message:   fmt.Sprintf("status %d: %s", resp.StatusCode, message),
		Duplicate: strings.Contains(strings.ToLower(message), "duplicate"),
	}
}

func categoryForStatus(status int, message string) Category {
	switch {
	case status == http.StatusTooManyRequests:
		return CategoryRateLimited
	case status == http.StatusForbidden && strings.Contains(strings.ToLower(message), "duplicate"):
		return CategoryContentRejected
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryAuth
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return CategoryContentRejected
	case status >= 500:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}
