package channel

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ifuryst/riposte/internal/service/approval"
)

// Update, Message and CallbackQuery carry the subset of the Bot API payload the listener reads.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message,omitempty"`
}

type InlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// DecodeUpdate reads one webhook payload.
func DecodeUpdate(r io.Reader) (Update, error) {
	var u Update
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&u); err != nil {
		return Update{}, fmt.Errorf("failed to decode update: %w", err)
	}
	return u, nil
}

type EventKind string

const (
	EventDecision    EventKind = "decision"
	EventEditRequest EventKind = "edit_request"
	EventWatch       EventKind = "watch"
	EventText        EventKind = "text"
	EventCommand     EventKind = "command"
)

// Event is an inbound update reduced to what the listener acts on.
type Event struct {
	Kind       EventKind
	UpdateID   int64
	DraftID    string
	Decision   approval.DecisionKind
	Text       string
	Command    string
	Args       string
	MessageID  int64
	CallbackID string
}

// callback_data actions
const (
	actionA     = "a"
	actionB     = "b"
	actionEdit  = "edit"
	actionSkip  = "skip"
	actionWatch = "watch"
)

func callbackData(action, draftID string) string {
	return action + "|" + draftID
}

// ParseUpdate maps an update to an Event. Updates from chats other than chatID, and anything
// that is neither a known button nor a text message, are dropped.
func ParseUpdate(u Update, chatID int64) (Event, bool) {
	switch {
	case u.CallbackQuery != nil:
		return parseCallback(u, chatID)
	case u.Message != nil:
		return parseMessage(u, chatID)
	default:
		return Event{}, false
	}
}

func parseCallback(u Update, chatID int64) (Event, bool) {
	cq := u.CallbackQuery
	if cq.Message == nil || (chatID != 0 && cq.Message.Chat.ID != chatID) {
		return Event{}, false
	}
	action, draftID, ok := strings.Cut(cq.Data, "|")
	if !ok || draftID == "" {
		return Event{}, false
	}

	ev := Event{
		UpdateID:   u.UpdateID,
		DraftID:    draftID,
		MessageID:  cq.Message.MessageID,
		CallbackID: cq.ID,
	}
	switch action {
	case actionA:
		ev.Kind, ev.Decision = EventDecision, approval.KindApproveA
	case actionB:
		ev.Kind, ev.Decision = EventDecision, approval.KindApproveB
	case actionSkip:
		ev.Kind, ev.Decision = EventDecision, approval.KindSkip
	case actionEdit:
		ev.Kind = EventEditRequest
	case actionWatch:
		ev.Kind = EventWatch
	default:
		return Event{}, false
	}
	return ev, true
}

func parseMessage(u Update, chatID int64) (Event, bool) {
	m := u.Message
	if chatID != 0 && m.Chat.ID != chatID {
		return Event{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return Event{}, false
	}

	ev := Event{UpdateID: u.UpdateID, MessageID: m.MessageID}
	if strings.HasPrefix(text, "/") {
		cmd, args, _ := strings.Cut(text[1:], " ")
		// "/report@riposte_bot" in group chats
		cmd, _, _ = strings.Cut(cmd, "@")
		ev.Kind = EventCommand
		ev.Command = strings.ToLower(cmd)
		ev.Args = strings.TrimSpace(args)
		return ev, true
	}
	ev.Kind = EventText
	ev.Text = text
	return ev, true
}
