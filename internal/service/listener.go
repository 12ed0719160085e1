package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/metrics"
	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/internal/service/approval"
	"github.com/ifuryst/riposte/internal/service/channel"
	"github.com/ifuryst/riposte/internal/service/poster"
	"github.com/ifuryst/riposte/pkg/util"
)

type DecisionApplier interface {
	OnDecision(ctx context.Context, draftID string, d approval.Decision) (approval.DecisionResult, error)
	Get(ctx context.Context, draftID string) (*models.Draft, error)
}

type Publisher interface {
	Publish(ctx context.Context, draftID string) (*models.PostResult, error)
}

// Chat is the outbound side of the approval channel.
type Chat interface {
	SendMessage(ctx context.Context, text string, markup *channel.InlineKeyboard) (int64, error)
	EditMessage(ctx context.Context, messageID int64, text string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

type WatchlistStore interface {
	AddWatchedAccount(ctx context.Context, account *models.WatchedAccount) (bool, error)
	ListWatchedAccounts(ctx context.Context) ([]models.WatchedAccount, error)
}

type Reporter interface {
	Today(ctx context.Context) (*models.DailyStats, error)
}

// Outcome is what happened to a decision, including the publish result when the decision
// approved a draft.
type Outcome struct {
	approval.DecisionResult
	Result     *models.PostResult
	PublishErr error
}

const helpText = "Tap a button on a card to decide.\n\n/report today's stats\n/watchlist watched accounts\n/cancel leave edit mode"

// Listener reacts to approval channel events. Events are sharded by draft id so decisions on one
// draft are handled one at a time while different drafts proceed concurrently.
type Listener struct {
	decisions DecisionApplier
	publisher Publisher
	chat      Chat
	watchlist WatchlistStore
	reporter  Reporter
	metrics   *metrics.Collector
	logger    *zap.Logger

	queues []chan channel.Event
	wg     sync.WaitGroup

	mu      sync.Mutex
	editing string
}

func NewListener(decisions DecisionApplier, publisher Publisher, chat Chat, watchlist WatchlistStore, reporter Reporter, workers int, logger *zap.Logger) *Listener {
	if workers <= 0 {
		workers = 4
	}
	l := &Listener{
		decisions: decisions,
		publisher: publisher,
		chat:      chat,
		watchlist: watchlist,
		reporter:  reporter,
		logger:    logger,
		queues:    make([]chan channel.Event, workers),
	}
	for i := range l.queues {
		l.queues[i] = make(chan channel.Event, 64)
	}
	return l
}

func (l *Listener) WithMetrics(m *metrics.Collector) *Listener {
	l.metrics = m
	return l
}

// Start launches the workers. They exit once Stop closes the queues.
func (l *Listener) Start(ctx context.Context) {
	for i, q := range l.queues {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.logger.Debug("Listener worker started", zap.Int("worker", i))
			for ev := range q {
				l.process(ctx, ev)
			}
		}()
	}
}

// Stop drains the queued events and waits for the workers.
func (l *Listener) Stop() {
	for _, q := range l.queues {
		close(q)
	}
	l.wg.Wait()
	l.logger.Info("Listener stopped")
}

// Handle queues an event. Edit mode is tracked here, in arrival order, so a text message is
// bound to the draft whose Edit button was pressed last.
func (l *Listener) Handle(ctx context.Context, ev channel.Event) {
	l.mu.Lock()
	switch ev.Kind {
	case channel.EventEditRequest:
		l.editing = ev.DraftID
	case channel.EventCommand:
		if ev.Command == "cancel" {
			l.editing = ""
		}
	case channel.EventText:
		ev.DraftID = l.editing
		l.editing = ""
	}
	l.mu.Unlock()

	select {
	case l.queues[l.shard(ev.DraftID)] <- ev:
	case <-ctx.Done():
		l.logger.Warn("Dropped event on shutdown", zap.Int64("update_id", ev.UpdateID))
	}
}

func (l *Listener) shard(draftID string) int {
	if draftID == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(draftID))
	return int(h.Sum32() % uint32(len(l.queues)))
}

func (l *Listener) process(ctx context.Context, ev channel.Event) {
	log := l.logger.With(zap.Int64("update_id", ev.UpdateID), zap.String("kind", string(ev.Kind)))
	if ev.DraftID != "" {
		log = log.With(zap.String("draft_id", ev.DraftID))
	}

	switch ev.Kind {
	case channel.EventDecision:
		l.onButtonDecision(ctx, ev, log)
	case channel.EventEditRequest:
		l.onEditRequest(ctx, ev, log)
	case channel.EventText:
		l.onText(ctx, ev, log)
	case channel.EventWatch:
		l.onWatch(ctx, ev, log)
	case channel.EventCommand:
		l.onCommand(ctx, ev, log)
	}
}

// Decide applies a decision and, when it approved the draft, publishes it right away.
func (l *Listener) Decide(ctx context.Context, draftID string, d approval.Decision) (Outcome, error) {
	res, err := l.decisions.OnDecision(ctx, draftID, d)
	if err != nil {
		return Outcome{}, err
	}
	if l.metrics != nil {
		l.metrics.ObserveDecision(string(d.Kind), res.Applied)
	}

	out := Outcome{DecisionResult: res}
	if res.Applied && res.Draft.Status.Approved() {
		out.Result, out.PublishErr = l.publisher.Publish(ctx, draftID)
	}
	return out, nil
}

func (l *Listener) onButtonDecision(ctx context.Context, ev channel.Event, log *zap.Logger) {
	out, err := l.Decide(ctx, ev.DraftID, approval.Decision{Kind: ev.Decision}.From("telegram"))
	if err != nil {
		log.Warn("Decision rejected", zap.Error(err))
		l.answer(ctx, ev, rejectionText(err), log)
		return
	}
	if !out.Applied {
		l.answer(ctx, ev, channel.FormatAlreadyDecided(out.Draft), log)
		return
	}

	l.answer(ctx, ev, "", log)
	if err := l.chat.EditMessage(ctx, ev.MessageID, channel.FormatDecision(out.Draft)); err != nil {
		log.Warn("Failed to update card", zap.Error(err))
	}
	l.reportPublish(ctx, out, log)
}

func (l *Listener) onEditRequest(ctx context.Context, ev channel.Event, log *zap.Logger) {
	draft, err := l.decisions.Get(ctx, ev.DraftID)
	if err != nil {
		l.leaveEditMode(ev.DraftID)
		l.answer(ctx, ev, rejectionText(err), log)
		return
	}
	if draft.Status != models.DraftPending {
		l.leaveEditMode(ev.DraftID)
		l.answer(ctx, ev, channel.FormatAlreadyDecided(draft), log)
		return
	}
	l.answer(ctx, ev, "", log)
	l.send(ctx, channel.FormatEditPrompt(draft), log)
}

func (l *Listener) onText(ctx context.Context, ev channel.Event, log *zap.Logger) {
	if ev.DraftID == "" {
		l.send(ctx, helpText, log)
		return
	}

	out, err := l.Decide(ctx, ev.DraftID, approval.Edit(ev.Text).From("telegram"))
	if err != nil {
		log.Warn("Edit rejected", zap.Error(err))
		l.send(ctx, "❌ "+rejectionText(err), log)
		return
	}
	if !out.Applied {
		l.send(ctx, channel.FormatAlreadyDecided(out.Draft), log)
		return
	}
	l.send(ctx, channel.FormatDecision(out.Draft), log)
	l.reportPublish(ctx, out, log)
}

func (l *Listener) onWatch(ctx context.Context, ev channel.Event, log *zap.Logger) {
	draft, err := l.decisions.Get(ctx, ev.DraftID)
	if err != nil {
		l.answer(ctx, ev, rejectionText(err), log)
		return
	}
	if draft.Post == nil || draft.Post.AuthorHandle == "" {
		l.answer(ctx, ev, "No handle found.", log)
		return
	}

	handle := draft.Post.AuthorHandle
	created, err := l.watchlist.AddWatchedAccount(ctx, &models.WatchedAccount{Handle: handle})
	if err != nil {
		log.Error("Failed to add watched account", zap.String("handle", handle), zap.Error(err))
		l.answer(ctx, ev, "Could not update the watchlist.", log)
		return
	}
	l.answer(ctx, ev, "", log)
	if created {
		l.send(ctx, fmt.Sprintf("➕ <b>@%s added to watchlist</b>", util.EscapeHTML(handle)), log)
	} else {
		l.send(ctx, fmt.Sprintf("👀 <b>@%s already on watchlist</b>", util.EscapeHTML(handle)), log)
	}
}

func (l *Listener) onCommand(ctx context.Context, ev channel.Event, log *zap.Logger) {
	switch ev.Command {
	case "cancel":
		l.send(ctx, "Cancelled.", log)
	case "report":
		stats, err := l.reporter.Today(ctx)
		if err != nil {
			log.Error("Failed to build report", zap.Error(err))
			l.send(ctx, "❌ Could not build the report.", log)
			return
		}
		l.send(ctx, FormatReport(stats, true), log)
	case "watchlist":
		accounts, err := l.watchlist.ListWatchedAccounts(ctx)
		if err != nil {
			log.Error("Failed to list watchlist", zap.Error(err))
			l.send(ctx, "❌ Could not load the watchlist.", log)
			return
		}
		l.send(ctx, channel.FormatWatchlist(accounts), log)
	default:
		l.send(ctx, helpText, log)
	}
}

func (l *Listener) reportPublish(ctx context.Context, out Outcome, log *zap.Logger) {
	switch {
	case out.PublishErr != nil:
		log.Error("Publish failed", zap.Error(out.PublishErr))
		l.send(ctx, "❌ Publish failed: "+util.EscapeHTML(out.PublishErr.Error()), log)
	case out.Result != nil:
		l.send(ctx, channel.FormatPublishResult(out.Draft, out.Result), log)
	}
}

func (l *Listener) leaveEditMode(draftID string) {
	l.mu.Lock()
	if l.editing == draftID {
		l.editing = ""
	}
	l.mu.Unlock()
}

func (l *Listener) answer(ctx context.Context, ev channel.Event, text string, log *zap.Logger) {
	if ev.CallbackID == "" {
		return
	}
	if err := l.chat.AnswerCallback(ctx, ev.CallbackID, text); err != nil {
		log.Debug("Failed to answer callback", zap.Error(err))
	}
}

func (l *Listener) send(ctx context.Context, text string, log *zap.Logger) {
	if _, err := l.chat.SendMessage(ctx, text, nil); err != nil {
		log.Warn("Failed to send message", zap.Error(err))
	}
}

func rejectionText(err error) string {
	switch {
	case errors.Is(err, approval.ErrUnknownDraft):
		return "Draft not found."
	case errors.Is(err, approval.ErrInvalidDecision):
		return "The reply text is empty."
	case errors.Is(err, poster.ErrNotApproved):
		return "Draft is not approved."
	default:
		return "Something went wrong."
	}
}
