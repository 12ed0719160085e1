package channel

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Handler receives parsed events in update order.
type Handler func(ctx context.Context, ev Event)

// Poller pulls updates with getUpdates and hands them to a Handler until ctx ends.
type Poller struct {
	client     *Telegram
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewPoller(client *Telegram, logger *zap.Logger) *Poller {
	return &Poller{
		client:     client,
		logger:     logger,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

func (p *Poller) Run(ctx context.Context, handle Handler) error {
	if err := p.client.DeleteWebhook(ctx); err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return err
		}
		p.logger.Warn("Failed to delete webhook before polling", zap.Error(err))
	}

	p.logger.Info("Starting Telegram poller")
	var offset int64
	backoff := p.minBackoff
	for {
		updates, err := p.client.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("Telegram poller stopped")
				return nil
			}
			wait := backoff
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				wait = time.Duration(apiErr.RetryAfter) * time.Second
			}
			p.logger.Warn("getUpdates failed", zap.Error(err), zap.Duration("retry_in", wait))

			select {
			case <-ctx.Done():
				p.logger.Info("Telegram poller stopped")
				return nil
			case <-time.After(wait):
			}
			backoff = min(backoff*2, p.maxBackoff)
			continue
		}
		backoff = p.minBackoff

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if ev, ok := ParseUpdate(u, p.client.ChatID()); ok {
				handle(ctx, ev)
			}
		}
	}
}
