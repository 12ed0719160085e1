package poster

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/models"
)

const DryRunName = "dryrun"

// DryRunPlatform logs replies instead of posting them.
type DryRunPlatform struct {
	logger *zap.Logger

	mu        sync.Mutex
	published map[string]string
}

func NewDryRunPlatform(logger *zap.Logger) *DryRunPlatform {
	return &DryRunPlatform{
		logger:    logger,
		published: make(map[string]string),
	}
}

func (p *DryRunPlatform) Name() string { return DryRunName }

func (p *DryRunPlatform) Publish(ctx context.Context, post *models.Post, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "dryrun-" + uuid.NewString()

	p.mu.Lock()
	p.published[id] = text
	p.mu.Unlock()

	p.logger.Info("Dry run reply",
		zap.String("in_reply_to", post.ID),
		zap.String("author", post.AuthorHandle),
		zap.String("platform_post_id", id),
		zap.String("text", text))
	return id, nil
}

// Published returns the text recorded under a dry-run id.
func (p *DryRunPlatform) Published(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.published[id]
	return text, ok
}
