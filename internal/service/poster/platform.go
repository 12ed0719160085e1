package poster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/models"
)

// Category classifies why a publish attempt failed.
type Category string

const (
	CategoryRateLimited     Category = "rate_limited"
	CategoryNetwork         Category = "network"
	CategoryServer          Category = "server"
	CategoryAuth            Category = "auth"
	CategoryContentRejected Category = "content_rejected"
	CategoryUnknown         Category = "unknown"
)

// Retryable reports whether another attempt may succeed.
func (c Category) Retryable() bool {
	switch c {
	case CategoryRateLimited, CategoryNetwork, CategoryServer:
		return true
	default:
		return false
	}
}

// PublishError is returned by a Platform when an attempt fails. Duplicate marks a rejection
// because the same text was already posted.
type PublishError struct {
	Category  Category
	Message   string
	Duplicate bool
	Err       error
}

func (e *PublishError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("publish failed (%s): %s", e.Category, msg)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Classify turns any platform error into a PublishError.
func Classify(err error) *PublishError {
	if err == nil {
		return nil
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &PublishError{Category: CategoryNetwork, Err: err}
	}
	return &PublishError{Category: CategoryUnknown, Err: err}
}

// IsDuplicate reports whether err is a duplicate-content rejection.
func IsDuplicate(err error) bool {
	var pe *PublishError
	return errors.As(err, &pe) && pe.Duplicate
}

// Platform publishes a reply to a post and returns the new post's id.
type Platform interface {
	Name() string
	Publish(ctx context.Context, post *models.Post, text string) (string, error)
}

// Registry holds the platforms the poster can be pointed at, keyed by name.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		platforms: make(map[string]Platform),
		logger:    logger,
	}
}

func (r *Registry) Register(platform Platform) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := platform.Name()
	if _, exists := r.platforms[name]; exists {
		return fmt.Errorf("platform %s already registered", name)
	}
	r.platforms[name] = platform
	r.logger.Debug("Platform registered", zap.String("platform", name))
	return nil
}

func (r *Registry) Get(name string) (Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	platform, exists := r.platforms[name]
	if !exists {
		return nil, fmt.Errorf("platform %s not found", name)
	}
	return platform, nil
}

// Names lists registered platforms in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewPlatform builds the platform selected by cfg.Type. An X platform without a token is not
// registered, so selecting it fails instead of posting anonymously.
func NewPlatform(cfg config.PlatformConfig, logger *zap.Logger) (Platform, error) {
	registry := NewRegistry(logger)
	if err := registry.Register(NewDryRunPlatform(logger)); err != nil {
		return nil, err
	}
	if cfg.Token != "" {
		if err := registry.Register(NewXPlatform(cfg)); err != nil {
			return nil, err
		}
	}

	name := cfg.Type
	if name == "" {
		name = DryRunName
	}
	return registry.Get(name)
}
