// Package llm talks to chat-completion endpoints.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyResponse = errors.New("llm returned an empty response")

type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Options struct {
	Temperature float64
	MaxTokens   int
}

type Config struct {
	Name   string
	Model  string
	APIKey string
	APIURL string
}

// NewProvider builds the provider for cfg. Every supported backend speaks the OpenAI
// chat-completions dialect; Name only selects the default endpoint.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Name) {
	case "openai", "groq", "gemini", "ollama", "":
		if cfg.APIURL == "" {
			cfg.APIURL = defaultURLs[strings.ToLower(cfg.Name)]
		}
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Name)
	}
}

var defaultURLs = map[string]string{
	"":       "https://api.openai.com/v1",
	"openai": "https://api.openai.com/v1",
	"groq":   "https://api.groq.com/openai/v1",
	"gemini": "https://generativelanguage.googleapis.com/v1beta/openai",
	"ollama": "http://localhost:11434/v1",
}

// FallbackProvider tries each provider in order and returns the first non-empty completion.
type FallbackProvider struct {
	providers []Provider
}

func NewFallbackProvider(providers ...Provider) *FallbackProvider {
	return &FallbackProvider{providers: providers}
}

func (f *FallbackProvider) Name() string {
	names := make([]string, 0, len(f.providers))
	for _, p := range f.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, ",")
}

func (f *FallbackProvider) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if len(f.providers) == 0 {
		return "", errors.New("no llm provider configured")
	}

	var errs []error
	for _, p := range f.providers {
		out, err := p.Complete(ctx, messages, opts)
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}
