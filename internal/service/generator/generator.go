// Package generator drafts two candidate replies for a post with a language model.
package generator

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/pkg/llm"
	"github.com/ifuryst/riposte/pkg/util"
)

var ErrGenerationFailed = errors.New("draft generation failed")

// Pair holds option A (challenge) and option B (expand) plus the validation issues of each.
type Pair struct {
	A       string
	B       string
	IssuesA []string
	IssuesB []string
}

type Generator interface {
	Generate(ctx context.Context, post *models.Post) (Pair, error)
}

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

const defaultPersona = "an ML engineer who works on post-training, agentic AI and evaluation."

type LLMGenerator struct {
	provider llm.Provider
	persona  string
	opts     llm.Options
	maxChars int
	logger   *zap.Logger
}

func NewLLMGenerator(provider llm.Provider, cfg config.LLMConfig, logger *zap.Logger) *LLMGenerator {
	persona := strings.TrimSpace(cfg.Persona)
	if persona == "" {
		persona = defaultPersona
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 280
	}
	return &LLMGenerator{
		provider: provider,
		persona:  persona,
		opts:     llm.Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens},
		maxChars: maxChars,
		logger:   logger,
	}
}

// NewProvider builds the primary provider and, when configured, wraps it with the fallback.
func NewProvider(cfg config.LLMConfig) (llm.Provider, error) {
	primary, err := llm.NewProvider(providerConfig(cfg.Provider))
	if err != nil {
		return nil, err
	}
	if cfg.Fallback.Name == "" && cfg.Fallback.APIURL == "" {
		return primary, nil
	}
	fallback, err := llm.NewProvider(providerConfig(cfg.Fallback))
	if err != nil {
		return nil, err
	}
	return llm.NewFallbackProvider(primary, fallback), nil
}

func providerConfig(p config.ProviderConfig) llm.Config {
	return llm.Config{Name: p.Name, Model: p.Model, APIKey: p.APIKey, APIURL: p.APIURL}
}

type promptData struct {
	Persona      string
	AuthorHandle string
	Followers    string
	Views        string
	Likes        string
	Text         string
	MinChars     int
	MaxChars     int
}

func (g *LLMGenerator) Generate(ctx context.Context, post *models.Post) (Pair, error) {
	data := promptData{
		Persona:      g.persona,
		AuthorHandle: post.AuthorHandle,
		Followers:    util.FormatCount(post.AuthorFollowers),
		Views:        util.FormatCount(post.Views),
		Likes:        util.FormatCount(post.Likes),
		Text:         post.Text,
		MinChars:     g.maxChars * 5 / 7,
		MaxChars:     g.maxChars,
	}

	var pair Pair
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		text, err := g.option(egCtx, "challenge.tmpl", data)
		pair.A = text
		return err
	})
	eg.Go(func() error {
		text, err := g.option(egCtx, "expand.tmpl", data)
		pair.B = text
		return err
	})
	if err := eg.Wait(); err != nil {
		return Pair{}, fmt.Errorf("%w: post %s: %v", ErrGenerationFailed, post.ID, err)
	}

	pair.IssuesA = Validate(pair.A, g.maxChars)
	pair.IssuesB = Validate(pair.B, g.maxChars)
	for option, issues := range map[string][]string{"A": pair.IssuesA, "B": pair.IssuesB} {
		if len(issues) > 0 {
			g.logger.Warn("Draft option has issues",
				zap.String("post_id", post.ID),
				zap.String("option", option),
				zap.Strings("issues", issues))
		}
	}
	return pair, nil
}

func (g *LLMGenerator) option(ctx context.Context, name string, data promptData) (string, error) {
	var prompt bytes.Buffer
	if err := prompts.ExecuteTemplate(&prompt, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}

	out, err := g.provider.Complete(ctx, []llm.Message{{Role: "user", Content: prompt.String()}}, g.opts)
	if err != nil {
		return "", err
	}

	text := util.CleanGenerated(out)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	if util.CharCount(text) > g.maxChars {
		text = util.TrimToWord(text, g.maxChars)
	}
	return text, nil
}
