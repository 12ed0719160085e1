package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/pkg/llm"
)

type scriptedProvider struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, messages []llm.Message, _ llm.Options) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, messages[0].Content)
	p.mu.Unlock()
	return p.reply(messages[0].Content)
}

func testPost() *models.Post {
	return &models.Post{
		ID:              "1890",
		AuthorHandle:    "researcher",
		AuthorFollowers: 48_200,
		Views:           12_000,
		Likes:           310,
		Text:            "RLHF is dead, DPO does everything now.",
	}
}

func newGenerator(p llm.Provider) *LLMGenerator {
	return NewLLMGenerator(p, config.LLMConfig{MaxChars: 280, Persona: "a tester."}, zap.NewNop())
}

func TestGenerateBuildsBothOptions(t *testing.T) {
	long := strings.Repeat("DPO still inherits preference noise from the labels ", 3)
	p := &scriptedProvider{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "CHALLENGE") {
			return "\"" + long + "\"", nil
		}
		return "Expand: reward models still matter for online RL. #LLM", nil
	}}

	pair, err := newGenerator(p).Generate(context.Background(), testPost())
	require.NoError(t, err)

	assert.Equal(t, strings.TrimSpace(long), pair.A)
	assert.Equal(t, "Expand: reward models still matter for online RL.", pair.B)
	assert.Empty(t, pair.IssuesA)
	assert.NotEmpty(t, pair.IssuesB)

	require.Len(t, p.prompts, 2)
	for _, prompt := range p.prompts {
		assert.Contains(t, prompt, "You are a tester.")
		assert.Contains(t, prompt, "@researcher (48.2K followers, 12.0K views, 310 likes)")
		assert.Contains(t, prompt, "RLHF is dead")
	}
}

func TestGenerateTrimsToLimit(t *testing.T) {
	p := &scriptedProvider{reply: func(string) (string, error) {
		return strings.Repeat("token ", 80), nil
	}}

	pair, err := newGenerator(p).Generate(context.Background(), testPost())
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(pair.A)), 280)
	assert.LessOrEqual(t, len([]rune(pair.B)), 280)
}

func TestGenerateFailure(t *testing.T) {
	p := &scriptedProvider{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "EXPAND") {
			return "", errors.New("upstream 503")
		}
		return "fine", nil
	}}

	_, err := newGenerator(p).Generate(context.Background(), testPost())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, err.Error(), "upstream 503")
}

func TestGenerateEmptyOutputFails(t *testing.T) {
	p := &scriptedProvider{reply: func(string) (string, error) { return "  #AI  ", nil }}

	_, err := newGenerator(p).Generate(context.Background(), testPost())
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestValidate(t *testing.T) {
	assert.NotEmpty(t, Validate("too short", 280))
	assert.NotEmpty(t, Validate(strings.Repeat("x", 300), 280))

	good := strings.Repeat("Preference data quality dominates the choice of optimizer here. ", 3)
	assert.Empty(t, Validate(good, 280))

	issues := Validate("Great post! "+good, 280)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "great post")
}

func TestNewProviderWithFallback(t *testing.T) {
	p, err := NewProvider(config.LLMConfig{
		Provider: config.ProviderConfig{Name: "groq", Model: "llama"},
		Fallback: config.ProviderConfig{Name: "gemini", Model: "flash"},
	})
	require.NoError(t, err)
	assert.Equal(t, "groq,gemini", p.Name())

	p, err = NewProvider(config.LLMConfig{Provider: config.ProviderConfig{Name: "groq", Model: "llama"}})
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())
}
