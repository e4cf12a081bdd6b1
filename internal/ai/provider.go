package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/kiliankoe/twentyq/internal/ai/ollama"
	"github.com/kiliankoe/twentyq/internal/ai/openai"
)

type Provider interface {
	Complete(ctx context.Context, model string, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, model string, systemPrompt string, prompt string) (string, error)
}

type Config struct {
	DefaultProvider string
	DefaultModel    string
	SystemPrompt    string
	OpenAIKey       string
	OpenAIBaseURL   string
	OllamaHost      string
	// Timeout is the HTTP client timeout; zero keeps the client default.
	Timeout time.Duration
}

// Providers builds every known provider keyed by name.
func Providers(cfg Config) map[string]Provider {
	return map[string]Provider{
		"openai": openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.Timeout),
		"ollama": ollama.New(cfg.OllamaHost, cfg.Timeout),
	}
}

// Bound pins a provider to one model and system prompt, which is the shape
// the game engine consumes.
type Bound struct {
	Provider     Provider
	Model        string
	SystemPrompt string
}

func Bind(p Provider, model, systemPrompt string) *Bound {
	return &Bound{Provider: p, Model: model, SystemPrompt: systemPrompt}
}

func (b *Bound) Complete(ctx context.Context, prompt string) (string, error) {
	return b.Provider.CompleteWithSystem(ctx, b.Model, b.SystemPrompt, prompt)
}

// Default binds the configured default provider and model.
func Default(cfg Config) (*Bound, error) {
	p, ok := Providers(cfg)[cfg.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", cfg.DefaultProvider)
	}
	return Bind(p, cfg.DefaultModel, cfg.SystemPrompt), nil
}
