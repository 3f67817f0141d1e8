// Package llm holds the chat-completion backends the summarizer can use.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider completes a chat and returns the raw text of the first answer.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderXAI    = "xai"
	ProviderGemini = "gemini"
)

const (
	defaultTimeout     = 120 * time.Second
	defaultTemperature = 0.2
)

// Options selects and configures a provider.
type Options struct {
	Provider    string
	OpenAIKey   string
	OpenAIModel string
	XAIKey      string
	XAIModel    string
	GeminiKey   string
	GeminiModel string
	MaxRetries  int
	Logger      *slog.Logger
}

// New builds the provider named by opts.Provider. Exactly one backend is
// active per process.
func New(ctx context.Context, opts Options) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Provider))
	if name == "" {
		name = ProviderOpenAI
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch name {
	case ProviderOpenAI:
		if opts.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for provider %s", name)
		}
		c := NewOpenAI(opts.OpenAIKey, opts.OpenAIModel, logger)
		c.maxRetries = opts.MaxRetries
		return c, nil
	case ProviderXAI:
		if opts.XAIKey == "" {
			return nil, fmt.Errorf("XAI_API_KEY is required for provider %s", name)
		}
		c := NewXAI(opts.XAIKey, opts.XAIModel, logger)
		c.maxRetries = opts.MaxRetries
		return c, nil
	case ProviderGemini:
		if opts.GeminiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for provider %s", name)
		}
		return NewGemini(ctx, opts.GeminiKey, opts.GeminiModel)
	default:
		return nil, fmt.Errorf("unknown provider %q", opts.Provider)
	}
}
