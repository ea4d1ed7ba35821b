// Package llm adapts text generation backends to one streaming call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hpungsan/hyperknow/internal/config"
)

// defaultMaxTokens bounds a single generation when the caller sets no limit.
const defaultMaxTokens = 2048

// Gemini is served through Google's OpenAI-compatible endpoint.
const (
	GeminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta/openai/"
	GeminiDefaultModel = "gemini-2.5-flash"
)

// Request is one generation call.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
	// OnDelta, if set, receives text as it streams in.
	OnDelta func(text string)
}

func (r Request) maxTokens() int64 {
	if r.MaxTokens > 0 {
		return int64(r.MaxTokens)
	}
	return defaultMaxTokens
}

func (r Request) emit(text string) {
	if r.OnDelta != nil && text != "" {
		r.OnDelta(text)
	}
}

// Provider generates text.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// New builds the provider selected by cfg. API keys come from the environment.
func New(cfg config.Provider) (Provider, error) {
	providerType := strings.ToLower(strings.TrimSpace(cfg.Type))
	if providerType == "" || providerType == "echo" {
		return Echo{}, nil
	}

	apiKey := strings.TrimSpace(cfg.APIKey())
	if apiKey == "" {
		return nil, errors.New("missing provider api key")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	model := strings.TrimSpace(cfg.Model)

	switch providerType {
	case "openai":
		return newOpenAI(providerType, apiKey, baseURL, model), nil
	case "openai_compatible":
		if baseURL == "" {
			return nil, errors.New("openai_compatible provider requires base_url")
		}
		if model == "" {
			return nil, errors.New("openai_compatible provider requires model")
		}
		return newOpenAI(providerType, apiKey, baseURL, model), nil
	case "gemini":
		if baseURL == "" {
			baseURL = GeminiBaseURL
		}
		if model == "" {
			model = GeminiDefaultModel
		}
		return newOpenAI(providerType, apiKey, baseURL, model), nil
	case "anthropic":
		if model == "" {
			return nil, errors.New("anthropic provider requires model")
		}
		return newAnthropic(apiKey, baseURL, model), nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", providerType)
	}
}
