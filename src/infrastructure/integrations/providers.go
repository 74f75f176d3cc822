// Package integrations builds model clients from configuration.
package integrations

import (
	"context"
	"fmt"
	"net/http"

	"docrag/src/core/rag"
	"docrag/src/infrastructure/integrations/gemini"
	"docrag/src/infrastructure/integrations/ollama"
	"docrag/src/infrastructure/integrations/openai"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Credentials holds the per-vendor connection settings.
type Credentials struct {
	OpenAIKey     string
	OpenAIBaseURL string
	OllamaURL     string
	GeminiKey     string
	HTTPClient    *http.Client
}

// ModelConfig selects a provider and model for one role.
type ModelConfig struct {
	Provider    string
	Model       string
	Dimensions  int
	Temperature float64
	MaxTokens   int
}

// NewEmbeddingClient returns the embedding client for cfg.
func NewEmbeddingClient(ctx context.Context, creds Credentials, cfg ModelConfig) (rag.EmbeddingClient, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return ollama.NewClient(creds.OllamaURL, creds.HTTPClient, cfg.Model, "", ollama.Options{})
	case ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:         creds.OpenAIKey,
			BaseURL:        creds.OpenAIBaseURL,
			EmbeddingModel: cfg.Model,
			HTTPClient:     creds.HTTPClient,
		})
	case ProviderGemini:
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:         creds.GeminiKey,
			EmbeddingModel: cfg.Model,
			Dimensions:     cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewLanguageModel returns the answer generation model for cfg.
func NewLanguageModel(ctx context.Context, creds Credentials, cfg ModelConfig) (rag.LanguageModel, error) {
	return newGenerator(ctx, creds, cfg)
}

// NewVisionModel returns the image description model for cfg, or nil when no
// provider is configured.
func NewVisionModel(ctx context.Context, creds Credentials, cfg ModelConfig) (rag.VisionModel, error) {
	if cfg.Provider == "" || cfg.Model == "" {
		return nil, nil
	}
	return newGenerator(ctx, creds, cfg)
}

type generator interface {
	rag.LanguageModel
	rag.VisionModel
}

func newGenerator(ctx context.Context, creds Credentials, cfg ModelConfig) (generator, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return ollama.NewClient(creds.OllamaURL, creds.HTTPClient, "", cfg.Model, ollama.Options{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	case ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:      creds.OpenAIKey,
			BaseURL:     creds.OpenAIBaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			HTTPClient:  creds.HTTPClient,
		})
	case ProviderGemini:
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:      creds.GeminiKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
