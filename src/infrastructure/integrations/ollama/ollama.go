// Package ollama adapts a local Ollama server to the embedding, language and
// vision model interfaces.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"docrag/src/core/rag"
	"docrag/src/log"
)

const (
	DefaultURL = "http://localhost:11434"
)

// Options tune generation. Zero values are left to the server.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Client wraps the Ollama API client with fixed models.
type Client struct {
	api            *api.Client
	embeddingModel string
	model          string
	options        Options
}

// NewClient creates a new Ollama client. Either model may be empty when the
// client only serves the other role.
func NewClient(baseURL string, c *http.Client, embeddingModel, model string, options Options) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	// older configs carry the /api suffix
	base, err := url.Parse(strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/api"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	if c == nil {
		c = http.DefaultClient
	}

	return &Client{
		api:            api.NewClient(base, c),
		embeddingModel: embeddingModel,
		model:          model,
		options:        options,
	}, nil
}

// CreateEmbedding embeds texts in one request.
func (c *Client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.api.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, classify(err)
	}
	return resp.Embeddings, nil
}

// Generate runs a single non-streaming completion.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	return c.generate(ctx, &api.GenerateRequest{
		Model:  c.model,
		System: system,
		Prompt: prompt,
	})
}

// DescribeImage sends an image with an instruction to a multimodal model.
func (c *Client) DescribeImage(ctx context.Context, image []byte, _ string, instruction string) (string, error) {
	return c.generate(ctx, &api.GenerateRequest{
		Model:  c.model,
		Prompt: instruction,
		Images: []api.ImageData{image},
	})
}

func (c *Client) generate(ctx context.Context, req *api.GenerateRequest) (string, error) {
	stream := false
	req.Stream = &stream
	req.Options = c.requestOptions()

	var sb strings.Builder
	err := c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		if resp.Done && resp.DoneReason == "length" {
			log.Info("Ollama response hit the token limit", "model", req.Model)
		}
		return nil
	})
	if err != nil {
		log.Error(err, "failed to make request to ollama", "model", req.Model)
		return "", classify(err)
	}
	return sb.String(), nil
}

func (c *Client) requestOptions() map[string]interface{} {
	opts := map[string]interface{}{}
	if c.options.Temperature > 0 {
		opts["temperature"] = c.options.Temperature
	}
	if c.options.MaxTokens > 0 {
		opts["num_predict"] = c.options.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 && statusErr.StatusCode != http.StatusTooManyRequests {
			return rag.Permanent(err)
		}
	}
	return err
}
