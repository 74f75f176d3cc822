// Package gemini adapts the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"docrag/src/core/rag"
)

type Config struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Dimensions     int
	Temperature    float64
	MaxTokens      int
}

type Client struct {
	client *genai.Client
	config Config
}

// NewClient creates a new client for the Google Gemini API.
func NewClient(ctx context.Context, config Config) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = "text-embedding-004"
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{client: client, config: config}, nil
}

// CreateEmbedding embeds texts in one batch request.
func (c *Client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	cfg := genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	if c.config.Dimensions > 0 {
		dim := int32(c.config.Dimensions)
		cfg.OutputDimensionality = &dim
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbeddingModel, contents, &cfg)
	if err != nil {
		return nil, classify(fmt.Errorf("embedding failed: %w", err))
	}

	vecs := make([][]float32, 0, len(res.Embeddings))
	for _, e := range res.Embeddings {
		vecs = append(vecs, e.Values)
	}
	return vecs, nil
}

func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	cfg := c.generateConfig()
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return c.generate(ctx, genai.Text(prompt), cfg)
}

func (c *Client) DescribeImage(ctx context.Context, image []byte, mimeType, instruction string) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(image, mimeType),
		genai.NewPartFromText(instruction),
	}
	return c.generate(ctx, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, c.generateConfig())
}

func (c *Client) generateConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if c.config.Temperature > 0 {
		temp := float32(c.config.Temperature)
		cfg.Temperature = &temp
	}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	return cfg
}

func (c *Client) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, cfg)
	if err != nil {
		return "", classify(fmt.Errorf("generation failed: %w", err))
	}
	return responseText(resp), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func classify(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return rag.Permanent(err)
	}
	return err
}
