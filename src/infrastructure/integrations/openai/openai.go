// Package openai adapts OpenAI compatible APIs through langchaingo.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"docrag/src/core/rag"
)

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float64
	MaxTokens      int
	HTTPClient     *http.Client
}

// Client serves embeddings, chat completions and image descriptions.
type Client struct {
	llm         *lcopenai.LLM
	temperature float64
	maxTokens   int
}

func NewClient(cfg Config) (*Client, error) {
	opts := []lcopenai.Option{lcopenai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, lcopenai.WithModel(cfg.Model))
	}
	if cfg.EmbeddingModel != "" {
		opts = append(opts, lcopenai.WithEmbeddingModel(cfg.EmbeddingModel))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, lcopenai.WithHTTPClient(cfg.HTTPClient))
	}

	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return &Client{llm: llm, temperature: cfg.Temperature, maxTokens: cfg.MaxTokens}, nil
}

func (c *Client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := c.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, classify(err)
	}
	return vecs, nil
}

func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	return c.complete(ctx, messages)
}

func (c *Client) DescribeImage(ctx context.Context, image []byte, mimeType, instruction string) (string, error) {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	messages := []llms.MessageContent{{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextPart(instruction),
			llms.ImageURLPart(dataURL),
		},
	}}
	return c.complete(ctx, messages)
}

func (c *Client) complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	var opts []llms.CallOption
	if c.temperature > 0 {
		opts = append(opts, llms.WithTemperature(c.temperature))
	}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// classify marks rejected requests as permanent. langchaingo only exposes the
// HTTP status inside the error text.
func classify(err error) error {
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	code, _ := strconv.Atoi(m[1])
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return rag.Permanent(err)
	}
	return err
}
