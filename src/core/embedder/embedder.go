// Package embedder turns texts into fixed-dimension vectors through a remote
// embedding model.
package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"

	"docrag/src/core/rag"
	"docrag/src/log"
)

const DefaultBatchSize = 64

// Embedder batches texts to an embedding client and checks the result shape.
type Embedder struct {
	impl      *embeddings.EmbedderImpl
	dimension int
}

// New wraps client. Every returned vector must have exactly dimension values.
func New(client rag.EmbeddingClient, dimension, batchSize int) (*Embedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	impl, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(batchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &Embedder{impl: impl, dimension: dimension}, nil
}

// Dimension is the configured vector size.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed returns one vector per text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, rag.NewError(rag.ErrEmbeddingService, isTransient(err), err, "failed to embed %d texts", len(texts))
	}
	if len(vectors) != len(texts) {
		return nil, rag.NewError(rag.ErrEmbeddingService, true, nil,
			"embedding service returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, rag.NewError(rag.ErrEmbeddingService, false, rag.ErrDimensionMismatch,
				"vector %d has %d dimensions, configured %d", i, len(v), e.dimension)
		}
	}

	log.Debug("Embedded texts", "count", len(texts), "dimension", e.dimension)
	return vectors, nil
}

// EmbedQuery embeds a single question.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// isTransient treats network failures as retryable unless the provider
// marked the error permanent or the caller gave up.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !rag.IsPermanent(err)
}
