// Package index defines the vector index used by ingestion and query.
package index

import (
	"context"
	"math"
	"time"

	"docrag/src/core/rag"
)

// Index stores embedding records and answers cosine nearest-neighbour queries.
type Index interface {
	// EnsureCollection creates the collection if it is missing and fails if
	// an existing one has a different dimensionality.
	EnsureCollection(ctx context.Context) error
	// Upsert writes records by id. Writing the same id twice keeps one record.
	Upsert(ctx context.Context, records []rag.EmbeddingRecord) (int, error)
	// Search returns at most topK records whose similarity is at least
	// scoreThreshold, best first. NoThreshold disables the cut.
	Search(ctx context.Context, vector []float32, topK int, scoreThreshold float64) ([]rag.ScoredRecord, error)
	// DeleteSource removes every record of a source.
	DeleteSource(ctx context.Context, sourceID string) (int, error)
	Dimension() int
}

// NoThreshold disables the similarity cut in Search. Cosine similarity
// never goes below it.
const NoThreshold = -1.0

// BelowThreshold reports whether Search must drop a hit with score.
func BelowThreshold(score, threshold float64) bool {
	return threshold > NoThreshold && score < threshold
}

// CheckDimensions rejects records whose vector size differs from dim.
func CheckDimensions(records []rag.EmbeddingRecord, dim int) error {
	for _, r := range records {
		if len(r.Vector) != dim {
			return rag.NewError(rag.ErrIndex, false, rag.ErrDimensionMismatch,
				"record %s has %d dimensions, collection has %d", r.ID, len(r.Vector), dim)
		}
	}
	return nil
}

// CheckQuery validates a search vector and limit.
func CheckQuery(vector []float32, topK, dim int) error {
	if len(vector) != dim {
		return rag.NewError(rag.ErrIndex, false, rag.ErrDimensionMismatch,
			"query has %d dimensions, collection has %d", len(vector), dim)
	}
	if topK <= 0 {
		return rag.NewError(rag.ErrInvalidFormat, false, nil, "top_k must be positive, got %d", topK)
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, 0 when either is zero.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Unavailable wraps a backend failure as a retryable index error.
func Unavailable(err error, format string, args ...interface{}) error {
	return rag.NewError(rag.ErrIndex, true, err, format, args...)
}

type timeoutIndex struct {
	Index
	timeout time.Duration
}

// WithTimeout bounds every call to idx. A zero timeout returns idx unchanged.
func WithTimeout(idx Index, timeout time.Duration) Index {
	if timeout <= 0 {
		return idx
	}
	return &timeoutIndex{Index: idx, timeout: timeout}
}

func (t *timeoutIndex) EnsureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Index.EnsureCollection(ctx)
}

func (t *timeoutIndex) Upsert(ctx context.Context, records []rag.EmbeddingRecord) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Index.Upsert(ctx, records)
}

func (t *timeoutIndex) Search(ctx context.Context, vector []float32, topK int, scoreThreshold float64) ([]rag.ScoredRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Index.Search(ctx, vector, topK, scoreThreshold)
}

func (t *timeoutIndex) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Index.DeleteSource(ctx, sourceID)
}
