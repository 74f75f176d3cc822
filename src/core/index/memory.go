package index

import (
	"context"
	"slices"
	"sort"
	"sync"

	"docrag/src/core/rag"
)

// Memory is a brute-force in-process index.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]rag.EmbeddingRecord
}

// NewMemory creates an empty index for vectors of the given size.
func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		records:   make(map[string]rag.EmbeddingRecord),
	}
}

func (m *Memory) Dimension() int {
	return m.dimension
}

func (m *Memory) EnsureCollection(context.Context) error {
	if m.dimension <= 0 {
		return rag.NewError(rag.ErrIndex, false, rag.ErrDimensionMismatch, "invalid dimension %d", m.dimension)
	}
	return nil
}

func (m *Memory) Upsert(_ context.Context, records []rag.EmbeddingRecord) (int, error) {
	if err := CheckDimensions(records, m.dimension); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.Vector = slices.Clone(r.Vector)
		m.records[r.ID] = r
	}
	return len(records), nil
}

func (m *Memory) Search(_ context.Context, vector []float32, topK int, scoreThreshold float64) ([]rag.ScoredRecord, error) {
	if err := CheckQuery(vector, topK, m.dimension); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]rag.ScoredRecord, 0, len(m.records))
	for _, r := range m.records {
		score := Cosine(vector, r.Vector)
		if BelowThreshold(score, scoreThreshold) {
			continue
		}
		hits = append(hits, rag.ScoredRecord{Record: r, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *Memory) DeleteSource(_ context.Context, sourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for id, r := range m.records {
		if r.Payload.SourceID == sourceID {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
