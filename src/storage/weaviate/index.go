package weaviate

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"

	"docrag/src/core/index"
	"docrag/src/core/rag"
	"docrag/src/log"
)

const descriptionFormat = "docrag chunks, vector dimension %d"

var chunkProperties = []*models.Property{
	{Name: "text", DataType: []string{"text"}},
	{Name: "sourceId", DataType: []string{"text"}},
	{Name: "chunkIndex", DataType: []string{"int"}},
	{Name: "sourceType", DataType: []string{"text"}},
	{Name: "page", DataType: []string{"int"}},
}

var chunkFields = []string{"text", "sourceId", "chunkIndex", "sourceType", "page"}

// Index stores embedding records in one Weaviate class.
type Index struct {
	sdk       *SDK
	className string
	dimension int
}

var _ index.Index = (*Index)(nil)

// NewIndex creates an index over className. Weaviate class names start with
// an upper case letter.
func NewIndex(sdk *SDK, className string, dimension int) *Index {
	return &Index{sdk: sdk, className: className, dimension: dimension}
}

func (x *Index) Dimension() int {
	return x.dimension
}

func (x *Index) EnsureCollection(ctx context.Context) error {
	class, err := x.sdk.GetClass(ctx, x.className)
	if err != nil {
		return x.wrap(err, "failed to describe class %s", x.className)
	}

	if class == nil {
		log.Info("Creating Weaviate class", "class", x.className, "dimension", x.dimension)
		err := x.sdk.CreateSchema(ctx, x.className, fmt.Sprintf(descriptionFormat, x.dimension), chunkProperties)
		if err != nil {
			return x.wrap(err, "failed to create class %s", x.className)
		}
		return nil
	}

	var dim int
	if _, err := fmt.Sscanf(class.Description, descriptionFormat, &dim); err != nil {
		log.Info("Weaviate class has no recorded dimension, skipping check", "class", x.className)
		return nil
	}
	if dim != x.dimension {
		return rag.NewError(rag.ErrIndex, false, rag.ErrDimensionMismatch,
			"class %s has dimension %d, configured %d", x.className, dim, x.dimension)
	}
	return nil
}

func (x *Index) Upsert(ctx context.Context, records []rag.EmbeddingRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := index.CheckDimensions(records, x.dimension); err != nil {
		return 0, err
	}

	objects := make([]VectorObject, len(records))
	for i, r := range records {
		objects[i] = VectorObject{
			ID:         r.ID,
			Vector:     r.Vector,
			Properties: toProperties(r.Payload),
		}
	}

	if err := x.sdk.BatchAddVectors(ctx, x.className, objects); err != nil {
		return 0, x.wrap(err, "failed to upsert %d records", len(records))
	}
	return len(records), nil
}

func (x *Index) Search(ctx context.Context, vector []float32, topK int, scoreThreshold float64) ([]rag.ScoredRecord, error) {
	if err := index.CheckQuery(vector, topK, x.dimension); err != nil {
		return nil, err
	}

	cfg := QueryConfig{Fields: chunkFields, Limit: topK}
	if scoreThreshold > index.NoThreshold {
		cfg.Distance = 1 - scoreThreshold
	}

	results, err := x.sdk.QueryVectors(ctx, x.className, vector, cfg)
	if err != nil {
		return nil, x.wrap(err, "failed to search %s", x.className)
	}

	hits := make([]rag.ScoredRecord, 0, len(results))
	for _, r := range results {
		score := 1 - r.Distance
		if index.BelowThreshold(score, scoreThreshold) {
			continue
		}
		hits = append(hits, rag.ScoredRecord{
			Record: rag.EmbeddingRecord{ID: r.ID, Payload: fromProperties(r.Properties)},
			Score:  score,
		})
	}
	return hits, nil
}

func (x *Index) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	n, err := x.sdk.DeleteWhereEqual(ctx, x.className, "sourceId", sourceID)
	if err != nil {
		return 0, x.wrap(err, "failed to delete source %s", sourceID)
	}
	return n, nil
}

func (x *Index) wrap(err error, format string, args ...interface{}) error {
	if IsClientError(err) {
		return rag.NewError(rag.ErrIndex, false, err, format, args...)
	}
	return index.Unavailable(err, format, args...)
}

func toProperties(p rag.Payload) map[string]interface{} {
	return map[string]interface{}{
		"text":       p.Text,
		"sourceId":   p.SourceID,
		"chunkIndex": p.ChunkIndex,
		"sourceType": string(p.SourceType),
		"page":       p.Page,
	}
}

func fromProperties(props map[string]interface{}) rag.Payload {
	var p rag.Payload
	p.Text, _ = props["text"].(string)
	p.SourceID, _ = props["sourceId"].(string)
	sourceType, _ := props["sourceType"].(string)
	p.SourceType = rag.FileType(sourceType)
	// GraphQL numbers decode as float64
	if v, ok := props["chunkIndex"].(float64); ok {
		p.ChunkIndex = int(v)
	}
	if v, ok := props["page"].(float64); ok {
		p.Page = int(v)
	}
	return p
}
