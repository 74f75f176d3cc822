package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// SDK encapsulates all Weaviate operations
type SDK struct {
	client *weaviate.Client
}

// NewSDK creates a new instance of SDK
func NewSDK(client *weaviate.Client) *SDK {
	return &SDK{
		client: client,
	}
}

// CreateSchema creates a cosine class without a vectorizer. Vectors are
// always supplied by the caller.
func (w *SDK) CreateSchema(ctx context.Context, className, description string, properties []*models.Property) error {
	class := &models.Class{
		Class:       className,
		Description: description,
		Properties:  properties,
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
	}

	err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate class: %w", err)
	}

	return nil
}

// GetClass returns the class definition, or nil when it does not exist
func (w *SDK) GetClass(ctx context.Context, className string) (*models.Class, error) {
	schema, err := w.client.Schema().Getter().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}

	for _, class := range schema.Classes {
		if class.Class == className {
			return class, nil
		}
	}

	return nil, nil
}

// VectorObject represents a single object with its vector and properties
type VectorObject struct {
	ID         string
	Vector     []float32
	Properties map[string]interface{}
}

// BatchAddVectors writes objects in one request. Objects with an existing id
// are replaced.
func (w *SDK) BatchAddVectors(ctx context.Context, className string, objects []VectorObject) error {
	objs := make([]*models.Object, len(objects))
	for i, obj := range objects {
		objs[i] = &models.Object{
			Class:      className,
			ID:         strfmt.UUID(obj.ID),
			Properties: obj.Properties,
			Vector:     obj.Vector,
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to batch add vectors: %w", err)
	}
	if len(resp) != len(objs) {
		return fmt.Errorf("batch operation returned %d results for %d objects", len(resp), len(objs))
	}

	var msgs []string
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			msgs = append(msgs, fmt.Sprintf("%s: %s", r.ID, e.Message))
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("batch rejected %d objects: %s", len(msgs), strings.Join(msgs, "; "))
	}

	return nil
}

// QueryConfig represents configuration for vector similarity search
type QueryConfig struct {
	Fields   []string // Fields to return in the result
	Limit    int      // Maximum number of results
	Distance float64  // Optional distance threshold
}

const DefaultQueryLimit = 20

// QueryResult represents a single result from vector similarity search
type QueryResult struct {
	ID         string
	Distance   float64
	Properties map[string]interface{}
}

// QueryVectors performs vector similarity search in a class
func (w *SDK) QueryVectors(ctx context.Context, className string, vector []float32, config QueryConfig) ([]QueryResult, error) {
	fields := make([]graphql.Field, len(config.Fields))
	for i, field := range config.Fields {
		fields[i] = graphql.Field{Name: field}
	}
	fields = append(fields, graphql.Field{Name: "_additional { id distance }"})

	nearVectorBuilder := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)
	if config.Distance > 0 {
		nearVectorBuilder.WithDistance(float32(config.Distance))
	}

	if config.Limit <= 0 {
		config.Limit = DefaultQueryLimit
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...).
		WithNearVector(nearVectorBuilder).
		WithLimit(config.Limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("failed to query vectors: %s", result.Errors[0].Message)
	}

	return ParseQueryResults(result.Data, className)
}

// ParseQueryResults reads the Get section of a GraphQL response.
func ParseQueryResults(data map[string]models.JSONObject, className string) ([]QueryResult, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		return nil, nil
	}

	queryResults := make([]QueryResult, 0, len(objects))
	for _, obj := range objects {
		objMap, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		additional, ok := objMap["_additional"].(map[string]interface{})
		if !ok {
			return nil, errors.New("result object without _additional")
		}
		id, _ := additional["id"].(string)
		distance, ok := additional["distance"].(float64)
		if !ok {
			return nil, fmt.Errorf("result %s without distance", id)
		}

		properties := make(map[string]interface{})
		for k, v := range objMap {
			if k != "_additional" {
				properties[k] = v
			}
		}

		queryResults = append(queryResults, QueryResult{
			ID:         id,
			Distance:   distance,
			Properties: properties,
		})
	}

	return queryResults, nil
}

// DeleteWhereEqual removes every object whose text property equals value
func (w *SDK) DeleteWhereEqual(ctx context.Context, className, property, value string) (int, error) {
	where := filters.Where().
		WithPath([]string{property}).
		WithOperator(filters.Equal).
		WithValueText(value)

	resp, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(className).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete objects: %w", err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}

	return int(resp.Results.Successful), nil
}

// IsClientError reports whether Weaviate rejected the request itself, as
// opposed to being unreachable or overloaded.
func IsClientError(err error) bool {
	var werr *fault.WeaviateClientError
	if !errors.As(err, &werr) {
		return false
	}
	return werr.StatusCode >= 400 && werr.StatusCode < 500 && werr.StatusCode != 429
}
