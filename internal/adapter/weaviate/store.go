package weaviate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"parley/backend/internal/vector"
	"parley/backend/internal/vectorstore"
)

// Store is the gateway to the Weaviate index. It holds no durable state; all
// side effects land in the external index. Transport errors are wrapped as
// vectorstore.ErrUnavailable so callers can tell "no matches" from "store
// unreachable".
type Store struct {
	client    *weaviate.Client
	dimension int
}

func NewStore(client *weaviate.Client, dimension int) *Store {
	return &Store{client: client, dimension: dimension}
}

// EnsureSchema creates or backfills the MessageChunk class.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewSchemaAdapter(s.client))
}

// Upsert writes records keyed by their deterministic vector id. Re-upserting
// an id overwrites vector and metadata, so repeated ingestion of unchanged
// content converges to a single object per chunk.
func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) (vectorstore.UpsertSummary, error) {
	if len(records) == 0 {
		return vectorstore.UpsertSummary{}, nil
	}

	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		objects = append(objects, &models.Object{
			ID:    strfmt.UUID(r.VectorID),
			Class: vector.ClassName,
			Properties: map[string]interface{}{
				"content":      r.Metadata.Text,
				"messageId":    r.Metadata.MessageID,
				"chunkIndex":   r.Metadata.ChunkIndex,
				"containerId":  r.Metadata.ContainerID,
				"authorId":     r.Metadata.AuthorID,
				"createdAt":    r.Metadata.CreatedAt.Format(time.RFC3339),
				"modelVersion": r.Metadata.ModelVersion,
			},
			Vector: r.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return vectorstore.UpsertSummary{}, fmt.Errorf("%w: batch upsert: %v", vectorstore.ErrUnavailable, err)
	}

	summary := vectorstore.UpsertSummary{}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			summary.Rejected++
			continue
		}
		summary.Accepted++
	}
	return summary, nil
}

// QuerySimilar returns at most topK matches ordered by descending similarity;
// ties break toward the more recently created chunk. The model-version filter
// keeps vectors from different embedding models out of the same ranking.
func (s *Store) QuerySimilar(ctx context.Context, queryVector []float32, topK int, f vectorstore.Filters) ([]vectorstore.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(queryVector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "messageId"},
		{Name: "chunkIndex"},
		{Name: "containerId"},
		{Name: "authorId"},
		{Name: "createdAt"},
		{Name: "modelVersion"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "certainty"}}},
	}

	query := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...)

	if where := buildWhere(f); where != nil {
		query = query.WithWhere(where)
	}

	res, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity query: %v", vectorstore.ErrUnavailable, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql error: %v", vectorstore.ErrUnavailable, res.Errors)
	}

	matches := parseMatches(res.Data)

	// Deterministic order: score descending, then newer chunks first.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Metadata.CreatedAt.After(matches[j].Metadata.CreatedAt)
	})

	return matches, nil
}

// FetchByID returns a single record including its vector, or
// vectorstore.ErrNotFound.
func (s *Store) FetchByID(ctx context.Context, vectorID string) (vectorstore.Record, error) {
	objs, err := s.client.Data().ObjectsGetter().
		WithClassName(vector.ClassName).
		WithID(vectorID).
		WithVector().
		Do(ctx)
	if err != nil {
		var clientErr *fault.WeaviateClientError
		if errors.As(err, &clientErr) && clientErr.StatusCode == 404 {
			return vectorstore.Record{}, vectorstore.ErrNotFound
		}
		return vectorstore.Record{}, fmt.Errorf("%w: fetch by id: %v", vectorstore.ErrUnavailable, err)
	}
	if len(objs) == 0 {
		return vectorstore.Record{}, vectorstore.ErrNotFound
	}

	obj := objs[0]
	rec := vectorstore.Record{
		VectorID: string(obj.ID),
		Vector:   obj.Vector,
	}
	if props, ok := obj.Properties.(map[string]interface{}); ok {
		rec.Metadata = parseMetadata(props)
	}
	return rec, nil
}

// SampleRandom returns up to n records drawn from a random offset. This is a
// validation and observability aid, not a ranked retrieval path, so vectors
// are omitted from the result.
func (s *Store) SampleRandom(ctx context.Context, n int) ([]vectorstore.Record, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.TotalVectors == 0 {
		return nil, nil
	}

	offset := 0
	if spread := stats.TotalVectors - n; spread > 0 {
		offset = rand.Intn(spread) // #nosec G404 -- sampling for debug output, not security
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "messageId"},
		{Name: "chunkIndex"},
		{Name: "containerId"},
		{Name: "authorId"},
		{Name: "createdAt"},
		{Name: "modelVersion"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithOffset(offset).
		WithLimit(n).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: random sample: %v", vectorstore.ErrUnavailable, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql error: %v", vectorstore.ErrUnavailable, res.Errors)
	}

	var records []vectorstore.Record
	for _, m := range parseMatches(res.Data) {
		records = append(records, vectorstore.Record{VectorID: m.VectorID, Metadata: m.Metadata})
	}
	return records, nil
}

// Stats reports index-wide counts. Weaviate's HNSW index has no fixed
// capacity, so fullness is always 0.
func (s *Store) Stats(ctx context.Context) (vectorstore.Stats, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return vectorstore.Stats{}, fmt.Errorf("%w: aggregate: %v", vectorstore.ErrUnavailable, err)
	}
	if len(res.Errors) > 0 {
		return vectorstore.Stats{}, fmt.Errorf("%w: graphql error: %v", vectorstore.ErrUnavailable, res.Errors)
	}

	stats := vectorstore.Stats{Dimension: s.dimension}
	if agg, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if classes, ok := agg[vector.ClassName].([]interface{}); ok && len(classes) > 0 {
			if entry, ok := classes[0].(map[string]interface{}); ok {
				if meta, ok := entry["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						stats.TotalVectors = int(count)
					}
				}
			}
		}
	}
	return stats, nil
}

// DeleteByMessage removes every chunk derived from a source message. Used by
// the deletion cascade when the chat app drops a message.
func (s *Store) DeleteByMessage(ctx context.Context, messageID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"messageId"}).
			WithOperator(filters.Equal).
			WithValueString(messageID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: delete by message: %v", vectorstore.ErrUnavailable, err)
	}
	return nil
}

func buildWhere(f vectorstore.Filters) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder

	if f.ModelVersion != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"modelVersion"}).
			WithOperator(filters.Equal).
			WithValueString(f.ModelVersion))
	}
	if len(f.ContainerIDs) > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"containerId"}).
			WithOperator(filters.ContainsAny).
			WithValueString(f.ContainerIDs...))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

func parseMatches(data map[string]models.JSONObject) []vectorstore.Match {
	var matches []vectorstore.Match

	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return matches
	}
	rows, ok := get[vector.ClassName].([]interface{})
	if !ok {
		return matches
	}

	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}

		match := vectorstore.Match{Metadata: parseMetadata(props)}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				match.VectorID = id
			}
			// Certainty arrives as float64 from JSON, but some server
			// versions serialize _additional numerics as strings.
			switch v := additional["certainty"].(type) {
			case float64:
				match.Score = float32(v)
			case string:
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					slog.Warn("unparsable certainty in search result, dropping row",
						"vector_id", match.VectorID, "certainty", v)
					continue
				}
				match.Score = float32(f)
			}
		}
		matches = append(matches, match)
	}
	return matches
}

func parseMetadata(props map[string]interface{}) vectorstore.Metadata {
	md := vectorstore.Metadata{}
	if v, ok := props["content"].(string); ok {
		md.Text = v
	}
	if v, ok := props["messageId"].(string); ok {
		md.MessageID = v
	}
	if v, ok := props["chunkIndex"].(float64); ok {
		md.ChunkIndex = int(v)
	}
	if v, ok := props["containerId"].(string); ok {
		md.ContainerID = v
	}
	if v, ok := props["authorId"].(string); ok {
		md.AuthorID = v
	}
	if v, ok := props["modelVersion"].(string); ok {
		md.ModelVersion = v
	}
	if v, ok := props["createdAt"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			md.CreatedAt = ts
		}
	}
	return md
}
