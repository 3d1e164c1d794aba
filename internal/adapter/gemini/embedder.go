package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrEmbeddingService marks upstream embedding failures. The scheduler treats
// these as retryable on the next tick; the query path surfaces them as 5xx.
var ErrEmbeddingService = errors.New("embedding service failure")

// MaxBatchSize is the upstream limit on texts per embedding call.
const MaxBatchSize = 96

// Embedder converts text into fixed-dimension vectors. It is stateless beyond
// the client handle and is used identically for document chunks and live
// queries, so ingestion-time and query-time vectors stay comparable.
type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Embedder, error) {
	clientOpts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}
	return &Embedder{client: client, model: model}, nil
}

// ModelVersion reports the pinned embedding model. Vectors produced by
// different versions must never be compared, so the version travels with
// every stored vector and every similarity query.
func (e *Embedder) ModelVersion() string {
	return e.model
}

// EmbedTexts returns one vector per input text, in input order. Oversized
// inputs are split into sub-batches of at most MaxBatchSize; a failure in any
// sub-batch fails the whole call, never a silent partial result.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := e.client.EmbeddingModel(e.model)
	out := make([][]float32, 0, len(texts))

	for offset := 0; offset < len(texts); offset += MaxBatchSize {
		end := offset + MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := em.NewBatch()
		for _, t := range texts[offset:end] {
			batch.AddContent(genai.Text(t))
		}

		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			slog.ErrorContext(ctx, "batch embed failed", "error", err, "model", e.model, "batch_size", end-offset)
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
		}
		if len(resp.Embeddings) != end-offset {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingService, len(resp.Embeddings), end-offset)
		}

		for _, emb := range resp.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("%w: empty embedding in batch", ErrEmbeddingService)
			}
			out = append(out, emb.Values)
		}
	}

	return out, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}
