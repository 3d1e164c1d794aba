package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/option"

	"parley/backend/internal/adapter/gemini"
)

func fakeGemini(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	ts := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embeddings": []map[string]interface{}{
				{"values": []float32{0.1, 0.2, 0.3}},
				{"values": []float32{0.4, 0.5, 0.6}},
			},
		})
	})
	defer ts.Close()

	e, err := gemini.NewEmbedder(context.Background(), "test-key", "gemini-embedding-001",
		option.WithEndpoint(ts.URL))
	assert.NoError(t, err)
	defer e.Close()

	vectors, err := e.EmbedTexts(context.Background(), []string{"first chunk", "second chunk"})
	assert.NoError(t, err)
	if assert.Len(t, vectors, 2) {
		assert.Equal(t, float32(0.1), vectors[0][0])
		assert.Equal(t, float32(0.6), vectors[1][2])
	}
}

func TestEmbedder_EmbedTexts_Empty(t *testing.T) {
	e, err := gemini.NewEmbedder(context.Background(), "test-key", "gemini-embedding-001")
	assert.NoError(t, err)
	defer e.Close()

	vectors, err := e.EmbedTexts(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedder_EmbedTexts_CountMismatch(t *testing.T) {
	ts := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embeddings": []map[string]interface{}{
				{"values": []float32{0.1}},
			},
		})
	})
	defer ts.Close()

	e, err := gemini.NewEmbedder(context.Background(), "test-key", "gemini-embedding-001",
		option.WithEndpoint(ts.URL))
	assert.NoError(t, err)
	defer e.Close()

	_, err = e.EmbedTexts(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, gemini.ErrEmbeddingService)
}

func TestEmbedder_EmbedTexts_UpstreamError(t *testing.T) {
	ts := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer ts.Close()

	e, err := gemini.NewEmbedder(context.Background(), "test-key", "gemini-embedding-001",
		option.WithEndpoint(ts.URL))
	assert.NoError(t, err)
	defer e.Close()

	_, err = e.EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, gemini.ErrEmbeddingService)
}

func TestEmbedder_ModelVersion(t *testing.T) {
	e, err := gemini.NewEmbedder(context.Background(), "test-key", "gemini-embedding-001")
	assert.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "gemini-embedding-001", e.ModelVersion())
}

func TestGenerator_Generate(t *testing.T) {
	ts := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content": map[string]interface{}{
						"role":  "model",
						"parts": []map[string]interface{}{{"text": "Deploys happen on Friday."}},
					},
					"finishReason": "STOP",
				},
			},
		})
	})
	defer ts.Close()

	g, err := gemini.NewGenerator(context.Background(), "test-key", "gemini-1.5-flash", 0.2, 1024,
		option.WithEndpoint(ts.URL))
	assert.NoError(t, err)
	defer g.Close()

	answer, err := g.Generate(context.Background(), "be concise", "when do we deploy?")
	assert.NoError(t, err)
	assert.Equal(t, "Deploys happen on Friday.", answer)
}

func TestGenerator_Generate_NoCandidates(t *testing.T) {
	ts := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"candidates": []interface{}{}})
	})
	defer ts.Close()

	g, err := gemini.NewGenerator(context.Background(), "test-key", "gemini-1.5-flash", 0.2, 1024,
		option.WithEndpoint(ts.URL))
	assert.NoError(t, err)
	defer g.Close()

	_, err = g.Generate(context.Background(), "", "question")
	assert.ErrorIs(t, err, gemini.ErrAnswerGeneration)
	assert.True(t, strings.Contains(err.Error(), "no candidates"))
}

func TestGenerator_Generate_UpstreamError(t *testing.T) {
	ts := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer ts.Close()

	g, err := gemini.NewGenerator(context.Background(), "test-key", "gemini-1.5-flash", 0.2, 1024,
		option.WithEndpoint(ts.URL))
	assert.NoError(t, err)
	defer g.Close()

	_, err = g.Generate(context.Background(), "", "question")
	assert.ErrorIs(t, err, gemini.ErrAnswerGeneration)
}
