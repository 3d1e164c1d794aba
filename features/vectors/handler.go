package vectors

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"parley/backend/internal/middleware"
	"parley/backend/internal/vectorstore"
)

type Store interface {
	Stats(ctx context.Context) (vectorstore.Stats, error)
	SampleRandom(ctx context.Context, n int) ([]vectorstore.Record, error)
	FetchByID(ctx context.Context, vectorID string) (vectorstore.Record, error)
}

// Handler is the observability and debug surface over the vector index.
// Store unavailability is always reported as an error status; a transport
// failure must never look like an empty index.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

const (
	defaultSampleCount = 5
	maxSampleCount     = 50
)

// Status handles GET /vectorstore/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "vector store status check failed", "error", err)
		h.writeError(ctx, w, "VECTOR_STORE_UNAVAILABLE", "vector store unreachable", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"stats":  stats,
	})
}

// Stats handles GET /vectorstore/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch vector store stats", "error", err)
		h.writeError(ctx, w, "VECTOR_STORE_UNAVAILABLE", "vector store unreachable", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, stats)
}

// Random handles GET /vectorstore/vectors/random?count=N.
func (h *Handler) Random(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count := defaultSampleCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			h.writeError(ctx, w, "INVALID_REQUEST", "count must be a positive integer", http.StatusBadRequest)
			return
		}
		count = v
	}
	if count > maxSampleCount {
		count = maxSampleCount
	}

	records, err := h.store.SampleRandom(ctx, count)
	if err != nil {
		slog.ErrorContext(ctx, "failed to sample vectors", "error", err)
		h.writeError(ctx, w, "VECTOR_STORE_UNAVAILABLE", "vector store unreachable", http.StatusServiceUnavailable)
		return
	}
	if records == nil {
		records = []vectorstore.Record{}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"vectors": records})
}

// Get handles GET /vectorstore/vectors/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	record, err := h.store.FetchByID(ctx, id)
	if err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			h.writeError(ctx, w, "NOT_FOUND", "vector not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to fetch vector", "error", err, "vector_id", id)
		h.writeError(ctx, w, "VECTOR_STORE_UNAVAILABLE", "vector store unreachable", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, record)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
