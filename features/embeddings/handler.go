package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"parley/backend/features/message"
	"parley/backend/internal/adapter/gemini"
	"parley/backend/internal/ingest"
	"parley/backend/internal/middleware"
)

type Tracker interface {
	ListPending(ctx context.Context, limit, offset int) ([]message.Message, error)
	CountPending(ctx context.Context) (int, error)
}

type MessageRepo interface {
	GetMany(ctx context.Context, ids []string) ([]message.Message, error)
}

type Ingestor interface {
	Preview(ctx context.Context, msgs []message.Message) (map[string][]ingest.ChunkPreview, error)
	EmbedBatch(ctx context.Context, msgs []message.Message) ingest.BatchResult
}

type Handler struct {
	tracker  Tracker
	messages MessageRepo
	ingestor Ingestor
	validate *validator.Validate
}

func NewHandler(tracker Tracker, messages MessageRepo, ingestor Ingestor) *Handler {
	return &Handler{tracker: tracker, messages: messages, ingestor: ingestor, validate: validator.New()}
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListPending handles GET /embeddings/messages: messages still eligible for
// embedding, oldest first.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := queryInt(r, "offset", 0)

	msgs, err := h.tracker.ListPending(ctx, limit, offset)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list pending messages", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list pending messages", http.StatusInternalServerError)
		return
	}
	total, err := h.tracker.CountPending(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count pending messages", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count pending messages", http.StatusInternalServerError)
		return
	}

	if msgs == nil {
		msgs = []message.Message{}
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

type BatchRequest struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,max=500"`
}

// Embed handles POST /embeddings: chunk and embed the given messages without
// writing anything, reporting the vector ids and dimensions that ingestion
// would produce.
func (h *Handler) Embed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	msgs, ok := h.resolveBatch(ctx, w, r)
	if !ok {
		return
	}

	previews, err := h.ingestor.Preview(ctx, msgs)
	if err != nil {
		if errors.Is(err, gemini.ErrEmbeddingService) {
			h.writeError(ctx, w, "EMBEDDING_SERVICE_ERROR", "embedding service failed", http.StatusBadGateway)
			return
		}
		slog.ErrorContext(ctx, "embed preview failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "embed failed", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"embeddings": previews})
}

// Upsert handles POST /vectorstore/upsert: full ingestion of the given
// messages. Per-message failures are reported in the body; they do not fail
// the request.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	msgs, ok := h.resolveBatch(ctx, w, r)
	if !ok {
		return
	}

	result := h.ingestor.EmbedBatch(ctx, msgs)
	h.writeJSON(ctx, w, http.StatusOK, result)
}

func (h *Handler) resolveBatch(ctx context.Context, w http.ResponseWriter, r *http.Request) ([]message.Message, bool) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", err.Error(), http.StatusBadRequest)
		return nil, false
	}

	msgs, err := h.messages.GetMany(ctx, req.MessageIDs)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load messages", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to load messages", http.StatusInternalServerError)
		return nil, false
	}
	if len(msgs) == 0 {
		h.writeError(ctx, w, "NOT_FOUND", "no messages found for the given ids", http.StatusNotFound)
		return nil, false
	}
	return msgs, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
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
