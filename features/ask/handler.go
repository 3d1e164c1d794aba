package ask

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"parley/backend/internal/adapter/gemini"
	"parley/backend/internal/middleware"
	"parley/backend/internal/retrieval"
	"parley/backend/internal/vectorstore"
)

type Service interface {
	Ask(ctx context.Context, query string, opts *retrieval.QueryOptions) (*retrieval.Answer, error)
	Search(ctx context.Context, query string, opts *retrieval.QueryOptions) ([]vectorstore.Match, error)
}

type Handler struct {
	svc      Service
	validate *validator.Validate
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

type QueryRequest struct {
	Query        string   `json:"query" validate:"required"`
	TopK         int      `json:"top_k" validate:"omitempty,min=1,max=50"`
	ContainerIDs []string `json:"container_ids"`
}

// Ask handles POST /ask.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, opts, ok := h.parseQuery(ctx, w, r)
	if !ok {
		return
	}

	answer, err := h.svc.Ask(ctx, req.Query, opts)
	if err != nil {
		h.writeQueryError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, answer)
}

// Search handles POST /search: ranked retrieval without synthesis.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, opts, ok := h.parseQuery(ctx, w, r)
	if !ok {
		return
	}

	matches, err := h.svc.Search(ctx, req.Query, opts)
	if err != nil {
		h.writeQueryError(ctx, w, err)
		return
	}
	if matches == nil {
		matches = []vectorstore.Match{}
	}

	writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"results": matches})
}

func (h *Handler) parseQuery(ctx context.Context, w http.ResponseWriter, r *http.Request) (*QueryRequest, *retrieval.QueryOptions, bool) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, "INVALID_QUERY", "invalid request body", http.StatusBadRequest)
		return nil, nil, false
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(ctx, w, "INVALID_QUERY", err.Error(), http.StatusBadRequest)
		return nil, nil, false
	}

	identity, ok := middleware.IdentityFrom(ctx)
	if !ok {
		writeError(ctx, w, "UNAUTHORIZED", "missing identity", http.StatusUnauthorized)
		return nil, nil, false
	}

	containers, ok := scopeContainers(identity, req.ContainerIDs)
	if !ok {
		writeError(ctx, w, "FORBIDDEN", "requested containers are not visible to the caller", http.StatusForbidden)
		return nil, nil, false
	}

	opts := &retrieval.QueryOptions{ContainerIDs: containers}
	if req.TopK > 0 {
		opts.TopK = &req.TopK
	}
	return &req, opts, true
}

// scopeContainers checks the requested filter against the identity's visible
// containers. Any requested container outside the identity's scope rejects
// the whole request; a silently narrowed filter would hide the authorization
// failure from the caller.
func scopeContainers(identity middleware.Identity, requested []string) ([]string, bool) {
	if len(requested) == 0 {
		return identity.ContainerIDs, true
	}
	if len(identity.ContainerIDs) == 0 {
		// Service tokens without a container claim are unrestricted.
		return requested, true
	}

	visible := make(map[string]bool, len(identity.ContainerIDs))
	for _, id := range identity.ContainerIDs {
		visible[id] = true
	}

	for _, id := range requested {
		if !visible[id] {
			return nil, false
		}
	}
	return requested, true
}

func (h *Handler) writeQueryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retrieval.ErrInvalidQuery):
		writeError(ctx, w, "INVALID_QUERY", "query must not be empty", http.StatusBadRequest)
	case errors.Is(err, gemini.ErrEmbeddingService):
		writeError(ctx, w, "EMBEDDING_SERVICE_ERROR", "embedding service failed", http.StatusBadGateway)
	case errors.Is(err, vectorstore.ErrUnavailable):
		writeError(ctx, w, "VECTOR_STORE_UNAVAILABLE", "vector store unreachable", http.StatusServiceUnavailable)
	case errors.Is(err, gemini.ErrAnswerGeneration):
		writeError(ctx, w, "ANSWER_GENERATION_ERROR", "answer generation failed", http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "query failed", "error", err)
		writeError(ctx, w, "INTERNAL_ERROR", "query failed", http.StatusInternalServerError)
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
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
