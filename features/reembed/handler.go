package reembed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"parley/backend/features/sync"
	"parley/backend/internal/middleware"
	"parley/backend/internal/scheduler"
	"parley/backend/internal/vectorstore"
)

type Runner interface {
	TryRun(ctx context.Context) error
	Status() scheduler.RunStatus
}

type Store interface {
	Stats(ctx context.Context) (vectorstore.Stats, error)
}

type Tracker interface {
	Counts(ctx context.Context) (sync.Counts, error)
}

type Handler struct {
	runner  Runner
	store   Store
	tracker Tracker
}

func NewHandler(runner Runner, store Store, tracker Tracker) *Handler {
	return &Handler{runner: runner, store: store, tracker: tracker}
}

// Status handles GET /reembedding/status: the current or last run plus
// vector store stats and checkpoint counts.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch vector store stats", "error", err)
		h.writeError(ctx, w, "VECTOR_STORE_UNAVAILABLE", "vector store unreachable", http.StatusServiceUnavailable)
		return
	}
	counts, err := h.tracker.Counts(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch checkpoint counts", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to fetch checkpoint counts", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"run":          h.runner.Status(),
		"vector_store": stats,
		"checkpoints":  counts,
	})
}

// Run handles POST /reembedding/run: an on-demand run. A request while a run
// is active is rejected with 409, never queued. The run is detached from the
// request context so a client disconnect cannot abort it mid-page.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	err := h.runner.TryRun(context.WithoutCancel(ctx))
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			h.writeError(ctx, w, "RUN_IN_PROGRESS", "a re-embedding run is already active", http.StatusConflict)
			return
		}
		slog.ErrorContext(ctx, "re-embedding run failed to start", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "run failed to start", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"run": h.runner.Status()})
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
