package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"parley/backend/features/message"
	"parley/backend/internal/text"
	"parley/backend/internal/vectorstore"
)

type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelVersion() string
}

type VectorStore interface {
	Upsert(ctx context.Context, records []vectorstore.Record) (vectorstore.UpsertSummary, error)
}

type Tracker interface {
	MarkEmbedded(ctx context.Context, sourceMessageID, contentHash string, chunkCount int, at time.Time) error
	MarkFailed(ctx context.Context, sourceMessageID, reason string) error
}

// Options bound the pipeline's chunking and external-call behavior.
type Options struct {
	MaxChunkChars int
	ChunkOverlap  int
	EmbedTimeout  time.Duration
	StoreTimeout  time.Duration
}

// Service drives a message through chunk -> embed -> upsert -> checkpoint.
// The vector upsert always happens before the checkpoint write; a crash in
// between leaves an unmarked vector that the next run re-upserts under the
// same id, so the gap self-heals.
type Service struct {
	embedder Embedder
	store    VectorStore
	tracker  Tracker
	opts     Options
	now      func() time.Time
}

func NewService(e Embedder, s VectorStore, t Tracker, opts Options) *Service {
	return &Service{embedder: e, store: s, tracker: t, opts: opts, now: time.Now}
}

// EmbedMessage ingests one message and returns the number of chunks stored.
// Empty or whitespace-only content is a successful no-op: the checkpoint is
// marked embedded with zero chunks so the message stops showing up as
// pending. Failures are recorded via MarkFailed and returned.
func (s *Service) EmbedMessage(ctx context.Context, m message.Message) (int, error) {
	hash := message.ContentHash(m.Content)

	chunks := text.Split(m.ID, m.Content, s.opts.MaxChunkChars, s.opts.ChunkOverlap)
	if len(chunks) == 0 {
		if err := s.tracker.MarkEmbedded(ctx, m.ID, hash, 0, s.now()); err != nil {
			return 0, fmt.Errorf("mark embedded: %w", err)
		}
		slog.InfoContext(ctx, "message skipped, no embeddable content", "message_id", m.ID)
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	vectors, err := s.embedder.EmbedTexts(embedCtx, texts)
	cancel()
	if err != nil {
		s.fail(ctx, m.ID, err)
		return 0, fmt.Errorf("embed message %s: %w", m.ID, err)
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			VectorID: vectorstore.VectorID(m.ID, c.Index),
			Vector:   vectors[i],
			Metadata: vectorstore.Metadata{
				MessageID:    m.ID,
				ChunkIndex:   c.Index,
				ContainerID:  m.ContainerID,
				AuthorID:     m.AuthorID,
				Text:         c.Text,
				CreatedAt:    m.CreatedAt,
				ModelVersion: s.embedder.ModelVersion(),
			},
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	summary, err := s.store.Upsert(storeCtx, records)
	cancel()
	if err != nil {
		s.fail(ctx, m.ID, err)
		return 0, fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	if summary.Rejected > 0 {
		err := fmt.Errorf("%d of %d chunks rejected by vector store", summary.Rejected, len(records))
		s.fail(ctx, m.ID, err)
		return 0, fmt.Errorf("upsert message %s: %w", m.ID, err)
	}

	if err := s.tracker.MarkEmbedded(ctx, m.ID, hash, len(chunks), s.now()); err != nil {
		return 0, fmt.Errorf("mark embedded: %w", err)
	}

	slog.InfoContext(ctx, "message embedded", "message_id", m.ID, "chunks", len(chunks))
	return len(chunks), nil
}

// Result is the per-message outcome of a batch ingestion.
type Result struct {
	MessageID string `json:"message_id"`
	Chunks    int    `json:"chunks"`
	Error     string `json:"error,omitempty"`
}

// BatchResult accounts for a multi-message ingestion. One message failing
// never fails the batch.
type BatchResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// EmbedBatch ingests messages independently, isolating per-message failures.
func (s *Service) EmbedBatch(ctx context.Context, msgs []message.Message) BatchResult {
	out := BatchResult{Results: make([]Result, 0, len(msgs))}
	for _, m := range msgs {
		res := Result{MessageID: m.ID}
		chunks, err := s.EmbedMessage(ctx, m)
		if err != nil {
			res.Error = err.Error()
			out.Failed++
		} else {
			res.Chunks = chunks
			out.Processed++
		}
		out.Results = append(out.Results, res)
	}
	return out
}

// ChunkPreview describes what ingestion would store for one chunk, without
// writing anything. Used by the manual embed endpoint.
type ChunkPreview struct {
	VectorID   string `json:"vector_id"`
	ChunkIndex int    `json:"chunk_index"`
	Dimension  int    `json:"dimension"`
}

// Preview chunks and embeds messages but does not touch the vector store or
// checkpoints.
func (s *Service) Preview(ctx context.Context, msgs []message.Message) (map[string][]ChunkPreview, error) {
	out := make(map[string][]ChunkPreview, len(msgs))
	for _, m := range msgs {
		chunks := text.Split(m.ID, m.Content, s.opts.MaxChunkChars, s.opts.ChunkOverlap)
		if len(chunks) == 0 {
			out[m.ID] = []ChunkPreview{}
			continue
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}

		embedCtx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
		vectors, err := s.embedder.EmbedTexts(embedCtx, texts)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("embed message %s: %w", m.ID, err)
		}

		previews := make([]ChunkPreview, len(chunks))
		for i, c := range chunks {
			previews[i] = ChunkPreview{
				VectorID:   vectorstore.VectorID(m.ID, c.Index),
				ChunkIndex: c.Index,
				Dimension:  len(vectors[i]),
			}
		}
		out[m.ID] = previews
	}
	return out, nil
}

func (s *Service) fail(ctx context.Context, messageID string, cause error) {
	if err := s.tracker.MarkFailed(ctx, messageID, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to record checkpoint failure", "message_id", messageID, "error", err)
	}
}
