package sync

import (
	"context"
	"time"

	"parley/backend/features/message"
)

const (
	StatusPending  = "pending"
	StatusEmbedded = "embedded"
	StatusFailed   = "failed"
)

// Checkpoint is the durable per-message record of embedding progress. A
// message is eligible for (re-)embedding when its current content hash
// differs from the recorded one, when no checkpoint exists, or when the last
// attempt failed.
type Checkpoint struct {
	SourceMessageID string     `json:"source_message_id"`
	ContentHash     string     `json:"content_hash"`
	Status          string     `json:"status"`
	ChunkCount      int        `json:"chunk_count"`
	LastEmbeddedAt  *time.Time `json:"last_embedded_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Counts summarizes checkpoint states for the status surface.
type Counts struct {
	Pending  int `json:"pending"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

type Repository interface {
	// ListPending returns messages still needing embedding, ordered by
	// created_at ascending so incremental runs make fair forward progress.
	ListPending(ctx context.Context, limit, offset int) ([]message.Message, error)
	CountPending(ctx context.Context) (int, error)

	// MarkEmbedded upserts the checkpoint after the vector upsert has
	// succeeded. The write order is the ingestion invariant: vector store
	// first, checkpoint second.
	MarkEmbedded(ctx context.Context, sourceMessageID, contentHash string, chunkCount int, at time.Time) error

	// MarkFailed records a failure without clobbering the hash and timestamp
	// of the last success, so one bad message never blocks its neighbors.
	MarkFailed(ctx context.Context, sourceMessageID, reason string) error

	// MarkPending flags a checkpoint for re-embedding ahead of the next
	// hash-diff scan (used by the message-updated event fast path).
	MarkPending(ctx context.Context, sourceMessageID string) error

	Get(ctx context.Context, sourceMessageID string) (*Checkpoint, error)
	Delete(ctx context.Context, sourceMessageID string) error
	Counts(ctx context.Context) (Counts, error)
}
