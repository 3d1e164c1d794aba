package worker

import (
	"context"
)

type VectorStore interface {
	DeleteByMessage(ctx context.Context, messageID string) error
}

type Tracker interface {
	MarkPending(ctx context.Context, sourceMessageID string) error
	Delete(ctx context.Context, sourceMessageID string) error
}

// MessageEvent is the payload published by the chat app on message
// lifecycle topics.
type MessageEvent struct {
	MessageID     string `json:"message_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
