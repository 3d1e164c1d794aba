package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"parley/backend/internal/middleware"
)

// EventConsumer reacts to message lifecycle events from the chat app.
// Deletions cascade into the vector store and checkpoint table; edits flag
// the checkpoint pending so the next run picks the message up without
// waiting for the hash-diff scan.
type EventConsumer struct {
	store   VectorStore
	tracker Tracker
	timeout time.Duration
}

func NewEventConsumer(store VectorStore, tracker Tracker, timeout time.Duration) *EventConsumer {
	return &EventConsumer{store: store, tracker: tracker, timeout: timeout}
}

// HandleDeleted removes every vector derived from the message, then its
// checkpoint. Returning an error requeues the event.
func (c *EventConsumer) HandleDeleted(m *nsq.Message) error {
	event, ctx, ok := c.decode(m)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.store.DeleteByMessage(ctx, event.MessageID); err != nil {
		slog.ErrorContext(ctx, "failed to delete vectors for message", "error", err, "message_id", event.MessageID)
		return err // Retry
	}
	if err := c.tracker.Delete(ctx, event.MessageID); err != nil {
		slog.ErrorContext(ctx, "failed to delete checkpoint", "error", err, "message_id", event.MessageID)
		return err // Retry
	}

	slog.InfoContext(ctx, "message embeddings cascaded", "message_id", event.MessageID)
	return nil
}

// HandleUpdated marks the message's checkpoint pending.
func (c *EventConsumer) HandleUpdated(m *nsq.Message) error {
	event, ctx, ok := c.decode(m)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.tracker.MarkPending(ctx, event.MessageID); err != nil {
		slog.ErrorContext(ctx, "failed to flag checkpoint pending", "error", err, "message_id", event.MessageID)
		return err // Retry
	}
	return nil
}

func (c *EventConsumer) decode(m *nsq.Message) (MessageEvent, context.Context, bool) {
	var event MessageEvent
	if len(m.Body) == 0 {
		return event, context.Background(), false
	}
	if err := json.Unmarshal(m.Body, &event); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid message event", "error", err)
		return event, context.Background(), false
	}
	if event.MessageID == "" {
		slog.Error("poison pill: message event without id")
		return event, context.Background(), false
	}

	ctx := context.Background()
	if event.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, event.CorrelationID)
	}
	return event, ctx, true
}
