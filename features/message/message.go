package message

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"
)

// Message is a chat message as read from the chat application's store. The
// store owns the rows; this service only reads them.
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"text"`
	AuthorID    string    `json:"author_id"`
	ContainerID string    `json:"container_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Repository is the read-only connector over the external message store.
type Repository interface {
	Get(ctx context.Context, id string) (*Message, error)
	GetMany(ctx context.Context, ids []string) ([]Message, error)
	List(ctx context.Context, limit, offset int) ([]Message, error)
	Count(ctx context.Context) (int, error)
}

// ContentHash is the hex sha256 of the message text. The sync tracker records
// it at embed time to detect edits; the SQL side computes the same digest, so
// the two must stay in lockstep.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}
