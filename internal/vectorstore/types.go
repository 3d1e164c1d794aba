package vectorstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable marks transport or availability failures against the vector
// index. Callers must never treat it as an empty result set.
var ErrUnavailable = errors.New("vector store unavailable")

// ErrNotFound is returned by id lookups when no object exists for the id.
var ErrNotFound = errors.New("vector not found")

// Metadata is the payload stored alongside each chunk vector.
type Metadata struct {
	MessageID    string    `json:"message_id"`
	ChunkIndex   int       `json:"chunk_index"`
	ContainerID  string    `json:"container_id"`
	AuthorID     string    `json:"author_id"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
	ModelVersion string    `json:"model_version"`
}

// Record is one embedded chunk as held by the index.
type Record struct {
	VectorID string    `json:"vector_id"`
	Vector   []float32 `json:"vector,omitempty"`
	Metadata Metadata  `json:"metadata"`
}

// Match is a similarity hit, ordered by descending score.
type Match struct {
	VectorID string   `json:"vector_id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// UpsertSummary reports batch upsert outcomes per object.
type UpsertSummary struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Stats describes the index as a whole.
type Stats struct {
	TotalVectors  int     `json:"total_vectors"`
	Dimension     int     `json:"dimension"`
	IndexFullness float64 `json:"index_fullness"`
}

// Filters restricts similarity queries. ContainerIDs is the authorization
// scope; ModelVersion pins results to vectors embedded with the same model so
// scores stay comparable.
type Filters struct {
	ContainerIDs []string
	ModelVersion string
}

var chunkNamespace = uuid.MustParse("8f2a1c4e-9b7d-4e5a-a1c3-6d2f0b9e4a71")

// VectorID derives the deterministic id for a chunk. Re-embedding the same
// chunk always targets the same object, so upserts overwrite instead of
// duplicating.
func VectorID(messageID string, chunkIndex int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d", messageID, chunkIndex))).String()
}
