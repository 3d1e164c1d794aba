package vectorstore_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"parley/backend/internal/vectorstore"
)

func TestVectorID_Deterministic(t *testing.T) {
	a := vectorstore.VectorID("msg-1", 0)
	b := vectorstore.VectorID("msg-1", 0)
	assert.Equal(t, a, b)

	// Valid UUID, so Weaviate accepts it as an object id.
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestVectorID_DistinctPerChunkAndMessage(t *testing.T) {
	ids := map[string]bool{}
	for _, msg := range []string{"msg-1", "msg-2"} {
		for i := 0; i < 3; i++ {
			ids[vectorstore.VectorID(msg, i)] = true
		}
	}
	assert.Len(t, ids, 6)
}

func TestVectorID_NoDelimiterCollision(t *testing.T) {
	// "a:1" chunk 0 vs "a" chunk 10 both serialize around a colon; the ids
	// must still differ.
	assert.NotEqual(t, vectorstore.VectorID("a:1", 0), vectorstore.VectorID("a", 10))
}
