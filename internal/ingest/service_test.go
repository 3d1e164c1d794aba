package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"parley/backend/features/message"
	"parley/backend/internal/ingest"
	"parley/backend/internal/vectorstore"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) ModelVersion() string {
	return "gemini-embedding-001"
}

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) Upsert(ctx context.Context, records []vectorstore.Record) (vectorstore.UpsertSummary, error) {
	args := m.Called(ctx, records)
	return args.Get(0).(vectorstore.UpsertSummary), args.Error(1)
}

type MockTracker struct{ mock.Mock }

func (m *MockTracker) MarkEmbedded(ctx context.Context, sourceMessageID, contentHash string, chunkCount int, at time.Time) error {
	args := m.Called(ctx, sourceMessageID, contentHash, chunkCount, at)
	return args.Error(0)
}

func (m *MockTracker) MarkFailed(ctx context.Context, sourceMessageID, reason string) error {
	args := m.Called(ctx, sourceMessageID, reason)
	return args.Error(0)
}

func testOptions() ingest.Options {
	return ingest.Options{
		MaxChunkChars: 1200,
		ChunkOverlap:  120,
		EmbedTimeout:  time.Second,
		StoreTimeout:  time.Second,
	}
}

func TestEmbedMessage_Success(t *testing.T) {
	e := new(MockEmbedder)
	s := new(MockVectorStore)
	tr := new(MockTracker)
	svc := ingest.NewService(e, s, tr, testOptions())

	msg := message.Message{
		ID:          "msg-1",
		Content:     "Deployment is scheduled for Friday.",
		AuthorID:    "user-7",
		ContainerID: "chan-ops",
	}

	e.On("EmbedTexts", mock.Anything, []string{msg.Content}).
		Return([][]float32{{0.1, 0.2, 0.3}}, nil)

	s.On("Upsert", mock.Anything, mock.MatchedBy(func(records []vectorstore.Record) bool {
		if len(records) != 1 {
			return false
		}
		r := records[0]
		return r.VectorID == vectorstore.VectorID("msg-1", 0) &&
			r.Metadata.MessageID == "msg-1" &&
			r.Metadata.ContainerID == "chan-ops" &&
			r.Metadata.AuthorID == "user-7" &&
			r.Metadata.ModelVersion == "gemini-embedding-001" &&
			r.Metadata.Text == msg.Content
	})).Return(vectorstore.UpsertSummary{Accepted: 1}, nil)

	tr.On("MarkEmbedded", mock.Anything, "msg-1", message.ContentHash(msg.Content), 1, mock.Anything).
		Return(nil)

	chunks, err := svc.EmbedMessage(context.Background(), msg)
	assert.NoError(t, err)
	assert.Equal(t, 1, chunks)

	e.AssertExpectations(t)
	s.AssertExpectations(t)
	tr.AssertExpectations(t)
}

func TestEmbedMessage_UpsertBeforeCheckpoint(t *testing.T) {
	e := new(MockEmbedder)
	s := new(MockVectorStore)
	tr := new(MockTracker)
	svc := ingest.NewService(e, s, tr, testOptions())

	var order []string
	e.On("EmbedTexts", mock.Anything, mock.Anything).
		Return([][]float32{{0.5}}, nil)
	s.On("Upsert", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { order = append(order, "upsert") }).
		Return(vectorstore.UpsertSummary{Accepted: 1}, nil)
	tr.On("MarkEmbedded", mock.Anything, "msg-1", mock.Anything, 1, mock.Anything).
		Run(func(args mock.Arguments) { order = append(order, "checkpoint") }).
		Return(nil)

	_, err := svc.EmbedMessage(context.Background(), message.Message{ID: "msg-1", Content: "hello"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"upsert", "checkpoint"}, order)
}

func TestEmbedMessage_EmptyContent_MarksEmbeddedZeroChunks(t *testing.T) {
	e := new(MockEmbedder)
	s := new(MockVectorStore)
	tr := new(MockTracker)
	svc := ingest.NewService(e, s, tr, testOptions())

	tr.On("MarkEmbedded", mock.Anything, "msg-2", message.ContentHash("   \n\t "), 0, mock.Anything).
		Return(nil)

	chunks, err := svc.EmbedMessage(context.Background(), message.Message{ID: "msg-2", Content: "   \n\t "})
	assert.NoError(t, err)
	assert.Equal(t, 0, chunks)

	// The embedder and vector store must not be touched for a skip.
	e.AssertNotCalled(t, "EmbedTexts", mock.Anything, mock.Anything)
	s.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	tr.AssertExpectations(t)
}

func TestEmbedMessage_EmbedderFailure_MarksFailed(t *testing.T) {
	e := new(MockEmbedder)
	s := new(MockVectorStore)
	tr := new(MockTracker)
	svc := ingest.NewService(e, s, tr, testOptions())

	e.On("EmbedTexts", mock.Anything, mock.Anything).Return(nil, assert.AnError)
	tr.On("MarkFailed", mock.Anything, "msg-3", mock.Anything).Return(nil)

	_, err := svc.EmbedMessage(context.Background(), message.Message{ID: "msg-3", Content: "some text"})
	assert.Error(t, err)

	s.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	tr.AssertNotCalled(t, "MarkEmbedded", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	tr.AssertExpectations(t)
}

func TestEmbedMessage_UpsertFailure_NoCheckpoint(t *testing.T) {
	e := new(MockEmbedder)
	s := new(MockVectorStore)
	tr := new(MockTracker)
	svc := ingest.NewService(e, s, tr, testOptions())

	e.On("EmbedTexts", mock.Anything, mock.Anything).Return([][]float32{{0.1}}, nil)
	s.On("Upsert", mock.Anything, mock.Anything).Return(vectorstore.UpsertSummary{}, assert.AnError)
	tr.On("MarkFailed", mock.Anything, "msg-4", mock.Anything).Return(nil)

	_, err := svc.EmbedMessage(context.Background(), message.Message{ID: "msg-4", Content: "some text"})
	assert.Error(t, err)

	tr.AssertNotCalled(t, "MarkEmbedded", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	tr.AssertExpectations(t)
}

func TestEmbedMessage_PartialRejection_IsFailure(t *testing.T) {
	e := new(MockEmbedder)
	s := new(MockVectorStore)
	tr := new(MockTracker)
	svc := ingest.NewService(e, s, tr, testOptions())

	e.On("EmbedTexts", mock.Anything, mock.Anything).Return([][]float32{{0.1}}, nil)
	s.On("Upsert", mock.Anything, mock.Anything).
		Return(vectorstore.UpsertSummary{Accepted: 0, Rejected: 1}, nil)
	tr.On("MarkFailed", mock.Anything, "msg-5", "1 of 1 chunks rejected by vector store").Return(nil)

	_, err := svc.EmbedMessage(context.Background(), message.Message{ID: "msg-5", Content: "some text"})
	assert.Error(t, err)
	tr.AssertExpectations(t)
}

func TestEmbedBatch_IsolatesFailures(t *testing.T) {
	e := new(MockEmbedder)
	s := new(MockVectorStore)
	tr := new(MockTracker)
	svc := ingest.NewService(e, s, tr, testOptions())

	msgs := []message.Message{
		{ID: "m1", Content: "first"},
		{ID: "m2", Content: "second"},
		{ID: "m3", Content: "third"},
	}

	e.On("EmbedTexts", mock.Anything, []string{"first"}).Return([][]float32{{0.1}}, nil)
	e.On("EmbedTexts", mock.Anything, []string{"second"}).Return(nil, assert.AnError)
	e.On("EmbedTexts", mock.Anything, []string{"third"}).Return([][]float32{{0.3}}, nil)

	s.On("Upsert", mock.Anything, mock.Anything).Return(vectorstore.UpsertSummary{Accepted: 1}, nil)
	tr.On("MarkEmbedded", mock.Anything, "m1", mock.Anything, 1, mock.Anything).Return(nil)
	tr.On("MarkFailed", mock.Anything, "m2", mock.Anything).Return(nil)
	tr.On("MarkEmbedded", mock.Anything, "m3", mock.Anything, 1, mock.Anything).Return(nil)

	out := svc.EmbedBatch(context.Background(), msgs)

	assert.Equal(t, 2, out.Processed)
	assert.Equal(t, 1, out.Failed)
	assert.Len(t, out.Results, 3)
	assert.Empty(t, out.Results[0].Error)
	assert.NotEmpty(t, out.Results[1].Error)
	assert.Empty(t, out.Results[2].Error)

	tr.AssertExpectations(t)
}

func TestPreview_DoesNotWrite(t *testing.T) {
	e := new(MockEmbedder)
	s := new(MockVectorStore)
	tr := new(MockTracker)
	svc := ingest.NewService(e, s, tr, testOptions())

	e.On("EmbedTexts", mock.Anything, []string{"hello world"}).
		Return([][]float32{{0.1, 0.2}}, nil)

	out, err := svc.Preview(context.Background(), []message.Message{{ID: "m1", Content: "hello world"}})
	assert.NoError(t, err)
	assert.Len(t, out["m1"], 1)
	assert.Equal(t, vectorstore.VectorID("m1", 0), out["m1"][0].VectorID)
	assert.Equal(t, 2, out["m1"][0].Dimension)

	s.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	tr.AssertNotCalled(t, "MarkEmbedded", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
