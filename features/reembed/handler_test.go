package reembed_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"parley/backend/features/reembed"
	synctrack "parley/backend/features/sync"
	"parley/backend/internal/scheduler"
	"parley/backend/internal/vectorstore"
)

type MockRunner struct{ mock.Mock }

func (m *MockRunner) TryRun(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRunner) Status() scheduler.RunStatus {
	args := m.Called()
	return args.Get(0).(scheduler.RunStatus)
}

type MockStore struct{ mock.Mock }

func (m *MockStore) Stats(ctx context.Context) (vectorstore.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(vectorstore.Stats), args.Error(1)
}

type MockTracker struct{ mock.Mock }

func (m *MockTracker) Counts(ctx context.Context) (synctrack.Counts, error) {
	args := m.Called(ctx)
	return args.Get(0).(synctrack.Counts), args.Error(1)
}

func TestStatus_OK(t *testing.T) {
	runner := new(MockRunner)
	store := new(MockStore)
	tracker := new(MockTracker)
	h := reembed.NewHandler(runner, store, tracker)

	runner.On("Status").Return(scheduler.RunStatus{State: scheduler.StateIdle})
	store.On("Stats", mock.Anything).Return(vectorstore.Stats{TotalVectors: 99, Dimension: 3072}, nil)
	tracker.On("Counts", mock.Anything).Return(synctrack.Counts{Pending: 3, Embedded: 90, Failed: 1}, nil)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/reembedding/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Run         scheduler.RunStatus `json:"run"`
		VectorStore vectorstore.Stats   `json:"vector_store"`
		Checkpoints synctrack.Counts    `json:"checkpoints"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, scheduler.StateIdle, resp.Run.State)
	assert.Equal(t, 99, resp.VectorStore.TotalVectors)
	assert.Equal(t, 3, resp.Checkpoints.Pending)
}

func TestStatus_StoreUnavailable(t *testing.T) {
	runner := new(MockRunner)
	store := new(MockStore)
	h := reembed.NewHandler(runner, store, new(MockTracker))

	store.On("Stats", mock.Anything).Return(vectorstore.Stats{}, vectorstore.ErrUnavailable)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/reembedding/status", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRun_Completed(t *testing.T) {
	runner := new(MockRunner)
	h := reembed.NewHandler(runner, new(MockStore), new(MockTracker))

	runner.On("TryRun", mock.Anything).Return(nil)
	runner.On("Status").Return(scheduler.RunStatus{
		State:             scheduler.StateCompleted,
		MessagesProcessed: 12,
	})

	rec := httptest.NewRecorder()
	h.Run(rec, httptest.NewRequest(http.MethodPost, "/reembedding/run", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Run scheduler.RunStatus `json:"run"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, scheduler.StateCompleted, resp.Run.State)
	assert.Equal(t, 12, resp.Run.MessagesProcessed)
}

func TestRun_AlreadyRunning_Is409(t *testing.T) {
	runner := new(MockRunner)
	h := reembed.NewHandler(runner, new(MockStore), new(MockTracker))

	runner.On("TryRun", mock.Anything).Return(scheduler.ErrRunInProgress)

	rec := httptest.NewRecorder()
	h.Run(rec, httptest.NewRequest(http.MethodPost, "/reembedding/run", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "RUN_IN_PROGRESS")
}
