package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	synctrack "parley/backend/features/sync"
)

func TestPostgresRepo_ListPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := synctrack.NewPostgresRepo(db)

	t.Run("ReturnsDriftedAndUntracked", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows([]string{"id", "content", "author_id", "container_id", "created_at", "updated_at"}).
			AddRow("m1", "hello", "u1", "c1", now, now).
			AddRow("m2", "edited text", "u2", "c1", now, now)

		mock.ExpectQuery("SELECT m.id, m.content, m.author_id, m.container_id").
			WithArgs(50, 0).
			WillReturnRows(rows)

		msgs, err := repo.ListPending(context.Background(), 50, 0)
		assert.NoError(t, err)
		assert.Len(t, msgs, 2)
		assert.Equal(t, "m1", msgs[0].ID)
		assert.Equal(t, "edited text", msgs[1].Content)
	})

	t.Run("Empty", func(t *testing.T) {
		mock.ExpectQuery("SELECT m.id, m.content").
			WithArgs(50, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "content", "author_id", "container_id", "created_at", "updated_at"}))

		msgs, err := repo.ListPending(context.Background(), 50, 0)
		assert.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestPostgresRepo_MarkEmbedded(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := synctrack.NewPostgresRepo(db)
	at := time.Now()

	mock.ExpectExec("INSERT INTO embedding_checkpoints").
		WithArgs("m1", "abc123", 3, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.MarkEmbedded(context.Background(), "m1", "abc123", 3, at)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_MarkFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := synctrack.NewPostgresRepo(db)

	mock.ExpectExec("INSERT INTO embedding_checkpoints").
		WithArgs("m1", "embedding service exploded").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.MarkFailed(context.Background(), "m1", "embedding service exploded")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_MarkPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := synctrack.NewPostgresRepo(db)

	mock.ExpectExec("UPDATE embedding_checkpoints SET status = 'pending'").
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.MarkPending(context.Background(), "m1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := synctrack.NewPostgresRepo(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"source_message_id", "content_hash", "status", "chunk_count", "last_embedded_at", "last_error", "updated_at"}).
		AddRow("m1", "abc123", "embedded", 3, now, nil, now)

	mock.ExpectQuery("SELECT source_message_id, content_hash, status").
		WithArgs("m1").
		WillReturnRows(rows)

	c, err := repo.Get(context.Background(), "m1")
	assert.NoError(t, err)
	assert.Equal(t, synctrack.StatusEmbedded, c.Status)
	assert.Equal(t, 3, c.ChunkCount)
	assert.Empty(t, c.LastError)
}

func TestPostgresRepo_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := synctrack.NewPostgresRepo(db)

	mock.ExpectExec("DELETE FROM embedding_checkpoints").
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Delete(context.Background(), "m1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Counts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := synctrack.NewPostgresRepo(db)

	mock.ExpectQuery("COUNT\\(\\*\\) FILTER").
		WillReturnRows(sqlmock.NewRows([]string{"embedded", "failed"}).AddRow(40, 2))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	counts, err := repo.Counts(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, synctrack.Counts{Pending: 5, Embedded: 40, Failed: 2}, counts)
}
