package sync

import (
	"context"
	"database/sql"
	"time"

	"parley/backend/features/message"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// pendingWhere matches messages with no checkpoint, a failed checkpoint, or a
// content hash that drifted from the last embedded one. The sha256 here must
// produce the same hex digest as message.ContentHash.
const pendingWhere = `
	m.deleted_at IS NULL AND (
		c.source_message_id IS NULL
		OR c.status = 'failed'
		OR encode(sha256(convert_to(m.content, 'UTF8')), 'hex') <> c.content_hash
	)`

func (r *PostgresRepo) ListPending(ctx context.Context, limit, offset int) ([]message.Message, error) {
	query := `
		SELECT m.id, m.content, m.author_id, m.container_id, m.created_at, m.updated_at
		FROM messages m
		LEFT JOIN embedding_checkpoints c ON c.source_message_id = m.id
		WHERE` + pendingWhere + `
		ORDER BY m.created_at ASC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []message.Message
	for rows.Next() {
		var m message.Message
		if err := rows.Scan(&m.ID, &m.Content, &m.AuthorID, &m.ContainerID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *PostgresRepo) CountPending(ctx context.Context) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		LEFT JOIN embedding_checkpoints c ON c.source_message_id = m.id
		WHERE` + pendingWhere

	var count int
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func (r *PostgresRepo) MarkEmbedded(ctx context.Context, sourceMessageID, contentHash string, chunkCount int, at time.Time) error {
	query := `
		INSERT INTO embedding_checkpoints (source_message_id, content_hash, status, chunk_count, last_embedded_at, last_error, updated_at)
		VALUES ($1, $2, 'embedded', $3, $4, NULL, NOW())
		ON CONFLICT (source_message_id) DO UPDATE
		SET content_hash = EXCLUDED.content_hash,
		    status = 'embedded',
		    chunk_count = EXCLUDED.chunk_count,
		    last_embedded_at = EXCLUDED.last_embedded_at,
		    last_error = NULL,
		    updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, sourceMessageID, contentHash, chunkCount, at)
	return err
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, sourceMessageID, reason string) error {
	// On conflict only status and error change; the previous success's hash
	// and timestamp survive.
	query := `
		INSERT INTO embedding_checkpoints (source_message_id, content_hash, status, chunk_count, last_error, updated_at)
		VALUES ($1, '', 'failed', 0, $2, NOW())
		ON CONFLICT (source_message_id) DO UPDATE
		SET status = 'failed',
		    last_error = EXCLUDED.last_error,
		    updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, sourceMessageID, reason)
	return err
}

func (r *PostgresRepo) MarkPending(ctx context.Context, sourceMessageID string) error {
	query := `UPDATE embedding_checkpoints SET status = 'pending', updated_at = NOW() WHERE source_message_id = $1`
	_, err := r.db.ExecContext(ctx, query, sourceMessageID)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, sourceMessageID string) (*Checkpoint, error) {
	c := &Checkpoint{}
	var lastError sql.NullString
	query := `
		SELECT source_message_id, content_hash, status, chunk_count, last_embedded_at, last_error, updated_at
		FROM embedding_checkpoints WHERE source_message_id = $1`
	err := r.db.QueryRowContext(ctx, query, sourceMessageID).
		Scan(&c.SourceMessageID, &c.ContentHash, &c.Status, &c.ChunkCount, &c.LastEmbeddedAt, &lastError, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.LastError = lastError.String
	return c, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, sourceMessageID string) error {
	query := `DELETE FROM embedding_checkpoints WHERE source_message_id = $1`
	_, err := r.db.ExecContext(ctx, query, sourceMessageID)
	return err
}

func (r *PostgresRepo) Counts(ctx context.Context) (Counts, error) {
	var counts Counts

	if err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'embedded'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM embedding_checkpoints`).Scan(&counts.Embedded, &counts.Failed); err != nil {
		return Counts{}, err
	}

	pending, err := r.CountPending(ctx)
	if err != nil {
		return Counts{}, err
	}
	counts.Pending = pending
	return counts, nil
}
