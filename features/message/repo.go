package message

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

const messageColumns = `id, content, author_id, container_id, created_at, updated_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Message, error) {
	m := &Message{}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.Content, &m.AuthorID, &m.ContainerID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *PostgresRepo) GetMany(ctx context.Context, ids []string) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ANY($1) AND deleted_at IS NULL ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *PostgresRepo) List(ctx context.Context, limit, offset int) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE deleted_at IS NULL ORDER BY created_at ASC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM messages WHERE deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Content, &m.AuthorID, &m.ContainerID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
