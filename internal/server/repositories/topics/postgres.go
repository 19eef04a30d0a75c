package topics

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/bagqueue/internal/dbx"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, t *models.Topic) error {
	query := `
		INSERT INTO topics (id, file_id, name, type, message_count, frequency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query, t.ID, t.FileID, t.Name, t.Type, t.MessageCount, t.Frequency, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteByFile(ctx context.Context, fileID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM topics WHERE file_id=$1`, fileID); err != nil {
		return fmt.Errorf("failed to delete topics: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByFile(ctx context.Context, fileID string) ([]*models.Topic, error) {
	query := `
		SELECT id, file_id, name, type, message_count, frequency, created_at FROM topics
		WHERE file_id=$1
		ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to select topics: %w", err)
	}
	defer rows.Close()

	var result []*models.Topic
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.FileID, &t.Name, &t.Type, &t.MessageCount, &t.Frequency, &t.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

var _ Repository = (*PostgresRepository)(nil)
