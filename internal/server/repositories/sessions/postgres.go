package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/dbx"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.UploadSession) error {
	query := `
		INSERT INTO upload_sessions (file_id, mission_id, filename, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, s.FileID, s.MissionID, s.Filename, s.ExpiresAt, s.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, fileID string) (*models.UploadSession, error) {
	query := `SELECT file_id, mission_id, filename, expires_at, created_at FROM upload_sessions WHERE file_id=$1`
	var s models.UploadSession
	err := r.db.QueryRowContext(ctx, query, fileID).Scan(&s.FileID, &s.MissionID, &s.Filename, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to select session: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, fileID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE file_id=$1`, fileID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]*models.UploadSession, error) {
	query := `
		SELECT file_id, mission_id, filename, expires_at, created_at FROM upload_sessions
		WHERE expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select sessions: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadSession
	for rows.Next() {
		var s models.UploadSession
		if err := rows.Scan(&s.FileID, &s.MissionID, &s.Filename, &s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

var _ Repository = (*PostgresRepository)(nil)
