package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) MissionExists(ctx context.Context, missionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM missions WHERE id=$1)`, missionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to select mission: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Compatible(ctx context.Context, missionID, templateID string) error {
	exists, err := r.MissionExists(ctx, missionID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: mission %s does not exist", common.ErrIncompatible, missionID)
	}

	var archived bool
	err = r.db.QueryRowContext(ctx, `SELECT archived FROM action_templates WHERE id=$1`, templateID).Scan(&archived)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: template %s does not exist", common.ErrIncompatible, templateID)
		}
		return fmt.Errorf("failed to select template: %w", err)
	}
	if archived {
		return fmt.Errorf("%w: template %s is archived", common.ErrIncompatible, templateID)
	}
	return nil
}

var _ Repository = (*PostgresRepository)(nil)
