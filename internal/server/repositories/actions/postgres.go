package actions

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

const actionColumns = `id, mission_id, template_id, creator_id, state, cancel_requested, worker_id, claimed_at, message, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanAction(row interface{ Scan(...any) error }) (*models.Action, error) {
	var (
		a     models.Action
		state string
	)
	if err := row.Scan(&a.ID, &a.MissionID, &a.TemplateID, &a.CreatorID, &state, &a.CancelRequested,
		&a.WorkerID, &a.ClaimedAt, &a.Message, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.State = models.ActionState(state)
	if !a.State.Valid() {
		return nil, fmt.Errorf("unknown action state %q", state)
	}
	return &a, nil
}

func (r *PostgresRepository) Create(ctx context.Context, a *models.Action) error {
	query := `
		INSERT INTO actions (id, mission_id, template_id, creator_id, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	_, err := r.db.ExecContext(ctx, query, a.ID, a.MissionID, a.TemplateID, a.CreatorID, string(a.State), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE id=$1`
	a, err := scanAction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select action: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) CompareAndSetState(ctx context.Context, id string, from, to models.ActionState, message string) error {
	if err := models.CheckActionTransition(from, to); err != nil {
		return err
	}
	query := `UPDATE actions SET state=$3, message=$4, updated_at=now() WHERE id=$1 AND state=$2`
	res, err := r.db.ExecContext(ctx, query, id, string(from), string(to), message)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) ClaimNext(ctx context.Context, workerID string) (*models.Action, error) {
	query := `
		UPDATE actions SET state=$1, worker_id=$2, claimed_at=now(), updated_at=now()
		WHERE id = (
			SELECT id FROM actions
			WHERE state=$3
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + actionColumns
	a, err := scanAction(r.db.QueryRowContext(ctx, query, string(models.ActionStarting), workerID, string(models.ActionPending)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to claim action: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) RequestStop(ctx context.Context, id string) error {
	query := `UPDATE actions SET cancel_requested=true, updated_at=now() WHERE id=$1 AND state IN ($2, $3, $4)`
	res, err := r.db.ExecContext(ctx, query, id,
		string(models.ActionPending), string(models.ActionStarting), string(models.ActionProcessing))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) Heartbeat(ctx context.Context, id, workerID string, now time.Time) error {
	query := `UPDATE actions SET claimed_at=$3 WHERE id=$1 AND worker_id=$2 AND state IN ($4, $5)`
	res, err := r.db.ExecContext(ctx, query, id, workerID, now,
		string(models.ActionStarting), string(models.ActionProcessing))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) Release(ctx context.Context, id, workerID string) error {
	query := `
		UPDATE actions SET state=$3, worker_id='', claimed_at=NULL, updated_at=now()
		WHERE id=$1 AND worker_id=$2 AND state=$4 AND NOT cancel_requested
	`
	res, err := r.db.ExecContext(ctx, query, id, workerID, string(models.ActionPending), string(models.ActionStarting))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) ReapStale(ctx context.Context, before time.Time, limit int) ([]*models.Action, error) {
	query := `
		UPDATE actions SET
			state = CASE WHEN state=$1 AND NOT cancel_requested THEN $2 ELSE $3 END,
			message = CASE
				WHEN state=$1 AND NOT cancel_requested THEN ''
				WHEN cancel_requested THEN $4
				ELSE $5 END,
			worker_id='', claimed_at=NULL, updated_at=now()
		WHERE id IN (
			SELECT id FROM actions
			WHERE state IN ($1, $6) AND claimed_at < $7
			ORDER BY claimed_at
			FOR UPDATE SKIP LOCKED
			LIMIT $8
		)
		RETURNING ` + actionColumns
	rows, err := r.db.QueryContext(ctx, query,
		string(models.ActionStarting), string(models.ActionPending), string(models.ActionFailed),
		models.ActionStoppedMessage, models.ActionLostMessage, string(models.ActionProcessing), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reap claims: %w", err)
	}
	defer rows.Close()

	var reaped []*models.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		reaped = append(reaped, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to reap claims: %w", err)
	}
	return reaped, nil
}

var _ Repository = (*PostgresRepository)(nil)
