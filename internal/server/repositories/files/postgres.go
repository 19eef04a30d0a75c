package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/dbx"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

const fileColumns = `id, mission_id, creator_id, filename, state, location, size, expected_md5, md5,
		cancel_requested, worker_id, claimed_at, created_at, updated_at, deleted_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*models.File, error) {
	var (
		f     models.File
		state int
		loc   string
	)
	err := row.Scan(&f.ID, &f.MissionID, &f.CreatorID, &f.Filename, &state, &loc, &f.Size,
		&f.ExpectedMD5, &f.MD5, &f.CancelRequested, &f.WorkerID, &f.ClaimedAt,
		&f.CreatedAt, &f.UpdatedAt, &f.DeletedAt)
	if err != nil {
		return nil, err
	}
	if f.State, err = models.ParseFileState(state); err != nil {
		return nil, err
	}
	f.Location = models.FileLocation(loc)
	return &f, nil
}

func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (id, mission_id, creator_id, filename, state, location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	_, err := r.db.ExecContext(ctx, query, file.ID, file.MissionID, file.CreatorID, file.Filename,
		file.State.Code(), string(file.Location), file.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id=$1 AND deleted_at IS NULL`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetInMission(ctx context.Context, id, missionID string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id=$1 AND mission_id=$2 AND deleted_at IS NULL`
	return r.getOne(ctx, query, id, missionID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.File, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

// inProcessing returns an IN list of placeholders starting at $first and
// the codes of the PROCESSING family to bind to them.
func inProcessing(first int) (string, []any) {
	states := models.ProcessingStates()
	ph := make([]string, len(states))
	args := make([]any, len(states))
	for i, s := range states {
		ph[i] = fmt.Sprintf("$%d", first+i)
		args[i] = s.Code()
	}
	return "(" + strings.Join(ph, ", ") + ")", args
}

// isForward reports whether to continues processing rather than ending or
// releasing it.
func isForward(to models.FileState) bool {
	return to.InProcessing() || to == models.StateCompleted
}

func (r *PostgresRepository) CompareAndSetState(ctx context.Context, id string, from, to models.FileState) error {
	if err := models.CheckTransition(from, to); err != nil {
		return err
	}
	query := `UPDATE files SET state=$3, updated_at=now() WHERE id=$1 AND state=$2`
	if isForward(to) {
		query += ` AND NOT cancel_requested`
	}
	res, err := r.db.ExecContext(ctx, query, id, from.Code(), to.Code())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) MarkUploaded(ctx context.Context, id string, size int64, expectedMD5 string) error {
	query := `
		UPDATE files SET state=$3, location=$4, size=$5, expected_md5=$6, updated_at=now()
		WHERE id=$1 AND state=$2
	`
	res, err := r.db.ExecContext(ctx, query, id,
		models.StateAwaitingUpload.Code(), models.StateAwaitingProcessing.Code(),
		string(models.LocationWorking), size, expectedMD5)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.File, error) {
	query := `
		UPDATE files SET state=$1, worker_id=$2, claimed_at=$3, updated_at=$3
		WHERE id = (
			SELECT id FROM files
			WHERE state=$4 AND deleted_at IS NULL
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + fileColumns
	row := r.db.QueryRowContext(ctx, query, models.StateDownloading.Code(), workerID, now,
		models.StateAwaitingProcessing.Code())
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to claim file: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) Heartbeat(ctx context.Context, id, workerID string, now time.Time) error {
	in, codes := inProcessing(4)
	query := `UPDATE files SET claimed_at=$3 WHERE id=$1 AND worker_id=$2 AND state IN ` + in
	res, err := r.db.ExecContext(ctx, query, append([]any{id, workerID, now}, codes...)...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) Release(ctx context.Context, id string, from models.FileState, workerID string) error {
	if !from.InProcessing() {
		return fmt.Errorf("%w: release from %s", common.ErrInvalidTransition, from)
	}
	query := `
		UPDATE files SET state=$3, worker_id='', claimed_at=NULL, updated_at=now()
		WHERE id=$1 AND state=$2 AND worker_id=$4 AND NOT cancel_requested
	`
	res, err := r.db.ExecContext(ctx, query, id, from.Code(), models.StateAwaitingProcessing.Code(), workerID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) ReapStale(ctx context.Context, before time.Time, limit int) ([]*models.File, error) {
	in, codes := inProcessing(5)
	query := `
		UPDATE files SET
			state = CASE WHEN cancel_requested THEN $1 ELSE $2 END,
			worker_id='', claimed_at=NULL, updated_at=now()
		WHERE id IN (
			SELECT id FROM files
			WHERE state IN ` + in + ` AND claimed_at < $3 AND deleted_at IS NULL
			ORDER BY claimed_at
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)
		RETURNING ` + fileColumns
	args := append([]any{models.StateCanceled.Code(), models.StateAwaitingProcessing.Code(), before, limit}, codes...)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to reap claims: %w", err)
	}
	defer rows.Close()

	var reaped []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		reaped = append(reaped, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to reap claims: %w", err)
	}
	return reaped, nil
}

func (r *PostgresRepository) RequestCancel(ctx context.Context, id string) error {
	in, codes := inProcessing(2)
	query := `UPDATE files SET cancel_requested=true, updated_at=now() WHERE id=$1 AND state IN ` + in
	res, err := r.db.ExecContext(ctx, query, append([]any{id}, codes...)...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := r.db.QueryRowContext(ctx, `SELECT cancel_requested FROM files WHERE id=$1`, id).Scan(&requested)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, common.ErrorNotFound
		}
		return false, fmt.Errorf("failed to select file: %w", err)
	}
	return requested, nil
}

func (r *PostgresRepository) SetChecksum(ctx context.Context, id, md5 string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE files SET md5=$2, updated_at=now() WHERE id=$1`, id, md5)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) CompareAndSetLocation(ctx context.Context, id string, from, to models.FileLocation) error {
	query := `UPDATE files SET location=$3, updated_at=now() WHERE id=$1 AND location=$2`
	res, err := r.db.ExecContext(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

var _ Repository = (*PostgresRepository)(nil)
