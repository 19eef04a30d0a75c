package actions

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

var cols = []string{"id", "mission_id", "template_id", "creator_id", "state", "cancel_requested",
	"worker_id", "claimed_at", "message", "created_at", "updated_at"}

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()
	mock.ExpectExec(`INSERT INTO actions`).
		WithArgs("a1", "m1", "t1", "u1", "PENDING", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Action{
		ID: "a1", MissionID: "m1", TemplateID: "t1", CreatorID: "u1",
		State: models.ActionPending, CreatedAt: now,
	})
	require.NoError(t, err)
}

func TestGet(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM actions WHERE id=\$1`).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a1", "m1", "t1", "u1", "DONE", false, "w1", nil, "", now, now))

	a, err := repo.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionDone, a.State)
}

func TestGet_NotFoundAndBadState(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`SELECT .* FROM actions`).WillReturnError(sql.ErrNoRows)
	_, err := repo.Get(context.Background(), "a1")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM actions`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a1", "m1", "t1", "u1", "RUNNING", false, "", nil, "", now, now))
	_, err = repo.Get(context.Background(), "a1")
	assert.Error(t, err)
}

func TestCompareAndSetState(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`UPDATE actions SET state=\$3, message=\$4 .* WHERE id=\$1 AND state=\$2`).
		WithArgs("a1", "STARTING", "UNPROCESSABLE", "template archived").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CompareAndSetState(context.Background(), "a1", models.ActionStarting, models.ActionUnprocessable, "template archived")
	require.NoError(t, err)
}

func TestCompareAndSetState_Stale(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`UPDATE actions SET state`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CompareAndSetState(context.Background(), "a1", models.ActionProcessing, models.ActionDone, "")
	assert.ErrorIs(t, err, common.ErrStaleState)
}

func TestCompareAndSetState_UndefinedEdge(t *testing.T) {
	repo, _ := newRepoWithMock(t)
	err := repo.CompareAndSetState(context.Background(), "a1", models.ActionDone, models.ActionPending, "")
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestClaimNext(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()
	mock.ExpectQuery(`UPDATE actions SET state=\$1, worker_id=\$2, claimed_at=now\(\) .* FOR UPDATE SKIP LOCKED .* RETURNING`).
		WithArgs("STARTING", "w1", "PENDING").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a1", "m1", "t1", "u1", "STARTING", false, "w1", now, "", now, now))

	a, err := repo.ClaimNext(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionStarting, a.State)

	mock.ExpectQuery(`UPDATE actions SET state=\$1`).WillReturnError(sql.ErrNoRows)
	_, err = repo.ClaimNext(context.Background(), "w1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRequestStop(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`UPDATE actions SET cancel_requested=true .* state IN \(\$2, \$3, \$4\)`).
		WithArgs("a1", "PENDING", "STARTING", "PROCESSING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RequestStop(context.Background(), "a1"))
}

func TestHeartbeat(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()
	mock.ExpectExec(`UPDATE actions SET claimed_at=\$3 WHERE id=\$1 AND worker_id=\$2 AND state IN \(\$4, \$5\)`).
		WithArgs("a1", "w1", now, "STARTING", "PROCESSING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Heartbeat(context.Background(), "a1", "w1", now))

	mock.ExpectExec(`UPDATE actions SET claimed_at`).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Heartbeat(context.Background(), "a1", "w1", now), common.ErrStaleState)
}

func TestRelease(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`UPDATE actions SET state=\$3, worker_id='', claimed_at=NULL .* AND state=\$4 AND NOT cancel_requested`).
		WithArgs("a1", "w1", "PENDING", "STARTING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Release(context.Background(), "a1", "w1"))
}

func TestReapStale(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()
	before := now.Add(-time.Hour)
	mock.ExpectQuery(`UPDATE actions SET\s+state = CASE .* WHERE state IN \(\$1, \$6\) AND claimed_at < \$7 .* LIMIT \$8`).
		WithArgs("STARTING", "PENDING", "FAILED", models.ActionStoppedMessage, models.ActionLostMessage, "PROCESSING", before, 50).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a1", "m1", "t1", "u1", "PENDING", false, "", nil, "", now, now).
			AddRow("a2", "m1", "t1", "u1", "FAILED", false, "", nil, models.ActionLostMessage, now, now))

	reaped, err := repo.ReapStale(context.Background(), before, 50)
	require.NoError(t, err)
	require.Len(t, reaped, 2)
	assert.Equal(t, models.ActionPending, reaped[0].State)
	assert.Equal(t, models.ActionLostMessage, reaped[1].Message)
}
