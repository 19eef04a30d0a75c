package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/catalog"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu   sync.Mutex
	runs []string
	run  func(ctx context.Context, a *models.Action) error
}

func (r *fakeRunner) Run(ctx context.Context, a *models.Action) error {
	r.mu.Lock()
	r.runs = append(r.runs, a.ID)
	r.mu.Unlock()
	if r.run != nil {
		return r.run(ctx, a)
	}
	return nil
}

func (r *fakeRunner) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// catalogDown serves everything from the embedded manager except the
// catalog, which fails with err.
type catalogDown struct {
	*repomanager.MemoryRepositoryManager
	err    error
	before func()
}

func (c catalogDown) Catalog() catalog.Repository { return failingCatalog{c.err, c.before} }

type failingCatalog struct {
	err    error
	before func()
}

func (f failingCatalog) MissionExists(context.Context, string) (bool, error) { return false, f.err }

func (f failingCatalog) Compatible(context.Context, string, string) error {
	if f.before != nil {
		f.before()
	}
	return f.err
}

func setupActions(t *testing.T) (*repomanager.MemoryRepositoryManager, *ActionService, *ActionProcessor, *fakeRunner) {
	t.Helper()
	rm := repomanager.NewMemoryRepositoryManager()
	rm.AddMission(testMission)
	rm.AddTemplate("tpl", false)
	rm.AddTemplate("tpl-archived", true)
	r := &fakeRunner{}
	return rm, NewActionService(rm, logging.Nop()), NewActionProcessor(rm, r, 5*time.Millisecond, logging.Nop()), r
}

func TestActionService_Submit(t *testing.T) {
	_, svc, _, _ := setupActions(t)
	ctx := context.Background()

	a, err := svc.Submit(ctx, testMission, "tpl", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionPending, a.State)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "user-1", got.CreatorID)

	_, err = svc.Submit(ctx, "", "tpl", "u")
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestActionProcessor_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		mission  string
		template string
		runErr   error
		want     models.ActionState
		runs     int
	}{
		{"compatible", testMission, "tpl", nil, models.ActionDone, 1},
		{"runtime failure", testMission, "tpl", errors.New("exit status 1"), models.ActionFailed, 1},
		{"archived template", testMission, "tpl-archived", nil, models.ActionUnprocessable, 0},
		{"unknown template", testMission, "nope", nil, models.ActionUnprocessable, 0},
		{"unknown mission", "ghost", "tpl", nil, models.ActionUnprocessable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, svc, proc, runner := setupActions(t)
			runErr := tt.runErr
			runner.run = func(context.Context, *models.Action) error { return runErr }
			ctx := context.Background()

			a, err := svc.Submit(ctx, tt.mission, tt.template, "u")
			require.NoError(t, err)

			claimed, found, err := proc.ProcessNext(ctx, "w1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, a.ID, claimed.ID)

			got, err := svc.Get(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.State)
			assert.Equal(t, tt.runs, runner.Runs())
			if tt.want != models.ActionDone {
				assert.NotEmpty(t, got.Message)
			}
		})
	}
}

func TestActionProcessor_EmptyQueue(t *testing.T) {
	_, _, proc, _ := setupActions(t)
	_, found, err := proc.ProcessNext(context.Background(), "w1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestActionService_StopPending(t *testing.T) {
	_, svc, proc, runner := setupActions(t)
	ctx := context.Background()
	a, err := svc.Submit(ctx, testMission, "tpl", "u")
	require.NoError(t, err)

	stopped, err := svc.Stop(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFailed, stopped.State)

	_, found, err := proc.ProcessNext(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, runner.Runs())

	// stopping a terminal action is a no-op
	again, err := svc.Stop(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFailed, again.State)
}

func TestActionProcessor_StopBeforeProcessing(t *testing.T) {
	rm, svc, proc, runner := setupActions(t)
	ctx := context.Background()
	_, err := svc.Submit(ctx, testMission, "tpl", "u")
	require.NoError(t, err)

	a, err := rm.Actions().ClaimNext(ctx, "w1")
	require.NoError(t, err)
	stopped, err := svc.Stop(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stopped.CancelRequested)

	require.NoError(t, proc.Process(ctx, a))
	assert.Equal(t, models.ActionFailed, a.State)
	assert.Equal(t, 0, runner.Runs())
}

func TestActionProcessor_StopWhileRunning(t *testing.T) {
	_, svc, proc, runner := setupActions(t)
	ctx := context.Background()
	a, err := svc.Submit(ctx, testMission, "tpl", "u")
	require.NoError(t, err)

	runner.run = func(ctx context.Context, a *models.Action) error {
		if _, err := svc.Stop(context.Background(), a.ID); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("not stopped")
		}
	}

	_, _, err = proc.ProcessNext(ctx, "w1")
	require.NoError(t, err)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFailed, got.State)
	assert.Equal(t, stopMessage, got.Message)
}

func TestActionProcessor_Run(t *testing.T) {
	_, svc, proc, _ := setupActions(t)
	a, err := svc.Submit(context.Background(), testMission, "tpl", "u")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go proc.Run(ctx, 2, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		got, err := svc.Get(context.Background(), a.ID)
		return err == nil && got.State == models.ActionDone
	}, 2*time.Second, 5*time.Millisecond)
}

func TestActionService_SubmitUnknownTemplateEndsUnprocessable(t *testing.T) {
	_, svc, proc, runner := setupActions(t)
	ctx := context.Background()

	a, err := svc.Submit(ctx, testMission, "never-registered", "u")
	require.NoError(t, err)
	assert.Equal(t, models.ActionPending, a.State)

	_, found, err := proc.ProcessNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, found)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionUnprocessable, got.State)
	assert.Contains(t, got.Message, "never-registered")
	assert.Equal(t, 0, runner.Runs())
}

func TestActionProcessor_CatalogOutageReleasesClaim(t *testing.T) {
	rm, svc, _, runner := setupActions(t)
	ctx := context.Background()
	a, err := svc.Submit(ctx, testMission, "tpl", "u")
	require.NoError(t, err)

	outage := errors.New("catalog: connection refused")
	down := NewActionProcessor(catalogDown{MemoryRepositoryManager: rm, err: outage}, runner, 5*time.Millisecond, logging.Nop())
	_, found, err := down.ProcessNext(ctx, "w1")
	require.True(t, found)
	require.ErrorIs(t, err, outage)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionPending, got.State)
	assert.Empty(t, got.WorkerID)
	assert.Nil(t, got.ClaimedAt)
	assert.Equal(t, 0, runner.Runs())

	// a healthy worker picks it up again
	up := NewActionProcessor(rm, runner, 5*time.Millisecond, logging.Nop())
	_, found, err = up.ProcessNext(ctx, "w2")
	require.NoError(t, err)
	require.True(t, found)
	got, err = svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionDone, got.State)
}

func TestActionProcessor_CatalogOutageHonorsRacingStop(t *testing.T) {
	rm, svc, _, runner := setupActions(t)
	ctx := context.Background()
	_, err := svc.Submit(ctx, testMission, "tpl", "u")
	require.NoError(t, err)

	a, err := rm.Actions().ClaimNext(ctx, "w1")
	require.NoError(t, err)

	down := NewActionProcessor(catalogDown{
		MemoryRepositoryManager: rm,
		err:                     errors.New("timeout"),
		before:                  func() { require.NoError(t, rm.Actions().RequestStop(ctx, a.ID)) },
	}, runner, 0, logging.Nop())
	require.NoError(t, down.Process(ctx, a))
	assert.Equal(t, models.ActionFailed, a.State)
	assert.Equal(t, stopMessage, a.Message)
}
