// Package files persists File rows and implements the worker-claim protocol:
// every state write is a compare-and-set guarded by the expected current state.
package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, file *models.File) error
	// Get returns common.ErrorNotFound for unknown or deleted files.
	Get(ctx context.Context, id string) (*models.File, error)
	// GetInMission is Get restricted to one mission.
	GetInMission(ctx context.Context, id, missionID string) (*models.File, error)

	// CompareAndSetState moves the file from -> to only if it is still in
	// from. A lost race returns common.ErrStaleState; an edge that the state
	// machine does not define returns common.ErrInvalidTransition. Forward
	// moves (to a later substep or COMPLETED) also lose against a pending
	// cancellation request.
	CompareAndSetState(ctx context.Context, id string, from, to models.FileState) error
	// MarkUploaded is the AWAITING_UPLOAD -> AWAITING_PROCESSING compare-and-set
	// that also records size, client digest and the WORKING location.
	MarkUploaded(ctx context.Context, id string, size int64, expectedMD5 string) error
	// ClaimNext atomically takes the oldest AWAITING_PROCESSING file for
	// workerID and moves it to DOWNLOADING. Returns common.ErrorNotFound when
	// nothing is claimable.
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.File, error)
	// Heartbeat renews workerID's claim on a PROCESSING file. It returns
	// common.ErrStaleState once the claim has been released or reaped.
	Heartbeat(ctx context.Context, id, workerID string, now time.Time) error
	// Release hands a PROCESSING file owned by workerID back to
	// AWAITING_PROCESSING, keeping its location. A pending cancellation
	// makes it fail with common.ErrStaleState.
	Release(ctx context.Context, id string, from models.FileState, workerID string) error
	// ReapStale ends up to limit claims older than before: files with a
	// pending cancellation become CANCELED, the rest AWAITING_PROCESSING.
	// It returns the files as they are after the update.
	ReapStale(ctx context.Context, before time.Time, limit int) ([]*models.File, error)

	// RequestCancel flags a file owned by a worker. It returns
	// common.ErrStaleState when the file is not in the PROCESSING family.
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)

	SetChecksum(ctx context.Context, id, md5 string) error
	CompareAndSetLocation(ctx context.Context, id string, from, to models.FileLocation) error
}
