// Package actions persists Action rows. As with files, every state write is
// a compare-and-set on the current state.
package actions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, a *models.Action) error
	// Get returns common.ErrorNotFound for unknown ids.
	Get(ctx context.Context, id string) (*models.Action, error)
	// CompareAndSetState moves the action from -> to and records message.
	// It returns common.ErrStaleState when the action is no longer in from.
	CompareAndSetState(ctx context.Context, id string, from, to models.ActionState, message string) error
	// ClaimNext takes the oldest PENDING action for workerID and moves it to
	// STARTING. Returns common.ErrorNotFound when the queue is empty.
	ClaimNext(ctx context.Context, workerID string) (*models.Action, error)
	// RequestStop flags a non-terminal action. It returns
	// common.ErrStaleState when the action is already terminal.
	RequestStop(ctx context.Context, id string) error
	// Heartbeat renews workerID's claim on a STARTING or PROCESSING action.
	// It returns common.ErrStaleState once the claim is gone.
	Heartbeat(ctx context.Context, id, workerID string, now time.Time) error
	// Release hands a STARTING action owned by workerID back to PENDING.
	Release(ctx context.Context, id, workerID string) error
	// ReapStale ends up to limit claims older than before. A STARTING action
	// goes back to PENDING unless a stop was requested; everything else is
	// FAILED, with ActionStoppedMessage or ActionLostMessage.
	ReapStale(ctx context.Context, before time.Time, limit int) ([]*models.Action, error)
}
