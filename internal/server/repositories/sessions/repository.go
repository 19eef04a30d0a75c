// Package sessions persists the server-side half of presigned upload targets.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.UploadSession) error
	// Get returns common.ErrSessionNotFound when fileID has no session.
	Get(ctx context.Context, fileID string) (*models.UploadSession, error)
	// Delete is idempotent.
	Delete(ctx context.Context, fileID string) error
	// ListExpired returns up to limit sessions that expired before the given time, oldest first.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*models.UploadSession, error)
}
