// Package topics persists the per-file channel index.
package topics

import (
	"context"

	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, t *models.Topic) error
	DeleteByFile(ctx context.Context, fileID string) error
	ListByFile(ctx context.Context, fileID string) ([]*models.Topic, error)
}
