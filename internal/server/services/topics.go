package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// TopicIndexer maintains the per-file topic set extracted during conversion.
type TopicIndexer struct {
	rm  repomanager.RepositoryManager
	now func() time.Time
}

func NewTopicIndexer(rm repomanager.RepositoryManager) *TopicIndexer {
	return &TopicIndexer{rm: rm, now: time.Now}
}

// Replace swaps the file's topic set for one topic per distinct channel name
// in a single transaction. When a name repeats, its first occurrence wins.
func (t *TopicIndexer) Replace(ctx context.Context, fileID string, channels []models.Channel) ([]models.Topic, error) {
	seen := make(map[string]struct{}, len(channels))
	result := make([]models.Topic, 0, len(channels))
	now := t.now()
	for _, ch := range channels {
		if _, ok := seen[ch.Name]; ok {
			continue
		}
		seen[ch.Name] = struct{}{}
		result = append(result, models.Topic{
			ID:           uuid.NewString(),
			FileID:       fileID,
			Name:         ch.Name,
			Type:         ch.Type,
			MessageCount: ch.MessageCount,
			Frequency:    ch.Frequency,
			CreatedAt:    now,
		})
	}

	err := t.rm.WithTx(ctx, func(ctx context.Context, rm repomanager.RepositoryManager) error {
		if err := rm.Topics().DeleteByFile(ctx, fileID); err != nil {
			return err
		}
		for i := range result {
			if err := rm.Topics().Create(ctx, &result[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (t *TopicIndexer) ListByFile(ctx context.Context, fileID string) ([]*models.Topic, error) {
	return t.rm.Topics().ListByFile(ctx, fileID)
}
