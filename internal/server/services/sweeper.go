package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/bagqueue/internal/server/storage"
)

const sweepBatch = 100

// Sweeper cancels uploads whose session expired more than grace ago and
// were never confirmed.
type Sweeper struct {
	rm       repomanager.RepositoryManager
	resolver *storage.Resolver
	grace    time.Duration
	logger   logging.Logger
}

func NewSweeper(rm repomanager.RepositoryManager, resolver *storage.Resolver, grace time.Duration, logger logging.Logger) *Sweeper {
	return &Sweeper{rm: rm, resolver: resolver, grace: grace, logger: logger.With("module", "sweeper")}
}

// Sweep cancels every abandoned upload as of now and returns how many files
// it canceled.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	canceled := 0
	for {
		expired, err := s.rm.Sessions().ListExpired(ctx, now.Add(-s.grace), sweepBatch)
		if err != nil {
			return canceled, err
		}
		for _, session := range expired {
			ok, err := s.expire(ctx, session)
			if err != nil {
				return canceled, err
			}
			if ok {
				canceled++
			}
		}
		if len(expired) < sweepBatch {
			return canceled, nil
		}
	}
}

func (s *Sweeper) expire(ctx context.Context, session *models.UploadSession) (bool, error) {
	applied := false
	err := s.rm.WithTx(ctx, func(ctx context.Context, rm repomanager.RepositoryManager) error {
		err := rm.Files().CompareAndSetState(ctx, session.FileID, models.StateAwaitingUpload, models.StateCanceled)
		switch {
		case err == nil:
			applied = true
		case errors.Is(err, common.ErrStaleState), errors.Is(err, common.ErrorNotFound):
			// confirmed or canceled meanwhile; the session is just garbage
		default:
			return err
		}
		return rm.Sessions().Delete(ctx, session.FileID)
	})
	if err != nil {
		return false, err
	}
	if applied {
		if err := s.resolver.Purge(ctx, session.FileID); err != nil {
			s.logger.Warn(ctx, "failed to purge abandoned upload", "file_id", session.FileID, "error", err)
		}
		s.logger.Info(ctx, "abandoned upload canceled", "file_id", session.FileID, "mission_id", session.MissionID,
			"expired_at", session.ExpiresAt)
	}
	return applied, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.Sweep(ctx, now)
			if err != nil && ctx.Err() == nil {
				s.logger.Error(ctx, "sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info(ctx, "sweep finished", "canceled", n)
			}
		}
	}
}
