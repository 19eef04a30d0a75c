package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/bagqueue/internal/server/storage"
)

const reapBatch = 100

// Reaper takes back claims whose worker stopped renewing them for longer
// than the lease. Files return to AWAITING_PROCESSING, or end CANCELED when
// a cancellation was pending. Actions in STARTING return to PENDING; those
// already running or asked to stop end FAILED.
type Reaper struct {
	rm       repomanager.RepositoryManager
	resolver *storage.Resolver
	lease    time.Duration
	logger   logging.Logger
}

func NewReaper(rm repomanager.RepositoryManager, resolver *storage.Resolver, lease time.Duration, logger logging.Logger) *Reaper {
	return &Reaper{rm: rm, resolver: resolver, lease: lease, logger: logger.With("module", "reaper")}
}

// Reap releases every claim older than the lease as of now.
func (r *Reaper) Reap(ctx context.Context, now time.Time) (files, actions int, err error) {
	cutoff := now.Add(-r.lease)
	for {
		batch, err := r.rm.Files().ReapStale(ctx, cutoff, reapBatch)
		if err != nil {
			return files, actions, err
		}
		for _, f := range batch {
			r.reapedFile(ctx, f)
		}
		files += len(batch)
		if len(batch) < reapBatch {
			break
		}
	}
	for {
		batch, err := r.rm.Actions().ReapStale(ctx, cutoff, reapBatch)
		if err != nil {
			return files, actions, err
		}
		for _, a := range batch {
			r.logger.Warn(ctx, "stale action claim reaped", "action_id", a.ID, "state", string(a.State), "message", a.Message)
		}
		actions += len(batch)
		if len(batch) < reapBatch {
			return files, actions, nil
		}
	}
}

func (r *Reaper) reapedFile(ctx context.Context, f *models.File) {
	if f.State != models.StateCanceled {
		r.logger.Warn(ctx, "stale file claim released", "file_id", f.ID, "location", string(f.Location))
		return
	}
	// a move may have finished before the worker died; drop both tiers
	if err := r.resolver.Discard(ctx, f); err != nil {
		r.logger.Warn(ctx, "failed to purge canceled file", "file_id", f.ID, "error", err)
	}
	if err := r.resolver.Purge(ctx, f.StorageKey()); err != nil {
		r.logger.Warn(ctx, "failed to purge canceled file", "file_id", f.ID, "error", err)
	}
	r.logger.Info(ctx, "file canceled", "op", "reap", "file_id", f.ID)
}

// Run reaps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			files, actions, err := r.Reap(ctx, now)
			if err != nil && ctx.Err() == nil {
				r.logger.Error(ctx, "reap failed", "error", err)
				continue
			}
			if files+actions > 0 {
				r.logger.Info(ctx, "reap finished", "files", files, "actions", actions)
			}
		}
	}
}
