package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/filex"
	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

// LocationStore persists a file's location with compare-and-set semantics.
type LocationStore interface {
	CompareAndSetLocation(ctx context.Context, id string, from, to models.FileLocation) error
}

type eviction struct {
	backend Backend
	key     string
}

// Resolver maps a File's location to a backend and moves bytes between tiers.
// A file's location only changes after the target copy has been verified;
// the source copy is then handed to the evictor.
type Resolver struct {
	working    Backend
	durable    Backend
	store      LocationStore
	scratchDir string
	logger     logging.Logger
	evictions  chan eviction
}

func NewResolver(working, durable Backend, store LocationStore, scratchDir string, logger logging.Logger) *Resolver {
	return &Resolver{
		working:    working,
		durable:    durable,
		store:      store,
		scratchDir: scratchDir,
		logger:     logger.With("module", "resolver"),
		evictions:  make(chan eviction, 256),
	}
}

// Backends returns every configured backend, working first.
func (r *Resolver) Backends() []Backend {
	return []Backend{r.working, r.durable}
}

// Working is the backend uploads land at.
func (r *Resolver) Working() Backend {
	return r.working
}

// Backend returns the backend for loc.
func (r *Resolver) Backend(loc models.FileLocation) (Backend, error) {
	switch loc {
	case models.LocationWorking:
		return r.working, nil
	case models.LocationDurable:
		return r.durable, nil
	default:
		return nil, fmt.Errorf("no backend for location %q", loc)
	}
}

// Locate returns where file's bytes currently live. Files still awaiting
// upload have no location.
func (r *Resolver) Locate(_ context.Context, file *models.File) (models.FileLocation, error) {
	if file.State == models.StateAwaitingUpload {
		return models.LocationNone, nil
	}
	switch file.Location {
	case models.LocationNone, models.LocationWorking, models.LocationDurable:
		return file.Location, nil
	default:
		return models.LocationNone, fmt.Errorf("unknown location %q for file %s", file.Location, file.ID)
	}
}

// Move copies file to target, verifies the copy, flips the stored location
// and enqueues the source for eviction. On failure the stored location is
// unchanged and any partial target object is removed.
func (r *Resolver) Move(ctx context.Context, file *models.File, target models.FileLocation) error {
	source, err := r.Locate(ctx, file)
	if err != nil {
		return err
	}
	if source == target {
		return nil
	}
	src, err := r.Backend(source)
	if err != nil {
		return err
	}
	dst, err := r.Backend(target)
	if err != nil {
		return err
	}
	key := file.StorageKey()

	tmp, err := os.CreateTemp(r.scratchDir, "move-*")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(src.Get(ctx, key, pw))
	}()
	n, sum, err := filex.HashCopy(tmp, pr)
	pr.Close()
	if err != nil {
		return fmt.Errorf("%w: read %s from %s: %w", common.ErrBackend, key, src.Name(), err)
	}
	if file.Size > 0 && n != file.Size {
		return fmt.Errorf("%w: %s on %s has %d bytes, expected %d", common.ErrBackend, key, src.Name(), n, file.Size)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind staging file: %w", err)
	}

	if err := r.copyVerified(ctx, dst, key, tmp, n, sum); err != nil {
		r.discard(ctx, dst, key)
		return err
	}

	if err := r.store.CompareAndSetLocation(ctx, file.ID, source, target); err != nil {
		r.discard(ctx, dst, key)
		return fmt.Errorf("flip location of %s: %w", file.ID, err)
	}
	file.Location = target

	r.enqueueEviction(ctx, src, key)
	return nil
}

func (r *Resolver) copyVerified(ctx context.Context, dst Backend, key string, body io.Reader, size int64, sum string) error {
	if err := dst.Put(ctx, key, body, size); err != nil {
		return fmt.Errorf("%w: write %s to %s: %w", common.ErrBackend, key, dst.Name(), err)
	}
	info, err := dst.Stat(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: verify %s on %s: %w", common.ErrBackend, key, dst.Name(), err)
	}
	if info.Size != size {
		return fmt.Errorf("%w: %s on %s has %d bytes, expected %d", common.ErrBackend, key, dst.Name(), info.Size, size)
	}
	if info.MD5 != "" && info.MD5 != sum {
		return fmt.Errorf("%w: %s on %s has md5 %s, expected %s", common.ErrBackend, key, dst.Name(), info.MD5, sum)
	}
	return nil
}

func (r *Resolver) discard(ctx context.Context, b Backend, key string) {
	if err := b.Delete(context.WithoutCancel(ctx), key); err != nil {
		r.logger.Warn(ctx, "failed to remove partial copy", "backend", b.Name(), "key", key, "error", err)
	}
}

func (r *Resolver) enqueueEviction(ctx context.Context, b Backend, key string) {
	select {
	case r.evictions <- eviction{backend: b, key: key}:
	default:
		r.evict(ctx, eviction{backend: b, key: key})
	}
}

func (r *Resolver) evict(ctx context.Context, e eviction) {
	if err := e.backend.Delete(ctx, e.key); err != nil {
		r.logger.Error(ctx, "eviction failed", "backend", e.backend.Name(), "key", e.key, "error", err)
		return
	}
	r.logger.Debug(ctx, "evicted", "backend", e.backend.Name(), "key", e.key)
}

// RunEvictor deletes source copies left behind by Move until ctx is done.
func (r *Resolver) RunEvictor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.evictions:
			r.evict(ctx, e)
		}
	}
}

// Discard removes file's bytes from the backend its stored location names.
// Files without a location and missing objects are not an error.
func (r *Resolver) Discard(ctx context.Context, file *models.File) error {
	loc, err := r.Locate(ctx, file)
	if err != nil || loc == models.LocationNone {
		return err
	}
	b, err := r.Backend(loc)
	if err != nil {
		return err
	}
	if err := b.Delete(ctx, file.StorageKey()); err != nil && !errors.Is(err, common.ErrObjectNotFound) {
		return fmt.Errorf("%w: discard %s from %s: %w", common.ErrBackend, file.StorageKey(), b.Name(), err)
	}
	return nil
}

// Purge removes key from the working backend. A missing key is not an error.
func (r *Resolver) Purge(ctx context.Context, key string) error {
	if err := r.working.Delete(ctx, key); err != nil && !errors.Is(err, common.ErrObjectNotFound) {
		return fmt.Errorf("%w: purge %s: %w", common.ErrBackend, key, err)
	}
	return nil
}
