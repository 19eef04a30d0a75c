package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/filex"
	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/convert"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/bagqueue/internal/server/storage"
)

// FileProcessor drives claimed files through DOWNLOADING, CONVERTING and
// UPLOADING. Cancellation requests are honored at substep boundaries and
// before COMPLETED is recorded. Shutdown hands the claim back to the queue.
type FileProcessor struct {
	rm         repomanager.RepositoryManager
	resolver   *storage.Resolver
	converter  convert.Converter
	topics     *TopicIndexer
	scratchDir string
	logger     logging.Logger
	now        func() time.Time
	heartbeat  time.Duration
}

func NewFileProcessor(rm repomanager.RepositoryManager, resolver *storage.Resolver, converter convert.Converter,
	topics *TopicIndexer, scratchDir string, logger logging.Logger) *FileProcessor {
	return &FileProcessor{
		rm:         rm,
		resolver:   resolver,
		converter:  converter,
		topics:     topics,
		scratchDir: scratchDir,
		logger:     logger.With("module", "file_processor"),
		now:        time.Now,
	}
}

// WithHeartbeat makes Process renew its claim every d between substep
// boundaries as well, so long conversions outlive the claim lease.
func (p *FileProcessor) WithHeartbeat(d time.Duration) *FileProcessor {
	p.heartbeat = d
	return p
}

// Run starts workers goroutines that claim and process files until ctx is done.
func (p *FileProcessor) Run(ctx context.Context, workers int, poll time.Duration) {
	runWorkers(ctx, p.logger, "files", workers, poll, func(ctx context.Context, workerID string) (bool, error) {
		_, found, err := p.ProcessNext(ctx, workerID)
		return found, err
	})
}

// ProcessNext claims the oldest waiting file and processes it. found is false
// when the queue is empty.
func (p *FileProcessor) ProcessNext(ctx context.Context, workerID string) (*models.File, bool, error) {
	f, err := p.rm.Files().ClaimNext(ctx, workerID, p.now())
	if errors.Is(err, common.ErrorNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	ctx = logging.ContextWith(ctx, "worker", workerID)
	p.logger.Info(ctx, "file claimed", "file_id", f.ID)
	return f, true, p.Process(ctx, f)
}

// Process runs the substeps for a file this worker owns and leaves it in a
// terminal state, or back in AWAITING_PROCESSING when ctx ends first.
// Failures of the file itself are recorded on the file; the returned error
// only reports failed bookkeeping or a lost claim.
func (p *FileProcessor) Process(ctx context.Context, f *models.File) error {
	log := p.logger.With("file_id", f.ID)
	defer p.keepClaim(ctx, f)()

	scratch, err := os.CreateTemp(p.scratchDir, "file-*")
	if err != nil {
		return p.fail(ctx, log, f, models.StateError, fmt.Errorf("create scratch file: %w", err))
	}
	defer os.Remove(scratch.Name())

	if stop, err := p.boundary(ctx, log, f); stop {
		scratch.Close()
		return err
	}

	// DOWNLOADING
	err = p.download(ctx, f, scratch)
	scratch.Close()
	if err != nil {
		return p.fail(ctx, log, f, models.StateError, err)
	}
	sum, _, err := filex.FileMD5(scratch.Name())
	if err != nil {
		return p.fail(ctx, log, f, models.StateError, fmt.Errorf("hash scratch file: %w", err))
	}
	if err := p.rm.Files().SetChecksum(ctx, f.ID, sum); err != nil {
		return p.fail(ctx, log, f, models.StateError, err)
	}
	f.MD5 = sum

	if stop, err := p.boundary(ctx, log, f); stop {
		return err
	}
	if stop, err := p.step(ctx, log, f, models.StateConverting); stop {
		return err
	}

	// CONVERTING_AND_EXTRACTING_TOPICS
	if f.ExpectedMD5 != "" && !strings.EqualFold(f.ExpectedMD5, sum) {
		return p.fail(ctx, log, f, models.StateCorrupted,
			fmt.Errorf("%w: md5 %s, client reported %s", common.ErrConversion, sum, f.ExpectedMD5))
	}
	channels, err := p.converter.Convert(ctx, scratch.Name())
	if errors.Is(err, common.ErrConversion) {
		return p.fail(ctx, log, f, models.StateCorrupted, err)
	}
	if err != nil {
		return p.fail(ctx, log, f, models.StateError, fmt.Errorf("convert: %w", err))
	}
	topics, err := p.topics.Replace(ctx, f.ID, channels)
	if err != nil {
		return p.fail(ctx, log, f, models.StateError, fmt.Errorf("index topics: %w", err))
	}
	log.Debug(ctx, "topics indexed", "count", len(topics))

	if stop, err := p.boundary(ctx, log, f); stop {
		return err
	}
	if stop, err := p.step(ctx, log, f, models.StateUploading); stop {
		return err
	}

	// UPLOADING
	if err := p.resolver.Move(ctx, f, models.LocationDurable); err != nil {
		return p.fail(ctx, log, f, models.StateError, err)
	}
	if stop, err := p.step(ctx, log, f, models.StateCompleted); stop {
		return err
	}
	log.Info(ctx, "file completed", "size", f.Size, "topics", len(topics))
	return nil
}

func (p *FileProcessor) download(ctx context.Context, f *models.File, w *os.File) error {
	loc, err := p.resolver.Locate(ctx, f)
	if err != nil {
		return err
	}
	src, err := p.resolver.Backend(loc)
	if err != nil {
		return err
	}
	if err := src.Get(ctx, f.StorageKey(), w); err != nil {
		return fmt.Errorf("%w: download from %s: %w", common.ErrBackend, src.Name(), err)
	}
	return nil
}

func (p *FileProcessor) advance(ctx context.Context, f *models.File, to models.FileState) error {
	if err := p.rm.Files().CompareAndSetState(ctx, f.ID, f.State, to); err != nil {
		return fmt.Errorf("advance %s from %s to %s: %w", f.ID, f.State, to, err)
	}
	f.State = to
	return nil
}

// keepClaim renews f's claim every p.heartbeat until the returned func is
// called. A lost claim is noticed at the next boundary.
func (p *FileProcessor) keepClaim(ctx context.Context, f *models.File) func() {
	if p.heartbeat <= 0 {
		return func() {}
	}
	id, worker := f.ID, f.WorkerID
	bg := context.WithoutCancel(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = p.rm.Files().Heartbeat(bg, id, worker, p.now())
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// step advances f to the next state. Forward writes lose against a pending
// cancellation, which is then honored here; stop is true whenever the caller
// must not continue.
func (p *FileProcessor) step(ctx context.Context, log logging.Logger, f *models.File, to models.FileState) (bool, error) {
	bg := context.WithoutCancel(ctx)
	err := p.advance(bg, f, to)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, common.ErrStaleState) {
		if requested, rerr := p.rm.Files().CancelRequested(bg, f.ID); rerr == nil && requested {
			return true, p.cancel(ctx, log, f)
		}
	}
	return true, err
}

// boundary reports whether processing must stop here. It renews the claim,
// honors a pending cancellation and releases the claim once ctx is done.
func (p *FileProcessor) boundary(ctx context.Context, log logging.Logger, f *models.File) (bool, error) {
	bg := context.WithoutCancel(ctx)
	if err := p.rm.Files().Heartbeat(bg, f.ID, f.WorkerID, p.now()); err != nil {
		if errors.Is(err, common.ErrStaleState) {
			log.Warn(ctx, "file claim lost", "state", f.State.String())
			return true, fmt.Errorf("claim on %s lost: %w", f.ID, err)
		}
		return true, p.fail(ctx, log, f, models.StateError, err)
	}
	requested, err := p.rm.Files().CancelRequested(bg, f.ID)
	if err != nil {
		return true, p.fail(ctx, log, f, models.StateError, err)
	}
	if requested {
		return true, p.cancel(ctx, log, f)
	}
	if ctx.Err() != nil {
		return true, p.release(ctx, log, f, ctx.Err())
	}
	return false, nil
}

// cancel moves f to CANCELED and removes its bytes from wherever they
// currently are.
func (p *FileProcessor) cancel(ctx context.Context, log logging.Logger, f *models.File) error {
	bg := context.WithoutCancel(ctx)
	from := f.State
	if err := p.advance(bg, f, models.StateCanceled); err != nil {
		return err
	}
	if err := p.resolver.Discard(bg, f); err != nil {
		log.Warn(ctx, "failed to purge canceled file", "location", string(f.Location), "error", err)
	}
	log.Info(ctx, "file canceled", "op", "process", "from", from.String(), "location", string(f.Location))
	return nil
}

// release hands f back to AWAITING_PROCESSING with its location unchanged,
// so another worker restarts it from DOWNLOADING. A cancellation that raced
// in is honored instead.
func (p *FileProcessor) release(ctx context.Context, log logging.Logger, f *models.File, cause error) error {
	bg := context.WithoutCancel(ctx)
	from := f.State
	err := p.rm.Files().Release(bg, f.ID, from, f.WorkerID)
	if errors.Is(err, common.ErrStaleState) {
		if requested, rerr := p.rm.Files().CancelRequested(bg, f.ID); rerr == nil && requested {
			return p.cancel(ctx, log, f)
		}
	}
	if err != nil {
		return errors.Join(cause, fmt.Errorf("release %s: %w", f.ID, err))
	}
	f.State = models.StateAwaitingProcessing
	f.WorkerID = ""
	f.ClaimedAt = nil
	log.Info(ctx, "file claim released", "from", from.String(), "cause", cause)
	return nil
}

// fail records a terminal failure state even when ctx is already canceled.
// Failures caused by shutdown release the claim instead.
func (p *FileProcessor) fail(ctx context.Context, log logging.Logger, f *models.File, to models.FileState, cause error) error {
	if ctx.Err() != nil {
		return p.release(ctx, log, f, cause)
	}
	from := f.State
	if err := p.advance(context.WithoutCancel(ctx), f, to); err != nil {
		return errors.Join(cause, err)
	}
	log.Error(ctx, "file processing failed", "from", from.String(), "state", to.String(), "error", cause)
	return nil
}
