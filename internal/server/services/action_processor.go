package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/bagqueue/internal/server/runner"
)

// ActionProcessor claims PENDING actions, checks mission/template
// compatibility and hands them to the action runtime.
type ActionProcessor struct {
	rm       repomanager.RepositoryManager
	runner   runner.Runner
	stopPoll time.Duration
	logger   logging.Logger
}

func NewActionProcessor(rm repomanager.RepositoryManager, r runner.Runner, stopPoll time.Duration, logger logging.Logger) *ActionProcessor {
	return &ActionProcessor{rm: rm, runner: r, stopPoll: stopPoll, logger: logger.With("module", "action_processor")}
}

func (p *ActionProcessor) Run(ctx context.Context, workers int, poll time.Duration) {
	runWorkers(ctx, p.logger, "actions", workers, poll, func(ctx context.Context, workerID string) (bool, error) {
		_, found, err := p.ProcessNext(ctx, workerID)
		return found, err
	})
}

// ProcessNext claims the oldest PENDING action and runs it to a terminal state.
func (p *ActionProcessor) ProcessNext(ctx context.Context, workerID string) (*models.Action, bool, error) {
	a, err := p.rm.Actions().ClaimNext(ctx, workerID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	ctx = logging.ContextWith(ctx, "worker", workerID)
	p.logger.Info(ctx, "action claimed", "action_id", a.ID)
	return a, true, p.Process(ctx, a)
}

// Process takes a STARTING action owned by this worker to DONE, FAILED or
// UNPROCESSABLE. When the stop flag or the catalog cannot be read the claim
// is released back to PENDING and the error returned.
func (p *ActionProcessor) Process(ctx context.Context, a *models.Action) error {
	log := p.logger.With("action_id", a.ID)

	if stopped, err := p.stopRequested(ctx, a.ID); err != nil {
		return p.release(ctx, log, a, err)
	} else if stopped {
		return p.finish(ctx, log, a, models.ActionFailed, stopMessage)
	}

	if err := p.rm.Catalog().Compatible(ctx, a.MissionID, a.TemplateID); err != nil {
		if errors.Is(err, common.ErrIncompatible) {
			return p.finish(ctx, log, a, models.ActionUnprocessable, err.Error())
		}
		return p.release(ctx, log, a, err)
	}

	if err := p.rm.Actions().CompareAndSetState(ctx, a.ID, a.State, models.ActionProcessing, ""); err != nil {
		return fmt.Errorf("start %s: %w", a.ID, err)
	}
	a.State = models.ActionProcessing

	runErr := p.run(ctx, a)

	stopped, err := p.stopRequested(context.WithoutCancel(ctx), a.ID)
	switch {
	case err != nil:
		return p.finish(ctx, log, a, models.ActionFailed, errors.Join(runErr, err).Error())
	case stopped:
		return p.finish(ctx, log, a, models.ActionFailed, stopMessage)
	case runErr != nil:
		return p.finish(ctx, log, a, models.ActionFailed, runErr.Error())
	}
	return p.finish(ctx, log, a, models.ActionDone, "")
}

// run executes the action and kills it when a stop is requested meanwhile.
// Each poll also renews the claim.
func (p *ActionProcessor) run(ctx context.Context, a *models.Action) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.stopPoll > 0 {
		go func() {
			ticker := time.NewTicker(p.stopPoll)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					if err := p.rm.Actions().Heartbeat(runCtx, a.ID, a.WorkerID, time.Now()); errors.Is(err, common.ErrStaleState) {
						p.logger.Warn(runCtx, "action claim lost", "action_id", a.ID)
						cancel()
						return
					}
					if stopped, _ := p.stopRequested(runCtx, a.ID); stopped {
						cancel()
						return
					}
				}
			}
		}()
	}
	return p.runner.Run(runCtx, a)
}

func (p *ActionProcessor) stopRequested(ctx context.Context, id string) (bool, error) {
	a, err := p.rm.Actions().Get(ctx, id)
	if err != nil {
		return false, err
	}
	return a.CancelRequested, nil
}

// release puts a STARTING action back to PENDING so another attempt can
// evaluate it. A stop request that raced in is honored instead.
func (p *ActionProcessor) release(ctx context.Context, log logging.Logger, a *models.Action, cause error) error {
	bg := context.WithoutCancel(ctx)
	err := p.rm.Actions().Release(bg, a.ID, a.WorkerID)
	if errors.Is(err, common.ErrStaleState) {
		if stopped, serr := p.stopRequested(bg, a.ID); serr == nil && stopped {
			return p.finish(ctx, log, a, models.ActionFailed, stopMessage)
		}
	}
	if err != nil {
		return errors.Join(cause, fmt.Errorf("release %s: %w", a.ID, err))
	}
	a.State = models.ActionPending
	a.WorkerID = ""
	a.ClaimedAt = nil
	log.Warn(ctx, "action claim released", "error", cause)
	return fmt.Errorf("evaluate %s: %w", a.ID, cause)
}

func (p *ActionProcessor) finish(ctx context.Context, log logging.Logger, a *models.Action, to models.ActionState, message string) error {
	from := a.State
	if err := p.rm.Actions().CompareAndSetState(context.WithoutCancel(ctx), a.ID, from, to, message); err != nil {
		return fmt.Errorf("finish %s as %s: %w", a.ID, to, err)
	}
	a.State = to
	a.Message = message
	if to == models.ActionDone {
		log.Info(ctx, "action done")
	} else {
		log.Warn(ctx, "action ended", "from", string(from), "state", string(to), "message", message)
	}
	return nil
}
