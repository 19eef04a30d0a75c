package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const stopMessage = models.ActionStoppedMessage

// ActionService accepts and stops actions. Execution happens in ActionProcessor.
type ActionService struct {
	rm     repomanager.RepositoryManager
	logger logging.Logger
	now    func() time.Time
}

func NewActionService(rm repomanager.RepositoryManager, logger logging.Logger) *ActionService {
	return &ActionService{rm: rm, logger: logger.With("module", "actions"), now: time.Now}
}

// Submit queues templateID to run against missionID. Compatibility is
// decided by the worker that picks the action up.
func (s *ActionService) Submit(ctx context.Context, missionID, templateID, creatorID string) (*models.Action, error) {
	if strings.TrimSpace(missionID) == "" || strings.TrimSpace(templateID) == "" {
		return nil, fmt.Errorf("%w: mission and template are required", common.ErrorValidation)
	}

	a := &models.Action{
		ID:         uuid.NewString(),
		MissionID:  missionID,
		TemplateID: templateID,
		CreatorID:  creatorID,
		State:      models.ActionPending,
		CreatedAt:  s.now(),
	}
	if err := s.rm.Actions().Create(ctx, a); err != nil {
		return nil, err
	}
	a.UpdatedAt = a.CreatedAt
	s.logger.Info(ctx, "action submitted", "action_id", a.ID, "mission_id", missionID, "template_id", templateID)
	return a, nil
}

func (s *ActionService) Get(ctx context.Context, id string) (*models.Action, error) {
	return s.rm.Actions().Get(ctx, id)
}

// Stop fails a PENDING action at once and flags a running one for its
// worker. Stopping a terminal action changes nothing.
func (s *ActionService) Stop(ctx context.Context, id string) (*models.Action, error) {
	for attempt := 0; ; attempt++ {
		a, err := s.rm.Actions().Get(ctx, id)
		if err != nil {
			return nil, err
		}

		switch {
		case a.State.IsTerminal():
			return a, nil
		case a.State == models.ActionPending:
			err = s.rm.Actions().CompareAndSetState(ctx, id, models.ActionPending, models.ActionFailed, stopMessage)
		default:
			err = s.rm.Actions().RequestStop(ctx, id)
		}
		if err == nil {
			s.logger.Info(ctx, "action stop requested", "action_id", id, "state", string(a.State))
			return s.rm.Actions().Get(ctx, id)
		}
		if !errors.Is(err, common.ErrStaleState) {
			return nil, err
		}
		if attempt == maxCASRetries {
			return nil, fmt.Errorf("stop %s: %w", id, err)
		}
	}
}
