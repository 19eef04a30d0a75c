package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/bagqueue/internal/server/storage"
	"github.com/google/uuid"
)

// CapacityChecker decides whether new uploads may be admitted.
type CapacityChecker interface {
	Admit(ctx context.Context) error
}

// maxCASRetries bounds re-reads after losing a compare-and-set race.
const maxCASRetries = 3

// UploadService issues upload targets and drives the AWAITING_UPLOAD edges.
// Uploads land at the working backend.
type UploadService struct {
	rm        repomanager.RepositoryManager
	resolver  *storage.Resolver
	presigner storage.Presigner
	capacity  CapacityChecker
	expiry    time.Duration
	logger    logging.Logger
	now       func() time.Time
}

func NewUploadService(rm repomanager.RepositoryManager, resolver *storage.Resolver, capacity CapacityChecker,
	expiry time.Duration, logger logging.Logger) (*UploadService, error) {
	presigner, ok := resolver.Working().(storage.Presigner)
	if !ok {
		return nil, fmt.Errorf("working backend %s cannot presign uploads", resolver.Working().Name())
	}
	return &UploadService{
		rm:        rm,
		resolver:  resolver,
		presigner: presigner,
		capacity:  capacity,
		expiry:    expiry,
		logger:    logger.With("module", "upload"),
		now:       time.Now,
	}, nil
}

// ValidateFilename accepts non-empty base names with a supported extension.
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty filename", common.ErrorValidation)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: filename %q must not contain a path", common.ErrorValidation, name)
	}
	ext := strings.ToLower(path.Ext(name))
	for _, allowed := range common.UploadExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %q is not one of %s", common.ErrorValidation, name, strings.Join(common.UploadExtensions, ", "))
}

// CreatePresignedURLs creates one File and UploadSession per filename, in
// request order, and returns their upload targets. Nothing is created when
// capacity is exceeded or any step fails.
func (s *UploadService) CreatePresignedURLs(ctx context.Context, missionID, creatorID string, filenames []string) ([]models.UploadTarget, error) {
	if len(filenames) == 0 {
		return nil, fmt.Errorf("%w: no filenames", common.ErrorValidation)
	}
	for _, name := range filenames {
		if err := ValidateFilename(name); err != nil {
			return nil, err
		}
	}

	exists, err := s.rm.Catalog().MissionExists(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: mission %s", common.ErrorNotFound, missionID)
	}

	if err := s.capacity.Admit(ctx); err != nil {
		s.logger.Warn(ctx, "upload rejected", "mission_id", missionID, "error", err)
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)
	targets := make([]models.UploadTarget, 0, len(filenames))

	err = s.rm.WithTx(ctx, func(ctx context.Context, rm repomanager.RepositoryManager) error {
		for _, name := range filenames {
			file := &models.File{
				ID:        uuid.NewString(),
				MissionID: missionID,
				CreatorID: creatorID,
				Filename:  name,
				State:     models.StateAwaitingUpload,
				Location:  models.LocationNone,
				CreatedAt: now,
			}
			if err := rm.Files().Create(ctx, file); err != nil {
				return err
			}

			url, err := s.presigner.PresignPut(ctx, file.StorageKey(), s.expiry)
			if err != nil {
				return fmt.Errorf("%w: %w", common.ErrBackend, err)
			}

			if err := rm.Sessions().Create(ctx, &models.UploadSession{
				FileID:    file.ID,
				MissionID: missionID,
				Filename:  name,
				ExpiresAt: expiresAt,
				CreatedAt: now,
			}); err != nil {
				return err
			}

			targets = append(targets, models.UploadTarget{
				Filename:  name,
				FileID:    file.ID,
				URL:       url,
				ExpiresAt: expiresAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "upload targets issued", "mission_id", missionID, "count", len(targets))
	return targets, nil
}

func (s *UploadService) mismatch(ctx context.Context, f *models.File, op string) models.TransitionOutcome {
	s.logger.Warn(ctx, "transition mismatch", "op", op, "file_id", f.ID, "state", f.State.String())
	return models.TransitionOutcome{
		ID:     f.ID,
		State:  f.State,
		Reason: fmt.Sprintf("%s: file is %s", common.ErrTransitionMismatch, f.State),
	}
}

// ConfirmUpload finishes an upload. success=true verifies the object at the
// working backend and queues the file for processing; success=false cancels
// it. A file that is no longer AWAITING_UPLOAD yields Applied=false.
func (s *UploadService) ConfirmUpload(ctx context.Context, fileID string, success bool, md5 string) (models.TransitionOutcome, error) {
	f, err := s.rm.Files().Get(ctx, fileID)
	if err != nil {
		return models.TransitionOutcome{}, err
	}
	if f.State != models.StateAwaitingUpload {
		return s.mismatch(ctx, f, "confirm"), nil
	}

	session, err := s.rm.Sessions().Get(ctx, fileID)
	if err != nil {
		return models.TransitionOutcome{}, err
	}

	if !success {
		return s.cancelAwaiting(ctx, f, "confirm")
	}

	if session.Expired(s.now()) {
		return models.TransitionOutcome{}, fmt.Errorf("%w: file %s", common.ErrSessionExpired, fileID)
	}

	info, err := s.resolver.Working().Stat(ctx, f.StorageKey())
	if errors.Is(err, common.ErrObjectNotFound) {
		if _, cerr := s.cancelAwaiting(ctx, f, "confirm"); cerr != nil {
			return models.TransitionOutcome{}, errors.Join(common.ErrUploadMissing, cerr)
		}
		return models.TransitionOutcome{}, fmt.Errorf("%w: file %s", common.ErrUploadMissing, fileID)
	}
	if err != nil {
		return models.TransitionOutcome{}, fmt.Errorf("%w: %w", common.ErrBackend, err)
	}

	err = s.rm.WithTx(ctx, func(ctx context.Context, rm repomanager.RepositoryManager) error {
		if err := rm.Files().MarkUploaded(ctx, f.ID, info.Size, strings.ToLower(md5)); err != nil {
			return err
		}
		return rm.Sessions().Delete(ctx, f.ID)
	})
	if errors.Is(err, common.ErrStaleState) {
		return s.reread(ctx, f.ID, "confirm")
	}
	if err != nil {
		return models.TransitionOutcome{}, err
	}

	s.logger.Info(ctx, "upload confirmed", "file_id", f.ID, "size", info.Size)
	return models.TransitionOutcome{ID: f.ID, State: models.StateAwaitingProcessing, Applied: true}, nil
}

func (s *UploadService) reread(ctx context.Context, id, op string) (models.TransitionOutcome, error) {
	f, err := s.rm.Files().Get(ctx, id)
	if err != nil {
		return models.TransitionOutcome{}, err
	}
	return s.mismatch(ctx, f, op), nil
}

// cancelAwaiting cancels a file that no worker owns yet and releases its
// session and any uploaded bytes.
func (s *UploadService) cancelAwaiting(ctx context.Context, f *models.File, op string) (models.TransitionOutcome, error) {
	err := s.rm.WithTx(ctx, func(ctx context.Context, rm repomanager.RepositoryManager) error {
		if err := rm.Files().CompareAndSetState(ctx, f.ID, f.State, models.StateCanceled); err != nil {
			return err
		}
		return rm.Sessions().Delete(ctx, f.ID)
	})
	if errors.Is(err, common.ErrStaleState) {
		return s.reread(ctx, f.ID, op)
	}
	if err != nil {
		return models.TransitionOutcome{}, err
	}

	if err := s.resolver.Purge(ctx, f.StorageKey()); err != nil {
		s.logger.Warn(ctx, "failed to purge canceled upload", "file_id", f.ID, "error", err)
	}
	s.logger.Info(ctx, "file canceled", "op", op, "file_id", f.ID, "from", f.State.String())
	return models.TransitionOutcome{ID: f.ID, State: models.StateCanceled, Applied: true}, nil
}

// CancelFileUpload cancels the given files of one mission. Ids that are
// unknown or belong to another mission are skipped. Terminal files are
// reported unchanged. Files owned by a worker are flagged and cancel at the
// worker's next substep boundary, at the latest before COMPLETED is recorded.
func (s *UploadService) CancelFileUpload(ctx context.Context, ids []string, missionID string) ([]models.TransitionOutcome, error) {
	var outcomes []models.TransitionOutcome
	for _, id := range ids {
		f, err := s.rm.Files().GetInMission(ctx, id, missionID)
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			return outcomes, err
		}
		outcome, err := s.cancelOne(ctx, f)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *UploadService) cancelOne(ctx context.Context, f *models.File) (models.TransitionOutcome, error) {
	for attempt := 0; ; attempt++ {
		switch {
		case f.State.IsTerminal():
			return models.TransitionOutcome{ID: f.ID, State: f.State, Reason: "already " + f.State.String()}, nil

		case f.State.InProcessing():
			err := s.rm.Files().RequestCancel(ctx, f.ID)
			if err == nil {
				s.logger.Info(ctx, "cancellation requested", "file_id", f.ID, "state", f.State.String())
				return models.TransitionOutcome{ID: f.ID, State: f.State, Applied: true, Reason: "cancellation requested"}, nil
			}
			if !errors.Is(err, common.ErrStaleState) {
				return models.TransitionOutcome{}, err
			}

		default:
			err := s.rm.WithTx(ctx, func(ctx context.Context, rm repomanager.RepositoryManager) error {
				if err := rm.Files().CompareAndSetState(ctx, f.ID, f.State, models.StateCanceled); err != nil {
					return err
				}
				return rm.Sessions().Delete(ctx, f.ID)
			})
			if err == nil {
				if err := s.resolver.Purge(ctx, f.StorageKey()); err != nil {
					s.logger.Warn(ctx, "failed to purge canceled file", "file_id", f.ID, "error", err)
				}
				s.logger.Info(ctx, "file canceled", "op", "cancel", "file_id", f.ID, "from", f.State.String())
				return models.TransitionOutcome{ID: f.ID, State: models.StateCanceled, Applied: true}, nil
			}
			if !errors.Is(err, common.ErrStaleState) {
				return models.TransitionOutcome{}, err
			}
		}

		if attempt == maxCASRetries {
			return models.TransitionOutcome{}, fmt.Errorf("cancel %s: %w", f.ID, common.ErrStaleState)
		}
		var err error
		if f, err = s.rm.Files().Get(ctx, f.ID); err != nil {
			return models.TransitionOutcome{}, err
		}
	}
}

func (s *UploadService) GetFile(ctx context.Context, fileID string) (*models.File, error) {
	return s.rm.Files().Get(ctx, fileID)
}
