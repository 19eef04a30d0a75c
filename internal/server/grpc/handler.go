package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/bagqueue/internal/api"
	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{common.ErrorValidation, codes.InvalidArgument},
	{common.ErrorNotFound, codes.NotFound},
	{common.ErrSessionNotFound, codes.NotFound},
	{common.ErrSessionExpired, codes.FailedPrecondition},
	{common.ErrUploadMissing, codes.FailedPrecondition},
	{common.ErrInvalidTransition, codes.FailedPrecondition},
	{common.ErrCapacityExceeded, codes.ResourceExhausted},
	{common.ErrStaleState, codes.Aborted},
	{common.ErrInvalidToken, codes.Unauthenticated},
	{common.ErrorUnauthorized, codes.Unauthenticated},
	{common.ErrBackend, codes.Unavailable},
}

// toStatus maps a service error to a gRPC status. Unrecognised errors are
// reported as Internal without their text.
func toStatus(err error) error {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return status.Error(e.code, err.Error())
		}
	}
	return status.Error(codes.Internal, "internal error")
}

func invalid(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

func toAPIFile(f *models.File) *api.File {
	return &api.File{
		ID:              f.ID,
		MissionID:       f.MissionID,
		Filename:        f.Filename,
		State:           f.State.String(),
		StateCode:       f.State.Code(),
		Location:        string(f.Location),
		Size:            f.Size,
		MD5:             f.MD5,
		CancelRequested: f.CancelRequested,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
}

func toAPIAction(a *models.Action) *api.Action {
	return &api.Action{
		ID:              a.ID,
		MissionID:       a.MissionID,
		TemplateID:      a.TemplateID,
		State:           string(a.State),
		CancelRequested: a.CancelRequested,
		Message:         a.Message,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func (s *GRPCServer) CreateUploads(ctx context.Context, req *api.CreateUploadsRequest) (*api.CreateUploadsResponse, error) {
	if err := validateUUID("mission_uuid", req.MissionID); err != nil {
		return nil, invalid(err)
	}
	if err := validateBatch("filenames", len(req.Filenames)); err != nil {
		return nil, invalid(err)
	}

	userID, _ := UserIDFromContext(ctx)
	targets, err := s.uploads.CreatePresignedURLs(ctx, req.MissionID, userID, req.Filenames)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.CreateUploadsResponse{Targets: targets}, nil
}

func (s *GRPCServer) ConfirmUpload(ctx context.Context, req *api.ConfirmUploadRequest) (*models.TransitionOutcome, error) {
	if err := validateUUID("file_uuid", req.FileID); err != nil {
		return nil, invalid(err)
	}

	out, err := s.uploads.ConfirmUpload(ctx, req.FileID, req.Success, req.MD5)
	if err != nil {
		return nil, toStatus(err)
	}
	return &out, nil
}

func (s *GRPCServer) CancelUploads(ctx context.Context, req *api.CancelUploadsRequest) (*api.OutcomesResponse, error) {
	if err := validateUUID("mission_uuid", req.MissionID); err != nil {
		return nil, invalid(err)
	}
	if err := validateUUIDs("file_uuids", req.FileIDs); err != nil {
		return nil, invalid(err)
	}

	outcomes, err := s.uploads.CancelFileUpload(ctx, req.FileIDs, req.MissionID)
	if err != nil {
		return nil, toStatus(err)
	}
	if outcomes == nil {
		outcomes = []models.TransitionOutcome{}
	}
	return &api.OutcomesResponse{Outcomes: outcomes}, nil
}

func (s *GRPCServer) GetFile(ctx context.Context, req *api.GetFileRequest) (*api.File, error) {
	if err := validateUUID("file_uuid", req.FileID); err != nil {
		return nil, invalid(err)
	}

	f, err := s.uploads.GetFile(ctx, req.FileID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toAPIFile(f), nil
}

func (s *GRPCServer) ListTopics(ctx context.Context, req *api.ListTopicsRequest) (*api.ListTopicsResponse, error) {
	if err := validateUUID("file_uuid", req.FileID); err != nil {
		return nil, invalid(err)
	}

	topics, err := s.topics.ListByFile(ctx, req.FileID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &api.ListTopicsResponse{Topics: make([]api.Topic, 0, len(topics))}
	for _, t := range topics {
		resp.Topics = append(resp.Topics, api.Topic{
			Name:         t.Name,
			Type:         t.Type,
			MessageCount: t.MessageCount,
			Frequency:    t.Frequency,
		})
	}
	return resp, nil
}

func (s *GRPCServer) SubmitAction(ctx context.Context, req *api.SubmitActionRequest) (*api.Action, error) {
	if err := validateUUID("mission_uuid", req.MissionID); err != nil {
		return nil, invalid(err)
	}
	if err := validateUUID("template_uuid", req.TemplateID); err != nil {
		return nil, invalid(err)
	}

	userID, _ := UserIDFromContext(ctx)
	a, err := s.actions.Submit(ctx, req.MissionID, req.TemplateID, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toAPIAction(a), nil
}

func (s *GRPCServer) GetAction(ctx context.Context, req *api.ActionRequest) (*api.Action, error) {
	if err := validateUUID("action_uuid", req.ActionID); err != nil {
		return nil, invalid(err)
	}

	a, err := s.actions.Get(ctx, req.ActionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toAPIAction(a), nil
}

func (s *GRPCServer) StopAction(ctx context.Context, req *api.ActionRequest) (*api.Action, error) {
	if err := validateUUID("action_uuid", req.ActionID); err != nil {
		return nil, invalid(err)
	}

	a, err := s.actions.Stop(ctx, req.ActionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toAPIAction(a), nil
}

func (s *GRPCServer) StorageReport(ctx context.Context, _ *api.StorageReportRequest) (*models.StorageReport, error) {
	report, err := s.storage.Snapshot(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &report, nil
}

var _ api.QueueServer = (*GRPCServer)(nil)
