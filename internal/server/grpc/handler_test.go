package grpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/bagqueue/internal/api"
	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	missionID = "6f1c7a5e-8f0e-4d53-9a3b-1c2d3e4f5a6b"
	fileID    = "0a4b8c2d-1e2f-4a5b-8c7d-9e0f1a2b3c4d"
)

type fakeUploads struct {
	gotCreator string
	targets    []models.UploadTarget
	outcome    models.TransitionOutcome
	outcomes   []models.TransitionOutcome
	file       *models.File
	err        error
}

func (f *fakeUploads) CreatePresignedURLs(_ context.Context, _, creatorID string, _ []string) ([]models.UploadTarget, error) {
	f.gotCreator = creatorID
	return f.targets, f.err
}

func (f *fakeUploads) ConfirmUpload(context.Context, string, bool, string) (models.TransitionOutcome, error) {
	return f.outcome, f.err
}

func (f *fakeUploads) CancelFileUpload(context.Context, []string, string) ([]models.TransitionOutcome, error) {
	return f.outcomes, f.err
}

func (f *fakeUploads) GetFile(context.Context, string) (*models.File, error) {
	return f.file, f.err
}

type fakeTopics struct {
	topics []*models.Topic
	err    error
}

func (f *fakeTopics) ListByFile(context.Context, string) ([]*models.Topic, error) {
	return f.topics, f.err
}

type fakeActions struct {
	action *models.Action
	err    error
}

func (f *fakeActions) Submit(context.Context, string, string, string) (*models.Action, error) {
	return f.action, f.err
}
func (f *fakeActions) Get(context.Context, string) (*models.Action, error)  { return f.action, f.err }
func (f *fakeActions) Stop(context.Context, string) (*models.Action, error) { return f.action, f.err }

type fakeStorage struct {
	report models.StorageReport
	err    error
}

func (f *fakeStorage) Snapshot(context.Context) (models.StorageReport, error) { return f.report, f.err }

func newServer(u uploadSvc, tp topicSvc, a actionSvc, st storageSvc) *GRPCServer {
	return NewGRPCServer("127.0.0.1:0", logging.Nop(), u, tp, a, st, "k")
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("x: %w", common.ErrorValidation), codes.InvalidArgument},
		{common.ErrorNotFound, codes.NotFound},
		{common.ErrSessionNotFound, codes.NotFound},
		{common.ErrSessionExpired, codes.FailedPrecondition},
		{common.ErrUploadMissing, codes.FailedPrecondition},
		{common.ErrCapacityExceeded, codes.ResourceExhausted},
		{common.ErrStaleState, codes.Aborted},
		{fmt.Errorf("%w: %w", common.ErrBackend, errors.New("timeout")), codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(toStatus(tt.err)), tt.err.Error())
	}
	assert.Equal(t, "internal error", status.Convert(toStatus(errors.New("db password leaked"))).Message())
}

func TestCreateUploads(t *testing.T) {
	u := &fakeUploads{targets: []models.UploadTarget{{Filename: "a.bag", FileID: fileID, URL: "memory://x"}}}
	s := newServer(u, &fakeTopics{}, &fakeActions{}, &fakeStorage{})
	ctx := context.WithValue(context.Background(), userIDKey, "user-1")

	resp, err := s.CreateUploads(ctx, &api.CreateUploadsRequest{MissionID: missionID, Filenames: []string{"a.bag"}})
	require.NoError(t, err)
	require.Len(t, resp.Targets, 1)
	assert.Equal(t, fileID, resp.Targets[0].FileID)
	assert.Equal(t, "user-1", u.gotCreator)

	_, err = s.CreateUploads(ctx, &api.CreateUploadsRequest{MissionID: "not-a-uuid", Filenames: []string{"a.bag"}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.CreateUploads(ctx, &api.CreateUploadsRequest{MissionID: missionID})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	u.err = common.ErrCapacityExceeded
	_, err = s.CreateUploads(ctx, &api.CreateUploadsRequest{MissionID: missionID, Filenames: []string{"a.bag"}})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestConfirmAndCancelUploads(t *testing.T) {
	u := &fakeUploads{
		outcome:  models.TransitionOutcome{ID: fileID, State: models.StateAwaitingProcessing, Applied: true},
		outcomes: nil,
	}
	s := newServer(u, &fakeTopics{}, &fakeActions{}, &fakeStorage{})
	ctx := context.Background()

	out, err := s.ConfirmUpload(ctx, &api.ConfirmUploadRequest{FileID: fileID, Success: true})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	resp, err := s.CancelUploads(ctx, &api.CancelUploadsRequest{MissionID: missionID, FileIDs: []string{fileID}})
	require.NoError(t, err)
	assert.NotNil(t, resp.Outcomes)
	assert.Empty(t, resp.Outcomes)

	_, err = s.CancelUploads(ctx, &api.CancelUploadsRequest{MissionID: missionID, FileIDs: []string{"bad"}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	u.err = common.ErrSessionExpired
	_, err = s.ConfirmUpload(ctx, &api.ConfirmUploadRequest{FileID: fileID, Success: true})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestGetFileAndTopics(t *testing.T) {
	u := &fakeUploads{file: &models.File{ID: fileID, MissionID: missionID, Filename: "a.bag",
		State: models.StateCorrupted, Location: models.LocationWorking, Size: 10}}
	tp := &fakeTopics{topics: []*models.Topic{{Name: "/imu", Type: "sensor_msgs/Imu", MessageCount: 3}}}
	s := newServer(u, tp, &fakeActions{}, &fakeStorage{})
	ctx := context.Background()

	f, err := s.GetFile(ctx, &api.GetFileRequest{FileID: fileID})
	require.NoError(t, err)
	assert.Equal(t, "CORRUPTED", f.State)
	assert.Equal(t, 41, f.StateCode)
	assert.Equal(t, "WORKING", f.Location)

	topics, err := s.ListTopics(ctx, &api.ListTopicsRequest{FileID: fileID})
	require.NoError(t, err)
	require.Len(t, topics.Topics, 1)
	assert.Equal(t, "/imu", topics.Topics[0].Name)

	u.err = common.ErrorNotFound
	_, err = s.GetFile(ctx, &api.GetFileRequest{FileID: fileID})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestActions(t *testing.T) {
	a := &fakeActions{action: &models.Action{ID: fileID, MissionID: missionID, TemplateID: missionID,
		State: models.ActionUnprocessable, Message: "archived"}}
	s := newServer(&fakeUploads{}, &fakeTopics{}, a, &fakeStorage{})
	ctx := context.Background()

	got, err := s.SubmitAction(ctx, &api.SubmitActionRequest{MissionID: missionID, TemplateID: missionID})
	require.NoError(t, err)
	assert.Equal(t, "UNPROCESSABLE", got.State)
	assert.Equal(t, "archived", got.Message)

	_, err = s.SubmitAction(ctx, &api.SubmitActionRequest{MissionID: missionID})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.GetAction(ctx, &api.ActionRequest{ActionID: fileID})
	require.NoError(t, err)
	_, err = s.StopAction(ctx, &api.ActionRequest{ActionID: fileID})
	require.NoError(t, err)
}

func TestStorageReport(t *testing.T) {
	st := &fakeStorage{report: models.StorageReport{Total: models.StorageSnapshot{Backend: "total", UsedBytes: 5, TotalBytes: 10}}}
	s := newServer(&fakeUploads{}, &fakeTopics{}, &fakeActions{}, st)

	report, err := s.StorageReport(context.Background(), &api.StorageReportRequest{})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), report.Total.UsedBytes)

	st.err = fmt.Errorf("%w: usage", common.ErrBackend)
	_, err = s.StorageReport(context.Background(), &api.StorageReportRequest{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
