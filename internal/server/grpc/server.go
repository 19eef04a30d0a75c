// Package grpc exposes the upload, file, topic, action and storage
// operations over gRPC using the api package's service descriptor.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/bagqueue/internal/api"
	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type uploadSvc interface {
	CreatePresignedURLs(ctx context.Context, missionID, creatorID string, filenames []string) ([]models.UploadTarget, error)
	ConfirmUpload(ctx context.Context, fileID string, success bool, md5 string) (models.TransitionOutcome, error)
	CancelFileUpload(ctx context.Context, ids []string, missionID string) ([]models.TransitionOutcome, error)
	GetFile(ctx context.Context, fileID string) (*models.File, error)
}

type topicSvc interface {
	ListByFile(ctx context.Context, fileID string) ([]*models.Topic, error)
}

type actionSvc interface {
	Submit(ctx context.Context, missionID, templateID, creatorID string) (*models.Action, error)
	Get(ctx context.Context, id string) (*models.Action, error)
	Stop(ctx context.Context, id string) (*models.Action, error)
}

type storageSvc interface {
	Snapshot(ctx context.Context) (models.StorageReport, error)
}

type GRPCServer struct {
	address   string
	uploads   uploadSvc
	topics    topicSvc
	actions   actionSvc
	storage   storageSvc
	logger    logging.Logger
	jwtSecret []byte
	health    *health.Server
}

func NewGRPCServer(a string, l logging.Logger, us uploadSvc, ts topicSvc, as actionSvc, ss storageSvc, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		uploads:   us,
		topics:    ts,
		actions:   as,
		storage:   ss,
		jwtSecret: []byte(secretKey),
		health:    health.NewServer(),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	api.RegisterQueueServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then drains in-flight calls.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
