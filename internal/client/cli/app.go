// Package cli implements the bagqueue operator command line: uploading log
// files, cancelling them, inspecting files and topics, running actions and
// reading storage usage over the queue gRPC API.
package cli

import (
	"context"
	"io"

	"github.com/dmitrijs2005/bagqueue/internal/api"
	"github.com/dmitrijs2005/bagqueue/internal/client/config"
	"github.com/dmitrijs2005/bagqueue/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

type App struct {
	config *config.Config
	conn   *grpc.ClientConn
	queue  *api.QueueClient
	health healthpb.HealthClient
	out    io.Writer
	asJSON bool
}

// NewApp connects to c.ServerEndpointAddr. The connection is established
// lazily on the first call.
func NewApp(c *config.Config, out io.Writer) (*App, error) {
	conn, err := grpc.NewClient(c.ServerEndpointAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	app := newAppWithConn(c, conn, out)
	app.conn = conn
	return app, nil
}

func newAppWithConn(c *config.Config, cc grpc.ClientConnInterface, out io.Writer) *App {
	return &App{
		config: c,
		queue:  api.NewQueueClient(cc),
		health: healthpb.NewHealthClient(cc),
		out:    out,
	}
}

func (a *App) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// callContext applies the request timeout and attaches the access token.
func (a *App) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if a.config.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, a.config.RequestTimeout)
	}
	if a.config.AccessToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, a.config.AccessToken)
	}
	return ctx, cancel
}
