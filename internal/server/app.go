// Package server wires the queue engine together: database, storage tiers,
// services, worker pools, the upload sweeper and the gRPC endpoint, and
// runs them until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/bagqueue/internal/filex"
	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/config"
	"github.com/dmitrijs2005/bagqueue/internal/server/convert"
	"github.com/dmitrijs2005/bagqueue/internal/server/quota"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/bagqueue/internal/server/runner"
	"github.com/dmitrijs2005/bagqueue/internal/server/services"
	"github.com/dmitrijs2005/bagqueue/internal/server/storage"

	gs "github.com/dmitrijs2005/bagqueue/internal/server/grpc"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	resolver  *storage.Resolver
	uploads   *services.UploadService
	sweeper   *services.Sweeper
	reaper    *services.Reaper
	files     *services.FileProcessor
	topics    *services.TopicIndexer
	actions   *services.ActionService
	actionsWP *services.ActionProcessor
	quota     *quota.Accountant
}

// NewApp connects to the database, applies migrations and builds every
// component from c.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager(db)
	if err := rm.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	app, err := newApp(ctx, c, logger, rm)
	if err != nil {
		db.Close()
		return nil, err
	}
	app.db = db
	return app, nil
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger, rm repomanager.RepositoryManager) (*App, error) {
	scratch, err := filex.EnsureDir(c.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}

	working, err := storage.NewBackendFromConfig(ctx, "working", c.Working, c)
	if err != nil {
		return nil, fmt.Errorf("working backend: %w", err)
	}
	durable, err := storage.NewBackendFromConfig(ctx, "durable", c.Durable, c)
	if err != nil {
		return nil, fmt.Errorf("durable backend: %w", err)
	}

	resolver := storage.NewResolver(working, durable, rm.Files(), scratch, logger)
	acc := quota.NewAccountant(resolver.Backends(), c.CapacityThreshold, logger)

	uploads, err := services.NewUploadService(rm, resolver, acc, c.UploadURLExpiry, logger)
	if err != nil {
		return nil, err
	}
	topics := services.NewTopicIndexer(rm)
	files := services.NewFileProcessor(rm, resolver, convert.NewExecConverter(c.ConverterCommand), topics, scratch, logger).
		WithHeartbeat(c.ClaimLease / 4)

	return &App{
		config:    c,
		logger:    logger,
		resolver:  resolver,
		uploads:   uploads,
		sweeper:   services.NewSweeper(rm, resolver, c.UploadGracePeriod, logger),
		reaper:    services.NewReaper(rm, resolver, c.ClaimLease, logger),
		files:     files,
		topics:    topics,
		actions:   services.NewActionService(rm, logger),
		actionsWP: services.NewActionProcessor(rm, runner.NewExecRunner(c.RunnerCommand), c.PollInterval, logger),
		quota:     acc,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.uploads, app.topics, app.actions, app.quota, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until ctx is canceled or a shutdown signal arrives, then waits
// for in-flight work to settle.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup
	start := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	start(func() { app.startGRPCServer(ctx, cancelFunc) })
	start(func() { app.files.Run(ctx, app.config.FileWorkers, app.config.PollInterval) })
	start(func() { app.actionsWP.Run(ctx, app.config.ActionWorkers, app.config.PollInterval) })
	if app.config.SweepInterval > 0 {
		start(func() { app.sweeper.Run(ctx, app.config.SweepInterval) })
	}
	if app.config.SweepInterval > 0 && app.config.ClaimLease > 0 {
		start(func() { app.reaper.Run(ctx, app.config.SweepInterval) })
	}
	start(func() { app.resolver.RunEvictor(ctx) })

	wg.Wait()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(context.WithoutCancel(ctx), "close db", "error", err)
		}
	}
	app.logger.Info(context.WithoutCancel(ctx), "App stopped")
}
