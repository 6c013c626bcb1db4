package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gpuctl/internal/config"
	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/presence"
	"github.com/alfredjeanlab/gpuctl/internal/records"
	"github.com/alfredjeanlab/gpuctl/internal/server"
	"github.com/alfredjeanlab/gpuctl/internal/store/sqlstore"
	gpusync "github.com/alfredjeanlab/gpuctl/internal/sync"
	"github.com/alfredjeanlab/gpuctl/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the gpuctl HTTP and gRPC server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		st, err := sqlstore.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		logger.Info("store opened", "dialect", st.Dialect())

		// Event publisher: local bus always, NATS mirror when configured.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("event mirror enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("event mirror disabled (GPUCTL_NATS_URL not set)")
		}
		bus := events.NewBus(logger)
		dispatcher := events.NewDispatcher(bus, publisher, logger)

		repo := records.New(st, dispatcher, logger)
		watches := watch.NewRegistry(st, bus, cfg.WatchHeartbeat)
		tracker := presence.New()
		srv := server.New(repo, bus, watches, tracker, logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Replay changes committed on other replicas into the local bus.
		var relayDone chan struct{}
		if cfg.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				logger.Error("failed to create relay subscriber", "err", err)
			} else {
				relayDone = make(chan struct{})
				relay := events.NewRelay(bus, sub, dispatcher.Origin(), logger)
				go func() {
					defer close(relayDone)
					if err := relay.Run(ctx); err != nil {
						logger.Error("event relay error", "err", err)
					}
					sub.Close()
				}()
			}
		}

		if cfg.WorkerDeadAfter > 0 {
			if n, err := srv.SeedPresence(ctx); err != nil {
				logger.Warn("failed to seed presence", "err", err)
			} else if n > 0 {
				logger.Info("presence seeded from ready workers", "count", n)
			}
			tracker.StartReaper(&presence.ReaperConfig{
				DeadThreshold: cfg.WorkerDeadAfter,
				Logger:        logger,
				OnDead: func(workerID string) {
					srv.MarkUnreachable(ctx, workerID)
				},
			})
		}

		grpcServer := server.NewGRPCServer(srv, cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			tracker.Stop()
			publisher.Close()
			st.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		// No write timeout: watch responses stream for as long as the client stays.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		scheduler := startSync(cfg, st, logger)

		if cfg.AuthToken == "" {
			logger.Warn("authentication disabled (GPUCTL_AUTH_TOKEN not set)")
		}
		logger.Info("gpuctl server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}
		tracker.Stop()

		// Watch streams never finish on their own; end them so both servers
		// can drain.
		watches.CloseAll()

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		cancel()
		if relayDone != nil {
			<-relayDone
		}
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// startSync starts the backup scheduler when an interval and at least one
// destination are configured. It returns nil otherwise.
func startSync(cfg *config.Config, st *sqlstore.SQLStore, logger *slog.Logger) *gpusync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []gpusync.Destination
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := gpusync.NewS3Destination(
			context.Background(),
			cfg.SyncS3Bucket,
			cfg.SyncS3Key,
			cfg.SyncS3Region,
			cfg.SyncS3Endpoint,
		)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync destination enabled", "dest", s3Dest.Name())
		}
	}
	if cfg.SyncGitRepo != "" {
		gitDest := gpusync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch)
		dests = append(dests, gitDest)
		logger.Info("sync destination enabled", "dest", gitDest.Name())
	}
	if len(dests) == 0 {
		return nil
	}
	scheduler := gpusync.NewScheduler(st, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}
