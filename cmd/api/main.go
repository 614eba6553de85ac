package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gkkary3/Netless/internal/config"
	"github.com/gkkary3/Netless/internal/data"
	"github.com/gkkary3/Netless/internal/db"
	"github.com/gkkary3/Netless/internal/logging"
	"github.com/gkkary3/Netless/internal/metrics"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server_exit", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	dbClient, err := db.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbClient.Close(context.Background())
	}()

	// Ensure indexes exist
	if err := dbClient.CreateIndexes(ctx); err != nil {
		return err
	}

	usersStore := data.NewUsersStore(dbClient.UsersCollection())
	msgsStore := data.NewMessagesStore(dbClient.MessagesCollection())

	// the registry starts empty, so nobody persisted as online can be
	if cfg.Presence.ResetOnStart {
		n, err := usersStore.ResetPresence(ctx, time.Now())
		if err != nil {
			return err
		}
		logger.Info("presence_reset", zap.Int64("users", n))
	}

	jwtMgr, err := newJWTManager(cfg.Auth)
	if err != nil {
		return err
	}

	srv, err := newServer(cfg, usersStore, msgsStore, jwtMgr, dbClient.Ping, metrics.New(), logger)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return err
	}

	go srv.reconciler.Run(ctx)

	errc := make(chan error, 2)
	go func() { errc <- srv.serveGRPC(lis) }()
	go func() { errc <- srv.serveHTTP() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting_down")
	case err = <-errc:
		logger.Error("listener_failed", zap.Error(err))
	}

	stop()
	srv.shutdown(shutdownTimeout)
	return err
}
