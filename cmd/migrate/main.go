// Command migrate backfills presence fields on user documents created before
// presence tracking existed.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/gkkary3/Netless/internal/config"
	"github.com/gkkary3/Netless/internal/data"
	"github.com/gkkary3/Netless/internal/db"
	"github.com/gkkary3/Netless/internal/logging"

	"go.uber.org/zap"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline for the migration")
	flag.Parse()

	cfg, err := config.LoadStore()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("migration_failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	dbClient, err := db.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbClient.Close(context.Background())
	}()

	users := data.NewUsersStore(dbClient.UsersCollection())
	total, err := users.Count(ctx)
	if err != nil {
		return err
	}

	onlineSet, lastSeenSet, err := users.BackfillPresence(ctx, time.Now())
	if err != nil {
		return err
	}

	logger.Info("presence_backfill_done",
		zap.String("database", cfg.Mongo.Database),
		zap.Int64("users", total),
		zap.Int64("is_online_set", onlineSet),
		zap.Int64("last_seen_set", lastSeenSet),
	)
	return nil
}
