// cmd/historian/main.go is an asynchronous historian service that pops game
// events from a Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/staredown/internal/cache"
	"github.com/jason-s-yu/staredown/internal/database"
	"github.com/jason-s-yu/staredown/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const releaseVersion = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).ExecuteContext(ctx))
}

func run(ctx context.Context, cfg *Config) error {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if cfg.verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	if err := database.Migrate(cfg.databaseURL, logger); err != nil {
		return err
	}
	pool, err := database.Connect(ctx, cfg.databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := cache.Connect(ctx, cfg.redisAddr, cfg.redisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	svc := historian.New(
		cache.NewPublisher(rdb, cfg.redisQueue, logger),
		database.NewEventRepository(pool),
		database.NewGameRepository(pool),
		logger,
		historian.Options{
			BatchSize:     cfg.batchSize,
			FlushDelay:    cfg.flushDelay,
			StaleAfter:    cfg.staleAfter,
			SweepInterval: cfg.sweepInterval,
		},
	)

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("historian shutdown complete")
	return nil
}
