// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jason-s-yu/staredown/internal/arena"
	"github.com/jason-s-yu/staredown/internal/auth"
	"github.com/jason-s-yu/staredown/internal/cache"
	"github.com/jason-s-yu/staredown/internal/database"
	"github.com/jason-s-yu/staredown/internal/game"
	"github.com/jason-s-yu/staredown/internal/handlers"
	"github.com/jason-s-yu/staredown/internal/matchmaking"
	"github.com/jason-s-yu/staredown/internal/session"
	"github.com/jason-s-yu/staredown/internal/signaling"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const releaseVersion = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).ExecuteContext(ctx))
}

func newLogger(cfg *Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.logLevel)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.logLevel)
		level = logrus.InfoLevel
	}
	if cfg.verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	return logger
}

func run(ctx context.Context, cfg *Config) error {
	logger := newLogger(cfg)
	logger.Infof("START: staredown-server v%s", releaseVersion)

	if cfg.privateKey != "" {
		if err := auth.InitFromPath(cfg.privateKey, cfg.publicKey); err != nil {
			return err
		}
	} else {
		if err := auth.Init(); err != nil {
			return err
		}
		logger.Warn("no signing keys configured; player identities reset on restart")
	}
	auth.SetTokenTTL(cfg.tokenTTL)

	g, gctx := errgroup.WithContext(ctx)

	var (
		recorder game.Recorder
		players  handlers.PlayerStore
		lookup   handlers.GameLookup
		sink     arena.EventSink
	)

	if cfg.databaseURL != "" {
		if cfg.migrate {
			if err := database.Migrate(cfg.databaseURL, logger); err != nil {
				return err
			}
		}
		pool, err := database.Connect(ctx, cfg.databaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		games := database.NewGameRepository(pool)
		rec := database.NewRecorder(games, logger, database.RecorderOptions{})
		g.Go(func() error { return rec.Run(gctx) })
		recorder, lookup = rec, games
		players = database.NewPlayerRepository(pool)
		logger.Info("connected to postgres")
	} else {
		logger.Warn("no database configured; games are kept in memory only")
	}

	if cfg.redisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.redisAddr, cfg.redisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()

		pub := cache.NewPublisher(rdb, cfg.redisQueue, logger)
		g.Go(func() error { return pub.Run(gctx) })
		sink = pub
		logger.Infof("publishing game events to redis list %s", cfg.redisQueue)
	}

	sessions := session.NewRegistry(logger)
	manager := game.NewManager(recorder, logger, game.Options{
		GracePeriod: cfg.gracePeriod,
		StartDelay:  cfg.startDelay,
	})
	relay := signaling.NewRelay(sessions, logger)
	a := arena.New(sessions, matchmaking.NewQueue(), manager, relay, sink, logger)

	matcher := matchmaking.NewMatcher(cfg.matchInterval, a.RunMatchPass, logger)
	g.Go(func() error { return matcher.Run(gctx) })

	api := handlers.NewServer(a, players, lookup, logger, handlers.Options{AllowedOrigin: cfg.allowedOrigin})
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           api.Handler(),
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Infof("SERVE: listening on http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		a.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
