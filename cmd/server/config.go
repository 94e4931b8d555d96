package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jason-s-yu/staredown/internal/game"
	"github.com/jason-s-yu/staredown/internal/matchmaking"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind          string
	port          int
	allowedOrigin string

	databaseURL string
	migrate     bool
	redisAddr   string
	redisDB     int
	redisQueue  string

	privateKey string
	publicKey  string
	tokenTTL   time.Duration

	gracePeriod   time.Duration
	matchInterval time.Duration
	startDelay    time.Duration

	logLevel string
	verbose  bool
}

func (c *Config) validate() error {
	if (c.privateKey == "") != (c.publicKey == "") {
		return errors.New("both --private-key and --public-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.matchInterval <= 0 || c.gracePeriod <= 0 || c.startDelay <= 0 {
		return errors.New("--match-interval, --grace-period and --start-delay must be positive")
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("STAREDOWN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "staredown-server",
		Short:         "Matchmaking, game sessions and signaling relay for staring contests.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: STAREDOWN_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: STAREDOWN_PORT)")
	fs.StringVar(&cfg.allowedOrigin, "allowed-origin", "*", "browser origin allowed to connect (env: STAREDOWN_ALLOWED_ORIGIN)")
	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres connection string; empty keeps games in memory only (env: STAREDOWN_DATABASE_URL)")
	fs.BoolVar(&cfg.migrate, "migrate", true, "apply schema migrations on startup (env: STAREDOWN_MIGRATE)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "", "redis address for the game event stream; empty disables it (env: STAREDOWN_REDIS_ADDR)")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "redis database index (env: STAREDOWN_REDIS_DB)")
	fs.StringVar(&cfg.redisQueue, "redis-queue", "staredown_events", "redis list carrying game events (env: STAREDOWN_REDIS_QUEUE)")
	fs.StringVar(&cfg.privateKey, "private-key", "", "path to raw ed25519 private key; generated when empty (env: STAREDOWN_PRIVATE_KEY)")
	fs.StringVar(&cfg.publicKey, "public-key", "", "path to raw ed25519 public key (env: STAREDOWN_PUBLIC_KEY)")
	fs.DurationVar(&cfg.tokenTTL, "token-ttl", 0, "lifetime of player tokens, 0 for no expiry (env: STAREDOWN_TOKEN_TTL)")
	fs.DurationVar(&cfg.gracePeriod, "grace-period", game.DefaultGracePeriod, "time a finished game stays queryable in memory (env: STAREDOWN_GRACE_PERIOD)")
	fs.DurationVar(&cfg.matchInterval, "match-interval", matchmaking.DefaultInterval, "time between match passes (env: STAREDOWN_MATCH_INTERVAL)")
	fs.DurationVar(&cfg.startDelay, "start-delay", game.DefaultStartDelay, "delay between match_found and game_start (env: STAREDOWN_START_DELAY)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level (env: STAREDOWN_LOG_LEVEL)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "shorthand for --log-level=debug (env: STAREDOWN_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("staredown-server v{{.Version}}\n")
	cmd.SilenceUsage = true

	return cmd
}
