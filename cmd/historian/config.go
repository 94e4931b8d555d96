package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	databaseURL string
	redisAddr   string
	redisDB     int
	redisQueue  string

	batchSize     int
	flushDelay    time.Duration
	staleAfter    time.Duration
	sweepInterval time.Duration

	logLevel string
	verbose  bool
}

func (c *Config) validate() error {
	if c.databaseURL == "" {
		return errors.New("--database-url is required")
	}
	if c.redisAddr == "" {
		return errors.New("--redis-addr is required")
	}
	if c.batchSize < 1 {
		return fmt.Errorf("invalid batch size: %d", c.batchSize)
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("STAREDOWN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "staredown-historian",
		Short:         "Copies game events from redis into postgres and closes abandoned games.",
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

	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres connection string (env: STAREDOWN_DATABASE_URL)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "localhost:6379", "redis address (env: STAREDOWN_REDIS_ADDR)")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "redis database index (env: STAREDOWN_REDIS_DB)")
	fs.StringVar(&cfg.redisQueue, "redis-queue", "staredown_events", "redis list carrying game events (env: STAREDOWN_REDIS_QUEUE)")
	fs.IntVar(&cfg.batchSize, "batch-size", 20, "events written per transaction (env: STAREDOWN_BATCH_SIZE)")
	fs.DurationVar(&cfg.flushDelay, "flush-delay", 500*time.Millisecond, "longest time a partial batch waits (env: STAREDOWN_FLUSH_DELAY)")
	fs.DurationVar(&cfg.staleAfter, "stale-after", 10*time.Minute, "age at which a PLAYING game is considered abandoned (env: STAREDOWN_STALE_AFTER)")
	fs.DurationVar(&cfg.sweepInterval, "sweep-interval", time.Minute, "time between abandoned-game sweeps (env: STAREDOWN_SWEEP_INTERVAL)")
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
	cmd.SetVersionTemplate("staredown-historian v{{.Version}}\n")
	cmd.SilenceUsage = true

	return cmd
}
