package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/2beens/fitcoach/internal/coach/progress"
	"github.com/2beens/fitcoach/internal/config"
	"github.com/2beens/fitcoach/internal/db"
)

type storeOptions struct {
	env        string
	configPath string
	backend    string
	filePath   string
	sqlitePath string
}

func newRootCmd() *cobra.Command {
	opts := &storeOptions{}

	rootCmd := &cobra.Command{
		Use:           "coachctl",
		Short:         "Admin tool for the fitcoach backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.env, "env", "development", "config environment, used when --store is not set")
	flags.StringVar(&opts.configPath, "config", "./config.toml", "path for the TOML config file")
	flags.StringVar(&opts.backend, "store", "", "progress store backend [memory | file | postgres | redis | sqlite], overrides the config")
	flags.StringVar(&opts.filePath, "file", "", "progress file path for the file store")
	flags.StringVar(&opts.sqlitePath, "sqlite", "", "database path for the sqlite store")

	rootCmd.AddCommand(newExportCmd(opts))
	rootCmd.AddCommand(newImportCmd(opts))
	rootCmd.AddCommand(newPredictCmd())
	rootCmd.AddCommand(newStatusCmd(opts))

	return rootCmd
}

// open returns the selected progress store and a func releasing everything
// opened for it.
func (o *storeOptions) open(ctx context.Context) (progress.Store, func() error, error) {
	params := progress.OpenParams{
		Backend:    o.backend,
		FilePath:   o.filePath,
		SQLitePath: o.sqlitePath,
	}

	var cfg *config.Config
	if o.backend == "" {
		loaded, err := config.Load(o.env, o.configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
		params.Backend = cfg.ProgressStore
		if params.FilePath == "" {
			params.FilePath = cfg.ProgressFilePath
		}
		if params.SQLitePath == "" {
			params.SQLitePath = cfg.SQLitePath
		}
	}

	var closers []func() error
	switch params.Backend {
	case progress.BackendPostgres:
		pool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:     envOr("COACH_DB_HOST", configValue(cfg, func(c *config.Config) string { return c.PostgresHost }, "localhost")),
			DBPort:     envOr("COACH_DB_PORT", configValue(cfg, func(c *config.Config) string { return c.PostgresPort }, "5432")),
			DBName:     envOr("COACH_DB_NAME", configValue(cfg, func(c *config.Config) string { return c.PostgresDBName }, "fitcoach")),
			DBUser:     os.Getenv("COACH_DB_USER"),
			DBPassword: os.Getenv("COACH_DB_PASS"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("new db pool: %w", err)
		}
		params.DBPool = pool
		closers = append(closers, func() error {
			pool.Close()
			return nil
		})
	case progress.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr: net.JoinHostPort(
				envOr("COACH_REDIS_HOST", configValue(cfg, func(c *config.Config) string { return c.RedisHost }, "localhost")),
				envOr("COACH_REDIS_PORT", configValue(cfg, func(c *config.Config) string { return c.RedisPort }, "6379")),
			),
			Password: os.Getenv("COACH_REDIS_PASS"),
		})
		params.RedisClient = rdb
		closers = append(closers, rdb.Close)
	}

	store, closeStore, err := progress.Open(ctx, params)
	if err != nil {
		closeAll(closers)
		return nil, nil, err
	}
	closers = append([]func() error{closeStore}, closers...)

	return store, func() error { return closeAll(closers) }, nil
}

func closeAll(closers []func() error) error {
	var err error
	for _, c := range closers {
		err = multierr.Append(err, c())
	}
	return err
}

func configValue(cfg *config.Config, get func(c *config.Config) string, fallback string) string {
	if cfg == nil || get(cfg) == "" {
		return fallback
	}
	return get(cfg)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
