package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

type OpenParams struct {
	Backend     string
	FilePath    string
	SQLitePath  string
	DBPool      *pgxpool.Pool
	RedisClient *redis.Client
}

// Open creates the store for the configured backend. The returned close func
// releases only what the store itself opened, shared pools stay untouched.
func Open(ctx context.Context, params OpenParams) (Store, func() error, error) {
	noop := func() error { return nil }

	switch params.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), noop, nil
	case BackendFile:
		s, err := NewFileStore(params.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return s, noop, nil
	case BackendPostgres:
		if params.DBPool == nil {
			return nil, nil, errors.New("postgres store needs a db pool")
		}
		return NewPostgresStore(params.DBPool), noop, nil
	case BackendRedis:
		if params.RedisClient == nil {
			return nil, nil, errors.New("redis store needs a redis client")
		}
		return NewRedisStore(params.RedisClient), noop, nil
	case BackendSQLite:
		s, err := NewSQLiteStore(ctx, params.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown progress store backend: %s", params.Backend)
	}
}
