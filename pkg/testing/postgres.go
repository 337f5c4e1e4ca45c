package testing

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// GetPostgresPoolAndCtx connects to the database named by the COACH_DB_* env vars.
// The schema is expected to be in place already.
func GetPostgresPoolAndCtx(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		envOr("COACH_DB_USER", "postgres"),
		envOr("COACH_DB_PASS", "postgres"),
		envOr("COACH_DB_HOST", "localhost"),
		envOr("COACH_DB_PORT", "5432"),
		envOr("COACH_DB_NAME", "coach_test"),
	)

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx))
	return ctx, pool
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
