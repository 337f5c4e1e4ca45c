package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

type LoginChecker struct {
	ttl         time.Duration
	redisClient *redis.Client
}

func NewLoginChecker(ttl time.Duration, redisClient *redis.Client) *LoginChecker {
	return &LoginChecker{
		ttl:         ttl,
		redisClient: redisClient,
	}
}

// IsLogged reports whether the token belongs to a session younger than the TTL.
// Unknown tokens are not an error.
func (lc *LoginChecker) IsLogged(ctx context.Context, token string) (bool, error) {
	createdAtUnixStr, err := lc.redisClient.HGet(ctx, sessionKeyPrefix+token, fieldCreatedAt).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	createdAtUnix, err := strconv.ParseInt(createdAtUnixStr, 10, 64)
	if err != nil {
		return false, err
	}

	return !expired(time.Unix(createdAtUnix, 0), lc.ttl), nil
}

func expired(createdAt time.Time, ttl time.Duration) bool {
	return time.Since(createdAt) > ttl
}
