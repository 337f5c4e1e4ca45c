package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/fitcoach/internal/telemetry/tracing"
)

var _ Store = (*RedisStore)(nil)

const (
	redisKeyPrefix   = "coach:progress:"
	redisUsersSetKey = "coach:progress-users"
	redisTxRetries   = 10

	fieldStreak         = "streak"
	fieldLongestStreak  = "longest_streak"
	fieldTotalCompleted = "total_completed"
	fieldEnergySum      = "energy_sum"
	fieldEnergyCount    = "energy_count"
	fieldLastCheckin    = "last_checkin"
	fieldHistory        = "history"
)

var ErrTooManyConflicts = errors.New("too many concurrent updates, giving up")

// RedisStore keeps one hash per user, plus a set of all user ids.
// Transact uses optimistic locking (WATCH/MULTI), so its fn can run more than once
// when other instances write the same user concurrently.
type RedisStore struct {
	client *redis.Client
	// serialises transactions within this process
	userLock *keyedMutex
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:   client,
		userLock: newKeyedMutex(),
	}
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}

func (s *RedisStore) Get(ctx context.Context, userID string) (_ *Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.progress.redis.get")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("user.id", userID))

	values, err := s.client.HGetAll(ctx, redisKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}

	record, err := parseRedisRecord(values)
	if err != nil {
		return nil, fmt.Errorf("parse record of %s: %w", userID, err)
	}
	return &record, nil
}

func (s *RedisStore) Put(ctx context.Context, userID string, record Record) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.progress.redis.put")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("user.id", userID))

	values, err := redisRecordValues(record)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeRedisRecord(ctx, pipe, userID, values)
		return nil
	})
	return err
}

func (s *RedisStore) Transact(ctx context.Context, userID string, fn func(record *Record) error) (_ Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.progress.redis.transact")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("user.id", userID))

	unlock := s.userLock.Lock(userID)
	defer unlock()

	key := redisKey(userID)
	for attempt := 1; attempt <= redisTxRetries; attempt++ {
		var record Record
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			values, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}

			record = Record{}
			if len(values) > 0 {
				if record, err = parseRedisRecord(values); err != nil {
					return fmt.Errorf("parse record of %s: %w", userID, err)
				}
			}

			if err := fn(&record); err != nil {
				return err
			}

			recordValues, err := redisRecordValues(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				writeRedisRecord(ctx, pipe, userID, recordValues)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			span.SetAttributes(attribute.Int("tx.conflicts", attempt))
			continue
		}
		if err != nil {
			return Record{}, err
		}
		return record, nil
	}

	return Record{}, ErrTooManyConflicts
}

func (s *RedisStore) All(ctx context.Context) (_ map[string]Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.progress.redis.all")
	defer func() { endSpan(span, err) }()

	userIDs, err := s.client.SMembers(ctx, redisUsersSetKey).Result()
	if err != nil {
		return nil, err
	}

	cmds := make(map[string]*redis.StringStringMapCmd, len(userIDs))
	if _, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, userID := range userIDs {
			cmds[userID] = pipe.HGetAll(ctx, redisKey(userID))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	records := make(map[string]Record, len(userIDs))
	for userID, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			continue
		}
		record, err := parseRedisRecord(values)
		if err != nil {
			return nil, fmt.Errorf("parse record of %s: %w", userID, err)
		}
		records[userID] = record
	}

	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}

// redisRecordValues flattens a record into hash field/value pairs.
// last_checkin is "" for a record without check-ins.
func redisRecordValues(record Record) ([]any, error) {
	history, err := encodeHistory(record.History)
	if err != nil {
		return nil, err
	}
	return []any{
		fieldStreak, record.Streak,
		fieldLongestStreak, record.LongestStreak,
		fieldTotalCompleted, record.TotalCompleted,
		fieldEnergySum, record.EnergySum,
		fieldEnergyCount, record.EnergyCount,
		fieldLastCheckin, formatCheckinTime(record.LastCheckin),
		fieldHistory, string(history),
	}, nil
}

func writeRedisRecord(ctx context.Context, pipe redis.Pipeliner, userID string, values []any) {
	pipe.HSet(ctx, redisKey(userID), values...)
	pipe.SAdd(ctx, redisUsersSetKey, userID)
}

func parseRedisRecord(values map[string]string) (Record, error) {
	var record Record
	fields := []struct {
		name string
		dst  *int
	}{
		{fieldStreak, &record.Streak},
		{fieldLongestStreak, &record.LongestStreak},
		{fieldTotalCompleted, &record.TotalCompleted},
		{fieldEnergySum, &record.EnergySum},
		{fieldEnergyCount, &record.EnergyCount},
	}
	for _, f := range fields {
		raw, ok := values[f.name]
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return Record{}, fmt.Errorf("field %s: %w", f.name, err)
		}
		*f.dst = v
	}

	var err error
	if record.LastCheckin, err = parseCheckinTime(values[fieldLastCheckin]); err != nil {
		return Record{}, err
	}
	if record.History, err = decodeHistory([]byte(values[fieldHistory])); err != nil {
		return Record{}, err
	}
	return record, nil
}
