package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2beens/fitcoach/internal/telemetry/tracing"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps records in the coach_progress table (see internal/db/schema.sql).
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

const pgRecordColumns = `streak, longest_streak, total_completed, energy_sum, energy_count, last_checkin, history`

// scanPgRecord scans pgRecordColumns, followed by any extra columns.
func scanPgRecord(row pgx.Row, record *Record, extra ...any) error {
	var history []byte
	dest := append([]any{
		&record.Streak, &record.LongestStreak, &record.TotalCompleted,
		&record.EnergySum, &record.EnergyCount, &record.LastCheckin, &history,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}

	if record.LastCheckin != nil {
		lastCheckin := record.LastCheckin.UTC()
		record.LastCheckin = &lastCheckin
	}
	var err error
	record.History, err = decodeHistory(history)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (_ *Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.progress.postgres.get")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("user.id", userID))

	record := &Record{}
	err = scanPgRecord(s.db.QueryRow(ctx, `
		SELECT `+pgRecordColumns+`
		FROM coach_progress
		WHERE user_id = $1
	`, userID), record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *PostgresStore) Put(ctx context.Context, userID string, record Record) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.progress.postgres.put")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("user.id", userID))

	history, err := encodeHistory(record.History)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO coach_progress (user_id, `+pgRecordColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (user_id) DO UPDATE
		SET streak = EXCLUDED.streak,
		    longest_streak = EXCLUDED.longest_streak,
		    total_completed = EXCLUDED.total_completed,
		    energy_sum = EXCLUDED.energy_sum,
		    energy_count = EXCLUDED.energy_count,
		    last_checkin = EXCLUDED.last_checkin,
		    history = EXCLUDED.history,
		    updated_at = now()
	`, userID, record.Streak, record.LongestStreak, record.TotalCompleted,
		record.EnergySum, record.EnergyCount, record.LastCheckin, history)
	return err
}

func (s *PostgresStore) Transact(ctx context.Context, userID string, fn func(record *Record) error) (_ Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.progress.postgres.transact")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("user.id", userID))

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				err = fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err)
			}
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO coach_progress (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return Record{}, fmt.Errorf("ensure record: %w", err)
	}

	var record Record
	if err = scanPgRecord(tx.QueryRow(ctx, `
		SELECT `+pgRecordColumns+`
		FROM coach_progress
		WHERE user_id = $1
		FOR UPDATE
	`, userID), &record); err != nil {
		return Record{}, fmt.Errorf("lock record: %w", err)
	}

	if err = fn(&record); err != nil {
		return Record{}, err
	}

	history, err := encodeHistory(record.History)
	if err != nil {
		return Record{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE coach_progress
		SET streak = $2, longest_streak = $3, total_completed = $4, energy_sum = $5, energy_count = $6,
		    last_checkin = $7, history = $8, updated_at = now()
		WHERE user_id = $1
	`, userID, record.Streak, record.LongestStreak, record.TotalCompleted,
		record.EnergySum, record.EnergyCount, record.LastCheckin, history); err != nil {
		return Record{}, fmt.Errorf("update record: %w", err)
	}

	return record, nil
}

func (s *PostgresStore) All(ctx context.Context) (_ map[string]Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.progress.postgres.all")
	defer func() { endSpan(span, err) }()

	rows, err := s.db.Query(ctx, `
		SELECT `+pgRecordColumns+`, user_id
		FROM coach_progress
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make(map[string]Record)
	for rows.Next() {
		var userID string
		var record Record
		if err := scanPgRecord(rows, &record, &userID); err != nil {
			return nil, err
		}
		records[userID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}
