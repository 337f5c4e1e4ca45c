package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS coach_progress (
    user_id         TEXT PRIMARY KEY,
    streak          INTEGER NOT NULL DEFAULT 0,
    longest_streak  INTEGER NOT NULL DEFAULT 0,
    total_completed INTEGER NOT NULL DEFAULT 0,
    energy_sum      INTEGER NOT NULL DEFAULT 0,
    energy_count    INTEGER NOT NULL DEFAULT 0,
    last_checkin    TEXT NOT NULL DEFAULT '',
    history         TEXT NOT NULL DEFAULT '[]',
    updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

const sqliteRecordColumns = `streak, longest_streak, total_completed, energy_sum, energy_count, last_checkin, history`

const sqliteUpsert = `
INSERT INTO coach_progress (user_id, ` + sqliteRecordColumns + `, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (user_id) DO UPDATE
SET streak = excluded.streak,
    longest_streak = excluded.longest_streak,
    total_completed = excluded.total_completed,
    energy_sum = excluded.energy_sum,
    energy_count = excluded.energy_count,
    last_checkin = excluded.last_checkin,
    history = excluded.history,
    updated_at = CURRENT_TIMESTAMP`

// SQLiteStore is the single node, embedded alternative to PostgresStore.
// The pool is limited to one connection, which serialises every transaction.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &SQLiteStore{
		db: db,
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanSQLiteRecord scans sqliteRecordColumns, followed by any extra columns.
func scanSQLiteRecord(row interface{ Scan(dest ...any) error }, record *Record, extra ...any) error {
	var lastCheckin, history string
	dest := append([]any{
		&record.Streak, &record.LongestStreak, &record.TotalCompleted,
		&record.EnergySum, &record.EnergyCount, &lastCheckin, &history,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}

	var err error
	if record.LastCheckin, err = parseCheckinTime(lastCheckin); err != nil {
		return err
	}
	record.History, err = decodeHistory([]byte(history))
	return err
}

// sqlExecer is implemented by both *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSQLiteRecord(ctx context.Context, exec sqlExecer, userID string, record Record) error {
	history, err := encodeHistory(record.History)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, sqliteUpsert, userID,
		record.Streak, record.LongestStreak, record.TotalCompleted, record.EnergySum, record.EnergyCount,
		formatCheckinTime(record.LastCheckin), string(history))
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*Record, error) {
	record := &Record{}
	err := scanSQLiteRecord(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteRecordColumns+`
		FROM coach_progress
		WHERE user_id = ?
	`, userID), record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *SQLiteStore) Put(ctx context.Context, userID string, record Record) error {
	return upsertSQLiteRecord(ctx, s.db, userID, record)
}

func (s *SQLiteStore) Transact(ctx context.Context, userID string, fn func(record *Record) error) (_ Record, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err)
			}
		} else {
			err = tx.Commit()
		}
	}()

	var record Record
	err = scanSQLiteRecord(tx.QueryRowContext(ctx, `
		SELECT `+sqliteRecordColumns+`
		FROM coach_progress
		WHERE user_id = ?
	`, userID), &record)
	if errors.Is(err, sql.ErrNoRows) {
		record, err = Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}

	if err = fn(&record); err != nil {
		return Record{}, err
	}

	if err = upsertSQLiteRecord(ctx, tx, userID, record); err != nil {
		return Record{}, fmt.Errorf("write record: %w", err)
	}

	return record, nil
}

func (s *SQLiteStore) All(ctx context.Context) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteRecordColumns+`, user_id
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
		if err := scanSQLiteRecord(rows, &record, &userID); err != nil {
			return nil, err
		}
		records[userID] = record
	}
	return records, rows.Err()
}
