package progress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

var ErrNotFound = errors.New("user progress not found")

// Store keeps the per-user progress records.
// Implementations serialise Transact calls for the same user id.
type Store interface {
	// Get returns ErrNotFound for users without recorded feedback.
	Get(ctx context.Context, userID string) (*Record, error)
	// Put overwrites (or creates) the record of a user.
	Put(ctx context.Context, userID string, record Record) error
	// Transact runs a read-modify-write on the user record, creating a
	// zero record first if the user is unknown, and returns the stored result.
	// Nothing is written when fn returns an error.
	Transact(ctx context.Context, userID string, fn func(record *Record) error) (Record, error)
	// All returns a snapshot of every record, keyed by user id.
	All(ctx context.Context) (map[string]Record, error)
}

// Copy writes every record from src into dst and returns how many were copied.
func Copy(ctx context.Context, dst, src Store) (int, error) {
	records, err := src.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("read source records: %w", err)
	}

	copied := 0
	for userID, record := range records {
		if err := dst.Put(ctx, userID, record); err != nil {
			return copied, fmt.Errorf("put record for %s: %w", userID, err)
		}
		copied++
	}
	return copied, nil
}

// encodeHistory renders the check-in history for the column and hash
// based stores. An empty history is "[]".
func encodeHistory(history []Checkin) ([]byte, error) {
	if len(history) == 0 {
		return []byte("[]"), nil
	}
	content, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return content, nil
}

func decodeHistory(content []byte) ([]Checkin, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil, nil
	}
	var history []Checkin
	if err := json.Unmarshal(content, &history); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if len(history) == 0 {
		return nil, nil
	}
	return history, nil
}

// formatCheckinTime is the text form of LastCheckin; "" means never.
func formatCheckinTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseCheckinTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("parse check-in time: %w", err)
	}
	t = t.UTC()
	return &t, nil
}

// keyedMutex hands out one mutex per key. Mutexes are never removed;
// user records are never deleted either, so both grow together.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

func (km *keyedMutex) Lock(key string) func() {
	km.mu.Lock()
	lock, ok := km.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		km.locks[key] = lock
	}
	km.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
