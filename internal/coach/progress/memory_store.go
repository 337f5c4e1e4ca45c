package progress

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]Record
	userLock *keyedMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]Record),
		userLock: newKeyedMutex(),
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	record = record.clone()
	return &record, nil
}

func (s *MemoryStore) Put(_ context.Context, userID string, record Record) error {
	unlock := s.userLock.Lock(userID)
	defer unlock()

	s.set(userID, record)
	return nil
}

func (s *MemoryStore) Transact(_ context.Context, userID string, fn func(record *Record) error) (Record, error) {
	unlock := s.userLock.Lock(userID)
	defer unlock()

	record, _ := s.lookup(userID)
	if err := fn(&record); err != nil {
		return Record{}, err
	}

	s.set(userID, record)
	return record.clone(), nil
}

func (s *MemoryStore) All(_ context.Context) (map[string]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]Record, len(s.records))
	for userID, record := range s.records {
		snapshot[userID] = record.clone()
	}
	return snapshot, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// lookup returns a private copy of the record, or a zero record.
func (s *MemoryStore) lookup(userID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[userID]
	return record.clone(), ok
}

func (s *MemoryStore) set(userID string, record Record) {
	record = record.clone()
	s.mu.Lock()
	s.records[userID] = record
	s.mu.Unlock()
}

// restore puts back a record returned by lookup.
func (s *MemoryStore) restore(userID string, record Record, existed bool) {
	if existed {
		s.set(userID, record)
		return
	}
	s.mu.Lock()
	delete(s.records, userID)
	s.mu.Unlock()
}

// replaceAll swaps the whole mapping, used when reloading from disk.
func (s *MemoryStore) replaceAll(records map[string]Record) {
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
}
