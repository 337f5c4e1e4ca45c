package progress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps records in memory and mirrors them into a single JSON file:
//
//	{"<user id>": {"streak": 1, "longest_streak": 3, "total_completed": 3, "energy_sum": 24, "energy_count": 4, "history": [...]}}
//
// The whole file is rewritten (temp file + rename) after every mutation,
// and a mutation whose save fails is rolled back in memory.
type FileStore struct {
	*MemoryStore
	path string

	// guards mutations, saves, reloads and the fields below
	mu          sync.Mutex
	lastWritten []byte
	onReload    []func()
}

// NewFileStore loads the existing file, if any.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}

	s := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Path() string {
	return s.path
}

// OnReload registers fn to run after the records are replaced by Reload.
func (s *FileStore) OnReload(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

func (s *FileStore) Put(_ context.Context, userID string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.MemoryStore.lookup(userID)
	s.MemoryStore.set(userID, record)
	if err := s.save(); err != nil {
		s.MemoryStore.restore(userID, previous, existed)
		return err
	}
	return nil
}

func (s *FileStore) Transact(_ context.Context, userID string, fn func(record *Record) error) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.MemoryStore.lookup(userID)
	record := previous.clone()
	if err := fn(&record); err != nil {
		return Record{}, err
	}

	s.MemoryStore.set(userID, record)
	if err := s.save(); err != nil {
		s.MemoryStore.restore(userID, previous, existed)
		return Record{}, err
	}
	return record, nil
}

// Reload replaces the in-memory records with the file contents.
// A missing file means no records.
func (s *FileStore) Reload() error {
	hooks, err := s.reload()
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

func (s *FileStore) reload() ([]func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.MemoryStore.replaceAll(make(map[string]Record))
		s.lastWritten = nil
		return slices.Clone(s.onReload), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress file: %w", err)
	}

	records, err := DecodeRecords(content)
	if err != nil {
		return nil, err
	}

	s.MemoryStore.replaceAll(records)
	s.lastWritten = content
	return slices.Clone(s.onReload), nil
}

// save writes every record to the file. Callers hold s.mu.
func (s *FileStore) save() error {
	records, err := s.MemoryStore.All(context.Background())
	if err != nil {
		return err
	}

	content, err := EncodeRecords(records)
	if err != nil {
		return fmt.Errorf("marshal progress records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp progress file: %w", err)
	}
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp progress file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp progress file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace progress file: %w", err)
	}

	s.lastWritten = content
	return nil
}

// Watch reloads the store whenever the file is changed by someone else.
// It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new file watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Errorf("close progress file watcher: %s", err)
		}
	}()

	// the file itself is replaced on every save, so watch its directory
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch progress dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if s.isOwnWrite() {
				continue
			}
			if err := s.Reload(); err != nil {
				log.Errorf("reload progress file after external change: %s", err)
				continue
			}
			log.Infof("progress file [%s] changed externally, reloaded %d records", s.path, s.Len())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("progress file watcher: %s", err)
		}
	}
}

func (s *FileStore) isOwnWrite() bool {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Equal(content, s.lastWritten)
}

// EncodeRecords renders records in the progress file format.
func EncodeRecords(records map[string]Record) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

// DecodeRecords parses the progress file format.
func DecodeRecords(content []byte) (map[string]Record, error) {
	records := make(map[string]Record)
	if len(bytes.TrimSpace(content)) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(content, &records); err != nil {
		return nil, fmt.Errorf("decode progress records: %w", err)
	}
	return records, nil
}
