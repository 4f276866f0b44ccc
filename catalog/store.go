package catalog

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/polestream/errors"
)

// Store persists the serialized catalog snapshot. Load returns an error of
// kind NotFound when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// FileStore keeps the snapshot in a single JSON file, replaced atomically on
// every save.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot file
func (s *FileStore) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.KindNotFound, "FileStore", "Load", "no snapshot at %s", s.path)
		}
		return nil, errors.WrapFatal(err, "FileStore", "Load", "read snapshot")
	}
	return data, nil
}

// Save writes to a temp file in the same directory, syncs it and renames it
// over the snapshot so readers never see a partial document.
func (s *FileStore) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapTransient(err, "FileStore", "Save", "create directory")
	}

	tmp, err := os.CreateTemp(dir, ".catalog-*.json")
	if err != nil {
		return errors.WrapTransient(err, "FileStore", "Save", "create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.WrapTransient(err, "FileStore", "Save", "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.WrapTransient(err, "FileStore", "Save", "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.WrapTransient(err, "FileStore", "Save", "close temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return errors.WrapTransient(err, "FileStore", "Save", "rename snapshot")
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// KVStore keeps the snapshot under a single key of a JetStream KV bucket
type KVStore struct {
	kv  jetstream.KeyValue
	key string
}

// SnapshotKey is the KV key holding the catalog document
const SnapshotKey = "snapshot"

// NewKVStore creates a KV-backed store
func NewKVStore(kv jetstream.KeyValue) *KVStore {
	return &KVStore{kv: kv, key: SnapshotKey}
}

// Load fetches the latest revision of the snapshot
func (s *KVStore) Load(ctx context.Context) ([]byte, error) {
	entry, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.New(errors.KindNotFound, "KVStore", "Load", "bucket %s has no snapshot", s.kv.Bucket())
		}
		return nil, errors.WrapTransient(err, "KVStore", "Load", "get snapshot")
	}
	return entry.Value(), nil
}

// Save stores a new revision of the snapshot
func (s *KVStore) Save(ctx context.Context, data []byte) error {
	if _, err := s.kv.Put(ctx, s.key, data); err != nil {
		return errors.WrapTransient(err, "KVStore", "Save", "put snapshot")
	}
	return nil
}

// MemoryStore keeps the snapshot in memory. Saves can be made to fail for
// tests that exercise persistence errors.
type MemoryStore struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	saveErr error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the last saved snapshot
func (s *MemoryStore) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, errors.New(errors.KindNotFound, "MemoryStore", "Load", "no snapshot")
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

// Save records the snapshot, or returns the configured failure
func (s *MemoryStore) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data = make([]byte, len(data))
	copy(s.data, data)
	s.saves++
	return nil
}

// FailSaves makes every following Save return err; nil restores normal saves
func (s *MemoryStore) FailSaves(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

// Saves returns the number of successful saves
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
