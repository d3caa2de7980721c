package offline

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"quizlink/tools/errs"
)

// Store persists the whole queue as one blob under one key. Load returns nil, nil
// when nothing was saved yet.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
}

// MemoryStore keeps blobs in process; used by tests and when persistence is off.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (s *MemoryStore) Save(_ context.Context, key string, blob []byte) error {
	s.mu.Lock()
	s.m[key] = append([]byte(nil), blob...)
	s.mu.Unlock()
	return nil
}

// FileStore writes one file per key under Dir. Save goes through a temp file and
// a rename so a crash never leaves a half-written queue behind.
type FileStore struct {
	Dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.WrapMsg(err, "create offline dir", "dir", dir)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.Dir, filepath.Base(key)+".json")
}

func (s *FileStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "read offline file", "key", key)
	}
	return b, nil
}

func (s *FileStore) Save(_ context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dst := s.path(key)
	tmp, err := os.CreateTemp(s.Dir, filepath.Base(dst)+".*.tmp")
	if err != nil {
		return errs.WrapMsg(err, "create temp file", "dir", s.Dir)
	}
	name := tmp.Name()
	if _, err = tmp.Write(blob); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(name)
		return errs.WrapMsg(err, "write temp file", "file", name)
	}
	if err := os.Rename(name, dst); err != nil {
		_ = os.Remove(name)
		return errs.WrapMsg(err, "rename offline file", "file", dst)
	}
	return nil
}
