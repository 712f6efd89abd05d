package sheetsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists the full record set as one JSON document. Every
// mutation rewrites the file through a temp file and rename, so a crash
// mid-write never leaves a torn document behind.
type FileStore struct {
	mu   sync.Mutex
	path string
	mem  *MemoryStore
}

type fileStoreDoc struct {
	Epics []*Epic `json:"epics"`
	Users []*User `json:"users"`
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store requires a path: %w", ErrInvalidInput)
	}
	store := &FileStore{path: path, mem: NewMemoryStore()}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store file: %w", err)
	}
	var doc fileStoreDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode store file %s: %w", s.path, err)
	}
	ctx := context.Background()
	for _, epic := range doc.Epics {
		if err := s.mem.CreateEpic(ctx, epic); err != nil {
			return err
		}
	}
	for _, user := range doc.Users {
		if err := s.mem.CreateUser(ctx, user); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) flush(ctx context.Context) error {
	epics, err := s.mem.ListEpics(ctx)
	if err != nil {
		return err
	}
	users, err := s.mem.ListUsers(ctx)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(fileStoreDoc{Epics: epics, Users: users}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

func (s *FileStore) mutate(ctx context.Context, op func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := op(); err != nil {
		return err
	}
	return s.flush(ctx)
}

func (s *FileStore) CreateEpic(ctx context.Context, epic *Epic) error {
	return s.mutate(ctx, func() error { return s.mem.CreateEpic(ctx, epic) })
}

func (s *FileStore) GetEpic(ctx context.Context, title string) (*Epic, error) {
	return s.mem.GetEpic(ctx, title)
}

func (s *FileStore) UpdateEpic(ctx context.Context, epic *Epic) error {
	return s.mutate(ctx, func() error { return s.mem.UpdateEpic(ctx, epic) })
}

func (s *FileStore) DeleteEpic(ctx context.Context, title string) error {
	return s.mutate(ctx, func() error { return s.mem.DeleteEpic(ctx, title) })
}

func (s *FileStore) ListEpics(ctx context.Context) ([]*Epic, error) {
	return s.mem.ListEpics(ctx)
}

func (s *FileStore) EpicByRepo(ctx context.Context, owner, name string) (*Epic, error) {
	return s.mem.EpicByRepo(ctx, owner, name)
}

func (s *FileStore) CreateUser(ctx context.Context, user *User) error {
	return s.mutate(ctx, func() error { return s.mem.CreateUser(ctx, user) })
}

func (s *FileStore) GetUser(ctx context.Context, name string) (*User, error) {
	return s.mem.GetUser(ctx, name)
}

func (s *FileStore) UpdateUser(ctx context.Context, user *User) error {
	return s.mutate(ctx, func() error { return s.mem.UpdateUser(ctx, user) })
}

func (s *FileStore) DeleteUser(ctx context.Context, name string) error {
	return s.mutate(ctx, func() error { return s.mem.DeleteUser(ctx, name) })
}

func (s *FileStore) ListUsers(ctx context.Context) ([]*User, error) {
	return s.mem.ListUsers(ctx)
}

func (s *FileStore) Close() error { return nil }
