package sheetsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps all records in process memory. Records are cloned
// through JSON on the way in and out, so callers never share pointers
// with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	epics map[string]*Epic
	users map[string]*User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		epics: make(map[string]*Epic),
		users: make(map[string]*User),
	}
}

func cloneEpic(epic *Epic) (*Epic, error) {
	raw, err := json.Marshal(epic)
	if err != nil {
		return nil, fmt.Errorf("clone epic: %w", err)
	}
	var out Epic
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone epic: %w", err)
	}
	return &out, nil
}

func cloneUser(user *User) (*User, error) {
	raw, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("clone user: %w", err)
	}
	var out User
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone user: %w", err)
	}
	return &out, nil
}

func (s *MemoryStore) CreateEpic(ctx context.Context, epic *Epic) error {
	if epic == nil || epic.Title == "" {
		return fmt.Errorf("epic requires a title: %w", ErrInvalidInput)
	}
	clone, err := cloneEpic(epic)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.epics[epic.Title]; exists {
		return &ConflictError{Kind: "epic", Key: epic.Title}
	}
	s.epics[epic.Title] = clone
	return nil
}

func (s *MemoryStore) GetEpic(ctx context.Context, title string) (*Epic, error) {
	s.mu.RLock()
	epic, ok := s.epics[title]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("epic %q: %w", title, ErrNotFound)
	}
	return cloneEpic(epic)
}

func (s *MemoryStore) UpdateEpic(ctx context.Context, epic *Epic) error {
	if epic == nil || epic.Title == "" {
		return fmt.Errorf("epic requires a title: %w", ErrInvalidInput)
	}
	clone, err := cloneEpic(epic)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.epics[epic.Title]; !exists {
		return fmt.Errorf("epic %q: %w", epic.Title, ErrNotFound)
	}
	s.epics[epic.Title] = clone
	return nil
}

func (s *MemoryStore) DeleteEpic(ctx context.Context, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.epics[title]; !exists {
		return fmt.Errorf("epic %q: %w", title, ErrNotFound)
	}
	delete(s.epics, title)
	return nil
}

func (s *MemoryStore) ListEpics(ctx context.Context) ([]*Epic, error) {
	s.mu.RLock()
	titles := make([]string, 0, len(s.epics))
	for title := range s.epics {
		titles = append(titles, title)
	}
	s.mu.RUnlock()
	sort.Strings(titles)

	out := make([]*Epic, 0, len(titles))
	for _, title := range titles {
		epic, err := s.GetEpic(ctx, title)
		if err != nil {
			continue
		}
		out = append(out, epic)
	}
	return out, nil
}

func (s *MemoryStore) EpicByRepo(ctx context.Context, owner, name string) (*Epic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, epic := range s.epics {
		if epic.RepoOwner == owner && epic.RepoName == name {
			return cloneEpic(epic)
		}
	}
	return nil, fmt.Errorf("epic for repo %s/%s: %w", owner, name, ErrNotFound)
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *User) error {
	if user == nil || user.Name == "" {
		return fmt.Errorf("user requires a name: %w", ErrInvalidInput)
	}
	clone, err := cloneUser(user)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Name]; exists {
		return &ConflictError{Kind: "user", Key: user.Name}
	}
	s.users[user.Name] = clone
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, name string) (*User, error) {
	s.mu.RLock()
	user, ok := s.users[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("user %q: %w", name, ErrNotFound)
	}
	return cloneUser(user)
}

func (s *MemoryStore) UpdateUser(ctx context.Context, user *User) error {
	if user == nil || user.Name == "" {
		return fmt.Errorf("user requires a name: %w", ErrInvalidInput)
	}
	clone, err := cloneUser(user)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Name]; !exists {
		return fmt.Errorf("user %q: %w", user.Name, ErrNotFound)
	}
	s.users[user.Name] = clone
	return nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[name]; !exists {
		return fmt.Errorf("user %q: %w", name, ErrNotFound)
	}
	delete(s.users, name)
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*User, 0, len(names))
	for _, name := range names {
		user, err := cloneUser(s.users[name])
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
