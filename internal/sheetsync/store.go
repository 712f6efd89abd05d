package sheetsync

import "context"

// Store persists epic and user records. Epics are keyed by title, users
// by name. Create fails with a ConflictError when the key exists;
// Update and Delete fail with ErrNotFound when it does not.
type Store interface {
	CreateEpic(ctx context.Context, epic *Epic) error
	GetEpic(ctx context.Context, title string) (*Epic, error)
	UpdateEpic(ctx context.Context, epic *Epic) error
	DeleteEpic(ctx context.Context, title string) error
	ListEpics(ctx context.Context) ([]*Epic, error)
	EpicByRepo(ctx context.Context, owner, name string) (*Epic, error)

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, name string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, name string) error
	ListUsers(ctx context.Context) ([]*User, error)

	Close() error
}
