package sheetsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// sqlOpenFunc is a seam for tests.
var sqlOpenFunc = sql.Open

type PostgresStoreOptions struct {
	DSN          string
	EpicsTable   string
	UsersTable   string
	QueryTimeout time.Duration
}

// PostgresStore keeps each record as a JSONB document keyed by its
// natural key. The schema is prepared lazily on first use so opening
// the store never blocks startup on an unreachable database.
type PostgresStore struct {
	db           *sql.DB
	epicsTable   string
	usersTable   string
	queryTimeout time.Duration

	readyOnce sync.Once
	readyErr  error
}

func NewPostgresStore(opts PostgresStoreOptions) (*PostgresStore, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, fmt.Errorf("postgres store requires a DSN: %w", ErrInvalidInput)
	}
	epicsTable := strings.TrimSpace(opts.EpicsTable)
	if epicsTable == "" {
		epicsTable = "sheetsync_epics"
	}
	usersTable := strings.TrimSpace(opts.UsersTable)
	if usersTable == "" {
		usersTable = "sheetsync_users"
	}
	queryTimeout := opts.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	db, err := sqlOpenFunc("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &PostgresStore{
		db:           db,
		epicsTable:   quoteIdentifier(epicsTable),
		usersTable:   quoteIdentifier(usersTable),
		queryTimeout: queryTimeout,
	}, nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *PostgresStore) ensureReady(ctx context.Context) error {
	s.readyOnce.Do(func() {
		ddl := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				key TEXT PRIMARY KEY,
				doc JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, s.epicsTable),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				key TEXT PRIMARY KEY,
				doc JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, s.usersTable),
		}
		for _, stmt := range ddl {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				s.readyErr = fmt.Errorf("prepare schema: %w: %v", ErrBackendUnavailable, err)
				return
			}
		}
	})
	return s.readyErr
}

func (s *PostgresStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *PostgresStore) createDoc(ctx context.Context, table, kind, key string, doc any) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (key, doc) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, table)
	result, err := s.db.ExecContext(ctx, query, key, raw)
	if err != nil {
		return fmt.Errorf("insert %s: %w", kind, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &ConflictError{Kind: kind, Key: key}
	}
	return nil
}

func (s *PostgresStore) getDoc(ctx context.Context, table, kind, key string, out any) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE key = $1`, table)
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("select %s: %w", kind, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	return nil
}

func (s *PostgresStore) updateDoc(ctx context.Context, table, kind, key string, doc any) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	query := fmt.Sprintf(`UPDATE %s SET doc = $2, updated_at = now() WHERE key = $1`, table)
	result, err := s.db.ExecContext(ctx, query, key, raw)
	if err != nil {
		return fmt.Errorf("update %s: %w", kind, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) deleteDoc(ctx context.Context, table, kind, key string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, table)
	result, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateEpic(ctx context.Context, epic *Epic) error {
	if epic == nil || epic.Title == "" {
		return fmt.Errorf("epic requires a title: %w", ErrInvalidInput)
	}
	return s.createDoc(ctx, s.epicsTable, "epic", epic.Title, epic)
}

func (s *PostgresStore) GetEpic(ctx context.Context, title string) (*Epic, error) {
	var epic Epic
	if err := s.getDoc(ctx, s.epicsTable, "epic", title, &epic); err != nil {
		return nil, err
	}
	return &epic, nil
}

func (s *PostgresStore) UpdateEpic(ctx context.Context, epic *Epic) error {
	if epic == nil || epic.Title == "" {
		return fmt.Errorf("epic requires a title: %w", ErrInvalidInput)
	}
	return s.updateDoc(ctx, s.epicsTable, "epic", epic.Title, epic)
}

func (s *PostgresStore) DeleteEpic(ctx context.Context, title string) error {
	return s.deleteDoc(ctx, s.epicsTable, "epic", title)
}

func (s *PostgresStore) ListEpics(ctx context.Context) ([]*Epic, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT doc FROM %s ORDER BY key`, s.epicsTable)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list epics: %w", err)
	}
	defer rows.Close()
	var out []*Epic
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var epic Epic
		if err := json.Unmarshal(raw, &epic); err != nil {
			return nil, fmt.Errorf("decode epic: %w", err)
		}
		out = append(out, &epic)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EpicByRepo(ctx context.Context, owner, name string) (*Epic, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE doc->>'repoOwner' = $1 AND doc->>'repoName' = $2 LIMIT 1`, s.epicsTable)
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, owner, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("epic for repo %s/%s: %w", owner, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select epic by repo: %w", err)
	}
	var epic Epic
	if err := json.Unmarshal(raw, &epic); err != nil {
		return nil, fmt.Errorf("decode epic: %w", err)
	}
	return &epic, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	if user == nil || user.Name == "" {
		return fmt.Errorf("user requires a name: %w", ErrInvalidInput)
	}
	return s.createDoc(ctx, s.usersTable, "user", user.Name, user)
}

func (s *PostgresStore) GetUser(ctx context.Context, name string) (*User, error) {
	var user User
	if err := s.getDoc(ctx, s.usersTable, "user", name, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user *User) error {
	if user == nil || user.Name == "" {
		return fmt.Errorf("user requires a name: %w", ErrInvalidInput)
	}
	return s.updateDoc(ctx, s.usersTable, "user", user.Name, user)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, name string) error {
	return s.deleteDoc(ctx, s.usersTable, "user", name)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT doc FROM %s ORDER BY key`, s.usersTable)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var user User
		if err := json.Unmarshal(raw, &user); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		out = append(out, &user)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
