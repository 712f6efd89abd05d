package sheetsync

import (
	"fmt"
	"strings"
)

// BuildStoreFromDSN constructs a store from a scheme-tagged DSN:
//
//	memory://                    in-process, volatile
//	file:///var/lib/sync.json    single JSON document on disk
//	postgres://user@host/db      JSONB documents in postgres
//
// An empty DSN defaults to the in-memory store.
func BuildStoreFromDSN(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || dsn == "memory://" || dsn == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "file://"):
		path := strings.TrimPrefix(dsn, "file://")
		return NewFileStore(path)
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(PostgresStoreOptions{DSN: dsn})
	default:
		return nil, fmt.Errorf("unsupported store DSN %q: %w", dsn, ErrInvalidInput)
	}
}
