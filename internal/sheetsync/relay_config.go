package sheetsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// EndpointTable maps mutation kinds to relay URLs. The table can be
// reloaded from its YAML file while the service runs.
type EndpointTable struct {
	mu        sync.RWMutex
	endpoints map[MutationKind]string
	path      string
	logger    Logger
}

// endpointFile is the on-disk shape:
//
//	endpoints:
//	  epic_setup: https://relay.example.com/epics/setup
//	  task_add:   https://relay.example.com/tasks/add
type endpointFile struct {
	Endpoints map[string]string `yaml:"endpoints"`
}

// NewEndpointTable builds a static table.
func NewEndpointTable(endpoints map[MutationKind]string) *EndpointTable {
	table := make(map[MutationKind]string, len(endpoints))
	for kind, url := range endpoints {
		table[kind] = url
	}
	return &EndpointTable{endpoints: table}
}

// LoadEndpointTable reads the table from a YAML file. Unknown kinds in
// the file are rejected so typos fail at load time, not dispatch time.
func LoadEndpointTable(path string, logger Logger) (*EndpointTable, error) {
	t := &EndpointTable{path: path, logger: logger}
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

var knownKinds = map[MutationKind]bool{
	EpicSetup: true, EpicUpdate: true, EpicDelete: true,
	TaskAdd: true, TaskUpdate: true, TaskDelete: true,
}

func (t *EndpointTable) reload() error {
	raw, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read endpoint table: %w", err)
	}
	var file endpointFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("decode endpoint table %s: %w", t.path, err)
	}
	endpoints := make(map[MutationKind]string, len(file.Endpoints))
	for name, url := range file.Endpoints {
		kind := MutationKind(name)
		if !knownKinds[kind] {
			return fmt.Errorf("endpoint table %s: unknown mutation kind %q: %w", t.path, name, ErrInvalidInput)
		}
		if url == "" {
			return fmt.Errorf("endpoint table %s: empty URL for %q: %w", t.path, name, ErrInvalidInput)
		}
		endpoints[kind] = url
	}
	t.mu.Lock()
	t.endpoints = endpoints
	t.mu.Unlock()
	return nil
}

// URL returns the relay URL for a mutation kind.
func (t *EndpointTable) URL(kind MutationKind) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	url, ok := t.endpoints[kind]
	if !ok {
		return "", fmt.Errorf("no relay endpoint for %s: %w", kind, ErrNotFound)
	}
	return url, nil
}

func (t *EndpointTable) logf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

// Watch reloads the table whenever its file changes, until the context
// is cancelled. A reload failure keeps the previous table and logs.
func (t *EndpointTable) Watch(ctx context.Context) error {
	if t.path == "" {
		return fmt.Errorf("endpoint table has no backing file: %w", ErrInvalidInput)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start endpoint watcher: %w", err)
	}
	// Watch the directory: editors and atomic writers replace the file,
	// which would otherwise drop the watch.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch endpoint dir: %w", err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(t.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := t.reload(); err != nil {
					t.logf("endpoint table reload failed, keeping previous: %v", err)
					continue
				}
				t.logf("endpoint table reloaded from %s", t.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logf("endpoint watcher error: %v", err)
			}
		}
	}()
	return nil
}
