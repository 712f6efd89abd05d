package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sheetsync/sheetsync/internal/httpapi"
	"github.com/sheetsync/sheetsync/internal/sheet"
	"github.com/sheetsync/sheetsync/internal/sheetsync"
)

func main() {
	_ = godotenv.Load()

	addr := os.Getenv("SHEETSYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := buildStoreFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}
	defer store.Close()

	service := sheet.NewHTTPService(sheet.HTTPServiceOptions{
		BaseURL:       os.Getenv("SHEETSYNC_SHEETS_BASE_URL"),
		TokenProvider: tokenProviderFromEnv(),
		MaxRetries:    intEnv("SHEETSYNC_SHEETS_MAX_RETRIES", 0),
		BaseDelay:     durationEnv("SHEETSYNC_SHEETS_RETRY_BASE_DELAY", 0),
		MaxDelay:      durationEnv("SHEETSYNC_SHEETS_RETRY_MAX_DELAY", 0),
	})

	engine, err := sheetsync.NewEngine(sheetsync.EngineOptions{
		Service:    service,
		SheetName:  os.Getenv("SHEETSYNC_TASKS_SHEET"),
		Attempts:   intEnv("SHEETSYNC_WRITEBACK_ATTEMPTS", 0),
		RetryDelay: durationEnv("SHEETSYNC_WRITEBACK_RETRY_DELAY", 0),
		Logger:     log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize writeback engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher, err := buildDispatcherFromEnv(ctx)
	if err != nil {
		log.Fatalf("failed to initialize relay dispatcher: %v", err)
	}

	broadcaster := sheetsync.NewBroadcaster()
	coordinator, err := sheetsync.NewCoordinator(sheetsync.CoordinatorOptions{
		Store:          store,
		Service:        service,
		Engine:         engine,
		Dispatcher:     dispatcher,
		Broadcaster:    broadcaster,
		TasksSheetName: os.Getenv("SHEETSYNC_TASKS_SHEET"),
		EpicSheetName:  os.Getenv("SHEETSYNC_EPIC_SHEET"),
		Logger:         log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize coordinator: %v", err)
	}

	server, err := httpapi.NewServerWithConfig(store, coordinator, broadcaster, httpapi.ServerConfig{
		MaxBodyBytes:   int64Env("SHEETSYNC_MAX_BODY_BYTES", 0),
		WebhookTimeout: durationEnv("SHEETSYNC_WEBHOOK_TIMEOUT", 0),
	})
	if err != nil {
		log.Fatalf("failed to initialize http server: %v", err)
	}

	log.Printf("sheetsync listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildStoreFromEnv() (sheetsync.Store, error) {
	dsn := strings.TrimSpace(os.Getenv("SHEETSYNC_STORE_DSN"))
	if dsn == "" {
		dataDir := strings.TrimSpace(os.Getenv("SHEETSYNC_DATA_DIR"))
		if dataDir != "" {
			dsn = "file://" + filepath.Join(dataDir, "store.json")
		}
	}
	return sheetsync.BuildStoreFromDSN(dsn)
}

func buildDispatcherFromEnv(ctx context.Context) (*sheetsync.Dispatcher, error) {
	path := strings.TrimSpace(os.Getenv("SHEETSYNC_RELAY_ENDPOINTS"))
	if path == "" {
		log.Printf("SHEETSYNC_RELAY_ENDPOINTS not set, relay dispatch disabled")
		return nil, nil
	}
	table, err := sheetsync.LoadEndpointTable(path, log.Default())
	if err != nil {
		return nil, err
	}
	if err := table.Watch(ctx); err != nil {
		return nil, err
	}
	return sheetsync.NewDispatcher(sheetsync.DispatcherOptions{
		Endpoints: table,
		Logger:    log.Default(),
	})
}

// tokenProviderFromEnv reads the bearer token on every request so a
// rotated token file takes effect without a restart.
func tokenProviderFromEnv() sheet.AccessTokenProvider {
	tokenFile := strings.TrimSpace(os.Getenv("SHEETSYNC_SHEETS_TOKEN_FILE"))
	if tokenFile != "" {
		return func(ctx context.Context) (string, error) {
			raw, err := os.ReadFile(tokenFile)
			if err != nil {
				return "", fmt.Errorf("read token file: %w", err)
			}
			return strings.TrimSpace(string(raw)), nil
		}
	}
	token := strings.TrimSpace(os.Getenv("SHEETSYNC_SHEETS_TOKEN"))
	if token == "" {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
