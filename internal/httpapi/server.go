// Package httpapi exposes the sync engine over HTTP: the spreadsheet
// webhook ingress, CRUD for epics, tasks and users, and a websocket
// feed of detected mutations.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/sheetsync/sheetsync/internal/sheetsync"
)

// Record keys ride in headers rather than the path, matching the push
// channel's conventions.
const (
	headerEpicTitle = "Epic-Title"
	headerTaskID    = "Task-Id"
	headerUserName  = "User-Name"
	headerRepoOwner = "Repo-Owner"
	headerRepoName  = "Repo-Name"
)

type ServerConfig struct {
	MaxBodyBytes   int64
	WebhookTimeout time.Duration
}

type Server struct {
	store       sheetsync.Store
	coordinator *sheetsync.Coordinator
	broadcaster *sheetsync.Broadcaster
	schema      *jsonschema.Schema
	cfg         ServerConfig
}

func NewServer(store sheetsync.Store, coordinator *sheetsync.Coordinator, broadcaster *sheetsync.Broadcaster) (*Server, error) {
	return NewServerWithConfig(store, coordinator, broadcaster, ServerConfig{})
}

func NewServerWithConfig(store sheetsync.Store, coordinator *sheetsync.Coordinator, broadcaster *sheetsync.Broadcaster, cfg ServerConfig) (*Server, error) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 5 * time.Minute
	}
	schema, err := compileWebhookSchema()
	if err != nil {
		return nil, err
	}
	return &Server{
		store:       store,
		coordinator: coordinator,
		broadcaster: broadcaster,
		schema:      schema,
		cfg:         cfg,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/webhook" && r.Method == http.MethodPost {
		s.handleWebhook(w, r)
		return
	}
	if r.URL.Path == "/events/stream" && r.Method == http.MethodGet {
		s.handleEventsStream(w, r)
		return
	}

	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/epics":
		s.handleEpics(w, r)
	case "/epics/tasks":
		s.handleTasks(w, r)
	case "/users":
		s.handleUsers(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

// handleWebhook resolves one cell-change event into domain mutations.
// Data problems and relay failures come back as 200 with per-branch
// statuses; only a malformed request or a store write failure on the
// primary path produces a non-2xx.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	payload, err := validateWebhookBody(s.schema, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ev := sheetsync.ChangeEvent{
		SpreadsheetID: payload.SpreadsheetID,
		SheetName:     payload.SheetName,
		OldValue:      payload.OldValue,
		NewValue:      payload.Value,
	}
	if payload.User != nil {
		ev.User = &sheetsync.EventUser{
			Nickname: payload.User.Nickname,
			Email:    payload.User.Email,
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.WebhookTimeout)
	defer cancel()
	summary, err := s.coordinator.HandleSheetChange(ctx, ev)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleEpics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	title := strings.TrimSpace(r.Header.Get(headerEpicTitle))

	switch r.Method {
	case http.MethodGet:
		if title == "" {
			owner := strings.TrimSpace(r.Header.Get(headerRepoOwner))
			repo := strings.TrimSpace(r.Header.Get(headerRepoName))
			if owner != "" && repo != "" {
				epic, err := s.store.EpicByRepo(ctx, owner, repo)
				if err != nil {
					writeStoreError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, epic)
				return
			}
			epics, err := s.store.ListEpics(ctx)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, epics)
			return
		}
		epic, err := s.store.GetEpic(ctx, title)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, epic)
	case http.MethodPost:
		var epic sheetsync.Epic
		if !s.decodeJSONBody(w, r, &epic) {
			return
		}
		if err := s.coordinator.CreateEpic(ctx, &epic); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, epic)
	case http.MethodPut:
		var epic sheetsync.Epic
		if !s.decodeJSONBody(w, r, &epic) {
			return
		}
		if epic.Title == "" {
			epic.Title = title
		}
		if err := s.coordinator.UpdateEpic(ctx, &epic); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, epic)
	case http.MethodDelete:
		if title == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "missing "+headerEpicTitle+" header")
			return
		}
		if err := s.coordinator.DeleteEpic(ctx, title); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "title": title})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// taskRef resolves the Task-Id header, which carries either a numeric
// tracker ID or a task title.
func taskRef(r *http.Request) (int, string) {
	raw := strings.TrimSpace(r.Header.Get(headerTaskID))
	if raw == "" {
		return 0, ""
	}
	if id, err := strconv.Atoi(raw); err == nil {
		return id, ""
	}
	return 0, raw
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	epicTitle := strings.TrimSpace(r.Header.Get(headerEpicTitle))
	if epicTitle == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing "+headerEpicTitle+" header")
		return
	}

	switch r.Method {
	case http.MethodGet:
		epic, err := s.store.GetEpic(ctx, epicTitle)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		id, title := taskRef(r)
		if id == 0 && title == "" {
			writeJSON(w, http.StatusOK, epic.Tasks)
			return
		}
		var task sheetsync.Task
		var found bool
		if id != 0 {
			task, found = epic.TaskByID(id)
		} else {
			task, found = epic.TaskByTitle(title)
		}
		if !found {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodPost:
		var task sheetsync.Task
		if !s.decodeJSONBody(w, r, &task) {
			return
		}
		created, err := s.coordinator.AddTask(ctx, epicTitle, task)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodPut:
		var task sheetsync.Task
		if !s.decodeJSONBody(w, r, &task) {
			return
		}
		if id, title := taskRef(r); id != 0 {
			task.TaskID = id
		} else if title != "" && task.Title == "" {
			task.Title = title
		}
		updated, err := s.coordinator.UpdateTask(ctx, epicTitle, task)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		id, title := taskRef(r)
		if id == 0 && title == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "missing "+headerTaskID+" header")
			return
		}
		if err := s.coordinator.DeleteTask(ctx, epicTitle, id, title); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := strings.TrimSpace(r.Header.Get(headerUserName))

	switch r.Method {
	case http.MethodGet:
		if name == "" {
			users, err := s.store.ListUsers(ctx)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, users)
			return
		}
		user, err := s.store.GetUser(ctx, name)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPost:
		var user sheetsync.User
		if !s.decodeJSONBody(w, r, &user) {
			return
		}
		if err := s.store.CreateUser(ctx, &user); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	case http.MethodPut:
		var user sheetsync.User
		if !s.decodeJSONBody(w, r, &user) {
			return
		}
		if user.Name == "" {
			user.Name = name
		}
		if err := s.store.UpdateUser(ctx, &user); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if name == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "missing "+headerUserName+" header")
			return
		}
		if err := s.store.DeleteUser(ctx, name); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// handleEventsStream upgrades to a websocket and forwards mutation
// events until the client goes away. Slow clients miss events rather
// than backing up the sync path.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		writeError(w, http.StatusNotFound, "not_found", "event stream not enabled")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	events, cancel := s.broadcaster.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case m, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, m); err != nil {
				return
			}
		}
	}
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	var conflict *sheetsync.ConflictError
	switch {
	case errors.Is(err, sheetsync.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, sheetsync.ErrInvalidInput), errors.Is(err, sheetsync.ErrInvalidPairing):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, sheetsync.ErrRetryExhausted):
		writeError(w, http.StatusBadGateway, "writeback_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
