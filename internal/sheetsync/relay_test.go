package sheetsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestDispatcher(t *testing.T, handler http.Handler, kinds ...MutationKind) (*Dispatcher, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	endpoints := make(map[MutationKind]string, len(kinds))
	for _, kind := range kinds {
		endpoints[kind] = server.URL + "/" + string(kind)
	}
	d, err := NewDispatcher(DispatcherOptions{
		Endpoints:  NewEndpointTable(endpoints),
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d, server
}

func TestDispatchTaskPayloadCarriesRepoLinkage(t *testing.T) {
	var got map[string]any
	d, _ := newTestDispatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task_add" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(RelayResponse{Status: "ok"})
	}), TaskAdd)

	epic := &Epic{
		Title: "Login revamp", SpreadsheetID: "sheet-1",
		RepoOwner: "acme", RepoName: "web", InstallationID: 424242,
	}
	task := &Task{Title: "Fix login", Priority: "High"}
	resp, err := d.Dispatch(context.Background(), Mutation{Kind: TaskAdd, Epic: epic, Task: task})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status = %q", resp.Status)
	}
	for key, want := range map[string]any{
		"title": "Fix login", "epicTitle": "Login revamp",
		"repoOwner": "acme", "repoName": "web",
		"installationID": float64(424242), "spreadsheetID": "sheet-1",
	} {
		if got[key] != want {
			t.Fatalf("payload[%q] = %v, want %v", key, got[key], want)
		}
	}
}

func TestDispatchEpicPayload(t *testing.T) {
	var got Epic
	d, _ := newTestDispatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}), EpicSetup)

	epic := &Epic{Title: "Login revamp", Tasks: []Task{{Title: "Fix login"}}}
	if _, err := d.Dispatch(context.Background(), Mutation{Kind: EpicSetup, Epic: epic}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.Title != "Login revamp" || len(got.Tasks) != 1 {
		t.Fatalf("epic payload = %+v", got)
	}
}

func TestDispatchRejectsUnpairedTaskBeforeNetwork(t *testing.T) {
	var calls int32
	d, _ := newTestDispatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}), TaskAdd, TaskUpdate, EpicSetup, EpicUpdate)

	cases := []Mutation{
		{Kind: TaskAdd, Task: &Task{Title: "orphan"}},
		{Kind: TaskUpdate, Epic: &Epic{Title: "e"}},
		{Kind: EpicSetup},
		{Kind: EpicUpdate, Epic: &Epic{Title: "e"}, Task: &Task{Title: "stray"}},
	}
	for _, m := range cases {
		if _, err := d.Dispatch(context.Background(), m); !errors.Is(err, ErrInvalidPairing) {
			t.Fatalf("Dispatch(%s) = %v, want ErrInvalidPairing", m.Kind, err)
		}
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("malformed mutations must be rejected before any request is sent")
	}
}

func TestDispatchRelayError(t *testing.T) {
	d, _ := newTestDispatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plugin exploded", http.StatusBadGateway)
	}), EpicDelete)

	_, err := d.Dispatch(context.Background(), Mutation{Kind: EpicDelete, Epic: &Epic{Title: "e"}})
	var relayErr *RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("expected RelayError, got %v", err)
	}
	if relayErr.StatusCode != http.StatusBadGateway || relayErr.Kind != EpicDelete {
		t.Fatalf("RelayError = %+v", relayErr)
	}
}

func TestDispatchUnconfiguredKind(t *testing.T) {
	d, err := NewDispatcher(DispatcherOptions{Endpoints: NewEndpointTable(nil)})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	_, err = d.Dispatch(context.Background(), Mutation{Kind: EpicSetup, Epic: &Epic{Title: "e"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unconfigured kind should be ErrNotFound, got %v", err)
	}
}

func TestApplyRelayResponse(t *testing.T) {
	epic := &Epic{Title: "e", Tasks: []Task{
		{Title: "Fix login"},
		{Title: "Add search", TaskID: 12},
	}}
	taskID, issueID := 11, 101
	m := Mutation{Kind: TaskAdd, Epic: epic, Task: &Task{Title: "Fix login"}}
	changed := ApplyRelayResponse(epic, m, &RelayResponse{
		Status: "ok", TaskID: &taskID, IssueID: &issueID,
		Tasks: []TaskIssue{{Title: "Add search", IssueID: 202}},
	})
	if !changed {
		t.Fatalf("response with IDs should report a change")
	}
	if epic.Tasks[0].TaskID != 11 || epic.Tasks[0].IssueID != 101 {
		t.Fatalf("single-task binding failed: %+v", epic.Tasks[0])
	}
	if epic.Tasks[1].IssueID != 202 {
		t.Fatalf("per-title binding failed: %+v", epic.Tasks[1])
	}
	if ApplyRelayResponse(epic, m, &RelayResponse{Status: "ok"}) {
		t.Fatalf("empty response should not report a change")
	}
}
