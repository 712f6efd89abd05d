package sheet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestService(t *testing.T, handler http.Handler) *HTTPService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPService(HTTPServiceOptions{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		TokenProvider: func(context.Context) (string, error) {
			return "test-token", nil
		},
	})
}

func TestFetchGridParsesValues(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization header = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"values": [][]string{
				{"Title", "Priority"},
				{"Fix login", "High"},
			},
		})
	}))

	grid, err := svc.FetchGrid(context.Background(), "sheet-1", "'Tasks'!A1:ZZ")
	if err != nil {
		t.Fatalf("FetchGrid: %v", err)
	}
	if len(grid.Headers) != 2 || grid.Headers[0] != "Title" {
		t.Fatalf("headers = %v", grid.Headers)
	}
	if len(grid.Rows) != 1 || grid.Rows[0][0] != "Fix login" {
		t.Fatalf("rows = %v", grid.Rows)
	}
}

func TestFetchGridEmptyRange(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	grid, err := svc.FetchGrid(context.Background(), "sheet-1", "'Tasks'!A1:ZZ")
	if err != nil {
		t.Fatalf("FetchGrid: %v", err)
	}
	if len(grid.Headers) != 0 || len(grid.Rows) != 0 {
		t.Fatalf("empty range should produce an empty grid, got %+v", grid)
	}
}

func TestBatchUpdateRetriesTransientFailures(t *testing.T) {
	var calls int32
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var payload struct {
			Requests []Request `json:"requests"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode batch payload: %v", err)
		}
		if len(payload.Requests) != 1 || payload.Requests[0].AppendCells == nil {
			t.Errorf("unexpected batch payload: %+v", payload.Requests)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := Request{AppendCells: &AppendCellsRequest{
		SheetID: 7,
		Rows:    []RowData{{Values: []CellData{TextCell("Fix login")}}},
		Fields:  "userEnteredValue",
	}}
	if err := svc.BatchUpdate(context.Background(), "sheet-1", []Request{req}); err != nil {
		t.Fatalf("BatchUpdate: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestBatchUpdateGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := svc.BatchUpdate(context.Background(), "sheet-1", nil)
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 4 attempts (initial + 3 retries), got %d", got)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls int32
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	if err := svc.BatchUpdate(context.Background(), "sheet-1", nil); err == nil {
		t.Fatalf("expected error on 400")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("4xx should not be retried, got %d attempts", got)
	}
}

func TestSheetIDResolvesByTitle(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sheets":[
			{"properties":{"sheetId":0,"title":"Tasks"}},
			{"properties":{"sheetId":123,"title":"Epic"}}
		]}`))
	}))

	id, err := svc.SheetID(context.Background(), "sheet-1", "epic")
	if err != nil {
		t.Fatalf("SheetID: %v", err)
	}
	if id != 123 {
		t.Fatalf("SheetID = %d, want 123", id)
	}
	if _, err := svc.SheetID(context.Background(), "sheet-1", "Missing"); err == nil {
		t.Fatalf("expected error for unknown sheet name")
	}
}

func TestRetryDelayHonorsRetryAfter(t *testing.T) {
	svc := NewHTTPService(HTTPServiceOptions{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  2 * time.Second,
	})
	if got := svc.retryDelay(1, "1"); got != time.Second {
		t.Fatalf("Retry-After 1 = %v, want 1s", got)
	}
	if got := svc.retryDelay(1, "600"); got != 2*time.Second {
		t.Fatalf("Retry-After beyond cap = %v, want 2s", got)
	}
	if got := svc.retryDelay(1, "junk"); got != 100*time.Millisecond {
		t.Fatalf("unparseable Retry-After should fall back to base delay, got %v", got)
	}
	if got := svc.retryDelay(2, ""); got != 200*time.Millisecond {
		t.Fatalf("second attempt = %v, want 200ms", got)
	}
	if got := svc.retryDelay(10, ""); got != 2*time.Second {
		t.Fatalf("delay should cap at max, got %v", got)
	}
}
