package sheetsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TaskIssue pairs a task title with the tracker issue opened for it,
// used when an epic-level relay reports issue IDs for several tasks.
type TaskIssue struct {
	Title   string `json:"title"`
	IssueID int    `json:"issueID"`
}

// RelayResponse is what a relay endpoint reports back. IssueID carries
// the tracker ID for a single-task mutation; Tasks carries per-title
// IDs for an epic-level mutation that opened several issues.
type RelayResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	TaskID  *int        `json:"taskID,omitempty"`
	IssueID *int        `json:"issueID,omitempty"`
	Tasks   []TaskIssue `json:"tasks,omitempty"`
}

// taskRelayPayload is the task document sent to task-kind endpoints,
// the task fields plus the owning epic's repo linkage so the endpoint
// can act on the right repository without a second lookup.
type taskRelayPayload struct {
	Task
	EpicTitle      string `json:"epicTitle"`
	SpreadsheetID  string `json:"spreadsheetID,omitempty"`
	RepoOwner      string `json:"repoOwner,omitempty"`
	RepoName       string `json:"repoName,omitempty"`
	InstallationID int64  `json:"installationID,omitempty"`
}

type DispatcherOptions struct {
	Endpoints  *EndpointTable
	HTTPClient *http.Client
	Logger     Logger
}

// Dispatcher forwards mutations to the per-kind relay endpoints. The
// kind/payload pairing is validated before any network traffic, and a
// non-2xx response surfaces as a RelayError.
type Dispatcher struct {
	endpoints  *EndpointTable
	httpClient *http.Client
	logger     Logger
}

func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Endpoints == nil {
		return nil, fmt.Errorf("dispatcher requires an endpoint table: %w", ErrInvalidInput)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Dispatcher{
		endpoints:  opts.Endpoints,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}

// Dispatch sends one mutation and returns the endpoint's response.
func (d *Dispatcher) Dispatch(ctx context.Context, m Mutation) (*RelayResponse, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	url, err := d.endpoints.URL(m.Kind)
	if err != nil {
		return nil, err
	}

	var payload any
	if m.Kind.IsTaskKind() {
		payload = taskRelayPayload{
			Task:           *m.Task,
			EpicTitle:      m.Epic.Title,
			SpreadsheetID:  m.Epic.SpreadsheetID,
			RepoOwner:      m.Epic.RepoOwner,
			RepoName:       m.Epic.RepoName,
			InstallationID: m.Epic.InstallationID,
		}
	} else {
		payload = m.Epic
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay %s: %w", m.Kind, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read relay response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RelayError{
			Kind:       m.Kind,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	var relayResp RelayResponse
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &relayResp); err != nil {
			return nil, fmt.Errorf("decode relay response for %s: %w", m.Kind, err)
		}
	}
	d.logf("relayed %s to %s: status=%q", m.Kind, url, relayResp.Status)
	return &relayResp, nil
}

// ApplyRelayResponse folds tracker issue IDs from a relay response back
// into the epic. A top-level issue ID binds to the mutation's task; the
// per-title list binds by task title.
func ApplyRelayResponse(epic *Epic, m Mutation, resp *RelayResponse) bool {
	if epic == nil || resp == nil {
		return false
	}
	changed := false
	if m.Task != nil && (resp.IssueID != nil || resp.TaskID != nil) {
		for i := range epic.Tasks {
			if epic.Tasks[i].Title != m.Task.Title {
				continue
			}
			if resp.IssueID != nil && epic.Tasks[i].IssueID != *resp.IssueID {
				epic.Tasks[i].IssueID = *resp.IssueID
				changed = true
			}
			if resp.TaskID != nil && epic.Tasks[i].TaskID != *resp.TaskID {
				epic.Tasks[i].TaskID = *resp.TaskID
				changed = true
			}
		}
	}
	for _, ti := range resp.Tasks {
		for i := range epic.Tasks {
			if epic.Tasks[i].Title == ti.Title && epic.Tasks[i].IssueID != ti.IssueID {
				epic.Tasks[i].IssueID = ti.IssueID
				changed = true
			}
		}
	}
	return changed
}
