package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sheetsync/sheetsync/internal/sheet"
)

type CoordinatorOptions struct {
	Store          Store
	Service        sheet.Service
	Engine         *Engine
	Dispatcher     *Dispatcher
	Broadcaster    *Broadcaster
	TasksSheetName string
	EpicSheetName  string
	Logger         Logger
}

// Coordinator drives the sync cycle. Single-cell change notifications
// come in through HandleSheetChange; task and epic edits made over the
// API come in through the typed operations. Either way the store holds
// the last-known domain state that intents are resolved against.
type Coordinator struct {
	store       Store
	service     sheet.Service
	engine      *Engine
	dispatcher  *Dispatcher
	broadcaster *Broadcaster
	tasksSheet  string
	epicSheet   string
	logger      Logger
}

func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("coordinator requires a store: %w", ErrInvalidInput)
	}
	tasksSheet := opts.TasksSheetName
	if tasksSheet == "" {
		tasksSheet = "Tasks"
	}
	epicSheet := opts.EpicSheetName
	if epicSheet == "" {
		epicSheet = "Epic"
	}
	return &Coordinator{
		store:       opts.Store,
		service:     opts.Service,
		engine:      opts.Engine,
		dispatcher:  opts.Dispatcher,
		broadcaster: opts.Broadcaster,
		tasksSheet:  tasksSheet,
		epicSheet:   epicSheet,
		logger:      opts.Logger,
	}, nil
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func (c *Coordinator) publish(m Mutation) {
	if c.broadcaster != nil {
		c.broadcaster.Publish(m)
	}
}

// relay dispatches when a dispatcher is configured. The pairing check
// still runs without one so malformed mutations never slip through.
func (c *Coordinator) relay(ctx context.Context, m Mutation) (*RelayResponse, error) {
	if c.dispatcher == nil {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return &RelayResponse{Status: "skipped"}, nil
	}
	return c.dispatcher.Dispatch(ctx, m)
}

// relayLogged dispatches and suppresses relay failures. A down tracker
// leaves the system degraded and out of sync with the tracker; it never
// blocks the store write or the sheet writeback. A nil return means the
// relay failed and there is no response to reconcile IDs from.
func (c *Coordinator) relayLogged(ctx context.Context, m Mutation) *RelayResponse {
	resp, err := c.relay(ctx, m)
	if err != nil {
		c.logf("relay %s failed, continuing without tracker sync: %v", m.Kind, err)
		return nil
	}
	return resp
}

// ChangeEvent is one webhook notification: a single cell's old and new
// value on a named sheet, plus the acting user when the push channel
// supplies one.
type ChangeEvent struct {
	SpreadsheetID string
	SheetName     string
	OldValue      string
	NewValue      string
	User          *EventUser
}

// EventUser is the acting-user sub-object of a change event.
type EventUser struct {
	Nickname string
	Email    string
}

// BranchStatus reports one branch of a sync cycle.
type BranchStatus struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func branchOK() BranchStatus { return BranchStatus{Status: "ok"} }
func branchSkipped(detail string) BranchStatus {
	return BranchStatus{Status: "skipped", Detail: detail}
}
func branchDegraded(detail string) BranchStatus {
	return BranchStatus{Status: "degraded", Detail: detail}
}
func branchError(err error) BranchStatus {
	return BranchStatus{Status: "error", Detail: err.Error()}
}

// ChangeSummary is the always-returned outcome of a sync cycle. Data
// problems and relay failures land in branch statuses rather than
// failing the whole cycle.
type ChangeSummary struct {
	Epic      BranchStatus   `json:"epic"`
	Tasks     BranchStatus   `json:"tasks"`
	Users     BranchStatus   `json:"users"`
	Mutations []MutationKind `json:"mutations,omitempty"`
}

// HandleSheetChange resolves one change event into domain intents. A
// Tasks-sheet event is diffed by its old and new cell value against the
// stored task list; an Epic-sheet event re-parses the whole Epic block.
// The sheet branch and the acting-user branch run concurrently; one
// failing never blocks the other. The returned error is reserved for
// store write failures on the primary path.
func (c *Coordinator) HandleSheetChange(ctx context.Context, ev ChangeEvent) (ChangeSummary, error) {
	var summary ChangeSummary
	var storeErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		summary.Epic, summary.Tasks, summary.Mutations, storeErr = c.syncSheetBranch(ctx, ev)
	}()
	go func() {
		defer wg.Done()
		summary.Users = c.syncEventUser(ctx, ev.User)
	}()
	wg.Wait()
	return summary, storeErr
}

func sheetNameIs(eventName, want string) bool {
	return strings.EqualFold(strings.TrimSpace(eventName), want)
}

func (c *Coordinator) syncSheetBranch(ctx context.Context, ev ChangeEvent) (BranchStatus, BranchStatus, []MutationKind, error) {
	switch {
	case sheetNameIs(ev.SheetName, c.tasksSheet):
		return c.syncTaskCellChange(ctx, ev)
	case sheetNameIs(ev.SheetName, c.epicSheet):
		return c.syncEpicBlock(ctx, ev.SpreadsheetID)
	default:
		skipped := branchSkipped("event names no synced sheet")
		return skipped, skipped, nil, nil
	}
}

// fetchEpicBlock reads and parses the positional Epic sheet.
func (c *Coordinator) fetchEpicBlock(ctx context.Context, spreadsheetID string) (Epic, error) {
	grid, err := c.service.FetchGrid(ctx, spreadsheetID, sheet.RangeSpec(c.epicSheet, 0))
	if err != nil {
		return Epic{}, fmt.Errorf("fetch epic sheet: %w", err)
	}
	full := make([][]string, 0, len(grid.Rows)+1)
	full = append(full, grid.Headers)
	full = append(full, grid.Rows...)
	epic, err := EpicFromGrid(full)
	if err != nil {
		return Epic{}, err
	}
	epic.SpreadsheetID = spreadsheetID
	return epic, nil
}

// setupEpic registers an epic seen for the first time: the full task
// list is read from the sheet once, announced as EpicSetup, and
// persisted as the baseline for later cell-level diffing.
func (c *Coordinator) setupEpic(ctx context.Context, parsed Epic) (BranchStatus, BranchStatus, []MutationKind, error) {
	tasksSheet, err := sheet.Fetch(ctx, c.service, parsed.SpreadsheetID, c.tasksSheet)
	if err != nil {
		return branchError(err), branchSkipped("tasks sheet unavailable"), nil, nil
	}
	parsed.Tasks = TasksFromSheet(tasksSheet)

	m := Mutation{Kind: EpicSetup, Epic: &parsed}
	resp := c.relayLogged(ctx, m)
	ApplyRelayResponse(&parsed, m, resp)
	if err := c.store.CreateEpic(ctx, &parsed); err != nil {
		return branchError(err), branchSkipped("epic setup failed"), nil, err
	}
	c.publish(m)
	status := branchOK()
	if resp == nil {
		status = branchDegraded("tracker relay failed")
	}
	return status, branchOK(), []MutationKind{EpicSetup}, nil
}

// syncTaskCellChange resolves a single changed title cell on the Tasks
// sheet. Old present and new absent is a deletion intent; both present
// is a rename; old absent is no action at this layer, row additions go
// through the explicit task creation operation. A referent that has
// already vanished from the stored list is a no-op, the event may be a
// duplicate or a race.
func (c *Coordinator) syncTaskCellChange(ctx context.Context, ev ChangeEvent) (BranchStatus, BranchStatus, []MutationKind, error) {
	oldTitle := strings.TrimSpace(ev.OldValue)
	newTitle := strings.TrimSpace(ev.NewValue)
	if oldTitle == "" {
		return branchOK(), branchSkipped("no prior value in event"), nil, nil
	}

	parsed, err := c.fetchEpicBlock(ctx, ev.SpreadsheetID)
	if err != nil {
		return branchError(err), branchSkipped("epic sheet unusable"), nil, nil
	}
	stored, err := c.store.GetEpic(ctx, parsed.Title)
	if errors.Is(err, ErrNotFound) {
		return c.setupEpic(ctx, parsed)
	}
	if err != nil {
		return branchError(err), branchSkipped("epic lookup failed"), nil, nil
	}

	found := -1
	for i := range stored.Tasks {
		if stored.Tasks[i].Title == oldTitle {
			found = i
			break
		}
	}
	if found < 0 {
		return branchOK(), branchSkipped(fmt.Sprintf("no task titled %q", oldTitle)), nil, nil
	}

	var m Mutation
	if newTitle == "" {
		task := stored.Tasks[found]
		stored.Tasks = append(stored.Tasks[:found], stored.Tasks[found+1:]...)
		m = Mutation{Kind: TaskDelete, Epic: stored, Task: &task}
	} else {
		stored.Tasks[found].Title = newTitle
		task := stored.Tasks[found]
		m = Mutation{Kind: TaskUpdate, Epic: stored, Task: &task}
	}

	resp := c.relayLogged(ctx, m)
	ApplyRelayResponse(stored, m, resp)
	if err := c.store.UpdateEpic(ctx, stored); err != nil {
		return branchError(err), branchError(err), nil, err
	}
	c.publish(m)
	status := branchOK()
	if resp == nil {
		status = branchDegraded("tracker relay failed")
	}
	return branchOK(), status, []MutationKind{m.Kind}, nil
}

// syncEpicBlock re-parses the full Epic block and rewrites the stored
// record unconditionally. The block is small and carries no cell-level
// diff signal worth computing.
func (c *Coordinator) syncEpicBlock(ctx context.Context, spreadsheetID string) (BranchStatus, BranchStatus, []MutationKind, error) {
	parsed, err := c.fetchEpicBlock(ctx, spreadsheetID)
	if err != nil {
		return branchError(err), branchSkipped("epic sheet unusable"), nil, nil
	}
	stored, err := c.store.GetEpic(ctx, parsed.Title)
	if errors.Is(err, ErrNotFound) {
		return c.setupEpic(ctx, parsed)
	}
	if err != nil {
		return branchError(err), branchSkipped("epic lookup failed"), nil, nil
	}

	next := *stored
	next.Problem = parsed.Problem
	next.Feature = parsed.Feature
	next.Value = parsed.Value
	next.RepoOwner = parsed.RepoOwner
	next.RepoName = parsed.RepoName
	next.InstallationID = parsed.InstallationID
	next.SpreadsheetID = parsed.SpreadsheetID

	m := Mutation{Kind: EpicUpdate, Epic: &next}
	resp := c.relayLogged(ctx, m)
	if err := c.store.UpdateEpic(ctx, &next); err != nil {
		return branchError(err), branchSkipped("epic update failed"), nil, err
	}
	c.publish(m)
	status := branchOK()
	if resp == nil {
		status = branchDegraded("tracker relay failed")
	}
	return status, branchSkipped("no task change in event"), []MutationKind{EpicUpdate}, nil
}

// syncEventUser creates the acting user on first sight. An existing
// user is left untouched, there is no update-on-existing in this path.
func (c *Coordinator) syncEventUser(ctx context.Context, u *EventUser) BranchStatus {
	if u == nil || strings.TrimSpace(u.Nickname) == "" {
		return branchSkipped("no user in event")
	}
	name := strings.TrimSpace(u.Nickname)
	if _, err := c.store.GetUser(ctx, name); err == nil {
		return branchOK()
	} else if !errors.Is(err, ErrNotFound) {
		return branchError(err)
	}
	if err := c.store.CreateUser(ctx, &User{Name: name, Email: u.Email}); err != nil {
		return branchError(err)
	}
	return branchOK()
}

// AddTask creates a task under an epic from an API request: the tracker
// is told first so its assigned IDs land on the row appended to the
// sheet, then the store record is updated. A failed relay degrades the
// tracker linkage but never blocks the sheet or store writes.
func (c *Coordinator) AddTask(ctx context.Context, epicTitle string, task Task) (Task, error) {
	if task.Title == "" {
		return Task{}, fmt.Errorf("task requires a title: %w", ErrInvalidInput)
	}
	epic, err := c.store.GetEpic(ctx, epicTitle)
	if err != nil {
		return Task{}, err
	}
	if _, exists := epic.TaskByTitle(task.Title); exists {
		return Task{}, &ConflictError{Kind: "task", Key: task.Title}
	}
	epic.Tasks = append(epic.Tasks, task)

	m := Mutation{Kind: TaskAdd, Epic: epic, Task: &task}
	resp := c.relayLogged(ctx, m)
	ApplyRelayResponse(epic, m, resp)
	created, _ := epic.TaskByTitle(task.Title)

	if c.engine != nil {
		if err := c.engine.AppendTaskRow(ctx, epic.SpreadsheetID, created); err != nil {
			return Task{}, err
		}
	}
	if err := c.store.UpdateEpic(ctx, epic); err != nil {
		return Task{}, err
	}
	c.publish(m)
	return created, nil
}

// UpdateTask rewrites a task identified by tracker ID, or by title when
// the ID is zero, propagating to tracker, sheet and store.
func (c *Coordinator) UpdateTask(ctx context.Context, epicTitle string, task Task) (Task, error) {
	epic, err := c.store.GetEpic(ctx, epicTitle)
	if err != nil {
		return Task{}, err
	}
	found := -1
	for i := range epic.Tasks {
		if task.TaskID != 0 && epic.Tasks[i].TaskID == task.TaskID {
			found = i
			break
		}
		if task.TaskID == 0 && epic.Tasks[i].Title == task.Title {
			found = i
			break
		}
	}
	if found < 0 {
		return Task{}, fmt.Errorf("task %q: %w", task.Title, ErrNotFound)
	}
	if task.TaskID == 0 {
		task.TaskID = epic.Tasks[found].TaskID
	}
	if task.IssueID == 0 {
		task.IssueID = epic.Tasks[found].IssueID
	}
	epic.Tasks[found] = task

	m := Mutation{Kind: TaskUpdate, Epic: epic, Task: &task}
	resp := c.relayLogged(ctx, m)
	ApplyRelayResponse(epic, m, resp)

	if c.engine != nil {
		if err := c.engine.UpdateTaskRow(ctx, epic.SpreadsheetID, epic.Tasks[found]); err != nil {
			return Task{}, err
		}
	}
	if err := c.store.UpdateEpic(ctx, epic); err != nil {
		return Task{}, err
	}
	c.publish(m)
	return epic.Tasks[found], nil
}

// DeleteTask removes a task by tracker ID, or by title when the ID is
// zero.
func (c *Coordinator) DeleteTask(ctx context.Context, epicTitle string, taskID int, title string) error {
	epic, err := c.store.GetEpic(ctx, epicTitle)
	if err != nil {
		return err
	}
	found := -1
	for i := range epic.Tasks {
		if taskID != 0 && epic.Tasks[i].TaskID == taskID {
			found = i
			break
		}
		if taskID == 0 && epic.Tasks[i].Title == title {
			found = i
			break
		}
	}
	if found < 0 {
		return fmt.Errorf("task %q: %w", title, ErrNotFound)
	}
	task := epic.Tasks[found]
	epic.Tasks = append(epic.Tasks[:found], epic.Tasks[found+1:]...)

	m := Mutation{Kind: TaskDelete, Epic: epic, Task: &task}
	c.relayLogged(ctx, m)
	if c.engine != nil {
		if err := c.engine.DeleteTaskRow(ctx, epic.SpreadsheetID, task); err != nil {
			return err
		}
	}
	if err := c.store.UpdateEpic(ctx, epic); err != nil {
		return err
	}
	c.publish(m)
	return nil
}

// CreateEpic registers an epic from an API request and announces it to
// the tracker.
func (c *Coordinator) CreateEpic(ctx context.Context, epic *Epic) error {
	if epic == nil || epic.Title == "" {
		return fmt.Errorf("epic requires a title: %w", ErrInvalidInput)
	}
	m := Mutation{Kind: EpicSetup, Epic: epic}
	resp := c.relayLogged(ctx, m)
	ApplyRelayResponse(epic, m, resp)
	if err := c.store.CreateEpic(ctx, epic); err != nil {
		return err
	}
	c.publish(m)
	return nil
}

// UpdateEpic rewrites an epic record and announces the change.
func (c *Coordinator) UpdateEpic(ctx context.Context, epic *Epic) error {
	if epic == nil || epic.Title == "" {
		return fmt.Errorf("epic requires a title: %w", ErrInvalidInput)
	}
	m := Mutation{Kind: EpicUpdate, Epic: epic}
	c.relayLogged(ctx, m)
	if err := c.store.UpdateEpic(ctx, epic); err != nil {
		return err
	}
	c.publish(m)
	return nil
}

// DeleteEpic announces the teardown, then drops the record.
func (c *Coordinator) DeleteEpic(ctx context.Context, title string) error {
	epic, err := c.store.GetEpic(ctx, title)
	if err != nil {
		return err
	}
	m := Mutation{Kind: EpicDelete, Epic: epic}
	c.relayLogged(ctx, m)
	if err := c.store.DeleteEpic(ctx, title); err != nil {
		return err
	}
	c.publish(m)
	return nil
}
