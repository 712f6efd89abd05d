// Package sheetsync keeps a spreadsheet, a document store and an issue
// tracker describing the same work items in agreement. Spreadsheet
// change notifications flow in through the coordinator; differences are
// persisted, written back to the sheet and relayed to per-kind tracker
// endpoints.
package sheetsync

import "fmt"

// Priority is the constrained vocabulary for task priority cells.
var Priorities = []string{"Low", "Medium", "High", "Critical"}

// Task is one tracked work item, one sheet row.
type Task struct {
	Title       string `json:"title"`
	Comments    string `json:"comments,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	StoryPoint  int    `json:"storyPoint"`
	TaskID      int    `json:"taskID"`
	IssueID     int    `json:"issueID,omitempty"`
}

// Epic is the project-level record: the positional fields parsed from
// the Epic sheet plus the task list and tracker linkage.
type Epic struct {
	Title          string `json:"title"`
	Problem        string `json:"problem"`
	Feature        string `json:"feature"`
	Value          string `json:"value"`
	Tasks          []Task `json:"tasks"`
	Users          []User `json:"users,omitempty"`
	SpreadsheetID  string `json:"spreadsheetID,omitempty"`
	RepoOwner      string `json:"repoOwner,omitempty"`
	RepoName       string `json:"repoName,omitempty"`
	InstallationID int64  `json:"installationID,omitempty"`
}

// TaskByID returns the task with the given tracker-assigned ID.
func (e *Epic) TaskByID(taskID int) (Task, bool) {
	for _, task := range e.Tasks {
		if task.TaskID == taskID {
			return task, true
		}
	}
	return Task{}, false
}

// TaskByTitle returns the task with the given title.
func (e *Epic) TaskByTitle(title string) (Task, bool) {
	for _, task := range e.Tasks {
		if task.Title == title {
			return task, true
		}
	}
	return Task{}, false
}

// User is a participant record.
type User struct {
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Role  string   `json:"role,omitempty"`
	Epics []string `json:"epics,omitempty"`
}

// MutationKind discriminates the six relay-visible change kinds.
type MutationKind string

const (
	EpicSetup  MutationKind = "epic_setup"
	EpicUpdate MutationKind = "epic_update"
	EpicDelete MutationKind = "epic_delete"
	TaskAdd    MutationKind = "task_add"
	TaskUpdate MutationKind = "task_update"
	TaskDelete MutationKind = "task_delete"
)

func (k MutationKind) String() string { return string(k) }

// IsTaskKind reports whether the mutation targets a single task rather
// than a whole epic.
func (k MutationKind) IsTaskKind() bool {
	switch k {
	case TaskAdd, TaskUpdate, TaskDelete:
		return true
	default:
		return false
	}
}

// Mutation is one detected change. Kind selects which payload fields
// are meaningful: task kinds carry Task plus the owning Epic, epic
// kinds carry Epic alone.
type Mutation struct {
	Kind MutationKind `json:"kind"`
	Epic *Epic        `json:"epic,omitempty"`
	Task *Task        `json:"task,omitempty"`
}

// Validate checks the kind/payload pairing before any I/O happens.
func (m Mutation) Validate() error {
	if m.Epic == nil {
		return fmt.Errorf("%s mutation has no epic: %w", m.Kind, ErrInvalidPairing)
	}
	if m.Kind.IsTaskKind() && m.Task == nil {
		return fmt.Errorf("%s mutation has no task: %w", m.Kind, ErrInvalidPairing)
	}
	if !m.Kind.IsTaskKind() && m.Task != nil {
		return fmt.Errorf("%s mutation carries a task payload: %w", m.Kind, ErrInvalidPairing)
	}
	return nil
}
