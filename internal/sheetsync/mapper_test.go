package sheetsync

import (
	"errors"
	"testing"

	"github.com/sheetsync/sheetsync/internal/sheet"
)

func trackingSheet(rows [][]string) sheet.Sheet {
	headers := []string{"Title", "Duplicate / Comments", "Description", "Priority", "Story Point", "Task ID", "Issue ID"}
	return sheet.Build(headers, rows)
}

func TestTaskFromRow(t *testing.T) {
	s := trackingSheet([][]string{
		{"Fix login", "dup of #4", "session bug", "High", "3", "11", "101"},
		{"", "x", "no title means no task", "Low", "1", "12", ""},
		{"Sparse task"},
	})

	row, _ := s.Row(0)
	task, ok := TaskFromRow(row)
	if !ok {
		t.Fatalf("expected a task from a titled row")
	}
	want := Task{
		Title: "Fix login", Comments: "dup of #4", Description: "session bug",
		Priority: "High", StoryPoint: 3, TaskID: 11, IssueID: 101,
	}
	if task != want {
		t.Fatalf("TaskFromRow = %+v, want %+v", task, want)
	}

	row, _ = s.Row(1)
	if _, ok := TaskFromRow(row); ok {
		t.Fatalf("untitled row should not produce a task")
	}

	row, _ = s.Row(2)
	task, ok = TaskFromRow(row)
	if !ok {
		t.Fatalf("sparse row with a title should produce a task")
	}
	if task.StoryPoint != 0 || task.TaskID != 0 {
		t.Fatalf("absent numeric cells should default to zero, got %+v", task)
	}
}

func TestTasksFromSheetSkipsUntitled(t *testing.T) {
	s := trackingSheet([][]string{
		{"Fix login", "", "", "High", "3", "11", ""},
		{"", "", "", "", "", "", ""},
		{"Add search", "", "", "Low", "2", "12", ""},
	})
	tasks := TasksFromSheet(s)
	if len(tasks) != 2 {
		t.Fatalf("TasksFromSheet = %d tasks, want 2", len(tasks))
	}
}

func TestTaskRoundTripsThroughCells(t *testing.T) {
	original := Task{
		Title: "Fix login", Comments: "dup of #4", Description: "session bug",
		Priority: "High", StoryPoint: 3, TaskID: 11, IssueID: 101,
	}
	headers := []string{"title", "duplicate / comments", "description", "priority", "story point", "task id", "issue id"}
	cells := TaskCellValues(original, headers)

	raw := make([]string, len(cells))
	for i, cell := range cells {
		if cell.UserEnteredValue == nil {
			continue
		}
		if cell.UserEnteredValue.StringValue != nil {
			raw[i] = *cell.UserEnteredValue.StringValue
		}
		if cell.UserEnteredValue.NumberValue != nil {
			raw[i] = sheet.Cell{Kind: sheet.CellInteger, Int: int(*cell.UserEnteredValue.NumberValue)}.String()
		}
	}
	s := sheet.Build(headers, [][]string{raw})
	row, _ := s.Row(0)
	got, ok := TaskFromRow(row)
	if !ok {
		t.Fatalf("round-tripped row produced no task")
	}
	if got != original {
		t.Fatalf("round trip = %+v, want %+v", got, original)
	}
}

func TestTaskCellValuesFollowsHeaderOrder(t *testing.T) {
	task := Task{Title: "Fix login", Priority: "High", StoryPoint: 3}
	headers := []string{"story point", "unrelated", "title", "priority"}
	cells := TaskCellValues(task, headers)
	if len(cells) != 4 {
		t.Fatalf("len(cells) = %d", len(cells))
	}
	if cells[0].UserEnteredValue == nil || cells[0].UserEnteredValue.NumberValue == nil || *cells[0].UserEnteredValue.NumberValue != 3 {
		t.Fatalf("reordered story point cell = %+v", cells[0])
	}
	if cells[1].UserEnteredValue != nil {
		t.Fatalf("unmapped header should produce an empty cell, got %+v", cells[1])
	}
	if cells[2].UserEnteredValue == nil || *cells[2].UserEnteredValue.StringValue != "Fix login" {
		t.Fatalf("reordered title cell = %+v", cells[2])
	}
	if cells[3].DataValidation == nil || cells[3].DataValidation.Condition.Type != "ONE_OF_LIST" {
		t.Fatalf("priority cell should carry dropdown validation, got %+v", cells[3])
	}
	if got := len(cells[3].DataValidation.Condition.Values); got != len(Priorities) {
		t.Fatalf("dropdown has %d choices, want %d", got, len(Priorities))
	}
}

func epicGrid() [][]string {
	return [][]string{
		{"Epic", ""},
		{"Title", "Login revamp"},
		{"Problem", "Old flow times out"},
		{"Feature", "Session refresh"},
		{"Value", "Fewer dropped sessions"},
		{"", ""},
		{"", ""},
		{"Repo Owner", "acme"},
		{"Repo Name", "web"},
		{"Installation", "424242"},
	}
}

func TestEpicFromGrid(t *testing.T) {
	epic, err := EpicFromGrid(epicGrid())
	if err != nil {
		t.Fatalf("EpicFromGrid: %v", err)
	}
	if epic.Title != "Login revamp" || epic.Problem != "Old flow times out" {
		t.Fatalf("epic = %+v", epic)
	}
	if epic.RepoOwner != "acme" || epic.RepoName != "web" || epic.InstallationID != 424242 {
		t.Fatalf("repo linkage = %+v", epic)
	}
}

func TestEpicFromGridMissingField(t *testing.T) {
	grid := epicGrid()
	grid[2][1] = "   " // problem cell blank
	_, err := EpicFromGrid(grid)
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("blank cell should be ErrMissingField, got %v", err)
	}
	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("error should be a MissingFieldError, got %T", err)
	}
	if missing.Field != "problem" || missing.Cell != "B3" {
		t.Fatalf("missing = %+v", missing)
	}
}

func TestEpicFromGridShortGrid(t *testing.T) {
	_, err := EpicFromGrid(epicGrid()[:6])
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("truncated grid should be ErrMissingField, got %v", err)
	}
}

func TestEpicFromGridNonNumericInstallation(t *testing.T) {
	grid := epicGrid()
	grid[9][1] = "not-a-number"
	_, err := EpicFromGrid(grid)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("non-numeric installation should be ErrInvalidInput, got %v", err)
	}
}
