package sheetsync

import (
	"fmt"

	"github.com/sheetsync/sheetsync/internal/sheet"
)

// Task column headers as they appear on the tracking sheet, normalized.
const (
	headerTitle       = "title"
	headerComments    = "duplicate / comments"
	headerDescription = "description"
	headerPriority    = "priority"
	headerStoryPoint  = "story point"
	headerTaskID      = "task id"
	headerIssueID     = "issue id"
)

// TaskHeaders is the canonical column order used when a fresh tracking
// sheet is laid out.
var TaskHeaders = []string{
	headerTitle, headerComments, headerDescription,
	headerPriority, headerStoryPoint, headerTaskID, headerIssueID,
}

// TaskFromRow maps a sheet row onto a Task. Rows without a usable title
// are reported as not-ok and skipped by callers. Integer cells feed the
// numeric fields directly; a non-numeric story point falls back to zero.
func TaskFromRow(row sheet.Row) (Task, bool) {
	title := row.Value(headerTitle)
	if title.Absent() {
		return Task{}, false
	}
	task := Task{
		Title:       title.String(),
		Comments:    row.Value(headerComments).String(),
		Description: row.Value(headerDescription).String(),
		Priority:    row.Value(headerPriority).String(),
	}
	if cell := row.Value(headerStoryPoint); cell.Kind == sheet.CellInteger {
		task.StoryPoint = cell.Int
	}
	if cell := row.Value(headerTaskID); cell.Kind == sheet.CellInteger {
		task.TaskID = cell.Int
	}
	if cell := row.Value(headerIssueID); cell.Kind == sheet.CellInteger {
		task.IssueID = cell.Int
	}
	return task, true
}

// TasksFromSheet maps every usable row of a tracking sheet.
func TasksFromSheet(s sheet.Sheet) []Task {
	tasks := make([]Task, 0, len(s.Rows))
	for _, row := range s.Rows {
		if task, ok := TaskFromRow(row); ok {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// taskCellBuilders maps a normalized header to the cell written for it.
// The table is keyed by name, so the projection follows whatever column
// order the sheet currently has.
var taskCellBuilders = map[string]func(Task) sheet.CellData{
	headerTitle:       func(t Task) sheet.CellData { return sheet.TextCell(t.Title) },
	headerComments:    func(t Task) sheet.CellData { return sheet.TextCell(t.Comments) },
	headerDescription: func(t Task) sheet.CellData { return sheet.TextCell(t.Description) },
	headerPriority:    func(t Task) sheet.CellData { return sheet.DropdownCell(t.Priority, Priorities) },
	headerStoryPoint:  func(t Task) sheet.CellData { return sheet.NumberCell(t.StoryPoint) },
	headerTaskID:      func(t Task) sheet.CellData { return sheet.NumberCell(t.TaskID) },
	headerIssueID: func(t Task) sheet.CellData {
		if t.IssueID == 0 {
			return sheet.TextCell("")
		}
		return sheet.NumberCell(t.IssueID)
	},
}

// TaskCellValues projects a task across the given normalized header
// order. Headers with no mapped field produce empty cells so the row
// shape always matches the sheet.
func TaskCellValues(task Task, headers []string) []sheet.CellData {
	values := make([]sheet.CellData, len(headers))
	for i, header := range headers {
		if build, ok := taskCellBuilders[header]; ok {
			values[i] = build(task)
		} else {
			values[i] = sheet.TextCell("")
		}
	}
	return values
}

// epicField is one positional binding on the Epic sheet: the 1-based
// sheet row whose column B carries the field.
type epicField struct {
	name     string
	sheetRow int
	assign   func(*Epic, sheet.Cell) error
}

// epicSchema binds each Epic field to its fixed position. The layout
// interleaves labels and values, which is why the rows are not
// contiguous.
var epicSchema = []epicField{
	{"title", 2, func(e *Epic, c sheet.Cell) error { e.Title = c.String(); return nil }},
	{"problem", 3, func(e *Epic, c sheet.Cell) error { e.Problem = c.String(); return nil }},
	{"feature", 4, func(e *Epic, c sheet.Cell) error { e.Feature = c.String(); return nil }},
	{"value", 5, func(e *Epic, c sheet.Cell) error { e.Value = c.String(); return nil }},
	{"repoOwner", 8, func(e *Epic, c sheet.Cell) error { e.RepoOwner = c.String(); return nil }},
	{"repoName", 9, func(e *Epic, c sheet.Cell) error { e.RepoName = c.String(); return nil }},
	{"installationID", 10, func(e *Epic, c sheet.Cell) error {
		if c.Kind != sheet.CellInteger {
			return fmt.Errorf("installation ID %q is not numeric: %w", c.String(), ErrInvalidInput)
		}
		e.InstallationID = int64(c.Int)
		return nil
	}},
}

const epicValueColumn = 1 // column B

// EpicFromGrid parses the positional Epic sheet layout from a raw grid.
// The grid includes every row starting at sheet row 1. Each schema field
// must be present and non-blank.
func EpicFromGrid(grid [][]string) (Epic, error) {
	var epic Epic
	for _, field := range epicSchema {
		cellRef := fmt.Sprintf("B%d", field.sheetRow)
		rowIdx := field.sheetRow - 1
		if rowIdx >= len(grid) || epicValueColumn >= len(grid[rowIdx]) {
			return Epic{}, &MissingFieldError{Field: field.name, Cell: cellRef}
		}
		cell := sheet.Coerce(grid[rowIdx][epicValueColumn])
		if cell.Absent() {
			return Epic{}, &MissingFieldError{Field: field.name, Cell: cellRef}
		}
		if err := field.assign(&epic, cell); err != nil {
			return Epic{}, fmt.Errorf("epic cell %s: %w", cellRef, err)
		}
	}
	return epic, nil
}
