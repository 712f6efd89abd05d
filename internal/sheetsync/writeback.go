package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sheetsync/sheetsync/internal/sheet"
)

// Logger is the minimal logging surface the engine needs. *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

const (
	defaultWriteAttempts = 5
	defaultRetryDelay    = 60 * time.Second
	taskRowHeightPixels  = 21
)

type EngineOptions struct {
	Service    sheet.Service
	SheetName  string
	Attempts   int
	RetryDelay time.Duration
	Logger     Logger
}

// Engine pushes task changes back to the tracking sheet. Every write is
// re-attempted a fixed number of times with a flat, cancellable delay
// between attempts; the sheet is re-fetched on each attempt so a retry
// sees the current layout.
type Engine struct {
	service    sheet.Service
	sheetName  string
	attempts   int
	retryDelay time.Duration
	logger     Logger
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("engine requires a sheet service: %w", ErrInvalidInput)
	}
	sheetName := opts.SheetName
	if sheetName == "" {
		sheetName = "Tasks"
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = defaultWriteAttempts
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Engine{
		service:    opts.Service,
		sheetName:  sheetName,
		attempts:   attempts,
		retryDelay: retryDelay,
		logger:     opts.Logger,
	}, nil
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// submit runs op up to the configured attempt count. The delay between
// attempts waits on the context, so cancellation interrupts it. Only
// transport-level failures are retried; a missing row or sheet will not
// appear by waiting.
func (e *Engine) submit(ctx context.Context, label string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, sheet.ErrNotFound) || errors.Is(lastErr, sheet.ErrOutOfRange) {
			return fmt.Errorf("%s: %w", label, lastErr)
		}
		e.logf("%s attempt %d/%d failed: %v", label, attempt, e.attempts, lastErr)
		if attempt == e.attempts {
			break
		}
		if err := waitContext(ctx, e.retryDelay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w: %w", label, e.attempts, ErrRetryExhausted, lastErr)
}

func waitContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) fetch(ctx context.Context, spreadsheetID string) (sheet.Sheet, int64, error) {
	parsed, err := sheet.Fetch(ctx, e.service, spreadsheetID, e.sheetName)
	if err != nil {
		return sheet.Sheet{}, 0, err
	}
	sheetID, err := e.service.SheetID(ctx, spreadsheetID, e.sheetName)
	if err != nil {
		return sheet.Sheet{}, 0, err
	}
	return parsed, sheetID, nil
}

// AppendTaskRow adds a task as a new row at the bottom of the tracking
// sheet and pins the new row to the standard height.
func (e *Engine) AppendTaskRow(ctx context.Context, spreadsheetID string, task Task) error {
	return e.submit(ctx, fmt.Sprintf("append task %q", task.Title), func(ctx context.Context) error {
		parsed, sheetID, err := e.fetch(ctx, spreadsheetID)
		if err != nil {
			return err
		}
		headers := parsed.Headers
		if len(headers) == 0 {
			headers = TaskHeaders
		}
		newRow := len(parsed.Rows) + sheet.HeaderRows
		requests := []sheet.Request{
			{AppendCells: &sheet.AppendCellsRequest{
				SheetID: sheetID,
				Rows:    []sheet.RowData{{Values: TaskCellValues(task, headers)}},
				Fields:  "userEnteredValue,dataValidation",
			}},
			{UpdateDimensionProperties: &sheet.UpdateDimensionPropertiesRequest{
				Range: sheet.DimensionRange{
					SheetID:    sheetID,
					Dimension:  "ROWS",
					StartIndex: newRow,
					EndIndex:   newRow + 1,
				},
				Properties: sheet.DimensionProperties{PixelSize: taskRowHeightPixels},
				Fields:     "pixelSize",
			}},
		}
		return e.service.BatchUpdate(ctx, spreadsheetID, requests)
	})
}

// locateTaskRow finds the 1-based sheet index of the task's row by
// scanning the title column. A renamed task no longer matches its sheet
// title, so the tracker ID column is the fallback before giving up.
func locateTaskRow(parsed sheet.Sheet, task Task) (int, error) {
	rowIndex, err := parsed.RowIndexWhere(headerTitle, sheet.Coerce(task.Title))
	if err == nil {
		return rowIndex, nil
	}
	if task.TaskID != 0 {
		if byID, idErr := parsed.RowIndexWhere(headerTaskID, sheet.Cell{Kind: sheet.CellInteger, Int: task.TaskID}); idErr == nil {
			return byID, nil
		}
	}
	return 0, err
}

// updatableHeaders are the columns rewritten on a task update, in the
// order they are emitted.
var updatableHeaders = []string{
	headerTitle, headerComments, headerTaskID,
	headerPriority, headerDescription, headerStoryPoint,
}

// UpdateTaskRow rewrites the cells of the task's row. Columns missing
// from the current sheet layout are skipped rather than failing the
// whole update.
func (e *Engine) UpdateTaskRow(ctx context.Context, spreadsheetID string, task Task) error {
	return e.submit(ctx, fmt.Sprintf("update task %q", task.Title), func(ctx context.Context) error {
		parsed, sheetID, err := e.fetch(ctx, spreadsheetID)
		if err != nil {
			return err
		}
		rowIndex, err := locateTaskRow(parsed, task)
		if err != nil {
			return err
		}
		var requests []sheet.Request
		for _, header := range updatableHeaders {
			colIndex, err := parsed.HeaderIndex(header)
			if err != nil {
				e.logf("update task %q: column %q missing, skipping", task.Title, header)
				continue
			}
			requests = append(requests, sheet.Request{UpdateCells: &sheet.UpdateCellsRequest{
				Start: sheet.GridCoordinate{
					SheetID:     sheetID,
					RowIndex:    rowIndex - 1,
					ColumnIndex: colIndex,
				},
				Rows:   []sheet.RowData{{Values: []sheet.CellData{taskCellBuilders[header](task)}}},
				Fields: "userEnteredValue,dataValidation",
			}})
		}
		if len(requests) == 0 {
			return fmt.Errorf("no updatable columns on sheet %q: %w", e.sheetName, ErrInvalidInput)
		}
		return e.service.BatchUpdate(ctx, spreadsheetID, requests)
	})
}

// DeleteTaskRow removes the task's row. An unresolvable sheet name is
// an error; rows are never deleted from a guessed sheet.
func (e *Engine) DeleteTaskRow(ctx context.Context, spreadsheetID string, task Task) error {
	return e.submit(ctx, fmt.Sprintf("delete task %q", task.Title), func(ctx context.Context) error {
		parsed, sheetID, err := e.fetch(ctx, spreadsheetID)
		if err != nil {
			return err
		}
		rowIndex, err := locateTaskRow(parsed, task)
		if err != nil {
			return err
		}
		requests := []sheet.Request{{DeleteDimension: &sheet.DeleteDimensionRequest{
			Range: sheet.DimensionRange{
				SheetID:    sheetID,
				Dimension:  "ROWS",
				StartIndex: rowIndex - 1,
				EndIndex:   rowIndex,
			},
		}}}
		return e.service.BatchUpdate(ctx, spreadsheetID, requests)
	})
}
