package sheetsync

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sheetsync/sheetsync/internal/sheet"
)

// fakeSheetService serves canned grids keyed by sheet name and records
// every batch update.
type fakeSheetService struct {
	mu       sync.Mutex
	grids    map[string]sheet.Grid
	sheetIDs map[string]int64
	batches  [][]sheet.Request
	batchErr func(call int) error
}

func newFakeSheetService() *fakeSheetService {
	return &fakeSheetService{
		grids:    make(map[string]sheet.Grid),
		sheetIDs: make(map[string]int64),
	}
}

func (f *fakeSheetService) setGrid(sheetName string, headers []string, rows [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grids[strings.ToLower(sheetName)] = sheet.Grid{Headers: headers, Rows: rows}
	if _, ok := f.sheetIDs[strings.ToLower(sheetName)]; !ok {
		f.sheetIDs[strings.ToLower(sheetName)] = int64(len(f.sheetIDs) + 100)
	}
}

func sheetNameFromRange(rangeSpec string) string {
	if i := strings.Index(rangeSpec, "!"); i >= 0 {
		return strings.Trim(rangeSpec[:i], "'")
	}
	return ""
}

func (f *fakeSheetService) FetchGrid(ctx context.Context, spreadsheetID, rangeSpec string) (sheet.Grid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	grid, ok := f.grids[strings.ToLower(sheetNameFromRange(rangeSpec))]
	if !ok {
		return sheet.Grid{}, fmt.Errorf("no sheet for range %q", rangeSpec)
	}
	return grid, nil
}

func (f *fakeSheetService) BatchUpdate(ctx context.Context, spreadsheetID string, requests []sheet.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := len(f.batches)
	f.batches = append(f.batches, requests)
	if f.batchErr != nil {
		return f.batchErr(call)
	}
	return nil
}

func (f *fakeSheetService) SheetID(ctx context.Context, spreadsheetID, sheetName string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.sheetIDs[strings.ToLower(sheetName)]
	if !ok {
		return 0, fmt.Errorf("no sheet %q: %w", sheetName, sheet.ErrNotFound)
	}
	return id, nil
}

func (f *fakeSheetService) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeSheetService) lastBatch() []sheet.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[len(f.batches)-1]
}
