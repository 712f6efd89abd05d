// Package sheet parses raw spreadsheet grids into header-addressable
// tables and models the batch-update requests written back to them.
package sheet

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrOutOfRange = errors.New("out of range")
)

// BlankHeader is the sentinel assigned to unnamed columns. Two unnamed
// columns collapse onto the same key, later one wins.
const BlankHeader = "blank"

// HeaderRows is the number of header rows above the data region. Row
// indices are 1-based as they appear in the sheet, so the first data
// row is index 2.
const HeaderRows = 1

// RangeError reports an index access outside the table bounds, keeping
// the attempted index and the actual bound.
type RangeError struct {
	What  string
	Index int
	Bound int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s index %d out of range (have %d)", e.What, e.Index, e.Bound)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrOutOfRange
}

// CellKind discriminates the three cell value states. Absent is distinct
// from the empty string: an all-whitespace input collapses to absent.
type CellKind int

const (
	CellAbsent CellKind = iota
	CellString
	CellInteger
)

// Cell is a single parsed cell value.
type Cell struct {
	Kind CellKind
	Text string
	Int  int
}

// Coerce parses a raw cell string. The value is trimmed; empty becomes
// absent; a string of only ASCII digits 0-9 becomes an integer (no
// signs, decimals or unicode digits); anything else stays a string.
func Coerce(raw string) Cell {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Cell{Kind: CellAbsent}
	}
	if n, ok := parseASCIIDigits(trimmed); ok {
		return Cell{Kind: CellInteger, Int: n}
	}
	return Cell{Kind: CellString, Text: trimmed}
}

const maxInt = int(^uint(0) >> 1)

func parseASCIIDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		digit := int(r - '0')
		// Digit strings too long for int stay strings instead of
		// wrapping into garbage.
		if n > (maxInt-digit)/10 {
			return 0, false
		}
		n = n*10 + digit
	}
	return n, true
}

// Absent reports whether the cell carries no value.
func (c Cell) Absent() bool {
	return c.Kind == CellAbsent
}

// String renders the cell for comparisons and logging. Absent renders
// as the empty string.
func (c Cell) String() string {
	switch c.Kind {
	case CellInteger:
		return fmt.Sprintf("%d", c.Int)
	case CellString:
		return c.Text
	default:
		return ""
	}
}

// Equal compares two cells by kind and value.
func (c Cell) Equal(other Cell) bool {
	if c.Kind != other.Kind {
		return false
	}
	switch c.Kind {
	case CellInteger:
		return c.Int == other.Int
	case CellString:
		return c.Text == other.Text
	default:
		return true
	}
}

// NormalizeHeader case-folds and trims a header name. Empty input maps
// to the BlankHeader sentinel. Idempotent; every column lookup goes
// through this form, which makes the mapping order-independent and
// tolerant of case changes (but not of renames).
func NormalizeHeader(header string) string {
	normalized := strings.ToLower(strings.TrimSpace(header))
	if normalized == "" {
		return BlankHeader
	}
	return normalized
}

// Row is a single data row keyed by normalized header name. Index is
// the 1-based position as it appears in the sheet, preserved for
// row-targeted writes.
type Row struct {
	Index int
	cells map[string]Cell
}

// Cell returns the value under the given header. The lookup is
// normalized, so Cell("Title") and Cell(" title ") hit the same column.
func (r Row) Cell(header string) (Cell, error) {
	cell, ok := r.cells[NormalizeHeader(header)]
	if !ok {
		return Cell{}, fmt.Errorf("row %d has no column %q: %w", r.Index, header, ErrNotFound)
	}
	return cell, nil
}

// Has reports whether the row carries the given header.
func (r Row) Has(header string) bool {
	_, ok := r.cells[NormalizeHeader(header)]
	return ok
}

// Value is like Cell but returns an absent cell for unknown headers.
func (r Row) Value(header string) Cell {
	return r.cells[NormalizeHeader(header)]
}

// Column is a vertical slice of the table under one header.
type Column struct {
	Header string
	Values []Cell
}

// Value returns the cell at the given zero-based position.
func (c Column) Value(i int) (Cell, error) {
	if i < 0 || i >= len(c.Values) {
		return Cell{}, &RangeError{What: "column " + c.Header + " row", Index: i, Bound: len(c.Values)}
	}
	return c.Values[i], nil
}

// Sheet is a parsed grid: ordered normalized headers plus data rows.
type Sheet struct {
	Headers []string
	Rows    []Row
}

// Build parses a header row plus raw data rows into a Sheet. Every raw
// cell goes through Coerce. Rows are zipped to the headers by position:
// short rows are padded with absent cells, extra cells are dropped.
// After zipping the row is re-keyed by normalized header name; when two
// raw columns normalize to the same header the later one wins silently.
func Build(headers []string, rawRows [][]string) Sheet {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = NormalizeHeader(h)
	}
	rows := make([]Row, 0, len(rawRows))
	for i, raw := range rawRows {
		cells := make(map[string]Cell, len(normalized))
		for j, header := range normalized {
			if j < len(raw) {
				cells[header] = Coerce(raw[j])
			} else {
				cells[header] = Cell{Kind: CellAbsent}
			}
		}
		rows = append(rows, Row{Index: i + HeaderRows + 1, cells: cells})
	}
	return Sheet{Headers: normalized, Rows: rows}
}

// Row returns the data row at the given zero-based position.
func (s Sheet) Row(i int) (Row, error) {
	if i < 0 || i >= len(s.Rows) {
		return Row{}, &RangeError{What: "row", Index: i, Bound: len(s.Rows)}
	}
	return s.Rows[i], nil
}

// Has reports whether the sheet carries the given header.
func (s Sheet) Has(header string) bool {
	header = NormalizeHeader(header)
	for _, h := range s.Headers {
		if h == header {
			return true
		}
	}
	return false
}

// Column returns the column under the given header, falling back to the
// optional alternative headers in order when the first is missing.
func (s Sheet) Column(header string, fallbacks ...string) (Column, error) {
	normalized := NormalizeHeader(header)
	if !s.Has(normalized) {
		if len(fallbacks) > 0 {
			return s.Column(fallbacks[0], fallbacks[1:]...)
		}
		return Column{}, fmt.Errorf("sheet has no column %q: %w", header, ErrNotFound)
	}
	values := make([]Cell, len(s.Rows))
	for i, row := range s.Rows {
		values[i] = row.Value(normalized)
	}
	return Column{Header: normalized, Values: values}, nil
}

// RowIndexWhere returns the sheet index (1-based, header offset
// included) of the first row whose cell under the given header equals
// value. Linear scan, first match.
func (s Sheet) RowIndexWhere(header string, value Cell) (int, error) {
	normalized := NormalizeHeader(header)
	if !s.Has(normalized) {
		return 0, fmt.Errorf("sheet has no column %q: %w", header, ErrNotFound)
	}
	for _, row := range s.Rows {
		if row.Value(normalized).Equal(value) {
			return row.Index, nil
		}
	}
	return 0, fmt.Errorf("no row with %q = %q: %w", header, value.String(), ErrNotFound)
}

// HeaderIndex returns the zero-based column position of a header.
func (s Sheet) HeaderIndex(header string) (int, error) {
	normalized := NormalizeHeader(header)
	for i, h := range s.Headers {
		if h == normalized {
			return i, nil
		}
	}
	return 0, fmt.Errorf("sheet has no column %q: %w", header, ErrNotFound)
}

// HeaderLetter returns the A1-notation column letter (A through ZZ) of
// a header.
func (s Sheet) HeaderLetter(header string) (string, error) {
	i, err := s.HeaderIndex(header)
	if err != nil {
		return "", err
	}
	return ColumnLetter(i)
}

// ColumnLetter converts a zero-based column position to its A1-notation
// letter. Columns A through ZZ are addressable, a 702-column ceiling.
func ColumnLetter(i int) (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	if i < 0 || i >= 26*27 {
		return "", &RangeError{What: "column", Index: i, Bound: 26 * 27}
	}
	if i < 26 {
		return string(letters[i]), nil
	}
	return string(letters[i/26-1]) + string(letters[i%26]), nil
}

// RangeSpec builds an A1-notation range covering columns A through ZZ,
// rows unbounded unless endRow is positive: 'SheetName'!A1:ZZ.
func RangeSpec(sheetName string, endRow int) string {
	spec := "A1:ZZ"
	if endRow > 0 {
		spec = fmt.Sprintf("%s%d", spec, endRow)
	}
	if sheetName != "" {
		spec = fmt.Sprintf("'%s'!%s", sheetName, spec)
	}
	return spec
}
