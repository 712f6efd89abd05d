package sheet

// Request is a single batch-update operation against a spreadsheet.
// Exactly one field is set; the zero fields are omitted on the wire.
type Request struct {
	AppendCells               *AppendCellsRequest               `json:"appendCells,omitempty"`
	UpdateCells               *UpdateCellsRequest               `json:"updateCells,omitempty"`
	DeleteDimension           *DeleteDimensionRequest           `json:"deleteDimension,omitempty"`
	UpdateDimensionProperties *UpdateDimensionPropertiesRequest `json:"updateDimensionProperties,omitempty"`
}

type AppendCellsRequest struct {
	SheetID int64     `json:"sheetId"`
	Rows    []RowData `json:"rows"`
	Fields  string    `json:"fields"`
}

type UpdateCellsRequest struct {
	Start  GridCoordinate `json:"start"`
	Rows   []RowData      `json:"rows"`
	Fields string         `json:"fields"`
}

type DeleteDimensionRequest struct {
	Range DimensionRange `json:"range"`
}

type UpdateDimensionPropertiesRequest struct {
	Range      DimensionRange      `json:"range"`
	Properties DimensionProperties `json:"properties"`
	Fields     string              `json:"fields"`
}

type GridCoordinate struct {
	SheetID     int64 `json:"sheetId"`
	RowIndex    int   `json:"rowIndex"`
	ColumnIndex int   `json:"columnIndex"`
}

type DimensionRange struct {
	SheetID    int64  `json:"sheetId"`
	Dimension  string `json:"dimension"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
}

type DimensionProperties struct {
	PixelSize int `json:"pixelSize"`
}

type RowData struct {
	Values []CellData `json:"values"`
}

// CellData is one cell write: a value plus optional data validation.
type CellData struct {
	UserEnteredValue *ExtendedValue  `json:"userEnteredValue,omitempty"`
	DataValidation   *DataValidation `json:"dataValidation,omitempty"`
}

type ExtendedValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	NumberValue *float64 `json:"numberValue,omitempty"`
}

type DataValidation struct {
	Condition    BooleanCondition `json:"condition"`
	ShowCustomUI bool             `json:"showCustomUi"`
	Strict       bool             `json:"strict"`
}

type BooleanCondition struct {
	Type   string           `json:"type"`
	Values []ConditionValue `json:"values,omitempty"`
}

type ConditionValue struct {
	UserEnteredValue string `json:"userEnteredValue"`
}

// TextCell builds a plain text cell write. An empty string produces an
// empty cell, which is how unmapped headers stay blank on append.
func TextCell(value string) CellData {
	if value == "" {
		return CellData{}
	}
	return CellData{UserEnteredValue: &ExtendedValue{StringValue: &value}}
}

// NumberCell builds a numeric cell write.
func NumberCell(value int) CellData {
	f := float64(value)
	return CellData{UserEnteredValue: &ExtendedValue{NumberValue: &f}}
}

// DropdownCell builds a constrained-choice cell: the selected value
// plus a one-of-list validation seeded with the full vocabulary.
func DropdownCell(selected string, choices []string) CellData {
	values := make([]ConditionValue, len(choices))
	for i, choice := range choices {
		values[i] = ConditionValue{UserEnteredValue: choice}
	}
	cell := TextCell(selected)
	cell.DataValidation = &DataValidation{
		Condition:    BooleanCondition{Type: "ONE_OF_LIST", Values: values},
		ShowCustomUI: true,
		Strict:       true,
	}
	return cell
}
