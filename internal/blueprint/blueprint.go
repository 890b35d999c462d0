// Package blueprint implements the template analyzer: a one-pass walk
// over a workbook that classifies every cell into a
// markers.CellContent and collects the repeat regions, required data names,
// and layout metadata every downstream component (position, formula,
// render) consumes instead of re-reading the workbook.
package blueprint

import (
	"github.com/jogakdal/tbeg/internal/markers"
)

// RowKind discriminates a row's role inside its sheet.
type RowKind int

const (
	// RowStatic is an ordinary row with no repeat region touching it.
	RowStatic RowKind = iota
	// RowRepeatAnchor is the first (template) row of a repeat region.
	RowRepeatAnchor
	// RowRepeatContinuation is a subsequent template row belonging to a
	// multi-row repeat region (e.g. a RIGHT-direction region spans one row
	// but multiple columns; a DOWN-direction region with a multi-row
	// template span has one anchor row and N-1 continuation rows).
	RowRepeatContinuation
)

// CellSpec is one analyzed cell.
type CellSpec struct {
	Ref     string // A1-style reference within the sheet, e.g. "B3"
	Col     int    // 1-based column number
	Content markers.CellContent
	StyleID int
}

// RowSpec is one analyzed row.
type RowSpec struct {
	Index    int // 1-based row number
	Kind     RowKind
	Cells    []CellSpec
	RegionID int // index into SheetSpec.RepeatRegions; -1 when Kind == RowStatic
	Height   float64
}

// RepeatRegionSpec is one declared repeat region: the
// anchor cell's RepeatMarker plus the template range it governs.
type RepeatRegionSpec struct {
	ID         int
	Sheet      string
	AnchorCell string
	Collection string
	Variable   string
	Direction  markers.Direction
	EmptyRange string

	// StartRow/EndRow/StartCol/EndCol bound the template range the region
	// expands (1-based, inclusive) — the Range argument of the marker,
	// resolved to coordinates.
	StartRow, EndRow, StartCol, EndCol int
}

// RequiredNames is every external name a workbook references, collected so
// a caller can validate a Provider up front instead of failing mid-render.
type RequiredNames struct {
	Variables   []string
	Collections []string
	Images      []string
}

// SheetSpec is one analyzed sheet.
type SheetSpec struct {
	Name          string
	Dimension     string // original used-range (e.g. "A1:D10"), for diagnostics
	Rows          []RowSpec
	RepeatRegions []RepeatRegionSpec
	ColumnWidths  map[int]float64
	MergedCells   []MergedCellSpec
}

// MergedCellSpec is one pre-existing merge in the template, carried forward
// so the position calculator can re-project it through repeat expansion.
type MergedCellSpec struct {
	StartRow, StartCol, EndRow, EndCol int
}

// WorkbookSpec is the complete analysis of one template workbook.
type WorkbookSpec struct {
	Sheets        []SheetSpec
	RequiredNames RequiredNames
}

// SheetByName returns the analyzed sheet with the given name, if any.
func (w *WorkbookSpec) SheetByName(name string) (*SheetSpec, bool) {
	for i := range w.Sheets {
		if w.Sheets[i].Name == name {
			return &w.Sheets[i], true
		}
	}
	return nil, false
}
