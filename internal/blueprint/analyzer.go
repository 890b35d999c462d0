package blueprint

import (
	"sort"
	"strings"

	"github.com/jogakdal/tbeg/internal/markers"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/xuri/excelize/v2"
)

// Analyze walks every sheet of f and produces the WorkbookSpec every
// downstream component consumes. It is the only place in the module that
// reads marker text directly out of the workbook — everything after this
// operates on the typed spec.
func Analyze(f *excelize.File) (*WorkbookSpec, error) {
	spec := &WorkbookSpec{}
	nameSet := names{}

	for _, sheetName := range f.GetSheetList() {
		sheetSpec, err := analyzeSheet(f, sheetName, &nameSet)
		if err != nil {
			return nil, err
		}
		spec.Sheets = append(spec.Sheets, *sheetSpec)
	}

	spec.RequiredNames = nameSet.finalize()
	return spec, nil
}

type names struct {
	variables   map[string]struct{}
	collections map[string]struct{}
	images      map[string]struct{}
}

func (n *names) addVariable(v string) {
	if n.variables == nil {
		n.variables = map[string]struct{}{}
	}
	n.variables[v] = struct{}{}
}

func (n *names) addCollection(c string) {
	if n.collections == nil {
		n.collections = map[string]struct{}{}
	}
	n.collections[c] = struct{}{}
}

func (n *names) addImage(i string) {
	if n.images == nil {
		n.images = map[string]struct{}{}
	}
	n.images[i] = struct{}{}
}

func (n *names) finalize() RequiredNames {
	return RequiredNames{
		Variables:   sortedKeys(n.variables),
		Collections: sortedKeys(n.collections),
		Images:      sortedKeys(n.images),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func analyzeSheet(f *excelize.File, sheetName string, nameSet *names) (*SheetSpec, error) {
	dimension, _ := f.GetSheetDimension(sheetName)
	rawRows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, tbegerr.New(tbegerr.PackageIO, "failed to read sheet rows").At(sheetName, "").WithCause(err)
	}

	sheet := &SheetSpec{Name: sheetName, Dimension: dimension, ColumnWidths: map[int]float64{}}

	maxCol := 0
	for rowIdx, rowVals := range rawRows {
		rowNumber := rowIdx + 1
		cells := make([]CellSpec, 0, len(rowVals))
		for colIdx := range rowVals {
			colNumber := colIdx + 1
			if colNumber > maxCol {
				maxCol = colNumber
			}
			ref, err := excelize.CoordinatesToCellName(colNumber, rowNumber)
			if err != nil {
				return nil, tbegerr.New(tbegerr.PackageIO, "invalid cell coordinates").At(sheetName, "").WithCause(err)
			}
			cellSpec, err := analyzeCell(f, sheetName, ref, colNumber, nameSet)
			if err != nil {
				return nil, err
			}
			cells = append(cells, cellSpec)
		}
		sheet.Rows = append(sheet.Rows, RowSpec{Index: rowNumber, Kind: RowStatic, RegionID: -1, Cells: cells})
	}

	for c := 1; c <= maxCol; c++ {
		colName, err := excelize.ColumnNumberToName(c)
		if err != nil {
			continue
		}
		if w, err := f.GetColWidth(sheetName, colName); err == nil {
			sheet.ColumnWidths[c] = w
		}
	}
	for i := range sheet.Rows {
		h, err := f.GetRowHeight(sheetName, sheet.Rows[i].Index)
		if err == nil {
			sheet.Rows[i].Height = h
		}
	}

	mergeCells, err := f.GetMergeCells(sheetName)
	if err != nil {
		return nil, tbegerr.New(tbegerr.PackageIO, "failed to read merged cells").At(sheetName, "").WithCause(err)
	}
	for _, mc := range mergeCells {
		sc, sr, err1 := excelize.CellNameToCoordinates(mc.GetStartAxis())
		ec, er, err2 := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err1 != nil || err2 != nil {
			continue
		}
		sheet.MergedCells = append(sheet.MergedCells, MergedCellSpec{StartRow: sr, StartCol: sc, EndRow: er, EndCol: ec})
	}

	if err := collectRepeatRegions(f, sheet); err != nil {
		return nil, err
	}

	return sheet, nil
}

func analyzeCell(f *excelize.File, sheetName, ref string, colNumber int, nameSet *names) (CellSpec, error) {
	formula, err := f.GetCellFormula(sheetName, ref)
	if err != nil {
		return CellSpec{}, tbegerr.New(tbegerr.PackageIO, "failed to read cell formula").At(sheetName, ref).WithCause(err)
	}
	styleID, _ := f.GetCellStyle(sheetName, ref)

	var content markers.CellContent
	if formula != "" {
		content, err = markers.ParseFormulaCell(formula)
	} else {
		raw, vErr := f.GetCellValue(sheetName, ref)
		if vErr != nil {
			return CellSpec{}, tbegerr.New(tbegerr.PackageIO, "failed to read cell value").At(sheetName, ref).WithCause(vErr)
		}
		content, err = markers.ParseTextCell(raw)
	}
	if err != nil {
		if te, ok := err.(*tbegerr.Error); ok {
			return CellSpec{}, te.At(sheetName, ref)
		}
		return CellSpec{}, err
	}

	collectNames(content, nameSet)

	return CellSpec{Ref: ref, Col: colNumber, Content: content, StyleID: styleID}, nil
}

func collectNames(c markers.CellContent, n *names) {
	switch v := c.(type) {
	case markers.Variable:
		n.addVariable(v.Name)
	case markers.InterpolatedString:
		for _, name := range v.ReferencedNames {
			if !strings.Contains(name, ".") {
				n.addVariable(name)
			}
		}
	case markers.FormulaWithVariables:
		for _, name := range v.ReferencedNames {
			n.addVariable(name)
		}
	case markers.RepeatMarker:
		n.addCollection(v.Collection)
	case markers.SizeMarker:
		n.addCollection(v.CollectionName)
	case markers.ImageMarker:
		n.addImage(v.ImageName)
	}
}

// collectRepeatRegions finds every RepeatMarker cell in the sheet, resolves
// its range to coordinates, rejects overlapping regions (nested repeats
// are not supported), and stamps the covered rows' Kind/RegionID.
func collectRepeatRegions(f *excelize.File, sheet *SheetSpec) error {
	for _, row := range sheet.Rows {
		for _, cell := range row.Cells {
			rm, ok := cell.Content.(markers.RepeatMarker)
			if !ok {
				continue
			}
			sc, sr, ec, er, err := resolveRange(f, sheet.Name, rm.Range)
			if err != nil {
				return err.At(sheet.Name, cell.Ref)
			}

			for _, existing := range sheet.RepeatRegions {
				if rangesOverlap(sr, er, sc, ec, existing.StartRow, existing.EndRow, existing.StartCol, existing.EndCol) {
					return tbegerr.New(tbegerr.InvalidRepeatSyntax,
						"repeat regions may not overlap or nest").At(sheet.Name, cell.Ref)
				}
			}

			region := RepeatRegionSpec{
				ID:         len(sheet.RepeatRegions),
				Sheet:      sheet.Name,
				AnchorCell: cell.Ref,
				Collection: rm.Collection,
				Variable:   rm.Variable,
				Direction:  rm.Direction,
				EmptyRange: rm.EmptyRange,
				StartRow:   sr,
				EndRow:     er,
				StartCol:   sc,
				EndCol:     ec,
			}
			sheet.RepeatRegions = append(sheet.RepeatRegions, region)
		}
	}

	for i := range sheet.Rows {
		for _, region := range sheet.RepeatRegions {
			if sheet.Rows[i].Index < region.StartRow || sheet.Rows[i].Index > region.EndRow {
				continue
			}
			sheet.Rows[i].RegionID = region.ID
			if sheet.Rows[i].Index == region.StartRow {
				sheet.Rows[i].Kind = RowRepeatAnchor
			} else {
				sheet.Rows[i].Kind = RowRepeatContinuation
			}
		}
	}
	return nil
}

func rangesOverlap(aSR, aER, aSC, aEC, bSR, bER, bSC, bEC int) bool {
	if aER < bSR || bER < aSR {
		return false
	}
	if aEC < bSC || bEC < aSC {
		return false
	}
	return true
}

// resolveRange resolves a marker's range parameter — an A1:A1 span
// (optionally sheet-qualified) or a workbook-defined name — to absolute
// coordinates on sheetName.
func resolveRange(f *excelize.File, sheetName, rng string) (sc, sr, ec, er int, tErr *tbegerr.Error) {
	s := strings.TrimSpace(rng)
	targetSheet := sheetName
	if i := strings.LastIndex(s, "!"); i >= 0 {
		targetSheet = strings.Trim(s[:i], "'")
		s = s[i+1:]
	}

	if !strings.Contains(s, ":") {
		resolved, ok := lookupDefinedName(f, s, sheetName)
		if !ok {
			return 0, 0, 0, 0, tbegerr.New(tbegerr.InvalidRangeFormat, "named range not found: "+s)
		}
		s = resolved
		if i := strings.LastIndex(s, "!"); i >= 0 {
			targetSheet = strings.Trim(s[:i], "'")
			s = s[i+1:]
		}
	}

	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, 0, 0, tbegerr.New(tbegerr.InvalidRangeFormat, "range is not a valid A1:A1 span")
	}
	startCol, startRow, err1 := excelize.CellNameToCoordinates(stripAbs(parts[0]))
	endCol, endRow, err2 := excelize.CellNameToCoordinates(stripAbs(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, 0, 0, tbegerr.New(tbegerr.InvalidRangeFormat, "range is not a valid A1:A1 span")
	}
	if targetSheet != sheetName {
		return 0, 0, 0, 0, tbegerr.New(tbegerr.InvalidRangeFormat, "repeat range must stay on the marker's own sheet")
	}
	return startCol, startRow, endCol, endRow, nil
}

func stripAbs(ref string) string {
	return strings.ReplaceAll(ref, "$", "")
}

func lookupDefinedName(f *excelize.File, name, sheetName string) (string, bool) {
	for _, dn := range f.GetDefinedName() {
		if dn.Name == name && (dn.Scope == "" || dn.Scope == "Workbook" || dn.Scope == sheetName) {
			return dn.RefersTo, true
		}
	}
	return "", false
}
