package render

import (
	"context"
	"strings"

	"github.com/jogakdal/tbeg/internal/blueprint"
	"github.com/jogakdal/tbeg/internal/formula"
	"github.com/jogakdal/tbeg/internal/imaging"
	"github.com/jogakdal/tbeg/internal/layout"
	"github.com/jogakdal/tbeg/internal/markers"
	"github.com/jogakdal/tbeg/internal/position"
	"github.com/jogakdal/tbeg/internal/provider"
	"github.com/jogakdal/tbeg/internal/value"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/xuri/excelize/v2"
)

// InMemoryStrategy renders a workbook by mutating an already-open
// *excelize.File in place: repeat regions expand via InsertRows/InsertCols,
// every analyzed cell is re-evaluated and written with SetCellValue or
// SetCellFormula, and internal/layout restores merges/column widths/
// conditional formats at their rendered coordinates once every region on a
// sheet has expanded. This is the default strategy — the one
// used whenever the template is small enough to fit comfortably in memory.
type InMemoryStrategy struct {
	Opts Options
}

// Render implements Strategy.
func (s InMemoryStrategy) Render(ctx context.Context, f *excelize.File, spec *blueprint.WorkbookSpec, prov provider.Provider) error {
	for i := range spec.Sheets {
		sheet := &spec.Sheets[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := renderSheetInMemory(f, sheet, prov, s.Opts); err != nil {
			return err
		}
	}
	return nil
}

func renderSheetInMemory(f *excelize.File, sheet *blueprint.SheetSpec, prov provider.Provider, opts Options) error {
	expansions, items, err := expansionsForSheet(sheet, prov)
	if err != nil {
		return err
	}

	var pendingImages []pendingImage

	for _, region := range regionsDescByStartRow(sheet.RepeatRegions) {
		exp := expansions[region.ID]
		if err := expandRegion(f, sheet, region, exp, items[region.ID], prov, &pendingImages, opts); err != nil {
			return err
		}
	}

	plan := position.NewPlan(sheet, expansions)
	if err := renderStaticRows(f, sheet, plan, expansions, prov, &pendingImages, opts); err != nil {
		return err
	}

	if err := applyMergesAndColumns(f, sheet, expansions, plan); err != nil {
		return err
	}

	for _, img := range pendingImages {
		data, ok := prov.GetImage(img.marker.ImageName)
		if !ok {
			if opts.MissingDataWarn {
				continue
			}
			return tbegerr.New(tbegerr.MissingTemplateData, "no image data for referenced image").At(sheet.Name, img.anchor).WithLiteral(img.marker.ImageName)
		}
		if err := imaging.Insert(f, sheet.Name, img.marker, img.anchor, data); err != nil {
			return err
		}
	}
	return nil
}

func expandRegion(f *excelize.File, sheet *blueprint.SheetSpec, region blueprint.RepeatRegionSpec, exp position.RepeatExpansion, items []value.Value, prov provider.Provider, pending *[]pendingImage, opts Options) error {
	if exp.IsEmpty {
		if region.EmptyRange != "" {
			return writeEmptyRangeOverride(f, sheet, region, prov, pending, opts)
		}
		return writeRowRangeVerbatim(f, sheet, region.StartRow, region.EndRow, prov, pending, opts)
	}
	if region.Direction == markers.DirectionRight {
		return expandRightRegion(f, sheet, region, exp, items, prov, pending, opts)
	}
	return expandDownRegion(f, sheet, region, exp, items, prov, pending, opts)
}

// writeRowRangeVerbatim re-evaluates a region's template rows with no item
// bound — ItemField cells inside an empty collection's template resolve to
// empty rather than erroring, since there is no item to resolve against.
func writeRowRangeVerbatim(f *excelize.File, sheet *blueprint.SheetSpec, startRow, endRow int, prov provider.Provider, pending *[]pendingImage, opts Options) error {
	for row := startRow; row <= endRow; row++ {
		rowSpec, ok := findRowSpec(sheet, row)
		if !ok {
			continue
		}
		if err := writeRow(f, sheet.Name, row, rowSpec, nil, prov, pending, opts); err != nil {
			return err
		}
	}
	return nil
}

// writeEmptyRangeOverride replaces an empty collection's region with the
// template content of its declared fallback range, clipped to the region's
// own footprint so the sheet's geometry stays exactly what the position
// plan computed for a zero-item region.
func writeEmptyRangeOverride(f *excelize.File, sheet *blueprint.SheetSpec, region blueprint.RepeatRegionSpec, prov provider.Provider, pending *[]pendingImage, opts Options) error {
	sr, sc, er, ec, ok := parseAreaRef(region.EmptyRange)
	if !ok {
		return tbegerr.New(tbegerr.InvalidRangeFormat, "empty-range override is not a valid A1 range").At(sheet.Name, region.AnchorCell).WithLiteral(region.EmptyRange)
	}

	// Clear the region first: its cells still hold raw marker text from
	// the template clone, and the override may not cover every cell.
	for r := region.StartRow; r <= region.EndRow; r++ {
		for c := region.StartCol; c <= region.EndCol; c++ {
			ref, _ := excelize.CoordinatesToCellName(c, r)
			_ = f.SetCellValue(sheet.Name, ref, nil)
		}
	}

	maxRowDelta := region.EndRow - region.StartRow
	maxColDelta := region.EndCol - region.StartCol
	for dr := 0; dr <= er-sr && dr <= maxRowDelta; dr++ {
		rowSpec, found := findRowSpec(sheet, sr+dr)
		if !found {
			continue
		}
		for _, cell := range rowSpec.Cells {
			if cell.Col < sc || cell.Col > ec {
				continue
			}
			dc := cell.Col - sc
			if dc > maxColDelta {
				continue
			}
			destRef, _ := excelize.CoordinatesToCellName(region.StartCol+dc, region.StartRow+dr)
			res, evalErr := evaluateCell(cell.Content, prov, nil, opts)
			if evalErr != nil {
				return toTbegErr(evalErr).At(sheet.Name, destRef)
			}
			if cell.StyleID != 0 {
				_ = f.SetCellStyle(sheet.Name, destRef, destRef, cell.StyleID)
			}
			switch res.Kind {
			case EvalString:
				_ = f.SetCellValue(sheet.Name, destRef, res.Text)
			case EvalNumber:
				_ = f.SetCellValue(sheet.Name, destRef, res.Number)
			case EvalFormula:
				_ = f.SetCellFormula(sheet.Name, destRef, res.FormulaText)
			case EvalImage:
				*pending = append(*pending, pendingImage{sheet: sheet.Name, anchor: destRef, marker: res.Image})
			}
		}
	}
	return nil
}

// parseAreaRef resolves an A1 area ("A13:C13", a single cell, optionally
// sheet-qualified) into 1-based inclusive coordinates.
func parseAreaRef(ref string) (startRow, startCol, endRow, endCol int, ok bool) {
	if i := strings.LastIndexByte(ref, '!'); i >= 0 {
		ref = ref[i+1:]
	}
	start, end := ref, ref
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		start, end = ref[:i], ref[i+1:]
	}
	sc, sr, err1 := excelize.CellNameToCoordinates(start)
	ec, er, err2 := excelize.CellNameToCoordinates(end)
	if err1 != nil || err2 != nil {
		return 0, 0, 0, 0, false
	}
	return sr, sc, er, ec, true
}

func expandDownRegion(f *excelize.File, sheet *blueprint.SheetSpec, region blueprint.RepeatRegionSpec, exp position.RepeatExpansion, items []value.Value, prov provider.Provider, pending *[]pendingImage, opts Options) error {
	templateRows := region.EndRow - region.StartRow + 1
	extra := exp.TotalRows - templateRows
	if extra > 0 {
		if err := f.InsertRows(sheet.Name, region.EndRow+1, extra); err != nil {
			return tbegerr.New(tbegerr.PackageIO, "failed to insert rows for repeat region").At(sheet.Name, region.AnchorCell).WithCause(err)
		}
	}

	for itemIdx, item := range items {
		destStart := region.StartRow + itemIdx*exp.SpanRows
		bindings := map[string]value.Value{region.Variable: item}
		for r := 0; r < templateRows; r++ {
			srcRow := region.StartRow + r
			destRow := destStart + r
			rowSpec, ok := findRowSpec(sheet, srcRow)
			if !ok {
				continue
			}
			isNewRow := destRow != srcRow
			if err := writeRepeatRow(f, sheet.Name, destRow, rowSpec, bindings, prov, pending, region, itemIdx, exp.SpanRows, isNewRow, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func expandRightRegion(f *excelize.File, sheet *blueprint.SheetSpec, region blueprint.RepeatRegionSpec, exp position.RepeatExpansion, items []value.Value, prov provider.Provider, pending *[]pendingImage, opts Options) error {
	templateCols := region.EndCol - region.StartCol + 1
	extra := exp.TotalCols - templateCols
	if extra > 0 {
		if err := f.InsertCols(sheet.Name, columnName(region.EndCol+1), extra); err != nil {
			return tbegerr.New(tbegerr.PackageIO, "failed to insert columns for repeat region").At(sheet.Name, region.AnchorCell).WithCause(err)
		}
	}

	for itemIdx, item := range items {
		destStartCol := region.StartCol + itemIdx*exp.SpanCols
		bindings := map[string]value.Value{region.Variable: item}
		for c := 0; c < templateCols; c++ {
			srcCol := region.StartCol + c
			destCol := destStartCol + c
			rowSpec, ok := findRowSpec(sheet, region.StartRow)
			if !ok {
				continue
			}
			cell, ok := cellAt(rowSpec, srcCol)
			if !ok {
				continue
			}
			isNewCol := destCol != srcCol
			if err := writeRepeatCell(f, sheet.Name, region.StartRow, destCol, cell, bindings, prov, pending, region, itemIdx, exp.SpanCols, isNewCol, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeRepeatRow(f *excelize.File, sheetName string, destRow int, rowSpec blueprint.RowSpec, bindings map[string]value.Value, prov provider.Provider, pending *[]pendingImage, region blueprint.RepeatRegionSpec, itemIdx, spanRows int, isNewRow bool, opts Options) error {
	for _, cell := range rowSpec.Cells {
		if err := writeRepeatCell(f, sheetName, destRow, cell.Col, cell, bindings, prov, pending, region, itemIdx, spanRows, isNewRow, opts); err != nil {
			return err
		}
	}
	return nil
}

func writeRepeatCell(f *excelize.File, sheetName string, destRow, destCol int, cell blueprint.CellSpec, bindings map[string]value.Value, prov provider.Provider, pending *[]pendingImage, region blueprint.RepeatRegionSpec, itemIdx, span int, isNew bool, opts Options) error {
	destRef, err := excelize.CoordinatesToCellName(destCol, destRow)
	if err != nil {
		return tbegerr.New(tbegerr.PackageIO, "invalid destination coordinates").At(sheetName, "").WithCause(err)
	}
	res, evalErr := evaluateCell(cell.Content, prov, bindings, opts)
	if evalErr != nil {
		return toTbegErr(evalErr).At(sheetName, destRef)
	}
	if isNew && cell.StyleID != 0 {
		_ = f.SetCellStyle(sheetName, destRef, destRef, cell.StyleID)
	}
	switch res.Kind {
	case EvalString:
		_ = f.SetCellValue(sheetName, destRef, res.Text)
	case EvalNumber:
		_ = f.SetCellValue(sheetName, destRef, res.Number)
	case EvalFormula:
		adjusted := res.FormulaText
		if region.Direction == markers.DirectionRight {
			adjusted = formula.AdjustForRepeatIndexCols(adjusted, sheetName, region.StartCol, region.EndCol, itemIdx, span)
		} else {
			adjusted = formula.AdjustForRepeatIndex(adjusted, sheetName, region.StartRow, region.EndRow, itemIdx, span)
		}
		_ = f.SetCellFormula(sheetName, destRef, adjusted)
	case EvalImage:
		*pending = append(*pending, pendingImage{sheet: sheetName, anchor: destRef, marker: res.Image})
	case EvalEmpty:
		// Always cleared: an in-place cell may still hold marker text from
		// the template clone (e.g. the repeat declaration itself).
		_ = f.SetCellValue(sheetName, destRef, nil)
	}
	return nil
}

func renderStaticRows(f *excelize.File, sheet *blueprint.SheetSpec, plan *position.Plan, expansions map[int]position.RepeatExpansion, prov provider.Provider, pending *[]pendingImage, opts Options) error {
	for _, row := range sheet.Rows {
		if row.Kind != blueprint.RowStatic {
			continue
		}
		info := plan.RowInfoFor(row.Index)
		for _, cell := range row.Cells {
			destRef, err := excelize.CoordinatesToCellName(cell.Col, info.RenderedRow)
			if err != nil {
				return tbegerr.New(tbegerr.PackageIO, "invalid static row coordinates").At(sheet.Name, "").WithCause(err)
			}
			res, evalErr := evaluateCell(cell.Content, prov, nil, opts)
			if evalErr != nil {
				return toTbegErr(evalErr).At(sheet.Name, destRef)
			}
			switch res.Kind {
			case EvalString:
				_ = f.SetCellValue(sheet.Name, destRef, res.Text)
			case EvalNumber:
				_ = f.SetCellValue(sheet.Name, destRef, res.Number)
			case EvalFormula:
				adjusted, adjErr := adjustFormulaForPlan(res.FormulaText, sheet, expansions)
				if adjErr != nil {
					return adjErr.At(sheet.Name, destRef)
				}
				_ = f.SetCellFormula(sheet.Name, destRef, adjusted)
			case EvalImage:
				*pending = append(*pending, pendingImage{sheet: sheet.Name, anchor: destRef, marker: res.Image})
			case EvalEmpty:
				_ = f.SetCellValue(sheet.Name, destRef, nil)
			}
		}
	}
	return nil
}

// adjustFormulaForPlan threads a static-row formula through every region's
// row/column delta in document order, so a reference below (or to the
// right of) region N accounts for region N's growth before region N+1's
// threshold is even considered. Per region the passes run in a fixed
// order: first references beyond the region shift by its delta, then a
// lone reference to the region's own template row widens into a
// contiguous range (one-row-per-item regions) or a comma-list of one
// reference per item (taller units), then literal range endpoints inside
// the region extend to its last rendered row — the same sequence applies
// column-wise for RIGHT regions. Shifting first matters: the refs the
// widening passes create land inside the region's expanded span and must
// not be shifted again by the same region's delta. The comma-list form is
// rejected with a FormulaExpansion error once item count would exceed
// Excel's 255-argument function limit, since the caller — not the formula
// package itself — owns that decision.
func adjustFormulaForPlan(formulaText string, sheet *blueprint.SheetSpec, expansions map[int]position.RepeatExpansion) (string, *tbegerr.Error) {
	cumulativeRows := 0
	for _, region := range sortedRegionsAsc(sheet.RepeatRegions) {
		if region.Direction == markers.DirectionRight {
			continue
		}
		exp, ok := expansions[region.ID]
		if !ok {
			continue
		}
		templateRows := region.EndRow - region.StartRow + 1
		delta := exp.TotalRows - templateRows
		if delta == 0 {
			continue
		}
		startRow := region.StartRow + cumulativeRows
		endRow := region.EndRow + cumulativeRows
		formulaText = formula.AdjustForRowExpansion(formulaText, sheet.Name, endRow+1, delta)
		for col := region.StartCol; col <= region.EndCol; col++ {
			rewritten, contiguous := formula.ExpandSingleRefToRowRange(formulaText, columnName(col), startRow, exp.ItemCount, exp.SpanRows)
			if !contiguous && exp.ItemCount > formula.ExcelMaxFunctionArgs {
				return "", formulaExpansionErr(formulaText, exp.ItemCount)
			}
			formulaText = rewritten
		}
		formulaText = formula.ExtendRangeEndRow(formulaText, sheet.Name, startRow, endRow, endRow+delta)
		cumulativeRows += delta
	}

	cumulativeCols := 0
	for _, region := range sortedRegionsAscByCol(sheet.RepeatRegions) {
		if region.Direction != markers.DirectionRight {
			continue
		}
		exp, ok := expansions[region.ID]
		if !ok {
			continue
		}
		templateCols := region.EndCol - region.StartCol + 1
		delta := exp.TotalCols - templateCols
		if delta == 0 {
			continue
		}
		startCol := region.StartCol + cumulativeCols
		endCol := region.EndCol + cumulativeCols
		formulaText = formula.AdjustForColumnExpansion(formulaText, sheet.Name, endCol+1, delta)
		for row := region.StartRow; row <= region.EndRow; row++ {
			rewritten, contiguous := formula.ExpandSingleRefToColRange(formulaText, row, columnName(startCol), exp.ItemCount, exp.SpanCols)
			if !contiguous && exp.ItemCount > formula.ExcelMaxFunctionArgs {
				return "", formulaExpansionErr(formulaText, exp.ItemCount)
			}
			formulaText = rewritten
		}
		formulaText = formula.ExtendRangeEndCol(formulaText, sheet.Name, startCol, endCol, endCol+delta)
		cumulativeCols += delta
	}
	return formulaText, nil
}

// formulaExpansionErr builds the FormulaExpansion error; sheet/cell
// context is attached by the caller once the destination ref is known.
func formulaExpansionErr(formulaText string, itemCount int) *tbegerr.Error {
	return tbegerr.Wrapf(tbegerr.FormulaExpansion, "expanding to %d comma-separated references exceeds Excel's %d-argument limit", itemCount, formula.ExcelMaxFunctionArgs).WithLiteral(formulaText)
}

func sortedRegionsAsc(regions []blueprint.RepeatRegionSpec) []blueprint.RepeatRegionSpec {
	out := make([]blueprint.RepeatRegionSpec, len(regions))
	copy(out, regions)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].StartRow > out[j].StartRow; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// sortedRegionsAscByCol is sortedRegionsAsc's column-axis counterpart, used
// when threading a formula through RIGHT regions' column deltas.
func sortedRegionsAscByCol(regions []blueprint.RepeatRegionSpec) []blueprint.RepeatRegionSpec {
	out := make([]blueprint.RepeatRegionSpec, len(regions))
	copy(out, regions)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].StartCol > out[j].StartCol; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func applyMergesAndColumns(f *excelize.File, sheet *blueprint.SheetSpec, expansions map[int]position.RepeatExpansion, plan *position.Plan) error {
	if err := layout.ApplyColumnWidths(f, sheet.Name, sheet.ColumnWidths); err != nil {
		return err
	}

	var staticMerges []blueprint.MergedCellSpec
	for _, mc := range sheet.MergedCells {
		region, inRegion := regionForMerge(sheet, mc)
		if !inRegion {
			staticMerges = append(staticMerges, mc)
			continue
		}
		exp := expansions[region.ID]
		if exp.IsEmpty {
			staticMerges = append(staticMerges, mc)
			continue
		}
		for itemIdx := 0; itemIdx < exp.ItemCount; itemIdx++ {
			translated := translateMerge(mc, region, exp, itemIdx)
			startRef, _ := excelize.CoordinatesToCellName(translated.StartCol, translated.StartRow)
			endRef, _ := excelize.CoordinatesToCellName(translated.EndCol, translated.EndRow)
			if startRef == endRef {
				continue
			}
			if err := f.MergeCell(sheet.Name, startRef, endRef); err != nil {
				return tbegerr.New(tbegerr.PackageIO, "failed to re-create merge for repeat instance").At(sheet.Name, startRef).WithCause(err)
			}
		}
	}

	return layout.ApplyMergedCells(f, sheet.Name, staticMerges, planRowMapper{plan}, layout.Identity())
}

func regionForMerge(sheet *blueprint.SheetSpec, mc blueprint.MergedCellSpec) (blueprint.RepeatRegionSpec, bool) {
	for _, r := range sheet.RepeatRegions {
		if mc.StartRow >= r.StartRow && mc.StartRow <= r.EndRow && mc.StartCol >= r.StartCol && mc.StartCol <= r.EndCol {
			return r, true
		}
	}
	return blueprint.RepeatRegionSpec{}, false
}

func translateMerge(mc blueprint.MergedCellSpec, region blueprint.RepeatRegionSpec, exp position.RepeatExpansion, itemIdx int) blueprint.MergedCellSpec {
	if region.Direction == markers.DirectionRight {
		colShift := itemIdx * exp.SpanCols
		return blueprint.MergedCellSpec{
			StartRow: mc.StartRow, EndRow: mc.EndRow,
			StartCol: mc.StartCol + colShift, EndCol: mc.EndCol + colShift,
		}
	}
	rowShift := itemIdx * exp.SpanRows
	return blueprint.MergedCellSpec{
		StartRow: mc.StartRow + rowShift, EndRow: mc.EndRow + rowShift,
		StartCol: mc.StartCol, EndCol: mc.EndCol,
	}
}

type planRowMapper struct{ plan *position.Plan }

func (m planRowMapper) RenderedRow(r int) int { return m.plan.RowInfoFor(r).RenderedRow }

func writeRow(f *excelize.File, sheetName string, row int, rowSpec blueprint.RowSpec, bindings map[string]value.Value, prov provider.Provider, pending *[]pendingImage, opts Options) error {
	for _, cell := range rowSpec.Cells {
		destRef, err := excelize.CoordinatesToCellName(cell.Col, row)
		if err != nil {
			return tbegerr.New(tbegerr.PackageIO, "invalid cell coordinates").At(sheetName, "").WithCause(err)
		}
		res, evalErr := evaluateCell(cell.Content, prov, bindings, opts)
		if evalErr != nil {
			return toTbegErr(evalErr).At(sheetName, destRef)
		}
		switch res.Kind {
		case EvalString:
			_ = f.SetCellValue(sheetName, destRef, res.Text)
		case EvalNumber:
			_ = f.SetCellValue(sheetName, destRef, res.Number)
		case EvalFormula:
			_ = f.SetCellFormula(sheetName, destRef, res.FormulaText)
		case EvalImage:
			*pending = append(*pending, pendingImage{sheet: sheetName, anchor: destRef, marker: res.Image})
		case EvalEmpty:
			_ = f.SetCellValue(sheetName, destRef, nil)
		}
	}
	return nil
}

func cellAt(rowSpec blueprint.RowSpec, col int) (blueprint.CellSpec, bool) {
	for _, c := range rowSpec.Cells {
		if c.Col == col {
			return c, true
		}
	}
	return blueprint.CellSpec{}, false
}

func columnName(col int) string {
	name, _ := excelize.ColumnNumberToName(col)
	return name
}

func toTbegErr(err error) *tbegerr.Error {
	if te, ok := err.(*tbegerr.Error); ok {
		return te
	}
	return tbegerr.New(tbegerr.MissingTemplateData, err.Error())
}
