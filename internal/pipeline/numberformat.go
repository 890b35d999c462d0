package pipeline

import (
	"github.com/jogakdal/tbeg/internal/blueprint"
	"github.com/jogakdal/tbeg/internal/markers"
	"github.com/jogakdal/tbeg/internal/position"
	"github.com/jogakdal/tbeg/internal/provider"
	"github.com/jogakdal/tbeg/internal/render"
	"github.com/jogakdal/tbeg/internal/value"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/xuri/excelize/v2"
)

// applyNumberFormats is the NumberFormat stage. A substituted
// Variable, ItemField or SizeMarker whose template cell carries no
// explicit style (style ID 0, so copying the template style verbatim has
// nothing to copy) renders under excelize's bare General
// format; this pass gives those cells the configured integer or decimal
// format instead, without touching any cell that already has a style of
// its own.
func applyNumberFormats(f *excelize.File, spec *blueprint.WorkbookSpec, prov provider.Provider, cfg Config) error {
	styleCache := map[bool]int{}
	getStyle := func(isInt bool) (int, error) {
		if id, ok := styleCache[isInt]; ok {
			return id, nil
		}
		idx := cfg.DecimalNumberFormatIndex
		if isInt {
			idx = cfg.IntegerNumberFormatIndex
		}
		id, err := f.NewStyle(&excelize.Style{NumFmt: int(idx)})
		if err != nil {
			return 0, tbegerr.New(tbegerr.PackageIO, "failed to create number-format style").WithCause(err)
		}
		styleCache[isInt] = id
		return id, nil
	}

	for i := range spec.Sheets {
		sheet := &spec.Sheets[i]
		expansions, items, err := render.ExpansionsForSheet(sheet, prov)
		if err != nil {
			return err
		}
		plan := position.NewPlan(sheet, expansions)

		for _, row := range sheet.Rows {
			if row.Kind == blueprint.RowStatic {
				if err := formatRowInstance(f, sheet.Name, plan.RowInfoFor(row.Index).RenderedRow, row.Cells, prov, nil, getStyle); err != nil {
					return err
				}
				continue
			}

			region := regionByID(sheet, row.RegionID)
			exp := expansions[region.ID]
			if exp.IsEmpty {
				if err := formatRowInstance(f, sheet.Name, plan.RowInfoFor(row.Index).RenderedRow, row.Cells, prov, nil, getStyle); err != nil {
					return err
				}
				continue
			}

			regionItems := items[region.ID]
			base := plan.RowInfoFor(region.StartRow).RenderedRow
			withinTemplate := row.Index - region.StartRow

			for itemIdx, item := range regionItems {
				bindings := map[string]value.Value{region.Variable: item}
				if region.Direction == markers.DirectionRight {
					renderedRow := base + withinTemplate
					if err := formatRightInstance(f, sheet.Name, renderedRow, row.Cells, region, exp, itemIdx, prov, bindings, getStyle); err != nil {
						return err
					}
					continue
				}
				renderedRow := base + withinTemplate + itemIdx*exp.SpanRows
				if err := formatRowInstance(f, sheet.Name, renderedRow, row.Cells, prov, bindings, getStyle); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func regionByID(sheet *blueprint.SheetSpec, id int) blueprint.RepeatRegionSpec {
	for _, r := range sheet.RepeatRegions {
		if r.ID == id {
			return r
		}
	}
	return blueprint.RepeatRegionSpec{}
}

func formatRowInstance(f *excelize.File, sheetName string, renderedRow int, cells []blueprint.CellSpec, prov provider.Provider, bindings map[string]value.Value, getStyle func(bool) (int, error)) error {
	for _, cell := range cells {
		if cell.StyleID != 0 || !isNumericMarker(cell.Content) {
			continue
		}
		res, err := render.Evaluate(cell.Content, prov, bindings)
		if err != nil || res.Kind != render.EvalNumber {
			continue
		}
		if err := setNumberStyle(f, sheetName, renderedRow, cell.Col, res.Number, getStyle); err != nil {
			return err
		}
	}
	return nil
}

func formatRightInstance(f *excelize.File, sheetName string, renderedRow int, cells []blueprint.CellSpec, region blueprint.RepeatRegionSpec, exp position.RepeatExpansion, itemIdx int, prov provider.Provider, bindings map[string]value.Value, getStyle func(bool) (int, error)) error {
	for _, cell := range cells {
		if cell.StyleID != 0 || !isNumericMarker(cell.Content) || cell.Col < region.StartCol || cell.Col > region.EndCol {
			continue
		}
		res, err := render.Evaluate(cell.Content, prov, bindings)
		if err != nil || res.Kind != render.EvalNumber {
			continue
		}
		destCol := region.StartCol + (cell.Col-region.StartCol) + itemIdx*exp.SpanCols
		if err := setNumberStyle(f, sheetName, renderedRow, destCol, res.Number, getStyle); err != nil {
			return err
		}
	}
	return nil
}

func setNumberStyle(f *excelize.File, sheetName string, row, col int, n float64, getStyle func(bool) (int, error)) error {
	isInt := n == float64(int64(n))
	styleID, err := getStyle(isInt)
	if err != nil {
		return err
	}
	cellName, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return tbegerr.New(tbegerr.PackageIO, "number-format pass computed an invalid cell coordinate").At(sheetName, "").WithCause(err)
	}
	if err := f.SetCellStyle(sheetName, cellName, cellName, styleID); err != nil {
		return tbegerr.New(tbegerr.PackageIO, "failed to apply number-format style").At(sheetName, cellName).WithCause(err)
	}
	return nil
}

func isNumericMarker(content markers.CellContent) bool {
	switch content.(type) {
	case markers.Variable, markers.ItemField, markers.SizeMarker:
		return true
	default:
		return false
	}
}
