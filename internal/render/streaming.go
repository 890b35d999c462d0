package render

import (
	"context"
	"sort"

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

// StreamingStrategy renders a workbook sequentially through excelize's own
// NewStreamWriter (sw.SetRow + sw.Flush) — the only row-window-bounded
// write path excelize exposes.
// Every row is computed and emitted in ascending order; a repeat region
// still needs every item materialized up front to know how many rows it
// occupies before the first row below it can be emitted, but no
// random-access row insertion happens, so the sheet never holds more than
// one rendered row resident in the XML writer at a time. Merges, images,
// and conditional formats are dropped by NewStreamWriter's full-sheet
// rewrite; merges are restored afterward through internal/layout and
// images through internal/imaging, the same way the in-memory strategy
// does, and conditional formats are re-projected by internal/pipeline.
type StreamingStrategy struct {
	Opts Options
}

// Render implements Strategy.
func (s StreamingStrategy) Render(ctx context.Context, f *excelize.File, spec *blueprint.WorkbookSpec, prov provider.Provider) error {
	for i := range spec.Sheets {
		sheet := &spec.Sheets[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := renderSheetStreaming(f, sheet, prov, s.Opts); err != nil {
			return err
		}
	}
	return nil
}

// emission is one rendered row: which original template row it came from,
// where it lands, and which repeat-region item (if any) is bound to it.
// regionID is -1 for a static row; itemIndex/spanRows are only meaningful
// when regionID >= 0, and mirror writeRepeatCell's adjust_for_repeat_index
// bookkeeping in inmemory.go so a streamed repeat row's own formulas get the
// same per-item relative-reference shift.
type emission struct {
	originalRow int
	destRow     int
	bindings    map[string]value.Value
	regionID    int
	itemIndex   int
	spanRows    int

	// colShift/colMin/colMax place an empty-range override row: its source
	// cells (colMin..colMax inclusive; 0 means no filter) are written
	// shifted by colShift columns into the region's own footprint.
	colShift       int
	colMin, colMax int

	// rightItems, when non-nil, marks a RIGHT-direction region row: the
	// whole collection is written into this single destination row, each
	// item's cells shifted right by itemIdx*spanRows columns (spanRows
	// holds the region's SpanCols on this axis).
	rightItems []value.Value
}

// streamPlan is the row-numbering side of buildEmissions: the sequence of
// rows to write plus enough bookkeeping to re-project merges afterward.
type streamPlan struct {
	emissions     []emission
	rowMap        map[int]int         // originalRow -> first destRow it was written at
	regionStart   map[int]map[int]int // regionID -> itemIndex -> destRow of that item's first template row
	totalDestRows int
}

func (p *streamPlan) RenderedRow(originalRow int) int {
	if r, ok := p.rowMap[originalRow]; ok {
		return r
	}
	return originalRow
}

func renderSheetStreaming(f *excelize.File, sheet *blueprint.SheetSpec, prov provider.Provider, opts Options) error {
	expansions, items, err := expansionsForSheet(sheet, prov)
	if err != nil {
		return err
	}

	plan := buildEmissions(sheet, expansions, items)

	sw, swErr := f.NewStreamWriter(sheet.Name)
	if swErr != nil {
		return tbegerr.New(tbegerr.PackageIO, "failed to create stream writer").At(sheet.Name, "").WithCause(swErr)
	}

	var pendingImages []pendingImage
	emitted := 0
	for _, em := range plan.emissions {
		emitted++
		if opts.Progress != nil && opts.ProgressInterval > 0 && emitted%opts.ProgressInterval == 0 {
			opts.Progress(sheet.Name, emitted, plan.totalDestRows)
		}
		rowSpec, ok := findRowSpec(sheet, em.originalRow)
		if !ok {
			continue
		}
		cells, rowErr := buildStreamRow(sheet, rowSpec, em, expansions, prov, &pendingImages, opts)
		if rowErr != nil {
			return rowErr
		}
		startRef, _ := excelize.CoordinatesToCellName(1, em.destRow)
		if err := sw.SetRow(startRef, cells); err != nil {
			return tbegerr.New(tbegerr.PackageIO, "failed to write streamed row").At(sheet.Name, startRef).WithCause(err)
		}
	}
	if opts.Progress != nil {
		opts.Progress(sheet.Name, emitted, plan.totalDestRows)
	}
	if err := sw.Flush(); err != nil {
		return tbegerr.New(tbegerr.PackageIO, "failed to flush stream writer").At(sheet.Name, "").WithCause(err)
	}

	if err := applyMergesAndColumnsStreaming(f, sheet, expansions, plan); err != nil {
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

// buildEmissions walks the sheet's rows in original order, expanding each
// repeat region into one emission per (item, template row) the moment its
// anchor row is reached, and numbering destination rows sequentially from 1.
func buildEmissions(sheet *blueprint.SheetSpec, expansions map[int]position.RepeatExpansion, items map[int][]value.Value) *streamPlan {
	rows := make([]blueprint.RowSpec, len(sheet.Rows))
	copy(rows, sheet.Rows)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })

	plan := &streamPlan{
		rowMap:      map[int]int{},
		regionStart: map[int]map[int]int{},
	}
	destRow := 1
	seenRegion := map[int]bool{}
	for _, row := range rows {
		if row.Kind == blueprint.RowStatic {
			plan.emissions = append(plan.emissions, emission{originalRow: row.Index, destRow: destRow, regionID: -1})
			plan.rowMap[row.Index] = destRow
			destRow++
			continue
		}
		region := sheet.RepeatRegions[row.RegionID]
		if seenRegion[region.ID] {
			continue
		}
		seenRegion[region.ID] = true
		exp := expansions[region.ID]
		if exp.IsEmpty {
			if sr, sc, er, ec, overrideOK := parseAreaRef(region.EmptyRange); region.EmptyRange != "" && overrideOK {
				// The override's rows replace the region's, still occupying
				// exactly the region's own footprint; rows the override
				// doesn't cover stay blank.
				overrideRows := er - sr + 1
				for dr := 0; dr <= region.EndRow-region.StartRow; dr++ {
					em := emission{originalRow: -1, destRow: destRow, regionID: -1}
					if dr < overrideRows {
						em.originalRow = sr + dr
						em.colShift = region.StartCol - sc
						em.colMin, em.colMax = sc, ec
					}
					plan.emissions = append(plan.emissions, em)
					plan.rowMap[region.StartRow+dr] = destRow
					destRow++
				}
				continue
			}
			for r := region.StartRow; r <= region.EndRow; r++ {
				plan.emissions = append(plan.emissions, emission{originalRow: r, destRow: destRow, regionID: -1})
				plan.rowMap[r] = destRow
				destRow++
			}
			continue
		}
		if region.Direction == markers.DirectionRight {
			// A RIGHT region widens columns within its own rows: one
			// destination row per template row, every item written into it.
			for r := region.StartRow; r <= region.EndRow; r++ {
				plan.emissions = append(plan.emissions, emission{
					originalRow: r, destRow: destRow,
					regionID: region.ID, itemIndex: -1, spanRows: exp.SpanCols,
					rightItems: items[region.ID],
				})
				plan.rowMap[r] = destRow
				destRow++
			}
			continue
		}
		plan.regionStart[region.ID] = map[int]int{}
		for itemIdx, item := range items[region.ID] {
			plan.regionStart[region.ID][itemIdx] = destRow
			bindings := map[string]value.Value{region.Variable: item}
			for r := region.StartRow; r <= region.EndRow; r++ {
				plan.emissions = append(plan.emissions, emission{
					originalRow: r, destRow: destRow, bindings: bindings,
					regionID: region.ID, itemIndex: itemIdx, spanRows: exp.SpanRows,
				})
				if _, ok := plan.rowMap[r]; !ok {
					plan.rowMap[r] = destRow
				}
				destRow++
			}
		}
	}
	plan.totalDestRows = destRow - 1
	return plan
}

func buildStreamRow(sheet *blueprint.SheetSpec, rowSpec blueprint.RowSpec, em emission, expansions map[int]position.RepeatExpansion, prov provider.Provider, pending *[]pendingImage, opts Options) ([]interface{}, error) {
	if em.rightItems != nil {
		return buildRightRegionRow(sheet, rowSpec, em, expansions, prov, pending, opts)
	}
	maxCol := 0
	for _, c := range rowSpec.Cells {
		if em.colMax > 0 && (c.Col < em.colMin || c.Col > em.colMax) {
			continue
		}
		if c.Col+em.colShift > maxCol {
			maxCol = c.Col + em.colShift
		}
	}
	cells := make([]interface{}, maxCol)
	for _, cell := range rowSpec.Cells {
		if em.colMax > 0 && (cell.Col < em.colMin || cell.Col > em.colMax) {
			continue
		}
		destCol := cell.Col + em.colShift
		res, err := evaluateCell(cell.Content, prov, em.bindings, opts)
		if err != nil {
			destRef, _ := excelize.CoordinatesToCellName(destCol, em.destRow)
			return nil, toTbegErr(err).At(sheet.Name, destRef)
		}
		cv, cellErr := cellValue(res, cell.StyleID, em, destCol, sheet, expansions, pending)
		if cellErr != nil {
			destRef, _ := excelize.CoordinatesToCellName(destCol, em.destRow)
			return nil, cellErr.At(sheet.Name, destRef)
		}
		cells[destCol-1] = cv
	}
	return cells, nil
}

// buildRightRegionRow writes one RIGHT-direction region row: cells inside
// the region's column span repeat once per item, shifted right by
// itemIdx*SpanCols — the same column math expandRightRegion uses in
// inmemory.go — while cells outside the span are written once, those to
// the right of the region shifted past the expansion.
func buildRightRegionRow(sheet *blueprint.SheetSpec, rowSpec blueprint.RowSpec, em emission, expansions map[int]position.RepeatExpansion, prov provider.Provider, pending *[]pendingImage, opts Options) ([]interface{}, error) {
	region := sheet.RepeatRegions[em.regionID]
	exp := expansions[region.ID]
	growth := (len(em.rightItems) - 1) * exp.SpanCols

	maxCol := 0
	for _, c := range rowSpec.Cells {
		dest := c.Col
		if c.Col >= region.StartCol {
			dest = c.Col + growth
		}
		if dest > maxCol {
			maxCol = dest
		}
	}
	cells := make([]interface{}, maxCol)

	for _, cell := range rowSpec.Cells {
		if cell.Col < region.StartCol || cell.Col > region.EndCol {
			destCol := cell.Col
			if cell.Col > region.EndCol {
				destCol += growth
			}
			staticEm := em
			staticEm.regionID = -1
			staticEm.bindings = nil
			res, err := evaluateCell(cell.Content, prov, nil, opts)
			if err != nil {
				destRef, _ := excelize.CoordinatesToCellName(destCol, em.destRow)
				return nil, toTbegErr(err).At(sheet.Name, destRef)
			}
			cv, cellErr := cellValue(res, cell.StyleID, staticEm, destCol, sheet, expansions, pending)
			if cellErr != nil {
				destRef, _ := excelize.CoordinatesToCellName(destCol, em.destRow)
				return nil, cellErr.At(sheet.Name, destRef)
			}
			cells[destCol-1] = cv
			continue
		}
		for itemIdx, item := range em.rightItems {
			destCol := cell.Col + itemIdx*exp.SpanCols
			itemEm := em
			itemEm.itemIndex = itemIdx
			itemEm.bindings = map[string]value.Value{region.Variable: item}
			res, err := evaluateCell(cell.Content, prov, itemEm.bindings, opts)
			if err != nil {
				destRef, _ := excelize.CoordinatesToCellName(destCol, em.destRow)
				return nil, toTbegErr(err).At(sheet.Name, destRef)
			}
			cv, cellErr := cellValue(res, cell.StyleID, itemEm, destCol, sheet, expansions, pending)
			if cellErr != nil {
				destRef, _ := excelize.CoordinatesToCellName(destCol, em.destRow)
				return nil, cellErr.At(sheet.Name, destRef)
			}
			cells[destCol-1] = cv
		}
	}
	return cells, nil
}

// cellValue mirrors inmemory.go's writeRepeatCell/renderStaticRows formula
// handling: a static row's formula is threaded through adjustFormulaForPlan
// (region deltas accumulated top-to-bottom / left-to-right), while a repeat
// row's own formula gets AdjustForRepeatIndex's per-item relative shift —
// the same formula-adjustment passes the in-memory strategy uses, so
// formulas referencing expanded regions stay sound under streaming too.
func cellValue(res EvalResult, styleID int, em emission, col int, sheet *blueprint.SheetSpec, expansions map[int]position.RepeatExpansion, pending *[]pendingImage) (interface{}, *tbegerr.Error) {
	switch res.Kind {
	case EvalString:
		return excelize.Cell{Value: res.Text, StyleID: styleID}, nil
	case EvalNumber:
		return excelize.Cell{Value: res.Number, StyleID: styleID}, nil
	case EvalFormula:
		formulaText := res.FormulaText
		if em.regionID < 0 {
			adjusted, adjErr := adjustFormulaForPlan(formulaText, sheet, expansions)
			if adjErr != nil {
				return nil, adjErr
			}
			formulaText = adjusted
		} else {
			region := sheet.RepeatRegions[em.regionID]
			if region.Direction == markers.DirectionRight {
				formulaText = formula.AdjustForRepeatIndexCols(formulaText, sheet.Name, region.StartCol, region.EndCol, em.itemIndex, em.spanRows)
			} else {
				formulaText = formula.AdjustForRepeatIndex(formulaText, sheet.Name, region.StartRow, region.EndRow, em.itemIndex, em.spanRows)
			}
		}
		return excelize.Cell{Formula: formulaText, StyleID: styleID}, nil
	case EvalImage:
		destRef, _ := excelize.CoordinatesToCellName(col, em.destRow)
		*pending = append(*pending, pendingImage{sheet: sheet.Name, anchor: destRef, marker: res.Image})
		return excelize.Cell{StyleID: styleID}, nil
	default:
		return excelize.Cell{StyleID: styleID}, nil
	}
}

func applyMergesAndColumnsStreaming(f *excelize.File, sheet *blueprint.SheetSpec, expansions map[int]position.RepeatExpansion, plan *streamPlan) error {
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
			startRow, startCol, endRow, endCol := translateMergeStreaming(mc, region, exp, itemIdx, plan)
			startRef, _ := excelize.CoordinatesToCellName(startCol, startRow)
			endRef, _ := excelize.CoordinatesToCellName(endCol, endRow)
			if startRef == endRef {
				continue
			}
			if err := f.MergeCell(sheet.Name, startRef, endRef); err != nil {
				return tbegerr.New(tbegerr.PackageIO, "failed to re-create merge for repeat instance").At(sheet.Name, startRef).WithCause(err)
			}
		}
	}

	return layout.ApplyMergedCells(f, sheet.Name, staticMerges, plan, layout.Identity())
}

// translateMergeStreaming projects a template merge into item itemIdx's
// instance, using the stream plan's actual destination row numbering
// (which is densely packed, unlike the in-memory strategy's InsertRows
// offsets) for DOWN regions, and the same column-shift math for RIGHT
// regions combined with the plan's row translation.
func translateMergeStreaming(mc blueprint.MergedCellSpec, region blueprint.RepeatRegionSpec, exp position.RepeatExpansion, itemIdx int, plan *streamPlan) (startRow, startCol, endRow, endCol int) {
	if region.Direction == markers.DirectionRight {
		colShift := itemIdx * exp.SpanCols
		return plan.RenderedRow(mc.StartRow), mc.StartCol + colShift, plan.RenderedRow(mc.EndRow), mc.EndCol + colShift
	}
	base := plan.regionStart[region.ID][itemIdx]
	rowDelta := mc.StartRow - region.StartRow
	height := mc.EndRow - mc.StartRow
	return base + rowDelta, mc.StartCol, base + rowDelta + height, mc.EndCol
}
