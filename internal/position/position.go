// Package position implements the position calculator: given a sheet's
// analyzed repeat regions and the item count each collection produced,
// it computes where every original row
// (or column, for a RIGHT-direction region) lands in the rendered output,
// and how many rows/columns a single repeated instance actually needs —
// the "max-over-span" rule, driven by merged cells that reach beyond a
// region's nominal one-row template.
package position

import (
	"sort"

	"github.com/jogakdal/tbeg/internal/blueprint"
)

// RepeatExpansion is the resolved geometry of one repeat region once its
// collection's item count is known.
type RepeatExpansion struct {
	Region    blueprint.RepeatRegionSpec
	ItemCount int

	// SpanRows/SpanCols is the per-instance footprint: normally the
	// template range's own row/column count, but widened when a merged
	// cell touching the region reaches further (max-over-span rule).
	SpanRows int
	SpanCols int

	// TotalRows/TotalCols is the region's total footprint in the rendered
	// output: SpanRows*ItemCount for a DOWN region (SpanCols*ItemCount for
	// RIGHT), collapsed to the template's own single span when ItemCount
	// is 0, whether or not the region carries an EmptyRange override.
	TotalRows int
	TotalCols int

	// IsEmpty is true when the collection produced zero items.
	IsEmpty bool
}

// Expand resolves one region's geometry given its collection's item count.
func Expand(sheet *blueprint.SheetSpec, region blueprint.RepeatRegionSpec, itemCount int) RepeatExpansion {
	templateRows := region.EndRow - region.StartRow + 1
	templateCols := region.EndCol - region.StartCol + 1

	spanRows := templateRows
	spanCols := templateCols
	for _, mc := range sheet.MergedCells {
		if !touchesRegion(mc, region) {
			continue
		}
		if h := mc.EndRow - mc.StartRow + 1; h > spanRows {
			spanRows = h
		}
		if w := mc.EndCol - mc.StartCol + 1; w > spanCols {
			spanCols = w
		}
	}

	exp := RepeatExpansion{
		Region:    region,
		ItemCount: itemCount,
		SpanRows:  spanRows,
		SpanCols:  spanCols,
		IsEmpty:   itemCount == 0,
	}

	switch region.Direction {
	case "RIGHT":
		if itemCount == 0 {
			exp.TotalRows = templateRows
			exp.TotalCols = templateCols
		} else {
			exp.TotalRows = templateRows
			exp.TotalCols = spanCols * itemCount
		}
	default: // DOWN
		if itemCount == 0 {
			exp.TotalRows = templateRows
			exp.TotalCols = templateCols
		} else {
			exp.TotalRows = spanRows * itemCount
			exp.TotalCols = templateCols
		}
	}
	return exp
}

func touchesRegion(mc blueprint.MergedCellSpec, region blueprint.RepeatRegionSpec) bool {
	if mc.StartRow < region.StartRow || mc.StartRow > region.EndRow {
		return false
	}
	if mc.StartCol < region.StartCol || mc.StartCol > region.EndCol {
		return false
	}
	return true
}

// InstanceOrigin returns the top-left (row, col) of item index i's instance
// within the expansion, relative to the region's own template origin (i.e.
// before any translation for regions that precede it on the sheet).
func (e RepeatExpansion) InstanceOrigin(itemIndex int) (row, col int) {
	switch e.Region.Direction {
	case "RIGHT":
		return e.Region.StartRow, e.Region.StartCol + itemIndex*e.SpanCols
	default:
		return e.Region.StartRow + itemIndex*e.SpanRows, e.Region.StartCol
	}
}

// Plan sequences every region on a sheet (sorted top-to-bottom by
// StartRow) into a single row-offset function: rows before the first
// region are unshifted, rows inside a region are remapped per its
// expansion, and rows after a region are shifted by that region's total
// row delta, accumulated across every region above them.
type Plan struct {
	sheet      *blueprint.SheetSpec
	expansions map[int]RepeatExpansion // by region ID
	ordered    []blueprint.RepeatRegionSpec
}

// NewPlan builds a Plan from a sheet and the resolved expansion for each of
// its repeat regions (keyed by RepeatRegionSpec.ID).
func NewPlan(sheet *blueprint.SheetSpec, expansions map[int]RepeatExpansion) *Plan {
	ordered := make([]blueprint.RepeatRegionSpec, len(sheet.RepeatRegions))
	copy(ordered, sheet.RepeatRegions)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].StartRow < ordered[j].StartRow })
	return &Plan{sheet: sheet, expansions: expansions, ordered: ordered}
}

// RowOffset returns the net number of rows added above originalRow by
// every region that starts at or before it. It is never negative: an
// empty collection keeps its region's template span.
func (p *Plan) RowOffset(originalRow int) int {
	offset := 0
	for _, region := range p.ordered {
		if region.StartRow > originalRow {
			break
		}
		exp := p.expansions[region.ID]
		templateRows := region.EndRow - region.StartRow + 1
		if region.StartRow <= originalRow && originalRow <= region.EndRow {
			// originalRow is inside this region's own template span; its
			// rendered position is resolved via InstanceRow, not a flat
			// offset, but rows above already accumulated delta apply.
			continue
		}
		offset += exp.TotalRows - templateRows
	}
	return offset
}

// TotalRows returns the sheet's total rendered row count, given its
// original used-range row count.
func (p *Plan) TotalRows(originalRowCount int) int {
	return originalRowCount + p.RowOffset(originalRowCount+1)
}

// IsInEmptyRange reports whether originalRow falls inside a region whose
// collection produced zero items — such a row is rendered once,
// verbatim, unless the region specified an
// EmptyRange override naming a different span to keep instead.
func (p *Plan) IsInEmptyRange(originalRow int) (region blueprint.RepeatRegionSpec, ok bool) {
	for _, r := range p.ordered {
		exp, known := p.expansions[r.ID]
		if !known || !exp.IsEmpty {
			continue
		}
		if originalRow >= r.StartRow && originalRow <= r.EndRow {
			return r, true
		}
	}
	return blueprint.RepeatRegionSpec{}, false
}

// ColOffset returns the net number of columns added (or removed) before
// originalCol on originalRow's own band by every RIGHT-direction region
// that (a) sits on a row range covering originalRow and (b) ends at or
// before originalCol — the column-axis counterpart of RowOffset, used by
// the orchestrator's post-render range re-projection (pivot source
// ranges, chart series references) since neither artifact family is
// rewritten through the render strategies' own column bookkeeping.
func (p *Plan) ColOffset(originalRow, originalCol int) int {
	offset := 0
	for _, region := range p.ordered {
		if region.Direction != "RIGHT" {
			continue
		}
		if originalRow < region.StartRow || originalRow > region.EndRow {
			continue
		}
		if originalCol <= region.EndCol {
			continue
		}
		exp, ok := p.expansions[region.ID]
		if !ok {
			continue
		}
		templateCols := region.EndCol - region.StartCol + 1
		offset += exp.TotalCols - templateCols
	}
	return offset
}

// RowInfo describes how one original row maps into the rendered sheet.
type RowInfo struct {
	OriginalRow int
	RenderedRow int
	InRegion    bool
	RegionID    int
	ItemIndex   int // -1 when not a repeated instance row
}

// RowInfoFor computes the rendered position of originalRow. For rows
// inside a DOWN region, RenderedRow is item 0's copy of that row —
// originalRow shifted only by the regions entirely above it, since item 0
// keeps the template's own internal layout. Later instances' copies are
// at RenderedRow + itemIndex*SpanRows.
func (p *Plan) RowInfoFor(originalRow int) RowInfo {
	base := originalRow + p.RowOffset(originalRow)
	for _, region := range p.ordered {
		if originalRow < region.StartRow || originalRow > region.EndRow {
			continue
		}
		exp := p.expansions[region.ID]
		if region.Direction == "RIGHT" || exp.IsEmpty {
			return RowInfo{OriginalRow: originalRow, RenderedRow: base, InRegion: true, RegionID: region.ID, ItemIndex: -1}
		}
		return RowInfo{OriginalRow: originalRow, RenderedRow: base, InRegion: true, RegionID: region.ID, ItemIndex: 0}
	}
	return RowInfo{OriginalRow: originalRow, RenderedRow: base, InRegion: false, ItemIndex: -1}
}

// LastInstanceRow returns the rendered row of originalRow's last emitted
// copy: for a row inside a non-empty DOWN region that is item N-1's copy,
// for every other row the same single rendered row RowInfoFor reports. It
// is the bottom edge a range ending on originalRow must extend to once
// the region has expanded (conditional-format ranges, pivot and chart
// source ranges).
func (p *Plan) LastInstanceRow(originalRow int) int {
	info := p.RowInfoFor(originalRow)
	if !info.InRegion || info.ItemIndex < 0 {
		return info.RenderedRow
	}
	exp := p.expansions[info.RegionID]
	if exp.IsEmpty || exp.ItemCount <= 1 {
		return info.RenderedRow
	}
	return info.RenderedRow + (exp.ItemCount-1)*exp.SpanRows
}
