// Package layout implements the layout applier: re-projecting
// template-analyzed layout metadata — merged cells,
// conditional formatting ranges, column widths/row heights, header/footer
// text — onto the rendered sheet's actual coordinates after repeat-region
// expansion. It is the one pass every rendering strategy runs last,
// because the Streaming Strategy's underlying excelize.StreamWriter drops
// merges, images, and charts outright — this package is what restores the
// merges and the rest of the layout above afterward (images are placed by
// internal/imaging and charts restored by internal/chartpreserve).
package layout

import (
	"github.com/jogakdal/tbeg/internal/blueprint"
	"github.com/jogakdal/tbeg/internal/xmlvars"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/xuri/excelize/v2"
)

// RowMapper translates an original (template) row number to its rendered
// row number, after every repeat region above it has expanded.
type RowMapper interface {
	RenderedRow(originalRow int) int
}

// ColMapper is RowMapper's column-axis counterpart, used only when a
// RIGHT-direction repeat region shifts columns.
type ColMapper interface {
	RenderedCol(originalCol int) int
}

// identityMapper passes rows/columns through unchanged — used when a
// sheet has no repeat regions and layout needs no re-projection.
type identityMapper struct{}

func (identityMapper) RenderedRow(r int) int { return r }
func (identityMapper) RenderedCol(c int) int { return c }

// Identity returns a mapper with no translation, for sheets with no
// repeat regions.
func Identity() interface {
	RowMapper
	ColMapper
} {
	return identityMapper{}
}

// ApplyMergedCells re-creates every template merge at its rendered
// coordinates. A merge whose rows fall entirely within a repeat region
// that expanded to N>1 instances is re-created once per instance by the
// caller passing one MergedCellSpec per instance (the render strategy is
// responsible for enumerating instances; this function only re-projects
// coordinates, it does not know about collections).
func ApplyMergedCells(f *excelize.File, sheet string, merges []blueprint.MergedCellSpec, rows RowMapper, cols ColMapper) error {
	for _, mc := range merges {
		startRow := rows.RenderedRow(mc.StartRow)
		endRow := rows.RenderedRow(mc.EndRow)
		startCol := cols.RenderedCol(mc.StartCol)
		endCol := cols.RenderedCol(mc.EndCol)

		startRef, err := excelize.CoordinatesToCellName(startCol, startRow)
		if err != nil {
			return tbegerr.New(tbegerr.PackageIO, "invalid merge start coordinates").At(sheet, "").WithCause(err)
		}
		endRef, err := excelize.CoordinatesToCellName(endCol, endRow)
		if err != nil {
			return tbegerr.New(tbegerr.PackageIO, "invalid merge end coordinates").At(sheet, "").WithCause(err)
		}
		if startRef == endRef {
			continue // a one-cell "merge" after collapse is a no-op
		}
		if err := f.MergeCell(sheet, startRef, endRef); err != nil {
			return tbegerr.New(tbegerr.PackageIO, "failed to re-apply merged cell").At(sheet, startRef).WithCause(err)
		}
	}
	return nil
}

// ApplyColumnWidths restores the template's column widths. Columns are
// never shifted by a DOWN-direction repeat, so no ColMapper is needed;
// RIGHT-direction regions instead carry their own widths per instance,
// applied by the render strategy directly.
func ApplyColumnWidths(f *excelize.File, sheet string, widths map[int]float64) error {
	for col, width := range widths {
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			continue
		}
		if err := f.SetColWidth(sheet, name, name, width); err != nil {
			return tbegerr.New(tbegerr.PackageIO, "failed to apply column width").At(sheet, name).WithCause(err)
		}
	}
	return nil
}

// ApplyRowHeights restores per-row heights at their rendered row numbers.
// A row inside an expanded repeat region applies its height to every
// emitted instance row, since a single template row's height is the only
// information available for all of its clones.
func ApplyRowHeights(f *excelize.File, sheet string, rows []blueprint.RowSpec, mapper RowMapper, instanceRows func(originalRow int) []int) error {
	for _, row := range rows {
		if row.Height <= 0 {
			continue
		}
		targets := instanceRows(row.Index)
		if targets == nil {
			targets = []int{mapper.RenderedRow(row.Index)}
		}
		for _, r := range targets {
			if err := f.SetRowHeight(sheet, r, row.Height); err != nil {
				return tbegerr.New(tbegerr.PackageIO, "failed to apply row height").At(sheet, "").WithCause(err)
			}
		}
	}
	return nil
}

// ApplyHeaderFooter substitutes `${var}` tokens in the template's header
// and footer strings and writes the result back. Empty strings are
// skipped — excelize leaves the sheet's header/footer untouched unless
// SetHeaderFooter is called, and calling it with both empty would discard
// an existing one.
func ApplyHeaderFooter(f *excelize.File, sheet, headerText, footerText string, resolve xmlvars.Resolver) error {
	if headerText == "" && footerText == "" {
		return nil
	}
	opts := &excelize.HeaderFooterOptions{}
	if headerText != "" {
		rewritten, err := xmlvars.Rewrite(sheet+"#header", []byte(headerText), resolve)
		if err != nil {
			return err
		}
		opts.OddHeader = string(rewritten)
	}
	if footerText != "" {
		rewritten, err := xmlvars.Rewrite(sheet+"#footer", []byte(footerText), resolve)
		if err != nil {
			return err
		}
		opts.OddFooter = string(rewritten)
	}
	if err := f.SetHeaderFooter(sheet, opts); err != nil {
		return tbegerr.New(tbegerr.PackageIO, "failed to apply header/footer").At(sheet, "").WithCause(err)
	}
	return nil
}

// ApplyConditionalFormats re-projects every conditional-formatting range
// on sheet, preserving each format's dxf (differential format) reference
// exactly — only the range moves, never the rule. The range's top edge
// follows startRows (its first rendered row) and its bottom edge follows
// endRows, which for a range ending inside an expanded repeat region maps
// to the last emitted instance row — a rule on the region's template row
// covers every emitted copy under one widened range.
func ApplyConditionalFormats(f *excelize.File, sheet string, ranges []string, startRows, endRows RowMapper) error {
	for _, rng := range ranges {
		start, end, ok := splitRange(rng)
		if !ok {
			continue
		}
		opts, err := f.GetConditionalFormats(sheet)
		if err != nil {
			return tbegerr.New(tbegerr.PackageIO, "failed to read conditional formats").At(sheet, rng).WithCause(err)
		}
		rules, ok := opts[rng]
		if !ok {
			continue
		}
		newRange := reprojectRange(start, end, startRows, endRows)
		if newRange == rng {
			continue
		}
		if err := f.SetConditionalFormat(sheet, newRange, rules); err != nil {
			return tbegerr.New(tbegerr.PackageIO, "failed to re-apply conditional format").At(sheet, newRange).WithCause(err)
		}
	}
	return nil
}

func splitRange(rng string) (start, end string, ok bool) {
	for i := 0; i < len(rng); i++ {
		if rng[i] == ':' {
			return rng[:i], rng[i+1:], true
		}
	}
	return "", "", false
}

func reprojectRange(start, end string, startRows, endRows RowMapper) string {
	sc, sr, err1 := excelize.CellNameToCoordinates(start)
	ec, er, err2 := excelize.CellNameToCoordinates(end)
	if err1 != nil || err2 != nil {
		return start + ":" + end
	}
	newStart, _ := excelize.CoordinatesToCellName(sc, startRows.RenderedRow(sr))
	newEnd, _ := excelize.CoordinatesToCellName(ec, endRows.RenderedRow(er))
	return newStart + ":" + newEnd
}
