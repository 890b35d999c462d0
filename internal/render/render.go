// Package render implements the two rendering strategies: turning an
// analyzed blueprint.WorkbookSpec plus a provider.Provider into a
// finished workbook. Two strategies share the same cell-evaluation
// core (eval.go) but differ in how they write the result: InMemoryStrategy
// mutates an open *excelize.File directly, inserting rows/columns as
// repeat regions expand; StreamingStrategy writes every sheet sequentially
// through excelize's own NewStreamWriter, trading random-access row
// insertion for bounded memory on very large sheets, then runs internal/layout to
// restore the merges and internal/imaging to place the images the stream
// writer drops (charts are restored later by internal/chartpreserve).
package render

import (
	"context"
	"sort"

	"github.com/jogakdal/tbeg/internal/blueprint"
	"github.com/jogakdal/tbeg/internal/markers"
	"github.com/jogakdal/tbeg/internal/position"
	"github.com/jogakdal/tbeg/internal/provider"
	"github.com/jogakdal/tbeg/internal/value"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/xuri/excelize/v2"
)

// Strategy renders one analyzed workbook into f using prov as the data
// source. Implementations own their own sheet-by-sheet iteration; the
// pipeline only calls Render once per generation.
type Strategy interface {
	Render(ctx context.Context, f *excelize.File, spec *blueprint.WorkbookSpec, prov provider.Provider) error
}

// Options tunes per-generation strategy behavior. The zero value renders
// strictly: missing data aborts, and no progress is reported.
type Options struct {
	// MissingDataWarn keeps a marker's original template text in place of
	// a value the provider cannot supply, instead of aborting.
	MissingDataWarn bool

	// Progress, when non-nil, is called with rows emitted so far every
	// ProgressInterval rows during streaming render (and once more when a
	// sheet finishes).
	ProgressInterval int
	Progress         func(sheet string, rowsEmitted, totalRows int)
}

// pendingImage defers an image insertion until after cell values/formulas
// for a sheet are written, since AddPictureFromBytes anchors to a cell that
// may not have been created yet (a freshly-inserted repeat-region row).
type pendingImage struct {
	sheet  string
	anchor string
	marker markers.ImageMarker
}

// materializeItems pulls every item from a fresh iterator over name. The
// in-memory strategy needs every item up front to compute a region's
// expansion before it can insert rows; the streaming strategy instead
// consumes the iterator once, in order (see streaming.go).
func materializeItems(prov provider.Provider, name string) ([]value.Value, error) {
	it, ok := prov.GetItems(name)
	if !ok {
		return nil, tbegerr.New(tbegerr.MissingTemplateData, "data provider has no collection for this name").WithLiteral(name)
	}
	defer it.Close()
	var items []value.Value
	for it.Next() {
		items = append(items, it.Item())
	}
	if err := it.Err(); err != nil {
		return nil, tbegerr.New(tbegerr.MissingTemplateData, "iterator failed while materializing collection").WithLiteral(name).WithCause(err)
	}
	return items, nil
}

// regionsDescByStartRow returns regions sorted bottom-to-top, so expanding
// them in this order never invalidates a not-yet-processed region's row
// coordinates (regions are expanded in reverse document order).
func regionsDescByStartRow(regions []blueprint.RepeatRegionSpec) []blueprint.RepeatRegionSpec {
	out := make([]blueprint.RepeatRegionSpec, len(regions))
	copy(out, regions)
	sort.Slice(out, func(i, j int) bool { return out[i].StartRow > out[j].StartRow })
	return out
}

func findRowSpec(sheet *blueprint.SheetSpec, originalRow int) (blueprint.RowSpec, bool) {
	for _, r := range sheet.Rows {
		if r.Index == originalRow {
			return r, true
		}
	}
	return blueprint.RowSpec{}, false
}

// ExpansionsForSheet resolves sheet's repeat-region geometry and pulls
// every collection referenced on it, exported so the orchestrator's
// NumberFormat pass can walk the same per-item bindings the
// render strategies used, without duplicating the iteration logic.
func ExpansionsForSheet(sheet *blueprint.SheetSpec, prov provider.Provider) (map[int]position.RepeatExpansion, map[int][]value.Value, error) {
	return expansionsForSheet(sheet, prov)
}

// BuildPlan resolves sheet's repeat-region geometry against prov and
// returns the Position Calculator Plan over it, the same arithmetic the
// render strategies use internally — exposed so the orchestrator's
// post-render passes (pivot source re-projection, chart series
// re-projection, conditional-format/header-footer re-projection) can
// re-derive rendered coordinates without re-running a full Strategy.
func BuildPlan(sheet *blueprint.SheetSpec, prov provider.Provider) (*position.Plan, error) {
	expansions, _, err := expansionsForSheet(sheet, prov)
	if err != nil {
		return nil, err
	}
	return position.NewPlan(sheet, expansions), nil
}

func expansionsForSheet(sheet *blueprint.SheetSpec, prov provider.Provider) (map[int]position.RepeatExpansion, map[int][]value.Value, error) {
	expansions := map[int]position.RepeatExpansion{}
	items := map[int][]value.Value{}
	for _, region := range sheet.RepeatRegions {
		its, err := materializeItems(prov, region.Collection)
		if err != nil {
			return nil, nil, err.(*tbegerr.Error).At(sheet.Name, region.AnchorCell)
		}
		items[region.ID] = its
		expansions[region.ID] = position.Expand(sheet, region, len(its))
	}
	return expansions, items, nil
}
