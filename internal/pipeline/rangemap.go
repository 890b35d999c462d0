package pipeline

import (
	"strings"

	"github.com/jogakdal/tbeg/internal/blueprint"
	"github.com/jogakdal/tbeg/internal/chartpreserve"
	"github.com/jogakdal/tbeg/internal/pivot"
	"github.com/jogakdal/tbeg/internal/position"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/xuri/excelize/v2"
)

// rangeMap re-projects an A1 range (or single cell) on a named sheet
// through that sheet's Position Calculator Plan, the shared geometry
// internal/pivot and internal/chartpreserve both need to keep source
// ranges and chart series references sound after repeat expansion.
type rangeMap struct {
	spec  *blueprint.WorkbookSpec
	plans map[string]*position.Plan
}

func newRangeMap(spec *blueprint.WorkbookSpec, plans map[string]*position.Plan) *rangeMap {
	return &rangeMap{spec: spec, plans: plans}
}

// Map implements the shared (sheet, rng string) (string, error) signature
// both pivot.RangeMapper and chartpreserve.RangeMapper declare.
func (rm *rangeMap) Map(sheet, rng string) (string, error) {
	plan, ok := rm.plans[sheet]
	if !ok {
		// A sheet outside the analyzed spec has no Plan; its ranges are
		// unchanged by rendering.
		return rng, nil
	}
	start, end, ok := splitRange(rng)
	if !ok {
		return rm.mapCell(plan, rng)
	}
	sc, sr, err1 := excelize.CellNameToCoordinates(start)
	ec, er, err2 := excelize.CellNameToCoordinates(end)
	if err1 != nil || err2 != nil {
		return "", tbegerr.New(tbegerr.InvalidRangeFormat, "pivot/chart source range is not a valid A1 range").At(sheet, rng)
	}
	nsr := plan.RowInfoFor(sr).RenderedRow
	// The range's bottom edge tracks the last emitted instance when it ends
	// inside an expanded region, so a source range covering a repeat's
	// template rows grows with the data it feeds.
	ner := plan.LastInstanceRow(er)
	nsc := sc + plan.ColOffset(sr, sc)
	nec := ec + plan.ColOffset(er, ec)
	newStart, _ := excelize.CoordinatesToCellName(nsc, nsr)
	newEnd, _ := excelize.CoordinatesToCellName(nec, ner)
	if newStart == newEnd {
		return newStart, nil
	}
	return newStart + ":" + newEnd, nil
}

func (rm *rangeMap) mapCell(plan *position.Plan, ref string) (string, error) {
	c, r, err := excelize.CellNameToCoordinates(ref)
	if err != nil {
		return "", tbegerr.New(tbegerr.InvalidRangeFormat, "pivot/chart source reference is not a valid cell").WithLiteral(ref)
	}
	nr := plan.RowInfoFor(r).RenderedRow
	nc := c + plan.ColOffset(r, c)
	name, _ := excelize.CoordinatesToCellName(nc, nr)
	return name, nil
}

func splitRange(rng string) (start, end string, ok bool) {
	if i := strings.IndexByte(rng, ':'); i >= 0 {
		return rng[:i], rng[i+1:], true
	}
	return "", "", false
}

// pivotMapper and chartMapper adapt rangeMap.Map to each package's own
// named function type — both are the identical underlying signature, so
// a plain conversion is all that's needed.
func (rm *rangeMap) pivotMapper() pivot.RangeMapper {
	return rm.Map
}

func (rm *rangeMap) chartMapper() chartpreserve.RangeMapper {
	return rm.Map
}

// pivotCellSource adapts *excelize.File's variadic GetCellValue/GetCellType
// to pivot.CellSource's fixed two-argument signature, so internal/pivot can
// read the already-rendered sheet's data without importing excelize
// options it never uses.
type pivotCellSource struct {
	f *excelize.File
}

func (s pivotCellSource) GetCellValue(sheet, cell string) (string, error) {
	return s.f.GetCellValue(sheet, cell)
}

func (s pivotCellSource) GetCellType(sheet, cell string) (excelize.CellType, error) {
	return s.f.GetCellType(sheet, cell)
}
