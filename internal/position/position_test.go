package position

import (
	"math/rand/v2"
	"testing"

	"github.com/jogakdal/tbeg/internal/blueprint"
	"github.com/jogakdal/tbeg/internal/markers"
)

func TestExpand_DownRegionSpanFromTemplate(t *testing.T) {
	sheet := &blueprint.SheetSpec{}
	region := blueprint.RepeatRegionSpec{
		ID: 0, StartRow: 2, EndRow: 2, StartCol: 1, EndCol: 3, Direction: markers.DirectionDown,
	}
	exp := Expand(sheet, region, 5)
	if exp.SpanRows != 1 {
		t.Fatalf("span rows = %d, want 1", exp.SpanRows)
	}
	if exp.TotalRows != 5 {
		t.Fatalf("total rows = %d, want 5", exp.TotalRows)
	}
}

func TestExpand_MaxOverSpanFromMergedCell(t *testing.T) {
	sheet := &blueprint.SheetSpec{
		MergedCells: []blueprint.MergedCellSpec{
			{StartRow: 2, StartCol: 1, EndRow: 3, EndCol: 1},
		},
	}
	region := blueprint.RepeatRegionSpec{
		ID: 0, StartRow: 2, EndRow: 2, StartCol: 1, EndCol: 3, Direction: markers.DirectionDown,
	}
	exp := Expand(sheet, region, 4)
	if exp.SpanRows != 2 {
		t.Fatalf("span rows = %d, want 2 (widened by merged cell)", exp.SpanRows)
	}
	if exp.TotalRows != 8 {
		t.Fatalf("total rows = %d, want 8", exp.TotalRows)
	}
}

func TestExpand_EmptyCollectionCollapsesToTemplate(t *testing.T) {
	sheet := &blueprint.SheetSpec{}
	region := blueprint.RepeatRegionSpec{ID: 0, StartRow: 5, EndRow: 5, StartCol: 1, EndCol: 2, Direction: markers.DirectionDown}
	exp := Expand(sheet, region, 0)
	if !exp.IsEmpty {
		t.Fatalf("expected IsEmpty")
	}
	if exp.TotalRows != 1 {
		t.Fatalf("total rows = %d, want 1 (template span retained)", exp.TotalRows)
	}
}

func TestPlan_RowOffsetAccumulatesAcrossRegions(t *testing.T) {
	sheet := &blueprint.SheetSpec{
		RepeatRegions: []blueprint.RepeatRegionSpec{
			{ID: 0, StartRow: 2, EndRow: 2, StartCol: 1, EndCol: 1, Direction: markers.DirectionDown},
			{ID: 1, StartRow: 6, EndRow: 6, StartCol: 1, EndCol: 1, Direction: markers.DirectionDown},
		},
	}
	expansions := map[int]RepeatExpansion{
		0: Expand(sheet, sheet.RepeatRegions[0], 3), // +2 rows
		1: Expand(sheet, sheet.RepeatRegions[1], 2), // +1 row
	}
	plan := NewPlan(sheet, expansions)

	// Row 1 precedes both regions: no shift yet.
	if got := plan.RowOffset(1); got != 0 {
		t.Fatalf("offset(1) = %d, want 0", got)
	}
	// Row 10 is below both regions: full accumulated shift.
	if got := plan.RowOffset(10); got != 3 {
		t.Fatalf("offset(10) = %d, want 3", got)
	}
}

func TestPlan_IsInEmptyRange(t *testing.T) {
	sheet := &blueprint.SheetSpec{
		RepeatRegions: []blueprint.RepeatRegionSpec{
			{ID: 0, StartRow: 4, EndRow: 4, StartCol: 1, EndCol: 2, Direction: markers.DirectionDown},
		},
	}
	expansions := map[int]RepeatExpansion{0: Expand(sheet, sheet.RepeatRegions[0], 0)}
	plan := NewPlan(sheet, expansions)

	if _, ok := plan.IsInEmptyRange(4); !ok {
		t.Fatalf("expected row 4 to be in the empty range")
	}
	if _, ok := plan.IsInEmptyRange(5); ok {
		t.Fatalf("row 5 should not be in any empty range")
	}
}

func TestPlan_LastInstanceRowStretchesOverRegion(t *testing.T) {
	sheet := &blueprint.SheetSpec{
		RepeatRegions: []blueprint.RepeatRegionSpec{
			{ID: 0, StartRow: 2, EndRow: 2, StartCol: 2, EndCol: 2, Direction: markers.DirectionDown},
		},
	}
	expansions := map[int]RepeatExpansion{0: Expand(sheet, sheet.RepeatRegions[0], 3)}
	plan := NewPlan(sheet, expansions)

	// Item 0's copy of the template row stays at row 2; the last copy is
	// row 4, so a range ending on row 2 stretches to 4.
	if got := plan.RowInfoFor(2).RenderedRow; got != 2 {
		t.Fatalf("RowInfoFor(2) = %d, want 2", got)
	}
	if got := plan.LastInstanceRow(2); got != 4 {
		t.Fatalf("LastInstanceRow(2) = %d, want 4", got)
	}
	// A static row keeps one rendered position for both edges.
	if got := plan.LastInstanceRow(1); got != 1 {
		t.Fatalf("LastInstanceRow(1) = %d, want 1", got)
	}
	if got := plan.LastInstanceRow(5); got != 7 {
		t.Fatalf("LastInstanceRow(5) = %d, want 7 (shifted below the region)", got)
	}
}

// TestExpand_TotalRowsNeverLessThanItemCount is a property check over
// random region shapes and item counts: a non-empty DOWN region's total
// rendered rows must always be at least its item count (each item gets at
// least one row) and exactly spanRows*itemCount.
func TestExpand_TotalRowsNeverLessThanItemCount(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		startRow := 1 + rng.IntN(50)
		templateHeight := 1 + rng.IntN(4)
		itemCount := 1 + rng.IntN(30)

		sheet := &blueprint.SheetSpec{}
		region := blueprint.RepeatRegionSpec{
			ID: 0, StartRow: startRow, EndRow: startRow + templateHeight - 1,
			StartCol: 1, EndCol: 1, Direction: markers.DirectionDown,
		}
		exp := Expand(sheet, region, itemCount)
		if exp.TotalRows < itemCount {
			t.Fatalf("total rows %d < item count %d (region %+v)", exp.TotalRows, itemCount, region)
		}
		if exp.TotalRows != exp.SpanRows*itemCount {
			t.Fatalf("total rows %d != spanRows(%d)*itemCount(%d)", exp.TotalRows, exp.SpanRows, itemCount)
		}
	}
}
