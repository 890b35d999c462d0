package layout

import (
	"testing"

	"github.com/jogakdal/tbeg/internal/blueprint"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fixedRowMapper map[int]int

func (m fixedRowMapper) RenderedRow(r int) int {
	if v, ok := m[r]; ok {
		return v
	}
	return r
}

func TestApplyMergedCells_ReprojectsRows(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	merges := []blueprint.MergedCellSpec{
		{StartRow: 2, StartCol: 1, EndRow: 2, EndCol: 2},
	}
	rows := fixedRowMapper{2: 5}
	err := ApplyMergedCells(f, "Sheet1", merges, rows, identityMapper{})
	require.NoError(t, err)

	mergeList, err := f.GetMergeCells("Sheet1")
	require.NoError(t, err)
	require.Len(t, mergeList, 1)
	require.Equal(t, "A5", mergeList[0].GetStartAxis())
	require.Equal(t, "B5", mergeList[0].GetEndAxis())
}

func TestApplyMergedCells_SkipsCollapsedSingleCell(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	merges := []blueprint.MergedCellSpec{
		{StartRow: 1, StartCol: 1, EndRow: 1, EndCol: 1},
	}
	err := ApplyMergedCells(f, "Sheet1", merges, identityMapper{}, identityMapper{})
	require.NoError(t, err)

	mergeList, err := f.GetMergeCells("Sheet1")
	require.NoError(t, err)
	require.Empty(t, mergeList)
}

func TestApplyColumnWidths(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	err := ApplyColumnWidths(f, "Sheet1", map[int]float64{1: 25.5})
	require.NoError(t, err)

	width, err := f.GetColWidth("Sheet1", "A")
	require.NoError(t, err)
	require.InDelta(t, 25.5, width, 0.01)
}

func TestApplyRowHeights_DefaultsToMapperWhenNoInstances(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	rows := []blueprint.RowSpec{{Index: 1, Height: 30}}
	err := ApplyRowHeights(f, "Sheet1", rows, fixedRowMapper{1: 3}, func(int) []int { return nil })
	require.NoError(t, err)

	h, err := f.GetRowHeight("Sheet1", 3)
	require.NoError(t, err)
	require.InDelta(t, 30, h, 0.01)
}

func TestApplyRowHeights_AppliesToEveryInstance(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	rows := []blueprint.RowSpec{{Index: 2, Height: 18}}
	err := ApplyRowHeights(f, "Sheet1", rows, identityMapper{}, func(int) []int { return []int{2, 3, 4} })
	require.NoError(t, err)

	for _, r := range []int{2, 3, 4} {
		h, err := f.GetRowHeight("Sheet1", r)
		require.NoError(t, err)
		require.InDelta(t, 18, h, 0.01)
	}
}

func TestApplyHeaderFooter_SubstitutesVariables(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	err := ApplyHeaderFooter(f, "Sheet1", "Report for ${region}", "", func(name string) (string, bool) {
		if name == "region" {
			return "EMEA", true
		}
		return "", false
	})
	require.NoError(t, err)
}

func TestApplyHeaderFooter_NoopWhenEmpty(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	err := ApplyHeaderFooter(f, "Sheet1", "", "", func(string) (string, bool) { return "", false })
	require.NoError(t, err)
}

func TestReprojectRange(t *testing.T) {
	out := reprojectRange("A2", "C2", fixedRowMapper{2: 6}, fixedRowMapper{2: 6})
	require.Equal(t, "A6:C6", out)
}

func TestReprojectRange_EndMapperWidensOverInstances(t *testing.T) {
	// A rule on the repeat template row B2:B2 with three emitted items:
	// the start stays at item 0's row, the end stretches to item 2's.
	out := reprojectRange("B2", "B2", fixedRowMapper{2: 2}, fixedRowMapper{2: 4})
	require.Equal(t, "B2:B4", out)
}

func TestSplitRange(t *testing.T) {
	start, end, ok := splitRange("A1:B2")
	require.True(t, ok)
	require.Equal(t, "A1", start)
	require.Equal(t, "B2", end)

	_, _, ok = splitRange("A1")
	require.False(t, ok)
}
