package blueprint

import (
	"testing"

	"github.com/jogakdal/tbeg/internal/markers"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestAnalyze_StaticAndVariableCells(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Invoice"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "${customer_name}"))
	require.NoError(t, f.SetCellValue("Sheet1", "C1", 42))

	spec, err := Analyze(f)
	require.NoError(t, err)
	require.Len(t, spec.Sheets, 1)

	sheet := spec.Sheets[0]
	require.Equal(t, "Sheet1", sheet.Name)
	require.Len(t, sheet.Rows, 1)
	row := sheet.Rows[0]
	require.Len(t, row.Cells, 3)

	_, ok := row.Cells[0].Content.(markers.StaticString)
	require.True(t, ok)

	v, ok := row.Cells[1].Content.(markers.Variable)
	require.True(t, ok)
	require.Equal(t, "customer_name", v.Name)

	require.Contains(t, spec.RequiredNames.Variables, "customer_name")
}

func TestAnalyze_RepeatRegionMarksRows(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Header"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "${REPEAT(orders, A2:C2, order, DOWN)}"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "${order.name}"))
	require.NoError(t, f.SetCellValue("Sheet1", "C2", "${order.amount}"))

	spec, err := Analyze(f)
	require.NoError(t, err)

	sheet := spec.Sheets[0]
	require.Len(t, sheet.RepeatRegions, 1)
	region := sheet.RepeatRegions[0]
	require.Equal(t, "orders", region.Collection)
	require.Equal(t, "order", region.Variable)
	require.Equal(t, markers.DirectionDown, region.Direction)
	require.Equal(t, 2, region.StartRow)
	require.Equal(t, 2, region.EndRow)

	var row2 RowSpec
	for _, r := range sheet.Rows {
		if r.Index == 2 {
			row2 = r
		}
	}
	require.Equal(t, RowRepeatAnchor, row2.Kind)
	require.Equal(t, 0, row2.RegionID)
	require.Contains(t, spec.RequiredNames.Collections, "orders")
}

func TestAnalyze_OverlappingRepeatRegionsRejected(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "${REPEAT(orders, A1:B2, order, DOWN)}"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "${REPEAT(items, A2:B3, item, DOWN)}"))

	_, err := Analyze(f)
	require.Error(t, err)
}

func TestAnalyze_MergedCellsCarried(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Title"))
	require.NoError(t, f.MergeCell("Sheet1", "A1", "C1"))

	spec, err := Analyze(f)
	require.NoError(t, err)
	sheet := spec.Sheets[0]
	require.Len(t, sheet.MergedCells, 1)
	mc := sheet.MergedCells[0]
	require.Equal(t, 1, mc.StartRow)
	require.Equal(t, 1, mc.StartCol)
	require.Equal(t, 3, mc.EndCol)
}

func TestAnalyze_FormulaCell(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", 1))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", 2))
	require.NoError(t, f.SetCellFormula("Sheet1", "A3", "SUM(A1:A2)"))

	spec, err := Analyze(f)
	require.NoError(t, err)
	sheet := spec.Sheets[0]
	var a3 CellSpec
	for _, c := range sheet.Rows[2].Cells {
		if c.Ref == "A3" {
			a3 = c
		}
	}
	_, ok := a3.Content.(markers.Formula)
	require.True(t, ok)
}
