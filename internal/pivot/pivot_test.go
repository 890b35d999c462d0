package pivot

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/jogakdal/tbeg/internal/ooxmlparts"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildZip(t *testing.T, parts map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range parts {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func identityRangeMapper(sheet, rng string) (string, error) { return rng, nil }

// fakeCellSource serves a fixed grid of rows for tests; each row is a
// slice of (text, isNumeric) cells in column order.
type fakeCellSource struct {
	rows [][]fakeCell
}

type fakeCell struct {
	text    string
	numeric bool
}

func (f fakeCellSource) GetCellValue(sheet, cell string) (string, error) {
	col, row, err := excelize.CellNameToCoordinates(cell)
	if err != nil {
		return "", err
	}
	if row-1 >= len(f.rows) || col-1 >= len(f.rows[row-1]) {
		return "", nil
	}
	return f.rows[row-1][col-1].text, nil
}

func (f fakeCellSource) GetCellType(sheet, cell string) (excelize.CellType, error) {
	col, row, err := excelize.CellNameToCoordinates(cell)
	if err != nil {
		return excelize.CellTypeUnset, err
	}
	if row-1 >= len(f.rows) || col-1 >= len(f.rows[row-1]) {
		return excelize.CellTypeUnset, nil
	}
	if f.rows[row-1][col-1].numeric {
		return excelize.CellTypeNumber, nil
	}
	return excelize.CellTypeSharedString, nil
}

func TestExtract_CollectsAllThreePivotPartFamilies(t *testing.T) {
	data := buildZip(t, map[string]string{
		"xl/pivotCache/pivotCacheDefinition1.xml": `<pivotCacheDefinition><cacheSource type="worksheet"><worksheetSource ref="A1:D10" sheet="Data"/></cacheSource></pivotCacheDefinition>`,
		"xl/pivotCache/pivotCacheRecords1.xml":    `<pivotCacheRecords/>`,
		"xl/pivotTables/pivotTable1.xml":          `<pivotTableDefinition><location ref="A1:D10" firstHeaderRow="1"/></pivotTableDefinition>`,
	})
	pkg, err := ooxmlparts.OpenBytes(data)
	require.NoError(t, err)

	a := Extract(pkg)
	require.True(t, a.HasPivotTables())
	require.Len(t, a.CacheDefinitions, 1)
	require.Len(t, a.CacheRecords, 1)
	require.Len(t, a.TableDefinitions, 1)
}

func TestRebuild_RewritesWorksheetSourceForMatchingSheet(t *testing.T) {
	data := buildZip(t, map[string]string{
		"xl/pivotCache/pivotCacheDefinition1.xml": `<pivotCacheDefinition><cacheSource type="worksheet"><worksheetSource ref="A1:D10" sheet="Data"/></cacheSource></pivotCacheDefinition>`,
		"xl/pivotTables/pivotTable1.xml":          `<pivotTableDefinition><location ref="A1:D10" firstHeaderRow="1"/></pivotTableDefinition>`,
	})
	pkg, err := ooxmlparts.OpenBytes(data)
	require.NoError(t, err)
	a := Extract(pkg)

	mapper := func(sheet, rng string) (string, error) {
		require.Equal(t, "Data", sheet)
		require.Equal(t, "A1:D10", rng)
		return "A1:D40", nil
	}
	err = Rebuild(pkg, a, "Data", mapper, fakeCellSource{})
	require.NoError(t, err)

	cacheDef, ok := pkg.Part("xl/pivotCache/pivotCacheDefinition1.xml")
	require.True(t, ok)
	require.Contains(t, string(cacheDef), `ref="A1:D40"`)

	tableDef, ok := pkg.Part("xl/pivotTables/pivotTable1.xml")
	require.True(t, ok)
	require.Contains(t, string(tableDef), `ref="A1:D40"`)
	require.Contains(t, string(tableDef), `firstHeaderRow="1"`) // untouched attributes survive
}

func TestRebuild_SkipsWorksheetSourceFromDifferentSheet(t *testing.T) {
	data := buildZip(t, map[string]string{
		"xl/pivotCache/pivotCacheDefinition1.xml": `<pivotCacheDefinition><cacheSource type="worksheet"><worksheetSource ref="A1:D10" sheet="Other"/></cacheSource></pivotCacheDefinition>`,
	})
	pkg, err := ooxmlparts.OpenBytes(data)
	require.NoError(t, err)
	a := Extract(pkg)

	called := false
	mapper := func(sheet, rng string) (string, error) {
		called = true
		return rng, nil
	}
	err = Rebuild(pkg, a, "Data", mapper, fakeCellSource{})
	require.NoError(t, err)
	require.False(t, called)
}

func TestRebuild_NilArtifactIsNoop(t *testing.T) {
	data := buildZip(t, map[string]string{"xl/workbook.xml": "<workbook/>"})
	pkg, err := ooxmlparts.OpenBytes(data)
	require.NoError(t, err)
	require.NoError(t, Rebuild(pkg, nil, "Sheet1", identityRangeMapper, fakeCellSource{}))
}

func TestRebuild_RegeneratesCacheRecordsForReprojectedExtent(t *testing.T) {
	definition := `<pivotCacheDefinition><cacheSource type="worksheet"><worksheetSource ref="A1:B3" sheet="Data"/></cacheSource>` +
		`<cacheFields count="2">` +
		`<cacheField name="Name" numFmtId="0"><sharedItems count="2"><s v="old1"/><s v="old2"/></sharedItems></cacheField>` +
		`<cacheField name="Amount" numFmtId="0"><sharedItems containsSemiMixedTypes="0" containsString="0" containsNumber="1"/></cacheField>` +
		`</cacheFields></pivotCacheDefinition>`
	data := buildZip(t, map[string]string{
		"xl/pivotCache/pivotCacheDefinition1.xml": definition,
		"xl/pivotCache/pivotCacheRecords1.xml":    `<pivotCacheRecords count="2"><r><x v="0"/><n v="1"/></r><r><x v="1"/><n v="2"/></r></pivotCacheRecords>`,
	})
	pkg, err := ooxmlparts.OpenBytes(data)
	require.NoError(t, err)
	a := Extract(pkg)

	mapper := func(sheet, rng string) (string, error) { return "A1:B4", nil }
	cells := fakeCellSource{rows: [][]fakeCell{
		{{text: "Name"}, {text: "Amount"}},
		{{text: "Alice"}, {text: "10", numeric: true}},
		{{text: "Bob"}, {text: "20", numeric: true}},
		{{text: "Alice"}, {text: "30", numeric: true}},
	}}

	require.NoError(t, Rebuild(pkg, a, "Data", mapper, cells))

	cacheDef, ok := pkg.Part("xl/pivotCache/pivotCacheDefinition1.xml")
	require.True(t, ok)
	require.Contains(t, string(cacheDef), `ref="A1:B4"`)
	require.Contains(t, string(cacheDef), `<s v="Alice"/>`)
	require.Contains(t, string(cacheDef), `<s v="Bob"/>`)
	require.NotContains(t, string(cacheDef), "old1")

	records, ok := pkg.Part("xl/pivotCache/pivotCacheRecords1.xml")
	require.True(t, ok)
	require.Contains(t, string(records), `count="3"`)
	require.Contains(t, string(records), `<n v="10"/>`)
	require.Contains(t, string(records), `<x v="0"/>`) // Alice, first distinct value
}

func TestRebuild_StampsCacheHeaderAndFieldItems(t *testing.T) {
	definition := `<pivotCacheDefinition refreshOnLoad="1"><cacheSource type="worksheet"><worksheetSource ref="A1:B3" sheet="Data"/></cacheSource>` +
		`<cacheFields count="2">` +
		`<cacheField name="Name" numFmtId="0"><sharedItems count="2"><s v="old1"/><s v="old2"/></sharedItems></cacheField>` +
		`<cacheField name="Amount" numFmtId="0"><sharedItems containsSemiMixedTypes="0" containsString="0" containsNumber="1"/></cacheField>` +
		`</cacheFields></pivotCacheDefinition>`
	table := `<pivotTableDefinition name="PT" cacheId="1"><location ref="D1:E5" firstHeaderRow="1"/>` +
		`<pivotFields count="2">` +
		`<pivotField axis="axisRow" showAll="0"><items count="3"><item x="0"/><item x="1"/><item t="default"/></items></pivotField>` +
		`<pivotField dataField="1" showAll="0"/>` +
		`</pivotFields>` +
		`<rowItems count="2"><i><x/></i><i t="grand"><x/></i></rowItems>` +
		`<dataFields count="1"><dataField name="Sum of Amount" fld="1" subtotal="sum"/></dataFields>` +
		`</pivotTableDefinition>`
	data := buildZip(t, map[string]string{
		"xl/pivotCache/pivotCacheDefinition1.xml": definition,
		"xl/pivotCache/pivotCacheRecords1.xml":    `<pivotCacheRecords count="2"><r><x v="0"/><n v="1"/></r><r><x v="1"/><n v="2"/></r></pivotCacheRecords>`,
		"xl/pivotTables/pivotTable1.xml":          table,
	})
	pkg, err := ooxmlparts.OpenBytes(data)
	require.NoError(t, err)
	a := Extract(pkg)

	mapper := func(sheet, rng string) (string, error) { return "A1:B4", nil }
	cells := fakeCellSource{rows: [][]fakeCell{
		{{text: "Name"}, {text: "Amount"}},
		{{text: "Alice"}, {text: "10", numeric: true}},
		{{text: "Bob"}, {text: "20", numeric: true}},
		{{text: "Alice"}, {text: "30", numeric: true}},
	}}

	require.NoError(t, Rebuild(pkg, a, "Data", mapper, cells))

	cacheDef, ok := pkg.Part("xl/pivotCache/pivotCacheDefinition1.xml")
	require.True(t, ok)
	require.Contains(t, string(cacheDef), `refreshOnLoad="0"`)
	require.NotContains(t, string(cacheDef), `refreshOnLoad="1"`)
	require.Contains(t, string(cacheDef), `recordCount="3"`)

	tableDef, ok := pkg.Part("xl/pivotTables/pivotTable1.xml")
	require.True(t, ok)
	// Two distinct names observed -> <item x="0"/><item x="1"/> plus the
	// grand-total default item.
	require.Contains(t, string(tableDef), `<items count="3"><item x="0"/><item x="1"/><item t="default"/></items>`)
	require.Contains(t, string(tableDef), `baseField="0"`)
	require.Contains(t, string(tableDef), `baseItem="0"`)
	require.Contains(t, string(tableDef), `subtotal="sum"`)
	require.Contains(t, string(tableDef), `<i t="grand">`)
}

func TestEnsureDataFieldBase_KeepsExplicitBase(t *testing.T) {
	in := []byte(`<dataFields count="1"><dataField name="n" fld="1" baseField="2" baseItem="5"/></dataFields>`)
	out := ensureDataFieldBase(in)
	require.Contains(t, string(out), `baseField="2"`)
	require.Contains(t, string(out), `baseItem="5"`)
}
