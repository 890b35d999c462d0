package tbeg_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jogakdal/tbeg"
	"github.com/jogakdal/tbeg/internal/provider"
	"github.com/jogakdal/tbeg/internal/value"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildInvoiceTemplate(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Customer: ${customer_name}"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "${REPEAT(orders, A2:B2, order, DOWN)}"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "${order.name}"))
	require.NoError(t, f.SetCellFormula("Sheet1", "A3", "1+1"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func invoiceProvider() *provider.MapProvider {
	prov := provider.NewMapProvider()
	prov.Values["customer_name"] = value.Text("Acme Corp")
	prov.Collections["orders"] = []value.Value{
		value.Map(map[string]value.Value{"name": value.Text("Bolt")}),
		value.Map(map[string]value.Value{"name": value.Text("Nut")}),
	}
	return prov
}

func TestEngine_GenerateRendersTemplate(t *testing.T) {
	engine := tbeg.NewEngine()
	template := buildInvoiceTemplate(t)

	out, err := engine.Generate(context.Background(), "gen-1", template, invoiceProvider(), tbeg.DefaultConfig())
	require.NoError(t, err)
	require.NotEmpty(t, out)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	a1, err := f.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "Customer: Acme Corp", a1)

	b2, err := f.GetCellValue("Sheet1", "B2")
	require.NoError(t, err)
	require.Equal(t, "Bolt", b2)

	b3, err := f.GetCellValue("Sheet1", "B3")
	require.NoError(t, err)
	require.Equal(t, "Nut", b3)
}

func TestEngine_GenerateMissingVariableErrors(t *testing.T) {
	engine := tbeg.NewEngine()
	template := buildInvoiceTemplate(t)

	prov := provider.NewMapProvider()
	prov.Collections["orders"] = []value.Value{
		value.Map(map[string]value.Value{"name": value.Text("Bolt")}),
	}

	_, err := engine.Generate(context.Background(), "gen-2", template, prov, tbeg.DefaultConfig())
	require.Error(t, err)
}

func TestIsRetryable_NonTbegError(t *testing.T) {
	require.False(t, tbeg.IsRetryable(errors.New("plain error")))
}
