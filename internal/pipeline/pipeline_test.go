package pipeline

import (
	"bytes"
	"context"
	"testing"

	"github.com/jogakdal/tbeg/internal/provider"
	"github.com/jogakdal/tbeg/internal/value"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildOrdersTemplate(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Customer: ${customer_name}"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "${REPEAT(orders, A2:B2, order, DOWN)}"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "${order.amount}"))
	require.NoError(t, f.SetCellValue("Sheet1", "A3", "Total"))
	require.NoError(t, f.SetCellFormula("Sheet1", "B3", "SUM(B2:B2)"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func ordersProvider() *provider.MapProvider {
	prov := provider.NewMapProvider()
	prov.Values["customer_name"] = value.Text("Acme Corp")
	prov.Collections["orders"] = []value.Value{
		value.Map(map[string]value.Value{"amount": value.Int(10)}),
		value.Map(map[string]value.Value{"amount": value.Int(20)}),
	}
	return prov
}

func TestPipeline_Run_RendersVariableAndRepeatRegion(t *testing.T) {
	p := New(nil)
	pc := &Context{
		TemplateBytes: buildOrdersTemplate(t),
		Provider:      ordersProvider(),
		Config:        DefaultConfig(),
	}

	err := p.Run(context.Background(), "test-gen", pc)
	require.NoError(t, err)
	require.NotEmpty(t, pc.ResultBytes)

	f, err := excelize.OpenReader(bytes.NewReader(pc.ResultBytes))
	require.NoError(t, err)
	defer f.Close()

	a1, err := f.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "Customer: Acme Corp", a1)

	b2, err := f.GetCellValue("Sheet1", "B2")
	require.NoError(t, err)
	require.Equal(t, "10", b2)

	b3, err := f.GetCellValue("Sheet1", "B3")
	require.NoError(t, err)
	require.Equal(t, "20", b3)

	a4, err := f.GetCellValue("Sheet1", "A4")
	require.NoError(t, err)
	require.Equal(t, "Total", a4)
}

func TestPipeline_Run_MetadataApplied(t *testing.T) {
	p := New(nil)
	prov := ordersProvider()
	prov.Metadata = provider.DocumentMetadata{Title: "Orders Report", Author: "Billing"}
	prov.HasMeta = true

	pc := &Context{
		TemplateBytes: buildOrdersTemplate(t),
		Provider:      prov,
		Config:        DefaultConfig(),
	}

	err := p.Run(context.Background(), "test-gen-meta", pc)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(pc.ResultBytes))
	require.NoError(t, err)
	defer f.Close()

	props, err := f.GetDocProps()
	require.NoError(t, err)
	require.Equal(t, "Orders Report", props.Title)
	require.Equal(t, "Billing", props.Creator)
}

func TestPipeline_Run_InvalidConfigRejected(t *testing.T) {
	p := New(nil)
	pc := &Context{
		TemplateBytes: buildOrdersTemplate(t),
		Provider:      ordersProvider(),
		Config:        Config{StreamingMode: "BOGUS"},
	}

	err := p.Run(context.Background(), "test-gen-bad-config", pc)
	require.Error(t, err)
}
