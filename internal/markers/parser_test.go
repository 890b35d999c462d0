package markers

import (
	"testing"

	"github.com/jogakdal/tbeg/pkg/tbegerr"
)

func TestParseTextCell_Static(t *testing.T) {
	cc, err := ParseTextCell("Quarterly Report")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ss, ok := cc.(StaticString)
	if !ok {
		t.Fatalf("got %T, want StaticString", cc)
	}
	if ss.Text != "Quarterly Report" {
		t.Fatalf("text = %q", ss.Text)
	}
}

func TestParseTextCell_Empty(t *testing.T) {
	cc, err := ParseTextCell("   ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := cc.(Empty); !ok {
		t.Fatalf("got %T, want Empty", cc)
	}
}

func TestParseTextCell_Number(t *testing.T) {
	cc, err := ParseTextCell("42.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sn, ok := cc.(StaticNumber)
	if !ok {
		t.Fatalf("got %T, want StaticNumber", cc)
	}
	if sn.Value != 42.5 {
		t.Fatalf("value = %v", sn.Value)
	}
}

func TestParseTextCell_Variable(t *testing.T) {
	cc, err := ParseTextCell("${customer_name}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	v, ok := cc.(Variable)
	if !ok {
		t.Fatalf("got %T, want Variable", cc)
	}
	if v.Name != "customer_name" {
		t.Fatalf("name = %q", v.Name)
	}
}

func TestParseTextCell_ItemField(t *testing.T) {
	cc, err := ParseTextCell("${row.customer.name}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f, ok := cc.(ItemField)
	if !ok {
		t.Fatalf("got %T, want ItemField", cc)
	}
	if f.ItemVar != "row" {
		t.Fatalf("item var = %q", f.ItemVar)
	}
	if len(f.FieldPath) != 2 || f.FieldPath[0] != "customer" || f.FieldPath[1] != "name" {
		t.Fatalf("field path = %v", f.FieldPath)
	}
}

func TestParseTextCell_RepeatMarkerPositional(t *testing.T) {
	cc, err := ParseTextCell(`${REPEAT(orders, A2:D2, order, DOWN)}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rm, ok := cc.(RepeatMarker)
	if !ok {
		t.Fatalf("got %T, want RepeatMarker", cc)
	}
	if rm.Collection != "orders" || rm.Range != "A2:D2" || rm.Variable != "order" || rm.Direction != DirectionDown {
		t.Fatalf("unexpected repeat marker: %+v", rm)
	}
}

func TestParseTextCell_RepeatMarkerNamed(t *testing.T) {
	cc, err := ParseTextCell(`${REPEAT(collection=orders, range=A2:D2, variable=order, direction=RIGHT)}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rm, ok := cc.(RepeatMarker)
	if !ok {
		t.Fatalf("got %T, want RepeatMarker", cc)
	}
	if rm.Direction != DirectionRight {
		t.Fatalf("direction = %v", rm.Direction)
	}
}

func TestParseTextCell_RepeatMarkerNamedPrimaryAliases(t *testing.T) {
	cc, err := ParseTextCell(`${REPEAT(collection=orders, range=A2:D2, var=order, empty=A10:D10)}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rm, ok := cc.(RepeatMarker)
	if !ok {
		t.Fatalf("got %T, want RepeatMarker", cc)
	}
	if rm.Variable != "order" || rm.EmptyRange != "A10:D10" {
		t.Fatalf("unexpected repeat marker: %+v", rm)
	}
}

func TestParseTextCell_RepeatMarkerNamedEmptyRangeAlias(t *testing.T) {
	cc, err := ParseTextCell(`${REPEAT(collection=orders, range=A2:D2, variable=order, emptyRange=A10:D10)}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rm, ok := cc.(RepeatMarker)
	if !ok {
		t.Fatalf("got %T, want RepeatMarker", cc)
	}
	if rm.EmptyRange != "A10:D10" {
		t.Fatalf("empty range = %q", rm.EmptyRange)
	}
}

func TestParseTextCell_RepeatMarkerMissingRequired(t *testing.T) {
	_, err := ParseTextCell(`${REPEAT(orders)}`)
	if err == nil {
		t.Fatalf("expected error for missing range/variable")
	}
	kind, ok := tbegerr.KindOf(err)
	if !ok || kind != tbegerr.MissingRequiredParam {
		t.Fatalf("kind = %v, ok = %v", kind, ok)
	}
}

func TestParseTextCell_RepeatMarkerMixedArgsRejected(t *testing.T) {
	_, err := ParseTextCell(`${REPEAT(orders, range=A2:D2, variable=order)}`)
	if err == nil {
		t.Fatalf("expected error for mixed positional/named args")
	}
}

func TestParseTextCell_ImageMarkerSizes(t *testing.T) {
	cases := map[string]SizeSpec{
		"${IMAGE(name=logo)}":                       {Kind: SizeFitToCell},
		"${IMAGE(name=logo, size=original)}":        {Kind: SizeOriginal},
		"${IMAGE(name=logo, size=120:40)}":          {Kind: SizeFixed, Width: 120, Height: 40},
	}
	for text, want := range cases {
		cc, err := ParseTextCell(text)
		if err != nil {
			t.Fatalf("%s: parse: %v", text, err)
		}
		im, ok := cc.(ImageMarker)
		if !ok {
			t.Fatalf("%s: got %T, want ImageMarker", text, cc)
		}
		if im.Size != want {
			t.Fatalf("%s: size = %+v, want %+v", text, im.Size, want)
		}
	}
}

func TestParseTextCell_SizeMarker(t *testing.T) {
	cc, err := ParseTextCell("${SIZE(collection=orders)}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sm, ok := cc.(SizeMarker)
	if !ok {
		t.Fatalf("got %T, want SizeMarker", cc)
	}
	if sm.CollectionName != "orders" {
		t.Fatalf("collection = %q", sm.CollectionName)
	}
}

func TestParseFormulaCell_Plain(t *testing.T) {
	cc, err := ParseFormulaCell("=SUM(A1:A10)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := cc.(Formula); !ok {
		t.Fatalf("got %T, want Formula", cc)
	}
}

func TestParseFormulaCell_WithVariables(t *testing.T) {
	cc, err := ParseFormulaCell("=A1*${tax_rate}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fv, ok := cc.(FormulaWithVariables)
	if !ok {
		t.Fatalf("got %T, want FormulaWithVariables", cc)
	}
	if len(fv.ReferencedNames) != 1 || fv.ReferencedNames[0] != "tax_rate" {
		t.Fatalf("referenced names = %v", fv.ReferencedNames)
	}
}

func TestParseFormulaCell_MarkerCall(t *testing.T) {
	cc, err := ParseFormulaCell("=TBEG_REPEAT(orders, A2:D2, order, DOWN)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := cc.(RepeatMarker); !ok {
		t.Fatalf("got %T, want RepeatMarker", cc)
	}
}

func TestParseTextCell_UnknownMarkerName(t *testing.T) {
	_, err := ParseTextCell("${BOGUS(a, b)}")
	if err == nil {
		t.Fatalf("expected error for unknown marker name")
	}
}

func TestParseTextCell_InvalidRangeFormat(t *testing.T) {
	_, err := ParseTextCell(`${REPEAT(orders, bad$range, order, DOWN)}`)
	if err == nil {
		t.Fatalf("expected error for invalid range")
	}
	kind, ok := tbegerr.KindOf(err)
	if !ok || kind != tbegerr.InvalidRangeFormat {
		t.Fatalf("kind = %v, ok = %v", kind, ok)
	}
}

func TestParseTextCell_InterpolatedString(t *testing.T) {
	cc, err := ParseTextCell("Customer: ${customer_name} (${region.code})")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	is, ok := cc.(InterpolatedString)
	if !ok {
		t.Fatalf("got %T, want InterpolatedString", cc)
	}
	if len(is.ReferencedNames) != 2 || is.ReferencedNames[0] != "customer_name" || is.ReferencedNames[1] != "region.code" {
		t.Fatalf("names = %v", is.ReferencedNames)
	}
}

func TestReplaceTokens_LeavesUnresolvedInPlace(t *testing.T) {
	out, missing := ReplaceTokens("a ${x} b ${y}", func(name string) (string, bool) {
		if name == "x" {
			return "1", true
		}
		return "", false
	})
	if out != "a 1 b ${y}" {
		t.Fatalf("out = %q", out)
	}
	if len(missing) != 1 || missing[0] != "y" {
		t.Fatalf("missing = %v", missing)
	}
}

func TestParseSizeSpec_ZeroZeroMeansFit(t *testing.T) {
	cc, err := ParseTextCell(`${IMAGE(logo, B2, "0:0")}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	im, ok := cc.(ImageMarker)
	if !ok {
		t.Fatalf("got %T, want ImageMarker", cc)
	}
	if im.Size.Kind != SizeFitToCell {
		t.Fatalf("size kind = %v, want SizeFitToCell", im.Size.Kind)
	}
}

func TestParseSizeSpec_MinusOneMinusOneMeansOriginal(t *testing.T) {
	cc, err := ParseTextCell(`${IMAGE(logo, B2, "-1:-1")}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	im := cc.(ImageMarker)
	if im.Size.Kind != SizeOriginal {
		t.Fatalf("size kind = %v, want SizeOriginal", im.Size.Kind)
	}
}

func TestParseSizeSpec_OtherNegativeDimensionsRejected(t *testing.T) {
	_, err := ParseTextCell(`${IMAGE(logo, B2, "-2:30")}`)
	if err == nil {
		t.Fatalf("expected error for negative size dimensions")
	}
	kind, ok := tbegerr.KindOf(err)
	if !ok || kind != tbegerr.InvalidParameterValue {
		t.Fatalf("kind = %v, ok = %v", kind, ok)
	}
}
