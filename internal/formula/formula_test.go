package formula

import "testing"

func TestAdjustForRowExpansion_ShiftsRowsAtOrBelow(t *testing.T) {
	got := AdjustForRowExpansion("=SUM(B2:B10)+A1", "", 5, 3)
	want := "=SUM(B2:B13)+A1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAdjustForRowExpansion_AbsoluteRowsArePinned(t *testing.T) {
	got := AdjustForRowExpansion("=Sheet1!$B$10", "Sheet1", 5, 2)
	want := "=Sheet1!$B$10"
	if got != want {
		t.Fatalf("got %q, want %q (absolute row refs never move)", got, want)
	}
}

func TestAdjustForRowExpansion_SheetPrefixPreserved(t *testing.T) {
	got := AdjustForRowExpansion("=Sheet1!$B10", "Sheet1", 5, 2)
	want := "=Sheet1!$B12"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAdjustForRepeatIndexCols_ShiftsColumnsWithinTemplate(t *testing.T) {
	got := AdjustForRepeatIndexCols("=B7*C7+A1", "", 2, 3, 2, 2)
	want := "=F7*G7+A1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAdjustForRowExpansion_IgnoresOtherSheets(t *testing.T) {
	got := AdjustForRowExpansion("=Sheet2!B10", "Sheet1", 5, 2)
	want := "=Sheet2!B10"
	if got != want {
		t.Fatalf("got %q, want %q (other-sheet refs untouched)", got, want)
	}
}

func TestAdjustForColumnExpansion_ShiftsColumns(t *testing.T) {
	got := AdjustForColumnExpansion("=C1+D1", "", 3, 2)
	want := "=E1+F1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAdjustForRepeatIndex_OnlyWithinTemplateRange(t *testing.T) {
	got := AdjustForRepeatIndex("=B2*C2+Z99", "", 2, 2, 1, 1)
	want := "=B3*C3+Z99"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandSingleRefToRowRange_WidensLoneRefContiguous(t *testing.T) {
	got, contiguous := ExpandSingleRefToRowRange("=SUM(B2)", "B", 2, 5, 1)
	want := "=SUM(B2:B6)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !contiguous {
		t.Fatal("expected a single-row template to produce a contiguous range")
	}
}

func TestExpandSingleRefToRowRange_SkipsExistingRange(t *testing.T) {
	got, _ := ExpandSingleRefToRowRange("=SUM(B2:B4)", "B", 2, 5, 1)
	want := "=SUM(B2:B4)"
	if got != want {
		t.Fatalf("expected existing range untouched, got %q", got)
	}
}

func TestExpandSingleRefToRowRange_MultiRowTemplateProducesCommaList(t *testing.T) {
	got, contiguous := ExpandSingleRefToRowRange("=SUM(B2)", "B", 2, 3, 2)
	want := "=SUM(B2,B4,B6)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if contiguous {
		t.Fatal("expected a multi-row template to produce a non-contiguous comma list")
	}
}

func TestExpandSingleRefToColRange_WidensLoneRefContiguous(t *testing.T) {
	got, contiguous := ExpandSingleRefToColRange("=SUM(B7)", 7, "B", 3, 1)
	want := "=SUM(B7:D7)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !contiguous {
		t.Fatal("expected a single-column template to produce a contiguous range")
	}
}

func TestExpandSingleRefToColRange_MultiColTemplateProducesCommaList(t *testing.T) {
	got, contiguous := ExpandSingleRefToColRange("=SUM(B7)", 7, "B", 3, 2)
	want := "=SUM(B7,D7,F7)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if contiguous {
		t.Fatal("expected a multi-column template to produce a non-contiguous comma list")
	}
}

func TestExtendRangeEndRow_ExtendsEndpointInsideRegion(t *testing.T) {
	got := ExtendRangeEndRow("=SUM(B2:B2)", "", 2, 2, 4)
	want := "=SUM(B2:B4)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtendRangeEndRow_LeavesEndpointsOutsideRegion(t *testing.T) {
	got := ExtendRangeEndRow("=SUM(B2:B10)+A1", "", 2, 2, 4)
	want := "=SUM(B2:B10)+A1"
	if got != want {
		t.Fatalf("got %q, want %q (end row 10 is outside the region)", got, want)
	}
}

func TestExtendRangeEndRow_AbsoluteEndRowPinned(t *testing.T) {
	got := ExtendRangeEndRow("=SUM(B2:B$2)", "", 2, 2, 4)
	want := "=SUM(B2:B$2)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtendRangeEndCol_ExtendsEndpointInsideRegion(t *testing.T) {
	got := ExtendRangeEndCol("=SUM(B7:C7)", "", 2, 3, 7)
	want := "=SUM(B7:G7)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestJoinWithArgLimit_UnderLimit(t *testing.T) {
	got := JoinWithArgLimit("SUM", []string{"A1", "A2", "A3"})
	want := "SUM(A1,A2,A3)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestJoinWithArgLimit_OverLimitFallsBackToPlusJoin(t *testing.T) {
	args := make([]string, ExcelMaxFunctionArgs+1)
	for i := range args {
		args[i] = "A1"
	}
	got := JoinWithArgLimit("SUM", args)
	if got == "SUM("+joinPlain(args)+")" {
		t.Fatalf("expected plus-join fallback, got function-call form")
	}
	want := len(args)
	count := 0
	for _, r := range got {
		if r == '+' {
			count++
		}
	}
	if count != want-1 {
		t.Fatalf("plus count = %d, want %d", count, want-1)
	}
}

func joinPlain(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += ","
		}
		out += a
	}
	return out
}

func TestAdjustForRowExpansion_LeavesFunctionNamesAndStrings(t *testing.T) {
	got := AdjustForRowExpansion(`=LOG10(B6)&" room B6"`, "", 5, 3)
	want := `=LOG10(B9)&" room B6"`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
