// Package chartpreserve implements the chart & drawing preservation pass:
// charts and their anchoring drawings are dropped by the
// Streaming Strategy's excelize.StreamWriter exactly like merges and
// images are, and even under the In-Memory Strategy a chart's series
// formulas point at template coordinates that repeat-region expansion
// moves. This package extracts chart1.xml/drawing1.xml-family parts (and
// their relationship files) before rendering, re-projects every data
// source reference they carry, substitutes `${name}` tokens in chart
// titles via internal/xmlvars, and restores the parts afterward.
//
// Part-name and relationship-type constants mirror excelize's own
// internal namespace table for charts/drawings/relationships.
package chartpreserve

import (
	"regexp"

	"github.com/jogakdal/tbeg/internal/ooxmlparts"
	"github.com/jogakdal/tbeg/internal/xmlvars"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
)

// ContentTypeDrawing and ContentTypeChart mirror excelize's own OOXML
// content-type constants for these part families.
const (
	ContentTypeDrawing = "application/vnd.openxmlformats-officedocument.drawing+xml"
	ContentTypeChart   = "application/vnd.openxmlformats-officedocument.drawingml.chart+xml"
)

// seriesRefRe matches a <c:f>Sheet1!$A$1:$A$10</c:f> series-formula
// reference inside a chart part — the XML element DrawingML uses to point
// a chart series at its backing worksheet range.
var seriesRefRe = regexp.MustCompile(`(<c:f>)([^<]+)(</c:f>)`)

// sheetQualifiedRe splits a `'Sheet Name'!$A$1:$A$10` or `Sheet1!A1:A10`
// reference into its sheet and range parts.
var sheetQualifiedRe = regexp.MustCompile(`^(?:'([^']+)'|([A-Za-z_][\w .]*))!(.+)$`)

// Artifact holds a template's chart and drawing parts, captured before
// rendering mutates the underlying sheet XML and drops their anchors.
type Artifact struct {
	Charts      map[string][]byte // "xl/charts/chart1.xml" -> raw XML
	Drawings    map[string][]byte // "xl/drawings/drawing1.xml" -> raw XML
	ChartRels   map[string][]byte
	DrawingRels map[string][]byte
}

// HasCharts reports whether any chart parts were captured.
func (a *Artifact) HasCharts() bool {
	return a != nil && len(a.Charts) > 0
}

// Extract captures every chart/drawing part and their relationship files
// from pkg without mutating it.
func Extract(pkg *ooxmlparts.Package) *Artifact {
	a := &Artifact{
		Charts:      map[string][]byte{},
		Drawings:    map[string][]byte{},
		ChartRels:   map[string][]byte{},
		DrawingRels: map[string][]byte{},
	}
	for _, name := range pkg.ListParts("xl/charts/chart") {
		if b, ok := pkg.Part(name); ok {
			a.Charts[name] = b
		}
	}
	for _, name := range pkg.ListParts("xl/drawings/drawing") {
		if b, ok := pkg.Part(name); ok {
			a.Drawings[name] = b
		}
	}
	for _, name := range pkg.ListParts("xl/charts/_rels/") {
		if b, ok := pkg.Part(name); ok {
			a.ChartRels[name] = b
		}
	}
	for _, name := range pkg.ListParts("xl/drawings/_rels/") {
		if b, ok := pkg.Part(name); ok {
			a.DrawingRels[name] = b
		}
	}
	return a
}

// RangeMapper re-projects an A1 range on a given sheet through repeat
// expansion, the same contract internal/pivot uses.
type RangeMapper func(sheet, rng string) (string, error)

// Rebuild rewrites every captured chart's series references through
// mapper, substitutes any `${name}` title/caption tokens via resolve, and
// writes the results back into pkg's overlay. Drawing parts are restored
// with their `${name}` tokens substituted through resolve and otherwise
// unchanged, and relationship files are restored verbatim — a drawing's
// anchor is cell-index based (from/to <xdr:col>/<xdr:row>) and is left as
// the template authored it, since the chart's own position rarely needs to
// track repeat-region growth the way its data series does.
func Rebuild(pkg *ooxmlparts.Package, a *Artifact, defaultSheet string, mapper RangeMapper, resolve xmlvars.Resolver) error {
	if a == nil {
		return nil
	}
	for name, xmlContent := range a.Charts {
		rewritten, err := rewriteChart(name, xmlContent, defaultSheet, mapper, resolve)
		if err != nil {
			return err
		}
		pkg.SetPart(name, rewritten)
	}
	for name, xmlContent := range a.Drawings {
		// The artifact holds pre-render bytes, so any `${name}` caption
		// tokens are substituted here rather than restored verbatim —
		// restoring raw would undo the XML variable pass.
		out := xmlContent
		if resolve != nil && xmlvars.ContainsVariables(out) {
			rewritten, err := xmlvars.Rewrite(name, out, resolve)
			if err != nil {
				return err
			}
			out = rewritten
		}
		pkg.SetPart(name, out)
	}
	for name, xmlContent := range a.ChartRels {
		pkg.SetPart(name, xmlContent)
	}
	for name, xmlContent := range a.DrawingRels {
		pkg.SetPart(name, xmlContent)
	}
	return nil
}

func rewriteChart(partName string, xmlContent []byte, defaultSheet string, mapper RangeMapper, resolve xmlvars.Resolver) ([]byte, error) {
	var outerErr error
	out := seriesRefRe.ReplaceAllFunc(xmlContent, func(tok []byte) []byte {
		if outerErr != nil {
			return tok
		}
		m := seriesRefRe.FindSubmatch(tok)
		sheet, rng := splitSheetQualified(string(m[2]), defaultSheet)
		newRange, err := mapper(sheet, rng)
		if err != nil {
			outerErr = tbegerr.New(tbegerr.PackageIO, "failed to re-project chart series reference").At(sheet, rng).WithCause(err)
			return tok
		}
		return []byte(string(m[1]) + requalify(string(m[2]), sheet, newRange) + string(m[3]))
	})
	if outerErr != nil {
		return nil, outerErr
	}
	if resolve != nil && xmlvars.ContainsVariables(out) {
		rewritten, err := xmlvars.Rewrite(partName, out, resolve)
		if err != nil {
			return nil, err
		}
		out = rewritten
	}
	return out, nil
}

func splitSheetQualified(ref, defaultSheet string) (sheet, rng string) {
	m := sheetQualifiedRe.FindStringSubmatch(ref)
	if m == nil {
		return defaultSheet, ref
	}
	if m[1] != "" {
		return m[1], m[3]
	}
	return m[2], m[3]
}

func requalify(original, sheet, newRange string) string {
	if sheetQualifiedRe.MatchString(original) {
		if containsSpace(sheet) {
			return "'" + sheet + "'!" + newRange
		}
		return sheet + "!" + newRange
	}
	return newRange
}

func containsSpace(s string) bool {
	for _, r := range s {
		if r == ' ' {
			return true
		}
	}
	return false
}
