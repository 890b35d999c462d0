// Package pipeline implements the generation orchestrator: the fixed
// stage sequence that turns one Context's
// template bytes and Provider into a finished workbook's bytes. It owns
// no state across generations — every field the stages read or write
// lives on the Context a caller constructs fresh per call to Run.
package pipeline

import (
	"bytes"
	"context"
	"time"

	"github.com/jogakdal/tbeg/config"
	"github.com/jogakdal/tbeg/internal/blueprint"
	"github.com/jogakdal/tbeg/internal/chartpreserve"
	"github.com/jogakdal/tbeg/internal/layout"
	"github.com/jogakdal/tbeg/internal/markers"
	"github.com/jogakdal/tbeg/internal/ooxmlparts"
	"github.com/jogakdal/tbeg/internal/pivot"
	"github.com/jogakdal/tbeg/internal/position"
	"github.com/jogakdal/tbeg/internal/provider"
	"github.com/jogakdal/tbeg/internal/render"
	"github.com/jogakdal/tbeg/internal/telemetry"
	"github.com/jogakdal/tbeg/internal/xmlvars"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// Stage names, used as telemetry.Hooks labels; the const order is the
// execution order.
const (
	stageChartExtract       = "ChartExtract"
	stagePivotExtract       = "PivotExtract"
	stageTemplateRender     = "TemplateRender"
	stageNumberFormat       = "NumberFormat"
	stageXMLVariableReplace = "XmlVariableReplace"
	stagePivotRecreate      = "PivotRecreate"
	stageChartRestore       = "ChartRestore"
	stageMetadata           = "Metadata"
)

// Pipeline sequences every orchestrator stage over a Context. It holds no
// per-generation state of its own (hooks are shared, read-only plumbing),
// so one Pipeline is safe to reuse across concurrent generations, the same
// way internal/runtime.Controller is shared while each Context is not.
type Pipeline struct {
	hooks *telemetry.Hooks
}

// New builds a Pipeline that reports stage/generation lifecycle events to
// hooks. A nil hooks is replaced with a no-op logger's Hooks so callers
// that don't care about telemetry don't need to construct one.
func New(hooks *telemetry.Hooks) *Pipeline {
	if hooks == nil {
		hooks = telemetry.NewHooks(zerolog.Nop())
	}
	return &Pipeline{hooks: hooks}
}

// Run executes every stage in fixed order against pc, leaving the
// generated workbook in pc.ResultBytes. generationID identifies this run
// for telemetry only; the Context itself carries no identity.
func (p *Pipeline) Run(ctx context.Context, generationID string, pc *Context) error {
	if err := pc.Config.Validate(); err != nil {
		return err
	}

	start := time.Now()
	p.hooks.OnGenerationStart(generationID, "")
	runErr := p.run(ctx, generationID, pc)
	p.hooks.OnGenerationEnd(generationID, time.Since(start), runErr)
	return runErr
}

func (p *Pipeline) run(ctx context.Context, generationID string, pc *Context) error {
	origPkg, err := ooxmlparts.OpenBytes(pc.TemplateBytes)
	if err != nil {
		return err
	}

	var chartArtifact *chartpreserve.Artifact
	if err := p.stage(generationID, stageChartExtract, func() error {
		chartArtifact = chartpreserve.Extract(origPkg)
		pc.ChartArtifact = chartArtifact
		return nil
	}); err != nil {
		return err
	}

	var pivotArtifact *pivot.Artifact
	if err := p.stage(generationID, stagePivotExtract, func() error {
		pivotArtifact = pivot.Extract(origPkg)
		pc.PivotArtifact = pivotArtifact
		return nil
	}); err != nil {
		return err
	}

	f, err := excelize.OpenReader(bytes.NewReader(pc.TemplateBytes))
	if err != nil {
		return tbegerr.New(tbegerr.PackageIO, "failed to open template workbook").WithCause(err)
	}
	defer f.Close()

	var spec *blueprint.WorkbookSpec
	var plans map[string]*position.Plan
	if err := p.stage(generationID, stageTemplateRender, func() error {
		if pc.PreAnalyzed != nil {
			spec = pc.PreAnalyzed
		} else {
			var analyzeErr error
			spec, analyzeErr = blueprint.Analyze(f)
			if analyzeErr != nil {
				return analyzeErr
			}
		}
		pc.Spec = spec
		pc.RequiredNames = &spec.RequiredNames

		opts := render.Options{
			MissingDataWarn:  pc.Config.MissingDataBehavior == config.MissingDataWarn,
			ProgressInterval: pc.Config.ProgressReportInterval,
			Progress: func(sheet string, rowsEmitted, totalRows int) {
				p.hooks.OnProgress(generationID, sheet, rowsEmitted, totalRows)
			},
		}
		var strategy render.Strategy = render.InMemoryStrategy{Opts: opts}
		if pc.Config.StreamingMode == config.StreamingEnabled {
			strategy = render.StreamingStrategy{Opts: opts}
		}
		if renderErr := strategy.Render(ctx, f, spec, pc.Provider); renderErr != nil {
			return renderErr
		}

		var plansErr error
		plans, plansErr = buildPlans(spec, pc.Provider)
		if plansErr != nil {
			return plansErr
		}
		pc.ProcessedRowCount = totalRenderedRows(spec, plans)

		if pc.Config.PreserveTemplateLayout {
			if layoutErr := applyTemplateLayout(f, spec, plans, pc.Provider, pc.resolver()); layoutErr != nil {
				return layoutErr
			}
		}

		if meta, ok := pc.Provider.GetMetadata(); ok {
			pc.Metadata = meta
			if metaErr := applyCoreMetadata(f, meta); metaErr != nil {
				return metaErr
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := p.stage(generationID, stageNumberFormat, func() error {
		return applyNumberFormats(f, spec, pc.Provider, pc.Config)
	}); err != nil {
		return err
	}

	rendered, err := f.WriteToBuffer()
	if err != nil {
		return tbegerr.New(tbegerr.PackageIO, "failed to serialize rendered workbook").WithCause(err)
	}

	finalPkg, err := ooxmlparts.OpenBytes(rendered.Bytes())
	if err != nil {
		return err
	}

	if err := p.stage(generationID, stageXMLVariableReplace, func() error {
		return replaceDrawingVariables(finalPkg, pc.resolver())
	}); err != nil {
		return err
	}

	rm := newRangeMap(spec, plans)

	if err := p.stage(generationID, stagePivotRecreate, func() error {
		if !pivotArtifact.HasPivotTables() {
			return nil
		}
		for _, sheet := range spec.Sheets {
			if rebuildErr := pivot.Rebuild(finalPkg, pivotArtifact, sheet.Name, rm.pivotMapper(), pivotCellSource{f}); rebuildErr != nil {
				return rebuildErr
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := p.stage(generationID, stageChartRestore, func() error {
		if !chartArtifact.HasCharts() {
			return nil
		}
		// chartpreserve.Rebuild takes a single default sheet for
		// unqualified series references; a template whose charts live on
		// more than one sheet, each referencing its own host sheet
		// unqualified, is a known limitation.
		defaultSheet := ""
		if len(spec.Sheets) > 0 {
			defaultSheet = spec.Sheets[0].Name
		}
		return chartpreserve.Rebuild(finalPkg, chartArtifact, defaultSheet, rm.chartMapper(), pc.resolver())
	}); err != nil {
		return err
	}

	if err := p.stage(generationID, stageMetadata, func() error {
		return applyExtendedMetadata(finalPkg, pc.Metadata)
	}); err != nil {
		return err
	}

	result, err := finalPkg.Bytes()
	if err != nil {
		return err
	}
	pc.ResultBytes = result
	return nil
}

// stage wraps one orchestrator stage with start/end telemetry.
func (p *Pipeline) stage(generationID, name string, fn func() error) error {
	start := time.Now()
	p.hooks.OnStageStart(generationID, name)
	err := fn()
	p.hooks.OnStageEnd(generationID, name, time.Since(start), err)
	return err
}

// totalRenderedRows sums every sheet's rendered row count, the figure
// surfaced on Context.ProcessedRowCount for callers that report throughput.
func totalRenderedRows(spec *blueprint.WorkbookSpec, plans map[string]*position.Plan) int {
	total := 0
	for i := range spec.Sheets {
		sheet := &spec.Sheets[i]
		lastRow := 0
		for _, r := range sheet.Rows {
			if r.Index > lastRow {
				lastRow = r.Index
			}
		}
		if plan, ok := plans[sheet.Name]; ok {
			total += plan.TotalRows(lastRow)
		} else {
			total += lastRow
		}
	}
	return total
}

// buildPlans resolves every sheet's repeat-region geometry into a
// position.Plan, keyed by sheet name — the shared input both the
// layout-restoration pass and the pivot/chart range mapper need.
func buildPlans(spec *blueprint.WorkbookSpec, prov provider.Provider) (map[string]*position.Plan, error) {
	plans := make(map[string]*position.Plan, len(spec.Sheets))
	for i := range spec.Sheets {
		sheet := &spec.Sheets[i]
		plan, err := render.BuildPlan(sheet, prov)
		if err != nil {
			return nil, err
		}
		plans[sheet.Name] = plan
	}
	return plans, nil
}

// planMapper adapts a *position.Plan to layout.RowMapper.
type planMapper struct{ plan *position.Plan }

func (m planMapper) RenderedRow(r int) int { return m.plan.RowInfoFor(r).RenderedRow }

// planEndMapper maps a row to its last emitted instance — the bottom-edge
// mapper for ranges that must stretch over an expanded repeat region.
type planEndMapper struct{ plan *position.Plan }

func (m planEndMapper) RenderedRow(r int) int { return m.plan.LastInstanceRow(r) }

// applyTemplateLayout restores what neither render strategy covers:
// per-row heights, header/footer text (with `${name}` substitution), and
// conditional formatting ranges. Merges, column widths, and
// images are already applied by the strategy itself (internal/render).
func applyTemplateLayout(f *excelize.File, spec *blueprint.WorkbookSpec, plans map[string]*position.Plan, prov provider.Provider, resolve xmlvars.Resolver) error {
	for i := range spec.Sheets {
		sheet := &spec.Sheets[i]
		plan := plans[sheet.Name]
		mapper := planMapper{plan: plan}

		if err := layout.ApplyRowHeights(f, sheet.Name, sheet.Rows, mapper, instanceRowsFunc(sheet, plan, prov)); err != nil {
			return err
		}

		headerText, footerText, err := sheetHeaderFooter(f, sheet.Name)
		if err != nil {
			return err
		}
		if err := layout.ApplyHeaderFooter(f, sheet.Name, headerText, footerText, resolve); err != nil {
			return err
		}

		ranges, err := conditionalFormatRanges(f, sheet.Name)
		if err != nil {
			return err
		}
		if err := layout.ApplyConditionalFormats(f, sheet.Name, ranges, mapper, planEndMapper{plan: plan}); err != nil {
			return err
		}
	}
	return nil
}

// instanceRowsFunc returns, for a template row, every rendered row it was
// cloned to: every DOWN-region instance's copy of that row, nil for a row
// outside any region or inside a RIGHT region (whose rows never multiply),
// letting layout.ApplyRowHeights fall back to its own single-row mapping.
func instanceRowsFunc(sheet *blueprint.SheetSpec, plan *position.Plan, prov provider.Provider) func(int) []int {
	expansions, _, err := render.ExpansionsForSheet(sheet, prov)
	if err != nil {
		return func(int) []int { return nil }
	}
	return func(originalRow int) []int {
		rowSpec, ok := findRowSpecByIndex(sheet, originalRow)
		if !ok || rowSpec.Kind == blueprint.RowStatic {
			return nil
		}
		region := regionByID(sheet, rowSpec.RegionID)
		if region.Direction == markers.DirectionRight {
			return nil
		}
		exp := expansions[region.ID]
		if exp.IsEmpty {
			return nil
		}
		base := plan.RowInfoFor(region.StartRow).RenderedRow
		withinTemplate := originalRow - region.StartRow
		rows := make([]int, 0, exp.ItemCount)
		for itemIdx := 0; itemIdx < exp.ItemCount; itemIdx++ {
			rows = append(rows, base+withinTemplate+itemIdx*exp.SpanRows)
		}
		return rows
	}
}

func findRowSpecByIndex(sheet *blueprint.SheetSpec, index int) (blueprint.RowSpec, bool) {
	for _, r := range sheet.Rows {
		if r.Index == index {
			return r, true
		}
	}
	return blueprint.RowSpec{}, false
}

// sheetHeaderFooter reads the live header/footer text off f, which
// survives rendering untouched (neither InsertRows nor the stream writer
// touches header/footer state) — blueprint.SheetSpec carries no
// header/footer fields, so this is read directly from the workbook rather
// than from the analyzed spec.
func sheetHeaderFooter(f *excelize.File, sheetName string) (header, footer string, err error) {
	opts, hfErr := f.GetHeaderFooter(sheetName)
	if hfErr != nil {
		return "", "", tbegerr.New(tbegerr.PackageIO, "failed to read header/footer").At(sheetName, "").WithCause(hfErr)
	}
	if opts == nil {
		return "", "", nil
	}
	return opts.OddHeader, opts.OddFooter, nil
}

func conditionalFormatRanges(f *excelize.File, sheetName string) ([]string, error) {
	opts, err := f.GetConditionalFormats(sheetName)
	if err != nil {
		return nil, tbegerr.New(tbegerr.PackageIO, "failed to read conditional formats").At(sheetName, "").WithCause(err)
	}
	ranges := make([]string, 0, len(opts))
	for rng := range opts {
		ranges = append(ranges, rng)
	}
	return ranges, nil
}

// replaceDrawingVariables substitutes `${name}` tokens inside drawing
// parts (shape/textbox/SmartArt captions). Chart parts are excluded since
// chartpreserve.Rebuild already substitutes chart-title tokens itself
// during ChartRestore; running this pass over xl/charts/ first would leave
// it nothing to do there, or re-escape an already-substituted part.
func replaceDrawingVariables(pkg *ooxmlparts.Package, resolve xmlvars.Resolver) error {
	for _, name := range pkg.ListParts("xl/drawings/drawing") {
		content, ok := pkg.Part(name)
		if !ok || !xmlvars.ContainsVariables(content) {
			continue
		}
		rewritten, err := xmlvars.Rewrite(name, content, resolve)
		if err != nil {
			return err
		}
		pkg.SetPart(name, rewritten)
	}
	return nil
}
