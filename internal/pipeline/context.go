package pipeline

import (
	"github.com/jogakdal/tbeg/config"
	"github.com/jogakdal/tbeg/internal/blueprint"
	"github.com/jogakdal/tbeg/internal/chartpreserve"
	"github.com/jogakdal/tbeg/internal/pivot"
	"github.com/jogakdal/tbeg/internal/provider"
	"github.com/jogakdal/tbeg/internal/xmlvars"
)

// Context is the processing state of one generation: the single mutable
// state every orchestrator stage reads from and writes
// back to. One generation owns one Context; it moves linearly through
// Pipeline.Run and is never shared across generations.
type Context struct {
	TemplateBytes []byte
	Provider      provider.Provider
	Config        Config
	Metadata      provider.DocumentMetadata

	ResultBytes []byte

	ChartArtifact *chartpreserve.Artifact
	PivotArtifact *pivot.Artifact

	VariableResolver xmlvars.Resolver

	ProcessedRowCount int
	RequiredNames     *blueprint.RequiredNames

	// Spec is the analyzed blueprint, populated once TemplateRender's
	// analysis step has run; later stages (PivotRecreate, ChartRestore)
	// reuse it instead of re-analyzing.
	Spec *blueprint.WorkbookSpec

	// PreAnalyzed, when set by a caller that already has a cached
	// blueprint.WorkbookSpec for these exact template bytes (see
	// internal/workbooks), lets TemplateRender skip blueprint.Analyze
	// entirely. Pure enrichment: leaving it nil just means analysis runs
	// as usual.
	PreAnalyzed *blueprint.WorkbookSpec
}

// resolver adapts Provider.GetValue to xmlvars.Resolver, for the XML-part
// passes (header/footer, drawing captions, chart titles) that substitute
// `${name}` tokens outside any repeat-region loop context. Under the WARN
// missing-data policy an unresolved name resolves to its own token text,
// so the part keeps the marker visible instead of aborting the stage.
func (c *Context) resolver() xmlvars.Resolver {
	warn := c.Config.MissingDataBehavior == config.MissingDataWarn
	return func(name string) (string, bool) {
		v, ok := c.Provider.GetValue(name)
		if !ok {
			if warn {
				return "${" + name + "}", true
			}
			return "", false
		}
		return v.String(), true
	}
}
