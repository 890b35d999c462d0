// Package tbeg is the public entry point for the Template-Based
// Spreadsheet Generation Engine: load a template, give it a
// provider.Provider, get back a rendered workbook's bytes. Everything
// under internal/ is plumbing this facade wires together; callers outside
// this module only ever see this file and the Provider, Config and
// DocumentMetadata types it re-exports by alias.
package tbeg

import (
	"context"
	"errors"
	"os"

	"github.com/jogakdal/tbeg/internal/blueprint"
	"github.com/jogakdal/tbeg/internal/pipeline"
	"github.com/jogakdal/tbeg/internal/provider"
	"github.com/jogakdal/tbeg/internal/runtime"
	"github.com/jogakdal/tbeg/internal/telemetry"
	"github.com/jogakdal/tbeg/internal/workbooks"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/rs/zerolog"
)

// Provider, Config and DocumentMetadata are re-exported so callers never
// need to import internal packages directly.
type (
	Provider         = provider.Provider
	Config           = pipeline.Config
	DocumentMetadata = provider.DocumentMetadata
)

// Engine is the long-lived object an application builds once at startup:
// it owns the concurrency guardrails (internal/runtime.Controller) and,
// optionally, a blueprint cache (internal/workbooks.Manager), and hands
// out one Pipeline run per Generate call.
type Engine struct {
	controller *runtime.Controller
	blueprints *workbooks.Manager
	hooks      *telemetry.Hooks
	pipeline   *pipeline.Pipeline
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLimits overrides the default runtime.Limits an Engine enforces.
func WithLimits(limits runtime.Limits) Option {
	return func(e *Engine) { e.controller = runtime.NewController(limits) }
}

// WithLogger routes telemetry (generation/stage lifecycle events) through
// logger instead of a no-op zerolog.Logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.hooks = telemetry.NewHooks(logger)
	}
}

// WithBlueprintCache enables the blueprint cache: repeated generations
// from the same template bytes skip re-analyzing the workbook.
func WithBlueprintCache(mgr *workbooks.Manager) Option {
	return func(e *Engine) { e.blueprints = mgr }
}

// NewEngine builds an Engine with default configuration, applying opts in order.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		controller: runtime.NewController(runtime.NewLimits(0, 0)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.pipeline = pipeline.New(e.hooks)
	return e
}

// Generate runs one full generation: templateBytes analyzed and rendered
// against prov, under cfg's policy, producing the finished workbook's
// bytes. generationID is an opaque identifier surfaced to telemetry hooks
// only (callers typically pass a UUID — see github.com/google/uuid).
func (e *Engine) Generate(ctx context.Context, generationID string, templateBytes []byte, prov Provider, cfg Config) ([]byte, error) {
	return e.generate(ctx, generationID, templateBytes, prov, cfg, nil)
}

// GenerateFromFile is Generate for a template that lives on disk, wiring
// in the blueprint cache when the Engine was built
// with WithBlueprintCache: repeated generations from the same template
// path skip re-analyzing the workbook, falling back to a normal analysis
// if the cache lookup itself fails for any reason.
func (e *Engine) GenerateFromFile(ctx context.Context, generationID, templatePath string, prov Provider, cfg Config) ([]byte, error) {
	data, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, err
	}

	var pre *blueprint.WorkbookSpec
	if e.blueprints != nil {
		if spec, cacheErr := e.blueprints.Open(ctx, templatePath); cacheErr == nil {
			pre = spec
		}
	}
	return e.generate(ctx, generationID, data, prov, cfg, pre)
}

func (e *Engine) generate(ctx context.Context, generationID string, templateBytes []byte, prov Provider, cfg Config, pre *blueprint.WorkbookSpec) ([]byte, error) {
	if err := e.controller.AcquireGeneration(ctx); err != nil {
		return nil, err
	}
	defer e.controller.ReleaseGeneration()

	if err := e.controller.AcquireTemplate(ctx); err != nil {
		return nil, err
	}
	defer e.controller.ReleaseTemplate()

	pc := &pipeline.Context{
		TemplateBytes: templateBytes,
		Provider:      prov,
		Config:        cfg,
		PreAnalyzed:   pre,
	}
	if err := e.pipeline.Run(ctx, generationID, pc); err != nil {
		return nil, err
	}
	return pc.ResultBytes, nil
}

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() Config {
	return pipeline.DefaultConfig()
}

// IsRetryable reports whether err (or a wrapped *tbegerr.Error within it)
// names a Kind the caller can retry once its input is fixed — e.g. after
// fixing a malformed marker — as opposed to an I/O failure that needs
// operator attention.
func IsRetryable(err error) bool {
	var te *tbegerr.Error
	if !errors.As(err, &te) {
		return false
	}
	return te.Retryable()
}
