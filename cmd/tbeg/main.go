// Command tbeg is the CLI front end for the generation engine: it loads
// a template workbook plus a JSON data file, runs one generation through
// the Engine, and writes the rendered workbook to disk under the
// configured file-naming/conflict policy. The pipeline itself
// never touches a filesystem path directly; this command is where that
// happens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/jogakdal/tbeg"
	"github.com/jogakdal/tbeg/config"
	"github.com/jogakdal/tbeg/internal/outputpolicy"
	"github.com/jogakdal/tbeg/internal/runtime"
	"github.com/jogakdal/tbeg/internal/security"
	"github.com/jogakdal/tbeg/internal/workbooks"
	"github.com/jogakdal/tbeg/pkg/version"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		templatePath      string
		dataPath          string
		outputPath        string
		streamingMode     string
		fileNamingMode    string
		conflictPolicy    string
		timestampFormat   string
		cacheBlueprints   bool
		generationTimeout time.Duration
	)

	flag.StringVar(&templatePath, "template", "", "Path to the .xlsx template (required)")
	flag.StringVar(&dataPath, "data", "", "Path to a JSON data file (required)")
	flag.StringVar(&outputPath, "out", "", "Path to write the rendered workbook (required)")
	flag.StringVar(&streamingMode, "streaming", string(config.StreamingEnabled), "ENABLED or DISABLED")
	flag.StringVar(&fileNamingMode, "file-naming", string(config.FileNamingNone), "NONE or TIMESTAMP")
	flag.StringVar(&conflictPolicy, "on-conflict", string(config.FileConflictError), "ERROR or SEQUENCE")
	flag.StringVar(&timestampFormat, "timestamp-format", config.DefaultTimestampFormat, "Go time layout used by -file-naming=TIMESTAMP")
	flag.BoolVar(&cacheBlueprints, "cache-blueprints", false, "Reuse analyzed templates across runs by content hash")
	flag.DurationVar(&generationTimeout, "timeout", config.DefaultGenerationTimeout, "Per-generation timeout")
	flag.Parse()

	logger := zlog.With().Str("service", "tbeg-cli").Logger()

	if templatePath == "" || dataPath == "" || outputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: tbeg -template FILE.xlsx -data FILE.json -out FILE.xlsx")
		flag.PrintDefaults()
		os.Exit(2)
	}

	secMgr, err := security.NewManagerFromEnv()
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize manager from env")
		fmt.Fprintln(os.Stderr, "invalid security configuration; set TBEG_ALLOWED_DIRS")
		os.Exit(1)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		fmt.Fprintln(os.Stderr, "no allowed directories configured; set TBEG_ALLOWED_DIRS")
		os.Exit(1)
	}

	resolvedTemplate, err := secMgr.ValidateOpenPath(templatePath)
	if err != nil {
		logger.Error().Err(err).Str("path", templatePath).Msg("template path rejected")
		os.Exit(1)
	}

	resolvedOutput, err := secMgr.ValidateWritePath(outputPath)
	if err != nil {
		logger.Error().Err(err).Str("path", outputPath).Msg("output path rejected")
		os.Exit(1)
	}

	prov, err := loadProvider(dataPath)
	if err != nil {
		logger.Error().Err(err).Str("path", dataPath).Msg("failed to load data file")
		os.Exit(1)
	}

	cfg := tbeg.DefaultConfig()
	cfg.StreamingMode = config.StreamingMode(streamingMode)
	cfg.FileNamingMode = config.FileNamingMode(fileNamingMode)
	cfg.FileConflictPolicy = config.FileConflictPolicy(conflictPolicy)
	cfg.TimestampFormat = timestampFormat
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	opts := []tbeg.Option{tbeg.WithLogger(logger)}
	if cacheBlueprints {
		limits := runtime.NewLimits(config.DefaultMaxConcurrentGenerations, config.DefaultMaxOpenTemplates)
		controller := runtime.NewController(limits)
		gate := templateGateAdapter{controller}
		mgr := workbooks.NewManager(
			config.DefaultBlueprintCacheTTL,
			config.DefaultBlueprintCleanupPeriod,
			gate,
			secMgr,
			nil,
		)
		mgr.Start()
		defer func() { _ = mgr.Close(context.Background()) }()
		opts = append(opts, tbeg.WithBlueprintCache(mgr))
	}

	engine := tbeg.NewEngine(opts...)

	ctx, cancel := context.WithTimeout(context.Background(), generationTimeout)
	defer cancel()

	generationID := uuid.NewString()

	finalPath, err := outputpolicy.ResolveNow(resolvedOutput, cfg.FileNamingMode, cfg.FileConflictPolicy, cfg.TimestampFormat)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve output path")
		os.Exit(1)
	}

	result, err := engine.GenerateFromFile(ctx, generationID, resolvedTemplate, prov, cfg)
	if err != nil {
		logger.Error().Err(err).Str("generation_id", generationID).Msg("generation failed")
		if tbeg.IsRetryable(err) {
			fmt.Fprintln(os.Stderr, "generation failed (retryable once the input is fixed):", err)
		} else {
			fmt.Fprintln(os.Stderr, "generation failed:", err)
		}
		os.Exit(1)
	}

	if err := os.WriteFile(finalPath, result, 0o644); err != nil {
		logger.Error().Err(err).Str("path", finalPath).Msg("failed to write output")
		os.Exit(1)
	}

	logger.Info().
		Str("generation_id", generationID).
		Str("version", version.Version()).
		Str("output", finalPath).
		Msg("generation complete")
}

// templateGateAdapter satisfies workbooks.TemplateGate by delegating to a
// runtime.Controller's template-capacity semaphore, the same gate the
// pipeline itself acquires around a generation's own template access.
type templateGateAdapter struct {
	controller *runtime.Controller
}

func (a templateGateAdapter) AcquireTemplate(ctx context.Context) error {
	return a.controller.AcquireTemplate(ctx)
}

func (a templateGateAdapter) ReleaseTemplate() {
	a.controller.ReleaseTemplate()
}
