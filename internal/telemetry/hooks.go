// Package telemetry provides lifecycle logging hooks for the generation
// pipeline. It is intentionally minimal; metrics backends can be layered on
// top of Hooks later.
package telemetry

import (
	"time"

	"github.com/rs/zerolog"
)

// Hooks implements pipeline lifecycle callbacks for basic telemetry and
// logging. A zero-value Hooks is safe to use — every method just logs
// through a disabled zerolog.Logger.
type Hooks struct {
	logger zerolog.Logger
}

// NewHooks constructs a Hooks instance with the provided logger.
func NewHooks(logger zerolog.Logger) *Hooks {
	return &Hooks{logger: logger}
}

// OnGenerationStart records the start of a single pipeline run.
func (h *Hooks) OnGenerationStart(generationID, templatePath string) {
	h.logger.Info().Str("generation_id", generationID).Str("template", templatePath).Msg("generation started")
}

// OnGenerationEnd records the end of a pipeline run.
func (h *Hooks) OnGenerationEnd(generationID string, duration time.Duration, err error) {
	evt := h.logger.Info().Str("generation_id", generationID).Dur("duration", duration)
	if err != nil {
		h.logger.Error().Str("generation_id", generationID).Dur("duration", duration).Err(err).Msg("generation failed")
		return
	}
	evt.Msg("generation completed")
}

// OnStageStart logs entry into one of the orchestrator's fixed stages
// (ChartExtract, PivotExtract, TemplateRender, …).
func (h *Hooks) OnStageStart(generationID, stage string) {
	h.logger.Debug().Str("generation_id", generationID).Str("stage", stage).Msg("stage started")
}

// OnStageEnd logs completion of a stage.
func (h *Hooks) OnStageEnd(generationID, stage string, duration time.Duration, err error) {
	evt := h.logger.Debug().Str("generation_id", generationID).Str("stage", stage).Dur("duration", duration)
	if err != nil {
		h.logger.Error().Str("generation_id", generationID).Str("stage", stage).Err(err).Msg("stage failed")
		return
	}
	evt.Msg("stage completed")
}

// OnProgress reports rows emitted so far, at the cadence configured by
// pipeline.Config.ProgressReportInterval.
func (h *Hooks) OnProgress(generationID, sheet string, rowsEmitted, totalRows int) {
	h.logger.Debug().
		Str("generation_id", generationID).
		Str("sheet", sheet).
		Int("rows_emitted", rowsEmitted).
		Int("total_rows", totalRows).
		Msg("progress")
}
