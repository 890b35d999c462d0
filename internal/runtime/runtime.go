// Package runtime coordinates concurrency guardrails shared by every
// generation: how many generations may run at once, and how many template
// workbooks may be open at once. One generation owns one pipeline.Context;
// the Controller only bounds how many such contexts may exist concurrently.
package runtime

import (
	"context"
	"time"

	"github.com/jogakdal/tbeg/config"
	"golang.org/x/sync/semaphore"
)

// Limits captures the concurrency and resource guardrails configured for
// the engine.
type Limits struct {
	// Concurrency caps
	MaxConcurrentGenerations int
	MaxOpenTemplates         int

	// Row and timing bounds
	StreamWindowRows       int
	ProgressReportInterval int
	GenerationTimeout      time.Duration
	AcquireRequestTimeout  time.Duration
}

// NewLimits initializes Limits with sensible fallbacks when values are unset.
func NewLimits(maxConcurrentGenerations, maxOpenTemplates int) Limits {
	if maxConcurrentGenerations <= 0 {
		maxConcurrentGenerations = config.DefaultMaxConcurrentGenerations
	}
	if maxOpenTemplates <= 0 {
		maxOpenTemplates = config.DefaultMaxOpenTemplates
	}

	return Limits{
		MaxConcurrentGenerations: maxConcurrentGenerations,
		MaxOpenTemplates:         maxOpenTemplates,
		StreamWindowRows:         config.DefaultStreamWindowRows,
		ProgressReportInterval:   config.DefaultProgressReportInterval,
		GenerationTimeout:        config.DefaultGenerationTimeout,
		AcquireRequestTimeout:    config.DefaultAcquireRequestTimeout,
	}
}

// Controller coordinates runtime semaphores for generation and template
// guardrails.
type Controller struct {
	limits           Limits
	generationSem    *semaphore.Weighted
	openTemplatesSem *semaphore.Weighted
}

// NewController constructs a Controller backed by weighted semaphores.
func NewController(limits Limits) *Controller {
	return &Controller{
		limits:           limits,
		generationSem:    semaphore.NewWeighted(int64(limits.MaxConcurrentGenerations)),
		openTemplatesSem: semaphore.NewWeighted(int64(limits.MaxOpenTemplates)),
	}
}

// AcquireGeneration reserves capacity for a new generation run.
func (c *Controller) AcquireGeneration(ctx context.Context) error {
	return c.generationSem.Acquire(ctx, 1)
}

// ReleaseGeneration frees previously-acquired generation capacity.
func (c *Controller) ReleaseGeneration() {
	c.generationSem.Release(1)
}

// AcquireTemplate reserves an open-template slot. Satisfies
// workbooks.WorkbookGate.
func (c *Controller) AcquireTemplate(ctx context.Context) error {
	return c.openTemplatesSem.Acquire(ctx, 1)
}

// ReleaseTemplate frees an open-template slot.
func (c *Controller) ReleaseTemplate() {
	c.openTemplatesSem.Release(1)
}

// LimitsSnapshot exposes the configured guardrails for diagnostics.
func (c *Controller) LimitsSnapshot() Limits {
	return c.limits
}
