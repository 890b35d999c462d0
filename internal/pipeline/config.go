package pipeline

import (
	"github.com/jogakdal/tbeg/config"
	"github.com/jogakdal/tbeg/pkg/validation"
)

// Config carries every tunable a generation honors. Struct tags carry
// validator's built-in constraints (oneof, gte, omitempty), checked
// through pkg/validation, so a malformed Config surfaces as a
// *tbegerr.Error (InvalidParameterValue for an out-of-set value).
type Config struct {
	StreamingMode      config.StreamingMode      `validate:"oneof=ENABLED DISABLED"`
	FileNamingMode     config.FileNamingMode     `validate:"oneof=NONE TIMESTAMP"`
	TimestampFormat    string                    `validate:"omitempty"`
	FileConflictPolicy config.FileConflictPolicy `validate:"oneof=ERROR SEQUENCE"`

	// ProgressReportInterval is how many rows elapse between
	// telemetry.Hooks.OnProgress calls during streaming render.
	ProgressReportInterval int `validate:"gte=0"`

	// PreserveTemplateLayout gates whether the Layout Applier copies
	// template column widths/row heights onto emitted rows/columns
	// (default on).
	PreserveTemplateLayout bool

	IntegerNumberFormatIndex uint16
	DecimalNumberFormatIndex uint16

	MissingDataBehavior config.MissingDataBehavior `validate:"oneof=WARN THROW"`
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() Config {
	return Config{
		StreamingMode:            config.StreamingEnabled,
		FileNamingMode:           config.FileNamingNone,
		TimestampFormat:          config.DefaultTimestampFormat,
		FileConflictPolicy:       config.FileConflictError,
		ProgressReportInterval:   config.DefaultProgressReportInterval,
		PreserveTemplateLayout:   true,
		IntegerNumberFormatIndex: config.DefaultIntegerNumberFormatIndex,
		DecimalNumberFormatIndex: config.DefaultDecimalNumberFormatIndex,
		MissingDataBehavior:      config.MissingDataThrow,
	}
}

// Validate checks cfg against its struct tags, translating the first
// failure into a *tbegerr.Error (pkg/validation.ValidateStruct).
func (c Config) Validate() error {
	return validation.ValidateStruct(c)
}
