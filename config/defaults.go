package config

import "time"

// Default runtime limits and generation policy values for the TBEG
// spreadsheet generation engine. These values are conservative and can be
// overridden by callers constructing pipeline.Config. They are referenced
// by internal/runtime and internal/workbooks.

const (
	// Concurrency
	DefaultMaxConcurrentGenerations = 8
	DefaultMaxOpenTemplates         = 4

	// Streaming strategy row window: target number
	// of resident rows kept before a flush to the underlying stream writer.
	DefaultStreamWindowRows = 500

	// Number format indices applied to numeric substitutions when the
	// template cell carries no explicit number format.
	DefaultIntegerNumberFormatIndex uint16 = 3 // #,##0
	DefaultDecimalNumberFormatIndex uint16 = 4 // #,##0.00

	// Progress reporting cadence, in rows emitted, for long streaming runs.
	DefaultProgressReportInterval = 1000
)

const (
	// Timeouts
	DefaultGenerationTimeout     = 60 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second

	// Blueprint cache (internal/workbooks)
	DefaultBlueprintCacheTTL      = 10 * time.Minute
	DefaultBlueprintCleanupPeriod = time.Minute
)

// StreamingMode selects between the in-memory and streaming render strategies.
type StreamingMode string

const (
	StreamingEnabled  StreamingMode = "ENABLED"
	StreamingDisabled StreamingMode = "DISABLED"
)

// FileNamingMode controls whether output file names carry a timestamp.
type FileNamingMode string

const (
	FileNamingNone      FileNamingMode = "NONE"
	FileNamingTimestamp FileNamingMode = "TIMESTAMP"
)

// FileConflictPolicy controls what happens when the output path already exists.
type FileConflictPolicy string

const (
	FileConflictError    FileConflictPolicy = "ERROR"
	FileConflictSequence FileConflictPolicy = "SEQUENCE"
)

// MissingDataBehavior controls how unresolved template names are handled.
type MissingDataBehavior string

const (
	MissingDataWarn  MissingDataBehavior = "WARN"
	MissingDataThrow MissingDataBehavior = "THROW"
)

// DefaultTimestampFormat is used by FileNamingTimestamp when the caller
// supplies no explicit layout.
const DefaultTimestampFormat = "20060102T150405"
