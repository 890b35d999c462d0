// Package tbegerr defines the canonical error taxonomy for the TBEG
// generation pipeline: a closed set of Kinds, each carrying a
// standard message and retry guidance, plus the sheet/cell/literal context
// needed for exact remediation.
package tbegerr

import (
	"errors"
	"fmt"
)

// Kind is a canonical error classification used across the pipeline.
type Kind string

const (
	InvalidRepeatSyntax   Kind = "INVALID_REPEAT_SYNTAX"
	MissingRequiredParam  Kind = "MISSING_REQUIRED_PARAMETER"
	InvalidRangeFormat    Kind = "INVALID_RANGE_FORMAT"
	SheetNotFound         Kind = "SHEET_NOT_FOUND"
	InvalidParameterValue Kind = "INVALID_PARAMETER_VALUE"
	MarkerValidation      Kind = "MARKER_VALIDATION"
	MissingTemplateData   Kind = "MISSING_TEMPLATE_DATA"
	FormulaExpansion      Kind = "FORMULA_EXPANSION"
	PackageIO             Kind = "PACKAGE_IO"
)

// entry documents a kind's standard message and whether the generation that
// raised it can be retried once the caller fixes its input (true only for
// caller-fixable input errors; a PackageIO failure is not, since retrying
// without changing anything tends to fail the same way).
type entry struct {
	message   string
	retryable bool
}

var catalog = map[Kind]entry{
	InvalidRepeatSyntax:   {"repeat marker syntax is invalid", true},
	MissingRequiredParam:  {"marker is missing a required parameter", true},
	InvalidRangeFormat:    {"range is not a valid A1 range or named range", true},
	SheetNotFound:         {"marker references a sheet that does not exist in the template", true},
	InvalidParameterValue: {"parameter value is out of its allowed domain", true},
	MarkerValidation:      {"marker arguments failed validation", true},
	MissingTemplateData:   {"data provider returned nothing for a required name", false},
	FormulaExpansion:      {"formula expansion would exceed Excel's argument limit", false},
	PackageIO:             {"failed to read or write the workbook package", false},
}

// Error is the concrete error type surfaced by every TBEG package. It
// carries enough context — sheet, cell, offending literal — for a caller to
// find and fix the template without re-running the generation.
type Error struct {
	Kind    Kind
	Sheet   string
	Cell    string
	Literal string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		if ent, ok := catalog[e.Kind]; ok {
			msg = ent.message
		} else {
			msg = string(e.Kind)
		}
	}
	loc := ""
	switch {
	case e.Sheet != "" && e.Cell != "":
		loc = fmt.Sprintf(" at %s!%s", e.Sheet, e.Cell)
	case e.Sheet != "":
		loc = fmt.Sprintf(" in sheet %s", e.Sheet)
	}
	lit := ""
	if e.Literal != "" {
		lit = fmt.Sprintf(" (%q)", e.Literal)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s%s%s: %v", e.Kind, msg, loc, lit, e.Cause)
	}
	return fmt.Sprintf("%s: %s%s%s", e.Kind, msg, loc, lit)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the catalog considers this kind caller-fixable
// without engine changes (matching the same input would still fail
// otherwise).
func (e *Error) Retryable() bool {
	if ent, ok := catalog[e.Kind]; ok {
		return ent.retryable
	}
	return false
}

// New constructs an Error for the given kind with an optional message
// override; Sheet/Cell/Literal/Cause can be set on the returned value or via
// the With* helpers.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrapf formats a message and constructs an Error for the given kind.
func Wrapf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// At returns a copy of e with sheet/cell location attached, for call sites
// that build a generic error and then pin it to the cell under analysis.
func (e *Error) At(sheet, cell string) *Error {
	cp := *e
	cp.Sheet = sheet
	cp.Cell = cell
	return &cp
}

// WithLiteral returns a copy of e carrying the offending literal text.
func (e *Error) WithLiteral(literal string) *Error {
	cp := *e
	cp.Literal = literal
	return &cp
}

// WithCause returns a copy of e wrapping the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// Is allows errors.Is(err, tbegerr.New(Kind, "")) to match by Kind alone,
// independent of message/location/cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind from err when it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
