// Package outputpolicy implements the output file-naming and conflict
// policy: naming (NONE/TIMESTAMP) and conflict handling (ERROR/SEQUENCE).
// It is consumed only by cmd/tbeg — the pipeline itself returns bytes and
// never touches the filesystem — so this package has no dependency on
// internal/pipeline.
package outputpolicy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jogakdal/tbeg/config"
)

// ErrConflict is returned by Resolve when the target path already exists
// and the configured policy is FileConflictError.
var ErrConflict = errors.New("outputpolicy: output path already exists")

// Resolve computes the final path a generation's bytes should be written
// to, given the path the caller requested and the configured naming and
// conflict policies. now is threaded in explicitly so callers (and tests)
// control the timestamp rather than this package reaching for time.Now.
func Resolve(requestedPath string, naming config.FileNamingMode, conflict config.FileConflictPolicy, timestampFormat string, now time.Time) (string, error) {
	named := applyNaming(requestedPath, naming, timestampFormat, now)
	return applyConflict(named, conflict)
}

// ResolveNow is Resolve with the current time, for the common case where a
// caller has no reason to pin a specific timestamp.
func ResolveNow(requestedPath string, naming config.FileNamingMode, conflict config.FileConflictPolicy, timestampFormat string) (string, error) {
	return Resolve(requestedPath, naming, conflict, timestampFormat, time.Now())
}

// applyNaming inserts a formatted timestamp before the file extension when
// mode is FileNamingTimestamp; FileNamingNone (and any other value) leaves
// the path untouched.
func applyNaming(path string, mode config.FileNamingMode, format string, now time.Time) string {
	if mode != config.FileNamingTimestamp {
		return path
	}
	if format == "" {
		format = config.DefaultTimestampFormat
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	stamped := fmt.Sprintf("%s_%s%s", base, now.Format(format), ext)
	return filepath.Join(dir, stamped)
}

// applyConflict checks whether path already exists and, if so, either
// fails (FileConflictError, the default) or finds the next free
// sequence-numbered variant (FileConflictSequence).
func applyConflict(path string, policy config.FileConflictPolicy) (string, error) {
	if !exists(path) {
		return path, nil
	}
	if policy == config.FileConflictSequence {
		return nextSequence(path)
	}
	return "", fmt.Errorf("%w: %s", ErrConflict, path)
}

// nextSequence finds the lowest-numbered "name_N.ext" variant of path that
// does not already exist, starting at 2 (the template's own requested name
// stands in for "_1").
func nextSequence(path string) (string, error) {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	const maxAttempts = 10000
	for i := 2; i < maxAttempts; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("outputpolicy: exhausted sequence numbers for %s", path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
