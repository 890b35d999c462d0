// Package workbooks implements the blueprint cache: a TTL-bearing cache of
// analyzed WorkbookSpecs keyed by template content hash, so a template
// opened repeatedly (e.g. the same report run every hour) is analyzed once
// instead of on every generation. Template-open capacity is gated through
// a TemplateGate, kept separate from the cache so tests can exercise
// either concern alone.
package workbooks

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jogakdal/tbeg/config"
	"github.com/jogakdal/tbeg/internal/blueprint"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/xuri/excelize/v2"
)

// Entry is one cached analysis, keyed by the template's content hash.
type Entry struct {
	Hash      string
	Spec      *blueprint.WorkbookSpec
	LoadedAt  time.Time
	ExpiresAt time.Time
	mu        sync.RWMutex
}

// Expired reports whether the entry has reached its TTL.
func (e *Entry) Expired(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return now.After(e.ExpiresAt)
}

// TemplateGate coordinates capacity for concurrently open template
// workbooks (backed by runtime.Controller.AcquireTemplate/ReleaseTemplate).
type TemplateGate interface {
	AcquireTemplate(ctx context.Context) error
	ReleaseTemplate()
}

// PathValidator abstracts filesystem path validation. Implementations
// should return a canonical absolute path if allowed, or an error when
// denied.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

// Manager is the blueprint cache: content-hash-keyed WorkbookSpec entries
// with TTL eviction. A template's underlying *excelize.File is only ever
// opened transiently, during Analyze, and closed immediately after — only
// the analysis is reused across generations, never the open workbook.
type Manager struct {
	mu           sync.RWMutex
	entries      map[string]*Entry
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	gate         TemplateGate
	validator    PathValidator
	stopCh       chan struct{}
	cleanupWG    sync.WaitGroup
}

// NewManager constructs a blueprint cache. Pass ttl or cleanupEvery <= 0 to
// use config defaults. gate/validator may be nil (tests, or a caller that
// has already validated the path). clock defaults to time.Now.
func NewManager(ttl, cleanupEvery time.Duration, gate TemplateGate, validator PathValidator, clock func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = config.DefaultBlueprintCacheTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultBlueprintCleanupPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		entries:      make(map[string]*Entry),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        clock,
		gate:         gate,
		validator:    validator,
		stopCh:       make(chan struct{}),
	}
}

// Start launches periodic eviction of expired entries.
func (m *Manager) Start() {
	m.cleanupWG.Add(1)
	ticker := time.NewTicker(m.cleanupEvery)
	go func() {
		defer m.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.EvictExpired()
			}
		}
	}()
}

// Close stops background cleanup. The cache holds no open file handles, so
// there is nothing further to release.
func (m *Manager) Close(ctx context.Context) error {
	close(m.stopCh)
	done := make(chan struct{})
	go func() { m.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrUnsupportedFormat indicates a path without a recognized Excel
// extension.
var ErrUnsupportedFormat = errors.New("workbooks: unsupported format")

// Open hashes the file at path, returning a cached analysis when present
// and unexpired, or opening, analyzing, and caching it otherwise. Template
// capacity is acquired via the gate only while the workbook is physically
// open (hashing + analysis); it is released before Open returns.
func (m *Manager) Open(ctx context.Context, path string) (*blueprint.WorkbookSpec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	if m.validator != nil {
		canonical, err := m.validator.ValidateOpenPath(path)
		if err != nil {
			return nil, err
		}
		path = canonical
	}

	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	hash, err := hashFile(path)
	if err != nil {
		return nil, tbegerr.New(tbegerr.PackageIO, "failed to hash template file").WithCause(err)
	}

	if entry, ok := m.Get(hash); ok {
		return entry.Spec, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, tbegerr.New(tbegerr.PackageIO, "failed to open template workbook").WithCause(err)
	}
	defer func() { _ = f.Close() }()

	spec, err := blueprint.Analyze(f)
	if err != nil {
		return nil, err
	}

	m.Put(hash, spec)
	return spec, nil
}

// Get returns the cached spec for hash, if present and not expired, and
// refreshes its TTL on access (idle-timeout semantics).
func (m *Manager) Get(hash string) (*Entry, bool) {
	m.mu.RLock()
	e, ok := m.entries[hash]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	now := m.clock()
	if e.Expired(now) {
		return nil, false
	}
	e.mu.Lock()
	e.ExpiresAt = now.Add(m.ttl)
	e.mu.Unlock()
	return e, true
}

// Put inserts or replaces the cached analysis for hash.
func (m *Manager) Put(hash string, spec *blueprint.WorkbookSpec) {
	now := m.clock()
	e := &Entry{Hash: hash, Spec: spec, LoadedAt: now, ExpiresAt: now.Add(m.ttl)}
	m.mu.Lock()
	m.entries[hash] = e
	m.mu.Unlock()
}

// EvictExpired removes every entry past its TTL.
func (m *Manager) EvictExpired() {
	now := m.clock()
	var expired []string

	m.mu.RLock()
	for hash, e := range m.entries {
		if e.Expired(now) {
			expired = append(expired, hash)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}
	m.mu.Lock()
	for _, hash := range expired {
		delete(m.entries, hash)
	}
	m.mu.Unlock()
}

// Count returns the number of cached entries.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	return m.gate.AcquireTemplate(ctx)
}

func (m *Manager) release() {
	if m.gate == nil {
		return
	}
	m.gate.ReleaseTemplate()
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
