// Package provider defines the Data Provider contract: the
// external collaborator the core consumes for scalars, collections,
// images, and document metadata. The core never holds process-wide state
// about providers — every method is called within the scope of a single
// generation's ProcessingContext.
package provider

import "github.com/jogakdal/tbeg/internal/value"

// ItemIterator yields collection items one at a time. It is finite and
// non-restartable per call — the core never rewinds within a single
// get_items call; if a repeat region needs the same
// collection again (streaming mode, multiple sheets), the core asks the
// Provider for a fresh iterator.
type ItemIterator interface {
	// Next advances to the next item and reports whether one was
	// available. Once it returns false, Next must keep returning false.
	Next() bool
	// Item returns the current item. Only valid after a Next call that
	// returned true.
	Item() value.Value
	// Err returns any error encountered while iterating. The streaming
	// strategy surfaces a non-nil Err and aborts the generation; no partial
	// workbook is retained.
	Err() error
	// Close releases resources held by the iterator (e.g. a cursor over a
	// paged external source). Safe to call multiple times.
	Close() error
}

// DocumentMetadata carries the document properties applied on request.
// An empty DocumentMetadata is a no-op for every field.
type DocumentMetadata struct {
	Title       string
	Author      string
	Subject     string
	Keywords    []string
	Description string
	Category    string
	Company     string
	Manager     string
	Created     string // RFC3339; empty means "leave unset"
}

// IsEmpty reports whether every field is at its zero value; empty
// metadata is a no-op for the Metadata stage.
func (m DocumentMetadata) IsEmpty() bool {
	return m.Title == "" && m.Author == "" && m.Subject == "" && len(m.Keywords) == 0 &&
		m.Description == "" && m.Category == "" && m.Company == "" && m.Manager == "" &&
		m.Created == ""
}

// Provider is the capability set the core consumes.
// Implementations decide how "name" maps to underlying data; the core
// treats every name as opaque.
type Provider interface {
	// GetValue resolves a scalar/bean root for a Variable or ItemField
	// root name. ok=false means the name is unknown to the provider.
	GetValue(name string) (value.Value, bool)

	// GetItems returns a fresh, finite, non-restartable iterator over the
	// named collection. ok=false means the name is unknown.
	GetItems(name string) (ItemIterator, bool)

	// GetImage returns raw image bytes for the named image. ok=false
	// means the name is unknown.
	GetImage(name string) ([]byte, bool)

	// GetMetadata returns document-wide metadata, if any was supplied.
	GetMetadata() (DocumentMetadata, bool)

	// GetItemCount is an optional optimization letting the
	// streaming strategy learn a collection's cardinality without
	// materializing it first. ok=false means "ask GetItems and count."
	GetItemCount(name string) (int, bool)
}

// SliceIterator adapts a pre-materialized []value.Value into an
// ItemIterator, for providers backed by in-memory collections.
type SliceIterator struct {
	items []value.Value
	idx   int
}

// NewSliceIterator constructs an ItemIterator over items. The slice is not
// copied; callers must not mutate it while the iterator is in use.
func NewSliceIterator(items []value.Value) *SliceIterator {
	return &SliceIterator{items: items, idx: -1}
}

func (s *SliceIterator) Next() bool {
	s.idx++
	return s.idx < len(s.items)
}

func (s *SliceIterator) Item() value.Value {
	if s.idx < 0 || s.idx >= len(s.items) {
		return value.Null()
	}
	return s.items[s.idx]
}

func (s *SliceIterator) Err() error   { return nil }
func (s *SliceIterator) Close() error { return nil }
