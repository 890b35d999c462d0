package provider

import "github.com/jogakdal/tbeg/internal/value"

// MapProvider is a minimal in-memory Provider backed by plain Go maps. It is
// the reference implementation used by the render, pipeline and root
// package tests and by cmd/tbeg; production callers
// typically implement Provider directly against their own data sources.
type MapProvider struct {
	Values      map[string]value.Value
	Collections map[string][]value.Value
	Images      map[string][]byte
	Metadata    DocumentMetadata
	HasMeta     bool
}

// NewMapProvider returns an empty MapProvider ready for population.
func NewMapProvider() *MapProvider {
	return &MapProvider{
		Values:      map[string]value.Value{},
		Collections: map[string][]value.Value{},
		Images:      map[string][]byte{},
	}
}

func (p *MapProvider) GetValue(name string) (value.Value, bool) {
	v, ok := p.Values[name]
	return v, ok
}

func (p *MapProvider) GetItems(name string) (ItemIterator, bool) {
	items, ok := p.Collections[name]
	if !ok {
		return nil, false
	}
	// Return a fresh iterator each call — collections are re-iterable
	// across calls, never restartable within one.
	cp := make([]value.Value, len(items))
	copy(cp, items)
	return NewSliceIterator(cp), true
}

func (p *MapProvider) GetImage(name string) ([]byte, bool) {
	b, ok := p.Images[name]
	return b, ok
}

func (p *MapProvider) GetMetadata() (DocumentMetadata, bool) {
	return p.Metadata, p.HasMeta
}

func (p *MapProvider) GetItemCount(name string) (int, bool) {
	items, ok := p.Collections[name]
	if !ok {
		return 0, false
	}
	return len(items), true
}
