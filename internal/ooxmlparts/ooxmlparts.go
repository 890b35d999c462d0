// Package ooxmlparts fills the one gap excelize's public API leaves for
// TBEG: direct read/write access to an OOXML package's individual XML
// parts by path (chart, drawing, pivot cache/table definitions), none of
// which excelize exposes for editing. It operates on the raw ZIP
// container directly through archive/zip — the same ZIP library excelize
// itself is built on — so it composes with excelize's own output
// instead of requiring a second copy of the workbook.
package ooxmlparts

import (
	"archive/zip"
	"bytes"
	"io"
	"sort"

	"github.com/jogakdal/tbeg/pkg/tbegerr"
)

// Package is an in-memory OOXML ZIP container with pending part
// overrides layered on top of its original contents.
type Package struct {
	original map[string][]byte // path -> raw bytes, as read
	order    []string          // original part order, for stable re-zipping
	overlay  map[string][]byte // path -> replacement bytes
	deleted  map[string]bool
}

// OpenBytes reads every part of an OOXML ZIP container into memory.
func OpenBytes(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, tbegerr.New(tbegerr.PackageIO, "not a valid OOXML package").WithCause(err)
	}
	pkg := &Package{
		original: make(map[string][]byte, len(zr.File)),
		overlay:  map[string][]byte{},
		deleted:  map[string]bool{},
	}
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			return nil, tbegerr.New(tbegerr.PackageIO, "failed to open package part").WithLiteral(zf.Name).WithCause(err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, tbegerr.New(tbegerr.PackageIO, "failed to read package part").WithLiteral(zf.Name).WithCause(err)
		}
		pkg.original[zf.Name] = content
		pkg.order = append(pkg.order, zf.Name)
	}
	return pkg, nil
}

// Part returns a part's current bytes — the overlay version if one was
// set, otherwise the original, ok=false when the part doesn't exist (and
// wasn't added via SetPart).
func (p *Package) Part(name string) ([]byte, bool) {
	if p.deleted[name] {
		return nil, false
	}
	if b, ok := p.overlay[name]; ok {
		return b, true
	}
	b, ok := p.original[name]
	return b, ok
}

// Has reports whether name exists in the package (overlay-aware).
func (p *Package) Has(name string) bool {
	_, ok := p.Part(name)
	return ok
}

// SetPart stages a replacement (or brand-new) part. It takes effect in
// Part, ListParts, and Bytes, but does not touch the package until Bytes
// is called.
func (p *Package) SetPart(name string, data []byte) {
	delete(p.deleted, name)
	p.overlay[name] = data
	if _, existed := p.original[name]; !existed {
		if !containsString(p.order, name) {
			p.order = append(p.order, name)
		}
	}
}

// DeletePart stages removal of a part.
func (p *Package) DeletePart(name string) {
	delete(p.overlay, name)
	p.deleted[name] = true
}

// ListParts returns every live part path with the given prefix, sorted.
func (p *Package) ListParts(prefix string) []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range p.order {
		if p.deleted[name] || seen[name] {
			continue
		}
		seen[name] = true
		if hasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Bytes re-serializes the package: every non-deleted part, overlay
// applied, written in original order (new parts appended at the end).
func (p *Package) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range p.order {
		if p.deleted[name] {
			continue
		}
		content, ok := p.Part(name)
		if !ok {
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			return nil, tbegerr.New(tbegerr.PackageIO, "failed to write package part").WithLiteral(name).WithCause(err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, tbegerr.New(tbegerr.PackageIO, "failed to write package part").WithLiteral(name).WithCause(err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, tbegerr.New(tbegerr.PackageIO, "failed to finalize OOXML package").WithCause(err)
	}
	return buf.Bytes(), nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
