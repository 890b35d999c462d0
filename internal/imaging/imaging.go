// Package imaging implements the image inserter: detecting an image's
// format from its bytes, anchoring it at (or near) a marker's cell, and
// applying the marker's sizing policy.
package imaging

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/jogakdal/tbeg/internal/markers"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/xuri/excelize/v2"
)

// Format is a detected image container format.
type Format string

const (
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatGIF     Format = "gif"
	FormatBMP     Format = "bmp"
	FormatUnknown Format = ""
)

// magic byte signatures, checked longest/most-specific first.
var signatures = []struct {
	prefix []byte
	format Format
}{
	{[]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, FormatPNG},
	{[]byte{0xFF, 0xD8, 0xFF}, FormatJPEG},
	{[]byte("GIF87a"), FormatGIF},
	{[]byte("GIF89a"), FormatGIF},
	{[]byte("BM"), FormatBMP},
}

// DetectFormat inspects data's leading bytes and returns the image format,
// defaulting to PNG when no known signature matches (an unrecognized
// byte stream is still written out, tagged as PNG, rather
// than rejected — the workbook format requires *some* extension).
func DetectFormat(data []byte) Format {
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.prefix) {
			return sig.format
		}
	}
	return FormatPNG
}

// Extension returns the file extension excelize expects for a Format.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpeg"
	case FormatGIF:
		return ".gif"
	case FormatBMP:
		return ".bmp"
	default:
		return ".png"
	}
}

// Insert places image bytes at (or near) anchorCell on sheet, applying
// the marker's SizeSpec. anchorCell is either the marker's own cell
// (Position == "") or an explicit override.
func Insert(f *excelize.File, sheet string, marker markers.ImageMarker, anchorCell string, data []byte) error {
	cell := anchorCell
	if marker.Position != "" {
		cell = marker.Position
	}

	format := DetectFormat(data)
	opts := &excelize.GraphicOptions{LockAspectRatio: true}

	switch marker.Size.Kind {
	case markers.SizeFitToCell:
		opts.AutoFit = true
	case markers.SizeOriginal:
		opts.ScaleX, opts.ScaleY = 1, 1
	case markers.SizeFixed:
		scaleX, scaleY := fixedScale(data, marker.Size.Width, marker.Size.Height)
		opts.ScaleX, opts.ScaleY = scaleX, scaleY
	}

	pic := &excelize.Picture{Extension: format.Extension(), File: data, Format: opts}
	if err := f.AddPictureFromBytes(sheet, cell, pic); err != nil {
		return tbegerr.New(tbegerr.PackageIO, "failed to insert image").At(sheet, cell).WithCause(err)
	}
	return nil
}

// fixedScale computes the ScaleX/ScaleY excelize needs to render data's
// natural pixel dimensions at the requested width/height. When the
// natural size cannot be decoded (e.g. BMP, unrecognized data), it falls
// back to 1:1 — the image is inserted at native size rather than failing
// the generation outright.
func fixedScale(data []byte, width, height int) (float64, float64) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		return 1, 1
	}
	return float64(width) / float64(cfg.Width), float64(height) / float64(cfg.Height)
}
