package guardrail

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SanitizedImage is a decoded image rebuilt from raw pixel data only: no
// EXIF or other embedded metadata survives, and the color mode is normalized
// to RGB regardless of the source mode. Handles are scoped to a single
// pipeline run and never cached.
type SanitizedImage struct {
	Width  int
	Height int
	// JPEG is the canonical re-encoded form handed to classifiers and the
	// generation client.
	JPEG []byte
}

// Sanitizer validates and normalizes raw image bytes before any classifier
// sees them. It gates malformed, oversized, and metadata-bearing input; it
// never classifies content.
type Sanitizer struct {
	maxBytes  int
	maxPixels int
}

// NewSanitizer creates a sanitizer with the given policy limits.
func NewSanitizer(maxBytes, maxPixels int) *Sanitizer {
	return &Sanitizer{maxBytes: maxBytes, maxPixels: maxPixels}
}

// Sanitize checks size, format, and dimensions, then reconstructs the image
// from pixel data. On PASS the sanitized image travels in result metadata.
func (s *Sanitizer) Sanitize(raw []byte) *Result {
	if len(raw) > s.maxBytes {
		return Block([]string{"Image too large"}, nil)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Block([]string{fmt.Sprintf("Invalid image: %v", err)}, nil)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w*h > s.maxPixels {
		return Block([]string{"Image dimensions too large"}, nil)
	}

	// Redrawing into a fresh RGBA buffer drops every ancillary chunk the
	// source carried; the JPEG encoder writes pixel data only.
	clean := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(clean, clean.Bounds(), img, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, clean, &jpeg.Options{Quality: 90}); err != nil {
		return Block([]string{fmt.Sprintf("Invalid image: %v", err)}, nil)
	}

	return &Result{
		Status: StatusPass,
		Metadata: map[string]any{
			metaImage: &SanitizedImage{Width: w, Height: h, JPEG: buf.Bytes()},
		},
	}
}
