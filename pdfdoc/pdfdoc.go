// Package pdfdoc provides the PDF primitives the variation parsers rely on:
// rotation, page splitting, embedded raster access, extraction-quality
// scoring, and reconstruction of tabular text from positioned glyphs.
//
// Document bytes are never mutated. Every transforming operation works on a
// copy and returns new bytes.
//
// Structure operations (rotate, split, images, quality) go through pdfcpu.
// Glyph positions and ruling rectangles come from ledongthuc/pdf, whose
// content-stream interpreter exposes per-glyph coordinates.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	// ErrNoText is returned when a document has no extractable text layer.
	ErrNoText = errors.New("pdfdoc: no text layer")
	// ErrNoImage is returned when a page carries no decodable raster.
	ErrNoImage = errors.New("pdfdoc: no embedded image")
	// ErrBadRotation is returned for angles that are not a multiple of 90.
	ErrBadRotation = errors.New("pdfdoc: rotation must be a multiple of 90")
)

func init() {
	// pdfcpu otherwise creates a config directory under the user's home.
	api.DisableConfigDir()
}

func newConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in doc.
func PageCount(doc []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(doc), newConf())
	if err != nil {
		return 0, fmt.Errorf("pdfdoc: page count: %w", err)
	}
	return n, nil
}

func clone(doc []byte) []byte {
	return append([]byte(nil), doc...)
}
