package pdfdoc

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	_ "golang.org/x/image/tiff"
)

// Rotate returns a copy of doc with every page turned clockwise by degrees.
// A zero rotation still returns a fresh copy.
func Rotate(doc []byte, degrees int) ([]byte, error) {
	degrees = ((degrees % 360) + 360) % 360
	if degrees%90 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadRotation, degrees)
	}
	if degrees == 0 {
		return clone(doc), nil
	}
	var out bytes.Buffer
	if err := api.Rotate(bytes.NewReader(doc), &out, degrees, nil, newConf()); err != nil {
		return nil, fmt.Errorf("pdfdoc: rotate %d: %w", degrees, err)
	}
	return out.Bytes(), nil
}

// Rotator adapts Rotate to the layout package's rotation contract.
type Rotator struct{}

func (Rotator) Rotate(doc []byte, degrees int) ([]byte, error) { return Rotate(doc, degrees) }

// SplitPages returns one single-page document per page, in page order.
func SplitPages(doc []byte) ([][]byte, error) {
	n, err := PageCount(doc)
	if err != nil {
		return nil, err
	}
	pages := make([][]byte, 0, n)
	for i := 1; i <= n; i++ {
		var out bytes.Buffer
		if err := api.Trim(bytes.NewReader(doc), &out, []string{strconv.Itoa(i)}, newConf()); err != nil {
			return nil, fmt.Errorf("pdfdoc: split page %d: %w", i, err)
		}
		pages = append(pages, out.Bytes())
	}
	return pages, nil
}

// PageImage decodes the largest raster embedded in the first page of doc.
// Scanned documents carry one full-page image per page, so for a page
// produced by SplitPages this is the scan itself.
func PageImage(doc []byte) (image.Image, error) {
	pages, err := api.ExtractImagesRaw(bytes.NewReader(doc), []string{"1"}, newConf())
	if err != nil {
		return nil, fmt.Errorf("pdfdoc: extract images: %w", err)
	}
	var best image.Image
	bestArea := 0
	for _, imgs := range pages {
		for _, raw := range imgs {
			img, _, err := image.Decode(raw)
			if err != nil {
				continue
			}
			b := img.Bounds()
			if area := b.Dx() * b.Dy(); area > bestArea {
				best, bestArea = img, area
			}
		}
	}
	if best == nil {
		return nil, ErrNoImage
	}
	return best, nil
}
