package ocr

import (
	"errors"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ErrNoTable is returned when a page raster shows no ruled table.
var ErrNoTable = errors.New("ocr: no table grid detected")

// Span is a half-open pixel interval [Start, End).
type Span struct {
	Start, End int
}

// Grid is the cell geometry of a ruled table: band i of Rows crossed with
// band j of Cols is one cell.
type Grid struct {
	Rows, Cols []Span
}

// Cell returns the rectangle of cell (r, c).
func (g Grid) Cell(r, c int) image.Rectangle {
	return image.Rect(g.Cols[c].Start, g.Rows[r].Start, g.Cols[c].End, g.Rows[r].End)
}

const (
	darkLevel = 128 // gray levels below this are ink
	// A pixel row is a horizontal ruling when its longest ink run covers
	// this fraction of the page width.
	hRuleFrac = 0.3
	// A pixel column is a vertical ruling when ink covers this fraction of
	// the table's height.
	vRuleFrac = 0.8
)

// toGray converts any image to 8-bit gray with a zero origin.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

func dark(g *image.Gray, x, y int) bool {
	return g.Pix[y*g.Stride+x] < darkLevel
}

// DetectGrid finds the ruling lines of the table on a page raster. It uses
// only the line structure; no text is read.
func DetectGrid(img image.Image) (Grid, error) {
	g := toGray(img)
	w, h := g.Bounds().Dx(), g.Bounds().Dy()

	var hRows []int
	for y := 0; y < h; y++ {
		run, best := 0, 0
		for x := 0; x < w; x++ {
			if dark(g, x, y) {
				run++
				best = max(best, run)
			} else {
				run = 0
			}
		}
		if float64(best) >= hRuleFrac*float64(w) {
			hRows = append(hRows, y)
		}
	}
	hLines := group(hRows)
	if len(hLines) < 2 {
		return Grid{}, ErrNoTable
	}

	top, bottom := hLines[0].Start, hLines[len(hLines)-1].End
	var vCols []int
	for x := 0; x < w; x++ {
		n := 0
		for y := top; y < bottom; y++ {
			if dark(g, x, y) {
				n++
			}
		}
		if float64(n) >= vRuleFrac*float64(bottom-top) {
			vCols = append(vCols, x)
		}
	}
	vLines := group(vCols)
	if len(vLines) < 2 {
		return Grid{}, ErrNoTable
	}

	return Grid{Rows: between(hLines), Cols: between(vLines)}, nil
}

// group merges consecutive indexes into line spans.
func group(idx []int) []Span {
	var out []Span
	for _, i := range idx {
		if n := len(out); n > 0 && out[n-1].End == i {
			out[n-1].End = i + 1
			continue
		}
		out = append(out, Span{Start: i, End: i + 1})
	}
	return out
}

// between returns the gaps separating consecutive lines.
func between(lines []Span) []Span {
	out := make([]Span, 0, len(lines)-1)
	for i := 0; i+1 < len(lines); i++ {
		out = append(out, Span{Start: lines[i].End, End: lines[i+1].Start})
	}
	return out
}

// blank reports whether r holds no ink.
func blank(g *image.Gray, r image.Rectangle) bool {
	r = r.Intersect(g.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if dark(g, x, y) {
				return false
			}
		}
	}
	return true
}

// prepareCell crops r shrunk by inset, upscales it and surrounds it with a
// white margin of pad pixels. Short strings recognise noticeably better with
// the extra margin. It returns nil when the inset leaves nothing.
func prepareCell(g *image.Gray, r image.Rectangle, inset, pad int, scale float64) *image.Gray {
	r = r.Inset(inset).Intersect(g.Bounds())
	if r.Empty() {
		return nil
	}
	sw, sh := int(float64(r.Dx())*scale), int(float64(r.Dy())*scale)
	out := image.NewGray(image.Rect(0, 0, sw+2*pad, sh+2*pad))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(out, image.Rect(pad, pad, pad+sw, pad+sh), g, r, draw.Src, nil)
	return out
}
