// Package pdftest builds small, valid PDF documents for tests: positioned
// Helvetica text, ruling rectangles, page rotation and embedded images.
// Fonts carry a fixed 500/1000 em advance so glyph geometry is predictable.
package pdftest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Text is a string shown at (X, Y) in user space.
type Text struct {
	X, Y, Size float64
	S          string
	// Inverted draws the text rotated by 180 degrees around its origin.
	Inverted bool
}

// Rect is a filled rectangle in user space.
type Rect struct {
	X, Y, W, H float64
}

// Image is a raw DeviceGray 8-bit raster painted over the whole page.
type Image struct {
	Width, Height int
	Pixels        []byte // len = Width*Height
}

// Page describes one page. Width and Height default to A4 portrait points.
type Page struct {
	Width, Height float64
	Rotate        int
	Texts         []Text
	Rects         []Rect
	Image         *Image
}

// GlyphWidth is the advance of every glyph at font size 1.
const GlyphWidth = 0.5

// Build assembles the pages into a PDF with a correct xref table.
func Build(pages ...Page) []byte {
	var objs []string
	add := func(body string) int {
		objs = append(objs, body)
		return len(objs)
	}

	catalog := add("") // placeholder, filled below
	pagesObj := add("")
	widths := strings.TrimSpace(strings.Repeat("500 ", 95))
	font := add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [" + widths + "] >>")

	var kids []string
	for _, p := range pages {
		if p.Width == 0 {
			p.Width, p.Height = 595, 842
		}
		var content strings.Builder
		resources := fmt.Sprintf("/Font << /F1 %d 0 R >>", font)
		if p.Image != nil {
			img := add(stream(fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8",
				p.Image.Width, p.Image.Height), p.Image.Pixels))
			resources += fmt.Sprintf(" /XObject << /Im1 %d 0 R >>", img)
			fmt.Fprintf(&content, "q %s 0 0 %s 0 0 cm /Im1 Do Q\n", num(p.Width), num(p.Height))
		}
		for _, r := range p.Rects {
			fmt.Fprintf(&content, "%s %s %s %s re f\n", num(r.X), num(r.Y), num(r.W), num(r.H))
		}
		for _, t := range p.Texts {
			size := t.Size
			if size == 0 {
				size = 10
			}
			a, d := "1", "1"
			if t.Inverted {
				a, d = "-1", "-1"
			}
			fmt.Fprintf(&content, "BT /F1 %s Tf %s 0 0 %s %s %s Tm (%s) Tj ET\n",
				num(size), a, d, num(t.X), num(t.Y), escape(t.S))
		}
		contents := add(stream("", []byte(content.String())))
		rotate := ""
		if p.Rotate != 0 {
			rotate = fmt.Sprintf(" /Rotate %d", p.Rotate)
		}
		page := add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %s %s]%s /Resources << %s >> /Contents %d 0 R >>",
			pagesObj, num(p.Width), num(p.Height), rotate, resources, contents))
		kids = append(kids, fmt.Sprintf("%d 0 R", page))
	}
	objs[catalog-1] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesObj)
	objs[pagesObj-1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids))

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs)+1)
	for i, body := range objs {
		offsets[i+1] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for i := 1; i <= len(objs); i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, catalog, xref)
	return b.Bytes()
}

func stream(dict string, data []byte) string {
	if dict != "" {
		dict += " "
	}
	return fmt.Sprintf("<< %s/Length %d >>\nstream\n%s\nendstream", dict, len(data), data)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return r.Replace(s)
}

// Row lays out cells on one baseline, cell i starting at xs[i]. Empty cells
// are skipped.
func Row(y float64, xs []float64, cells ...string) []Text {
	var out []Text
	for i, c := range cells {
		if c == "" || i >= len(xs) {
			continue
		}
		out = append(out, Text{X: xs[i], Y: y, Size: 10, S: c})
	}
	return out
}
