package pdfdoc

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// glyph is one shown character in display space (y grows upwards, origin at
// the bottom-left of the page as it is displayed after /Rotate).
type glyph struct {
	x0, x1 float64 // horizontal extent
	y      float64 // baseline
	size   float64 // font size, always positive
	s      string
}

func (g glyph) cx() float64 { return (g.x0 + g.x1) / 2 }

// segment is an axis-aligned ruling line in display space. Horizontal
// segments have y0 == y1, vertical ones x0 == x1.
type segment struct {
	x0, y0, x1, y1 float64
}

func (s segment) horizontal() bool { return s.y0 == s.y1 }

type pageContent struct {
	width, height float64 // display size
	glyphs        []glyph
	rules         []segment
}

// ExtractTable rebuilds the table rows of doc, page by page in page order.
// Pages whose ruling rectangles form a grid are read cell by cell; other
// pages are split into columns by horizontal whitespace. Text of a cell
// spanning several lines is joined with "\n".
func ExtractTable(doc []byte) ([][]string, error) {
	pages, err := readGlyphs(doc)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	textFound := false
	for _, p := range pages {
		if len(p.glyphs) == 0 {
			continue
		}
		textFound = true
		if grid, ok := detectGrid(p); ok {
			rows = append(rows, latticeRows(p, grid)...)
			continue
		}
		rows = append(rows, streamRows(p)...)
	}
	if !textFound {
		return nil, ErrNoText
	}
	return rows, nil
}

// readGlyphs interprets every page's content stream. The underlying reader
// panics on malformed streams; that is reported as an error.
func readGlyphs(doc []byte) (pages []pageContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdfdoc: malformed content: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return nil, fmt.Errorf("pdfdoc: open: %w", err)
	}
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pages = append(pages, readPage(page))
	}
	return pages, nil
}

func readPage(page pdf.Page) pageContent {
	geo := newGeometry(page)
	content := page.Content()
	pc := pageContent{width: geo.displayW(), height: geo.displayH()}

	sizes := make([]float64, 0, len(content.Text))
	for _, t := range content.Text {
		if t.FontSize != 0 {
			sizes = append(sizes, math.Abs(t.FontSize))
		}
	}
	fallback := median(sizes)
	if fallback == 0 {
		fallback = 10
	}

	for _, t := range content.Text {
		if strings.TrimSpace(t.S) == "" {
			continue
		}
		size := math.Abs(t.FontSize)
		if size == 0 {
			size = fallback
		}
		// Glyph advance runs along +x in user space, or -x when the text
		// matrix mirrors it.
		endX := t.X + t.W
		if t.FontSize < 0 {
			endX = t.X - math.Abs(t.W)
		}
		ax, ay := geo.toDisplay(t.X, t.Y)
		bx, by := geo.toDisplay(endX, t.Y)
		g := glyph{x0: math.Min(ax, bx), x1: math.Max(ax, bx), y: math.Min(ay, by), size: size, s: t.S}
		if ay != by {
			// Vertical run in display space: give it a nominal width.
			g.x0, g.x1 = ax, ax+size/2
		}
		pc.glyphs = append(pc.glyphs, g)
	}

	for _, rc := range content.Rect {
		pc.rules = append(pc.rules, geo.rectRules(rc)...)
	}
	return pc
}

// geometry maps user space to display space for a page's MediaBox and
// inherited /Rotate.
type geometry struct {
	llx, lly, w, h float64
	rotate         int
}

func newGeometry(page pdf.Page) geometry {
	g := geometry{w: 612, h: 792}
	if box := inherited(page, "MediaBox"); box.Len() == 4 {
		llx, lly := box.Index(0).Float64(), box.Index(1).Float64()
		urx, ury := box.Index(2).Float64(), box.Index(3).Float64()
		g.llx, g.lly = math.Min(llx, urx), math.Min(lly, ury)
		g.w, g.h = math.Abs(urx-llx), math.Abs(ury-lly)
	}
	g.rotate = PageRotation(page)
	return g
}

func (g geometry) displayW() float64 {
	if g.rotate == 90 || g.rotate == 270 {
		return g.h
	}
	return g.w
}

func (g geometry) displayH() float64 {
	if g.rotate == 90 || g.rotate == 270 {
		return g.w
	}
	return g.h
}

func (g geometry) toDisplay(x, y float64) (float64, float64) {
	x, y = x-g.llx, y-g.lly
	switch g.rotate {
	case 90:
		return y, g.w - x
	case 180:
		return g.w - x, g.h - y
	case 270:
		return g.h - y, x
	}
	return x, y
}

// thinRule is the thickness under which a filled rectangle is a line.
const thinRule = 2.0

func (g geometry) rectRules(rc pdf.Rect) []segment {
	ax, ay := g.toDisplay(rc.Min.X, rc.Min.Y)
	bx, by := g.toDisplay(rc.Max.X, rc.Max.Y)
	x0, x1 := math.Min(ax, bx), math.Max(ax, bx)
	y0, y1 := math.Min(ay, by), math.Max(ay, by)
	switch {
	case x1-x0 < thinRule && y1-y0 < thinRule:
		return nil
	case x1-x0 < thinRule:
		x := (x0 + x1) / 2
		return []segment{{x, y0, x, y1}}
	case y1-y0 < thinRule:
		y := (y0 + y1) / 2
		return []segment{{x0, y, x1, y}}
	}
	return []segment{
		{x0, y0, x1, y0}, {x0, y1, x1, y1},
		{x0, y0, x0, y1}, {x1, y0, x1, y1},
	}
}

// PageRotation returns the effective /Rotate of page, normalized to
// 0, 90, 180 or 270.
func PageRotation(page pdf.Page) int {
	v := inherited(page, "Rotate")
	if v.IsNull() {
		return 0
	}
	r := int(v.Int64()) % 360
	if r < 0 {
		r += 360
	}
	return r - r%90
}

func inherited(page pdf.Page, key string) pdf.Value {
	for v := page.V; !v.IsNull(); v = v.Key("Parent") {
		if found := v.Key(key); !found.IsNull() {
			return found
		}
	}
	return pdf.Value{}
}

// lineText renders glyphs of one visual line, left to right, inserting a
// space where the gap looks like a word break.
func lineText(gs []glyph) string {
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].x0 < gs[j].x0 })
	var sb strings.Builder
	for i, g := range gs {
		if i > 0 && g.x0-gs[i-1].x1 > wordGap*g.size {
			sb.WriteByte(' ')
		}
		sb.WriteString(g.s)
	}
	return sb.String()
}

// groupLines clusters glyphs sharing a baseline, top line first.
func groupLines(gs []glyph) [][]glyph {
	sorted := append([]glyph(nil), gs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].y > sorted[j].y })
	var lines [][]glyph
	var baseline float64
	for _, g := range sorted {
		if n := len(lines); n > 0 && math.Abs(baseline-g.y) <= lineTolerance*g.size {
			lines[n-1] = append(lines[n-1], g)
			continue
		}
		lines = append(lines, []glyph{g})
		baseline = g.y
	}
	return lines
}

// cellText joins the lines of a multi-line cell with "\n".
func cellText(gs []glyph) string {
	if len(gs) == 0 {
		return ""
	}
	lines := groupLines(gs)
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, lineText(l))
	}
	return strings.Join(parts, "\n")
}

const (
	wordGap       = 0.15 // fraction of font size separating two words
	lineTolerance = 0.4  // baseline jitter tolerated within a line
)

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return s[len(s)/2]
}
