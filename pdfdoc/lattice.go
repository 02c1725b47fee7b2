package pdfdoc

import "sort"

// grid is the set of ruling positions of a lattice table: xs ascending,
// ys descending (top band first).
type grid struct {
	xs, ys []float64
}

const (
	snapTolerance = 1.5 // rulings closer than this are the same line
	minRulings    = 3   // a lone border box is not a table
)

// detectGrid derives a lattice from the page's ruling rectangles.
func detectGrid(p pageContent) (grid, bool) {
	var xs, ys []float64
	for _, s := range p.rules {
		if s.horizontal() {
			ys = append(ys, s.y0)
		} else {
			xs = append(xs, s.x0)
		}
	}
	xs = snap(xs)
	ys = snap(ys)
	if len(xs) < minRulings || len(ys) < minRulings {
		return grid{}, false
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ys)))
	return grid{xs: xs, ys: ys}, true
}

// snap sorts positions and merges those within snapTolerance.
func snap(pos []float64) []float64 {
	if len(pos) == 0 {
		return nil
	}
	sort.Float64s(pos)
	out := []float64{pos[0]}
	for _, p := range pos[1:] {
		if p-out[len(out)-1] <= snapTolerance {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (g grid) column(x float64) int {
	for i := 0; i+1 < len(g.xs); i++ {
		if x >= g.xs[i] && x < g.xs[i+1] {
			return i
		}
	}
	return -1
}

func (g grid) row(y float64) int {
	for i := 0; i+1 < len(g.ys); i++ {
		if y <= g.ys[i] && y > g.ys[i+1] {
			return i
		}
	}
	return -1
}

// latticeRows fills the grid cell by cell. Glyphs outside the grid are
// ignored; fully empty bands are dropped.
func latticeRows(p pageContent, g grid) [][]string {
	nRows, nCols := len(g.ys)-1, len(g.xs)-1
	cells := make([][][]glyph, nRows)
	for i := range cells {
		cells[i] = make([][]glyph, nCols)
	}
	for _, gl := range p.glyphs {
		// Vertical centre of the glyph body sits above the baseline.
		r := g.row(gl.y + 0.3*gl.size)
		c := g.column(gl.cx())
		if r < 0 || c < 0 {
			continue
		}
		cells[r][c] = append(cells[r][c], gl)
	}

	var rows [][]string
	for _, band := range cells {
		row := make([]string, nCols)
		empty := true
		for c, gs := range band {
			row[c] = cellText(gs)
			if row[c] != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows
}
