package pdfdoc

import (
	"math"
	"sort"
	"strings"
)

const (
	columnGap       = 0.8 // fraction of font size separating two cells on a line
	continuationGap = 1.3 // max baseline distance of a wrapped cell line
)

type run struct {
	x0, x1 float64
	glyphs []glyph
}

// streamRows rebuilds a table without rulings. Lines are cut into runs at
// wide gaps; the columns are the x-intervals covered by runs of lines that
// have at least two of them. A line whose first column is empty and that
// sits tight under the previous one is a wrapped continuation of it.
func streamRows(p pageContent) [][]string {
	lines := groupLines(p.glyphs)
	runsByLine := make([][]run, len(lines))
	var spans []run
	for i, l := range lines {
		runsByLine[i] = splitRuns(l)
		if len(runsByLine[i]) >= 2 {
			spans = append(spans, runsByLine[i]...)
		}
	}
	cols := mergeSpans(spans)

	var rows [][]string
	var prevY, prevSize float64
	for i, runs := range runsByLine {
		row := make([]string, max(len(cols), 1))
		for _, r := range runs {
			c := nearestColumn(cols, r)
			text := lineText(r.glyphs)
			if row[c] != "" {
				row[c] += " "
			}
			row[c] += text
		}
		y, size := lines[i][0].y, lines[i][0].size
		if n := len(rows); n > 0 && row[0] == "" && prevY-y <= continuationGap*math.Max(size, prevSize) {
			for c, text := range row {
				if text == "" {
					continue
				}
				if rows[n-1][c] != "" {
					rows[n-1][c] += "\n"
				}
				rows[n-1][c] += text
			}
		} else {
			rows = append(rows, row)
		}
		prevY, prevSize = y, size
	}
	return rows
}

func splitRuns(line []glyph) []run {
	gs := append([]glyph(nil), line...)
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].x0 < gs[j].x0 })
	var runs []run
	for _, g := range gs {
		if n := len(runs); n > 0 && g.x0-runs[n-1].x1 <= columnGap*g.size {
			runs[n-1].glyphs = append(runs[n-1].glyphs, g)
			runs[n-1].x1 = math.Max(runs[n-1].x1, g.x1)
			continue
		}
		runs = append(runs, run{x0: g.x0, x1: g.x1, glyphs: []glyph{g}})
	}
	return runs
}

// mergeSpans unions overlapping x-intervals into column intervals.
func mergeSpans(spans []run) []run {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].x0 < spans[j].x0 })
	cols := []run{{x0: spans[0].x0, x1: spans[0].x1}}
	for _, s := range spans[1:] {
		last := &cols[len(cols)-1]
		if s.x0 <= last.x1 {
			last.x1 = math.Max(last.x1, s.x1)
			continue
		}
		cols = append(cols, run{x0: s.x0, x1: s.x1})
	}
	return cols
}

// nearestColumn returns the column containing the run's left edge, or the
// closest one.
func nearestColumn(cols []run, r run) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range cols {
		if r.x0 >= c.x0 && r.x0 <= c.x1 {
			return i
		}
		d := math.Min(math.Abs(r.x0-c.x0), math.Abs(r.x0-c.x1))
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Text returns the document's text, one visual line per output line, pages
// separated by a blank line.
func Text(doc []byte) (string, error) {
	pages, err := readGlyphs(doc)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, p := range pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		for j, l := range groupLines(p.glyphs) {
			if j > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(lineText(l))
		}
	}
	return sb.String(), nil
}
