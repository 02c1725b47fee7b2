package layout

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hazyhaar/variazioni/variation"
)

// Absent marks a field a layout generation does not carry.
const Absent = -1

// Columns maps record fields to cell indexes after the signature column has
// been removed.
type Columns struct {
	Hour, Class, Classroom, Teacher, Substitute1, Substitute2, Notes int
}

// Layout describes one table generation: the headers that identify it and
// where each field lives.
type Layout struct {
	Name    string
	Headers []string
	Columns Columns

	// SplitClassRoom extracts the classroom from a combined "3A (L12)" cell.
	SplitClassRoom bool

	// ByHeader resolves Columns from the header row instead of fixed indexes.
	// Header[i] is looked up for the fields listed in HeaderFields.
	ByHeader     bool
	HeaderFields HeaderFields

	// Person overrides the name cleanup. Nil uses variation.NormalizePerson.
	Person func(string) variation.Person
	// Class overrides the class cell cleanup.
	Class func(string) string
}

// HeaderFields names the header of each field for ByHeader layouts. Empty
// names are absent fields.
type HeaderFields struct {
	Hour, Class, Classroom, Teacher, Substitute1, Substitute2, Notes string
}

const signatureHeader = "firma"

// Rows applies the header-validation and row-cleanup contract to a table.
// The header is looked for in row 0 and, failing that, row 1 only. It
// returns ErrNoMatch when no header qualifies or no row yields a record.
func (l Layout) Rows(rows [][]string) ([]variation.Variation, error) {
	start := -1
	for i := 0; i < len(rows) && i < 2; i++ {
		if l.matchesHeader(rows[i]) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, ErrNoMatch
	}

	header := rows[start]
	sig := signatureIndex(header)
	if sig >= 0 && sig < len(header) && normalizeHeader(header[sig]) == signatureHeader {
		header = removeColumn(header, sig)
	}
	cols := l.Columns
	if l.ByHeader {
		cols = l.HeaderFields.resolve(header)
	}

	var out []variation.Variation
	for _, row := range rows[start+1:] {
		if sig >= 0 {
			row = removeColumn(row, sig)
		}
		if l.matchesHeader(row) {
			continue
		}
		v, ok := l.parseRow(row, cols)
		if !ok {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, ErrNoMatch
	}
	return out, nil
}

func (l Layout) parseRow(row []string, cols Columns) (variation.Variation, bool) {
	classCell := cell(row, cols.Class)
	if strings.TrimSpace(classCell) == "" {
		return variation.Variation{}, false
	}
	hour, err := strconv.Atoi(strings.TrimSpace(cell(row, cols.Hour)))
	if err != nil {
		return variation.Variation{}, false
	}

	person := l.Person
	if person == nil {
		person = variation.NormalizePerson
	}
	v := variation.Variation{
		Hour:        hour,
		Teacher:     person(cell(row, cols.Teacher)),
		Substitute1: person(cell(row, cols.Substitute1)),
		Substitute2: person(cell(row, cols.Substitute2)),
		Notes:       variation.NormalizeNotes(cell(row, cols.Notes)),
	}
	if l.SplitClassRoom {
		v.ClassName, v.Classroom = splitClassRoom(classCell)
	} else {
		v.ClassName = cleanClass(classCell)
		v.Classroom = variation.NormalizeClassroom(cell(row, cols.Classroom))
	}
	if l.Class != nil {
		v.ClassName = l.Class(v.ClassName)
	}
	if err := v.Validate(); err != nil {
		return variation.Variation{}, false
	}
	return v, true
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func cleanClass(s string) string {
	return strings.Join(strings.Fields(s), "")
}

var classRoomRe = regexp.MustCompile(`([1-5][A-Z]+)\s*\(?([A-Z0-9]+)\)?`)

// splitClassRoom reads "3A (L12)", "3A(L12)" or "3A\nL12".
func splitClassRoom(s string) (class, room string) {
	flat := strings.Join(strings.Fields(s), " ")
	m := classRoomRe.FindStringSubmatch(flat)
	if m == nil {
		return cleanClass(s), string(variation.NoPerson)
	}
	return m[1], m[2]
}

// normalizeHeader lowercases and collapses whitespace, so "Docente\nassente"
// and "docente  assente" compare equal.
func normalizeHeader(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// matchesHeader reports whether every required header appears in the row,
// either as a whole cell or as a space-bounded part of one. The latter
// covers generations that print the header line as a single merged cell.
func (l Layout) matchesHeader(row []string) bool {
	if len(l.Headers) == 0 {
		return false
	}
	cells := make([]string, 0, len(row))
	for _, c := range row {
		if n := normalizeHeader(c); n != "" {
			cells = append(cells, n)
		}
	}
	for _, h := range l.Headers {
		if !containsHeader(cells, normalizeHeader(h)) {
			return false
		}
	}
	return true
}

func containsHeader(cells []string, h string) bool {
	for _, c := range cells {
		if c == h {
			return true
		}
		for i := 0; ; {
			j := strings.Index(c[i:], h)
			if j < 0 {
				break
			}
			j += i
			end := j + len(h)
			if (j == 0 || c[j-1] == ' ') && (end == len(c) || c[end] == ' ') {
				return true
			}
			i = j + 1
		}
	}
	return false
}

// signatureIndex returns the column of the signature header, or -1. A
// header printed as one merged first cell is split on spaces and the
// token position is the column.
func signatureIndex(header []string) int {
	for i, c := range header {
		if normalizeHeader(c) == signatureHeader {
			return i
		}
	}
	if !mergedHeader(header) {
		return -1
	}
	for i, tok := range strings.Fields(header[0]) {
		if strings.ToLower(tok) == signatureHeader {
			return i
		}
	}
	return -1
}

// mergedHeader reports whether the whole header sits in the first cell.
func mergedHeader(header []string) bool {
	if len(header) == 0 || strings.TrimSpace(header[0]) == "" {
		return false
	}
	for _, c := range header[1:] {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func removeColumn(row []string, idx int) []string {
	if idx >= len(row) {
		return row
	}
	out := make([]string, 0, len(row)-1)
	out = append(out, row[:idx]...)
	return append(out, row[idx+1:]...)
}

func (hf HeaderFields) resolve(header []string) Columns {
	find := func(name string) int {
		if name == "" {
			return Absent
		}
		want := normalizeHeader(name)
		for i, c := range header {
			if normalizeHeader(c) == want {
				return i
			}
		}
		return Absent
	}
	return Columns{
		Hour:        find(hf.Hour),
		Class:       find(hf.Class),
		Classroom:   find(hf.Classroom),
		Teacher:     find(hf.Teacher),
		Substitute1: find(hf.Substitute1),
		Substitute2: find(hf.Substitute2),
		Notes:       find(hf.Notes),
	}
}
