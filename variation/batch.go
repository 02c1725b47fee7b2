package variation

import (
	"slices"
	"sort"
)

// Batch maps a calendar date to the variations found for it. It is the unit
// passed from parsing to classification. Within one date, identities are
// unique: Add keeps the first record seen for an identity.
type Batch map[Date][]Variation

// Add appends v under its date unless a record with the same identity is
// already present. It reports whether v was added.
func (b Batch) Add(v Variation) bool {
	id := v.Identity()
	for _, existing := range b[v.Date] {
		if existing.Identity() == id {
			return false
		}
	}
	b[v.Date] = append(b[v.Date], v)
	return true
}

// AddAll adds each record in order and returns how many were kept.
func (b Batch) AddAll(vs []Variation) int {
	n := 0
	for _, v := range vs {
		if b.Add(v) {
			n++
		}
	}
	return n
}

// Merge folds other into b. Documents covering the same date are concatenated.
func (b Batch) Merge(other Batch) {
	for _, d := range other.Dates() {
		b.AddAll(other[d])
	}
}

// Dates returns the batch's dates in ascending order.
func (b Batch) Dates() []Date {
	out := make([]Date, 0, len(b))
	for d := range b {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// All flattens the batch in date order, preserving per-date order.
func (b Batch) All() []Variation {
	var out []Variation
	for _, d := range b.Dates() {
		out = append(out, b[d]...)
	}
	return out
}

// Len returns the total number of records.
func (b Batch) Len() int {
	n := 0
	for _, vs := range b {
		n += len(vs)
	}
	return n
}

// Clone returns a deep copy of the batch.
func (b Batch) Clone() Batch {
	out := make(Batch, len(b))
	for d, vs := range b {
		cp := make([]Variation, len(vs))
		for i, v := range vs {
			cp[i] = v.Clone()
		}
		out[d] = cp
	}
	return out
}

// Count returns how many records carry type t.
func (b Batch) Count(t Type) int {
	n := 0
	for _, vs := range b {
		for _, v := range vs {
			if v.Type == t {
				n++
			}
		}
	}
	return n
}

// ByClass groups records by class name, each group ordered by date, hour and
// teacher. Class names are returned sorted.
func ByClass(vs []Variation) (map[string][]Variation, []string) {
	groups := make(map[string][]Variation)
	for _, v := range vs {
		groups[v.ClassName] = append(groups[v.ClassName], v)
	}
	names := make([]string, 0, len(groups))
	for name, g := range groups {
		slices.SortStableFunc(g, compareSlot)
		names = append(names, name)
	}
	sort.Strings(names)
	return groups, names
}

func compareSlot(a, b Variation) int {
	switch {
	case a.Date != b.Date:
		if a.Date.Before(b.Date) {
			return -1
		}
		return 1
	case a.Hour != b.Hour:
		return a.Hour - b.Hour
	case a.Teacher < b.Teacher:
		return -1
	case a.Teacher > b.Teacher:
		return 1
	}
	return 0
}
