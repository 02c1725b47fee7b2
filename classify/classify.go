// Package classify compares freshly parsed variations with the stored state
// for the same dates and labels each difference new, edited or removed.
// Unchanged records are dropped; only differences travel on to persistence
// and notification.
//
// Records are matched on their identity (date, hour, class, absent teacher).
// A change to classroom, substitutes or notes is an edit of the same slot,
// never a removed+new pair.
package classify

import (
	"context"
	"fmt"

	"github.com/hazyhaar/variazioni/variation"
)

// Classify labels fresh against stored and returns only the differences.
// stored should hold the records of exactly fresh's dates; records for
// other dates are ignored. Neither input is modified.
func Classify(fresh variation.Batch, stored []variation.Variation) variation.Batch {
	byID := make(map[variation.Identity]variation.Variation, len(stored))
	for _, s := range stored {
		if _, ok := fresh[s.Date]; !ok {
			continue
		}
		if _, dup := byID[s.Identity()]; !dup {
			byID[s.Identity()] = s
		}
	}

	out := make(variation.Batch)
	seen := make(map[variation.Identity]bool)
	for _, d := range fresh.Dates() {
		for _, f := range fresh[d] {
			id := f.Identity()
			if seen[id] {
				continue
			}
			seen[id] = true

			old, ok := byID[id]
			if !ok {
				v := f.Clone()
				v.Type, v.EditedFields = variation.TypeNew, nil
				out[d] = append(out[d], v)
				continue
			}
			if fields := f.Diff(old); len(fields) > 0 {
				v := f.Clone()
				v.Type, v.EditedFields = variation.TypeEdited, fields
				out[d] = append(out[d], v)
			}
		}
	}

	emitted := make(map[variation.Identity]bool)
	for _, s := range stored {
		id := s.Identity()
		if _, ok := fresh[s.Date]; !ok || seen[id] || emitted[id] {
			continue
		}
		emitted[id] = true
		v := s.Clone()
		v.Type, v.EditedFields = variation.TypeRemoved, nil
		out[s.Date] = append(out[s.Date], v)
	}
	return out
}

// Lookup reads the stored records of the given dates.
type Lookup interface {
	GetVariationsByDate(ctx context.Context, dates []variation.Date) ([]variation.Variation, error)
}

// Engine runs Classify against a Lookup.
type Engine struct {
	lookup Lookup
}

// NewEngine returns an Engine reading stored state from l.
func NewEngine(l Lookup) *Engine {
	return &Engine{lookup: l}
}

// Run fetches the stored records for fresh's dates and classifies.
func (e *Engine) Run(ctx context.Context, fresh variation.Batch) (variation.Batch, error) {
	if fresh.Len() == 0 {
		return variation.Batch{}, nil
	}
	stored, err := e.lookup.GetVariationsByDate(ctx, fresh.Dates())
	if err != nil {
		return nil, fmt.Errorf("classify: lookup: %w", err)
	}
	return Classify(fresh, stored), nil
}

// Counts summarizes a classified batch.
type Counts struct {
	New     int `json:"new"`
	Edited  int `json:"edited"`
	Removed int `json:"removed"`
}

// Total is the number of differences.
func (c Counts) Total() int { return c.New + c.Edited + c.Removed }

// Count tallies the labels of a classified batch.
func Count(b variation.Batch) Counts {
	return Counts{
		New:     b.Count(variation.TypeNew),
		Edited:  b.Count(variation.TypeEdited),
		Removed: b.Count(variation.TypeRemoved),
	}
}
