package gradecalc

import (
	"github.com/goliatone/go-vplan-cache/store"
)

// TypeStats sums the grades of one collection type.
type TypeStats struct {
	Sum   float64
	Count int
}

// Avg is Sum/Count, or 0 without grades.
func (s TypeStats) Avg() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Stats maps a collection type (e.g. "KA", "MDL") to its grade totals.
type Stats map[string]TypeStats

// Collect builds the totals a final grade rule is evaluated against. A grade
// counts unless it was deselected. Grades whose collection is unknown are
// skipped.
func Collect(grades []store.Grade, collections []store.Collection) Stats {
	types := make(map[int]string, len(collections))
	for _, c := range collections {
		types[c.ID] = c.Type
	}

	stats := Stats{}
	for _, g := range grades {
		if g.SelectedForFinalGrade == store.False {
			continue
		}
		typ, ok := types[g.CollectionID]
		if !ok {
			continue
		}
		v, ok := numeric(g)
		if !ok {
			continue
		}
		s := stats[typ]
		s.Sum += v
		s.Count++
		stats[typ] = s
	}
	return stats
}
