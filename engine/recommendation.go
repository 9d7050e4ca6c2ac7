package engine

import (
	"cmp"
	"slices"

	"github.com/fgrzl/graphreco"
)

// Recommendation is a recommended node and its score.
type Recommendation struct {
	Node  graphreco.Node `json:"node"`
	Score int            `json:"score"`
}

// Recommendations maps node IDs to recommendations; a node appears at most once.
type Recommendations map[string]Recommendation

// Sorted returns the recommendations by descending score, ties broken by node ID.
func (r Recommendations) Sorted() []Recommendation {
	out := make([]Recommendation, 0, len(r))
	for _, rec := range r {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b Recommendation) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Node.ID, b.Node.ID)
	})
	return out
}
