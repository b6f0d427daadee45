// Package scoring produces bot-likelihood scores in the Botometer response
// shape, either from a remote endpoint or from a local heuristic.
package scoring

import (
	"context"
	"sort"

	"birdseed/internal/model"
)

// Scorer scores accounts by external ID. IDs the scorer could not score are
// absent from the result.
type Scorer interface {
	Score(ctx context.Context, ids []string) (map[string]model.Payload, error)
}

// Category names stored with every score.
var Categories = []string{"astroturf", "cap", "fake_follower", "financial", "other", "overall", "self_declared", "spammer"}

// CategoriesOf extracts the sub-scores from a response. Universal scores are
// preferred over the English-only ones.
func CategoriesOf(p model.Payload) map[string]float64 {
	out := map[string]float64{}
	if v, ok := firstFloat(p, []string{"cap", "universal"}, []string{"cap", "english"}); ok {
		out["cap"] = v
	}
	for _, c := range Categories {
		if c == "cap" {
			continue
		}
		if v, ok := firstFloat(p, []string{"raw_scores", "universal", c}, []string{"raw_scores", "english", c}); ok {
			out[c] = v
		}
	}
	return out
}

func firstFloat(p model.Payload, paths ...[]string) (float64, bool) {
	for _, path := range paths {
		if v, ok := p.Float(path...); ok {
			return v, true
		}
	}
	return 0, false
}

// ScoredIDs returns the keys of a Score result in sorted order.
func ScoredIDs(m map[string]model.Payload) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
