package query

import (
	"sort"

	"github.com/devrecall/devrecall/internal/retrieve"
)

// DefaultRRFK is the standard rank-fusion constant. Larger values flatten
// the difference between adjacent ranks.
const DefaultRRFK = 60

// FuseRRF merges candidate lists from independent sub-query searches using
// Reciprocal Rank Fusion: each appearance of a document contributes
// 1/(k + rank) with rank 1-indexed, and documents are ordered by summed
// score. Ties keep first-seen order. The returned candidates carry the
// payload from the document's first appearance, the highest semantic score
// seen across lists, and fresh 1-based ranks.
func FuseRRF(lists [][]retrieve.Candidate, k int) []retrieve.Candidate {
	if k <= 0 {
		k = DefaultRRFK
	}

	type fused struct {
		candidate retrieve.Candidate
		score     float64
		seen      int
	}
	byID := make(map[string]*fused)
	order := 0

	for _, list := range lists {
		for i, c := range list {
			contribution := 1 / float64(k+i+1)
			f, ok := byID[c.Match.ID]
			if !ok {
				f = &fused{candidate: c, seen: order}
				order++
				byID[c.Match.ID] = f
			}
			f.score += contribution
			if c.SemanticScore > f.candidate.SemanticScore {
				f.candidate.SemanticScore = c.SemanticScore
				f.candidate.Match.Score = c.Match.Score
			}
		}
	}

	all := make([]*fused, 0, len(byID))
	for _, f := range byID {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].seen < all[j].seen
	})

	out := make([]retrieve.Candidate, len(all))
	for i, f := range all {
		c := f.candidate
		c.Rank = i + 1
		out[i] = c
	}
	return out
}
