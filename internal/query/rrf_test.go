package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrecall/devrecall/internal/retrieve"
	"github.com/devrecall/devrecall/internal/vectorindex"
)

func candidateList(ids ...string) []retrieve.Candidate {
	out := make([]retrieve.Candidate, len(ids))
	for i, id := range ids {
		out[i] = retrieve.Candidate{
			Match:         vectorindex.Match{ID: id, Content: "doc " + id},
			SemanticScore: 1 - float64(i)*0.1,
			Rank:          i + 1,
		}
	}
	return out
}

func fusedIDs(cands []retrieve.Candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.Match.ID
	}
	return ids
}

func TestFuseRRFIdempotent(t *testing.T) {
	list := candidateList("a", "b", "c", "d")
	out := FuseRRF([][]retrieve.Candidate{list, list}, DefaultRRFK)

	assert.Equal(t, []string{"a", "b", "c", "d"}, fusedIDs(out))
}

func TestFuseRRFTwoLists(t *testing.T) {
	first := candidateList("a", "b", "c")
	second := candidateList("b", "a", "d")

	out := FuseRRF([][]retrieve.Candidate{first, second}, DefaultRRFK)
	require.Len(t, out, 4)

	ids := fusedIDs(out)
	// a and b appear in both lists, c and d in only one.
	assert.Contains(t, ids[:2], "a")
	assert.Contains(t, ids[:2], "b")
	assert.Contains(t, ids[2:], "c")
	assert.Contains(t, ids[2:], "d")

	// a: 1/61 + 1/62, b: 1/62 + 1/61; tie broken by first-seen order.
	assert.Equal(t, "a", ids[0])
	assert.Equal(t, "b", ids[1])
}

func TestFuseRRFRanksAndScores(t *testing.T) {
	first := candidateList("a", "b")
	second := []retrieve.Candidate{{
		Match:         vectorindex.Match{ID: "b", Content: "doc b"},
		SemanticScore: 0.95,
		Rank:          1,
	}}

	out := FuseRRF([][]retrieve.Candidate{first, second}, DefaultRRFK)
	require.Len(t, out, 2)

	for i, c := range out {
		assert.Equal(t, i+1, c.Rank)
	}
	// b keeps the highest semantic score seen across lists.
	for _, c := range out {
		if c.Match.ID == "b" {
			assert.InDelta(t, 0.95, c.SemanticScore, 1e-9)
		}
	}
}

func TestFuseRRFZeroK(t *testing.T) {
	out := FuseRRF([][]retrieve.Candidate{candidateList("a")}, 0)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Match.ID)
}

func TestFuseRRFEmpty(t *testing.T) {
	assert.Empty(t, FuseRRF(nil, DefaultRRFK))
}
