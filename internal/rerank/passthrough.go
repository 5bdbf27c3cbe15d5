package rerank

import "context"

// Passthrough is the terminal provider used when reranking is configured
// off. It echoes the semantic scores so documents keep their retrieval
// order, and it never fails.
type Passthrough struct{}

func (Passthrough) Name() string { return "passthrough" }

func (Passthrough) Rerank(_ context.Context, _ string, docs []Document, topN int) ([]Scored, error) {
	if topN <= 0 || topN > len(docs) {
		topN = len(docs)
	}
	scored := make([]Scored, topN)
	for i := 0; i < topN; i++ {
		scored[i] = Scored{Index: i, Score: docs[i].SemanticScore}
	}
	return scored, nil
}
