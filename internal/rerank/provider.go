package rerank

import "context"

// Document is one retrieval candidate handed to a rerank provider.
type Document struct {
	ID            string
	Content       string
	SemanticScore float64
}

// Scored is a provider's relevance judgment for one input document,
// addressed by its index in the input slice.
type Scored struct {
	Index int
	Score float64
}

// Provider scores documents against a query. Implementations return scores
// for at most topN documents, highest relevance first. A provider failure is
// returned as an error and never panics the caller.
type Provider interface {
	Name() string
	Rerank(ctx context.Context, query string, docs []Document, topN int) ([]Scored, error)
}
