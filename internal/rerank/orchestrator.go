package rerank

import (
	"context"
	"sort"
	"time"

	"github.com/devrecall/devrecall/internal/log"
)

// Ranked is one document after orchestration: its blended score and the
// movement from its original retrieval position.
type Ranked struct {
	Document

	// RerankScore is the provider's relevance score, nil on fallback.
	RerankScore *float64

	// FinalScore blends rerank and semantic scores when a provider
	// succeeded; on fallback it is the semantic score unchanged.
	FinalScore float64

	Rank         int
	OriginalRank int

	// RankChange is positive when the document moved up.
	RankChange int
}

// Outcome reports the orchestration result, including which provider served
// it and whether the chain degraded past its primary provider.
type Outcome struct {
	Results  []Ranked
	Provider string

	// FallbackUsed is set when anything other than the primary provider
	// produced the result, including the terminal original-order fallback.
	FallbackUsed bool

	// Skipped lists providers bypassed because their breaker was open.
	Skipped []string

	// Err is the last provider error when FallbackUsed is set; nil on a
	// clean fallback (empty chain) or success.
	Err error

	Duration time.Duration
}

// Orchestrator walks an ordered provider chain, skipping providers with open
// circuit breakers, and returns the first successful reranking. When every
// provider fails or is skipped, it falls back to the original semantic order
// without error.
type Orchestrator struct {
	chain       []Provider
	breakers    map[string]*Breaker
	scoreWeight float64
	topN        int
	logger      log.Logger
}

// NewOrchestrator builds an orchestrator over chain in priority order. One
// breaker is created per provider with the given threshold and reset window.
// scoreWeight is the rerank share of the blended final score.
func NewOrchestrator(chain []Provider, scoreWeight float64, topN, breakerThreshold int, resetWindow time.Duration, logger log.Logger) *Orchestrator {
	if scoreWeight < 0 {
		scoreWeight = 0
	}
	if scoreWeight > 1 {
		scoreWeight = 1
	}
	breakers := make(map[string]*Breaker, len(chain))
	for _, p := range chain {
		breakers[p.Name()] = NewBreaker(breakerThreshold, resetWindow)
	}
	return &Orchestrator{
		chain:       chain,
		breakers:    breakers,
		scoreWeight: scoreWeight,
		topN:        topN,
		logger:      logger,
	}
}

// Breaker exposes the breaker for a provider name, nil if unknown.
func (o *Orchestrator) Breaker(name string) *Breaker {
	return o.breakers[name]
}

// Rerank reorders docs against query. docs arrive in retrieval order, so the
// original rank of docs[i] is i+1. Rerank never fails: exhausting the chain
// produces a fallback outcome preserving the input order.
func (o *Orchestrator) Rerank(ctx context.Context, query string, docs []Document) Outcome {
	start := time.Now()
	out := Outcome{}

	if len(docs) == 0 {
		out.Duration = time.Since(start)
		return out
	}

	topN := o.topN
	if topN <= 0 || topN > len(docs) {
		topN = len(docs)
	}

	for i, p := range o.chain {
		br := o.breakers[p.Name()]
		if !br.Allow() {
			out.Skipped = append(out.Skipped, p.Name())
			o.logger.Debug("rerank provider skipped, breaker open", "provider", p.Name())
			continue
		}

		scored, err := p.Rerank(ctx, query, docs, topN)
		if err != nil {
			br.RecordFailure()
			out.Err = err
			o.logger.Warn("rerank provider failed",
				"provider", p.Name(),
				"breaker_failures", br.Failures(),
				"error", err)
			continue
		}
		br.RecordSuccess()

		out.Results = o.blend(docs, scored)
		out.Provider = p.Name()
		// Any provider past the first serving the request is a fallback.
		out.FallbackUsed = i > 0
		out.Err = nil
		out.Duration = time.Since(start)
		return out
	}

	// Chain exhausted: original semantic order, original ranks.
	out.Results = passthroughResults(docs, topN)
	out.FallbackUsed = true
	out.Duration = time.Since(start)
	if out.Err != nil {
		o.logger.Warn("rerank fell back to retrieval order", "error", out.Err)
	}
	return out
}

// blend combines provider scores with semantic scores and assigns new ranks.
// Documents the provider omitted (beyond topN) are dropped.
func (o *Orchestrator) blend(docs []Document, scored []Scored) []Ranked {
	results := make([]Ranked, 0, len(scored))
	for _, s := range scored {
		doc := docs[s.Index]
		score := s.Score
		results = append(results, Ranked{
			Document:     doc,
			RerankScore:  &score,
			FinalScore:   o.scoreWeight*score + (1-o.scoreWeight)*doc.SemanticScore,
			OriginalRank: s.Index + 1,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	for i := range results {
		results[i].Rank = i + 1
		results[i].RankChange = results[i].OriginalRank - results[i].Rank
	}
	return results
}

func passthroughResults(docs []Document, topN int) []Ranked {
	results := make([]Ranked, 0, topN)
	for i, doc := range docs[:topN] {
		results = append(results, Ranked{
			Document:     doc,
			FinalScore:   doc.SemanticScore,
			Rank:         i + 1,
			OriginalRank: i + 1,
		})
	}
	return results
}
