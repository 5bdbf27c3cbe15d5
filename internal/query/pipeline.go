package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/devrecall/devrecall/internal/log"
	"github.com/devrecall/devrecall/internal/recency"
	"github.com/devrecall/devrecall/internal/record"
	"github.com/devrecall/devrecall/internal/rerank"
	"github.com/devrecall/devrecall/internal/retrieve"
	"github.com/devrecall/devrecall/internal/vectorindex"
)

const (
	defaultTopK = 10

	// retrieveFactor widens retrieval beyond the requested topK so the
	// reranker has headroom to promote lower-ranked candidates.
	retrieveFactor  = 3
	maxRetrieveTopK = 50

	// subQueryConcurrency bounds parallel sub-query searches.
	subQueryConcurrency = 3
)

// Request is one end-to-end query.
type Request struct {
	Query string
	TopK  int

	// Alpha, when non-nil, overrides auto-tuning.
	Alpha *float64

	// Recency selects decay intensity; empty uses the configured default.
	Recency recency.Knob

	// Explicit filters. When set they override intent-inferred hints.
	Types         []record.DataType
	Status        string
	Since         time.Time
	Until         time.Time
	MinImportance int
}

// ResultItem is one ranked chunk in the final answer.
type ResultItem struct {
	ID           string
	ParentID     string
	Content      string
	Preview      string
	Type         record.DataType
	Source       string
	SectionTitle string
	CreatedAt    time.Time

	SemanticScore float64
	RerankScore   *float64
	RecencyDecay  float64
	RecencyBoost  float64
	FinalScore    float64

	Rank         int
	OriginalRank int
	RankChange   int
}

// Response carries the ranked results plus how the query was executed, for
// callers and for observability.
type Response struct {
	Results []ResultItem

	Intent     Intent
	Confidence float64

	Alpha      float64
	SparseUsed bool

	ExpandedTerms    []string
	ExpansionReduced bool

	// SubQueries is non-empty only when the query was decomposed.
	SubQueries []string

	RerankProvider string
	RerankFallback bool

	// Degraded names the stages that fell back to a weaker path.
	Degraded []string

	StageDurations map[string]time.Duration
}

// Pipeline runs one query through enhancement, hybrid retrieval, reranking
// and recency weighting. Stages after retrieval degrade rather than fail:
// only an unusable retrieval result aborts the query.
type Pipeline struct {
	expander  *Expander
	retriever *retrieve.Coordinator
	reranker  *rerank.Orchestrator
	recency   *recency.Engine
	tracer    trace.Tracer
	logger    log.Logger
	now       func() time.Time
}

// NewPipeline assembles the query path. tracer may be nil.
func NewPipeline(expander *Expander, retriever *retrieve.Coordinator, reranker *rerank.Orchestrator, rec *recency.Engine, tracer trace.Tracer, logger log.Logger) *Pipeline {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Pipeline{
		expander:  expander,
		retriever: retriever,
		reranker:  reranker,
		recency:   rec,
		tracer:    tracer,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one query end to end.
func (p *Pipeline) Run(ctx context.Context, req Request) (Response, error) {
	ctx, span := p.tracer.Start(ctx, "query.Run")
	defer span.End()

	if req.Query == "" {
		return Response{}, fmt.Errorf("%w: empty query", retrieve.ErrRetrievalFailed)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	resp := Response{StageDurations: map[string]time.Duration{}}

	stage := p.now()
	inf := InferIntent(req.Query, p.now())
	resp.Intent = inf.Intent
	resp.Confidence = inf.Confidence
	resp.StageDurations["intent"] = p.now().Sub(stage)

	filter := p.buildFilter(req, inf)
	alpha := req.Alpha
	if alpha == nil && inf.AlphaHint != nil {
		alpha = inf.AlphaHint
	}
	retrieveTopK := topK * retrieveFactor
	if retrieveTopK > maxRetrieveTopK {
		retrieveTopK = maxRetrieveTopK
	}

	subs := Decompose(req.Query)
	var (
		candidates []retrieve.Candidate
		err        error
	)
	if len(subs) > 1 {
		resp.SubQueries = subs
		candidates, err = p.searchDecomposed(ctx, subs, inf.Intent, alpha, retrieveTopK, filter, &resp)
	} else {
		candidates, err = p.searchSingle(ctx, req.Query, inf.Intent, alpha, retrieveTopK, filter, &resp)
	}
	if err != nil {
		return Response{}, err
	}
	span.SetAttributes(
		attribute.String("query.intent", string(resp.Intent)),
		attribute.Int("query.candidates", len(candidates)),
		attribute.Int("query.sub_queries", len(resp.SubQueries)),
	)
	if len(candidates) == 0 {
		return resp, nil
	}
	if !resp.SparseUsed {
		resp.Degraded = append(resp.Degraded, "sparse_signal_missing")
	}

	stage = p.now()
	docs := make([]rerank.Document, len(candidates))
	for i, c := range candidates {
		docs[i] = rerank.Document{ID: c.Match.ID, Content: c.Match.Content, SemanticScore: c.SemanticScore}
	}
	outcome := p.reranker.Rerank(ctx, req.Query, docs)
	resp.RerankProvider = outcome.Provider
	resp.RerankFallback = outcome.FallbackUsed
	if outcome.FallbackUsed {
		resp.Degraded = append(resp.Degraded, "rerank_fallback")
	}
	resp.StageDurations["rerank"] = p.now().Sub(stage)

	stage = p.now()
	resp.Results = p.weighted(candidates, outcome.Results, req.Recency)
	if len(resp.Results) > topK {
		resp.Results = resp.Results[:topK]
	}
	resp.StageDurations["recency"] = p.now().Sub(stage)

	return resp, nil
}

// buildFilter merges intent hints with explicit request filters; explicit
// values always win.
func (p *Pipeline) buildFilter(req Request, inf Inference) *vectorindex.Filter {
	f := &vectorindex.Filter{
		Types:         req.Types,
		Status:        req.Status,
		Since:         req.Since,
		Until:         req.Until,
		MinImportance: req.MinImportance,
	}
	if len(f.Types) == 0 {
		f.Types = inf.Types
	}
	if f.Status == "" {
		f.Status = inf.Status
	}
	if f.Since.IsZero() && inf.Since != nil {
		f.Since = *inf.Since
	}
	if f.MinImportance == 0 {
		f.MinImportance = inf.MinImportance
	}
	if len(f.Types) == 0 && f.Status == "" && f.Since.IsZero() && f.Until.IsZero() && f.MinImportance == 0 {
		return nil
	}
	return f
}

func (p *Pipeline) searchSingle(ctx context.Context, q string, intent Intent, alpha *float64, topK int, filter *vectorindex.Filter, resp *Response) ([]retrieve.Candidate, error) {
	stage := p.now()
	exp := p.expander.Expand(ctx, q, intent)
	resp.ExpandedTerms = exp.Terms
	resp.ExpansionReduced = exp.Reduced
	resp.StageDurations["expand"] = p.now().Sub(stage)

	stage = p.now()
	res, err := p.retriever.Retrieve(ctx, retrieve.Request{
		Query:  exp.Query,
		TopK:   topK,
		Filter: filter,
		Alpha:  alpha,
	})
	resp.StageDurations["retrieve"] = p.now().Sub(stage)
	if err != nil {
		return nil, err
	}
	resp.Alpha = res.Alpha
	resp.SparseUsed = res.SparseUsed
	return res.Candidates, nil
}

// searchDecomposed searches every sub-query independently and fuses the
// result lists with RRF. A sub-query failure fails the whole query: partial
// fusion would silently answer a different question than the one asked.
func (p *Pipeline) searchDecomposed(ctx context.Context, subs []string, intent Intent, alpha *float64, topK int, filter *vectorindex.Filter, resp *Response) ([]retrieve.Candidate, error) {
	stage := p.now()
	lists := make([][]retrieve.Candidate, len(subs))
	results := make([]retrieve.Result, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(subQueryConcurrency)
	for i, sub := range subs {
		g.Go(func() error {
			exp := p.expander.Expand(gctx, sub, intent)
			res, err := p.retriever.Retrieve(gctx, retrieve.Request{
				Query:  exp.Query,
				TopK:   topK,
				Filter: filter,
				Alpha:  alpha,
			})
			if err != nil {
				return fmt.Errorf("sub-query %q: %w", sub, err)
			}
			lists[i] = res.Candidates
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	resp.StageDurations["retrieve"] = p.now().Sub(stage)

	resp.Alpha = results[0].Alpha
	for _, r := range results {
		if r.SparseUsed {
			resp.SparseUsed = true
		}
	}

	stage = p.now()
	fused := FuseRRF(lists, DefaultRRFK)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	resp.StageDurations["fuse"] = p.now().Sub(stage)
	return fused, nil
}

// weighted applies recency decay and boost to reranked results, then
// re-sorts by final score.
func (p *Pipeline) weighted(candidates []retrieve.Candidate, ranked []rerank.Ranked, knob recency.Knob) []ResultItem {
	byID := make(map[string]vectorindex.Match, len(candidates))
	for _, c := range candidates {
		byID[c.Match.ID] = c.Match
	}

	items := make([]ResultItem, 0, len(ranked))
	for _, r := range ranked {
		m := byID[r.ID]
		w := p.recency.Weight(r.FinalScore, m.CreatedAt, m.Type, knob)
		items = append(items, ResultItem{
			ID:            m.ID,
			ParentID:      m.ParentID,
			Content:       m.Content,
			Preview:       m.Preview,
			Type:          m.Type,
			Source:        m.Source,
			SectionTitle:  m.SectionTitle,
			CreatedAt:     m.CreatedAt,
			SemanticScore: r.SemanticScore,
			RerankScore:   r.RerankScore,
			RecencyDecay:  w.Decay,
			RecencyBoost:  w.Boost,
			FinalScore:    w.FinalScore,
			OriginalRank:  r.OriginalRank,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].FinalScore > items[j].FinalScore
	})
	for i := range items {
		items[i].Rank = i + 1
		items[i].RankChange = items[i].OriginalRank - items[i].Rank
	}
	return items
}
