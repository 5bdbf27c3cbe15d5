// Package engine assembles the full system: configuration, storage, rate
// limits, embedding providers, the rerank chain, and the ingestion and query
// pipelines. Callers hold one Engine and use it as the library entry point.
package engine

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/devrecall/devrecall/internal/batch"
	"github.com/devrecall/devrecall/internal/chunk"
	"github.com/devrecall/devrecall/internal/config"
	"github.com/devrecall/devrecall/internal/database"
	"github.com/devrecall/devrecall/internal/dedup"
	"github.com/devrecall/devrecall/internal/embed"
	"github.com/devrecall/devrecall/internal/ingest"
	"github.com/devrecall/devrecall/internal/log"
	"github.com/devrecall/devrecall/internal/observability"
	"github.com/devrecall/devrecall/internal/query"
	"github.com/devrecall/devrecall/internal/ratelimit"
	"github.com/devrecall/devrecall/internal/recency"
	"github.com/devrecall/devrecall/internal/record"
	"github.com/devrecall/devrecall/internal/rerank"
	"github.com/devrecall/devrecall/internal/retrieve"
	"github.com/devrecall/devrecall/internal/store"
	"github.com/devrecall/devrecall/internal/vectorindex"
)

// Rate-limited dependency names beyond the embedding providers.
const (
	DependencyRerank = "rerank"
	DependencyLLM    = "llm"
)

// Engine is the assembled system.
type Engine struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	docs   *store.Store
	limits *ratelimit.Registry

	ingestPipe *ingest.Pipeline
	worker     *ingest.Worker
	queryPipe  *query.Pipeline

	tracerShutdown func(context.Context) error
	logger         log.Logger
}

// New validates cfg, runs migrations, and wires every component. The
// returned Engine owns the database pool; Close releases it.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tracer, tracerShutdown, err := observability.Setup(ctx, cfg.Otel, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	if err := database.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, err
	}

	e, err := build(ctx, cfg, pool, tracer, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	e.tracerShutdown = tracerShutdown
	return e, nil
}

// build wires components onto an existing pool. Split out so tests can
// assemble an Engine against a testcontainer without re-running Setup.
func build(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, tracer trace.Tracer, logger log.Logger) (*Engine, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, fmt.Errorf("initializing genkit")
	}
	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)

	limits := ratelimit.New(logger)
	registerBudget(limits, embed.DependencyDense, cfg.Limits.Dense)
	registerBudget(limits, embed.DependencySparse, cfg.Limits.Sparse)
	registerBudget(limits, DependencyRerank, cfg.Limits.Rerank)
	registerBudget(limits, DependencyLLM, cfg.Limits.LLM)

	dense, err := embed.NewDense(embedder, limits.Get(embed.DependencyDense), cfg.EmbedderDimension, logger)
	if err != nil {
		return nil, err
	}
	var sparse embed.Encoder = embed.NopEncoder{}
	if cfg.SparseEndpoint != "" {
		sparse, err = embed.NewHTTPEncoder(cfg.SparseEndpoint, cfg.SparseAPIKey, cfg.SparseTimeout, limits.Get(embed.DependencySparse), logger)
		if err != nil {
			return nil, err
		}
	}

	index, err := vectorindex.NewPG(pool, logger)
	if err != nil {
		return nil, err
	}
	docs, err := store.New(pool, logger)
	if err != nil {
		return nil, err
	}
	checker := dedup.NewChecker(docs)
	splitter := chunk.NewSplitter(logger)

	var completer *genkitCompleter
	if cfg.TaggerModel != "" {
		completer = &genkitCompleter{g: g, model: cfg.TaggerModel, limiter: limits.Get(DependencyLLM)}
	}
	var tagLLM ingest.Completer
	if completer != nil {
		tagLLM = completer
	}
	tagger := ingest.NewTagger(tagLLM, logger)

	ingestPipe, err := ingest.NewPipeline(checker, tagger, splitter, dense, sparse, index, docs, tracer, logger)
	if err != nil {
		return nil, err
	}
	worker := ingest.NewWorker(docs, ingestPipe, ingest.WorkerOptions{
		BatchSize:         cfg.Worker.BatchSize,
		PollInterval:      cfg.Worker.PollInterval,
		MaxRetries:        cfg.Worker.MaxRetries,
		VisibilityTimeout: cfg.Worker.VisibilityTimeout,
		Batch: batch.Options{
			Concurrency: cfg.Worker.Concurrency,
			ItemTimeout: cfg.Worker.ItemTimeout,
		},
	}, logger)

	reranker := rerank.NewOrchestrator(
		rerankChain(cfg, limits.Get(DependencyRerank)),
		cfg.Rerank.ScoreWeight,
		cfg.Rerank.TopN,
		cfg.Rerank.FailureThreshold,
		cfg.Rerank.ResetWindow,
		logger,
	)

	var expandLLM query.Completer
	if cfg.Expansion.LLMEnabled && completer != nil {
		expandLLM = completer
	}
	expander := query.NewExpander(cfg.Expansion.MaxSynonyms, cfg.Expansion.MaxRelated, expandLLM, logger)

	typeAlpha := make(map[record.DataType]float64, len(cfg.Hybrid.TypeAlpha))
	for t, a := range cfg.Hybrid.TypeAlpha {
		typeAlpha[record.DataType(t)] = a
	}
	retriever, err := retrieve.New(index, dense, sparse, retrieve.Config{
		HybridEnabled: cfg.Hybrid.Enabled,
		DefaultAlpha:  cfg.Hybrid.DefaultAlpha,
		TypeAlpha:     typeAlpha,
	}, logger)
	if err != nil {
		return nil, err
	}

	rec := recency.New(recency.Knob(cfg.Recency.DefaultWeight))
	queryPipe := query.NewPipeline(expander, retriever, reranker, rec, tracer, logger)

	return &Engine{
		cfg:        cfg,
		pool:       pool,
		docs:       docs,
		limits:     limits,
		ingestPipe: ingestPipe,
		worker:     worker,
		queryPipe:  queryPipe,
		logger:     logger,
	}, nil
}

// rerankChain builds the provider fallback chain. The configured provider
// comes first; the other one, when its key is present, serves as fallback.
// Provider "none" short-circuits to passthrough.
func rerankChain(cfg *config.Config, limiter *ratelimit.Limiter) []rerank.Provider {
	rc := cfg.Rerank
	if rc.Provider == config.RerankProviderNone {
		return []rerank.Provider{rerank.Passthrough{}}
	}

	var cohere, jina rerank.Provider
	if rc.CohereAPIKey != "" {
		cohere = rerank.NewCohere(rc.CohereEndpoint, rc.CohereAPIKey, rc.CohereModel, rc.Timeout, limiter)
	}
	if rc.JinaAPIKey != "" {
		jina = rerank.NewJina(rc.JinaEndpoint, rc.JinaAPIKey, rc.JinaModel, rc.Timeout, limiter)
	}

	var chain []rerank.Provider
	if rc.Provider == config.RerankProviderJina {
		for _, p := range []rerank.Provider{jina, cohere} {
			if p != nil {
				chain = append(chain, p)
			}
		}
	} else {
		for _, p := range []rerank.Provider{cohere, jina} {
			if p != nil {
				chain = append(chain, p)
			}
		}
	}
	return chain
}

func registerBudget(r *ratelimit.Registry, name string, lc config.LimitConfig) {
	r.Register(name, ratelimit.Budget{
		RequestsPerMinute: lc.RequestsPerMinute,
		TokensPerMinute:   lc.TokensPerMinute,
		DailyCap:          lc.DailyCap,
	})
}

// Ingest enqueues a document for asynchronous processing and returns the
// queue id.
func (e *Engine) Ingest(ctx context.Context, doc record.Document, priority int) (string, error) {
	return e.docs.Enqueue(ctx, doc, priority)
}

// SubmitBatch enqueues several documents at one priority, returning queue
// ids in input order. The first enqueue error aborts the remainder.
func (e *Engine) SubmitBatch(ctx context.Context, docs []record.Document, priority int) ([]string, error) {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id, err := e.docs.Enqueue(ctx, doc, priority)
		if err != nil {
			return ids, fmt.Errorf("enqueueing document %d of %d: %w", len(ids)+1, len(docs), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IngestSync runs a document through the pipeline immediately, bypassing
// the queue. Used for interactive ingestion and tests.
func (e *Engine) IngestSync(ctx context.Context, doc record.Document) (ingest.Outcome, error) {
	return e.ingestPipe.Ingest(ctx, doc)
}

// Query runs one query end to end.
func (e *Engine) Query(ctx context.Context, req query.Request) (query.Response, error) {
	return e.queryPipe.Run(ctx, req)
}

// Stats returns a snapshot of document and queue counts.
func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	return e.docs.QueueStats(ctx)
}

// RunWorker drains the ingestion queue until ctx is cancelled.
func (e *Engine) RunWorker(ctx context.Context) error {
	return e.worker.Run(ctx)
}

// Close flushes tracing and releases the database pool.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	if e.tracerShutdown != nil {
		err = e.tracerShutdown(ctx)
	}
	e.pool.Close()
	return err
}
