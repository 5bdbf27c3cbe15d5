// Package ingest turns submitted documents into persisted, searchable
// chunks. The per-document pipeline runs dedup → tag → chunk → embed →
// upsert → persist, strictly in order; the worker drains the queue and runs
// documents through it with bounded concurrency.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/devrecall/devrecall/internal/chunk"
	"github.com/devrecall/devrecall/internal/dedup"
	"github.com/devrecall/devrecall/internal/embed"
	"github.com/devrecall/devrecall/internal/log"
	"github.com/devrecall/devrecall/internal/record"
	"github.com/devrecall/devrecall/internal/vectorindex"
)

// DocumentStore is the persistence capability the pipeline needs from the
// relational store.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc record.Document) (inserted bool, err error)
}

// Pipeline stages, in execution order. Recorded in stage durations and
// error wrapping.
const (
	StageDedup   = "dedup"
	StageTag     = "tag"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageUpsert  = "upsert"
	StagePersist = "persist"
)

// ErrNoContent rejects a document with nothing to ingest. Validation
// failures are final: retrying the same document cannot succeed.
var ErrNoContent = errors.New("document has no content")

// Outcome reports one document's trip through the pipeline.
type Outcome struct {
	DocID string

	// Deduplicated means the content hash already existed; the pipeline
	// short-circuited successfully with zero new chunks.
	Deduplicated bool

	Chunks         int
	StageDurations map[string]time.Duration
	Duration       time.Duration
}

// Pipeline ingests one document at a time. Safe for concurrent use; each
// call operates on its own data.
type Pipeline struct {
	checker  *dedup.Checker
	tagger   *Tagger
	splitter *chunk.Splitter
	dense    *embed.Dense
	sparse   embed.Encoder
	index    vectorindex.Index
	docs     DocumentStore
	tracer   trace.Tracer
	logger   log.Logger
}

// NewPipeline assembles the write path. sparse and tracer may be nil.
func NewPipeline(checker *dedup.Checker, tagger *Tagger, splitter *chunk.Splitter, dense *embed.Dense, sparse embed.Encoder, index vectorindex.Index, docs DocumentStore, tracer trace.Tracer, logger log.Logger) (*Pipeline, error) {
	if checker == nil || splitter == nil || dense == nil || index == nil || docs == nil {
		return nil, fmt.Errorf("checker, splitter, dense embedder, index and store are required")
	}
	if sparse == nil {
		sparse = embed.NopEncoder{}
	}
	if tagger == nil {
		tagger = NewTagger(nil, logger)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Pipeline{
		checker:  checker,
		tagger:   tagger,
		splitter: splitter,
		dense:    dense,
		sparse:   sparse,
		index:    index,
		docs:     docs,
		tracer:   tracer,
		logger:   logger,
	}, nil
}

// Ingest runs one document through the full pipeline. Stages are strictly
// sequential; any error marks the document failed and is returned to the
// caller, which decides on retry. A duplicate content hash is a success.
func (p *Pipeline) Ingest(ctx context.Context, doc record.Document) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "ingest.Ingest")
	defer span.End()

	start := time.Now()
	out := Outcome{StageDurations: map[string]time.Duration{}}

	if doc.Content == "" {
		return out, ErrNoContent
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if !doc.Type.Valid() {
		doc.Type = record.TypeGeneric
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	out.DocID = doc.ID
	span.SetAttributes(
		attribute.String("doc.id", doc.ID),
		attribute.String("doc.type", string(doc.Type)),
	)

	stage := time.Now()
	hash, exists, err := p.checker.Check(ctx, doc.Content)
	out.StageDurations[StageDedup] = time.Since(stage)
	if err != nil {
		return out, fmt.Errorf("%s: %w", StageDedup, err)
	}
	doc.ContentHash = hash
	if exists {
		out.Deduplicated = true
		out.Duration = time.Since(start)
		p.logger.Debug("duplicate content, skipping ingestion", "doc_id", doc.ID, "hash", hash)
		return out, nil
	}

	stage = time.Now()
	doc.Meta = p.tagger.Tag(ctx, doc)
	out.StageDurations[StageTag] = time.Since(stage)

	stage = time.Now()
	chunks := p.splitter.Split(doc)
	out.StageDurations[StageChunk] = time.Since(stage)
	out.Chunks = len(chunks)

	stage = time.Now()
	denseVecs, sparseVecs, err := p.embedChunks(ctx, chunks)
	out.StageDurations[StageEmbed] = time.Since(stage)
	if err != nil {
		return out, fmt.Errorf("%s: %w", StageEmbed, err)
	}

	stage = time.Now()
	records := make([]vectorindex.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorindex.Record{Chunk: c, Dense: denseVecs[i], Sparse: sparseVecs[i]}
	}
	// A re-ingested document replaces its chunk set wholesale; a shorter
	// revision must not leave stale chunks from the longer one behind.
	if err := p.index.DeleteByParent(ctx, doc.ID); err != nil {
		return out, fmt.Errorf("%s: %w", StageUpsert, err)
	}
	if err := p.index.Upsert(ctx, records); err != nil {
		return out, fmt.Errorf("%s: %w", StageUpsert, err)
	}
	out.StageDurations[StageUpsert] = time.Since(stage)

	stage = time.Now()
	if _, err := p.docs.UpsertDocument(ctx, doc); err != nil {
		return out, fmt.Errorf("%s: %w", StagePersist, err)
	}
	out.StageDurations[StagePersist] = time.Since(stage)

	out.Duration = time.Since(start)
	p.logger.Info("document ingested",
		"doc_id", doc.ID,
		"type", doc.Type,
		"chunks", len(chunks),
		"duration", out.Duration)
	return out, nil
}

// embedChunks produces dense and sparse vectors for every chunk. The two
// embedding families are independent and run concurrently. A sparse failure
// degrades that chunk to dense-only scoring; a dense failure is fatal.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []record.Chunk) ([][]float32, []embed.SparseVector, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var (
		denseVecs  [][]float32
		sparseVecs = make([]embed.SparseVector, len(chunks))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := p.dense.EmbedTexts(gctx, texts)
		if err != nil {
			return fmt.Errorf("dense embedding: %w", err)
		}
		denseVecs = vecs
		return nil
	})
	g.Go(func() error {
		for i, text := range texts {
			vec, err := p.sparse.Encode(gctx, text, embed.InputPassage)
			if err != nil {
				p.logger.Warn("sparse encoding failed, chunk degrades to dense-only",
					"chunk_index", i, "error", err)
				continue
			}
			sparseVecs[i] = vec
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return denseVecs, sparseVecs, nil
}
