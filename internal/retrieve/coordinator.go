// Package retrieve implements the hybrid retrieval coordinator: it embeds the
// query densely and (in hybrid mode) sparsely, resolves the dense/sparse
// blend weight, and issues a single combined query against the vector index.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/devrecall/devrecall/internal/embed"
	"github.com/devrecall/devrecall/internal/record"
	"github.com/devrecall/devrecall/internal/vectorindex"
)

// ErrRetrievalFailed wraps the one truly fatal query-time error: without
// candidates nothing downstream can run.
var ErrRetrievalFailed = errors.New("retrieval failed")

// Config holds the coordinator's blend settings, resolved from application
// config at construction.
type Config struct {
	HybridEnabled bool
	DefaultAlpha  float64
	TypeAlpha     map[record.DataType]float64
}

// Request is one retrieval call.
type Request struct {
	Query string
	TopK  int
	// Filter restricts candidates; may be nil.
	Filter *vectorindex.Filter
	// Alpha, when non-nil, is the caller's explicit blend weight and
	// disables auto-tuning.
	Alpha *float64
}

// Candidate is one retrieved chunk with its 1-based rank.
type Candidate struct {
	Match         vectorindex.Match
	SemanticScore float64
	Rank          int
}

// Result carries the candidates plus how the query was executed.
type Result struct {
	Candidates []Candidate
	Alpha      float64
	SparseUsed bool
}

// Coordinator issues hybrid queries. Safe for concurrent use.
type Coordinator struct {
	index  vectorindex.Index
	dense  *embed.Dense
	sparse embed.Encoder
	cfg    Config
	logger *slog.Logger
}

// New creates a Coordinator.
func New(index vectorindex.Index, dense *embed.Dense, sparse embed.Encoder, cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if index == nil {
		return nil, errors.New("vector index is required")
	}
	if dense == nil {
		return nil, errors.New("dense embedder is required")
	}
	if sparse == nil {
		sparse = embed.NopEncoder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{index: index, dense: dense, sparse: sparse, cfg: cfg, logger: logger}, nil
}

// Retrieve embeds the query and runs one hybrid search.
//
// Dense and sparse query embeddings are independent and run concurrently.
// A sparse-embedding failure is absorbed: the query degrades to pure dense
// scoring (logged), because losing the lexical signal is strictly better than
// failing the query. A dense-embedding failure is fatal.
func (c *Coordinator) Retrieve(ctx context.Context, req Request) (Result, error) {
	if req.Query == "" {
		return Result{}, fmt.Errorf("%w: empty query", ErrRetrievalFailed)
	}

	var (
		denseVec  []float32
		sparseVec embed.SparseVector
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := c.dense.EmbedQuery(gctx, req.Query)
		if err != nil {
			return fmt.Errorf("embedding query: %w", err)
		}
		denseVec = v
		return nil
	})
	if c.cfg.HybridEnabled {
		g.Go(func() error {
			v, err := c.sparse.Encode(gctx, req.Query, embed.InputQuery)
			if err != nil {
				// Recoverable: no lexical signal this query.
				c.logger.Warn("sparse query embedding failed, using dense only", "error", err)
				return nil
			}
			sparseVec = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRetrievalFailed, err)
	}

	var filterTypes []record.DataType
	if req.Filter != nil {
		filterTypes = req.Filter.Types
	}
	alpha := resolveAlpha(req.Query, req.Alpha, filterTypes, c.cfg.TypeAlpha, c.cfg.DefaultAlpha)

	matches, err := c.index.Query(ctx, vectorindex.Query{
		Dense:  denseVec,
		Sparse: sparseVec, // zero-term vectors are omitted by the index
		TopK:   req.TopK,
		Alpha:  alpha,
		Filter: req.Filter,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRetrievalFailed, err)
	}

	candidates := make([]Candidate, len(matches))
	for i, m := range matches {
		candidates[i] = Candidate{Match: m, SemanticScore: m.Score, Rank: i + 1}
	}

	c.logger.Debug("hybrid retrieval complete",
		"query_len", len(req.Query), "top_k", req.TopK,
		"alpha", alpha, "matches", len(matches), "sparse_used", !sparseVec.IsZero())

	return Result{
		Candidates: candidates,
		Alpha:      alpha,
		SparseUsed: !sparseVec.IsZero(),
	}, nil
}
