// Package embed provides the dense and sparse embedding adapters.
//
// The core does not implement embedding models; it owns the batching,
// truncation, rate-limiting, and retry policy around external providers. The
// dense adapter wraps a Genkit ai.Embedder; the sparse adapter is an HTTP
// client behind the Encoder interface.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"

	"github.com/devrecall/devrecall/internal/chunk"
	"github.com/devrecall/devrecall/internal/ratelimit"
)

// Rate-limiter dependency names.
const (
	DependencyDense  = "dense-embed"
	DependencySparse = "sparse-embed"
)

// MaxInputTokens is the dense provider's per-input token ceiling. Inputs
// estimating above this are truncated before the call; the estimate's upward
// bias (see chunk.EstimateTokens) means truncation errs on the safe side.
const MaxInputTokens = 2048

// maxBatchSize caps how many texts one provider call carries.
const maxBatchSize = 100

// Dense generates fixed-dimension semantic embeddings via a Genkit embedder.
// Dense is safe for concurrent use.
type Dense struct {
	embedder  ai.Embedder
	limiter   *ratelimit.Limiter
	dimension int32
	logger    *slog.Logger
}

// NewDense creates a Dense adapter. dimension pins the output vector size via
// OutputDimensionality (Matryoshka truncation on Gemini embedders).
func NewDense(embedder ai.Embedder, limiter *ratelimit.Limiter, dimension int, logger *slog.Logger) (*Dense, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dense{
		embedder:  embedder,
		limiter:   limiter,
		dimension: int32(dimension), // #nosec G115 -- validated range in config
		logger:    logger,
	}, nil
}

// EmbedTexts embeds a batch of texts, preserving order. Each provider call is
// admitted through the rate limiter with its estimated token cost.
func (d *Dense) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))
		vecs, err := d.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (d *Dense) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := d.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// embedBatch issues one provider call for up to maxBatchSize texts.
func (d *Dense) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	tokenCost := 0
	for i, t := range texts {
		truncated := truncateToTokens(t, MaxInputTokens)
		if len(truncated) < len(t) {
			d.logger.Debug("truncated embedding input",
				"original_bytes", len(t), "truncated_bytes", len(truncated))
		}
		docs[i] = ai.DocumentFromText(truncated, nil)
		tokenCost += chunk.EstimateTokens(truncated)
	}

	if err := d.limiter.Acquire(ctx, tokenCost); err != nil {
		return nil, fmt.Errorf("dense embed admission: %w", err)
	}

	dim := d.dimension
	resp, err := d.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("dense embedding: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("dense embedding count mismatch: sent %d, got %d",
			len(texts), len(resp.Embeddings))
	}

	vecs := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("empty dense embedding at index %d", i)
		}
		vecs[i] = e.Embedding
	}
	return vecs, nil
}

// truncateToTokens cuts s so its estimated token count fits within maxTokens.
func truncateToTokens(s string, maxTokens int) string {
	if chunk.EstimateTokens(s) <= maxTokens {
		return s
	}
	// Shrink proportionally, then verify; estimation is monotone enough in
	// practice that a couple of passes converge.
	n := len(s)
	for chunk.EstimateTokens(s[:n]) > maxTokens && n > 1 {
		n = n * 9 / 10
		for n > 0 && s[n]&0xC0 == 0x80 {
			n--
		}
	}
	return s[:n]
}
