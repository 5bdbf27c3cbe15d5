package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/devrecall/devrecall/internal/chunk"
	"github.com/devrecall/devrecall/internal/providererr"
	"github.com/devrecall/devrecall/internal/ratelimit"
)

// SparseVector is a lexical embedding: parallel (index, weight) pairs.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IsZero reports whether the vector carries no lexical signal. An empty
// sparse vector is a valid outcome, not an error.
func (v SparseVector) IsZero() bool {
	return len(v.Indices) == 0
}

// InputType tells the sparse provider whether it is encoding stored content
// or a search query; SPLADE-style models weight the two differently.
type InputType string

// Input types.
const (
	InputPassage InputType = "passage"
	InputQuery   InputType = "query"
)

// Encoder produces sparse vectors. Implemented by HTTPEncoder in production
// and by fakes in tests.
type Encoder interface {
	Encode(ctx context.Context, text string, input InputType) (SparseVector, error)
}

// HTTPEncoder calls a SPLADE-style sparse embedding service over HTTP.
// Safe for concurrent use.
type HTTPEncoder struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
}

// NewHTTPEncoder creates an HTTPEncoder.
func NewHTTPEncoder(endpoint, apiKey string, timeout time.Duration, limiter *ratelimit.Limiter, logger *slog.Logger) (*HTTPEncoder, error) {
	if endpoint == "" {
		return nil, errors.New("sparse endpoint is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPEncoder{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
		logger:   logger,
	}, nil
}

type sparseRequest struct {
	Text      string `json:"text"`
	InputType string `json:"input_type"`
}

type sparseResponse struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Encode produces the sparse vector for text. Input above the provider
// ceiling is truncated like dense input.
func (e *HTTPEncoder) Encode(ctx context.Context, text string, input InputType) (SparseVector, error) {
	text = truncateToTokens(text, MaxInputTokens)

	if err := e.limiter.Acquire(ctx, chunk.EstimateTokens(text)); err != nil {
		return SparseVector{}, fmt.Errorf("sparse embed admission: %w", err)
	}

	body, err := json.Marshal(sparseRequest{Text: text, InputType: string(input)})
	if err != nil {
		return SparseVector{}, fmt.Errorf("encoding sparse request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return SparseVector{}, fmt.Errorf("building sparse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return SparseVector{}, fmt.Errorf("sparse embedding call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SparseVector{}, fmt.Errorf("reading sparse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return SparseVector{}, &providererr.HTTPError{
			Provider:   "sparse-embed",
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	var parsed sparseResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return SparseVector{}, fmt.Errorf("decoding sparse response: %w", err)
	}
	if len(parsed.Indices) != len(parsed.Values) {
		return SparseVector{}, fmt.Errorf("sparse response length mismatch: %d indices, %d values",
			len(parsed.Indices), len(parsed.Values))
	}

	return SparseVector{Indices: parsed.Indices, Values: parsed.Values}, nil
}

// NopEncoder returns an empty vector for every input. Used when hybrid mode
// is disabled so the pipeline shape stays uniform.
type NopEncoder struct{}

// Encode implements Encoder.
func (NopEncoder) Encode(context.Context, string, InputType) (SparseVector, error) {
	return SparseVector{}, nil
}
