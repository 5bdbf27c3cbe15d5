package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/devrecall/devrecall/internal/providererr"
	"github.com/devrecall/devrecall/internal/ratelimit"
)

const (
	cohereProviderName = "cohere"

	// maxRerankRetries bounds transient-error retries per provider call.
	// Permanent errors (auth, malformed request) fail immediately.
	maxRerankRetries = 2

	rerankRetryInitial = 500 * time.Millisecond
	rerankRetryMax     = 5 * time.Second

	maxRerankResponseBytes = 1 << 20
)

// Cohere reranks via the Cohere v2 rerank endpoint.
type Cohere struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	limiter  *ratelimit.Limiter
}

// NewCohere creates a Cohere provider. limiter may be nil when no budget is
// configured for the rerank dependency.
func NewCohere(endpoint, apiKey, model string, timeout time.Duration, limiter *ratelimit.Limiter) *Cohere {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Cohere{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
	}
}

func (c *Cohere) Name() string { return cohereProviderName }

type cohereRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type cohereResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores docs against query. Transient failures (429, 5xx, timeouts)
// are retried with exponential backoff; anything else returns immediately.
func (c *Cohere) Rerank(ctx context.Context, query string, docs []Document, topN int) ([]Scored, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, rerankTokenCost(query, docs)); err != nil {
			return nil, fmt.Errorf("cohere: rate limit: %w", err)
		}
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	payload, err := json.Marshal(cohereRequest{
		Model:     c.model,
		Query:     query,
		Documents: texts,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("cohere: marshal request: %w", err)
	}

	var scored []Scored
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			if providererr.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxRerankResponseBytes))
		if err != nil {
			return fmt.Errorf("cohere: read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			herr := &providererr.HTTPError{Provider: cohereProviderName, StatusCode: resp.StatusCode, Body: string(body)}
			if herr.Transient() {
				return herr
			}
			return backoff.Permanent(herr)
		}

		var out cohereResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("cohere: decode response: %w", err))
		}
		scored = scored[:0]
		for _, r := range out.Results {
			if r.Index < 0 || r.Index >= len(docs) {
				return backoff.Permanent(fmt.Errorf("cohere: result index %d out of range [0,%d)", r.Index, len(docs)))
			}
			scored = append(scored, Scored{Index: r.Index, Score: r.RelevanceScore})
		}
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return scored, nil
}

func retryPolicy(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = rerankRetryInitial
	bo.MaxInterval = rerankRetryMax
	return backoff.WithContext(backoff.WithMaxRetries(bo, maxRerankRetries), ctx)
}

// rerankTokenCost is a coarse token estimate for rate accounting: the query
// plus every document body, at roughly four characters per token.
func rerankTokenCost(query string, docs []Document) int {
	chars := len(query)
	for _, d := range docs {
		chars += len(d.Content)
	}
	cost := chars / 4
	if cost < 1 {
		cost = 1
	}
	return cost
}
