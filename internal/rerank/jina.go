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

const jinaProviderName = "jina"

// Jina reranks via the Jina AI rerank endpoint. The wire shape mirrors
// Cohere's closely enough that only the endpoint and auth differ in practice.
type Jina struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	limiter  *ratelimit.Limiter
}

// NewJina creates a Jina provider.
func NewJina(endpoint, apiKey, model string, timeout time.Duration, limiter *ratelimit.Limiter) *Jina {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Jina{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
	}
}

func (j *Jina) Name() string { return jinaProviderName }

type jinaRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type jinaResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (j *Jina) Rerank(ctx context.Context, query string, docs []Document, topN int) ([]Scored, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if j.limiter != nil {
		if err := j.limiter.Acquire(ctx, rerankTokenCost(query, docs)); err != nil {
			return nil, fmt.Errorf("jina: rate limit: %w", err)
		}
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	payload, err := json.Marshal(jinaRequest{
		Model:     j.model,
		Query:     query,
		Documents: texts,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("jina: marshal request: %w", err)
	}

	var scored []Scored
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+j.apiKey)

		resp, err := j.client.Do(req)
		if err != nil {
			if providererr.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxRerankResponseBytes))
		if err != nil {
			return fmt.Errorf("jina: read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			herr := &providererr.HTTPError{Provider: jinaProviderName, StatusCode: resp.StatusCode, Body: string(body)}
			if herr.Transient() {
				return herr
			}
			return backoff.Permanent(herr)
		}

		var out jinaResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("jina: decode response: %w", err))
		}
		scored = scored[:0]
		for _, r := range out.Results {
			if r.Index < 0 || r.Index >= len(docs) {
				return backoff.Permanent(fmt.Errorf("jina: result index %d out of range [0,%d)", r.Index, len(docs)))
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
