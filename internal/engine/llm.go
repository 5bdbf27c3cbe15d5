package engine

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/devrecall/devrecall/internal/ratelimit"
)

// genkitCompleter adapts genkit generation to the single-prompt Completer
// interface the tagger and query expander consume.
type genkitCompleter struct {
	g       *genkit.Genkit
	model   string
	limiter *ratelimit.Limiter
}

func (c *genkitCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, len(prompt)/4+1); err != nil {
			return "", fmt.Errorf("llm rate limit: %w", err)
		}
	}
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.model),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}
	return resp.Text(), nil
}
