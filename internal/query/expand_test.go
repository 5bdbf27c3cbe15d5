package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrecall/devrecall/internal/log"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestExpandRuleBased(t *testing.T) {
	e := NewExpander(3, 2, nil, log.NewNop())
	out := e.Expand(context.Background(), "postgres error", IntentExploration)

	assert.Equal(t, "postgres error", out.Original)
	assert.False(t, out.Reduced)
	assert.False(t, out.LLMUsed)
	assert.NotEmpty(t, out.Terms)
	assert.LessOrEqual(t, len(out.Terms), 3+2)
	assert.True(t, strings.HasPrefix(out.Query, "postgres error "))
	// Expansion never repeats a token already in the query.
	for _, term := range out.Terms {
		assert.NotEqual(t, "postgres", term)
		assert.NotEqual(t, "error", term)
	}
}

func TestExpandBudgets(t *testing.T) {
	e := NewExpander(1, 0, nil, log.NewNop())
	out := e.Expand(context.Background(), "deploy error timeout cache queue", IntentExploration)
	assert.Len(t, out.Terms, 1)
}

func TestExpandPreciseQueryReduced(t *testing.T) {
	e := NewExpander(3, 2, nil, log.NewNop())

	tests := []string{
		"panic in worker.go",
		"error at main.go:42",
		"regression in v1.4.2",
		"commit deadbeefcafe broke the build",
		"job 3b241101-e2bb-4255-8caf-4136c566a962 stuck",
	}
	for _, q := range tests {
		out := e.Expand(context.Background(), q, IntentExploration)
		assert.True(t, out.Reduced, "query %q", q)
		assert.LessOrEqual(t, len(out.Terms), 1, "query %q", q)
	}
}

func TestExpandIntentBoilerplate(t *testing.T) {
	e := NewExpander(0, 0, nil, log.NewNop())
	out := e.Expand(context.Background(), "worker restarts", IntentProcedural)

	assert.Contains(t, out.Terms, "steps")
	assert.Contains(t, out.Terms, "setup")
}

func TestExpandLLMTerms(t *testing.T) {
	llm := &fakeCompleter{reply: `["connection pool", "pgbouncer", "max_connections"]`}
	e := NewExpander(0, 0, llm, log.NewNop())

	// Long enough to qualify as complex.
	q := "why does the database keep dropping connections under load in production"
	out := e.Expand(context.Background(), q, IntentExploration)

	assert.Equal(t, 1, llm.calls)
	assert.True(t, out.LLMUsed)
	assert.Contains(t, out.Terms, "connection pool")
	assert.Contains(t, out.Terms, "pgbouncer")
}

func TestExpandLLMSkippedForSimpleQueries(t *testing.T) {
	llm := &fakeCompleter{reply: `["x"]`}
	e := NewExpander(2, 1, llm, log.NewNop())

	e.Expand(context.Background(), "cache invalidation", IntentExploration)
	assert.Zero(t, llm.calls)
}

func TestExpandLLMFailureAbsorbed(t *testing.T) {
	llm := &fakeCompleter{err: errors.New("quota exhausted")}
	e := NewExpander(2, 1, llm, log.NewNop())

	q := "compare the old retry strategy and the new backoff approach in detail"
	out := e.Expand(context.Background(), q, IntentExploration)

	assert.Equal(t, 1, llm.calls)
	assert.False(t, out.LLMUsed)
}

func TestParseTermList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"plain json", `["a", "b"]`, []string{"a", "b"}},
		{"fenced json", "```json\n[\"a\", \"b\"]\n```", []string{"a", "b"}},
		{"bullet fallback", "- alpha\n- beta gamma", []string{"alpha", "beta gamma"}},
		{"numbered fallback", "1. first\n2. second", []string{"first", "second"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, parseTermList(tt.raw))
		})
	}
}
