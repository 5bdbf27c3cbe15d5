package retrieve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrecall/devrecall/internal/embed"
	"github.com/devrecall/devrecall/internal/log"
	"github.com/devrecall/devrecall/internal/ratelimit"
	"github.com/devrecall/devrecall/internal/record"
	"github.com/devrecall/devrecall/internal/vectorindex"
)

// mockEmbedder is a mock implementation of ai.Embedder.
type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	resp := &ai.EmbedResponse{}
	for range req.Input {
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: []float32{0.1, 0.2, 0.3}})
	}
	return resp, nil
}

func (m *mockEmbedder) Name() string { return "mockEmbedder" }

func (m *mockEmbedder) Register(r api.Registry) {}

type fakeSparse struct {
	vec embed.SparseVector
	err error
}

func (f *fakeSparse) Encode(ctx context.Context, text string, input embed.InputType) (embed.SparseVector, error) {
	return f.vec, f.err
}

type fakeIndex struct {
	matches []vectorindex.Match
	err     error
	last    vectorindex.Query
}

func (f *fakeIndex) Upsert(ctx context.Context, records []vectorindex.Record) error { return nil }

func (f *fakeIndex) Query(ctx context.Context, q vectorindex.Query) ([]vectorindex.Match, error) {
	f.last = q
	return f.matches, f.err
}

func (f *fakeIndex) DeleteByParent(ctx context.Context, parentID string) error { return nil }

func testDense(t *testing.T, embedder ai.Embedder) *embed.Dense {
	t.Helper()
	reg := ratelimit.New(log.NewNop())
	limiter := reg.Register("dense", ratelimit.Budget{RequestsPerMinute: 600})
	d, err := embed.NewDense(embedder, limiter, 3, log.NewNop())
	require.NoError(t, err)
	return d
}

func testCoordinator(t *testing.T, index vectorindex.Index, sparse embed.Encoder, cfg Config) *Coordinator {
	t.Helper()
	c, err := New(index, testDense(t, &mockEmbedder{}), sparse, cfg, log.NewNop())
	require.NoError(t, err)
	return c
}

func TestRetrieveHybrid(t *testing.T) {
	index := &fakeIndex{matches: []vectorindex.Match{
		{ID: "c1", Score: 0.92, CreatedAt: time.Now()},
		{ID: "c2", Score: 0.85, CreatedAt: time.Now()},
	}}
	sparse := &fakeSparse{vec: embed.SparseVector{Indices: []uint32{7, 42}, Values: []float32{0.5, 0.3}}}
	c := testCoordinator(t, index, sparse, Config{HybridEnabled: true, DefaultAlpha: 0.6})

	res, err := c.Retrieve(context.Background(), Request{Query: "database connection leaks", TopK: 10})
	require.NoError(t, err)

	assert.True(t, res.SparseUsed)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "c1", res.Candidates[0].Match.ID)
	assert.Equal(t, 1, res.Candidates[0].Rank)
	assert.InDelta(t, 0.92, res.Candidates[0].SemanticScore, 1e-9)
	assert.False(t, index.last.Sparse.IsZero())
	assert.Len(t, index.last.Dense, 3)
}

func TestRetrieveSparseFailureDegradesToDense(t *testing.T) {
	index := &fakeIndex{matches: []vectorindex.Match{{ID: "c1", Score: 0.9}}}
	sparse := &fakeSparse{err: errors.New("sparse service down")}
	c := testCoordinator(t, index, sparse, Config{HybridEnabled: true, DefaultAlpha: 0.6})

	res, err := c.Retrieve(context.Background(), Request{Query: "database connection leaks", TopK: 5})
	require.NoError(t, err)

	assert.False(t, res.SparseUsed)
	assert.True(t, index.last.Sparse.IsZero())
	require.Len(t, res.Candidates, 1)
}

func TestRetrieveDenseFailureIsFatal(t *testing.T) {
	index := &fakeIndex{}
	c, err := New(index, testDense(t, &mockEmbedder{err: errors.New("quota exhausted")}),
		embed.NopEncoder{}, Config{DefaultAlpha: 0.6}, log.NewNop())
	require.NoError(t, err)

	_, err = c.Retrieve(context.Background(), Request{Query: "anything here", TopK: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestRetrieveIndexFailureIsFatal(t *testing.T) {
	index := &fakeIndex{err: errors.New("connection refused")}
	c := testCoordinator(t, index, embed.NopEncoder{}, Config{DefaultAlpha: 0.6})

	_, err := c.Retrieve(context.Background(), Request{Query: "anything here", TopK: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	c := testCoordinator(t, &fakeIndex{}, embed.NopEncoder{}, Config{DefaultAlpha: 0.6})

	_, err := c.Retrieve(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestRetrieveSparseSkippedWhenHybridOff(t *testing.T) {
	index := &fakeIndex{matches: []vectorindex.Match{{ID: "c1", Score: 0.9}}}
	sparse := &fakeSparse{vec: embed.SparseVector{Indices: []uint32{1}, Values: []float32{1}}}
	c := testCoordinator(t, index, sparse, Config{HybridEnabled: false, DefaultAlpha: 0.6})

	res, err := c.Retrieve(context.Background(), Request{Query: "database connection leaks", TopK: 5})
	require.NoError(t, err)
	assert.False(t, res.SparseUsed)
}

func TestRetrievePassesFilterAndAlpha(t *testing.T) {
	index := &fakeIndex{}
	c := testCoordinator(t, index, embed.NopEncoder{}, Config{DefaultAlpha: 0.6})

	alpha := 0.3
	filter := &vectorindex.Filter{Types: []record.DataType{record.TypeError}}
	_, err := c.Retrieve(context.Background(), Request{
		Query:  "database connection leaks",
		TopK:   7,
		Filter: filter,
		Alpha:  &alpha,
	})
	require.NoError(t, err)

	assert.Equal(t, 7, index.last.TopK)
	assert.InDelta(t, 0.3, index.last.Alpha, 1e-9)
	assert.Same(t, filter, index.last.Filter)
}
