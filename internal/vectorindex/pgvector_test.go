package vectorindex_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrecall/devrecall/internal/embed"
	"github.com/devrecall/devrecall/internal/log"
	"github.com/devrecall/devrecall/internal/record"
	"github.com/devrecall/devrecall/internal/testutil"
	"github.com/devrecall/devrecall/internal/vectorindex"
)

const dimension = 768

func setupIndex(t *testing.T) *vectorindex.PG {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	idx, err := vectorindex.NewPG(db.Pool, log.NewNop())
	require.NoError(t, err)
	return idx
}

// basisVector points along one axis, so cosine similarity between different
// axes is zero and identical axes score 1.
func basisVector(axis int) []float32 {
	v := make([]float32, dimension)
	v[axis] = 1
	return v
}

func testChunk(id string, axis int, dataType record.DataType) vectorindex.Record {
	return vectorindex.Record{
		Chunk: record.Chunk{
			ID:         id,
			ParentID:   "parent-" + id,
			Content:    fmt.Sprintf("chunk %s content", id),
			Index:      0,
			Total:      1,
			TokenCount: 4,
			Preview:    fmt.Sprintf("chunk %s content", id),
			Type:       dataType,
			Source:     "test",
			CreatedAt:  time.Now(),
			Meta:       record.Metadata{Domain: "testing", Status: "completed"},
		},
		Dense: basisVector(axis),
	}
}

func TestUpsertAndQuery(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{
		testChunk("a", 0, record.TypeLearning),
		testChunk("b", 1, record.TypeLearning),
		testChunk("c", 2, record.TypeError),
	}))

	matches, err := idx.Query(ctx, vectorindex.Query{Dense: basisVector(1), TopK: 3})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "b", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "parent-b", matches[0].ParentID)
	assert.Equal(t, record.TypeLearning, matches[0].Type)
	assert.Equal(t, "testing", matches[0].Meta.Domain)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestUpsertIsIdempotent(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	rec := testChunk("a", 0, record.TypeLearning)
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{rec}))

	rec.Chunk.Content = "rewritten content"
	rec.Chunk.Preview = "rewritten content"
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{rec}))

	matches, err := idx.Query(ctx, vectorindex.Query{Dense: basisVector(0), TopK: 10})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "rewritten content", matches[0].Content)
}

func TestQueryTypeFilter(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{
		testChunk("a", 0, record.TypeLearning),
		testChunk("b", 1, record.TypeError),
	}))

	matches, err := idx.Query(ctx, vectorindex.Query{
		Dense:  basisVector(0),
		TopK:   10,
		Filter: &vectorindex.Filter{Types: []record.DataType{record.TypeError}},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
}

func TestQueryStatusFilter(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	failed := testChunk("f", 0, record.TypeError)
	failed.Chunk.Meta.Status = "failed"
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{
		failed,
		testChunk("ok", 1, record.TypeError),
	}))

	matches, err := idx.Query(ctx, vectorindex.Query{
		Dense:  basisVector(0),
		TopK:   10,
		Filter: &vectorindex.Filter{Status: "failed"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "f", matches[0].ID)
}

func TestQueryMinImportanceFilter(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	critical := testChunk("crit", 0, record.TypeError)
	critical.Chunk.Meta.Importance = 9
	minor := testChunk("minor", 1, record.TypeError)
	minor.Chunk.Meta.Importance = 3
	untagged := testChunk("untagged", 2, record.TypeError)
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{critical, minor, untagged}))

	matches, err := idx.Query(ctx, vectorindex.Query{
		Dense:  basisVector(0),
		TopK:   10,
		Filter: &vectorindex.Filter{MinImportance: 7},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "crit", matches[0].ID)
}

func TestQuerySinceFilter(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	old := testChunk("old", 0, record.TypeLearning)
	old.Chunk.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{
		old,
		testChunk("new", 1, record.TypeLearning),
	}))

	matches, err := idx.Query(ctx, vectorindex.Query{
		Dense:  basisVector(0),
		TopK:   10,
		Filter: &vectorindex.Filter{Since: time.Now().Add(-time.Hour)},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "new", matches[0].ID)
}

func TestQueryHybridSparseBoost(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	// Two chunks orthogonal to the query's dense vector; only sparse terms
	// separate them.
	withTerms := testChunk("sparse", 1, record.TypeLearning)
	withTerms.Sparse = embed.SparseVector{Indices: []uint32{7}, Values: []float32{0.9}}
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{
		withTerms,
		testChunk("dense-only", 2, record.TypeLearning),
	}))

	matches, err := idx.Query(ctx, vectorindex.Query{
		Dense:  basisVector(0),
		Sparse: embed.SparseVector{Indices: []uint32{7}, Values: []float32{1}},
		TopK:   2,
		Alpha:  0.5,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "sparse", matches[0].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestDeleteByParent(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{
		testChunk("a", 0, record.TypeLearning),
		testChunk("b", 1, record.TypeLearning),
	}))

	require.NoError(t, idx.DeleteByParent(ctx, "parent-a"))

	matches, err := idx.Query(ctx, vectorindex.Query{Dense: basisVector(0), TopK: 10})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
}

func TestQueryRequiresDenseVector(t *testing.T) {
	idx := setupIndex(t)

	_, err := idx.Query(context.Background(), vectorindex.Query{})
	require.Error(t, err)
}
