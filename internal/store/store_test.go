package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrecall/devrecall/internal/dedup"
	"github.com/devrecall/devrecall/internal/log"
	"github.com/devrecall/devrecall/internal/record"
	"github.com/devrecall/devrecall/internal/store"
	"github.com/devrecall/devrecall/internal/testutil"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	s, err := store.New(db.Pool, log.NewNop())
	require.NoError(t, err)
	return s
}

func testDoc(content string) record.Document {
	return record.Document{
		ID:          "doc-" + dedup.CanonicalHash(content)[:8],
		Content:     content,
		Type:        record.TypeLearning,
		Source:      "test",
		ContentHash: dedup.CanonicalHash(content),
		CreatedAt:   time.Now(),
		Meta:        record.Metadata{Domain: "testing", Importance: 5},
	}
}

func TestUpsertDocumentAndHashExists(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	doc := testDoc("postgres connection pooling notes")

	exists, err := s.HashExists(ctx, doc.ContentHash)
	require.NoError(t, err)
	assert.False(t, exists)

	inserted, err := s.UpsertDocument(ctx, doc)
	require.NoError(t, err)
	assert.True(t, inserted)

	exists, err = s.HashExists(ctx, doc.ContentHash)
	require.NoError(t, err)
	assert.True(t, exists)

	// Same hash again is a no-op.
	dup := doc
	dup.ID = "different-id"
	inserted, err = s.UpsertDocument(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestQueueLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, testDoc("queued document body"), 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	items, err := s.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, store.StatusProcessing, items[0].Status)
	assert.Equal(t, "queued document body", items[0].Doc.Content)
	assert.Equal(t, record.TypeLearning, items[0].Doc.Type)

	// Claimed items are invisible to a second claim.
	again, err := s.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.Complete(ctx, id))

	stats, err := s.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Zero(t, stats.Pending)
}

func TestClaimOrdersByPriority(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	low, err := s.Enqueue(ctx, testDoc("low priority work"), 0)
	require.NoError(t, err)
	high, err := s.Enqueue(ctx, testDoc("high priority work"), 10)
	require.NoError(t, err)

	items, err := s.Claim(ctx, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, high, items[0].ID)
	assert.Equal(t, low, items[1].ID)
}

func TestFailRetriesThenDeadLetters(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	maxRetries := 2

	id, err := s.Enqueue(ctx, testDoc("document that keeps failing"), 0)
	require.NoError(t, err)

	_, err = s.Claim(ctx, 1)
	require.NoError(t, err)

	// First failure: back to pending.
	deadLettered, err := s.Fail(ctx, id, "embed: provider down", maxRetries)
	require.NoError(t, err)
	assert.False(t, deadLettered)

	items, err := s.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.Equal(t, "embed: provider down", items[0].LastError)

	// Second failure exhausts the budget.
	deadLettered, err = s.Fail(ctx, id, "embed: provider still down", maxRetries)
	require.NoError(t, err)
	assert.True(t, deadLettered)

	stats, err := s.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.DeadLetters)
}

func TestFailUnknownItem(t *testing.T) {
	s := setupStore(t)

	_, err := s.Fail(context.Background(), "11111111-1111-1111-1111-111111111111", "cause", 3)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompleteUnknownItem(t *testing.T) {
	s := setupStore(t)

	err := s.Complete(context.Background(), "11111111-1111-1111-1111-111111111111")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRequeueStale(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, testDoc("stale processing item"), 0)
	require.NoError(t, err)
	_, err = s.Claim(ctx, 1)
	require.NoError(t, err)

	// Freshly claimed: nothing is stale yet.
	n, err := s.RequeueStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Zero visibility makes the claimed item immediately stale.
	n, err = s.RequeueStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	items, err := s.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
}
