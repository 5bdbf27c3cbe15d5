// Package vectorindex defines the vector index the retrieval coordinator and
// ingestion pipeline talk to, and provides the PostgreSQL + pgvector
// implementation.
//
// The index is the store of record for chunk vectors: a fixed-dimension dense
// embedding per chunk plus optional sparse lexical terms, queried together in
// one hybrid request with an alpha blend weight.
package vectorindex

import (
	"context"
	"time"

	"github.com/devrecall/devrecall/internal/embed"
	"github.com/devrecall/devrecall/internal/record"
)

// MaxUpsertBatch caps how many records one upsert round trip carries.
const MaxUpsertBatch = 100

// Record is one chunk's vector payload.
type Record struct {
	Chunk  record.Chunk
	Dense  []float32
	Sparse embed.SparseVector
}

// Filter restricts a query by chunk attributes. Zero values mean "no
// restriction". Extra matches against the metadata side-channel with jsonb
// containment semantics.
type Filter struct {
	Types    []record.DataType
	Status   string
	ParentID string
	Since    time.Time
	Until    time.Time

	// MinImportance keeps only chunks tagged at or above this level.
	// Chunks without an importance tag never match a positive value.
	MinImportance int

	Extra map[string]string
}

// Query is one hybrid retrieval request. When Sparse carries no terms the
// index scores on the dense vector alone, ignoring Alpha.
type Query struct {
	Dense  []float32
	Sparse embed.SparseVector
	TopK   int
	Alpha  float64
	Filter *Filter
}

// Match is one scored result. Score is the index's native hybrid similarity;
// downstream stages treat it as the semantic score.
type Match struct {
	ID           string
	ParentID     string
	Content      string
	Preview      string
	Score        float64
	Type         record.DataType
	Source       string
	SectionTitle string
	CreatedAt    time.Time
	Meta         record.Metadata
}

// Index is the capability the core needs from the vector store.
type Index interface {
	// Upsert writes records, splitting into batches of at most MaxUpsertBatch.
	Upsert(ctx context.Context, records []Record) error

	// Query runs one hybrid search.
	Query(ctx context.Context, q Query) ([]Match, error)

	// DeleteByParent removes every chunk of a parent document.
	DeleteByParent(ctx context.Context, parentID string) error
}
