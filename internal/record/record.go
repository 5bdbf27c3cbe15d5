// Package record defines the core data model shared across the ingestion and
// query pipelines: documents, chunks, typed metadata, and data types.
//
// Each domain concept is a well-defined struct with an explicit Extra map as
// the opaque metadata side-channel, so renamed or missing fields are caught at
// compile time instead of disappearing into an untyped map.
package record

import (
	"fmt"
	"time"
)

// DataType categorizes a development-activity record. The type drives
// chunk sizing, hybrid alpha defaults, and recency decay profiles.
type DataType string

// Known data types.
const (
	TypeSession        DataType = "session"
	TypeCode           DataType = "code"
	TypeDeployment     DataType = "deployment"
	TypeLearning       DataType = "learning"
	TypeError          DataType = "error"
	TypeConfig         DataType = "config"
	TypeSystemSnapshot DataType = "system_snapshot"
	TypeMetric         DataType = "metric"
	TypeGeneric        DataType = "generic"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	switch d {
	case TypeSession, TypeCode, TypeDeployment, TypeLearning, TypeError,
		TypeConfig, TypeSystemSnapshot, TypeMetric, TypeGeneric:
		return true
	}
	return false
}

// Metadata holds the tagged attributes of a document. Fields mirror what the
// auto-tagger produces; Extra carries anything callers attach that the core
// does not interpret.
type Metadata struct {
	Domain     string
	Action     string
	Status     string
	Summary    string
	Entities   []string
	Importance int // 1-10, 0 means unset

	Extra map[string]string
}

// Clone returns a deep copy of m. Chunks inherit a copy of the parent
// metadata so later mutation of one chunk cannot leak into siblings.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Entities != nil {
		out.Entities = make([]string, len(m.Entities))
		copy(out.Entities, m.Entities)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Document is a submitted development-activity record.
//
// ContentHash is the canonical hash of the normalized content. It is computed
// once at ingestion and immutable thereafter; two normalization-equivalent
// contents share a hash.
type Document struct {
	ID          string
	Content     string
	Type        DataType
	Source      string
	ContentHash string
	CreatedAt   time.Time
	Meta        Metadata
}

// Chunk is one token-bounded piece of a document. Chunks are created in a
// single pass during ingestion and never mutated; Total is fixed once the
// final chunk count for the parent is known.
type Chunk struct {
	ID         string
	ParentID   string
	Content    string
	Index      int
	Total      int
	TokenCount int

	// Derived flags.
	HasCodeBlock bool
	HasError     bool
	HasHeader    bool
	SectionTitle string
	Preview      string // first <=500 chars of Content

	Type      DataType
	Source    string
	CreatedAt time.Time
	Meta      Metadata
}

// ChunkID builds the canonical chunk identifier for a parent document.
func ChunkID(parentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", parentID, index)
}

// PreviewLimit is the maximum length of Chunk.Preview.
const PreviewLimit = 500

// MakePreview truncates content to PreviewLimit bytes on a rune boundary.
func MakePreview(content string) string {
	if len(content) <= PreviewLimit {
		return content
	}
	// Back off to a rune boundary so the preview is valid UTF-8.
	cut := PreviewLimit
	for cut > 0 && content[cut]&0xC0 == 0x80 {
		cut--
	}
	return content[:cut]
}
