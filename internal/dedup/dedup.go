// Package dedup provides canonical content hashing and duplicate detection
// for the ingestion pipeline.
//
// Two byte-different contents that normalize identically (whitespace runs
// collapsed, case folded) share a hash, so re-submitting reformatted content
// does not re-index it.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// CanonicalHash returns the canonical hash of content after normalization.
// The hash is stable across whitespace run-length and letter-case variants.
func CanonicalHash(content string) string {
	normalized := Normalize(content)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Normalize collapses unicode whitespace runs to single spaces, trims the
// ends, and lower-cases the result.
func Normalize(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	inSpace := false
	for _, r := range content {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// HashLookup is the storage capability the Checker needs: an existence check
// against previously persisted content hashes.
type HashLookup interface {
	HashExists(ctx context.Context, contentHash string) (bool, error)
}

// Checker answers "has this content been ingested before".
type Checker struct {
	lookup HashLookup
}

// NewChecker creates a Checker over the given lookup.
func NewChecker(lookup HashLookup) *Checker {
	return &Checker{lookup: lookup}
}

// Check hashes content canonically and reports whether the hash already
// exists. The returned hash is used for persistence either way.
func (c *Checker) Check(ctx context.Context, content string) (hash string, exists bool, err error) {
	hash = CanonicalHash(content)
	exists, err = c.lookup.HashExists(ctx, hash)
	if err != nil {
		return "", false, fmt.Errorf("looking up content hash: %w", err)
	}
	return hash, exists, nil
}
