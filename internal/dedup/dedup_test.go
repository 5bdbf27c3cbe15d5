package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace runs", "a  b\t\tc\n\nd", "a b c d"},
		{"trims edges", "  hello  ", "hello"},
		{"case folds", "Hello WORLD", "hello world"},
		{"already canonical", "hello world", "hello world"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestCanonicalHashDeterminism(t *testing.T) {
	h1 := CanonicalHash("deployed service v2 to production")
	h2 := CanonicalHash("deployed service v2 to production")
	assert.Equal(t, h1, h2)
}

func TestCanonicalHashEquivalentInputs(t *testing.T) {
	// Byte-different but normalization-equivalent inputs share a hash.
	h1 := CanonicalHash("Deployed   Service\tv2")
	h2 := CanonicalHash("deployed service v2")
	assert.Equal(t, h1, h2)

	h3 := CanonicalHash("deployed service v3")
	assert.NotEqual(t, h1, h3)
}

type mapLookup map[string]bool

func (m mapLookup) HashExists(_ context.Context, hash string) (bool, error) {
	return m[hash], nil
}

func TestCheckerCheck(t *testing.T) {
	known := CanonicalHash("already ingested")
	checker := NewChecker(mapLookup{known: true})

	hash, exists, err := checker.Check(context.Background(), "Already   INGESTED")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, known, hash)

	_, exists, err = checker.Check(context.Background(), "brand new content")
	require.NoError(t, err)
	assert.False(t, exists)
}
