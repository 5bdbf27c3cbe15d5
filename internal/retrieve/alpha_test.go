package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devrecall/devrecall/internal/record"
)

func TestResolveAlphaExplicit(t *testing.T) {
	// Explicit values skip tuning and are clamped to [0, 1].
	tests := []struct {
		in   float64
		want float64
	}{
		{0.0, 0.0},
		{1.0, 1.0},
		{0.5, 0.5},
		{-2, 0.0},
		{3, 1.0},
	}
	for _, tt := range tests {
		got := resolveAlpha("docker compose SQL error", &tt.in, nil, nil, 0.6)
		assert.InDelta(t, tt.want, got, 1e-9, "explicit %v", tt.in)
	}
}

func TestResolveAlphaTypeDefault(t *testing.T) {
	typeAlpha := map[record.DataType]float64{
		record.TypeCode:  0.4,
		record.TypeError: 0.5,
	}

	// Single filtered type uses its default as the tuning base.
	got := resolveAlpha("something neutral", nil, []record.DataType{record.TypeCode}, typeAlpha, 0.6)
	assert.InDelta(t, 0.4, got, 1e-9)

	// Mixed types fall back to the global default.
	got = resolveAlpha("something neutral", nil, []record.DataType{record.TypeCode, record.TypeError}, typeAlpha, 0.6)
	assert.InDelta(t, 0.6, got, 1e-9)
}

func TestTuneAlphaSteps(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  float64
	}{
		{"neutral query", "something neutral here", 0.6},
		{"technical keyword", "docker networking issue", 0.5},
		{"acronyms capped at three", "HTTP API JWT TLS handshake", 0.6 - 0.10 - 3*0.05},
		{"code token", "panic in process_batch somewhere", 0.45},
		{"file reference", "what changed in main.go recently", 0.6 - 0.15 + 0.10},
		{"interrogative", "how can we speed this up", 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tuneAlpha(tt.query, 0.6), 1e-9)
		})
	}
}

func TestTuneAlphaClamped(t *testing.T) {
	// Everything lexical at once still floors at 0.1.
	got := tuneAlpha("docker HTTP API JWT parse_config main.go", 0.3)
	assert.InDelta(t, 0.1, got, 1e-9)

	got = tuneAlpha("how is it going", 0.9)
	assert.InDelta(t, 0.9, got, 1e-9)
}
