package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecompose(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "simple query stays whole",
			query: "how does the retry loop work",
			want:  []string{"how does the retry loop work"},
		},
		{
			name:  "conjunction splits",
			query: "how did we implement auth and what broke",
			want:  []string{"how did we implement auth", "what broke"},
		},
		{
			name:  "idiom is not a conjunction",
			query: "pros and cons of connection pooling",
			want:  []string{"pros and cons of connection pooling"},
		},
		{
			name:  "idiom plus real conjunction",
			query: "pros and cons of pgbouncer and how we configured it",
			want:  []string{"pros and cons of pgbouncer", "how we configured it"},
		},
		{
			name:  "semicolon separator",
			query: "check deploy history; list recent errors",
			want:  []string{"check deploy history", "list recent errors"},
		},
		{
			name:  "then separator",
			query: "find the migration error then show the fix",
			want:  []string{"find the migration error", "show the fix"},
		},
		{
			name:  "short fragment dropped keeps original",
			query: "status and ok",
			want:  []string{"status and ok"},
		},
		{
			name:  "trial and error stays whole",
			query: "notes on trial and error debugging",
			want:  []string{"notes on trial and error debugging"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decompose(tt.query))
		})
	}
}

func TestDecomposeCapsSubQueries(t *testing.T) {
	q := "first thing and second thing and third thing and fourth thing and fifth thing and sixth thing and seventh thing"
	subs := Decompose(q)
	assert.Len(t, subs, maxSubQueries)
	assert.Equal(t, "first thing", subs[0])
}
