package chunk

import (
	"strings"
	"testing"
)

func TestEstimateTokensMinimum(t *testing.T) {
	for _, s := range []string{"", "a", "hi"} {
		if got := EstimateTokens(s); got < 1 {
			t.Errorf("EstimateTokens(%q) = %d, want >= 1", s, got)
		}
	}
}

func TestEstimateTokensGrowsWithLength(t *testing.T) {
	short := EstimateTokens("the quick brown fox")
	long := EstimateTokens(strings.Repeat("the quick brown fox ", 50))
	if long <= short {
		t.Errorf("longer text should estimate more tokens: short=%d long=%d", short, long)
	}
}

func TestEstimateTokensPenalizesCodeLikeText(t *testing.T) {
	prose := "the handler processes each request in order and returns"
	code := "func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request)"
	// Same rough length, but the code carries punctuation and case splits
	// that tokenize worse.
	if EstimateTokens(code) <= EstimateTokens(prose) {
		t.Errorf("code fragment should estimate more tokens than prose of similar length: code=%d prose=%d",
			EstimateTokens(code), EstimateTokens(prose))
	}
}

func TestEstimateTokensOverPlainEnglish(t *testing.T) {
	// ~400 words of plain prose should land in the hundreds, not thousands.
	text := strings.Repeat("deployment finished without any problems today ", 60)
	got := EstimateTokens(text)
	if got < 100 || got > 900 {
		t.Errorf("estimate out of plausible range for %d chars: %d", len(text), got)
	}
}
