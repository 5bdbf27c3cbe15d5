package chunk

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token estimation coefficients.
//
// EstimateTokens is a cheap character/pattern approximation, not a real
// tokenizer. The base rate assumes ~4 characters per token (English prose on
// BPE-family tokenizers), with additive corrections for patterns that
// tokenize worse than prose: digits and punctuation frequently become
// single-character tokens, camelCase and snake_case identifiers split at
// case/underscore boundaries, and whitespace runs carry their own tokens.
//
// The coefficients were tuned empirically against the target embedding
// provider's tokenizer and are grouped here as constants to retune rather
// than treated as exact requirements. safetyMargin pads the estimate upward
// so it rarely undershoots the provider's actual cost; overshooting wastes a
// little budget, undershooting silently exceeds provider input limits.
const (
	charsPerToken    = 4.0
	digitWeight      = 0.30
	punctWeight      = 0.25
	caseSplitWeight  = 0.50
	whitespaceWeight = 0.20
	safetyMargin     = 1.10
)

// EstimateTokens approximates the token count of s with a conservative
// (upward) bias. Returns 0 for empty input.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}

	var digits, puncts, caseSplits, spaceRuns int
	prevLower := false
	prevSpace := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			puncts++
		}
		if unicode.IsSpace(r) {
			if !prevSpace {
				spaceRuns++
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		// camelCase boundary: lower followed by upper.
		if prevLower && unicode.IsUpper(r) {
			caseSplits++
		}
		prevLower = unicode.IsLower(r)
	}
	// snake_case boundaries tokenize like camelCase ones.
	caseSplits += strings.Count(s, "_")

	base := float64(utf8.RuneCountInString(s)) / charsPerToken
	est := base +
		float64(digits)*digitWeight +
		float64(puncts)*punctWeight +
		float64(caseSplits)*caseSplitWeight +
		float64(spaceRuns)*whitespaceWeight
	est *= safetyMargin

	n := int(math.Ceil(est))
	if n < 1 {
		n = 1
	}
	return n
}
