package query

import (
	"regexp"
	"strings"
)

// maxSubQueries caps how many parts a conjoined query may split into.
const maxSubQueries = 5

// minSubQueryWords drops fragments too short to search on their own.
const minSubQueryWords = 2

// conjunctionRe matches the separators that indicate a multi-part query.
var conjunctionRe = regexp.MustCompile(`(?i)\s+(?:and|also|plus|as well as)\s+|\s*(?:;|,\s*then)\s+|\s+then\s+`)

// exclusionPhrases are idioms whose conjunction does not join two questions.
// They are masked before splitting so "pros and cons of X" stays whole.
var exclusionPhrases = []string{
	"pros and cons",
	"trial and error",
	"back and forth",
	"try and",
	"now and then",
	"and so on",
	"and/or",
	"black and white",
	"ups and downs",
}

// Decompose splits a conjoined query into independent sub-queries, at most
// maxSubQueries. A query with no real conjunction (or only an excluded
// idiom) returns a single-element slice containing the original.
func Decompose(q string) []string {
	masked := q
	lower := strings.ToLower(q)
	placeholders := make(map[string]string)
	for i, phrase := range exclusionPhrases {
		idx := strings.Index(lower, phrase)
		for idx >= 0 {
			token := maskToken(i, len(placeholders))
			original := masked[idx : idx+len(phrase)]
			placeholders[token] = original
			masked = masked[:idx] + token + masked[idx+len(phrase):]
			lower = strings.ToLower(masked)
			idx = strings.Index(lower, phrase)
		}
	}

	parts := conjunctionRe.Split(masked, -1)
	if len(parts) <= 1 {
		return []string{q}
	}

	subs := make([]string, 0, len(parts))
	for _, part := range parts {
		for token, original := range placeholders {
			part = strings.ReplaceAll(part, token, original)
		}
		part = strings.TrimSpace(part)
		if len(strings.Fields(part)) < minSubQueryWords {
			continue
		}
		subs = append(subs, part)
		if len(subs) == maxSubQueries {
			break
		}
	}
	if len(subs) <= 1 {
		return []string{q}
	}
	return subs
}

func maskToken(phrase, n int) string {
	return "\x00X" + string(rune('a'+phrase)) + string(rune('a'+n)) + "\x00"
}
