package retrieve

import (
	"regexp"
	"strings"

	"github.com/devrecall/devrecall/internal/record"
)

// Alpha bounds after auto-tuning. Explicit caller values bypass tuning and
// are only clamped to [0, 1].
const (
	alphaMin = 0.1
	alphaMax = 0.9
)

// Tuning step sizes. Each adjustment is additive and the sum is clamped.
const (
	keywordStep       = 0.10 // technical keyword present: favor lexical
	acronymStep       = 0.05 // per acronym, capped
	acronymCap        = 3
	codeTokenStep     = 0.15 // code-like token present: favor lexical
	interrogativeStep = 0.10 // question phrasing: favor semantic
)

// technicalKeywords skew retrieval lexical when present: users typing these
// want exact matches, not paraphrases.
var technicalKeywords = map[string]bool{
	"api": true, "cli": true, "sql": true, "http": true, "grpc": true,
	"json": true, "yaml": true, "toml": true, "regex": true, "oauth": true,
	"jwt": true, "tls": true, "ssl": true, "dns": true, "tcp": true,
	"docker": true, "kubernetes": true, "k8s": true, "terraform": true,
	"stacktrace": true, "traceback": true, "segfault": true, "oom": true,
	"mutex": true, "goroutine": true, "deadlock": true,
}

var (
	acronymRe      = regexp.MustCompile(`\b[A-Z]{2,6}\b`)
	fileExtRe      = regexp.MustCompile(`\b\w+\.(go|py|js|ts|rs|java|rb|sh|sql|yaml|yml|json|toml|md|c|cpp|h)\b`)
	camelCaseRe    = regexp.MustCompile(`\b[a-z]+[A-Z]\w*\b`)
	snakeCaseRe    = regexp.MustCompile(`\b[a-z0-9]+_[a-z0-9_]+\b`)
	funcCallRe     = regexp.MustCompile(`\b\w+\(`)
	interrogatives = map[string]bool{
		"how": true, "what": true, "why": true, "when": true, "where": true,
		"who": true, "which": true, "can": true, "could": true, "should": true,
		"does": true, "did": true, "is": true, "are": true,
	}
)

// resolveAlpha resolves the blend weight for one query.
//
// Priority: explicit caller value > per-data-type default > global default.
// Explicit values skip auto-tuning entirely and are clamped to [0, 1]; all
// other paths are auto-tuned from query shape and clamped to [0.1, 0.9].
func resolveAlpha(query string, explicit *float64, types []record.DataType, typeAlpha map[record.DataType]float64, defaultAlpha float64) float64 {
	if explicit != nil {
		return clamp(*explicit, 0, 1)
	}

	alpha := defaultAlpha
	// A per-type default applies when the query is filtered to exactly one
	// type; mixing types falls back to the global default.
	if len(types) == 1 {
		if a, ok := typeAlpha[types[0]]; ok {
			alpha = a
		}
	}

	return tuneAlpha(query, alpha)
}

// tuneAlpha applies query-shape adjustments, clamping after each step.
func tuneAlpha(query string, alpha float64) float64 {
	lower := strings.ToLower(query)

	for _, tok := range strings.Fields(lower) {
		if technicalKeywords[strings.Trim(tok, ".,;:?!")] {
			alpha = clamp(alpha-keywordStep, alphaMin, alphaMax)
			break
		}
	}

	if n := len(acronymRe.FindAllString(query, -1)); n > 0 {
		if n > acronymCap {
			n = acronymCap
		}
		alpha = clamp(alpha-float64(n)*acronymStep, alphaMin, alphaMax)
	}

	if fileExtRe.MatchString(query) || camelCaseRe.MatchString(query) ||
		snakeCaseRe.MatchString(query) || funcCallRe.MatchString(query) {
		alpha = clamp(alpha-codeTokenStep, alphaMin, alphaMax)
	}

	if fields := strings.Fields(lower); len(fields) > 0 && interrogatives[fields[0]] {
		alpha = clamp(alpha+interrogativeStep, alphaMin, alphaMax)
	}

	return clamp(alpha, alphaMin, alphaMax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
