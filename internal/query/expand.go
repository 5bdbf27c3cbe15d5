package query

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/devrecall/devrecall/internal/log"
)

// Completer produces a single completion for a prompt. Implemented by the
// tagging LLM adapter; nil disables LLM-assisted expansion.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Expanded is the outcome of query expansion.
type Expanded struct {
	Original string

	// Terms are the added expansion terms, deduplicated, in the order
	// they were produced.
	Terms []string

	// Query is the original text with expansion terms appended, ready
	// for embedding.
	Query string

	// Reduced marks a precise-looking query whose expansion budget was
	// cut to protect precision.
	Reduced bool

	// LLMUsed reports whether the LLM contributed terms.
	LLMUsed bool
}

// synonyms maps a query token to interchangeable terms.
var synonyms = map[string][]string{
	"error":    {"failure", "exception", "fault"},
	"errors":   {"failures", "exceptions"},
	"bug":      {"defect", "issue"},
	"fix":      {"resolve", "patch", "repair"},
	"deploy":   {"release", "rollout", "ship"},
	"deployed": {"released", "shipped"},
	"db":       {"database"},
	"database": {"db", "storage"},
	"postgres": {"postgresql", "pg"},
	"auth":     {"authentication", "login"},
	"config":   {"configuration", "settings"},
	"configs":  {"configurations", "settings"},
	"k8s":      {"kubernetes"},
	"perf":     {"performance"},
	"slow":     {"latency", "performance"},
	"memory":   {"ram", "heap"},
	"oom":      {"out of memory"},
	"ci":       {"pipeline", "build"},
	"test":     {"spec", "check"},
	"tests":    {"specs", "checks"},
	"api":      {"endpoint", "service"},
	"crash":    {"panic", "abort"},
	"timeout":  {"deadline", "hang"},
	"queue":    {"backlog", "jobs"},
	"cache":    {"caching"},
	"secret":   {"credential", "key"},
	"migrate":  {"migration", "schema change"},
	"rollback": {"revert", "undo"},
	"log":      {"logs", "logging"},
	"metric":   {"metrics", "measurement"},
}

// related maps a token to broader associated terms, used more sparingly
// than synonyms.
var related = map[string][]string{
	"error":    {"stack trace", "debugging"},
	"deploy":   {"production", "version"},
	"postgres": {"sql", "query plan"},
	"auth":     {"oauth", "token", "session"},
	"k8s":      {"pod", "cluster"},
	"memory":   {"leak", "gc"},
	"timeout":  {"retry", "backoff"},
	"cache":    {"invalidation", "ttl"},
	"queue":    {"worker", "retry"},
	"slow":     {"profiling", "bottleneck"},
}

// intentBoilerplate adds terms that sharpen intent-specific retrieval.
var intentBoilerplate = map[Intent][]string{
	IntentDebugging:  {"error", "fix"},
	IntentProcedural: {"steps", "setup"},
	IntentHistory:    {"changed", "timeline"},
}

// precisePatterns identify queries targeting an exact artifact. Expanding
// those dilutes precision, so the budget is sharply reduced.
var precisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\w+\.(go|py|ts|js|rs|java|sql|ya?ml|json|toml|proto|md)\b`),
	regexp.MustCompile(`:\d+\b`),
	regexp.MustCompile(`\bv?\d+\.\d+\.\d+\b`),
	regexp.MustCompile(`\b[0-9a-f]{7,40}\b`),
	regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`),
}

var complexQueryRe = regexp.MustCompile(`(?i)\b(and|but|not|without|except|versus|vs|compared?)\b`)

const (
	llmExpandTimeout   = 8 * time.Second
	llmComplexMinChars = 60
	maxLLMTerms        = 5
)

// Expander adds synonym/related terms to queries, optionally consulting an
// LLM for complex ones.
type Expander struct {
	maxSynonyms int
	maxRelated  int
	llm         Completer
	logger      log.Logger
}

// NewExpander creates an Expander. llm may be nil to run rules-only.
func NewExpander(maxSynonyms, maxRelated int, llm Completer, logger log.Logger) *Expander {
	if maxSynonyms < 0 {
		maxSynonyms = 0
	}
	if maxRelated < 0 {
		maxRelated = 0
	}
	return &Expander{maxSynonyms: maxSynonyms, maxRelated: maxRelated, llm: llm, logger: logger}
}

// Expand enriches query with bounded synonym and related terms for the given
// intent. LLM failures are absorbed: the rule-based expansion is returned
// unchanged.
func (e *Expander) Expand(ctx context.Context, query string, intent Intent) Expanded {
	out := Expanded{Original: query, Query: query}

	synBudget := e.maxSynonyms
	relBudget := e.maxRelated
	if isPrecise(query) {
		out.Reduced = true
		synBudget = min(synBudget, 1)
		relBudget = 0
	}

	seen := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		seen[strings.Trim(tok, ".,!?;:'\"()")] = true
	}
	add := func(term string, budget *int) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] || *budget <= 0 {
			return
		}
		seen[term] = true
		out.Terms = append(out.Terms, term)
		*budget--
	}

	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, ".,!?;:'\"()")
		for _, s := range synonyms[tok] {
			add(s, &synBudget)
		}
		for _, r := range related[tok] {
			add(r, &relBudget)
		}
	}
	if !out.Reduced {
		boilerBudget := 2
		for _, t := range intentBoilerplate[intent] {
			add(t, &boilerBudget)
		}
	}

	if e.llm != nil && !out.Reduced && isComplex(query) {
		llmBudget := maxLLMTerms
		before := len(out.Terms)
		for _, t := range e.llmTerms(ctx, query) {
			add(t, &llmBudget)
		}
		out.LLMUsed = len(out.Terms) > before
	}

	if len(out.Terms) > 0 {
		out.Query = query + " " + strings.Join(out.Terms, " ")
	}
	return out
}

func (e *Expander) llmTerms(ctx context.Context, query string) []string {
	ctx, cancel := context.WithTimeout(ctx, llmExpandTimeout)
	defer cancel()

	prompt := "List up to five short search terms that would help find documents answering this question. " +
		"Respond with a JSON array of strings only.\n\nQuestion: " + query
	raw, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		e.logger.Warn("llm expansion failed, continuing with rule-based terms", "error", err)
		return nil
	}
	return parseTermList(raw)
}

// parseTermList accepts a JSON string array, tolerating code fences and
// falling back to line splitting when the JSON does not parse.
func parseTermList(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var terms []string
	if err := json.Unmarshal([]byte(raw), &terms); err == nil {
		return terms
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line != "" && !strings.HasPrefix(line, "[") && !strings.HasPrefix(line, "]") {
			terms = append(terms, strings.Trim(line, `"',`))
		}
	}
	return terms
}

func isPrecise(query string) bool {
	for _, re := range precisePatterns {
		if re.MatchString(query) {
			return true
		}
	}
	return false
}

// isComplex reports whether a query is worth an LLM round trip: multi-clause,
// negated, comparative, or simply long.
func isComplex(query string) bool {
	return len(query) >= llmComplexMinChars || complexQueryRe.MatchString(query)
}
