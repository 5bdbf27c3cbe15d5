package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/devrecall/devrecall/internal/log"
	"github.com/devrecall/devrecall/internal/record"
)

// Completer produces a single completion for a prompt. Implemented by the
// LLM adapter the engine constructs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const (
	tagTimeout = 10 * time.Second

	// tagContentLimit caps how much document content rides in the prompt.
	tagContentLimit = 4000

	defaultImportance = 5
)

// Tagger derives metadata (domain, action, status, entities, summary,
// importance) from document content via an LLM. Tagging is best-effort:
// every failure path returns usable defaults, never an error.
type Tagger struct {
	llm    Completer
	logger log.Logger
}

// NewTagger creates a Tagger. llm may be nil, in which case Tag always
// returns defaults.
func NewTagger(llm Completer, logger log.Logger) *Tagger {
	return &Tagger{llm: llm, logger: logger}
}

type tagResponse struct {
	Domain     string   `json:"domain"`
	Action     string   `json:"action"`
	Status     string   `json:"status"`
	Entities   []string `json:"entities"`
	Summary    string   `json:"summary"`
	Importance int      `json:"importance"`
}

// Tag analyzes doc content and returns derived metadata. Fields already set
// on doc.Meta are kept; only empty ones are filled. LLM failures and
// malformed responses fall back to defaults.
func (t *Tagger) Tag(ctx context.Context, doc record.Document) record.Metadata {
	meta := doc.Meta.Clone()
	derived := t.derive(ctx, doc)

	if meta.Domain == "" {
		meta.Domain = derived.Domain
	}
	if meta.Action == "" {
		meta.Action = derived.Action
	}
	if meta.Status == "" {
		meta.Status = derived.Status
	}
	if meta.Summary == "" {
		meta.Summary = derived.Summary
	}
	if len(meta.Entities) == 0 {
		meta.Entities = derived.Entities
	}
	if meta.Importance == 0 {
		meta.Importance = derived.Importance
	}
	return meta
}

func (t *Tagger) derive(ctx context.Context, doc record.Document) record.Metadata {
	defaults := record.Metadata{Domain: "general", Importance: defaultImportance}
	if t.llm == nil {
		return defaults
	}

	ctx, cancel := context.WithTimeout(ctx, tagTimeout)
	defer cancel()

	content := doc.Content
	if len(content) > tagContentLimit {
		content = content[:tagContentLimit]
	}
	prompt := `Analyze this ` + string(doc.Type) + ` record and respond with JSON only:
{"domain": "...", "action": "...", "status": "...", "entities": ["..."], "summary": "...", "importance": 1-10}

Record:
` + content

	raw, err := t.llm.Complete(ctx, prompt)
	if err != nil {
		t.logger.Warn("auto-tagging failed, using defaults", "doc_id", doc.ID, "error", err)
		return defaults
	}

	var resp tagResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		t.logger.Warn("auto-tagging returned malformed JSON, using defaults", "doc_id", doc.ID, "error", err)
		return defaults
	}

	meta := record.Metadata{
		Domain:     strings.TrimSpace(resp.Domain),
		Action:     strings.TrimSpace(resp.Action),
		Status:     strings.TrimSpace(resp.Status),
		Summary:    strings.TrimSpace(resp.Summary),
		Entities:   resp.Entities,
		Importance: resp.Importance,
	}
	if meta.Domain == "" {
		meta.Domain = defaults.Domain
	}
	if meta.Importance < 1 || meta.Importance > 10 {
		meta.Importance = defaultImportance
	}
	return meta
}

// stripFences removes a markdown code fence wrapper, which models add even
// when asked for bare JSON.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}
