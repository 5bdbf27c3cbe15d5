// Package chunk splits long content into token-bounded, semantically coherent
// pieces for embedding and retrieval.
//
// The splitter honors a per-data-type token budget (see Profile), preserves
// fenced code and stack-trace blocks so they are never cut mid-block, and
// prefers natural boundaries in priority order: paragraph break, line break,
// sentence end, word boundary. Each chunk inherits the parent document's
// metadata plus derived flags (code/error/header detection, section title,
// content preview).
package chunk

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/devrecall/devrecall/internal/record"
)

// Splitter turns documents into chunks. Safe for concurrent use; it holds no
// per-call state.
type Splitter struct {
	logger *slog.Logger
}

// NewSplitter creates a Splitter.
func NewSplitter(logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{logger: logger}
}

// Split chunks a document's content. Output is order-stable: Index increases
// monotonically and Total is set once the final count is known.
func (s *Splitter) Split(doc record.Document) []record.Chunk {
	p := ProfileFor(doc.Type)

	if EstimateTokens(doc.Content) <= p.TargetTokens {
		return s.finalize(doc, []piece{{text: doc.Content}})
	}

	working := doc.Content
	var blocks []preserved
	if p.PreserveBlocks {
		working, blocks = extractBlocks(doc.Content)
	}

	raw := splitText(working, p)

	// Reinsert preserved blocks into their placeholder slots.
	used := make(map[int]bool, len(blocks))
	pieces := make([]piece, 0, len(raw))
	for _, r := range raw {
		protected := placeholderRe.MatchString(r)
		restored := restoreBlocks(r, blocks, used)
		pieces = append(pieces, piece{text: restored, protected: protected})
	}

	// Any block whose placeholder did not survive splitting becomes its own
	// chunk rather than silently disappearing.
	for i, b := range blocks {
		if !used[i] {
			s.logger.Debug("appending orphaned preserved block", "parent_id", doc.ID, "block", i)
			pieces = append(pieces, piece{text: b.text, protected: true})
		}
	}

	pieces = dropAndMerge(pieces, p)
	return s.finalize(doc, pieces)
}

// piece is an intermediate chunk candidate.
type piece struct {
	text      string
	protected bool // contains a preserved block, never dropped
}

// dropAndMerge removes sub-floor chunks. The trailing undersized chunk is
// merged into its predecessor only when the predecessor is itself below 70%
// of the target size; otherwise it is dropped like the rest.
func dropAndMerge(pieces []piece, p Profile) []piece {
	kept := make([]piece, 0, len(pieces))
	for i, pc := range pieces {
		tokens := EstimateTokens(pc.text)
		if tokens >= p.MinTokens || pc.protected {
			kept = append(kept, pc)
			continue
		}
		isTrailing := i == len(pieces)-1
		if isTrailing && len(kept) > 0 {
			prev := &kept[len(kept)-1]
			if float64(EstimateTokens(prev.text)) < mergePredecessorRatio*float64(p.TargetTokens) {
				prev.text = prev.text + "\n" + pc.text
			}
		}
		// Otherwise dropped: below floor and nothing to merge into.
	}
	return kept
}

// finalize converts pieces to chunks with inherited and derived metadata.
func (s *Splitter) finalize(doc record.Document, pieces []piece) []record.Chunk {
	now := doc.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}

	chunks := make([]record.Chunk, 0, len(pieces))
	lastSection := ""
	for i, pc := range pieces {
		text := strings.TrimRight(pc.text, "\n")
		title, hasHeader := sectionTitle(text)
		if hasHeader {
			lastSection = title
		}

		chunks = append(chunks, record.Chunk{
			ID:           record.ChunkID(doc.ID, i),
			ParentID:     doc.ID,
			Content:      text,
			Index:        i,
			TokenCount:   EstimateTokens(text),
			HasCodeBlock: strings.Contains(text, "```"),
			HasError:     looksLikeError(text),
			HasHeader:    hasHeader,
			SectionTitle: lastSection,
			Preview:      record.MakePreview(text),
			Type:         doc.Type,
			Source:       doc.Source,
			CreatedAt:    now,
			Meta:         doc.Meta.Clone(),
		})
	}

	// Total is fixed only after the final chunk count is known.
	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

var headerRe = regexp.MustCompile(`(?m)^#{1,6} +(.+)$`)

// sectionTitle returns the first markdown header in text, if any.
func sectionTitle(text string) (string, bool) {
	m := headerRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// splitText splits placeholdered text into pieces of at most TargetTokens,
// each piece (after the first) prefixed with up to OverlapTokens of trailing
// context from its predecessor.
func splitText(text string, p Profile) []string {
	var out []string
	overlapChars := p.OverlapTokens * int(charsPerToken)

	rest := text
	carry := "" // overlap prefix for the next piece
	for rest != "" {
		budgetTokens := p.TargetTokens - EstimateTokens(carry)
		if budgetTokens < p.TargetTokens/4 {
			budgetTokens = p.TargetTokens / 4
		}

		if EstimateTokens(carry+rest) <= p.TargetTokens+p.OverlapTokens {
			out = append(out, carry+rest)
			break
		}

		cut := cutPoint(rest, budgetTokens)
		out = append(out, carry+rest[:cut])

		carry = overlapSuffix(rest[:cut], overlapChars)
		rest = strings.TrimLeft(rest[cut:], " ")
	}
	return out
}

// cutPoint finds the byte offset to cut rest at so the prefix estimates at
// most maxTokens, preferring (in order) paragraph breaks, line breaks,
// sentence ends, and word boundaries near the budget.
func cutPoint(rest string, maxTokens int) int {
	// Shrink a character guess until the prefix fits the token budget.
	guess := maxTokens * int(charsPerToken)
	if guess >= len(rest) {
		guess = len(rest)
	}
	guess = runeBoundary(rest, guess)
	for guess > 1 && EstimateTokens(rest[:guess]) > maxTokens {
		guess = runeBoundary(rest, guess*9/10)
	}
	if guess >= len(rest) {
		return len(rest)
	}

	// Search for the best boundary in the lower half of the window.
	floor := guess / 2
	window := rest[floor:guess]

	for _, sep := range []string{"\n\n", "\n"} {
		if i := strings.LastIndex(window, sep); i >= 0 {
			return avoidPlaceholder(rest, floor+i+len(sep))
		}
	}
	if i := lastSentenceEnd(window); i >= 0 {
		return avoidPlaceholder(rest, floor+i)
	}
	if i := strings.LastIndexByte(window, ' '); i >= 0 {
		return avoidPlaceholder(rest, floor+i+1)
	}
	return avoidPlaceholder(rest, guess)
}

// lastSentenceEnd returns the offset just past the last sentence terminator
// followed by a space, or -1.
func lastSentenceEnd(s string) int {
	best := -1
	for _, term := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(s, term); i >= 0 && i+len(term) > best {
			best = i + len(term)
		}
	}
	return best
}

// avoidPlaceholder moves a cut that lands inside a \x00-delimited placeholder
// back to the placeholder's opening delimiter.
func avoidPlaceholder(rest string, cut int) int {
	if strings.Count(rest[:cut], "\x00")%2 == 1 {
		if open := strings.LastIndexByte(rest[:cut], '\x00'); open > 0 {
			return open
		}
	}
	if cut < 1 {
		return 1
	}
	return cut
}

// runeBoundary backs n off to a UTF-8 rune boundary within s.
func runeBoundary(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	if n < 1 {
		n = 1
	}
	return n
}

// overlapSuffix returns up to maxChars of the trailing content of s, starting
// at a word boundary, for use as the next piece's overlap prefix. Suffixes
// containing preserved-block placeholders are skipped: duplicating a block
// across chunks would double-index it.
func overlapSuffix(s string, maxChars int) string {
	if maxChars <= 0 || len(s) == 0 {
		return ""
	}
	start := len(s) - maxChars
	if start <= 0 {
		start = 0
	} else {
		start = runeBoundary(s, start)
		if i := strings.IndexByte(s[start:], ' '); i >= 0 {
			start += i + 1
		}
	}
	suffix := s[start:]
	if strings.Contains(suffix, "\x00") {
		return ""
	}
	if suffix != "" && !strings.HasSuffix(suffix, " ") {
		suffix += " "
	}
	return suffix
}
