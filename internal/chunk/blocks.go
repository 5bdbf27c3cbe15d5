package chunk

import (
	"fmt"
	"regexp"
	"strings"
)

// preserved is a block lifted out of the content before splitting.
type preserved struct {
	text    string
	isCode  bool
	isError bool
}

// placeholder returns the inline marker for block i. The marker uses NUL
// delimiters so it cannot collide with real content and survives the
// boundary-splitting heuristics as a single "word".
func placeholder(i int) string {
	return fmt.Sprintf("\x00B%d\x00", i)
}

var placeholderRe = regexp.MustCompile("\x00B(\\d+)\x00")

// fencedCodeRe matches a complete fenced code block including the fences.
var fencedCodeRe = regexp.MustCompile("(?s)```[a-zA-Z0-9+-]*\n.*?\n```")

// errorBlockRe matches contiguous stack-trace / error dumps: Go panics,
// Python tracebacks, and Java/JS-style "at ..." frames with their lead line.
var errorBlockRe = regexp.MustCompile(`(?m)` +
	`(?:^panic: .*(?:\n(?:goroutine .*|\t.*|.*\.go:\d.*))+)` +
	`|(?:^Traceback \(most recent call last\):(?:\n(?:  .*|.*Error.*))+)` +
	`|(?:^\S*(?:Error|Exception)[:\s].*(?:\n\s+at .*)+)`)

// extractBlocks lifts code fences and error/stack-trace blocks out of content,
// substituting placeholders so the splitter never cuts mid-block.
func extractBlocks(content string) (string, []preserved) {
	var blocks []preserved

	replace := func(s string, matcher *regexp.Regexp, code bool) string {
		return matcher.ReplaceAllStringFunc(s, func(m string) string {
			ph := placeholder(len(blocks))
			blocks = append(blocks, preserved{
				text:    m,
				isCode:  code,
				isError: !code || looksLikeError(m),
			})
			return ph
		})
	}

	out := replace(content, fencedCodeRe, true)
	out = replace(out, errorBlockRe, false)
	return out, blocks
}

// restoreBlocks substitutes placeholders in text back to their original
// blocks and records which block indices were consumed.
func restoreBlocks(text string, blocks []preserved, used map[int]bool) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		var idx int
		if _, err := fmt.Sscanf(m, "\x00B%d\x00", &idx); err != nil || idx >= len(blocks) {
			return m
		}
		used[idx] = true
		return blocks[idx].text
	})
}

// errorMarkers are cheap substrings flagging error-ish content.
var errorMarkers = []string{
	"panic:", "Traceback (most recent call last)", "Exception", "FATAL",
	"stack trace", "segmentation fault", "ERROR", "Error:",
}

func looksLikeError(s string) bool {
	for _, m := range errorMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
