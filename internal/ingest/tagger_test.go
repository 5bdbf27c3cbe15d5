package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devrecall/devrecall/internal/log"
	"github.com/devrecall/devrecall/internal/record"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestTagWithoutLLM(t *testing.T) {
	tagger := NewTagger(nil, log.NewNop())

	meta := tagger.Tag(context.Background(), record.Document{Content: "some content"})
	assert.Equal(t, "general", meta.Domain)
	assert.Equal(t, defaultImportance, meta.Importance)
}

func TestTagParsesLLMResponse(t *testing.T) {
	llm := &fakeCompleter{reply: "```json\n" +
		`{"domain":"database","action":"migration","status":"completed","entities":["pgvector"],"summary":"schema change","importance":7}` +
		"\n```"}
	tagger := NewTagger(llm, log.NewNop())

	meta := tagger.Tag(context.Background(), record.Document{Content: "migrated chunks table", Type: record.TypeDeployment})

	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, "database", meta.Domain)
	assert.Equal(t, "migration", meta.Action)
	assert.Equal(t, "completed", meta.Status)
	assert.Equal(t, []string{"pgvector"}, meta.Entities)
	assert.Equal(t, 7, meta.Importance)
}

func TestTagKeepsExistingFields(t *testing.T) {
	llm := &fakeCompleter{reply: `{"domain":"derived","importance":9}`}
	tagger := NewTagger(llm, log.NewNop())

	meta := tagger.Tag(context.Background(), record.Document{
		Content: "content",
		Meta:    record.Metadata{Domain: "explicit"},
	})

	assert.Equal(t, "explicit", meta.Domain)
	assert.Equal(t, 9, meta.Importance)
}

func TestTagLLMFailureFallsBackToDefaults(t *testing.T) {
	llm := &fakeCompleter{err: errors.New("model unavailable")}
	tagger := NewTagger(llm, log.NewNop())

	meta := tagger.Tag(context.Background(), record.Document{Content: "content"})
	assert.Equal(t, "general", meta.Domain)
	assert.Equal(t, defaultImportance, meta.Importance)
}

func TestTagMalformedResponseFallsBackToDefaults(t *testing.T) {
	llm := &fakeCompleter{reply: "not json at all"}
	tagger := NewTagger(llm, log.NewNop())

	meta := tagger.Tag(context.Background(), record.Document{Content: "content"})
	assert.Equal(t, "general", meta.Domain)
}

func TestTagImportanceClamped(t *testing.T) {
	llm := &fakeCompleter{reply: `{"domain":"x","importance":42}`}
	tagger := NewTagger(llm, log.NewNop())

	meta := tagger.Tag(context.Background(), record.Document{Content: "content"})
	assert.Equal(t, defaultImportance, meta.Importance)
}
