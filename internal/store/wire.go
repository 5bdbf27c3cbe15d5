package store

import (
	"encoding/json"
	"time"

	"github.com/devrecall/devrecall/internal/record"
)

// docJSON is the persisted shape of a queued document.
type docJSON struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Source    string    `json:"source,omitempty"`
	Hash      string    `json:"content_hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Meta      metaJSON  `json:"meta"`
}

type metaJSON struct {
	Domain     string            `json:"domain,omitempty"`
	Action     string            `json:"action,omitempty"`
	Status     string            `json:"status,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Entities   []string          `json:"entities,omitempty"`
	Importance int               `json:"importance,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

func metaToJSON(m record.Metadata) metaJSON {
	return metaJSON{
		Domain:     m.Domain,
		Action:     m.Action,
		Status:     m.Status,
		Summary:    m.Summary,
		Entities:   m.Entities,
		Importance: m.Importance,
		Extra:      m.Extra,
	}
}

func docToJSON(d record.Document) docJSON {
	return docJSON{
		ID:        d.ID,
		Content:   d.Content,
		Type:      string(d.Type),
		Source:    d.Source,
		Hash:      d.ContentHash,
		CreatedAt: d.CreatedAt,
		Meta:      metaToJSON(d.Meta),
	}
}

func docFromJSON(payload []byte) (record.Document, error) {
	var w docJSON
	if err := json.Unmarshal(payload, &w); err != nil {
		return record.Document{}, err
	}
	return record.Document{
		ID:          w.ID,
		Content:     w.Content,
		Type:        record.DataType(w.Type),
		Source:      w.Source,
		ContentHash: w.Hash,
		CreatedAt:   w.CreatedAt,
		Meta: record.Metadata{
			Domain:     w.Meta.Domain,
			Action:     w.Meta.Action,
			Status:     w.Meta.Status,
			Summary:    w.Meta.Summary,
			Entities:   w.Meta.Entities,
			Importance: w.Meta.Importance,
			Extra:      w.Meta.Extra,
		},
	}, nil
}
