package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/devrecall/devrecall/internal/embed"
	"github.com/devrecall/devrecall/internal/record"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// upsertChunkSQL writes one chunk's vectors and metadata idempotently.
const upsertChunkSQL = `INSERT INTO chunks
	(id, parent_id, content, chunk_index, total_chunks, token_count,
	 data_type, source, section_title, has_code_block, has_error, has_header,
	 preview, metadata, embedding, sparse_terms, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (id) DO UPDATE SET
	 content = EXCLUDED.content,
	 total_chunks = EXCLUDED.total_chunks,
	 token_count = EXCLUDED.token_count,
	 section_title = EXCLUDED.section_title,
	 has_code_block = EXCLUDED.has_code_block,
	 has_error = EXCLUDED.has_error,
	 has_header = EXCLUDED.has_header,
	 preview = EXCLUDED.preview,
	 metadata = EXCLUDED.metadata,
	 embedding = EXCLUDED.embedding,
	 sparse_terms = EXCLUDED.sparse_terms`

// PG is the PostgreSQL + pgvector implementation of Index.
//
// Hybrid scoring happens in SQL: the dense side is cosine similarity via
// pgvector's <=> operator, the sparse side is a dot product between the
// stored sparse_terms jsonb and the query's terms. PG is safe for concurrent
// use by multiple goroutines.
type PG struct {
	db     querier
	logger *slog.Logger

	// queryTimeout bounds a single search to keep a slow index scan from
	// holding a request.
	queryTimeout time.Duration
}

// NewPG creates the pgvector-backed index.
func NewPG(db querier, logger *slog.Logger) (*PG, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PG{db: db, logger: logger, queryTimeout: 10 * time.Second}, nil
}

// Upsert writes records in batches of MaxUpsertBatch using one pgx batch
// round trip per slice.
func (p *PG) Upsert(ctx context.Context, records []Record) error {
	for start := 0; start < len(records); start += MaxUpsertBatch {
		end := min(start+MaxUpsertBatch, len(records))
		if err := p.upsertBatch(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *PG) upsertBatch(ctx context.Context, records []Record) error {
	b := &pgx.Batch{}
	for _, r := range records {
		metaJSON, err := json.Marshal(metaToJSON(r.Chunk.Meta))
		if err != nil {
			return fmt.Errorf("marshaling chunk metadata %q: %w", r.Chunk.ID, err)
		}
		sparseJSON, err := json.Marshal(sparseToMap(r.Sparse))
		if err != nil {
			return fmt.Errorf("marshaling sparse terms %q: %w", r.Chunk.ID, err)
		}

		c := r.Chunk
		b.Queue(upsertChunkSQL,
			c.ID, c.ParentID, c.Content, c.Index, c.Total, c.TokenCount,
			string(c.Type), c.Source, c.SectionTitle, c.HasCodeBlock, c.HasError, c.HasHeader,
			c.Preview, metaJSON, pgvector.NewVector(r.Dense), sparseJSON, c.CreatedAt)
	}

	results := p.db.SendBatch(ctx, b)
	defer func() {
		if err := results.Close(); err != nil {
			p.logger.Debug("closing upsert batch", "error", err)
		}
	}()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting chunk batch: %w", err)
		}
	}
	return nil
}

// Query runs one hybrid search. The score expression blends:
//
//	alpha * (1 - cosine_distance) + (1-alpha) * sparse_dot
//
// falling back to pure dense similarity when the query has no sparse terms.
func (p *PG) Query(ctx context.Context, q Query) ([]Match, error) {
	if len(q.Dense) == 0 {
		return nil, errors.New("query dense vector is required")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	where, args := buildWhere(q.Filter)
	denseArg := len(args) + 1
	args = append(args, pgvector.NewVector(q.Dense))

	var scoreExpr string
	if q.Sparse.IsZero() {
		scoreExpr = fmt.Sprintf("(1 - (c.embedding <=> $%d))", denseArg)
	} else {
		sparseJSON, err := json.Marshal(sparseToMap(q.Sparse))
		if err != nil {
			return nil, fmt.Errorf("marshaling query sparse terms: %w", err)
		}
		sparseArg := len(args) + 1
		args = append(args, sparseJSON)
		alphaArg := len(args) + 1
		args = append(args, q.Alpha)
		scoreExpr = fmt.Sprintf(
			`($%d * (1 - (c.embedding <=> $%d)) + (1 - $%d) * COALESCE((
				SELECT sum((c.sparse_terms->>q.key)::float8 * q.value::float8)
				FROM jsonb_each_text($%d::jsonb) AS q(key, value)
				WHERE c.sparse_terms ? q.key), 0))`,
			alphaArg, denseArg, alphaArg, sparseArg)
	}

	limitArg := len(args) + 1
	args = append(args, topK)

	sql := fmt.Sprintf(`SELECT c.id, c.parent_id, c.content, c.preview,
		%s AS score, c.data_type, c.source, c.section_title, c.metadata, c.created_at
		FROM chunks c
		%s
		ORDER BY score DESC
		LIMIT $%d`, scoreExpr, where, limitArg)

	rows, err := p.db.Query(queryCtx, sql, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("hybrid search timeout: %w", err)
		}
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m        Match
			dataType string
			metaJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.ParentID, &m.Content, &m.Preview,
			&m.Score, &dataType, &m.Source, &m.SectionTitle, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		m.Type = record.DataType(dataType)
		m.Meta = metaFromJSON(metaJSON, p.logger)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

// DeleteByParent removes every chunk belonging to a parent document.
func (p *PG) DeleteByParent(ctx context.Context, parentID string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM chunks WHERE parent_id = $1`, parentID); err != nil {
		return fmt.Errorf("deleting chunks for %q: %w", parentID, err)
	}
	return nil
}

// buildWhere assembles the filter clause. All values go through placeholders;
// no user input is interpolated into SQL text.
func buildWhere(f *Filter) (string, []any) {
	if f == nil {
		return "", nil
	}
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("c.data_type = ANY($%d)", types)
	}
	if f.Status != "" {
		add("c.metadata->>'status' = $%d", f.Status)
	}
	if f.ParentID != "" {
		add("c.parent_id = $%d", f.ParentID)
	}
	if !f.Since.IsZero() {
		add("c.created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("c.created_at <= $%d", f.Until)
	}
	if f.MinImportance > 0 {
		add("COALESCE((c.metadata->>'importance')::int, 0) >= $%d", f.MinImportance)
	}
	if len(f.Extra) > 0 {
		extraJSON, err := json.Marshal(f.Extra)
		if err == nil {
			add("c.metadata->'extra' @> $%d::jsonb", extraJSON)
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	where := "WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// metaJSON is the persisted shape of record.Metadata.
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

func metaFromJSON(raw []byte, logger *slog.Logger) record.Metadata {
	var mj metaJSON
	if err := json.Unmarshal(raw, &mj); err != nil {
		logger.Warn("failed to parse chunk metadata", "error", err)
		return record.Metadata{}
	}
	return record.Metadata{
		Domain:     mj.Domain,
		Action:     mj.Action,
		Status:     mj.Status,
		Summary:    mj.Summary,
		Entities:   mj.Entities,
		Importance: mj.Importance,
		Extra:      mj.Extra,
	}
}

// sparseToMap converts a sparse vector to the jsonb `{index: weight}` shape.
func sparseToMap(v embed.SparseVector) map[string]float32 {
	if v.IsZero() {
		return map[string]float32{}
	}
	out := make(map[string]float32, len(v.Indices))
	for i, idx := range v.Indices {
		out[strconv.FormatUint(uint64(idx), 10)] = v.Values[i]
	}
	return out
}
