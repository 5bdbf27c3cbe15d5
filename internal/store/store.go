// Package store persists documents and the ingestion queue in PostgreSQL.
// The vector index owns chunk persistence; this package owns everything
// relational: document content keyed by canonical hash, the work queue, and
// the dead-letter table.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devrecall/devrecall/internal/log"
	"github.com/devrecall/devrecall/internal/record"
)

// ErrNotFound is returned when a queue item or document does not exist.
var ErrNotFound = errors.New("not found")

// Queue item statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// QueueItem is one queued ingestion job. The document payload rides in the
// row so a worker can claim and process without a second lookup.
type QueueItem struct {
	ID         string
	Doc        record.Document
	Status     string
	RetryCount int
	Priority   int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Stats is a point-in-time snapshot of persistence state.
type Stats struct {
	Documents   int64
	Pending     int64
	Processing  int64
	Completed   int64
	Failed      int64
	DeadLetters int64
}

// Store manages documents and the ingest queue. Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store.
func New(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, logger: logger}, nil
}

const upsertDocumentSQL = `INSERT INTO documents (id, content, data_type, source, content_hash, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (content_hash) DO NOTHING`

// UpsertDocument persists doc keyed by its content hash. A hash collision
// with an existing row is a no-op; inserted reports whether a new row was
// written.
func (s *Store) UpsertDocument(ctx context.Context, doc record.Document) (inserted bool, err error) {
	meta, err := json.Marshal(metaToJSON(doc.Meta))
	if err != nil {
		return false, fmt.Errorf("marshaling document metadata: %w", err)
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	tag, err := s.pool.Exec(ctx, upsertDocumentSQL,
		doc.ID, doc.Content, string(doc.Type), doc.Source, doc.ContentHash, meta, createdAt)
	if err != nil {
		return false, fmt.Errorf("upserting document %s: %w", doc.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// HashExists reports whether a document with the given canonical content
// hash is already persisted. Satisfies the dedup checker's lookup interface.
func (s *Store) HashExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE content_hash = $1)`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking content hash: %w", err)
	}
	return exists, nil
}

const enqueueSQL = `INSERT INTO ingest_queue (id, document, status, retry_count, priority, created_at, updated_at)
	VALUES ($1, $2, $3, 0, $4, now(), now())`

// Enqueue adds a document to the ingestion queue and returns the queue id.
func (s *Store) Enqueue(ctx context.Context, doc record.Document, priority int) (string, error) {
	payload, err := json.Marshal(docToJSON(doc))
	if err != nil {
		return "", fmt.Errorf("marshaling queue payload: %w", err)
	}
	id := uuid.New().String()
	if _, err := s.pool.Exec(ctx, enqueueSQL, id, payload, StatusPending, priority); err != nil {
		return "", fmt.Errorf("enqueueing document %s: %w", doc.ID, err)
	}
	return id, nil
}

const claimSQL = `UPDATE ingest_queue SET status = $1, updated_at = now()
	WHERE id IN (
		SELECT id FROM ingest_queue
		WHERE status = $2
		ORDER BY priority DESC, created_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, document, status, retry_count, priority, COALESCE(last_error, ''), created_at, updated_at`

// Claim atomically moves up to limit pending items to processing and returns
// them, highest priority first. SKIP LOCKED keeps concurrent workers from
// claiming the same rows.
func (s *Store) Claim(ctx context.Context, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, claimSQL, StatusProcessing, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming queue items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// Complete marks a processing item done.
func (s *Store) Complete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_queue SET status = $1, updated_at = now() WHERE id = $2`,
		StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("completing queue item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue item %s: %w", id, ErrNotFound)
	}
	return nil
}

// Fail records a processing failure. Below maxRetries the item returns to
// pending for another attempt; at or beyond it the item is copied to the
// dead-letter table and marked failed, which is terminal.
func (s *Store) Fail(ctx context.Context, id string, cause string, maxRetries int) (deadLettered bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		retryCount int
		payload    []byte
	)
	err = tx.QueryRow(ctx,
		`UPDATE ingest_queue SET retry_count = retry_count + 1, last_error = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING retry_count, document`, id, cause).Scan(&retryCount, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("queue item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("recording failure for %s: %w", id, err)
	}

	if retryCount < maxRetries {
		if _, err := tx.Exec(ctx,
			`UPDATE ingest_queue SET status = $1 WHERE id = $2`, StatusPending, id); err != nil {
			return false, fmt.Errorf("requeueing %s: %w", id, err)
		}
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO dead_letters (id, queue_id, document, error, retry_count, failed_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		uuid.New().String(), id, payload, cause, retryCount); err != nil {
		return false, fmt.Errorf("dead-lettering %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE ingest_queue SET status = $1 WHERE id = $2`, StatusFailed, id); err != nil {
		return false, fmt.Errorf("marking %s failed: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	s.logger.Warn("queue item dead-lettered", "queue_id", id, "retries", retryCount, "error", cause)
	return true, nil
}

// RequeueStale returns processing items older than the visibility window to
// pending. Covers workers that died mid-item without calling Fail.
func (s *Store) RequeueStale(ctx context.Context, visibility time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_queue SET status = $1, updated_at = now()
		 WHERE status = $2 AND updated_at < now() - $3::interval`,
		StatusPending, StatusProcessing, fmt.Sprintf("%f seconds", visibility.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("requeueing stale items: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("requeued stale queue items", "count", n)
		return n, nil
	}
	return 0, nil
}

// QueueStats returns a snapshot of document and queue counts.
func (s *Store) QueueStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `SELECT
		(SELECT count(*) FROM documents),
		(SELECT count(*) FROM ingest_queue WHERE status = 'pending'),
		(SELECT count(*) FROM ingest_queue WHERE status = 'processing'),
		(SELECT count(*) FROM ingest_queue WHERE status = 'completed'),
		(SELECT count(*) FROM ingest_queue WHERE status = 'failed'),
		(SELECT count(*) FROM dead_letters)`).Scan(
		&st.Documents, &st.Pending, &st.Processing, &st.Completed, &st.Failed, &st.DeadLetters)
	if err != nil {
		return Stats{}, fmt.Errorf("reading queue stats: %w", err)
	}
	return st, nil
}

func scanItems(rows pgx.Rows) ([]QueueItem, error) {
	var items []QueueItem
	for rows.Next() {
		var (
			item    QueueItem
			payload []byte
		)
		if err := rows.Scan(&item.ID, &payload, &item.Status, &item.RetryCount,
			&item.Priority, &item.LastError, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		doc, err := docFromJSON(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding queue payload %s: %w", item.ID, err)
		}
		item.Doc = doc
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue items: %w", err)
	}
	return items, nil
}
