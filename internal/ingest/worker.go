package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/devrecall/devrecall/internal/batch"
	"github.com/devrecall/devrecall/internal/log"
	"github.com/devrecall/devrecall/internal/providererr"
	"github.com/devrecall/devrecall/internal/store"
)

// WorkerOptions configures the queue-draining worker.
type WorkerOptions struct {
	// BatchSize is how many items one claim pulls. Default 10.
	BatchSize int

	// PollInterval is the sleep between empty polls. Default 5s.
	PollInterval time.Duration

	// MaxRetries is the per-item retry budget before dead-lettering.
	// Default 3.
	MaxRetries int

	// VisibilityTimeout is how long a claimed item may sit in processing
	// before a stale-reclaim sweep returns it to pending. Default 10m.
	VisibilityTimeout time.Duration

	// Batch configures the concurrent processor over claimed items.
	Batch batch.Options
}

func (o *WorkerOptions) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 10 * time.Minute
	}
}

// Queue is the claim/ack capability the worker needs from the relational
// store.
type Queue interface {
	Claim(ctx context.Context, limit int) ([]store.QueueItem, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause string, maxRetries int) (deadLettered bool, err error)
	RequeueStale(ctx context.Context, visibility time.Duration) (int64, error)
}

// Worker drains the ingestion queue: claim a batch, run each document
// through the pipeline with bounded concurrency, then complete or fail each
// item. Failed items return to pending until the retry budget is spent, then
// move to the dead-letter table.
type Worker struct {
	queue     Queue
	pipeline  *Pipeline
	processor *batch.Processor[store.QueueItem]
	opts      WorkerOptions
	logger    log.Logger
}

// NewWorker creates a Worker.
func NewWorker(queue Queue, pipeline *Pipeline, opts WorkerOptions, logger log.Logger) *Worker {
	opts.applyDefaults()
	return &Worker{
		queue:     queue,
		pipeline:  pipeline,
		processor: batch.New[store.QueueItem](opts.Batch, logger),
		opts:      opts,
		logger:    logger,
	}
}

// Run polls the queue until ctx is cancelled. Each poll reclaims stale
// processing items, then claims and processes one batch. Run returns nil on
// cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("ingest worker started",
		"batch_size", w.opts.BatchSize,
		"poll_interval", w.opts.PollInterval)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.queue.RequeueStale(ctx, w.opts.VisibilityTimeout); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("stale reclaim failed", "error", err)
		}

		processed, err := w.DrainOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("queue drain failed", "error", err)
		}
		if processed > 0 {
			// Items were waiting; poll again immediately.
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("ingest worker stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// permanentIngestError reports errors no retry can fix: rejected documents
// and permanent provider failures such as auth or malformed requests.
func permanentIngestError(err error) bool {
	return errors.Is(err, ErrNoContent) || providererr.IsPermanent(err)
}

// DrainOnce claims and processes a single batch, returning how many items it
// handled. Zero with nil error means the queue was empty.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	items, err := w.queue.Claim(ctx, w.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	report := w.processor.Run(ctx, items, func(ctx context.Context, item store.QueueItem) error {
		_, err := w.pipeline.Ingest(ctx, item.Doc)
		if err != nil && permanentIngestError(err) {
			return batch.Permanent(err)
		}
		return err
	})

	for _, outcome := range report.Outcomes {
		item := outcome.Item
		if outcome.Err == nil {
			if err := w.queue.Complete(ctx, item.ID); err != nil {
				w.logger.Error("completing queue item failed", "queue_id", item.ID, "error", err)
			}
			continue
		}
		maxRetries := w.opts.MaxRetries
		if permanentIngestError(outcome.Err) {
			// Retrying cannot succeed; dead-letter on the first failure.
			maxRetries = 0
		}
		deadLettered, err := w.queue.Fail(ctx, item.ID, outcome.Err.Error(), maxRetries)
		if err != nil {
			w.logger.Error("failing queue item failed", "queue_id", item.ID, "error", err)
			continue
		}
		if !deadLettered {
			w.logger.Warn("queue item will retry",
				"queue_id", item.ID,
				"attempts", outcome.Attempts,
				"error", outcome.Err)
		}
	}

	w.logger.Info("batch processed",
		"claimed", len(items),
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"duration", report.Duration)
	return len(items), nil
}
