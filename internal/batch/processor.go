// Package batch provides a generic concurrent batch runner with per-item
// timeout, exponential-backoff retry, and structured success/failure
// accounting. The ingestion worker drains the queue through a Processor.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// Permanent marks err as non-retryable. The processor fails the item
// immediately without consuming the remaining retry budget.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Options configures a Processor.
type Options struct {
	// Concurrency bounds how many items run at once. Default 2.
	Concurrency int

	// ItemTimeout bounds each attempt. Default 2 minutes.
	ItemTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Default 3.
	MaxRetries int

	// InitialInterval seeds the exponential backoff. Default 500ms.
	InitialInterval time.Duration

	// MaxInterval caps a single backoff sleep. Default 30s.
	MaxInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 2 * time.Minute
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 3
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Second
	}
}

// Outcome records the result of one item.
type Outcome[T any] struct {
	Item     T
	Attempts int
	Duration time.Duration
	Err      error // nil on success
}

// Report aggregates a batch run.
type Report[T any] struct {
	Outcomes  []Outcome[T]
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Processor runs batches of homogeneous items concurrently.
// Processor is safe for concurrent use; each Run call is independent.
type Processor[T any] struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Processor.
func New[T any](opts Options, logger *slog.Logger) *Processor[T] {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Processor[T]{opts: opts, logger: logger}
}

// Run processes every item with fn, retrying transient failures with
// exponential backoff. Item failures never abort the batch; the only way Run
// returns early is parent context cancellation, and even then the outcomes
// gathered so far are reported.
//
// Outcomes preserve the input order.
func (p *Processor[T]) Run(ctx context.Context, items []T, fn func(context.Context, T) error) Report[T] {
	start := time.Now()
	outcomes := make([]Outcome[T], len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i, item := range items {
		g.Go(func() error {
			outcomes[i] = p.runOne(gctx, item, fn)
			// Item errors are recorded, not propagated: one document failing
			// must not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	report := Report[T]{
		Outcomes: outcomes,
		Duration: time.Since(start),
	}
	for _, o := range outcomes {
		if o.Err == nil {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report
}

// runOne executes one item with per-attempt timeout and backoff retries.
func (p *Processor[T]) runOne(ctx context.Context, item T, fn func(context.Context, T) error) Outcome[T] {
	start := time.Now()
	attempts := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.opts.InitialInterval
	bo.MaxInterval = p.opts.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by MaxRetries, not wall clock

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(p.opts.MaxRetries)), ctx)

	err := backoff.Retry(func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, p.opts.ItemTimeout)
		defer cancel()

		attemptErr := fn(attemptCtx, item)
		if attemptErr == nil {
			return nil
		}
		// A timed-out attempt is transient: retry under the same policy.
		if errors.Is(attemptErr, context.DeadlineExceeded) {
			return fmt.Errorf("attempt timed out after %s: %w", p.opts.ItemTimeout, attemptErr)
		}
		return attemptErr
	}, policy)

	if err != nil {
		p.logger.Debug("batch item failed", "attempts", attempts, "error", err)
	}

	return Outcome[T]{
		Item:     item,
		Attempts: attempts,
		Duration: time.Since(start),
		Err:      err,
	}
}
