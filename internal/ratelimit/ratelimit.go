// Package ratelimit provides per-dependency sliding-window admission control.
//
// Every call to an external provider (dense/sparse embedding, rerank, tagging
// LLM) passes through a Limiter obtained from a Registry. A Limiter enforces
// three budgets over a trailing window:
//
//   - requests per minute
//   - tokens per minute (optional, 0 disables)
//   - requests per day (optional, 0 disables)
//
// Entries older than the window are pruned before every admission check.
// A token-bucket smoother (golang.org/x/time/rate) additionally spreads
// requests inside the window so a burst does not consume the whole minute
// budget in the first second.
//
// The Registry is an explicit stateful object: construct one per process and
// inject it into every call site. Tests construct isolated instances.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrWaitExceeded is returned when capacity does not free up within the
// caller's bounded wait.
var ErrWaitExceeded = errors.New("rate limit wait exceeded")

// ErrDailyCapReached is returned when the daily request cap is exhausted.
// Waiting does not help inside a single call, so this is surfaced immediately.
var ErrDailyCapReached = errors.New("daily request cap reached")

const (
	// window is the trailing admission window.
	window = time.Minute

	// DefaultMaxWait bounds how long Acquire blocks for capacity.
	DefaultMaxWait = 30 * time.Second

	// pollInterval is how often a blocked Acquire rechecks the window.
	pollInterval = 250 * time.Millisecond
)

// Budget describes the admission budgets for one dependency.
type Budget struct {
	RequestsPerMinute int
	TokensPerMinute   int // 0 disables token accounting
	DailyCap          int // 0 disables the daily cap
	MaxWait           time.Duration
}

// entry is one admitted request inside the trailing window.
type entry struct {
	at     time.Time
	tokens int
}

// Limiter admits requests for a single dependency.
// Limiter is safe for concurrent use by multiple goroutines.
type Limiter struct {
	name   string
	budget Budget
	logger *slog.Logger

	smoother *rate.Limiter

	mu       sync.Mutex
	window   []entry
	dayStart time.Time
	dayCount int
	now      func() time.Time
}

// newLimiter creates a Limiter for one dependency.
func newLimiter(name string, b Budget, logger *slog.Logger) *Limiter {
	if b.MaxWait <= 0 {
		b.MaxWait = DefaultMaxWait
	}
	// Spread the per-minute budget as an average rate with a small burst.
	burst := b.RequestsPerMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		name:     name,
		budget:   b,
		logger:   logger,
		smoother: rate.NewLimiter(rate.Limit(float64(b.RequestsPerMinute)/60.0), burst),
		dayStart: time.Now().Truncate(24 * time.Hour),
		now:      time.Now,
	}
}

// Acquire blocks until the request (costing tokens) is admitted, the bounded
// wait elapses, or ctx is canceled. tokens may be 0 when the dependency has
// no token budget.
func (l *Limiter) Acquire(ctx context.Context, tokens int) error {
	deadline := l.now().Add(l.budget.MaxWait)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		ok, err := l.tryAdmit(tokens)
		if err != nil {
			return err
		}
		if ok {
			// Smooth the admitted request. Wait respects waitCtx's deadline.
			if err := l.smoother.Wait(waitCtx); err != nil {
				// The request never ran; give its admission back.
				l.rollback(tokens)
				if ctx.Err() != nil {
					return fmt.Errorf("rate limit %s: %w", l.name, ctx.Err())
				}
				return fmt.Errorf("rate limit %s: %w", l.name, ErrWaitExceeded)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limit %s: %w", l.name, ctx.Err())
		case <-time.After(pollInterval):
			if l.now().After(deadline) {
				l.logger.Warn("rate limit wait exceeded", "dependency", l.name, "tokens", tokens)
				return fmt.Errorf("rate limit %s: %w", l.name, ErrWaitExceeded)
			}
		}
	}
}

// tryAdmit prunes the window and admits the request if every budget allows it.
func (l *Limiter) tryAdmit(tokens int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	// Daily cap rolls over when the UTC day changes (Truncate works on
	// absolute time, not the local calendar).
	if day := now.Truncate(24 * time.Hour); day.After(l.dayStart) {
		l.dayStart = day
		l.dayCount = 0
	}
	if l.budget.DailyCap > 0 && l.dayCount >= l.budget.DailyCap {
		return false, fmt.Errorf("rate limit %s: %w", l.name, ErrDailyCapReached)
	}

	if len(l.window) >= l.budget.RequestsPerMinute {
		return false, nil
	}
	if l.budget.TokensPerMinute > 0 {
		used := 0
		for _, e := range l.window {
			used += e.tokens
		}
		if used+tokens > l.budget.TokensPerMinute {
			return false, nil
		}
	}

	l.window = append(l.window, entry{at: now, tokens: tokens})
	l.dayCount++
	return true, nil
}

// rollback removes the newest window entry carrying tokens and returns its
// daily-count slot. Called when an admitted request is abandoned before it
// runs; matching on tokens keeps the aggregate window accounting exact even
// when other goroutines admitted entries in between.
func (l *Limiter) rollback(tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.window) - 1; i >= 0; i-- {
		if l.window[i].tokens == tokens {
			l.window = append(l.window[:i], l.window[i+1:]...)
			break
		}
	}
	if l.dayCount > 0 {
		l.dayCount--
	}
}

// prune drops window entries older than the trailing window.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.window) && l.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

// Usage reports current window occupancy for observability.
func (l *Limiter) Usage() (requests, tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	for _, e := range l.window {
		tokens += e.tokens
	}
	return len(l.window), tokens
}

// Registry holds the limiters for every external dependency.
// Construct one per process with New and inject it; do not share limiters
// across unrelated processes or tests.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	logger   *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		limiters: make(map[string]*Limiter),
		logger:   logger,
	}
}

// Register creates (or replaces) the limiter for a dependency.
func (r *Registry) Register(name string, b Budget) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := newLimiter(name, b, r.logger.With("dependency", name))
	r.limiters[name] = l
	return l
}

// Get returns the limiter for a dependency. Unregistered dependencies get a
// permissive default so a missing registration degrades to logging, not a nil
// panic deep inside a pipeline.
func (r *Registry) Get(name string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[name]; ok {
		return l
	}
	r.logger.Warn("no rate limit registered, using permissive default", "dependency", name)
	l := newLimiter(name, Budget{RequestsPerMinute: 600}, r.logger.With("dependency", name))
	r.limiters[name] = l
	return l
}
