package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrecall/devrecall/internal/log"
)

func fastOpts() Options {
	return Options{
		Concurrency:     2,
		ItemTimeout:     time.Second,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRunPreservesOrder(t *testing.T) {
	p := New[int](fastOpts(), log.NewNop())

	items := []int{1, 2, 3, 4, 5}
	report := p.Run(context.Background(), items, func(ctx context.Context, n int) error {
		return nil
	})

	require.Len(t, report.Outcomes, 5)
	assert.Equal(t, 5, report.Succeeded)
	assert.Zero(t, report.Failed)
	for i, o := range report.Outcomes {
		assert.Equal(t, items[i], o.Item)
		assert.NoError(t, o.Err)
		assert.Equal(t, 1, o.Attempts)
	}
}

func TestRunItemFailureDoesNotAbortBatch(t *testing.T) {
	p := New[string](fastOpts(), log.NewNop())

	report := p.Run(context.Background(), []string{"ok", "bad", "ok2"}, func(ctx context.Context, s string) error {
		if s == "bad" {
			return Permanent(errors.New("broken item"))
		}
		return nil
	})

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Error(t, report.Outcomes[1].Err)
	assert.NoError(t, report.Outcomes[0].Err)
	assert.NoError(t, report.Outcomes[2].Err)
}

func TestRunRetriesTransientErrors(t *testing.T) {
	p := New[int](fastOpts(), log.NewNop())

	var mu sync.Mutex
	calls := 0
	report := p.Run(context.Background(), []int{1}, func(ctx context.Context, n int) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 3, report.Outcomes[0].Attempts)
}

func TestRunPermanentErrorSkipsRetries(t *testing.T) {
	p := New[int](fastOpts(), log.NewNop())

	report := p.Run(context.Background(), []int{1}, func(ctx context.Context, n int) error {
		return Permanent(errors.New("malformed document"))
	})

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Outcomes[0].Attempts)
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	p := New[int](fastOpts(), log.NewNop())

	report := p.Run(context.Background(), []int{1}, func(ctx context.Context, n int) error {
		return errors.New("always failing")
	})

	assert.Equal(t, 1, report.Failed)
	// First attempt plus MaxRetries retries.
	assert.Equal(t, 3, report.Outcomes[0].Attempts)
}

func TestRunConcurrencyBound(t *testing.T) {
	opts := fastOpts()
	opts.Concurrency = 2
	p := New[int](opts, log.NewNop())

	var mu sync.Mutex
	active, peak := 0, 0
	p.Run(context.Background(), []int{1, 2, 3, 4, 5, 6}, func(ctx context.Context, n int) error {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return nil
	})

	assert.LessOrEqual(t, peak, 2)
	assert.GreaterOrEqual(t, peak, 1)
}

func TestRunEmptyBatch(t *testing.T) {
	p := New[int](fastOpts(), log.NewNop())
	report := p.Run(context.Background(), nil, func(ctx context.Context, n int) error {
		return nil
	})
	assert.Empty(t, report.Outcomes)
	assert.Zero(t, report.Succeeded)
}
