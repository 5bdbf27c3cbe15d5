package rerank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	assert.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
	assert.Equal(t, 3, b.Failures())
}

func TestBreakerHalfOpenAfterResetWindow(t *testing.T) {
	b := NewBreaker(1, time.Minute)

	now := time.Now()
	b.now = func() time.Time { return now }
	b.RecordFailure()
	assert.False(t, b.Allow())

	// Reset window elapses: the next call is a live trial.
	b.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.Equal(t, StateHalfOpen, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerTrialSuccessCloses(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	b.RecordFailure()
	b.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.True(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	b.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.False(t, b.Allow())
	assert.Equal(t, StateOpen, b.State())
}
