package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		name     string
		state    CircuitState
		expected string
	}{
		{"Closed", StateClosed, "closed"},
		{"Open", StateOpen, "open"},
		{"Half Open", StateHalfOpen, "half_open"},
		{"Unknown", CircuitState(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(0, 0, nil)

	assert.Equal(t, DefaultFailureThreshold, b.failureThreshold)
	assert.Equal(t, DefaultResetTimeout, b.resetTimeout)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Failures())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBreaker(3, 10*time.Second, clock)

	for i := 0; i < 3; i++ {
		err := b.Call(func() error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Call(func() error {
		called = true
		return nil
	})
	assert.True(t, IsCircuitOpen(err))
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBreaker(1, 10*time.Second, clock)

	_ = b.Call(func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	clock.Advance(10 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Failures())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBreaker(2, 10*time.Second, clock)

	_ = b.Call(func() error { return errBoom })
	_ = b.Call(func() error { return errBoom })
	clock.Advance(11 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	_ = b.Call(func() error { return errBoom })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute, clockwork.NewFakeClock())

	_ = b.Call(func() error { return errBoom })
	_ = b.Call(func() error { return errBoom })
	assert.Equal(t, 2, b.Failures())

	require.NoError(t, b.Call(func() error { return nil }))
	assert.Zero(t, b.Failures())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CancellationNotCounted(t *testing.T) {
	b := NewBreaker(1, time.Minute, clockwork.NewFakeClock())

	err := b.Call(func() error { return fmt.Errorf("fetch: %w", context.Canceled) })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Failures())
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(1, time.Minute, clockwork.NewFakeClock())
	_ = b.Call(func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Failures())
}

func TestBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBreaker(1, 10*time.Second, clock)

	require.ErrorIs(t, b.Call(func() error { return errBoom }), errBoom)
	clock.Advance(10 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	started := make(chan struct{})
	finish := make(chan struct{})
	trialErr := make(chan error, 1)
	go func() {
		trialErr <- b.Call(func() error {
			close(started)
			<-finish
			return nil
		})
	}()
	<-started

	called := false
	err := b.Call(func() error {
		called = true
		return nil
	})
	assert.True(t, IsCircuitOpen(err))
	assert.False(t, called)

	close(finish)
	require.NoError(t, <-trialErr)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Call(func() error { return nil }))
}
