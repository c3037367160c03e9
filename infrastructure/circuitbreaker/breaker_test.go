package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream 503")

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "vcs", FailureThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	require.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateClosed, b.State())
	require.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []State
	b := New(Config{
		Name:             "vcs",
		FailureThreshold: 1,
		OpenTimeout:      time.Minute,
		OnStateChange:    func(_ string, _, to State) { transitions = append(transitions, to) },
	})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	require.ErrorIs(t, b.Execute(ctx, succeed), ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Execute(ctx, succeed))

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := New(Config{Name: "vcs", FailureThreshold: 3, OpenTimeout: time.Second})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	for range 3 {
		_ = b.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Second)
	require.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "vcs", FailureThreshold: 1})
	_ = b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.Equal(t, StateClosed, b.State())
}
