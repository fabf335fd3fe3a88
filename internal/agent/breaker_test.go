package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	failing := RuntimeFunc(func(
		context.Context, Task, ToolFunc,
	) (Result, error) {
		calls++
		return Result{}, errors.New("agent crashed")
	})
	b := NewBreaker(failing, BreakerConfig{Failures: 3, Cooldown: time.Hour})

	for range 3 {
		_, err := b.Run(context.Background(), Task{}, nil)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Run(context.Background(), Task{}, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls, "open circuit must not call the agent")
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	canceled := RuntimeFunc(func(
		ctx context.Context, _ Task, _ ToolFunc,
	) (Result, error) {
		return Result{}, context.Canceled
	})
	b := NewBreaker(canceled, BreakerConfig{Failures: 1, Cooldown: time.Hour})

	for range 3 {
		_, err := b.Run(context.Background(), Task{}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerPassesResultAndEvents(t *testing.T) {
	rt := RuntimeFunc(func(
		_ context.Context, task Task, onTool ToolFunc,
	) (Result, error) {
		onTool(ToolEvent{Tool: "query_sql", RunID: task.RunID})
		return Result{FinalAnswer: "42"}, nil
	})
	b := NewBreaker(rt, BreakerConfig{})

	var got []ToolEvent
	res, err := b.Run(context.Background(), Task{RunID: "r"},
		func(ev ToolEvent) { got = append(got, ev) })
	require.NoError(t, err)
	assert.Equal(t, "42", res.FinalAnswer)
	require.Len(t, got, 1)
	assert.Equal(t, "r", got[0].RunID)
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable.Run(context.Background(), Task{}, nil)
	assert.ErrorIs(t, err, ErrAgentUnavailable)
}
