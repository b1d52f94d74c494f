package redis

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func process(t *testing.T, hook *BreakerHook, result error) error {
	t.Helper()
	ctx := context.Background()
	next := hook.ProcessHook(func(context.Context, goredis.Cmder) error { return result })
	return next(ctx, goredis.NewStringCmd(ctx, "get", "key"))
}

func TestBreakerHook_StaysClosedOnSuccess(t *testing.T) {
	hook := NewBreakerHook(nil)

	for range 10 {
		require.NoError(t, process(t, hook, nil))
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestBreakerHook_CacheMissIsSuccess(t *testing.T) {
	hook := NewBreakerHook(nil)

	for range 10 {
		err := process(t, hook, goredis.Nil)
		assert.ErrorIs(t, err, goredis.Nil)
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestBreakerHook_TransientFailuresBelowThreshold(t *testing.T) {
	hook := NewBreakerHook(nil)

	for range 2 {
		err := process(t, hook, errors.New("connection refused"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestBreakerHook_OpensAfterSustainedFailures(t *testing.T) {
	m := metrics.NewBackfillMetrics(prometheus.NewRegistry())
	hook := NewBreakerHook(m)

	for range 5 {
		_ = process(t, hook, errors.New("connection refused"))
	}
	require.Equal(t, circuitbreaker.OpenState, hook.State())

	called := false
	ctx := context.Background()
	next := hook.ProcessHook(func(context.Context, goredis.Cmder) error {
		called = true
		return nil
	})
	err := next(ctx, goredis.NewStringCmd(ctx, "get", "key"))

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.False(t, called, "open breaker must not reach Redis")
	assert.InDelta(t, 2, testutil.ToFloat64(m.BreakerState.WithLabelValues(breakerName)), 0)
}

func TestBreakerHook_OpenRefusesDialAndPipeline(t *testing.T) {
	hook := NewBreakerHook(nil)
	for range 5 {
		_ = process(t, hook, errors.New("connection refused"))
	}
	require.Equal(t, circuitbreaker.OpenState, hook.State())
	ctx := context.Background()

	pipeline := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error { return nil })
	assert.ErrorIs(t, pipeline(ctx, nil), circuitbreaker.ErrOpen)

	dial := hook.DialHook(func(context.Context, string, string) (net.Conn, error) {
		t.Fatal("open breaker must not dial")
		return nil, nil
	})
	_, err := dial(ctx, "tcp", "localhost:6379")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestBreakerHook_Pipeline(t *testing.T) {
	hook := NewBreakerHook(nil)
	ctx := context.Background()

	next := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error { return nil })
	require.NoError(t, next(ctx, []goredis.Cmder{goredis.NewStatusCmd(ctx, "ping")}))

	boom := errors.New("boom")
	failing := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error { return boom })
	assert.ErrorIs(t, failing(ctx, nil), boom)
}
