package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls   atomic.Int32
	release chan struct{}
	lines   []string
	err     error
}

func (f *fakeSource) Fetch(ctx context.Context, channel string) ([]string, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.lines, f.err
}

func newMetrics() *metrics.BackfillMetrics {
	return metrics.NewBackfillMetrics(prometheus.NewRegistry())
}

func TestBackfillCache_PassThroughWithoutRedis(t *testing.T) {
	src := &fakeSource{lines: []string{"a", "b"}}
	cache := NewBackfillCache(nil, src, 0, newMetrics())

	for range 2 {
		lines, err := cache.Fetch(context.Background(), "#Chan")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, lines)
	}
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestBackfillCache_PropagatesError(t *testing.T) {
	boom := errors.New("upstream down")
	cache := NewBackfillCache(nil, &fakeSource{err: boom}, 0, newMetrics())

	_, err := cache.Fetch(context.Background(), "chan")

	assert.ErrorIs(t, err, boom)
}

func TestBackfillCache_InvalidChannel(t *testing.T) {
	src := &fakeSource{}
	cache := NewBackfillCache(nil, src, 0, newMetrics())

	_, err := cache.Fetch(context.Background(), "#")

	assert.ErrorIs(t, err, domain.ErrInvalidChannel)
	assert.Zero(t, src.calls.Load())
}

func TestBackfillCache_CoalescesConcurrentMisses(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		src := &fakeSource{lines: []string{"x"}, release: make(chan struct{})}
		cache := NewBackfillCache(nil, src, 0, newMetrics())

		var wg sync.WaitGroup
		results := make([][]string, 3)
		for i := range results {
			wg.Go(func() {
				lines, err := cache.Fetch(context.Background(), "chan")
				assert.NoError(t, err)
				results[i] = lines
			})
		}

		synctest.Wait()
		close(src.release)
		wg.Wait()

		assert.Equal(t, int32(1), src.calls.Load())
		for _, lines := range results {
			assert.Equal(t, []string{"x"}, lines)
		}
	})
}

func TestBackfillCache_CallerCancellationDoesNotAbortFlight(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		src := &fakeSource{lines: []string{"x"}, release: make(chan struct{})}
		cache := NewBackfillCache(nil, src, 0, newMetrics())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := cache.Fetch(ctx, "chan")
			done <- err
		}()

		synctest.Wait()
		cancel()
		close(src.release)

		assert.NoError(t, <-done)
	})
}
