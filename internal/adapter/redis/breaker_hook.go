package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const breakerName = "redis"

// BreakerHook stops sending commands to Redis while it keeps failing. A cache
// miss (redis.Nil) counts as success. Callers see circuitbreaker.ErrOpen and
// fall back to the backfill source.
type BreakerHook struct {
	cb circuitbreaker.CircuitBreaker[any]
}

var _ goredis.Hook = (*BreakerHook)(nil)

// NewBreakerHook trips at a 60% failure rate over at least 5 requests in a
// 10s window and half-opens after 30s to let one trial call through.
func NewBreakerHook(m *metrics.BackfillMetrics) *BreakerHook {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed", "component", breakerName, "from", e.OldState.String(), "to", e.NewState.String())
			if m != nil {
				m.BreakerState.WithLabelValues(breakerName).Set(stateToFloat(e.NewState))
			}
		}).
		Build()
	return &BreakerHook{cb: cb}
}

func (h *BreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !h.cb.TryAcquirePermit() {
			return nil, fmt.Errorf("redis dial refused: %w", circuitbreaker.ErrOpen)
		}
		conn, err := next(ctx, network, addr)
		h.record(err)
		return conn, err
	}
}

func (h *BreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis %s refused: %w", cmd.Name(), circuitbreaker.ErrOpen)
		}
		err := next(ctx, cmd)
		h.record(err)
		return err
	}
}

func (h *BreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis pipeline refused: %w", circuitbreaker.ErrOpen)
		}
		err := next(ctx, cmds)
		h.record(err)
		return err
	}
}

func (h *BreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}

func (h *BreakerHook) record(err error) {
	if err == nil || errors.Is(err, goredis.Nil) {
		h.cb.RecordSuccess()
		return
	}
	h.cb.RecordError(err)
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}
