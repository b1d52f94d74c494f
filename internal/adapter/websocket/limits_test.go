package websocket

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestConnectionLimits_Global(t *testing.T) {
	l := newConnectionLimits(LimitsConfig{MaxConsumers: 2}, clockwork.NewFakeClock())

	ok, _ := l.acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.acquire("10.0.0.2")
	assert.True(t, ok)

	ok, reason := l.acquire("10.0.0.3")
	assert.False(t, ok)
	assert.Equal(t, limitGlobal, reason)

	l.release("10.0.0.1")
	ok, _ = l.acquire("10.0.0.3")
	assert.True(t, ok)
	assert.Equal(t, 2, l.active())
}

func TestConnectionLimits_PerIP(t *testing.T) {
	l := newConnectionLimits(LimitsConfig{MaxPerIP: 1}, clockwork.NewFakeClock())

	ok, _ := l.acquire("10.0.0.1")
	assert.True(t, ok)
	ok, reason := l.acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, limitPerIP, reason)

	ok, _ = l.acquire("10.0.0.2")
	assert.True(t, ok)

	l.release("10.0.0.1")
	ok, _ = l.acquire("10.0.0.1")
	assert.True(t, ok)
}

func TestConnectionLimits_RefusedDoesNotHoldSlot(t *testing.T) {
	l := newConnectionLimits(LimitsConfig{MaxConsumers: 1, MaxPerIP: 1}, clockwork.NewFakeClock())

	ok, _ := l.acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.acquire("10.0.0.1")
	assert.False(t, ok)

	assert.Equal(t, 1, l.active())
	l.release("10.0.0.1")
	assert.Equal(t, 0, l.active())
}

func TestConnectionLimits_Rate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newConnectionLimits(LimitsConfig{ConnectRate: 1, ConnectBurst: 2}, clock)

	for range 2 {
		ok, _ := l.acquire("10.0.0.1")
		assert.True(t, ok)
	}
	ok, reason := l.acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, limitRate, reason)

	// Other addresses have their own bucket.
	ok, _ = l.acquire("10.0.0.2")
	assert.True(t, ok)

	clock.Advance(time.Second)
	ok, _ = l.acquire("10.0.0.1")
	assert.True(t, ok)
}

func TestConnectionLimits_SweepsIdleRateEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newConnectionLimits(LimitsConfig{ConnectRate: 1, ConnectBurst: 1}, clock)

	l.acquire("10.0.0.1")
	l.release("10.0.0.1")

	clock.Advance(rateIdleTTL + time.Minute)
	l.acquire("10.0.0.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.rates, "10.0.0.1")
	assert.Contains(t, l.rates, "10.0.0.2")
}
