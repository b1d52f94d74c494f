package websocket

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// limitReason is the metric label for a refused connection.
type limitReason string

const (
	limitGlobal limitReason = "global_limit"
	limitPerIP  limitReason = "per_ip_limit"
	limitRate   limitReason = "rate_limit"
)

const (
	rateIdleTTL     = 10 * time.Minute
	rateSweepPeriod = 5 * time.Minute
)

// LimitsConfig bounds consumer connections. A zero field disables that limit.
type LimitsConfig struct {
	MaxConsumers int
	MaxPerIP     int
	ConnectRate  float64
	ConnectBurst int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// connectionLimits admits a connection only if the per-IP connect rate, the
// global slot count and the per-IP slot count all allow it.
type connectionLimits struct {
	cfg   LimitsConfig
	clock clockwork.Clock

	mu        sync.Mutex
	total     int
	perIP     map[string]int
	rates     map[string]*rateEntry
	nextSweep time.Time
}

func newConnectionLimits(cfg LimitsConfig, clock clockwork.Clock) *connectionLimits {
	return &connectionLimits{
		cfg:       cfg,
		clock:     clock,
		perIP:     make(map[string]int),
		rates:     make(map[string]*rateEntry),
		nextSweep: clock.Now().Add(rateSweepPeriod),
	}
}

func (l *connectionLimits) acquire(ip string) (bool, limitReason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if !l.allowRate(ip, now) {
		return false, limitRate
	}
	if l.cfg.MaxConsumers > 0 && l.total >= l.cfg.MaxConsumers {
		return false, limitGlobal
	}
	if l.cfg.MaxPerIP > 0 && l.perIP[ip] >= l.cfg.MaxPerIP {
		return false, limitPerIP
	}

	l.total++
	l.perIP[ip]++
	return true, ""
}

func (l *connectionLimits) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total > 0 {
		l.total--
	}
	if n := l.perIP[ip]; n > 1 {
		l.perIP[ip] = n - 1
	} else {
		delete(l.perIP, ip)
	}
}

func (l *connectionLimits) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// allowRate must be called with mu held.
func (l *connectionLimits) allowRate(ip string, now time.Time) bool {
	if l.cfg.ConnectRate <= 0 {
		return true
	}

	if now.After(l.nextSweep) {
		cutoff := now.Add(-rateIdleTTL)
		for k, e := range l.rates {
			if e.lastSeen.Before(cutoff) {
				delete(l.rates, k)
			}
		}
		l.nextSweep = now.Add(rateSweepPeriod)
	}

	e, ok := l.rates[ip]
	if !ok {
		burst := max(l.cfg.ConnectBurst, 1)
		e = &rateEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.ConnectRate), burst)}
		l.rates[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
