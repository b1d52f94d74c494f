package websocket

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/platform/correlation"
)

// HandlerConfig holds the consumer endpoint settings.
type HandlerConfig struct {
	MessageCap  int
	Limits      LimitsConfig
	CheckOrigin func(r *http.Request) bool
}

// Handler upgrades consumer connections and runs a Session for each.
type Handler struct {
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	limits   *connectionLimits
	relay    Relay
	backfill Backfill
	profiles Profiles
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics
}

func NewHandler(cfg HandlerConfig, r Relay, backfill Backfill, profiles Profiles, clock clockwork.Clock, m *metrics.WebSocketMetrics) *Handler {
	return &Handler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		limits:   newConnectionLimits(cfg.Limits, clock),
		relay:    r,
		backfill: backfill,
		profiles: profiles,
		clock:    clock,
		metrics:  m,
	}
}

// ActiveSessions returns the number of open consumer connections.
func (h *Handler) ActiveSessions() int {
	return h.limits.active()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if ok, reason := h.limits.acquire(ip); !ok {
		slog.Warn("Consumer connection refused", "reason", string(reason), "remote_ip", ip)
		if h.metrics != nil {
			h.metrics.Rejected.WithLabelValues(string(reason)).Inc()
		}
		if reason == limitGlobal {
			http.Error(w, "too many consumers", http.StatusServiceUnavailable)
		} else {
			http.Error(w, "too many connections", http.StatusTooManyRequests)
		}
		return
	}
	defer h.limits.release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		slog.Debug("WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}

	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
		defer h.metrics.ActiveConnections.Dec()
	}

	ctx, _ := correlation.Ensure(context.WithoutCancel(r.Context()))
	id := uuid.NewString()
	slog.DebugContext(ctx, "Consumer connected", "consumer_id", id, "remote_ip", ip)

	session := newSession(ctx, id, conn, h.clock, h.relay, h.backfill, h.profiles, h.cfg.MessageCap, h.metrics)
	session.run()

	slog.DebugContext(ctx, "Consumer disconnected", "consumer_id", id)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
