package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/platform/config"
	"github.com/pscheid92/chatrelay/internal/relay"
)

// --- Mock implementations ---

type mockIdentityService struct {
	accounts   []*domain.Identity
	active     *domain.Identity
	addFn      func(ctx context.Context, accessToken, refreshToken string) (*domain.Identity, error)
	activateFn func(ctx context.Context, userID string) (*domain.Identity, error)
	removeFn   func(ctx context.Context, userID string) error
	logoutFn   func(ctx context.Context) error
}

func (m *mockIdentityService) Accounts() []*domain.Identity { return m.accounts }

func (m *mockIdentityService) Active() *domain.Identity { return m.active }

func (m *mockIdentityService) AddAccount(ctx context.Context, accessToken, refreshToken string) (*domain.Identity, error) {
	if m.addFn != nil {
		return m.addFn(ctx, accessToken, refreshToken)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIdentityService) Activate(ctx context.Context, userID string) (*domain.Identity, error) {
	if m.activateFn != nil {
		return m.activateFn(ctx, userID)
	}
	return nil, domain.ErrIdentityNotFound
}

func (m *mockIdentityService) Remove(ctx context.Context, userID string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, userID)
	}
	return nil
}

func (m *mockIdentityService) Logout(ctx context.Context) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx)
	}
	return nil
}

type mockStatusSource struct {
	status relay.Status
}

func (m *mockStatusSource) Status() relay.Status { return m.status }

// --- Test helpers ---

func newTestServer(identity identityService, opts ...func(*Options)) *Server {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if identity == nil {
		identity = &mockIdentityService{}
	}
	cfg := &config.Config{Port: "0", AppEnv: "development"}
	return NewServer(cfg, identity, &mockStatusSource{status: relay.Status{State: relay.Ready, Channels: []string{"somechan"}}}, o)
}

func withHealthChecks(checks ...HealthCheck) func(*Options) {
	return func(o *Options) {
		o.HealthChecks = checks
	}
}

func withWebsocketHandler(h http.Handler) func(*Options) {
	return func(o *Options) {
		o.WebsocketHandler = h
	}
}

func withMetricsHandler(h http.Handler) func(*Options) {
	return func(o *Options) {
		o.MetricsHandler = h
	}
}

func withHTTPMetrics(m *metrics.HTTPMetrics) func(*Options) {
	return func(o *Options) {
		o.HTTPMetrics = m
	}
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}
