package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/platform/config"
	"github.com/pscheid92/chatrelay/internal/relay"
)

type identityService interface {
	Accounts() []*domain.Identity
	Active() *domain.Identity
	AddAccount(ctx context.Context, accessToken, refreshToken string) (*domain.Identity, error)
	Activate(ctx context.Context, userID string) (*domain.Identity, error)
	Remove(ctx context.Context, userID string) error
	Logout(ctx context.Context) error
}

type statusSource interface {
	Status() relay.Status
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	identity identityService
	relay    statusSource

	websocketHandler http.Handler
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

// Options carries the handlers and collaborators served next to the API.
// Nil handlers leave their route unregistered.
type Options struct {
	WebsocketHandler http.Handler
	MetricsHandler   http.Handler
	HTTPMetrics      *metrics.HTTPMetrics
	HealthChecks     []HealthCheck
}

func NewServer(cfg *config.Config, identity identityService, relay statusSource, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		identity:         identity,
		relay:            relay,
		websocketHandler: opts.WebsocketHandler,
		metricsHandler:   opts.MetricsHandler,
		httpMetrics:      opts.HTTPMetrics,
		healthChecks:     opts.HealthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
