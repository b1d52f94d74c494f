package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/chatrelay/internal/platform/version"
)

const (
	startupCheckTimeout   = 2 * time.Second
	readinessCheckTimeout = 5 * time.Second
)

// HealthCheck is a named dependency check. An optional check reports
// "degraded" when it fails but does not make the relay unready; backfill
// is the typical case, since live relaying works without it.
type HealthCheck struct {
	Name     string
	Optional bool
	Check    func(ctx context.Context) error
}

type healthReport struct {
	Status      string            `json:"status"`
	FailedCheck string            `json:"failed_check,omitempty"`
	Error       string            `json:"error,omitempty"`
	Checks      map[string]string `json:"checks"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupCheckTimeout)
	defer cancel()

	return s.writeHealthReport(c, s.runHealthChecks(ctx))
}

// handleLiveness never consults dependencies: a relay waiting out a
// reconnect backoff is still alive.
func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	}
	if s.relay != nil {
		st := s.relay.Status()
		response["upstream"] = st.State
		response["channels"] = len(st.Channels)
		response["consumers"] = st.Consumers
		response["reconnectAttempts"] = st.ReconnectAttempts
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessCheckTimeout)
	defer cancel()

	return s.writeHealthReport(c, s.runHealthChecks(ctx))
}

// runHealthChecks runs every check so the report names all failing
// dependencies, not only the first. The first required failure decides
// the overall status.
func (s *Server) runHealthChecks(ctx context.Context) healthReport {
	report := healthReport{Status: "ready", Checks: make(map[string]string, len(s.healthChecks))}
	for _, hc := range s.healthChecks {
		err := hc.Check(ctx)
		switch {
		case err == nil:
			report.Checks[hc.Name] = "ok"
		case hc.Optional:
			report.Checks[hc.Name] = "degraded: " + err.Error()
		default:
			report.Checks[hc.Name] = "failed: " + err.Error()
			if report.FailedCheck == "" {
				report.Status = "unhealthy"
				report.FailedCheck = hc.Name
				report.Error = err.Error()
			}
		}
	}
	return report
}

func (s *Server) writeHealthReport(c echo.Context, report healthReport) error {
	status := http.StatusOK
	if report.FailedCheck != "" {
		status = http.StatusServiceUnavailable
	}
	if err := c.JSON(status, report); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
