package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/chatrelay/internal/domain"
	apperrors "github.com/pscheid92/chatrelay/internal/platform/errors"
)

type addAccountRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type accountResponse struct {
	UserID      string `json:"userId"`
	Login       string `json:"login"`
	DisplayName string `json:"displayName,omitempty"`
	Active      bool   `json:"active"`
}

type identityResponse struct {
	Active   *accountResponse  `json:"active"`
	Accounts []accountResponse `json:"accounts"`
}

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api")
	api.GET("/status", s.handleStatus)

	limit := identityChangeLimiter(identityChangeRate, identityChangeBurst)
	identity := api.Group("/identity")
	identity.GET("", s.handleListIdentities)
	identity.POST("", s.handleAddIdentity, limit)
	identity.POST("/logout", s.handleLogout, limit)
	identity.POST("/:user_id/activate", s.handleActivateIdentity, limit)
	identity.DELETE("/:user_id", s.handleRemoveIdentity, limit)
}

func (s *Server) handleStatus(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.relay.Status()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListIdentities(c echo.Context) error {
	return s.writeIdentities(c, http.StatusOK)
}

func (s *Server) handleAddIdentity(c echo.Context) error {
	var req addAccountRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	req.AccessToken = strings.TrimSpace(req.AccessToken)
	if req.AccessToken == "" {
		return apperrors.ValidationError("accessToken is required")
	}

	identity, err := s.identity.AddAccount(c.Request().Context(), req.AccessToken, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) || errors.Is(err, domain.ErrNotAuthenticated) || errors.Is(err, domain.ErrStopped) {
			return domainError(err)
		}
		return apperrors.ExternalError("failed to validate token", err)
	}

	if err := c.JSON(http.StatusCreated, toAccount(identity, true)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleActivateIdentity(c echo.Context) error {
	userID := c.Param("user_id")
	identity, err := s.identity.Activate(c.Request().Context(), userID)
	if err != nil {
		return domainError(err).WithField("user_id", userID)
	}

	if err := c.JSON(http.StatusOK, toAccount(identity, true)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRemoveIdentity(c echo.Context) error {
	userID := c.Param("user_id")
	if err := s.identity.Remove(c.Request().Context(), userID); err != nil {
		return domainError(err).WithField("user_id", userID)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleLogout(c echo.Context) error {
	if err := s.identity.Logout(c.Request().Context()); err != nil {
		return domainError(err)
	}
	return s.writeIdentities(c, http.StatusOK)
}

func (s *Server) writeIdentities(c echo.Context, status int) error {
	active := s.identity.Active()
	resp := identityResponse{Accounts: []accountResponse{}}

	for _, a := range s.identity.Accounts() {
		isActive := active != nil && a.UserID == active.UserID
		account := toAccount(a, isActive)
		resp.Accounts = append(resp.Accounts, account)
		if isActive {
			resp.Active = &account
		}
	}

	if err := c.JSON(status, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func toAccount(identity *domain.Identity, active bool) accountResponse {
	return accountResponse{
		UserID:      identity.UserID,
		Login:       identity.Login,
		DisplayName: identity.DisplayName,
		Active:      active,
	}
}
