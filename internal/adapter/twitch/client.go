package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/platform/retry"
	"github.com/pscheid92/chatrelay/internal/platform/version"
)

const (
	requestTimeout        = 10 * time.Second
	retryInitialBackoff   = 500 * time.Millisecond
	retryRateLimitBackoff = 5 * time.Second
	retryMaxAttempts      = 3
)

// Client talks to the Helix API and the OAuth endpoints. The underlying
// helix client carries one user token at a time, so calls are serialized.
type Client struct {
	mu     sync.Mutex
	client *helix.Client
	policy retry.Policy
}

type Option func(*helix.Options)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(hc helix.HTTPClient) Option {
	return func(o *helix.Options) { o.HTTPClient = hc }
}

func NewClient(clientID, clientSecret string, opts ...Option) (*Client, error) {
	options := &helix.Options{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		UserAgent:    version.UserAgent(),
		HTTPClient:   &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(options)
	}

	client, err := helix.NewClient(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}

	c := &Client{
		client: client,
		policy: retry.Policy{
			MaxAttempts:      retryMaxAttempts,
			InitialBackoff:   retryInitialBackoff,
			RateLimitBackoff: retryRateLimitBackoff,
		},
	}
	return c, nil
}

// ValidateToken returns the account behind accessToken, or
// domain.ErrInvalidToken when Twitch rejects it.
func (c *Client) ValidateToken(ctx context.Context, accessToken string) (*domain.TokenInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	accessToken = strings.TrimPrefix(accessToken, "oauth:")

	c.mu.Lock()
	valid, resp, err := c.client.ValidateToken(accessToken)
	c.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	if !valid || resp == nil {
		return nil, domain.ErrInvalidToken
	}

	info := &domain.TokenInfo{
		UserID: resp.Data.UserID,
		Login:  resp.Data.Login,
		Scopes: resp.Data.Scopes,
	}
	return info, nil
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (string, string, error) {
	if refreshToken == "" {
		return "", "", fmt.Errorf("%w: no refresh token", domain.ErrRefreshFailed)
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	c.mu.Lock()
	resp, err := c.client.RefreshUserAccessToken(refreshToken)
	c.mu.Unlock()

	if err != nil {
		return "", "", fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err)
	}
	if resp.StatusCode != http.StatusOK || resp.Data.AccessToken == "" {
		return "", "", fmt.Errorf("%w: status %d: %s", domain.ErrRefreshFailed, resp.StatusCode, resp.ErrorMessage)
	}

	return resp.Data.AccessToken, resp.Data.RefreshToken, nil
}

// LookupProfile fetches public user data by login. Transient Helix failures
// are retried; a rejected token is reported as domain.ErrInvalidToken.
func (c *Client) LookupProfile(ctx context.Context, accessToken, login string) (*domain.Profile, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return nil, nil
	}

	user, err := retry.Do(ctx, c.policy, classifyHelixError, func() (*helix.User, error) {
		return c.getUser(accessToken, login)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to look up profile %q: %w", login, err)
	}
	if user == nil {
		return nil, nil
	}

	profile := &domain.Profile{
		UserID:          user.ID,
		Login:           user.Login,
		DisplayName:     user.DisplayName,
		ProfileImageURL: user.ProfileImageURL,
		CreatedAt:       user.CreatedAt.Time,
	}
	return profile, nil
}

func (c *Client) getUser(accessToken, login string) (*helix.User, error) {
	c.mu.Lock()
	c.client.SetUserAccessToken(strings.TrimPrefix(accessToken, "oauth:"))
	resp, err := c.client.GetUsers(&helix.UsersParams{Logins: []string{login}})
	c.client.SetUserAccessToken("")
	c.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, domain.ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: resp.ErrorMessage}
	}

	if len(resp.Data.Users) == 0 {
		return nil, nil
	}
	return &resp.Data.Users[0], nil
}

// StatusError is an unexpected Helix response status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix returned status %d: %s", e.StatusCode, e.Message)
}

func classifyHelixError(err error) retry.Action {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		if errors.Is(err, domain.ErrInvalidToken) {
			return retry.Stop
		}
		return retry.Retry
	}

	switch {
	case statusErr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case statusErr.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}
