package domain

import "context"

// TokenInfo is what the platform reports about a validated access token.
type TokenInfo struct {
	UserID string
	Login  string
	Scopes []string
}

// TokenValidator checks an access token against the platform.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string) (*TokenInfo, error)
}

// TokenRefresher exchanges a refresh token for a new token pair.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, err error)
}
