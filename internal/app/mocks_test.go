package app

import (
	"context"
	"errors"
	"sync"

	"github.com/pscheid92/chatrelay/internal/domain"
)

// --- Mock implementations ---

type mockValidator struct {
	validateFn func(ctx context.Context, accessToken string) (*domain.TokenInfo, error)
}

func (m *mockValidator) ValidateToken(ctx context.Context, accessToken string) (*domain.TokenInfo, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, accessToken)
	}
	return nil, errors.New("not implemented")
}

type mockRefresher struct {
	mu        sync.Mutex
	calls     int
	refreshFn func(ctx context.Context, refreshToken string) (string, string, error)
}

func (m *mockRefresher) RefreshToken(ctx context.Context, refreshToken string) (string, string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return "", "", errors.New("not implemented")
}

func (m *mockRefresher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockProfiles struct {
	lookupFn func(ctx context.Context, accessToken, login string) (*domain.Profile, error)
}

func (m *mockProfiles) LookupProfile(ctx context.Context, accessToken, login string) (*domain.Profile, error) {
	if m.lookupFn != nil {
		return m.lookupFn(ctx, accessToken, login)
	}
	return nil, nil
}

// mockTarget records every identity applied to the relay.
type mockTarget struct {
	mu      sync.Mutex
	applied []*domain.Identity
	err     error
}

func (m *mockTarget) SetIdentity(identity *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, identity.Clone())
	return m.err
}

func (m *mockTarget) Last() *domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.applied) == 0 {
		return nil
	}
	return m.applied[len(m.applied)-1]
}

func (m *mockTarget) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

type mockSource struct {
	fetchFn func(ctx context.Context, channel string) ([]string, error)
}

func (m *mockSource) Fetch(ctx context.Context, channel string) ([]string, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, channel)
	}
	return nil, nil
}
