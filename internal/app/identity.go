package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	refreshTimeout = 15 * time.Second

	// All refreshes share one flight; only one is ever in progress.
	refreshKey = "refresh"
)

// refreshResult tags a flight's outcome with the account it refreshed, so
// a caller that joined a flight for another account can start its own.
type refreshResult struct {
	userID   string
	identity *domain.Identity
}

// identityTarget receives the identity the upstream connection should use.
type identityTarget interface {
	SetIdentity(identity *domain.Identity) error
}

// IdentityManager owns the account book and decides which identity the
// relay runs as. At most one token refresh runs at a time and concurrent
// callers share it. A token that fails right after being refreshed is not
// refreshed again; the manager falls back to anonymous instead.
type IdentityManager struct {
	mu        sync.Mutex
	book      accountBook
	refreshed map[string]string // user id -> access token issued by the last refresh

	validator domain.TokenValidator
	refresher domain.TokenRefresher
	profiles  domain.ProfileLookup
	target    identityTarget
	group     singleflight.Group
	metrics   *metrics.IdentityMetrics
}

// NewIdentityManager wires the manager. validator, refresher and profiles may
// be nil when no Twitch application is configured; adding accounts and
// profile lookups are then unavailable.
func NewIdentityManager(target identityTarget, validator domain.TokenValidator, refresher domain.TokenRefresher, profiles domain.ProfileLookup, m *metrics.IdentityMetrics) *IdentityManager {
	return &IdentityManager{
		refreshed: make(map[string]string),
		validator: validator,
		refresher: refresher,
		profiles:  profiles,
		target:    target,
		metrics:   m,
	}
}

// AddAccount validates accessToken, stores the account and makes it active.
func (m *IdentityManager) AddAccount(ctx context.Context, accessToken, refreshToken string) (*domain.Identity, error) {
	if m.validator == nil {
		return nil, domain.ErrNotAuthenticated
	}
	if accessToken == "" {
		return nil, domain.ErrInvalidToken
	}

	info, err := m.validator.ValidateToken(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}

	identity := &domain.Identity{
		UserID:       info.UserID,
		Login:        info.Login,
		DisplayName:  info.Login,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if p := m.lookupOwnProfile(ctx, identity); p != nil {
		identity.DisplayName = p.DisplayName
	}

	m.mu.Lock()
	m.book.upsert(identity)
	m.book.activeID = identity.UserID
	delete(m.refreshed, identity.UserID)
	m.mu.Unlock()

	slog.InfoContext(ctx, "Account added", "login", identity.Login, "user_id", identity.UserID)
	if err := m.apply(identity); err != nil {
		return nil, err
	}
	return identity.Clone(), nil
}

// Bootstrap adds the configured account at startup, refreshing once when
// the access token is already expired.
func (m *IdentityManager) Bootstrap(ctx context.Context, accessToken, refreshToken string) (*domain.Identity, error) {
	identity, err := m.AddAccount(ctx, accessToken, refreshToken)
	if err == nil || !errors.Is(err, domain.ErrInvalidToken) || refreshToken == "" || m.refresher == nil {
		return identity, err
	}

	slog.InfoContext(ctx, "Configured access token rejected, refreshing")
	access, newRefresh, rerr := m.refresher.RefreshToken(ctx, refreshToken)
	if rerr != nil {
		m.metrics.Refreshes.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("failed to refresh configured token: %w", rerr)
	}
	m.metrics.Refreshes.WithLabelValues("success").Inc()
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	return m.AddAccount(ctx, access, newRefresh)
}

// Activate switches to a known account.
func (m *IdentityManager) Activate(ctx context.Context, userID string) (*domain.Identity, error) {
	m.mu.Lock()
	identity := m.book.get(userID)
	if identity == nil {
		m.mu.Unlock()
		return nil, domain.ErrIdentityNotFound
	}
	m.book.activeID = userID
	m.mu.Unlock()

	slog.InfoContext(ctx, "Account activated", "login", identity.Login, "user_id", userID)
	if err := m.apply(identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// Remove forgets an account. Removing the active account switches the relay
// to anonymous mode.
func (m *IdentityManager) Remove(ctx context.Context, userID string) error {
	m.mu.Lock()
	found, wasActive := m.book.remove(userID)
	delete(m.refreshed, userID)
	m.mu.Unlock()

	if !found {
		return domain.ErrIdentityNotFound
	}
	slog.InfoContext(ctx, "Account removed", "user_id", userID, "was_active", wasActive)
	if wasActive {
		return m.apply(nil)
	}
	return nil
}

// Logout deactivates the current account but keeps it in the book.
func (m *IdentityManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	wasActive := m.book.activeID != ""
	m.book.activeID = ""
	m.mu.Unlock()

	if !wasActive {
		return nil
	}
	slog.InfoContext(ctx, "Logged out, continuing anonymously")
	return m.apply(nil)
}

func (m *IdentityManager) Active() *domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.active()
}

func (m *IdentityManager) Accounts() []*domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.list()
}

// HandleAuthRejected reacts to the gateway refusing rejected's credentials:
// refresh once and reconnect with the new token, or clear the identity.
func (m *IdentityManager) HandleAuthRejected(rejected *domain.Identity) {
	if rejected == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if _, err := m.refresh(ctx, rejected); err != nil {
		slog.WarnContext(ctx, "Credentials rejected and could not be refreshed", "login", rejected.Login, "error", err)
	}
}

// Profile looks up login on behalf of the active account. Anonymous callers
// get (nil, nil). A rejected token is refreshed once and the lookup retried.
func (m *IdentityManager) Profile(ctx context.Context, login string) (*domain.Profile, error) {
	active := m.Active()
	if active == nil || m.profiles == nil {
		return nil, nil
	}

	profile, err := m.profiles.LookupProfile(ctx, active.AccessToken, login)
	if !errors.Is(err, domain.ErrInvalidToken) {
		return profile, err
	}

	refreshed, rerr := m.refresh(ctx, active)
	if rerr != nil {
		return nil, rerr
	}
	return m.profiles.LookupProfile(ctx, refreshed.AccessToken, login)
}

// refresh returns a working identity for rejected's account. The refresh
// runs detached from ctx: a caller that goes away stops waiting but neither
// aborts the refresh nor counts as a failed one.
func (m *IdentityManager) refresh(ctx context.Context, rejected *domain.Identity) (*domain.Identity, error) {
	for {
		ch := m.group.DoChan(refreshKey, func() (any, error) {
			flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
			defer cancel()
			identity, err := m.doRefresh(flightCtx, rejected)
			return refreshResult{userID: rejected.UserID, identity: identity}, err
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		result := res.Val.(refreshResult)
		if result.userID != rejected.UserID {
			// Joined another account's refresh; run ours next.
			continue
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return result.identity.Clone(), nil
	}
}

func (m *IdentityManager) doRefresh(ctx context.Context, rejected *domain.Identity) (*domain.Identity, error) {
	m.mu.Lock()
	current := m.book.get(rejected.UserID)
	justRefreshed := m.refreshed[rejected.UserID] == rejected.AccessToken
	m.mu.Unlock()

	if current == nil {
		return nil, domain.ErrIdentityNotFound
	}
	// Another caller already replaced the rejected token.
	if current.AccessToken != rejected.AccessToken {
		return current, nil
	}
	if justRefreshed || m.refresher == nil || current.RefreshToken == "" {
		m.metrics.Refreshes.WithLabelValues("skipped").Inc()
		m.dropActive(ctx, current)
		return nil, domain.ErrRefreshFailed
	}

	access, newRefresh, err := m.refresher.RefreshToken(ctx, current.RefreshToken)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The token endpoint never answered; the account keeps its token.
		m.metrics.Refreshes.WithLabelValues("aborted").Inc()
		return nil, fmt.Errorf("token refresh aborted: %w", err)
	}
	if err != nil {
		m.metrics.Refreshes.WithLabelValues("failure").Inc()
		m.dropActive(ctx, current)
		return nil, fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err)
	}
	m.metrics.Refreshes.WithLabelValues("success").Inc()

	updated := current.Clone()
	updated.AccessToken = access
	if newRefresh != "" {
		updated.RefreshToken = newRefresh
	}

	m.mu.Lock()
	m.book.upsert(updated)
	m.refreshed[updated.UserID] = access
	isActive := m.book.activeID == updated.UserID
	m.mu.Unlock()

	slog.InfoContext(ctx, "Access token refreshed", "login", updated.Login)
	if isActive {
		if err := m.apply(updated); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// dropActive deactivates an account whose token cannot be renewed. The
// relay continues anonymously.
func (m *IdentityManager) dropActive(ctx context.Context, identity *domain.Identity) {
	m.mu.Lock()
	wasActive := m.book.activeID == identity.UserID
	if wasActive {
		m.book.activeID = ""
	}
	m.mu.Unlock()

	if wasActive {
		slog.WarnContext(ctx, "Dropping rejected identity, continuing anonymously", "login", identity.Login)
		if err := m.apply(nil); err != nil {
			slog.ErrorContext(ctx, "Failed to switch to anonymous mode", "error", err)
		}
	}
}

func (m *IdentityManager) apply(identity *domain.Identity) error {
	m.metrics.Switches.Inc()
	if err := m.target.SetIdentity(identity); err != nil {
		return fmt.Errorf("failed to apply identity: %w", err)
	}
	return nil
}

func (m *IdentityManager) lookupOwnProfile(ctx context.Context, identity *domain.Identity) *domain.Profile {
	if m.profiles == nil {
		return nil
	}
	p, err := m.profiles.LookupProfile(ctx, identity.AccessToken, identity.Login)
	if err != nil {
		slog.DebugContext(ctx, "Own profile lookup failed", "login", identity.Login, "error", err)
		return nil
	}
	return p
}
