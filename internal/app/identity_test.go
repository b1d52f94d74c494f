package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validatorFor(tokens map[string]domain.TokenInfo) *mockValidator {
	return &mockValidator{validateFn: func(_ context.Context, tok string) (*domain.TokenInfo, error) {
		info, ok := tokens[tok]
		if !ok {
			return nil, domain.ErrInvalidToken
		}
		return &info, nil
	}}
}

func newTestManager(t *testing.T, v *mockValidator, r *mockRefresher, p *mockProfiles) (*IdentityManager, *mockTarget, *metrics.IdentityMetrics) {
	t.Helper()
	target := &mockTarget{}
	m := metrics.NewIdentityMetrics(prometheus.NewRegistry())

	var (
		validator domain.TokenValidator
		refresher domain.TokenRefresher
		profiles  domain.ProfileLookup
	)
	if v != nil {
		validator = v
	}
	if r != nil {
		refresher = r
	}
	if p != nil {
		profiles = p
	}
	return NewIdentityManager(target, validator, refresher, profiles, m), target, m
}

var (
	aliceInfo = domain.TokenInfo{UserID: "1", Login: "alice"}
	bobInfo   = domain.TokenInfo{UserID: "2", Login: "bob"}
)

func TestAddAccount_ActivatesAndApplies(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	p := &mockProfiles{lookupFn: func(_ context.Context, _, login string) (*domain.Profile, error) {
		return &domain.Profile{Login: login, DisplayName: "Alice"}, nil
	}}
	mgr, target, _ := newTestManager(t, v, nil, p)

	identity, err := mgr.AddAccount(context.Background(), "a1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "1", identity.UserID)
	assert.Equal(t, "alice", identity.Login)
	assert.Equal(t, "Alice", identity.DisplayName)

	require.NotNil(t, target.Last())
	assert.Equal(t, "a1", target.Last().AccessToken)
	assert.Equal(t, "1", mgr.Active().UserID)
}

func TestAddAccount_InvalidToken(t *testing.T) {
	mgr, target, _ := newTestManager(t, validatorFor(nil), nil, nil)

	_, err := mgr.AddAccount(context.Background(), "bad", "")
	require.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.Nil(t, mgr.Active())
	assert.Zero(t, target.Count())
}

func TestAddAccount_WithoutValidator(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil, nil, nil)

	_, err := mgr.AddAccount(context.Background(), "a1", "")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestAddAccount_UpsertKeepsOrder(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo, "a2": aliceInfo, "b1": bobInfo})
	mgr, _, _ := newTestManager(t, v, nil, nil)
	ctx := context.Background()

	_, err := mgr.AddAccount(ctx, "a1", "")
	require.NoError(t, err)
	_, err = mgr.AddAccount(ctx, "b1", "")
	require.NoError(t, err)
	_, err = mgr.AddAccount(ctx, "a2", "")
	require.NoError(t, err)

	accounts := mgr.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Login)
	assert.Equal(t, "a2", accounts[0].AccessToken)
	assert.Equal(t, "bob", accounts[1].Login)
	assert.Equal(t, "1", mgr.Active().UserID)
}

func TestActivate(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo, "b1": bobInfo})
	mgr, target, m := newTestManager(t, v, nil, nil)
	ctx := context.Background()

	_, _ = mgr.AddAccount(ctx, "a1", "")
	_, _ = mgr.AddAccount(ctx, "b1", "")

	identity, err := mgr.Activate(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Login)
	assert.Equal(t, "a1", target.Last().AccessToken)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Switches))

	_, err = mgr.Activate(ctx, "404")
	assert.ErrorIs(t, err, domain.ErrIdentityNotFound)
}

func TestRemove_ActiveFallsBackToAnonymous(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo, "b1": bobInfo})
	mgr, target, _ := newTestManager(t, v, nil, nil)
	ctx := context.Background()

	_, _ = mgr.AddAccount(ctx, "a1", "")
	_, _ = mgr.AddAccount(ctx, "b1", "")
	applied := target.Count()

	// Removing an inactive account does not touch the relay.
	require.NoError(t, mgr.Remove(ctx, "1"))
	assert.Equal(t, applied, target.Count())

	require.NoError(t, mgr.Remove(ctx, "2"))
	assert.Nil(t, target.Last())
	assert.Nil(t, mgr.Active())
	assert.Empty(t, mgr.Accounts())

	assert.ErrorIs(t, mgr.Remove(ctx, "2"), domain.ErrIdentityNotFound)
}

func TestLogout_KeepsAccount(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	mgr, target, _ := newTestManager(t, v, nil, nil)
	ctx := context.Background()

	_, _ = mgr.AddAccount(ctx, "a1", "")
	require.NoError(t, mgr.Logout(ctx))

	assert.Nil(t, mgr.Active())
	assert.Nil(t, target.Last())
	assert.Len(t, mgr.Accounts(), 1)

	// Logging out twice is a no-op.
	count := target.Count()
	require.NoError(t, mgr.Logout(ctx))
	assert.Equal(t, count, target.Count())
}

func TestApply_PropagatesRelayError(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	mgr, target, _ := newTestManager(t, v, nil, nil)
	target.err = domain.ErrStopped

	_, err := mgr.AddAccount(context.Background(), "a1", "")
	assert.ErrorIs(t, err, domain.ErrStopped)
}

func TestHandleAuthRejected_RefreshesAndReconnects(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	r := &mockRefresher{refreshFn: func(_ context.Context, refresh string) (string, string, error) {
		assert.Equal(t, "r1", refresh)
		return "a2", "r2", nil
	}}
	mgr, target, m := newTestManager(t, v, r, nil)

	rejected, err := mgr.AddAccount(context.Background(), "a1", "r1")
	require.NoError(t, err)

	mgr.HandleAuthRejected(rejected)

	assert.Equal(t, 1, r.Calls())
	assert.Equal(t, "a2", target.Last().AccessToken)
	assert.Equal(t, "a2", mgr.Active().AccessToken)
	assert.Equal(t, "r2", mgr.Active().RefreshToken)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("success")))
}

func TestHandleAuthRejected_RefreshedTokenRejectedAgain(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	r := &mockRefresher{refreshFn: func(context.Context, string) (string, string, error) {
		return "a2", "r2", nil
	}}
	mgr, target, m := newTestManager(t, v, r, nil)

	rejected, _ := mgr.AddAccount(context.Background(), "a1", "r1")
	mgr.HandleAuthRejected(rejected)

	// The gateway refuses the freshly issued token as well.
	mgr.HandleAuthRejected(mgr.Active())

	assert.Equal(t, 1, r.Calls())
	assert.Nil(t, mgr.Active())
	assert.Nil(t, target.Last())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("skipped")))
}

func TestHandleAuthRejected_RefreshFailure(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	r := &mockRefresher{refreshFn: func(context.Context, string) (string, string, error) {
		return "", "", errors.New("invalid refresh token")
	}}
	mgr, target, m := newTestManager(t, v, r, nil)

	rejected, _ := mgr.AddAccount(context.Background(), "a1", "r1")
	mgr.HandleAuthRejected(rejected)

	assert.Nil(t, mgr.Active())
	assert.Nil(t, target.Last())
	assert.Len(t, mgr.Accounts(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("failure")))
}

func TestHandleAuthRejected_NoRefreshToken(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	r := &mockRefresher{}
	mgr, target, _ := newTestManager(t, v, r, nil)

	rejected, _ := mgr.AddAccount(context.Background(), "a1", "")
	mgr.HandleAuthRejected(rejected)

	assert.Zero(t, r.Calls())
	assert.Nil(t, target.Last())
}

func TestHandleAuthRejected_StaleRejectionIgnored(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo, "a3": aliceInfo})
	r := &mockRefresher{}
	mgr, target, _ := newTestManager(t, v, r, nil)
	ctx := context.Background()

	stale, _ := mgr.AddAccount(ctx, "a1", "r1")
	_, _ = mgr.AddAccount(ctx, "a3", "r3")
	count := target.Count()

	mgr.HandleAuthRejected(stale)

	assert.Zero(t, r.Calls())
	assert.Equal(t, count, target.Count())
	assert.Equal(t, "a3", mgr.Active().AccessToken)
}

func TestHandleAuthRejected_ConcurrentCallsShareRefresh(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	release := make(chan struct{})
	r := &mockRefresher{refreshFn: func(context.Context, string) (string, string, error) {
		<-release
		return "a2", "r2", nil
	}}
	mgr, _, _ := newTestManager(t, v, r, nil)

	rejected, _ := mgr.AddAccount(context.Background(), "a1", "r1")

	var wg sync.WaitGroup
	for range 3 {
		wg.Go(func() { mgr.HandleAuthRejected(rejected) })
	}
	close(release)
	wg.Wait()

	// Late arrivals see the replaced token and skip the refresh.
	assert.Equal(t, 1, r.Calls())
	assert.Equal(t, "a2", mgr.Active().AccessToken)
}

func TestHandleAuthRejected_AbortedRefreshKeepsAccount(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	r := &mockRefresher{refreshFn: func(context.Context, string) (string, string, error) {
		return "", "", context.DeadlineExceeded
	}}
	mgr, target, m := newTestManager(t, v, r, nil)

	rejected, _ := mgr.AddAccount(context.Background(), "a1", "r1")
	count := target.Count()

	mgr.HandleAuthRejected(rejected)

	require.NotNil(t, mgr.Active())
	assert.Equal(t, "a1", mgr.Active().AccessToken)
	assert.Equal(t, count, target.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("aborted")))
	assert.Zero(t, testutil.ToFloat64(m.Refreshes.WithLabelValues("failure")))
}

func TestHandleAuthRejected_OneRefreshAtATimeAcrossAccounts(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo, "b1": bobInfo})
	var (
		mu          sync.Mutex
		inFlight    int
		maxInFlight int
	)
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	r := &mockRefresher{refreshFn: func(_ context.Context, refresh string) (string, string, error) {
		mu.Lock()
		inFlight++
		maxInFlight = max(maxInFlight, inFlight)
		mu.Unlock()
		started <- struct{}{}
		<-release
		mu.Lock()
		inFlight--
		mu.Unlock()
		return "new-" + refresh, "", nil
	}}
	mgr, _, _ := newTestManager(t, v, r, nil)
	ctx := context.Background()

	alice, _ := mgr.AddAccount(ctx, "a1", "ra")
	bob, _ := mgr.AddAccount(ctx, "b1", "rb")

	var wg sync.WaitGroup
	wg.Go(func() { mgr.HandleAuthRejected(alice) })
	<-started
	wg.Go(func() { mgr.HandleAuthRejected(bob) })
	close(release)
	wg.Wait()

	assert.Equal(t, 2, r.Calls())
	assert.Equal(t, 1, maxInFlight)

	tokens := map[string]string{}
	for _, acc := range mgr.Accounts() {
		tokens[acc.Login] = acc.AccessToken
	}
	assert.Equal(t, map[string]string{"alice": "new-ra", "bob": "new-rb"}, tokens)
}

func TestProfile_Anonymous(t *testing.T) {
	p := &mockProfiles{lookupFn: func(context.Context, string, string) (*domain.Profile, error) {
		t.Fatal("lookup must not run without an identity")
		return nil, nil
	}}
	mgr, _, _ := newTestManager(t, nil, nil, p)

	profile, err := mgr.Profile(context.Background(), "someone")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestProfile_RetriesAfterRefresh(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	r := &mockRefresher{refreshFn: func(context.Context, string) (string, string, error) {
		return "a2", "", nil
	}}
	var tokens []string
	p := &mockProfiles{lookupFn: func(_ context.Context, tok, login string) (*domain.Profile, error) {
		tokens = append(tokens, tok)
		if tok == "a1" && login == "streamer" {
			return nil, domain.ErrInvalidToken
		}
		return &domain.Profile{Login: login, DisplayName: "Streamer"}, nil
	}}
	mgr, _, _ := newTestManager(t, v, r, p)
	ctx := context.Background()

	_, err := mgr.AddAccount(ctx, "a1", "r1")
	require.NoError(t, err)
	tokens = nil

	profile, err := mgr.Profile(ctx, "streamer")
	require.NoError(t, err)
	assert.Equal(t, "Streamer", profile.DisplayName)
	assert.Equal(t, []string{"a1", "a2"}, tokens)
	assert.Equal(t, "r1", mgr.Active().RefreshToken)
}

func TestProfile_RefreshFails(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	p := &mockProfiles{lookupFn: func(_ context.Context, tok, _ string) (*domain.Profile, error) {
		if tok == "a1" {
			return nil, domain.ErrInvalidToken
		}
		return nil, nil
	}}
	mgr, _, _ := newTestManager(t, v, &mockRefresher{}, p)

	_, err := mgr.AddAccount(context.Background(), "a1", "")
	require.NoError(t, err)

	_, err = mgr.Profile(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrRefreshFailed)
	assert.Nil(t, mgr.Active())
}

func TestProfile_CallerCancelDoesNotDropIdentity(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"a1": aliceInfo})
	started := make(chan struct{})
	release := make(chan struct{})
	r := &mockRefresher{refreshFn: func(ctx context.Context, _ string) (string, string, error) {
		close(started)
		select {
		case <-release:
			return "a2", "", nil
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}}
	p := &mockProfiles{lookupFn: func(_ context.Context, tok, login string) (*domain.Profile, error) {
		if tok == "a1" {
			return nil, domain.ErrInvalidToken
		}
		return &domain.Profile{Login: login}, nil
	}}
	mgr, _, m := newTestManager(t, v, r, p)

	_, err := mgr.AddAccount(context.Background(), "a1", "r1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err = mgr.Profile(ctx, "someone")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrRefreshFailed)
	require.NotNil(t, mgr.Active())
	assert.Equal(t, "alice", mgr.Active().Login)

	// The refresh outlives the caller and still lands.
	close(release)
	assert.Eventually(t, func() bool {
		active := mgr.Active()
		return active != nil && active.AccessToken == "a2"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, testutil.ToFloat64(m.Refreshes.WithLabelValues("failure")))
}

func TestBootstrap_RefreshesExpiredToken(t *testing.T) {
	v := validatorFor(map[string]domain.TokenInfo{"fresh": aliceInfo})
	r := &mockRefresher{refreshFn: func(_ context.Context, refresh string) (string, string, error) {
		assert.Equal(t, "r1", refresh)
		return "fresh", "", nil
	}}
	mgr, _, _ := newTestManager(t, v, r, nil)

	identity, err := mgr.Bootstrap(context.Background(), "expired", "r1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", identity.AccessToken)
	assert.Equal(t, "r1", identity.RefreshToken)
}

func TestBootstrap_NoRefreshToken(t *testing.T) {
	mgr, _, _ := newTestManager(t, validatorFor(nil), &mockRefresher{}, nil)

	_, err := mgr.Bootstrap(context.Background(), "expired", "")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}
