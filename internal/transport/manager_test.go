package transport

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/servineo/client-go/internal/backendtest"
	"github.com/servineo/client-go/internal/tokenstore"
	"github.com/servineo/client-go/pkg/enums"
	pkgerrors "github.com/servineo/client-go/pkg/errors"
	"github.com/servineo/client-go/pkg/types"
)

func newTestManager(t *testing.T, backend *backendtest.Server) (*Manager, *tokenstore.Store) {
	t.Helper()
	store, err := tokenstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	manager, err := NewManager(Params{
		Store:   store,
		BaseURL: backend.URL(),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, store
}

// login hits the fake backend directly and seeds the store, sidestepping the
// session layer these tests do not cover.
func login(t *testing.T, manager *Manager, store *tokenstore.Store, email, password string) {
	t.Helper()
	var resp struct {
		AccessToken  string                 `json:"accessToken"`
		RefreshToken string                 `json:"refreshToken"`
		ExpiresIn    int64                  `json:"expiresIn"`
		User         types.IdentitySnapshot `json:"user"`
	}
	err := manager.JSON(context.Background(), http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	pair := types.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}
	if err := store.SetSession(context.Background(), pair, &resp.User); err != nil {
		t.Fatalf("seed store: %v", err)
	}
}

func addCustomer(backend *backendtest.Server, email string) {
	backend.AddUser(types.IdentitySnapshot{
		Email:         email,
		Name:          "Test Customer",
		AccountRole:   enums.AccountRoleCustomer,
		AccountStatus: enums.AccountStatusActive,
	}, "secret")
}

func TestUnauthenticated401IsFlagged(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	manager, store := newTestManager(t, backend)

	var out types.IdentitySnapshot
	err := manager.JSON(context.Background(), http.MethodGet, "/users/me", nil, &out)
	if !pkgerrors.HasCode(err, pkgerrors.CodeUnauthenticated) {
		t.Fatalf("expected UNAUTHENTICATED, got %v", err)
	}
	if store.Generation() != 0 {
		t.Fatalf("anonymous 401 must not log anything out")
	}
}

func TestSilentRefreshAndRetry(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	addCustomer(backend, "pat@example.com")
	manager, store := newTestManager(t, backend)
	login(t, manager, store, "pat@example.com", "secret")

	backend.ExpireAccessTokens()

	var out types.IdentitySnapshot
	if err := manager.JSON(context.Background(), http.MethodGet, "/users/me", nil, &out); err != nil {
		t.Fatalf("expected transparent refresh, got %v", err)
	}
	if out.Email != "pat@example.com" {
		t.Fatalf("unexpected identity %+v", out)
	}
	if calls := backend.RefreshCalls(); calls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", calls)
	}
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	addCustomer(backend, "pat@example.com")
	manager, store := newTestManager(t, backend)
	login(t, manager, store, "pat@example.com", "secret")

	backend.ExpireAccessTokens()
	release := backend.HoldRefresh()

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out types.IdentitySnapshot
			errs[i] = manager.JSON(context.Background(), http.MethodGet, "/users/me", nil, &out)
		}(i)
	}

	// Let every worker hit its 401 and pile onto the in-flight refresh.
	time.Sleep(300 * time.Millisecond)
	release()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d failed: %v", i, err)
		}
	}
	if calls := backend.RefreshCalls(); calls != 1 {
		t.Fatalf("expected a single shared refresh, got %d", calls)
	}
}

func TestRetried401SurfacesWithoutSecondRefresh(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	addCustomer(backend, "pat@example.com")
	manager, store := newTestManager(t, backend)
	login(t, manager, store, "pat@example.com", "secret")

	backend.SetForceUnauthorized(true)

	err := manager.JSON(context.Background(), http.MethodGet, "/users/me", nil, nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeSessionExpired) {
		t.Fatalf("expected SESSION_EXPIRED, got %v", err)
	}
	if calls := backend.RefreshCalls(); calls != 1 {
		t.Fatalf("expected exactly one refresh attempt, got %d", calls)
	}
	if store.Tokens().HasAccess() {
		t.Fatalf("rejected session must be logged out")
	}
}

func TestRefreshFailureLogsOut(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	addCustomer(backend, "pat@example.com")
	manager, store := newTestManager(t, backend)
	login(t, manager, store, "pat@example.com", "secret")

	backend.ExpireAccessTokens()
	backend.SetFailRefresh(true)

	err := manager.JSON(context.Background(), http.MethodGet, "/users/me", nil, nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeSessionExpired) {
		t.Fatalf("expected SESSION_EXPIRED, got %v", err)
	}
	if store.Tokens().HasAccess() || store.Identity() != nil {
		t.Fatalf("refresh failure must clear the whole session")
	}
	if store.Generation() != 1 {
		t.Fatalf("expected one logout generation bump, got %d", store.Generation())
	}
}

func TestRevokedRefreshTokenLogsOut(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	addCustomer(backend, "pat@example.com")
	manager, store := newTestManager(t, backend)
	login(t, manager, store, "pat@example.com", "secret")

	backend.ExpireAccessTokens()
	backend.RevokeRefreshTokens()

	err := manager.JSON(context.Background(), http.MethodGet, "/users/me", nil, nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeSessionExpired) {
		t.Fatalf("expected SESSION_EXPIRED, got %v", err)
	}
	if store.Tokens().HasRefresh() {
		t.Fatalf("revoked session must be cleared")
	}
}

func TestRefreshTimeoutTreatedAsRejection(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	addCustomer(backend, "pat@example.com")

	store, err := tokenstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	manager, err := NewManager(Params{
		Store:   store,
		BaseURL: backend.URL(),
		Timeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	login(t, manager, store, "pat@example.com", "secret")

	backend.ExpireAccessTokens()
	release := backend.HoldRefresh()
	defer release()

	err = manager.JSON(context.Background(), http.MethodGet, "/users/me", nil, nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeSessionExpired) {
		t.Fatalf("expected SESSION_EXPIRED after refresh timeout, got %v", err)
	}
	if store.Tokens().HasAccess() {
		t.Fatalf("timed-out refresh must log out")
	}
	if calls := backend.RefreshCalls(); calls != 1 {
		t.Fatalf("timed-out refresh must not be retried, got %d calls", calls)
	}
}

func TestRotatedRefreshTokenIsStored(t *testing.T) {
	backend := backendtest.New(backendtest.WithRotatingRefreshTokens())
	defer backend.Close()
	addCustomer(backend, "pat@example.com")
	manager, store := newTestManager(t, backend)
	login(t, manager, store, "pat@example.com", "secret")

	original := store.Tokens().RefreshToken
	backend.ExpireAccessTokens()
	if err := manager.JSON(context.Background(), http.MethodGet, "/users/me", nil, nil); err != nil {
		t.Fatalf("first refresh cycle: %v", err)
	}
	rotated := store.Tokens().RefreshToken
	if rotated == original {
		t.Fatalf("rotated refresh token was not stored")
	}

	// The rotated token must keep working across another expiry.
	backend.ExpireAccessTokens()
	if err := manager.JSON(context.Background(), http.MethodGet, "/users/me", nil, nil); err != nil {
		t.Fatalf("second refresh cycle: %v", err)
	}
	if backend.RefreshCalls() != 2 {
		t.Fatalf("expected two refresh calls, got %d", backend.RefreshCalls())
	}
}

func TestNewManagerValidatesParams(t *testing.T) {
	if _, err := NewManager(Params{}); err == nil {
		t.Fatalf("expected error without store")
	}
	store, err := tokenstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if _, err := NewManager(Params{Store: store}); err == nil {
		t.Fatalf("expected error without base url")
	}
}

func TestAccessTokenTTL(t *testing.T) {
	now := time.Now()

	if _, ok := accessTokenTTL(types.TokenPair{}, now); ok {
		t.Fatalf("empty pair has no lifetime")
	}

	ttl, ok := accessTokenTTL(types.TokenPair{AccessToken: "opaque", ExpiresIn: 900}, now)
	if !ok || ttl != 15*time.Minute {
		t.Fatalf("expected stated lifetime, got %v %v", ttl, ok)
	}

	if _, ok := accessTokenTTL(types.TokenPair{AccessToken: "not-a-jwt"}, now); ok {
		t.Fatalf("opaque token without expires_in has no lifetime")
	}
}

func TestAccessTokenTTLFromJWTClaims(t *testing.T) {
	backend := backendtest.New(backendtest.WithAccessTTL(10 * time.Minute))
	defer backend.Close()
	addCustomer(backend, "pat@example.com")
	manager, store := newTestManager(t, backend)
	login(t, manager, store, "pat@example.com", "secret")

	pair := store.Tokens()
	pair.ExpiresIn = 0 // force the claim path
	ttl, ok := accessTokenTTL(pair, time.Now())
	if !ok {
		t.Fatalf("expected lifetime from exp claim")
	}
	if ttl <= 9*time.Minute || ttl > 10*time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestAutoRenewRefreshesBeforeExpiry(t *testing.T) {
	backend := backendtest.New(backendtest.WithAccessTTL(2 * time.Second))
	defer backend.Close()
	addCustomer(backend, "pat@example.com")
	manager, store := newTestManager(t, backend)
	login(t, manager, store, "pat@example.com", "secret")

	original := store.Tokens().AccessToken

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		manager.AutoRenew(ctx, 0.5)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if store.Tokens().AccessToken != original {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if store.Tokens().AccessToken == original {
		t.Fatalf("background renewal never replaced the token")
	}
	if backend.RefreshCalls() == 0 {
		t.Fatalf("expected at least one proactive refresh")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("auto renew did not stop on cancel")
	}
}

func TestAutoRenewStopsWhenLoggedOut(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	manager, _ := newTestManager(t, backend)

	done := make(chan struct{})
	go func() {
		manager.AutoRenew(context.Background(), 0.85)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("auto renew must exit immediately without a session")
	}
}
