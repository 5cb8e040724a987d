// Package transport owns the token lifecycle around every outbound call:
// bearer attachment, 401 classification, the single silent refresh-and-retry,
// and logout on irrecoverable refresh failure. Callers never touch refresh
// themselves.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/servineo/client-go/internal/tokenstore"
	pkgerrors "github.com/servineo/client-go/pkg/errors"
	"github.com/servineo/client-go/pkg/logger"
	"github.com/servineo/client-go/pkg/metrics"
	"github.com/servineo/client-go/pkg/types"
)

const refreshPath = "/auth/refresh"

// refreshKey collapses concurrent refresh attempts into one flight. There is
// a single session, so a single key.
const refreshKey = "refresh"

// Manager wraps an HTTP client with the token lifecycle. It is the only
// component allowed to write tokens besides the login/logout entry points.
type Manager struct {
	store   *tokenstore.Store
	baseURL string
	client  *http.Client
	logg    *logger.Logger
	metrics *metrics.SessionMetrics

	group singleflight.Group
}

// Params bundles the dependencies required to build a Manager.
type Params struct {
	Store   *tokenstore.Store
	BaseURL string
	Timeout time.Duration
	Logger  *logger.Logger
	Metrics *metrics.SessionMetrics

	// HTTPClient overrides the default client; used by tests.
	HTTPClient *http.Client
}

// NewManager validates the wiring and returns a ready Manager.
func NewManager(params Params) (*Manager, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	base := strings.TrimRight(params.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}

	client := params.HTTPClient
	if client == nil {
		timeout := params.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Manager{
		store:   params.Store,
		baseURL: base,
		client:  client,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

// BaseURL returns the normalized backend root.
func (m *Manager) BaseURL() string {
	return m.baseURL
}

// Do sends the request with the current access token attached, transparently
// refreshing once on 401. Outcomes:
//
//   - non-401 response: returned as is, caller owns the body.
//   - 401 with no token attached: UNAUTHENTICATED error. Anonymous calls are
//     legal, consumers must not surface this one.
//   - 401 with a token, refresh fails or no refresh token: the store is
//     cleared (logged out) and a SESSION_EXPIRED error is returned.
//   - 401 on the retried copy: SESSION_EXPIRED, no second refresh attempt.
func (m *Manager) Do(req *http.Request) (*http.Response, error) {
	if err := ensureReplayable(req); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "buffering request body")
	}

	pair := m.store.Tokens()
	attached := pair.HasAccess()
	if attached {
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "request failed")
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	if !attached {
		m.metrics.IncUnauthorized("unauthenticated")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthenticated, "authentication required")
	}

	if err := m.Refresh(req.Context(), pair.AccessToken); err != nil {
		return nil, err
	}

	retry, err := cloneForRetry(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "rebuilding request for retry")
	}
	refreshed := m.store.Tokens()
	if !refreshed.HasAccess() {
		// Logged out between refresh and retry.
		return nil, pkgerrors.New(pkgerrors.CodeSessionExpired, "session closed during retry")
	}
	retry.Header.Set("Authorization", "Bearer "+refreshed.AccessToken)

	resp, err = m.client.Do(retry)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "retried request failed")
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// Already retried once: surface the failure, never refresh again.
		drain(resp)
		m.metrics.IncUnauthorized("retried")
		m.logout(req.Context(), "retried request rejected")
		return nil, pkgerrors.New(pkgerrors.CodeSessionExpired, "credentials rejected after refresh")
	}
	return resp, nil
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// share one in-flight refresh: late arrivals attach to it and see its
// outcome instead of issuing a redundant call. staleAccess is the access
// token the caller saw fail; if the store already holds a different one,
// another caller refreshed first and no network call is made.
//
// Any failure, transport errors and timeouts included, clears the store and
// normalizes to SESSION_EXPIRED. The refresh call itself is never retried.
func (m *Manager) Refresh(ctx context.Context, staleAccess string) error {
	_, err, _ := m.group.Do(refreshKey, func() (any, error) {
		current := m.store.Tokens()
		if current.HasAccess() && current.AccessToken != staleAccess {
			return nil, nil
		}
		if !current.HasRefresh() {
			m.metrics.IncUnauthorized("session_expired")
			m.logout(ctx, "no refresh token")
			return nil, pkgerrors.New(pkgerrors.CodeSessionExpired, "please sign in again")
		}

		started := time.Now()
		pair, err := m.callRefresh(ctx, current.RefreshToken)
		if err != nil {
			m.metrics.ObserveRefresh("failure", time.Since(started))
			m.metrics.IncUnauthorized("session_expired")
			m.logout(ctx, "refresh failed")
			return nil, pkgerrors.Wrap(pkgerrors.CodeSessionExpired, err, "please sign in again")
		}
		m.metrics.ObserveRefresh("success", time.Since(started))

		if pair.RefreshToken == "" {
			// Backend did not rotate: keep the proven refresh token.
			pair.RefreshToken = current.RefreshToken
		}
		if err := m.store.SetTokens(ctx, pair); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "storing refreshed tokens")
		}
		if m.logg != nil {
			m.logg.Debug(ctx, "access token refreshed")
		}
		return nil, nil
	})
	return err
}

func (m *Manager) callRefresh(ctx context.Context, refreshToken string) (types.TokenPair, error) {
	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("encoding refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("refresh call: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return types.TokenPair{}, fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}

	var pair types.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return types.TokenPair{}, fmt.Errorf("decoding refresh response: %w", err)
	}
	if !pair.HasAccess() {
		return types.TokenPair{}, fmt.Errorf("refresh response missing access token")
	}
	return pair, nil
}

func (m *Manager) logout(ctx context.Context, reason string) {
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil && m.logg != nil {
		m.logg.Error(ctx, "clearing session store", err)
	}
	if m.logg != nil {
		m.logg.Warn(m.logg.WithField(ctx, "reason", reason), "session logged out")
	}
}

// ensureReplayable buffers the body so a 401 can be retried with a fresh
// copy. Requests built with bytes readers already carry GetBody.
func ensureReplayable(req *http.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	buffered, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(buffered))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buffered)), nil
	}
	return nil
}

func cloneForRetry(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return retry, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
