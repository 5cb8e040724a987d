// Package backendtest is an in-process fake of the marketplace backend's
// auth and appeals surface. Tests point the client at it to exercise the
// token lifecycle, status gating, and the appeals workflow end to end,
// including the backend-owned invariants: rotating refresh tokens, the
// single-open-appeal rule, and the status flip on appeal approval.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/servineo/client-go/pkg/types"
)

const (
	signingSecret    = "backendtest-secret"
	defaultAccessTTL = 15 * time.Minute
)

// Server is the fake backend. All state lives behind one mutex; the fake
// favors obviousness over throughput.
type Server struct {
	httpSrv *httptest.Server

	mu             sync.Mutex
	users          map[uuid.UUID]*types.IdentitySnapshot
	passwords      map[string]string // email -> password
	emailIndex     map[string]uuid.UUID
	refreshTokens  map[string]uuid.UUID // refresh token -> user
	appeals        []*types.Appeal
	accessTTL      time.Duration
	tokenGen       int // tokens minted with an older generation are rejected
	refreshCalls      int
	failRefresh       bool
	rotateRefresh     bool
	forceUnauthorized bool
	refreshBarrier    chan struct{} // when set, refresh handler waits on it
}

// Option tweaks server behavior.
type Option func(*Server)

// WithAccessTTL sets the lifetime stamped into minted access tokens.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) { s.accessTTL = ttl }
}

// WithRotatingRefreshTokens makes every refresh invalidate the old refresh
// token and issue a new one.
func WithRotatingRefreshTokens() Option {
	return func(s *Server) { s.rotateRefresh = true }
}

// New starts the fake backend. Callers own Close.
func New(opts ...Option) *Server {
	s := &Server{
		users:         make(map[uuid.UUID]*types.IdentitySnapshot),
		passwords:     make(map[string]string),
		emailIndex:    make(map[string]uuid.UUID),
		refreshTokens: make(map[string]uuid.UUID),
		accessTTL:     defaultAccessTTL,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Get("/users/me", s.handleMe)
	r.Post("/appeals", s.handleCreateAppeal)
	r.Get("/appeals/my-appeals", s.handleMyAppeals)
	r.Get("/appeals", s.handleListAppeals)
	r.Patch("/appeals/{id}/review", s.handleReviewAppeal)

	s.httpSrv = httptest.NewServer(r)
	return s
}

// URL returns the backend root.
func (s *Server) URL() string {
	return s.httpSrv.URL
}

// Close stops the server.
func (s *Server) Close() {
	s.httpSrv.Close()
}

// AddUser registers a user with credentials and returns its id.
func (s *Server) AddUser(snap types.IdentitySnapshot, password string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	copied := snap
	if snap.Provider != nil {
		provider := *snap.Provider
		if provider.ID == uuid.Nil {
			provider.ID = uuid.New()
		}
		copied.Provider = &provider
	}
	s.users[copied.ID] = &copied
	s.passwords[copied.Email] = password
	s.emailIndex[copied.Email] = copied.ID
	return copied.ID
}

// User returns a copy of the stored identity.
func (s *Server) User(id uuid.UUID) (types.IdentitySnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.users[id]
	if !ok {
		return types.IdentitySnapshot{}, false
	}
	return copySnapshot(snap), true
}

// MutateUser applies fn to the stored identity under the lock. Tests use it
// to ban, unban, or change provider status out of band.
func (s *Server) MutateUser(id uuid.UUID, fn func(*types.IdentitySnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.users[id]; ok {
		fn(snap)
	}
}

// ExpireAccessTokens invalidates every access token issued so far without
// touching refresh tokens, simulating expiry.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenGen++
}

// RevokeRefreshTokens invalidates every refresh token, so the next refresh
// attempt fails.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]uuid.UUID)
}

// SetForceUnauthorized makes every authenticated endpoint reply 401 even
// for freshly minted tokens. Exercises the at-most-one-retry guarantee.
func (s *Server) SetForceUnauthorized(force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceUnauthorized = force
}

// SetFailRefresh forces the refresh endpoint to reply 500.
func (s *Server) SetFailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// RefreshCalls reports how many refresh requests arrived. The single-flight
// assertions hang off this.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// HoldRefresh makes the refresh handler block until the returned release
// function is called, so tests can pile up concurrent 401s deterministically.
func (s *Server) HoldRefresh() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	barrier := make(chan struct{})
	s.refreshBarrier = barrier
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.refreshBarrier = nil
			s.mu.Unlock()
			close(barrier)
		})
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emailIndex[req.Email]
	if !ok || s.passwords[req.Email] != req.Password {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
		return
	}

	pair := s.issuePairLocked(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
		"user":         copySnapshot(s.users[id]),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.RefreshToken != "" {
		s.mu.Lock()
		delete(s.refreshTokens, req.RefreshToken)
		s.mu.Unlock()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "refreshToken is required")
		return
	}

	s.mu.Lock()
	s.refreshCalls++
	barrier := s.refreshBarrier
	fail := s.failRefresh
	userID, known := s.refreshTokens[req.RefreshToken]
	s.mu.Unlock()

	if barrier != nil {
		<-barrier
	}
	if fail {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "refresh unavailable")
		return
	}
	if !known {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "refresh token invalid")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	access, expiresIn := s.mintAccessLocked(userID)
	response := map[string]any{
		"accessToken": access,
		"expiresIn":   expiresIn,
	}
	if s.rotateRefresh {
		delete(s.refreshTokens, req.RefreshToken)
		rotated := uuid.NewString()
		s.refreshTokens[rotated] = userID
		response["refreshToken"] = rotated
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// authenticate validates the bearer token and returns the caller's identity
// copy. Writes the 401 itself when validation fails.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (types.IdentitySnapshot, bool) {
	s.mu.Lock()
	force := s.forceUnauthorized
	s.mu.Unlock()
	if force {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "credentials rejected")
		return types.IdentitySnapshot{}, false
	}

	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing credentials")
		return types.IdentitySnapshot{}, false
	}
	token := strings.TrimSpace(raw[7:])

	claims := accessClaims{}
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(signingSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
		return types.IdentitySnapshot{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if claims.Gen < s.tokenGen {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "token expired")
		return types.IdentitySnapshot{}, false
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject")
		return types.IdentitySnapshot{}, false
	}
	snap, ok := s.users[userID]
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown user")
		return types.IdentitySnapshot{}, false
	}
	return copySnapshot(snap), true
}

func (s *Server) issuePairLocked(userID uuid.UUID) types.TokenPair {
	access, expiresIn := s.mintAccessLocked(userID)
	refresh := uuid.NewString()
	s.refreshTokens[refresh] = userID
	return types.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
	}
}

// accessClaims carries the generation counter used to invalidate tokens on
// demand without waiting out wall-clock expiry.
type accessClaims struct {
	Gen int `json:"gen"`
	jwt.RegisteredClaims
}

func (s *Server) mintAccessLocked(userID uuid.UUID) (string, int64) {
	now := time.Now()
	claims := accessClaims{
		Gen: s.tokenGen,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingSecret))
	if err != nil {
		panic("backendtest: signing token: " + err.Error())
	}
	return signed, int64(s.accessTTL / time.Second)
}

func copySnapshot(snap *types.IdentitySnapshot) types.IdentitySnapshot {
	copied := *snap
	if snap.Provider != nil {
		provider := *snap.Provider
		copied.Provider = &provider
	}
	return copied
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ErrorEnvelope{
		Error: types.APIError{Code: code, Message: message},
	})
}
