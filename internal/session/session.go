// Package session is the top-level client object: it owns the durable store,
// the token-aware transport, and the derived application mode, and exposes
// the state transitions consumers react to (sign-in, sign-out, restriction
// changes). All mode decisions are delegated to the gate package; this layer
// only decides when to recompute.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/servineo/client-go/internal/appeals"
	"github.com/servineo/client-go/internal/gate"
	"github.com/servineo/client-go/internal/tokenstore"
	"github.com/servineo/client-go/internal/transport"
	"github.com/servineo/client-go/pkg/config"
	"github.com/servineo/client-go/pkg/enums"
	pkgerrors "github.com/servineo/client-go/pkg/errors"
	"github.com/servineo/client-go/pkg/logger"
	"github.com/servineo/client-go/pkg/metrics"
	"github.com/servineo/client-go/pkg/types"
)

// State is the snapshot subscribers receive. Identity is a private copy.
type State struct {
	Mode             enums.ApplicationMode
	Identity         *types.IdentitySnapshot
	HasPendingAppeal bool
}

// Session coordinates the authenticated lifecycle for one principal.
type Session struct {
	store   *tokenstore.Store
	manager *transport.Manager
	appeals appeals.Service
	cfg     config.SessionConfig
	logg    *logger.Logger
	metrics *metrics.SessionMetrics

	mu      sync.Mutex
	state   State
	subs    map[int]chan State
	nextSub int
	closed  bool

	renewCancel context.CancelFunc
	renewDone   chan struct{}
}

// Params bundles the dependencies required to build a Session.
type Params struct {
	Store   *tokenstore.Store
	Manager *transport.Manager
	Config  config.SessionConfig
	Logger  *logger.Logger
	Metrics *metrics.SessionMetrics

	// Appeals overrides the workflow client; built from Manager when nil.
	Appeals appeals.Service
}

// New validates the wiring and returns a Session in the unauthenticated
// state. Call Restore to pick up a persisted session.
func New(params Params) (*Session, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if params.Manager == nil {
		return nil, fmt.Errorf("transport manager is required")
	}
	workflow := params.Appeals
	if workflow == nil {
		var err error
		workflow, err = appeals.NewService(appeals.ServiceParams{
			API:     params.Manager,
			Metrics: params.Metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("building appeal client: %w", err)
		}
	}
	return &Session{
		store:   params.Store,
		manager: params.Manager,
		appeals: workflow,
		cfg:     params.Config,
		logg:    params.Logger,
		metrics: params.Metrics,
		state:   State{Mode: enums.ModeUnauthenticated},
		subs:    make(map[int]chan State),
	}, nil
}

// Appeals exposes the appeal workflow bound to this session's transport.
func (s *Session) Appeals() appeals.Service {
	return s.appeals
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the current application mode.
func (s *Session) Mode() enums.ApplicationMode {
	return s.State().Mode
}

// Identity returns the last known identity, or nil when signed out.
func (s *Session) Identity() *types.IdentitySnapshot {
	return s.State().Identity
}

// DeletionCountdown projects the time remaining before a banned account's
// data is deleted. ok is false when the session is not in the banned mode.
func (s *Session) DeletionCountdown(now time.Time) (gate.Countdown, bool) {
	state := s.State()
	if state.Mode != enums.ModeBanned || state.Identity == nil || state.Identity.BannedAt == nil {
		return gate.Countdown{}, false
	}
	return gate.DeletionCountdown(*state.Identity.BannedAt, s.cfg.BanRetention(), now), true
}

// Subscribe registers a state listener. The channel holds the latest state
// only: a slow consumer observes the newest snapshot, not every intermediate
// one. The returned cancel func must be called to release the channel.
func (s *Session) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan State, 1)
	ch <- s.state
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// loginResponse is the sign-in reply shape.
type loginResponse struct {
	AccessToken  string                 `json:"accessToken"`
	RefreshToken string                 `json:"refreshToken"`
	ExpiresIn    int64                  `json:"expiresIn,omitempty"`
	User         types.IdentitySnapshot `json:"user"`
}

// Login signs in with credentials, persists the session atomically, and
// recomputes the application mode from the returned identity.
func (s *Session) Login(ctx context.Context, email, password string) (State, error) {
	var resp loginResponse
	err := s.manager.JSON(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return s.State(), err
	}

	pair := types.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}
	if err := s.store.SetSession(ctx, pair, &resp.User); err != nil {
		return s.State(), pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting session")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithUserID(ctx, resp.User.ID.String()), "signed in")
	}
	return s.recompute(ctx, &resp.User), nil
}

// Restore rehydrates a persisted session: if the store holds tokens, the
// identity is re-fetched so a status change applied while the client was
// offline takes effect immediately. An expired session degrades to the
// unauthenticated state without surfacing an error.
func (s *Session) Restore(ctx context.Context) (State, error) {
	if !s.store.Tokens().HasAccess() {
		return s.setAnonymous(), nil
	}

	snap, err := s.fetchIdentity(ctx)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeSessionExpired) ||
			pkgerrors.HasCode(err, pkgerrors.CodeUnauthenticated) {
			return s.setAnonymous(), nil
		}
		// Transport trouble: keep the stored identity so the caller can
		// still render something, but report the failure.
		if stored := s.store.Identity(); stored != nil {
			return s.recompute(ctx, stored), err
		}
		return s.State(), err
	}
	return s.recompute(ctx, snap), nil
}

// Sync re-fetches the identity and recomputes the mode. Consumers call this
// after an action that may have changed the account status server-side, an
// approved appeal for instance.
func (s *Session) Sync(ctx context.Context) (State, error) {
	snap, err := s.fetchIdentity(ctx)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeSessionExpired) {
			return s.setAnonymous(), err
		}
		return s.State(), err
	}
	return s.recompute(ctx, snap), nil
}

// Logout revokes the session server-side on a best-effort basis, then clears
// the local store unconditionally. Local sign-out never fails because the
// backend was unreachable.
func (s *Session) Logout(ctx context.Context) error {
	s.stopRenewal()

	if pair := s.store.Tokens(); pair.HasAccess() {
		body := map[string]string{"refreshToken": pair.RefreshToken}
		if err := s.manager.JSON(ctx, http.MethodPost, "/auth/logout", body, nil); err != nil {
			if s.logg != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "server-side logout failed")
			}
		}
	}
	if err := s.store.Clear(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing session store")
	}
	if s.logg != nil {
		s.logg.Info(ctx, "signed out")
	}
	s.setAnonymous()
	return nil
}

// Close stops background work and releases subscriber channels. The store
// stays open; its owner closes it.
func (s *Session) Close() {
	s.stopRenewal()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Session) fetchIdentity(ctx context.Context) (*types.IdentitySnapshot, error) {
	var snap types.IdentitySnapshot
	if err := s.manager.JSON(ctx, http.MethodGet, "/users/me", nil, &snap); err != nil {
		return nil, err
	}
	if err := s.store.SetIdentity(ctx, &snap); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting identity")
	}
	return &snap, nil
}

// recompute derives the mode from the snapshot, refreshes the pending-appeal
// flag for restricted modes, publishes, and manages the renewal loop.
func (s *Session) recompute(ctx context.Context, snap *types.IdentitySnapshot) State {
	mode := gate.Mode(snap)

	pending := false
	if mode.IsRestricted() {
		has, err := s.appeals.HasPending(ctx)
		if err != nil {
			if s.logg != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checking pending appeal")
			}
		} else {
			pending = has
		}
	}

	state := State{Mode: mode, Identity: snap, HasPendingAppeal: pending}
	s.publish(ctx, state)

	if mode != enums.ModeUnauthenticated && s.cfg.BackgroundRenewal {
		s.startRenewal()
	}
	return state
}

func (s *Session) setAnonymous() State {
	s.stopRenewal()
	state := State{Mode: enums.ModeUnauthenticated}
	s.publish(context.Background(), state)
	return state
}

func (s *Session) publish(ctx context.Context, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state = state
	for _, ch := range s.subs {
		// Latest-state-wins: evict a stale undelivered snapshot.
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithMode(ctx, string(state.Mode)), "session state published")
	}
}

// startRenewal spawns the proactive refresh loop if it is not running. When
// the loop exits because the session was invalidated, the published state
// degrades to unauthenticated so subscribers learn about the forced logout.
func (s *Session) startRenewal() {
	s.mu.Lock()
	if s.closed || s.renewCancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.renewCancel = cancel
	s.renewDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.manager.AutoRenew(ctx, s.cfg.RefreshEarlyFraction)

		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.renewCancel = nil
		s.renewDone = nil
		s.mu.Unlock()
		if !s.store.Tokens().HasAccess() {
			s.setAnonymous()
		}
	}()
}

func (s *Session) stopRenewal() {
	s.mu.Lock()
	cancel := s.renewCancel
	done := s.renewDone
	s.renewCancel = nil
	s.renewDone = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}
