package transport

import (
	"context"
	"time"

	pkgerrors "github.com/servineo/client-go/pkg/errors"
)

// minRenewInterval floors the renewal timer so a short-lived or malformed
// token cannot spin the loop.
const minRenewInterval = time.Second

// AutoRenew proactively refreshes the access token after the given fraction
// of its lifetime, so steady-state requests never observe a 401. It blocks
// until ctx is cancelled or the session ends; run it on its own goroutine.
//
// A failed proactive refresh behaves exactly like the reactive path: the
// store is cleared and the loop stops.
func (m *Manager) AutoRenew(ctx context.Context, fraction float64) {
	if fraction <= 0 || fraction >= 1 {
		fraction = 0.85
	}

	for {
		pair := m.store.Tokens()
		if !pair.HasAccess() || !pair.HasRefresh() {
			return
		}

		ttl, ok := accessTokenTTL(pair, time.Now())
		if !ok {
			return
		}
		wait := time.Duration(float64(ttl) * fraction)
		if wait < minRenewInterval {
			wait = minRenewInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		current := m.store.Tokens()
		if !current.HasAccess() {
			return
		}
		if err := m.Refresh(ctx, current.AccessToken); err != nil {
			if m.logg != nil && !pkgerrors.HasCode(err, pkgerrors.CodeSessionExpired) {
				m.logg.Error(ctx, "background token renewal", err)
			}
			return
		}
	}
}
