// Package gate classifies an identity snapshot into the application mode
// consumers branch on. It only classifies: it never mutates identity state
// and never triggers navigation.
package gate

import (
	"time"

	"github.com/servineo/client-go/pkg/enums"
	"github.com/servineo/client-go/pkg/types"
)

// DefaultBanRetention is the window between a ban and account data deletion.
const DefaultBanRetention = 30 * 24 * time.Hour

// Mode derives the application mode from a snapshot. First match wins:
// missing identity, then the account-level ban (which dominates any
// provider-level status), then the provider vetting states, then active.
func Mode(snap *types.IdentitySnapshot) enums.ApplicationMode {
	switch {
	case snap == nil:
		return enums.ModeUnauthenticated
	case snap.AccountStatus == enums.AccountStatusBanned:
		return enums.ModeBanned
	case snap.AccountRole == enums.AccountRoleProvider && snap.ProviderStatus() == enums.ProviderStatusPending:
		return enums.ModeProviderPending
	case snap.AccountRole == enums.AccountRoleProvider && snap.ProviderStatus() == enums.ProviderStatusRejected:
		return enums.ModeProviderRejected
	case snap.AccountRole == enums.AccountRoleProvider && snap.ProviderStatus() == enums.ProviderStatusSuspended:
		return enums.ModeProviderSuspended
	default:
		return enums.ModeActiveSession
	}
}

// Countdown is the remaining time before a banned account's data is deleted.
// It is a derived projection: recomputing it every second for display cannot
// drift, because nothing is accumulated.
type Countdown struct {
	Days    int64
	Hours   int64
	Minutes int64
	Seconds int64
	Expired bool

	Deadline time.Time
}

// DeletionCountdown projects the time remaining until bannedAt+window,
// floor-divided into display units. Remaining time clamps at zero, at which
// point Expired flips.
func DeletionCountdown(bannedAt time.Time, window time.Duration, now time.Time) Countdown {
	deadline := bannedAt.Add(window)
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return Countdown{Expired: true, Deadline: deadline}
	}

	total := int64(remaining / time.Second)
	return Countdown{
		Days:     total / 86400,
		Hours:    (total % 86400) / 3600,
		Minutes:  (total % 3600) / 60,
		Seconds:  total % 60,
		Deadline: deadline,
	}
}

// AppealTypeFor maps a restricted mode onto the appeal type that contests
// it. Returns false for modes with nothing to appeal. REJECTED providers may
// also re-apply outright; the appeal path is still offered.
func AppealTypeFor(mode enums.ApplicationMode) (enums.AppealType, bool) {
	switch mode {
	case enums.ModeBanned:
		return enums.AppealTypeUnbanRequest, true
	case enums.ModeProviderSuspended:
		return enums.AppealTypeSuspension, true
	case enums.ModeProviderRejected:
		return enums.AppealTypeRejection, true
	default:
		return "", false
	}
}
