package enums

import "fmt"

// ApplicationMode is the coarse routing decision derived from the identity
// snapshot. Consumers branch on this value and nothing else.
type ApplicationMode string

const (
	ModeUnauthenticated   ApplicationMode = "UNAUTHENTICATED"
	ModeActiveSession     ApplicationMode = "ACTIVE_SESSION"
	ModeBanned            ApplicationMode = "BANNED"
	ModeProviderPending   ApplicationMode = "PROVIDER_PENDING"
	ModeProviderRejected  ApplicationMode = "PROVIDER_REJECTED"
	ModeProviderSuspended ApplicationMode = "PROVIDER_SUSPENDED"
)

var validApplicationModes = []ApplicationMode{
	ModeUnauthenticated,
	ModeActiveSession,
	ModeBanned,
	ModeProviderPending,
	ModeProviderRejected,
	ModeProviderSuspended,
}

// String implements fmt.Stringer.
func (m ApplicationMode) String() string {
	return string(m)
}

// IsValid reports whether the value matches a known ApplicationMode.
func (m ApplicationMode) IsValid() bool {
	for _, candidate := range validApplicationModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// IsRestricted reports whether the mode blocks normal marketplace use and
// makes the subject eligible to appeal.
func (m ApplicationMode) IsRestricted() bool {
	switch m {
	case ModeBanned, ModeProviderRejected, ModeProviderSuspended:
		return true
	}
	return false
}

// ParseApplicationMode converts raw input into an ApplicationMode.
func ParseApplicationMode(value string) (ApplicationMode, error) {
	for _, candidate := range validApplicationModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid application mode %q", value)
}
