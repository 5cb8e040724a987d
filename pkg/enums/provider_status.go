package enums

import "fmt"

// ProviderStatus captures the vetting lifecycle of a provider application.
// It only matters while the account itself is ACTIVE.
type ProviderStatus string

const (
	ProviderStatusPending   ProviderStatus = "PENDING"
	ProviderStatusApproved  ProviderStatus = "APPROVED"
	ProviderStatusRejected  ProviderStatus = "REJECTED"
	ProviderStatusSuspended ProviderStatus = "SUSPENDED"
)

var validProviderStatuses = []ProviderStatus{
	ProviderStatusPending,
	ProviderStatusApproved,
	ProviderStatusRejected,
	ProviderStatusSuspended,
}

// String implements fmt.Stringer.
func (s ProviderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known ProviderStatus.
func (s ProviderStatus) IsValid() bool {
	for _, candidate := range validProviderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseProviderStatus converts raw input into a ProviderStatus.
func ParseProviderStatus(value string) (ProviderStatus, error) {
	for _, candidate := range validProviderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider status %q", value)
}
