package enums

import "fmt"

// AppealStatus captures the lifecycle of a reinstatement request.
// APPROVED and REJECTED are terminal; nothing ever returns to PENDING.
type AppealStatus string

const (
	AppealStatusPending     AppealStatus = "PENDING"
	AppealStatusUnderReview AppealStatus = "UNDER_REVIEW"
	AppealStatusApproved    AppealStatus = "APPROVED"
	AppealStatusRejected    AppealStatus = "REJECTED"
)

var validAppealStatuses = []AppealStatus{
	AppealStatusPending,
	AppealStatusUnderReview,
	AppealStatusApproved,
	AppealStatusRejected,
}

// String implements fmt.Stringer.
func (s AppealStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known AppealStatus.
func (s AppealStatus) IsValid() bool {
	for _, candidate := range validAppealStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsOpen reports whether the appeal still occupies the subject's single
// open-appeal slot.
func (s AppealStatus) IsOpen() bool {
	return s == AppealStatusPending || s == AppealStatusUnderReview
}

// IsTerminal reports whether the appeal has been resolved.
func (s AppealStatus) IsTerminal() bool {
	return s == AppealStatusApproved || s == AppealStatusRejected
}

// CanTransitionTo reports whether a reviewer may move an appeal from s to next.
func (s AppealStatus) CanTransitionTo(next AppealStatus) bool {
	switch s {
	case AppealStatusPending:
		return next == AppealStatusUnderReview || next == AppealStatusApproved || next == AppealStatusRejected
	case AppealStatusUnderReview:
		return next == AppealStatusApproved || next == AppealStatusRejected
	default:
		return false
	}
}

// ParseAppealStatus converts raw input into an AppealStatus.
func ParseAppealStatus(value string) (AppealStatus, error) {
	for _, candidate := range validAppealStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid appeal status %q", value)
}
