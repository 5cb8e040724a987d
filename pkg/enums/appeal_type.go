package enums

import "fmt"

// AppealType names the restriction an appeal asks to lift.
type AppealType string

const (
	AppealTypeUnbanRequest AppealType = "UNBAN_REQUEST"
	AppealTypeSuspension   AppealType = "SUSPENSION_APPEAL"
	AppealTypeRejection    AppealType = "REJECTION_APPEAL"
	AppealTypeOther        AppealType = "OTHER"
)

var validAppealTypes = []AppealType{
	AppealTypeUnbanRequest,
	AppealTypeSuspension,
	AppealTypeRejection,
	AppealTypeOther,
}

// String implements fmt.Stringer.
func (t AppealType) String() string {
	return string(t)
}

// IsValid reports whether the value matches a known AppealType.
func (t AppealType) IsValid() bool {
	for _, candidate := range validAppealTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsProviderScoped reports whether the appeal type targets a provider record
// rather than the account itself.
func (t AppealType) IsProviderScoped() bool {
	return t == AppealTypeSuspension || t == AppealTypeRejection
}

// ParseAppealType converts raw input into an AppealType.
func ParseAppealType(value string) (AppealType, error) {
	for _, candidate := range validAppealTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid appeal type %q", value)
}
