package enums

import "fmt"

// AccountRole identifies which side of the marketplace an identity acts on.
type AccountRole string

const (
	AccountRoleCustomer AccountRole = "CUSTOMER"
	AccountRoleProvider AccountRole = "PROVIDER"
	AccountRoleAdmin    AccountRole = "ADMIN"
)

var validAccountRoles = []AccountRole{
	AccountRoleCustomer,
	AccountRoleProvider,
	AccountRoleAdmin,
}

// String implements fmt.Stringer.
func (r AccountRole) String() string {
	return string(r)
}

// IsValid reports whether the value matches a known AccountRole.
func (r AccountRole) IsValid() bool {
	for _, candidate := range validAccountRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseAccountRole converts raw input into an AccountRole.
func ParseAccountRole(value string) (AccountRole, error) {
	for _, candidate := range validAccountRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid account role %q", value)
}
