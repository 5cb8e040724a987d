package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/servineo/client-go/pkg/enums"
)

// IdentitySnapshot is the authenticated principal as the backend last
// reported it. The backend wire shape uses camelCase keys, so tags here do
// not follow the snake_case the rest of the codebase would pick on its own.
type IdentitySnapshot struct {
	ID            uuid.UUID           `json:"id"`
	Email         string              `json:"email"`
	Name          string              `json:"name"`
	AccountRole   enums.AccountRole   `json:"accountRole"`
	AccountStatus enums.AccountStatus `json:"accountStatus"`
	BanReason     *string             `json:"banReason,omitempty"`
	BannedAt      *time.Time          `json:"bannedAt,omitempty"`
	Provider      *ProviderProfile    `json:"provider,omitempty"`
}

// ProviderProfile is the provider-scoped slice of an identity. Present only
// when AccountRole is PROVIDER.
type ProviderProfile struct {
	ID              uuid.UUID            `json:"id"`
	Status          enums.ProviderStatus `json:"status"`
	RejectionReason *string              `json:"rejectionReason,omitempty"`
}

// ProviderStatus returns the embedded provider status, or "" when the
// identity has no provider profile.
func (s *IdentitySnapshot) ProviderStatus() enums.ProviderStatus {
	if s == nil || s.Provider == nil {
		return ""
	}
	return s.Provider.Status
}

// TokenPair is the bearer credential set issued by the backend. At most one
// pair is current per session; a refresh replaces the whole pair atomically.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
}

// HasAccess reports whether an access token is present.
func (p TokenPair) HasAccess() bool {
	return p.AccessToken != ""
}

// HasRefresh reports whether a refresh token is present.
func (p TokenPair) HasRefresh() bool {
	return p.RefreshToken != ""
}
