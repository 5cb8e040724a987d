package transport

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/servineo/client-go/pkg/types"
)

// accessTokenTTL reports how long the access token remains valid from now.
// The stated expires_in wins; when the backend omits it, the JWT exp claim
// is read without signature verification (the client holds no secret and
// only needs the timestamp, the backend stays authoritative).
func accessTokenTTL(pair types.TokenPair, now time.Time) (time.Duration, bool) {
	if !pair.HasAccess() {
		return 0, false
	}
	if pair.ExpiresIn > 0 {
		return time.Duration(pair.ExpiresIn) * time.Second, true
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(pair.AccessToken, &claims); err != nil {
		return 0, false
	}
	if claims.ExpiresAt == nil {
		return 0, false
	}
	ttl := claims.ExpiresAt.Time.Sub(now)
	if ttl <= 0 {
		return 0, false
	}
	return ttl, true
}
