package app

import (
	"strings"

	"github.com/charlesng35/careteam/internal/auth"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	// ValidateSecrets has already rejected malformed prefixed values.
	secret := c.JWT.Secret
	if key, err := DecodeKey(secret); err == nil {
		secret = string(key)
	}

	return auth.JWTConfig{
		Secret:         secret,
		Issuer:         strings.TrimSpace(c.JWT.Issuer),
		Audience:       strings.TrimSpace(c.JWT.Audience),
		AccessTokenTTL: ttl,
	}
}
