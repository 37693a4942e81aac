package app

import (
	"fmt"
	"strings"
)

const minSecretBytes = 32

// ValidateSecrets refuses to start without the JWT and encryption secrets.
// They are never generated on the fly: a fresh encryption secret would make
// every sealed TOTP secret unreadable after a restart.
func ValidateSecrets(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	secrets := []struct {
		key   string
		value string
	}{
		{"auth.jwt.secret", cfg.Auth.JWT.Secret},
		{"security.encryption_secret", cfg.Security.EncryptionSecret},
	}

	var missing []string
	for _, s := range secrets {
		size, err := KeyByteLength(s.value)
		if err != nil {
			return fmt.Errorf("%s: %w", s.key, err)
		}
		if size == 0 {
			missing = append(missing, s.key)
			continue
		}
		if size < minSecretBytes {
			return fmt.Errorf("%s must be at least %d bytes, got %d", s.key, minSecretBytes, size)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required secrets not configured: %s", strings.Join(missing, ", "))
	}
	return nil
}
