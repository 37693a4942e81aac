package app

import (
	"fmt"
	"time"

	"github.com/charlesng35/careteam/internal/auth/mfa"
	"github.com/charlesng35/careteam/internal/cache"
	"github.com/charlesng35/careteam/internal/services"
	"github.com/charlesng35/careteam/internal/sms"
	"github.com/charlesng35/careteam/pkg/crypto"
)

// EncryptionKeys decodes the configured encryption secret and derives the
// sealing and backup-code subkeys from it.
func (c SecurityConfig) EncryptionKeys() (crypto.Keys, error) {
	raw, err := DecodeKey(c.EncryptionSecret)
	if err != nil {
		return crypto.Keys{}, fmt.Errorf("decode encryption secret: %w", err)
	}
	return crypto.DeriveKeys(string(raw))
}

// AuthenticatorOptions converts the MFA settings into TOTP options.
func (c MFAConfig) AuthenticatorOptions() []mfa.Option {
	opts := []mfa.Option{mfa.WithIssuer(c.Issuer)}
	if c.BackupCodeCount > 0 {
		opts = append(opts, mfa.WithBackupCodeCount(c.BackupCodeCount))
	}
	if c.QRSize > 0 {
		opts = append(opts, mfa.WithQRCodeSize(c.QRSize))
	}
	if c.Skew > 0 {
		opts = append(opts, mfa.WithSkew(c.Skew))
	}
	return opts
}

// LockoutPolicy fills unset lockout values from the service defaults.
func (c LockoutConfig) LockoutPolicy() services.LockoutPolicy {
	policy := services.DefaultLockoutPolicy
	if c.Threshold > 0 {
		policy.Threshold = c.Threshold
	}
	if c.Window > 0 {
		policy.Window = c.Window
	}
	if c.Duration > 0 {
		policy.Duration = c.Duration
	}
	return policy
}

// MFADependencies assembles the collaborators shared by the MFA engines.
// Lockout counters live in store; a nil SMS verifier leaves the sms method unavailable.
func (c SecurityConfig) MFADependencies(store cache.Store, verifier sms.Verifier, clock func() time.Time) (services.MFADependencies, error) {
	keys, err := c.EncryptionKeys()
	if err != nil {
		return services.MFADependencies{}, err
	}
	cipher, err := crypto.NewCipher(keys)
	if err != nil {
		return services.MFADependencies{}, fmt.Errorf("initialise secret cipher: %w", err)
	}
	hasher, err := mfa.NewCodeHasher(keys.BackupCode)
	if err != nil {
		return services.MFADependencies{}, fmt.Errorf("initialise backup code hasher: %w", err)
	}
	lockout, err := services.NewMFALockout(store, c.MFA.Lockout.LockoutPolicy())
	if err != nil {
		return services.MFADependencies{}, fmt.Errorf("initialise mfa lockout: %w", err)
	}

	opts := c.MFA.AuthenticatorOptions()
	if clock != nil {
		opts = append(opts, mfa.WithClock(clock))
	}

	return services.MFADependencies{
		Authenticator: mfa.NewAuthenticator(opts...),
		Cipher:        cipher,
		Hasher:        hasher,
		Lockout:       lockout,
		SMS:           verifier,
	}, nil
}
