package mfa

import (
	cryptoRand "crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

const (
	defaultIssuer          = "CareTeam"
	defaultBackupCodeCount = 10
	defaultQRCodeSize      = 256
	defaultSkew            = 2
	defaultPeriod          = 30
)

// Option allows customising the authenticator.
type Option func(*Authenticator)

// WithIssuer overrides the default issuer string encoded in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) {
		if strings.TrimSpace(issuer) != "" {
			a.issuer = issuer
		}
	}
}

// WithBackupCodeCount overrides the number of backup codes generated per set.
func WithBackupCodeCount(count int) Option {
	return func(a *Authenticator) {
		if count > 0 {
			a.backupCodes = count
		}
	}
}

// WithQRCodeSize controls the pixel size of generated QR codes.
func WithQRCodeSize(size int) Option {
	return func(a *Authenticator) {
		if size > 0 {
			a.qrCodeSize = size
		}
	}
}

// WithSkew sets how many time steps either side of now are accepted.
func WithSkew(steps uint) Option {
	return func(a *Authenticator) {
		a.skew = steps
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(a *Authenticator) {
		if clock != nil {
			a.now = clock
		}
	}
}

// Authenticator wraps the TOTP primitives: key generation, code validation,
// QR rendering and backup code generation. It holds no state beyond its options.
type Authenticator struct {
	issuer      string
	backupCodes int
	qrCodeSize  int
	skew        uint
	period      uint
	now         func() time.Time
}

// NewAuthenticator constructs an authenticator with SHA1, 6 digits, 30s period
// and a ±2 step tolerance unless overridden.
func NewAuthenticator(opts ...Option) *Authenticator {
	a := &Authenticator{
		issuer:      defaultIssuer,
		backupCodes: defaultBackupCodeCount,
		qrCodeSize:  defaultQRCodeSize,
		skew:        defaultSkew,
		period:      defaultPeriod,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issuer returns the issuer encoded in provisioning URIs.
func (a *Authenticator) Issuer() string {
	return a.issuer
}

// BackupCodeCount returns how many codes GenerateBackupCodes produces.
func (a *Authenticator) BackupCodeCount() int {
	return a.backupCodes
}

// GenerateKey creates a new TOTP secret for account.
func (a *Authenticator) GenerateKey(account string) (*otp.Key, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, errors.New("totp: account name is required")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      a.issuer,
		AccountName: account,
		Period:      a.period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("totp: generate key: %w", err)
	}
	return key, nil
}

// Validate checks code against secret within the configured window.
func (a *Authenticator) Validate(secret, code string) bool {
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}

	valid, err := totp.ValidateCustom(code, secret, a.now().UTC(), totp.ValidateOpts{
		Period:    a.period,
		Skew:      a.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// QRCodePNG renders the provisioning URI of key as a PNG.
func (a *Authenticator) QRCodePNG(key *otp.Key) ([]byte, error) {
	if key == nil {
		return nil, errors.New("totp: key is required")
	}
	return qrcode.Encode(key.String(), qrcode.Medium, a.qrCodeSize)
}

// QRCodeDataURL renders the provisioning URI of key as a PNG data URL.
func (a *Authenticator) QRCodeDataURL(key *otp.Key) (string, error) {
	png, err := a.QRCodePNG(key)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// GenerateBackupCodes returns a fresh set of single-use backup codes.
func (a *Authenticator) GenerateBackupCodes() ([]string, error) {
	codes := make([]string, a.backupCodes)
	seen := make(map[string]struct{}, a.backupCodes)
	for i := 0; i < len(codes); {
		code, err := generateBackupCode()
		if err != nil {
			return nil, fmt.Errorf("totp: generate backup code: %w", err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes[i] = code
		i++
	}
	return codes, nil
}

func generateBackupCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := cryptoRand.Read(buf); err != nil {
		return "", err
	}

	return base32.StdEncoding.EncodeToString(buf)[:8], nil
}
