package mfa

import (
	"errors"
	"strings"

	"github.com/charlesng35/careteam/pkg/crypto"
)

// CodeHasher derives the stored form of backup codes. Hashes are keyed so a
// leaked table cannot be brute-forced offline without the server secret.
type CodeHasher struct {
	key []byte
}

// NewCodeHasher constructs a hasher from the backup-code subkey.
func NewCodeHasher(key []byte) (*CodeHasher, error) {
	if len(key) == 0 {
		return nil, errors.New("backup codes: hash key is required")
	}
	return &CodeHasher{key: append([]byte(nil), key...)}, nil
}

// Hash returns the hex HMAC-SHA256 of the normalised code.
func (h *CodeHasher) Hash(code string) string {
	return crypto.HMACHex(h.key, NormaliseBackupCode(code))
}

// NormaliseBackupCode upper-cases code and strips spaces and dashes so users
// may type codes in any grouping.
func NormaliseBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer(" ", "", "-", "").Replace(code)
}
