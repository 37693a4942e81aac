package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	hexKeyPrefix    = "hex:"
	base64KeyPrefix = "base64:"
)

// DecodeKey turns a configured secret into key material. Values prefixed with
// "hex:" or "base64:" are decoded; anything else is a passphrase used verbatim.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	switch {
	case hasPrefixFold(v, hexKeyPrefix):
		decoded, err := hex.DecodeString(strings.TrimSpace(v[len(hexKeyPrefix):]))
		if err != nil {
			return nil, fmt.Errorf("decode hex key: %w", err)
		}
		return nonEmpty(decoded)
	case hasPrefixFold(v, base64KeyPrefix):
		encoded := strings.TrimSpace(v[len(base64KeyPrefix):])
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			if decoded, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
				return nil, fmt.Errorf("decode base64 key: %w", err)
			}
		}
		return nonEmpty(decoded)
	default:
		return []byte(v), nil
	}
}

// KeyByteLength reports how many bytes of key material value yields. Empty is zero.
func KeyByteLength(value string) (int, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	key, err := DecodeKey(value)
	if err != nil {
		return 0, err
	}
	return len(key), nil
}

func hasPrefixFold(value, prefix string) bool {
	return len(value) >= len(prefix) && strings.EqualFold(value[:len(prefix)], prefix)
}

func nonEmpty(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("decoded key is empty")
	}
	return key, nil
}
