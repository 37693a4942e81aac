package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize = 32
	tagSize = sha256.Size

	encryptionInfo = "careteam/mfa-secret/aes-256-cbc"
	macInfo        = "careteam/mfa-secret/hmac-sha256"
	backupCodeInfo = "careteam/backup-code/hmac-sha256"
)

var (
	// ErrMalformedCiphertext indicates the sealed payload could not be decoded or is truncated.
	ErrMalformedCiphertext = errors.New("crypto: malformed ciphertext")
	// ErrIntegrity indicates the authentication tag did not match.
	ErrIntegrity = errors.New("crypto: integrity check failed")
)

// Keys holds the subkeys derived from the configured encryption secret.
type Keys struct {
	Encryption []byte
	MAC        []byte
	BackupCode []byte
}

// DeriveKeys expands the configured secret into independent 32-byte subkeys
// using HKDF-SHA256.
func DeriveKeys(secret string) (Keys, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Keys{}, errors.New("crypto: secret is required")
	}

	derive := func(info string) ([]byte, error) {
		out := make([]byte, keySize)
		reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
		if _, err := io.ReadFull(reader, out); err != nil {
			return nil, fmt.Errorf("crypto: derive %s: %w", info, err)
		}
		return out, nil
	}

	enc, err := derive(encryptionInfo)
	if err != nil {
		return Keys{}, err
	}
	mac, err := derive(macInfo)
	if err != nil {
		return Keys{}, err
	}
	backup, err := derive(backupCodeInfo)
	if err != nil {
		return Keys{}, err
	}

	return Keys{Encryption: enc, MAC: mac, BackupCode: backup}, nil
}

// Cipher seals secrets with AES-256-CBC and an HMAC-SHA256 tag over IV and ciphertext.
type Cipher struct {
	block  cipher.Block
	macKey []byte
	rand   io.Reader
}

// NewCipher constructs a cipher from derived keys.
func NewCipher(keys Keys) (*Cipher, error) {
	if len(keys.Encryption) != keySize {
		return nil, fmt.Errorf("crypto: encryption key must be %d bytes", keySize)
	}
	if len(keys.MAC) == 0 {
		return nil, errors.New("crypto: mac key is required")
	}

	block, err := aes.NewCipher(keys.Encryption)
	if err != nil {
		return nil, err
	}

	return &Cipher{block: block, macKey: keys.MAC, rand: rand.Reader}, nil
}

// Seal encrypts plaintext with a fresh random IV and returns base64(iv|ciphertext|tag).
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("crypto: read iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded), aes.BlockSize+len(padded)+tagSize)
	copy(out, iv)
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	out = append(out, c.tag(out)...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open verifies the tag in constant time and decrypts a payload produced by Seal.
func (c *Cipher) Open(sealed string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrMalformedCiphertext
	}
	if len(data) < aes.BlockSize*2+tagSize {
		return nil, ErrMalformedCiphertext
	}

	body, tag := data[:len(data)-tagSize], data[len(data)-tagSize:]
	if !hmac.Equal(tag, c.tag(body)) {
		return nil, ErrIntegrity
	}

	iv, ciphertext := body[:aes.BlockSize], body[aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrMalformedCiphertext
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func (c *Cipher) tag(body []byte) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(body)
	return mac.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrMalformedCiphertext
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, ErrMalformedCiphertext
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, ErrMalformedCiphertext
		}
	}
	return data[:len(data)-padding], nil
}

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("crypto: token length must be positive")
	}
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// HashToken returns the hex SHA-256 digest used to look tokens up without storing them.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HMACHex returns the hex HMAC-SHA256 of value under key.
func HMACHex(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
