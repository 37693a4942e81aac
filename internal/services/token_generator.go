package services

import (
	"fmt"

	"github.com/charlesng35/careteam/pkg/crypto"
)

const defaultInvitationTokenBytes = 32

// TokenGenerator produces opaque, unguessable invitation tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomTokenGenerator draws Bytes bytes from crypto/rand and encodes them base64url.
type RandomTokenGenerator struct {
	Bytes int
}

func (g RandomTokenGenerator) Generate() (string, error) {
	size := g.Bytes
	if size <= 0 {
		size = defaultInvitationTokenBytes
	}
	token, err := crypto.GenerateToken(size)
	if err != nil {
		return "", fmt.Errorf("token generator: %w", err)
	}
	return token, nil
}
